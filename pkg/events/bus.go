// Package events is the in-process publish/subscribe channel for server
// lifecycle and tool execution notices.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jg-phare/mcphub/pkg/types"
)

// EventType names a kind of event.
type EventType string

const (
	ServerConnected    EventType = "server_connected"
	ServerDisconnected EventType = "server_disconnected"
	ServerError        EventType = "server_error"
	ToolExecuted       EventType = "tool_executed"
	ToolFailed         EventType = "tool_failed"
	ServerNotification EventType = "server_notification"
	ToolsChanged       EventType = "tools_changed"
)

// Event is one notice published on the bus. Data holds one of the payload
// types below, depending on Type.
type Event struct {
	Type      EventType `json:"type"`
	ServerID  string    `json:"serverId"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// ToolExecution is the payload of ToolExecuted and ToolFailed.
type ToolExecution struct {
	Call   types.ToolCall   `json:"call"`
	Result types.ToolResult `json:"result"`
}

// Notification is the payload of ServerNotification.
type Notification struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ToolsChangedData is the payload of ToolsChanged.
type ToolsChangedData struct {
	Count int      `json:"count"`
	Names []string `json:"names,omitempty"`
}

// DefaultBufferSize is the per-subscriber channel size.
const DefaultBufferSize = 64

// Bus fans events out to subscribers. It keeps no history: a subscriber only
// sees events published after it subscribed, and a subscriber that falls
// behind by more than its buffer loses events.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	bufSize int
	closed  bool
}

// NewBus creates a bus. bufSize <= 0 selects DefaultBufferSize.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Bus{
		subs:    make(map[*Subscription]struct{}),
		bufSize: bufSize,
	}
}

// Publish delivers e to every matching subscriber without blocking.
// A zero Timestamp is set to now. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if sub.wants(e.Type) {
			sub.send(e)
		}
	}
}

// Subscribe registers a subscriber for the given event types. With no types
// it receives everything.
func (b *Bus) Subscribe(kinds ...EventType) *Subscription {
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, b.bufSize),
	}
	if len(kinds) > 0 {
		sub.filter = make(map[EventType]bool, len(kinds))
		for _, k := range kinds {
			sub.filter[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// SubscribeAll registers a subscriber for every event type.
func (b *Bus) SubscribeAll() *Subscription { return b.Subscribe() }

// Subscribers returns the number of attached subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches and closes every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for sub := range b.subs {
		sub.close()
		delete(b.subs, sub)
	}
	return nil
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Subscription is one registered listener.
type Subscription struct {
	bus    *Bus
	filter map[EventType]bool // nil means all types
	ch     chan Event

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// Events returns the delivery channel. It is closed when the subscription or
// the bus is closed.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped returns how many events were lost because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() error {
	s.bus.remove(s)
	s.close()
	return nil
}

func (s *Subscription) wants(t EventType) bool {
	return s.filter == nil || s.filter[t]
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *Subscription) send(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
	default:
		s.dropped++
	}
}
