package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jg-phare/mcphub/pkg/builtin"
	"github.com/jg-phare/mcphub/pkg/events"
	"github.com/jg-phare/mcphub/pkg/mcp"
	"github.com/jg-phare/mcphub/pkg/types"
)

// fleet serves fake MCP servers keyed by server id.
type fleet struct {
	mu      sync.Mutex
	servers map[string]*fakeServer
	dials   map[string]int
}

func newFleet() *fleet {
	return &fleet{servers: make(map[string]*fakeServer), dials: make(map[string]int)}
}

// add creates a fake server for id exposing tools.
func (f *fleet) add(id string, tools ...mcp.ToolInfo) *fakeServer {
	s := &fakeServer{
		id:    id,
		tools: tools,
		delay: make(map[string]time.Duration),
		call: func(name string, _ map[string]any) (any, *mcp.RPCError) {
			return mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: "called " + name}}}, nil
		},
	}
	f.mu.Lock()
	f.servers[id] = s
	f.mu.Unlock()
	return s
}

func (f *fleet) server(id string) *fakeServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers[id]
}

func (f *fleet) dialCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials[id]
}

func (f *fleet) dialer() mcp.Dialer {
	return func(ctx context.Context, cfg types.ServerConfig) (mcp.Transport, error) {
		f.mu.Lock()
		f.dials[cfg.ID]++
		s := f.servers[cfg.ID]
		f.mu.Unlock()
		if s == nil {
			return nil, fmt.Errorf("no fake server %q", cfg.ID)
		}
		return s.dial(ctx, cfg)
	}
}

// fakeServer scripts one MCP server.
type fakeServer struct {
	id string

	mu         sync.Mutex
	tools      []mcp.ToolInfo
	call       func(name string, args map[string]any) (any, *mcp.RPCError)
	delay      map[string]time.Duration // per tool name
	silent     bool                     // never answer tools/call
	listErr    *mcp.RPCError
	dialErr    error
	configs    []types.ServerConfig
	transports []*fakeTransport
}

func (s *fakeServer) dial(_ context.Context, cfg types.ServerConfig) (mcp.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, cfg)
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	ft := newFakeTransport(s)
	s.transports = append(s.transports, ft)
	return ft, nil
}

func (s *fakeServer) set(fn func(s *fakeServer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *fakeServer) current() *fakeTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transports) == 0 {
		return nil
	}
	return s.transports[len(s.transports)-1]
}

func (s *fakeServer) lastConfig() types.ServerConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.configs) == 0 {
		return types.ServerConfig{}
	}
	return s.configs[len(s.configs)-1]
}

func (s *fakeServer) respond(msg mcp.Message) (any, *mcp.RPCError, bool) {
	s.mu.Lock()
	switch msg.Method {
	case mcp.MethodInitialize:
		s.mu.Unlock()
		return mcp.InitializeResult{
			ProtocolVersion: mcp.ProtocolVersion,
			Capabilities:    mcp.ServerCapabilities{Tools: &mcp.ToolsCapability{ListChanged: true}},
			ServerInfo:      types.ServerInfo{Name: "fake-" + s.id, Version: "1.0"},
		}, nil, true
	case mcp.MethodToolsList:
		defer s.mu.Unlock()
		if s.listErr != nil {
			return nil, s.listErr, true
		}
		return mcp.ToolsListResult{Tools: s.tools}, nil, true
	case mcp.MethodToolsCall:
		var p mcp.ToolCallParams
		_ = json.Unmarshal(msg.Params, &p)
		call, delay, silent := s.call, s.delay[p.Name], s.silent
		s.mu.Unlock()
		if silent {
			return nil, nil, false
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		res, rpcErr := call(p.Name, p.Arguments)
		return res, rpcErr, true
	}
	s.mu.Unlock()
	return nil, &mcp.RPCError{Code: mcp.CodeMethodNotFound, Message: "Method not found: " + msg.Method}, true
}

// fakeTransport is one connection to a fakeServer.
type fakeTransport struct {
	server *fakeServer

	mu      sync.Mutex
	written []mcp.Message
	exitErr error
	closed  bool

	out       chan json.RawMessage
	frames    chan json.RawMessage
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeTransport(s *fakeServer) *fakeTransport {
	ft := &fakeTransport{
		server: s,
		out:    make(chan json.RawMessage, 64),
		frames: make(chan json.RawMessage),
		done:   make(chan struct{}),
	}
	go ft.pump()
	return ft
}

func (ft *fakeTransport) pump() {
	defer close(ft.frames)
	for {
		select {
		case f := <-ft.out:
			select {
			case ft.frames <- f:
			case <-ft.done:
				return
			}
		case <-ft.done:
			return
		}
	}
}

func (ft *fakeTransport) Write(frame []byte) error {
	ft.mu.Lock()
	if ft.closed {
		ft.mu.Unlock()
		return errors.New("transport closed")
	}
	var msg mcp.Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		ft.mu.Unlock()
		return err
	}
	ft.written = append(ft.written, msg)
	ft.mu.Unlock()

	if !msg.IsRequest() {
		return nil
	}
	go func() {
		result, rpcErr, ok := ft.server.respond(msg)
		if !ok {
			return
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": msg.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		data, _ := json.Marshal(resp)
		ft.push(data)
	}()
	return nil
}

func (ft *fakeTransport) push(frame []byte) {
	select {
	case ft.out <- json.RawMessage(frame):
	case <-ft.done:
	}
}

func (ft *fakeTransport) notify(method string) {
	data, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method})
	ft.push(data)
}

func (ft *fakeTransport) Frames() <-chan json.RawMessage { return ft.frames }

func (ft *fakeTransport) Err() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.exitErr
}

func (ft *fakeTransport) Close() error {
	ft.mu.Lock()
	ft.closed = true
	ft.mu.Unlock()
	ft.closeOnce.Do(func() { close(ft.done) })
	return nil
}

// exit simulates the server process dying.
func (ft *fakeTransport) exit(err error) {
	ft.mu.Lock()
	ft.exitErr = err
	ft.mu.Unlock()
	ft.Close()
}

func (ft *fakeTransport) isClosed() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.closed
}

func (ft *fakeTransport) count(method string) int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, m := range ft.written {
		if m.Method == method {
			n++
		}
	}
	return n
}

// newTestOrchestrator builds an orchestrator on f with no builtins.
func newTestOrchestrator(t *testing.T, f *fleet, opts ...Option) *Orchestrator {
	t.Helper()
	base := []Option{
		WithDialer(f.dialer()),
		WithBuiltins(builtin.NewRegistry()),
		WithRequestTimeout(2 * time.Second),
	}
	o, err := New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.Shutdown(ctx)
	})
	return o
}

// connectServer registers and connects one server.
func connectServer(t *testing.T, o *Orchestrator, cfg types.ServerConfig) {
	t.Helper()
	if err := o.RegisterServer(cfg); err != nil {
		t.Fatalf("register %s: %v", cfg.ID, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.ConnectToServer(ctx, cfg.ID); err != nil {
		t.Fatalf("connect %s: %v", cfg.ID, err)
	}
}

func objectSchema(props string, required ...string) json.RawMessage {
	req, _ := json.Marshal(required)
	return json.RawMessage(fmt.Sprintf(`{"type":"object","properties":%s,"required":%s}`, props, req))
}

// nextEvent waits for the next event on sub.
func nextEvent(t *testing.T, sub *events.Subscription) events.Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
