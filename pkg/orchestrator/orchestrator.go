// Package orchestrator manages a registry of tool servers, their
// connections, and every tool execution routed through them.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jg-phare/mcphub/pkg/builtin"
	"github.com/jg-phare/mcphub/pkg/events"
	"github.com/jg-phare/mcphub/pkg/history"
	"github.com/jg-phare/mcphub/pkg/mcp"
	"github.com/jg-phare/mcphub/pkg/types"
)

const instrumentationName = "github.com/jg-phare/mcphub/pkg/orchestrator"

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDialer sets how server transports are created. Defaults to launching
// child processes.
func WithDialer(d mcp.Dialer) Option {
	return func(o *Orchestrator) { o.dial = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRequestTimeout sets the default per-request timeout. A server's own
// Timeout takes precedence.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// WithGracePeriod sets how long a stopping server may take before it is killed.
func WithGracePeriod(d time.Duration) Option {
	return func(o *Orchestrator) { o.grace = d }
}

// WithHistoryStore mirrors execution history to s. The orchestrator closes it on Shutdown.
func WithHistoryStore(s history.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithMeterProvider records tool call metrics on mp. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Orchestrator) { o.meterProvider = mp }
}

// WithTracerProvider records one span per tool execution on tp. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracerProvider = tp }
}

// WithBuiltins sets the in-process tool registry. Defaults to builtin.Default().
func WithBuiltins(r *builtin.Registry) Option {
	return func(o *Orchestrator) { o.builtins = r }
}

// WithBus publishes events on b instead of a private bus.
func WithBus(b *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

// WithServers registers cfgs during Init.
func WithServers(cfgs ...types.ServerConfig) Option {
	return func(o *Orchestrator) { o.initial = append(o.initial, cfgs...) }
}

// WithAutoConnect makes Init connect every enabled server.
func WithAutoConnect(on bool) Option {
	return func(o *Orchestrator) { o.autoConnect = on }
}

// SetServersResult reports what SetServers changed.
type SetServersResult struct {
	Added   []string          `json:"added,omitempty"`
	Removed []string          `json:"removed,omitempty"`
	Updated []string          `json:"updated,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Orchestrator owns the server registry. There is no lock spanning servers:
// connecting one server never waits on another.
type Orchestrator struct {
	mu      sync.RWMutex
	servers map[string]*connection
	closed  bool

	dial           mcp.Dialer
	timeout        time.Duration
	grace          time.Duration
	logger         *slog.Logger
	bus            *events.Bus
	store          history.Store
	recorder       *history.Recorder
	builtins       *builtin.Registry
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	initial        []types.ServerConfig
	autoConnect    bool
}

// New creates an orchestrator. Call Init to register configured servers.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		servers: make(map[string]*connection),
		timeout: mcp.DefaultRequestTimeout,
		grace:   mcp.DefaultGracePeriod,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus == nil {
		o.bus = events.NewBus(0)
	}
	if o.builtins == nil {
		o.builtins = builtin.Default()
	}
	if o.dial == nil {
		o.dial = mcp.DialProcess(mcp.WithGracePeriod(o.grace), mcp.WithProcessLogger(o.logger))
	}
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	o.tracer = o.tracerProvider.Tracer(instrumentationName)

	rec, err := history.NewRecorder(
		history.WithStore(o.store),
		history.WithMeter(o.meterProvider.Meter(instrumentationName)),
		history.WithLogger(o.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create recorder: %w", err)
	}
	o.recorder = rec
	return o, nil
}

// Init restores persisted history, registers the configured servers and,
// with auto-connect, connects them. Connection failures are logged and
// published, not returned.
func (o *Orchestrator) Init(ctx context.Context) error {
	if n, err := o.recorder.Restore(ctx); err != nil {
		o.logger.Warn("could not restore execution history", "error", err)
	} else if n > 0 {
		o.logger.Info("restored execution history", "entries", n)
	}

	var errs []error
	for _, cfg := range o.initial {
		if err := o.RegisterServer(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if o.autoConnect {
		for id, err := range o.ConnectAllServers(ctx) {
			o.logger.Warn("server failed to connect", "server", id, "error", err)
		}
	}
	return nil
}

// Shutdown disconnects every server, then closes the history store and the
// event bus. It returns early with ctx's error if ctx ends first.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	conns := make(map[string]*connection, len(o.servers))
	for id, c := range o.servers {
		conns[id] = c
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for id, c := range conns {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.opMu.Lock()
				defer c.opMu.Unlock()
				if err := o.disconnect(c, id); err != nil {
					o.logger.Warn("error stopping server", "server", id, "error", err)
				}
			}()
		}
		wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if cerr := o.recorder.Close(); cerr != nil && err == nil {
		err = cerr
	}
	o.bus.Close()
	return err
}

// RegisterServer adds a server in the disconnected state with zero stats.
// Registering an existing id keeps its connection and stats; a changed
// config takes effect on the next connect.
func (o *Orchestrator) RegisterServer(cfg types.ServerConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidConfig)
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrShutdown
	}
	if existing, ok := o.servers[cfg.ID]; ok {
		o.mu.Unlock()
		if !existing.cfg().Equal(cfg) {
			existing.setConfig(cfg)
			o.logger.Debug("server config replaced", "server", cfg.ID)
		}
		return nil
	}
	o.servers[cfg.ID] = newConnection(cfg)
	o.mu.Unlock()

	o.recorder.Track(cfg.ID)
	o.logger.Debug("server registered", "server", cfg.ID)
	return nil
}

// UnregisterServer disconnects a server and removes it with its stats.
func (o *Orchestrator) UnregisterServer(id string) error {
	o.mu.Lock()
	c, ok := o.servers[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	delete(o.servers, id)
	o.mu.Unlock()

	c.opMu.Lock()
	defer c.opMu.Unlock()
	err := o.disconnect(c, id)
	o.recorder.Untrack(id)
	return err
}

func (o *Orchestrator) lookup(id string) (*connection, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.servers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return c, nil
}

func (o *Orchestrator) isClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}

// ConnectToServer starts the server with a fresh protocol client, replacing
// any previous one, and fetches its tool list.
func (o *Orchestrator) ConnectToServer(ctx context.Context, id string) error {
	c, err := o.lookup(id)
	if err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if o.isClosed() {
		return ErrShutdown
	}

	if old := c.detach(); old != nil {
		_ = old.Disconnect()
	}

	cfg := c.cfg()
	client := o.newClient(c, cfg)
	c.attach(client)

	if err := client.Connect(ctx); err != nil {
		o.logger.Warn("server connect failed", "server", id, "error", err)
		o.bus.Publish(events.Event{Type: events.ServerError, ServerID: id, Error: err.Error()})
		return err
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		c.detach()
		_ = client.Disconnect()
		err = fmt.Errorf("server %s: list tools: %w", id, err)
		c.setState(types.StateError, err)
		o.logger.Warn("server tool listing failed", "server", id, "error", err)
		o.bus.Publish(events.Event{Type: events.ServerError, ServerID: id, Error: err.Error()})
		return err
	}
	c.markReady()

	o.logger.Info("server connected", "server", id, "tools", len(tools))
	o.bus.Publish(events.Event{Type: events.ServerConnected, ServerID: id, Data: toolsData(tools)})
	return nil
}

func (o *Orchestrator) newClient(c *connection, cfg types.ServerConfig) *mcp.Client {
	var client *mcp.Client
	opts := []mcp.Option{
		mcp.WithDialer(o.dial),
		mcp.WithLogger(o.logger),
		mcp.OnStateChange(func(sc mcp.StateChange) { o.onStateChange(c, client, sc) }),
		mcp.OnNotification(func(method string, params json.RawMessage) {
			if c.current(client) {
				o.bus.Publish(events.Event{
					Type:     events.ServerNotification,
					ServerID: cfg.ID,
					Data:     events.Notification{Method: method, Params: params},
				})
			}
		}),
		mcp.OnToolsChanged(func(tools []types.Tool) {
			// The initial listing is announced by server_connected.
			if c.current(client) && c.isReady() {
				o.bus.Publish(events.Event{Type: events.ToolsChanged, ServerID: cfg.ID, Data: toolsData(tools)})
			}
		}),
	}
	if cfg.Timeout == 0 {
		opts = append(opts, mcp.WithRequestTimeout(o.timeout))
	}
	client = mcp.NewClient(cfg, opts...)
	return client
}

// onStateChange mirrors the client's state into the registry. Losing a
// connected server is published here; the other transitions are published by
// the operation that caused them.
func (o *Orchestrator) onStateChange(c *connection, client *mcp.Client, sc mcp.StateChange) {
	if !c.apply(client, sc.To, sc.Err) {
		return
	}
	if sc.From == types.StateConnected && sc.To == types.StateDisconnected {
		e := events.Event{Type: events.ServerDisconnected, ServerID: sc.ServerID}
		if sc.Err != nil {
			e.Error = sc.Err.Error()
			o.logger.Warn("server connection lost", "server", sc.ServerID, "error", sc.Err)
		}
		o.bus.Publish(e)
	}
}

// ConnectAllServers connects every enabled server concurrently. Failures do
// not stop the batch; they are returned per server id.
func (o *Orchestrator) ConnectAllServers(ctx context.Context) map[string]error {
	o.mu.RLock()
	ids := make([]string, 0, len(o.servers))
	for id, c := range o.servers {
		if !c.cfg().Disabled {
			ids = append(ids, id)
		}
	}
	o.mu.RUnlock()
	return o.connectMany(ctx, ids)
}

func (o *Orchestrator) connectMany(ctx context.Context, ids []string) map[string]error {
	var mu sync.Mutex
	errs := make(map[string]error)
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.ConnectToServer(ctx, id); err != nil {
				mu.Lock()
				errs[id] = err
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

// DisconnectFromServer stops the server and rejects its in-flight calls.
func (o *Orchestrator) DisconnectFromServer(id string) error {
	c, err := o.lookup(id)
	if err != nil {
		return err
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return o.disconnect(c, id)
}

// disconnect must be called with c.opMu held.
func (o *Orchestrator) disconnect(c *connection, id string) error {
	client := c.detach()
	if client == nil {
		c.setState(types.StateDisconnected, nil)
		return nil
	}
	wasConnected := client.State() == types.StateConnected
	err := client.Disconnect()
	c.setState(types.StateDisconnected, nil)
	if wasConnected {
		o.logger.Info("server disconnected", "server", id)
		o.bus.Publish(events.Event{Type: events.ServerDisconnected, ServerID: id})
	}
	return err
}

// ReconnectServer disconnects and connects again.
func (o *Orchestrator) ReconnectServer(ctx context.Context, id string) error {
	if err := o.DisconnectFromServer(id); err != nil {
		return err
	}
	return o.ConnectToServer(ctx, id)
}

// SetServers reconciles the registry with cfgs: unknown servers are added and
// connected, missing ones removed, and changed ones restarted with their new
// config.
func (o *Orchestrator) SetServers(ctx context.Context, cfgs []types.ServerConfig) *SetServersResult {
	result := &SetServersResult{Errors: make(map[string]string)}

	desired := make(map[string]types.ServerConfig, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.ID == "" {
			result.Errors[""] = fmt.Sprintf("%v: empty id", ErrInvalidConfig)
			continue
		}
		if _, dup := desired[cfg.ID]; dup {
			result.Errors[cfg.ID] = fmt.Sprintf("%v: duplicate id", ErrInvalidConfig)
			continue
		}
		desired[cfg.ID] = cfg
	}

	o.mu.RLock()
	existing := make(map[string]*connection, len(o.servers))
	for id, c := range o.servers {
		existing[id] = c
	}
	o.mu.RUnlock()

	for id := range existing {
		if _, ok := desired[id]; ok {
			continue
		}
		if err := o.UnregisterServer(id); err != nil {
			result.Errors[id] = err.Error()
		} else {
			result.Removed = append(result.Removed, id)
		}
	}

	var toConnect []string
	for id, cfg := range desired {
		c, ok := existing[id]
		switch {
		case !ok:
			if err := o.RegisterServer(cfg); err != nil {
				result.Errors[id] = err.Error()
				continue
			}
			result.Added = append(result.Added, id)
		case !c.cfg().Equal(cfg):
			c.opMu.Lock()
			err := o.disconnect(c, id)
			c.setConfig(cfg)
			c.opMu.Unlock()
			if err != nil {
				o.logger.Debug("error stopping server for config change", "server", id, "error", err)
			}
			result.Updated = append(result.Updated, id)
		default:
			continue
		}
		if !cfg.Disabled {
			toConnect = append(toConnect, id)
		}
	}

	for id, err := range o.connectMany(ctx, toConnect) {
		result.Errors[id] = err.Error()
	}

	sort.Strings(result.Added)
	sort.Strings(result.Removed)
	sort.Strings(result.Updated)
	return result
}

// GetAllServers returns a snapshot of every registered server, sorted by id.
func (o *Orchestrator) GetAllServers() []types.ServerStatus {
	o.mu.RLock()
	conns := make([]*connection, 0, len(o.servers))
	for _, c := range o.servers {
		conns = append(conns, c)
	}
	o.mu.RUnlock()

	out := make([]types.ServerStatus, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.ID < out[j].Config.ID })
	return out
}

// GetServer returns one server's snapshot.
func (o *Orchestrator) GetServer(id string) (types.ServerStatus, error) {
	c, err := o.lookup(id)
	if err != nil {
		return types.ServerStatus{}, err
	}
	return c.status(), nil
}

// GetServerTools returns the cached tools of a server. A server that is not
// connected has none.
func (o *Orchestrator) GetServerTools(id string) ([]types.Tool, error) {
	c, err := o.lookup(id)
	if err != nil {
		return nil, err
	}
	return c.tools(), nil
}

// GetExecutionHistory returns matching history entries, most recent first.
func (o *Orchestrator) GetExecutionHistory(f types.HistoryFilter) []types.ExecutionHistoryEntry {
	return o.recorder.Query(f)
}

// ClearHistory deletes the execution history in memory and in the store.
// Stats are kept.
func (o *Orchestrator) ClearHistory(ctx context.Context) error {
	return o.recorder.Clear(ctx)
}

// GetServerStats returns one server's stats.
func (o *Orchestrator) GetServerStats(id string) (types.ServerStats, error) {
	s, ok := o.recorder.Stats(id)
	if !ok {
		return types.ServerStats{}, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	return s, nil
}

// GetAllStats returns stats for every registered server, sorted by id.
func (o *Orchestrator) GetAllStats() []types.ServerStats {
	return o.recorder.AllStats()
}

// Events returns the event bus.
func (o *Orchestrator) Events() *events.Bus { return o.bus }

// Builtins returns the in-process tool registry.
func (o *Orchestrator) Builtins() *builtin.Registry { return o.builtins }

func toolsData(tools []types.Tool) events.ToolsChangedData {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return events.ToolsChangedData{Count: len(tools), Names: names}
}
