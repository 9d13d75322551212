package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jg-phare/mcphub/pkg/types"
)

const (
	// DefaultRequestTimeout bounds every request unless overridden.
	DefaultRequestTimeout = 30 * time.Second

	// maxToolPages stops a server that keeps returning cursors.
	maxToolPages = 100
)

// StateChange describes one transition of a Client's connection state.
type StateChange struct {
	ServerID string
	From     types.ConnectionState
	To       types.ConnectionState
	Err      error
	At       time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithDialer sets how the client reaches its server. Defaults to DialProcess().
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClientInfo sets the implementation info sent during initialize.
func WithClientInfo(name, version string) Option {
	return func(c *Client) { c.clientInfo = ClientInfo{Name: name, Version: version} }
}

// OnStateChange registers a hook called after every state transition.
// Hooks run on the goroutine that caused the transition and must not block.
func OnStateChange(fn func(StateChange)) Option {
	return func(c *Client) { c.onState = fn }
}

// OnNotification registers a hook for server notifications.
func OnNotification(fn func(method string, params json.RawMessage)) Option {
	return func(c *Client) { c.onNotify = fn }
}

// OnToolsChanged registers a hook called whenever the cached tool list is replaced.
func OnToolsChanged(fn func([]types.Tool)) Option {
	return func(c *Client) { c.onTools = fn }
}

// Client speaks the MCP protocol with one server. It owns the request-id
// counter, the table of in-flight requests and the cached tool list.
type Client struct {
	config     types.ServerConfig
	dial       Dialer
	timeout    time.Duration
	logger     *slog.Logger
	clientInfo ClientInfo

	onState  func(StateChange)
	onNotify func(string, json.RawMessage)
	onTools  func([]types.Tool)

	mu          sync.Mutex
	state       types.ConnectionState
	lastErr     string
	connectedAt time.Time
	info        *types.ServerInfo
	caps        *ServerCapabilities
	tools       []types.Tool
	transport   Transport
	readerDone  chan struct{}
	pending     map[int]*pendingRequest
	nextID      int
}

// pendingRequest is one in-flight request. done is buffered so whoever removes
// the entry from the table can complete it without blocking.
type pendingRequest struct {
	id     int
	method string
	timer  *time.Timer
	done   chan rpcOutcome
}

type rpcOutcome struct {
	result json.RawMessage
	err    error
}

// NewClient creates a disconnected client for cfg.
func NewClient(cfg types.ServerConfig, opts ...Option) *Client {
	c := &Client{
		config:     cfg,
		dial:       DialProcess(),
		timeout:    DefaultRequestTimeout,
		logger:     slog.Default(),
		clientInfo: ClientInfo{Name: "mcphub", Version: "0.1.0"},
		state:      types.StateDisconnected,
		pending:    make(map[int]*pendingRequest),
	}
	if cfg.Timeout > 0 {
		c.timeout = cfg.Timeout.Std()
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("server", cfg.ID)
	return c
}

// ServerID returns the id of the server this client talks to.
func (c *Client) ServerID() string { return c.config.ID }

// Connect starts the server and performs the initialize handshake. On failure
// the client is left in the error state and can be connected again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == types.StateConnecting || c.state == types.StateConnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("server %s: already %s", c.config.ID, state)
	}
	c.mu.Unlock()
	c.transition(types.StateConnecting, nil)

	t, err := c.dial(ctx, c.config)
	if err != nil {
		cerr := &ConnectionError{ServerID: c.config.ID, Err: err}
		c.transition(types.StateError, cerr)
		return cerr
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.transport = t
	c.readerDone = done
	c.mu.Unlock()
	go c.readLoop(t, done)

	if err := c.handshake(ctx); err != nil {
		herr := &HandshakeError{ServerID: c.config.ID, Err: err}
		c.teardown(herr)
		c.transition(types.StateError, herr)
		return herr
	}

	// The server may have exited after answering initialize. handleExit only
	// moves a connected client to disconnected, so the check and the state
	// change share one critical section.
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		cerr := &ConnectionError{ServerID: c.config.ID, Err: errors.New("server process exited during initialization")}
		c.transition(types.StateError, cerr)
		return cerr
	}
	c.connectedAt = time.Now()
	notify := c.setStateLocked(types.StateConnected, nil)
	c.mu.Unlock()
	notify()
	return nil
}

func (c *Client) handshake(ctx context.Context) error {
	raw, err := c.request(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      c.clientInfo,
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var res InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("%w: parse initialize result: %v", ErrProtocol, err)
	}
	if res.ProtocolVersion == "" {
		return fmt.Errorf("%w: initialize result has no protocolVersion", ErrProtocol)
	}

	c.mu.Lock()
	c.info = &res.ServerInfo
	c.caps = &res.Capabilities
	c.mu.Unlock()

	if err := c.notify(MethodInitialized, nil); err != nil {
		return fmt.Errorf("send initialized: %w", err)
	}
	c.logger.Info("server initialized", "name", res.ServerInfo.Name, "version", res.ServerInfo.Version,
		"protocol", res.ProtocolVersion)
	return nil
}

// Disconnect rejects every pending request, stops the server and moves to
// the disconnected state.
func (c *Client) Disconnect() error {
	err := c.teardown(fmt.Errorf("%w: server %s disconnected", ErrCancelled, c.config.ID))
	c.transition(types.StateDisconnected, nil)
	return err
}

// teardown detaches the transport, rejects pending requests with reason and
// waits for the reader to exit.
func (c *Client) teardown(reason error) error {
	c.mu.Lock()
	t := c.transport
	done := c.readerDone
	c.transport = nil
	c.readerDone = nil
	c.tools = nil
	pending := c.drainPendingLocked()
	c.mu.Unlock()

	for _, p := range pending {
		p.done <- rpcOutcome{err: reason}
	}
	if t == nil {
		return nil
	}
	err := t.Close()
	if done != nil {
		<-done
	}
	return err
}

func (c *Client) drainPendingLocked() []*pendingRequest {
	out := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
		out = append(out, p)
	}
	return out
}

// readLoop is the single consumer of t's frames.
func (c *Client) readLoop(t Transport, done chan struct{}) {
	defer close(done)
	for frame := range t.Frames() {
		c.handleFrame(t, frame)
	}
	c.handleExit(t)
}

// handleExit runs when the server's output ends. If the transport is still the
// current one the exit was unexpected.
func (c *Client) handleExit(t Transport) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	c.readerDone = nil
	c.tools = nil
	pending := c.drainPendingLocked()
	state := c.state
	c.mu.Unlock()

	exitErr := &ConnectionError{ServerID: c.config.ID, Err: fmt.Errorf("server process exited: %v", t.Err())}
	for _, p := range pending {
		p.done <- rpcOutcome{err: exitErr}
	}
	_ = t.Close()

	c.logger.Warn("server exited", "error", exitErr, "failed_requests", len(pending))
	// While connecting, Connect observes the failed handshake and reports it.
	if state == types.StateConnected {
		c.transition(types.StateDisconnected, exitErr)
	}
}

func (c *Client) handleFrame(t Transport, raw json.RawMessage) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.logger.Warn("dropping unparseable frame", "error", err)
		return
	}

	switch {
	case msg.IsResponse():
		id, ok := msg.IntID()
		if !ok {
			c.logger.Debug("dropping response with non-integer id", "id", string(msg.ID))
			return
		}
		p := c.takePending(id)
		if p == nil {
			c.logger.Debug("dropping orphan response", "id", id)
			return
		}
		if msg.Error != nil {
			p.done <- rpcOutcome{err: msg.Error}
			return
		}
		p.done <- rpcOutcome{result: msg.Result}

	case msg.IsNotification():
		c.handleNotification(msg.Method, msg.Params)

	case msg.IsRequest():
		c.answer(t, msg)

	default:
		c.logger.Warn("dropping frame with neither id nor method")
	}
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	if method == MethodToolsListChanged {
		go c.refreshTools()
	}
	if c.onNotify != nil {
		c.onNotify(method, params)
	}
}

func (c *Client) refreshTools() {
	if c.State() != types.StateConnected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if _, err := c.ListTools(ctx); err != nil {
		c.logger.Warn("tool list refresh failed", "error", err)
	}
}

// answer replies to server-initiated requests. Only ping is supported.
func (c *Client) answer(t Transport, msg Message) {
	resp := JSONRPCResponse{JSONRPC: "2.0", ID: msg.ID}
	if msg.Method == MethodPing {
		resp.Result = struct{}{}
	} else {
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: "Method not found: " + msg.Method}
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := t.Write(data); err != nil {
		c.logger.Debug("reply to server request failed", "method", msg.Method, "error", err)
	}
}

// request sends method and waits for its response, the request timeout, or ctx.
// Exactly one of those completes the pending entry.
func (c *Client) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	t := c.transport
	if t == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", method, ErrServerNotConnected)
	}
	c.nextID++
	id := c.nextID
	timeout := c.timeout
	p := &pendingRequest{id: id, method: method, done: make(chan rpcOutcome, 1)}
	p.timer = time.AfterFunc(timeout, func() { c.expire(id, timeout) })
	c.pending[id] = p
	c.mu.Unlock()

	data, err := json.Marshal(newRequest(id, method, params))
	if err != nil {
		c.takePending(id)
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}
	if err := t.Write(data); err != nil {
		if c.takePending(id) != nil {
			return nil, &ConnectionError{ServerID: c.config.ID, Err: fmt.Errorf("send %s: %w", method, err)}
		}
	}

	select {
	case out := <-p.done:
		return out.result, out.err
	case <-ctx.Done():
		if c.takePending(id) != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, method, ctx.Err())
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrCancelled, method, ctx.Err())
		}
		out := <-p.done
		return out.result, out.err
	}
}

func (c *Client) expire(id int, after time.Duration) {
	p := c.takePending(id)
	if p == nil {
		return
	}
	c.logger.Warn("request timed out", "id", id, "method", p.method, "after", after)
	p.done <- rpcOutcome{err: fmt.Errorf("%w: %s (id %d) after %s", ErrTimeout, p.method, id, after)}
}

// takePending removes and returns the entry for id, or nil if it was already
// completed. The caller that gets a non-nil entry must complete it.
func (c *Client) takePending(id int) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	p.timer.Stop()
	return p
}

func (c *Client) notify(method string, params any) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return fmt.Errorf("%s: %w", method, ErrServerNotConnected)
	}
	data, err := json.Marshal(newNotification(method, params))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	if err := t.Write(data); err != nil {
		return &ConnectionError{ServerID: c.config.ID, Err: fmt.Errorf("send %s: %w", method, err)}
	}
	return nil
}

// ListTools fetches the server's tools and replaces the cached list. On
// failure the cache is emptied.
func (c *Client) ListTools(ctx context.Context) ([]types.Tool, error) {
	var infos []ToolInfo
	var cursor string
	for page := 0; ; page++ {
		var params any
		if cursor != "" {
			params = ToolsListParams{Cursor: cursor}
		}
		raw, err := c.request(ctx, MethodToolsList, params)
		if err != nil {
			c.setTools(nil)
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		var res ToolsListResult
		if err := json.Unmarshal(raw, &res); err != nil {
			c.setTools(nil)
			return nil, fmt.Errorf("%w: parse tools/list result: %v", ErrProtocol, err)
		}
		infos = append(infos, res.Tools...)
		if res.NextCursor == "" || page+1 >= maxToolPages {
			break
		}
		cursor = res.NextCursor
	}

	tools := make([]types.Tool, 0, len(infos))
	for _, ti := range infos {
		if ti.Name == "" || !toolAllowed(c.config, ti.Name) {
			continue
		}
		schema, err := types.ParseSchema(ti.InputSchema)
		if err != nil {
			c.logger.Warn("tool has unusable input schema", "tool", ti.Name, "error", err)
			schema = &types.Schema{Kind: types.KindObject}
		}
		tools = append(tools, types.Tool{
			Name:        ti.Name,
			Description: ti.Description,
			InputSchema: schema,
			ServerID:    c.config.ID,
		})
	}
	c.setTools(tools)
	return c.Tools(), nil
}

func (c *Client) setTools(tools []types.Tool) {
	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	if c.onTools != nil {
		c.onTools(cloneTools(tools))
	}
}

// toolAllowed applies the server's AllowedTools and DisabledTools patterns.
func toolAllowed(cfg types.ServerConfig, name string) bool {
	if len(cfg.AllowedTools) > 0 && !matchAny(cfg.AllowedTools, name) {
		return false
	}
	return !matchAny(cfg.DisabledTools, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// CallTool invokes a tool. Errors reported by the server, either as a JSON-RPC
// error object or as isError content, come back as a failed result. A non-nil
// error means the call never completed (timeout, cancellation, lost connection).
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (types.ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := c.request(ctx, MethodToolsCall, ToolCallParams{Name: name, Arguments: args})
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return types.FailedResult(rpcErr.Message), nil
		}
		return types.ToolResult{}, err
	}

	var res CallToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return types.FailedResult(fmt.Sprintf("%v: parse tools/call result: %v", ErrProtocol, err)), nil
	}

	result := types.ToolResult{Success: !res.IsError, Content: toContentItems(res.Content)}
	if res.IsError {
		result.Error = result.Text()
		if result.Error == "" {
			result.Error = fmt.Sprintf("tool %s reported an error", name)
		}
	}
	return result, nil
}

// transition moves to state to and fires the state hook if it changed.
func (c *Client) transition(to types.ConnectionState, err error) {
	c.mu.Lock()
	notify := c.setStateLocked(to, err)
	c.mu.Unlock()
	notify()
}

// setStateLocked records the new state and returns the notification to run
// once c.mu is released.
func (c *Client) setStateLocked(to types.ConnectionState, err error) func() {
	from := c.state
	c.state = to
	if err != nil {
		c.lastErr = err.Error()
	} else if to == types.StateConnected {
		c.lastErr = ""
	}
	if from == to {
		return func() {}
	}
	hook := c.onState
	return func() {
		c.logger.Debug("state change", "from", from, "to", to)
		if hook != nil {
			hook(StateChange{ServerID: c.config.ID, From: from, To: to, Err: err, At: time.Now()})
		}
	}
}

// State returns the current connection state.
func (c *Client) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the message of the most recent connection-level failure.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// ConnectedAt returns when the last successful handshake completed.
func (c *Client) ConnectedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedAt
}

// ServerInfo returns the implementation info from the last handshake.
func (c *Client) ServerInfo() *types.ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return nil
	}
	info := *c.info
	return &info
}

// Tools returns a copy of the cached tool list.
func (c *Client) Tools() []types.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneTools(c.tools)
}

// Tool looks up a cached tool by name. A miss is a *ToolNotFoundError.
func (c *Client) Tool(name string) (types.Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tools {
		if t.Name == name {
			return t, nil
		}
	}
	return types.Tool{}, &ToolNotFoundError{ServerID: c.config.ID, Tool: name}
}

// PendingCount returns the number of in-flight requests.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func cloneTools(tools []types.Tool) []types.Tool {
	if tools == nil {
		return nil
	}
	return append([]types.Tool(nil), tools...)
}
