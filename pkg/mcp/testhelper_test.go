package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jg-phare/mcphub/pkg/types"
)

// fakeServer scripts an MCP server behind in-memory transports.
type fakeServer struct {
	mu         sync.Mutex
	tools      []ToolInfo
	pages      [][]ToolInfo // if set, tools/list is paginated
	initErr    *RPCError
	listErr    *RPCError
	call       func(name string, args map[string]any) (any, *RPCError)
	delay      map[string]time.Duration
	silent     map[string]bool
	transports []*fakeTransport
	dialErr    error
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		delay:  make(map[string]time.Duration),
		silent: make(map[string]bool),
		call: func(name string, _ map[string]any) (any, *RPCError) {
			return CallToolResult{Content: []ContentBlock{{Type: "text", Text: "called " + name}}}, nil
		},
	}
}

func (s *fakeServer) withTools(tools ...ToolInfo) *fakeServer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = tools
	return s
}

func (s *fakeServer) setSilent(method string, silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[method] = silent
}

func (s *fakeServer) setListErr(e *RPCError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = e
}

func (s *fakeServer) dialer() Dialer {
	return func(_ context.Context, _ types.ServerConfig) (Transport, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.dialErr != nil {
			return nil, s.dialErr
		}
		ft := newFakeTransport(s)
		s.transports = append(s.transports, ft)
		return ft, nil
	}
}

// current returns the most recently dialed transport.
func (s *fakeServer) current() *fakeTransport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transports) == 0 {
		return nil
	}
	return s.transports[len(s.transports)-1]
}

// respond computes the reply for one request.
func (s *fakeServer) respond(msg Message) (any, *RPCError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Method {
	case MethodInitialize:
		if s.initErr != nil {
			return nil, s.initErr
		}
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities:    ServerCapabilities{Tools: &ToolsCapability{ListChanged: true}},
			ServerInfo:      types.ServerInfo{Name: "fake", Version: "1.0"},
		}, nil
	case MethodToolsList:
		if s.listErr != nil {
			return nil, s.listErr
		}
		if len(s.pages) > 0 {
			var p ToolsListParams
			_ = json.Unmarshal(msg.Params, &p)
			page := 0
			if p.Cursor != "" {
				fmt.Sscanf(p.Cursor, "page-%d", &page)
			}
			res := ToolsListResult{Tools: s.pages[page]}
			if page+1 < len(s.pages) {
				res.NextCursor = fmt.Sprintf("page-%d", page+1)
			}
			return res, nil
		}
		return ToolsListResult{Tools: s.tools}, nil
	case MethodToolsCall:
		var p ToolCallParams
		_ = json.Unmarshal(msg.Params, &p)
		call := s.call
		s.mu.Unlock()
		res, rpcErr := call(p.Name, p.Arguments)
		s.mu.Lock()
		return res, rpcErr
	}
	return nil, &RPCError{Code: CodeMethodNotFound, Message: "Method not found: " + msg.Method}
}

// fakeTransport is one connection to a fakeServer.
type fakeTransport struct {
	server *fakeServer

	mu      sync.Mutex
	written []Message
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

// pump is the only goroutine that closes frames.
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
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		ft.mu.Unlock()
		return err
	}
	ft.written = append(ft.written, msg)
	ft.mu.Unlock()

	if !msg.IsRequest() {
		return nil
	}

	ft.server.mu.Lock()
	delay := ft.server.delay[msg.Method]
	silent := ft.server.silent[msg.Method]
	ft.server.mu.Unlock()
	if silent {
		return nil
	}

	go func() {
		if delay > 0 {
			time.Sleep(delay)
		}
		result, rpcErr := ft.server.respond(msg)
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

// push delivers a raw frame to the client, as if the server had printed it.
func (ft *fakeTransport) push(frame []byte) {
	select {
	case ft.out <- json.RawMessage(frame):
	case <-ft.done:
	}
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

// methods returns the methods written so far, in order.
func (ft *fakeTransport) methods() []string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([]string, len(ft.written))
	for i, m := range ft.written {
		out[i] = m.Method
	}
	return out
}

func (ft *fakeTransport) count(method string) int {
	n := 0
	for _, m := range ft.methods() {
		if m == method {
			n++
		}
	}
	return n
}

func (ft *fakeTransport) requestIDs() []int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var ids []int
	for _, m := range ft.written {
		if id, ok := m.IntID(); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// connectFake returns a connected client backed by srv.
func connectFake(t *testing.T, srv *fakeServer, opts ...Option) *Client {
	t.Helper()
	cfg := types.ServerConfig{ID: "srv1"}
	opts = append([]Option{WithDialer(srv.dialer())}, opts...)
	c := NewClient(cfg, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })
	return c
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
