package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/jg-phare/mcphub/pkg/types"
)

// TestMain doubles as a minimal stdio MCP server when MCPHUB_TEST_SERVER=1,
// so process tests can launch this test binary as a child.
func TestMain(m *testing.M) {
	if os.Getenv("MCPHUB_TEST_SERVER") == "1" {
		runTestServer()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runTestServer() {
	stubborn := os.Getenv("MCPHUB_TEST_MODE") == "ignore-term"
	if stubborn {
		signal.Ignore(syscall.SIGTERM)
	}

	// Noise a real launcher might print before the server starts.
	fmt.Fprintln(os.Stdout, "test server booting")
	fmt.Fprintln(os.Stderr, "booting")

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var msg Message
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil || !msg.IsRequest() {
			continue
		}

		var result any
		switch msg.Method {
		case MethodInitialize:
			result = InitializeResult{
				ProtocolVersion: ProtocolVersion,
				ServerInfo:      types.ServerInfo{Name: "helper", Version: "0.0.1"},
			}
		case MethodToolsList:
			result = ToolsListResult{Tools: []ToolInfo{
				{Name: "echo", InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)},
				{Name: "env"},
				{Name: "crash"},
			}}
		case MethodToolsCall:
			var p ToolCallParams
			_ = json.Unmarshal(msg.Params, &p)
			switch p.Name {
			case "echo":
				result = CallToolResult{Content: []ContentBlock{{Type: "text", Text: fmt.Sprint(p.Arguments["text"])}}}
			case "env":
				result = CallToolResult{Content: []ContentBlock{{Type: "text", Text: os.Getenv("MCPHUB_TEST_GREETING")}}}
			case "crash":
				fmt.Fprintln(os.Stderr, "fatal: crashed on purpose")
				os.Exit(3)
			}
		}

		data, _ := json.Marshal(JSONRPCResponse{JSONRPC: "2.0", ID: msg.ID, Result: result})
		data = append(data, '\n')
		// Split every frame across two writes.
		half := len(data) / 2
		os.Stdout.Write(data[:half])
		time.Sleep(2 * time.Millisecond)
		os.Stdout.Write(data[half:])
	}

	if stubborn {
		time.Sleep(time.Hour)
	}
}

func helperConfig(t *testing.T, mode string) types.ServerConfig {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process signal tests require a unix platform")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	return types.ServerConfig{
		ID:      "helper",
		Command: exe,
		Env: map[string]string{
			"MCPHUB_TEST_SERVER":   "1",
			"MCPHUB_TEST_MODE":     mode,
			"MCPHUB_TEST_GREETING": "hello from env",
		},
	}
}

func TestProcessTransport_Frames(t *testing.T) {
	cfg := helperConfig(t, "")
	pt, err := NewProcessTransport(cfg, WithGracePeriod(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer pt.Close()

	if pt.Pid() <= 0 {
		t.Errorf("pid: %d", pt.Pid())
	}
	req, _ := json.Marshal(newRequest(7, MethodInitialize, InitializeParams{ProtocolVersion: ProtocolVersion}))
	if err := pt.Write(req); err != nil {
		t.Fatal(err)
	}

	select {
	case frame := <-pt.Frames():
		var msg Message
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("frame is not JSON: %s", frame)
		}
		if id, ok := msg.IntID(); !ok || id != 7 {
			t.Errorf("expected response to id 7, got %s", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no frame received")
	}
	if pt.Err() != nil {
		t.Errorf("Err while running: %v", pt.Err())
	}
}

func TestProcessTransport_ClientRoundTrip(t *testing.T) {
	cfg := helperConfig(t, "")
	c := NewClient(cfg, WithDialer(DialProcess(WithGracePeriod(time.Second))))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	tools, err := c.ListTools(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}

	res, err := c.CallTool(ctx, "echo", map[string]any{"text": "ping"})
	if err != nil || res.Text() != "ping" {
		t.Errorf("echo: %+v, %v", res, err)
	}
	res, err = c.CallTool(ctx, "env", nil)
	if err != nil || res.Text() != "hello from env" {
		t.Errorf("env: %+v, %v", res, err)
	}
}

func TestProcessTransport_CrashRejectsPending(t *testing.T) {
	cfg := helperConfig(t, "")
	c := NewClient(cfg, WithDialer(DialProcess(WithGracePeriod(time.Second))))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	_, err := c.CallTool(ctx, "crash", nil)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if !strings.Contains(err.Error(), "crashed on purpose") {
		t.Errorf("expected stderr tail in error, got %v", err)
	}
	waitFor(t, "disconnected", func() bool { return c.State() == types.StateDisconnected })
}

func TestProcessTransport_CloseKillsStubbornServer(t *testing.T) {
	cfg := helperConfig(t, "ignore-term")
	grace := 200 * time.Millisecond
	pt, err := NewProcessTransport(cfg, WithGracePeriod(grace))
	if err != nil {
		t.Fatal(err)
	}

	// Wait until the server has installed its signal handling.
	req, _ := json.Marshal(newRequest(1, MethodInitialize, InitializeParams{ProtocolVersion: ProtocolVersion}))
	if err := pt.Write(req); err != nil {
		t.Fatal(err)
	}
	select {
	case <-pt.Frames():
	case <-time.After(5 * time.Second):
		t.Fatal("server never answered")
	}

	start := time.Now()
	done := make(chan struct{})
	go func() {
		pt.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	if elapsed := time.Since(start); elapsed < grace {
		t.Errorf("Close returned after %s, before the grace period", elapsed)
	}

	for range pt.Frames() {
	}
	if pt.Err() == nil {
		t.Error("expected exit error after kill")
	}
	if err := pt.Write([]byte(`{}`)); err == nil {
		t.Error("write after close should fail")
	}
}

func TestProcessTransport_StartFailure(t *testing.T) {
	cfg := types.ServerConfig{ID: "missing", Command: "/nonexistent/mcp-server-binary"}
	if _, err := NewProcessTransport(cfg); err == nil {
		t.Fatal("expected start error")
	}

	c := NewClient(cfg)
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrConnection) {
		t.Errorf("expected ErrConnection, got %v", err)
	}
	if c.State() != types.StateError {
		t.Errorf("state: %s", c.State())
	}
}
