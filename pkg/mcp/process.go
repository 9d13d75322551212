package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/jg-phare/mcphub/pkg/types"
)

const (
	// DefaultGracePeriod is how long Close waits after SIGTERM before killing.
	DefaultGracePeriod = 5 * time.Second

	readChunkSize = 32 * 1024
	stderrTailMax = 8 * 1024
)

// ProcessOption configures a ProcessTransport.
type ProcessOption func(*processOptions)

type processOptions struct {
	logger  *slog.Logger
	grace   time.Duration
	goos    string
	maxLine int
}

// WithProcessLogger sets the logger for stderr lines and dropped frames.
func WithProcessLogger(l *slog.Logger) ProcessOption {
	return func(o *processOptions) { o.logger = l }
}

// WithGracePeriod sets how long Close waits for a graceful exit.
func WithGracePeriod(d time.Duration) ProcessOption {
	return func(o *processOptions) { o.grace = d }
}

// WithPlatform overrides the GOOS used for command resolution.
func WithPlatform(goos string) ProcessOption {
	return func(o *processOptions) { o.goos = goos }
}

// WithMaxLineSize bounds a single inbound frame.
func WithMaxLineSize(n int) ProcessOption {
	return func(o *processOptions) { o.maxLine = n }
}

// ProcessTransport runs a server as a child process and exchanges
// newline-delimited JSON over its stdin/stdout.
type ProcessTransport struct {
	serverID string
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	stdout   io.ReadCloser
	stderr   *stderrTail
	decoder  *LineDecoder
	logger   *slog.Logger
	grace    time.Duration

	writeMu sync.Mutex // serializes writes to stdin

	frames    chan json.RawMessage
	stop      chan struct{} // closed by Close; unblocks the reader
	exited    chan struct{} // closed once cmd.Wait has returned
	waitErr   error
	closeOnce sync.Once
}

// NewProcessTransport starts the server described by cfg. The child inherits
// the parent environment with cfg.Env layered on top.
func NewProcessTransport(cfg types.ServerConfig, opts ...ProcessOption) (*ProcessTransport, error) {
	o := processOptions{
		logger: slog.Default(),
		grace:  DefaultGracePeriod,
		goos:   runtime.GOOS,
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("server", cfg.ID)

	command, args := ResolveCommand(cfg, o.goos)
	cmd := exec.Command(command, args...)

	// Inherit parent env + user overrides; exec keeps the last value per key.
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	tail := &stderrTail{logger: logger}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command, err)
	}
	logger.Debug("server process started", "pid", cmd.Process.Pid, "command", command, "args", args)

	dec := NewLineDecoder(o.maxLine)
	dec.OnInvalid = func(line []byte, reason string) {
		logger.Warn("dropping malformed frame", "reason", reason, "line", truncate(line, 200))
	}

	t := &ProcessTransport{
		serverID: cfg.ID,
		cmd:      cmd,
		stdin:    stdinPipe,
		stdout:   stdoutPipe,
		stderr:   tail,
		decoder:  dec,
		logger:   logger,
		grace:    o.grace,
		frames:   make(chan json.RawMessage, 16),
		stop:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// DialProcess is a Dialer that launches servers as child processes.
func DialProcess(opts ...ProcessOption) Dialer {
	return func(_ context.Context, cfg types.ServerConfig) (Transport, error) {
		return NewProcessTransport(cfg, opts...)
	}
}

// readLoop is the only reader of stdout. It reassembles frames, then reaps the
// process so Err is set before Frames is closed.
func (t *ProcessTransport) readLoop() {
	defer close(t.frames)

	chunk := make([]byte, readChunkSize)
	for {
		n, err := t.stdout.Read(chunk)
		if n > 0 {
			for _, f := range t.decoder.Feed(chunk[:n]) {
				if !t.deliver(f) {
					t.reap()
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				t.logger.Debug("stdout read ended", "error", err)
			}
			break
		}
	}
	if f, ok := t.decoder.Flush(); ok {
		t.deliver(f)
	}
	t.reap()
}

func (t *ProcessTransport) deliver(f json.RawMessage) bool {
	select {
	case t.frames <- f:
		return true
	case <-t.stop:
		return false
	}
}

func (t *ProcessTransport) reap() {
	t.waitErr = t.cmd.Wait()
	close(t.exited)
}

// Write sends one frame followed by a newline.
func (t *ProcessTransport) Write(frame []byte) error {
	select {
	case <-t.exited:
		return fmt.Errorf("write to stdin: process exited: %w", t.Err())
	default:
	}

	data := make([]byte, 0, len(frame)+1)
	data = append(data, frame...)
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(data); err != nil {
		return fmt.Errorf("write to stdin: %w", err)
	}
	return nil
}

// Frames returns the inbound frame stream.
func (t *ProcessTransport) Frames() <-chan json.RawMessage { return t.frames }

// Err describes why the process ended. It is nil while the process runs.
func (t *ProcessTransport) Err() error {
	select {
	case <-t.exited:
	default:
		return nil
	}
	msg := "exited"
	if t.waitErr != nil {
		msg = t.waitErr.Error()
	}
	if s := t.stderr.String(); s != "" {
		return fmt.Errorf("%s: %s", msg, s)
	}
	if t.waitErr != nil {
		return t.waitErr
	}
	return errors.New(msg)
}

// Pid returns the child process id.
func (t *ProcessTransport) Pid() int { return t.cmd.Process.Pid }

// Close terminates the child process: close stdin, SIGTERM, wait for the grace
// period, SIGKILL. Safe to call more than once.
func (t *ProcessTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stop)
		t.stdin.Close()

		select {
		case <-t.exited:
			return
		default:
		}

		if t.cmd.Process != nil {
			_ = t.cmd.Process.Signal(syscall.SIGTERM)
		}

		timer := time.NewTimer(t.grace)
		defer timer.Stop()
		select {
		case <-t.exited:
		case <-timer.C:
			t.logger.Warn("server did not exit after SIGTERM, killing", "grace", t.grace)
			if t.cmd.Process != nil {
				_ = t.cmd.Process.Kill()
			}
			// stdout may be held open by grandchildren; closing our end unblocks the reader.
			t.stdout.Close()
			<-t.exited
		}
	})
	return nil
}

// stderrTail logs each stderr line and keeps the last few KB for error reports.
type stderrTail struct {
	logger  *slog.Logger
	mu      sync.Mutex
	tail    []byte
	partial []byte
}

func (s *stderrTail) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tail = append(s.tail, p...)
	if len(s.tail) > stderrTailMax {
		s.tail = append([]byte(nil), s.tail[len(s.tail)-stderrTailMax:]...)
	}

	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(s.partial[:i]); len(line) > 0 {
			s.logger.Debug("server stderr", "line", string(line))
		}
		s.partial = s.partial[i+1:]
	}
	if len(s.partial) > stderrTailMax {
		s.partial = s.partial[:0]
	}
	return len(p), nil
}

func (s *stderrTail) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(bytes.TrimSpace(s.tail))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
