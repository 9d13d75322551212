package mcp

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error returned by this package matches one of these with errors.Is.
var (
	ErrConnection         = errors.New("connection error")
	ErrHandshake          = errors.New("handshake failed")
	ErrProtocol           = errors.New("protocol error")
	ErrTimeout            = errors.New("request timed out")
	ErrServerNotConnected = errors.New("server not connected")
	ErrToolNotFound       = errors.New("tool not found")
	ErrExecution          = errors.New("tool execution failed")
	ErrCancelled          = errors.New("request cancelled")
)

// ConnectionError reports that the server process failed to start, exited, or
// its pipes broke.
type ConnectionError struct {
	ServerID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("server %s: connection error: %v", e.ServerID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// HandshakeError reports that the initialize sequence was rejected or malformed.
type HandshakeError struct {
	ServerID string
	Err      error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("server %s: handshake failed: %v", e.ServerID, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func (e *HandshakeError) Is(target error) bool { return target == ErrHandshake }

// ToolNotFoundError reports a call to a tool the server did not list.
type ToolNotFoundError struct {
	ServerID string
	Tool     string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("Tool %s not found on server %s", e.Tool, e.ServerID)
}

func (e *ToolNotFoundError) Is(target error) bool { return target == ErrToolNotFound }

// RPCError is the error object of a JSON-RPC 2.0 response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func (e *RPCError) Is(target error) bool { return target == ErrExecution }
