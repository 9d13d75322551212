package mcp

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// CodeMethodNotFound answers server-initiated requests the client does not implement.
const CodeMethodNotFound = -32601

// JSONRPCRequest is an outbound JSON-RPC 2.0 request or notification.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int   `json:"id,omitempty"` // nil for notifications
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse is an outbound response to a server-initiated request.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Message is any inbound frame: a response, a notification, or a server-initiated request.
// Which one it is depends on the presence of ID and Method.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// HasID reports whether the frame carries a non-null id.
func (m *Message) HasID() bool {
	id := bytes.TrimSpace(m.ID)
	return len(id) > 0 && !bytes.Equal(id, []byte("null"))
}

// IntID returns the frame id as an int. Our requests only use integer ids,
// so string or fractional ids never correlate.
func (m *Message) IntID() (int, bool) {
	if !m.HasID() {
		return 0, false
	}
	id, err := strconv.Atoi(string(bytes.TrimSpace(m.ID)))
	if err != nil {
		return 0, false
	}
	return id, true
}

// IsResponse reports whether the frame answers one of our requests.
func (m *Message) IsResponse() bool { return m.HasID() && m.Method == "" }

// IsNotification reports whether the frame is a notification (method without id).
func (m *Message) IsNotification() bool { return !m.HasID() && m.Method != "" }

// IsRequest reports whether the server is asking us something.
func (m *Message) IsRequest() bool { return m.HasID() && m.Method != "" }

// newRequest creates a JSON-RPC 2.0 request with the given ID, method, and params.
func newRequest(id int, method string, params any) JSONRPCRequest {
	return JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  method,
		Params:  params,
	}
}

// newNotification creates a JSON-RPC 2.0 notification (no ID, no response expected).
func newNotification(method string, params any) JSONRPCRequest {
	return JSONRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}
}
