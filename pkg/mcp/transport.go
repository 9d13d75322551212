package mcp

import (
	"context"
	"encoding/json"

	"github.com/jg-phare/mcphub/pkg/types"
)

// Transport is a framed byte pipe to one server.
//
// Write sends one complete JSON frame; implementations add the delimiter and
// serialize concurrent writers so frames never interleave. Frames delivers every
// well-formed inbound frame from a single reader and is closed when the server's
// output ends, after which Err explains why.
type Transport interface {
	Write(frame []byte) error
	Frames() <-chan json.RawMessage
	Err() error
	Close() error
}

// Dialer opens a Transport for a server config.
type Dialer func(ctx context.Context, cfg types.ServerConfig) (Transport, error)
