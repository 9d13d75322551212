package orchestrator

import (
	"sync"
	"time"

	"github.com/jg-phare/mcphub/pkg/mcp"
	"github.com/jg-phare/mcphub/pkg/types"
)

// connection is the registry record for one server. opMu serializes
// connect and disconnect for this server only; mu guards the fields.
type connection struct {
	opMu sync.Mutex

	mu            sync.Mutex
	config        types.ServerConfig
	client        *mcp.Client
	state         types.ConnectionState
	lastError     string
	lastConnected time.Time
	ready         bool // initial tool list fetched
}

func newConnection(cfg types.ServerConfig) *connection {
	return &connection{config: cfg, state: types.StateDisconnected}
}

// apply records a state change reported by client, unless client has
// since been replaced or detached.
func (c *connection) apply(client *mcp.Client, to types.ConnectionState, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != client {
		return false
	}
	c.setStateLocked(to, err)
	return true
}

func (c *connection) current(client *mcp.Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client == client
}

// attach installs a fresh client.
func (c *connection) attach(client *mcp.Client) {
	c.mu.Lock()
	c.client = client
	c.ready = false
	c.mu.Unlock()
}

// detach removes the current client so its later state changes are ignored.
func (c *connection) detach() *mcp.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	client := c.client
	c.client = nil
	c.ready = false
	return client
}

func (c *connection) setState(state types.ConnectionState, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(state, err)
}

func (c *connection) setStateLocked(state types.ConnectionState, err error) {
	c.state = state
	if err != nil {
		c.lastError = err.Error()
	} else if state == types.StateConnected {
		c.lastError = ""
	}
	if state == types.StateConnected {
		c.lastConnected = time.Now()
	}
}

func (c *connection) markReady() {
	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
}

func (c *connection) isReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// connectedClient returns the client if the server is connected.
func (c *connection) connectedClient() (*mcp.Client, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != types.StateConnected || c.client == nil {
		return nil, false
	}
	return c.client, true
}

func (c *connection) cfg() types.ServerConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

func (c *connection) setConfig(cfg types.ServerConfig) {
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()
}

// status builds the external view of this server.
func (c *connection) status() types.ServerStatus {
	c.mu.Lock()
	s := types.ServerStatus{
		Config:        c.config,
		State:         c.state,
		LastConnected: c.lastConnected,
		LastError:     c.lastError,
	}
	client := c.client
	connected := c.state == types.StateConnected
	c.mu.Unlock()

	if client != nil {
		s.ServerInfo = client.ServerInfo()
		if connected {
			s.Tools = client.Tools()
		}
	}
	return s
}

func (c *connection) tools() []types.Tool {
	client, ok := c.connectedClient()
	if !ok {
		return nil
	}
	return client.Tools()
}
