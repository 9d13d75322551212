package types

import "time"

// ServerConfig describes how to launch one tool-provider server.
// It is immutable once loaded; a changed config replaces the registration.
type ServerConfig struct {
	ID      string            `json:"id" yaml:"id" toml:"id"`
	Name    string            `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`

	// Disabled servers are registered but skipped by ConnectAllServers.
	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty" toml:"disabled,omitempty"`

	// AllowedTools and DisabledTools are glob patterns applied to every tools/list result.
	AllowedTools  []string `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty" toml:"allowed_tools,omitempty"`
	DisabledTools []string `json:"disabledTools,omitempty" yaml:"disabledTools,omitempty" toml:"disabled_tools,omitempty"`

	// Timeout overrides the per-request timeout (0 = orchestrator default).
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

// DisplayName returns Name, falling back to ID.
func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Equal reports whether two configs would launch the same server the same way.
func (c ServerConfig) Equal(o ServerConfig) bool {
	if c.ID != o.ID || c.Name != o.Name || c.Command != o.Command ||
		c.Disabled != o.Disabled || c.Timeout != o.Timeout {
		return false
	}
	if !equalStrings(c.Args, o.Args) || !equalStrings(c.AllowedTools, o.AllowedTools) ||
		!equalStrings(c.DisabledTools, o.DisabledTools) {
		return false
	}
	if len(c.Env) != len(o.Env) {
		return false
	}
	for k, v := range c.Env {
		if ov, ok := o.Env[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ConnectionState is the lifecycle state of one server connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// ServerStatus is an external snapshot of a registered server.
type ServerStatus struct {
	Config        ServerConfig    `json:"config"`
	State         ConnectionState `json:"state"`
	LastConnected time.Time       `json:"lastConnected,omitzero"`
	LastError     string          `json:"lastError,omitempty"`
	ServerInfo    *ServerInfo     `json:"serverInfo,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
}

// ServerInfo identifies the remote implementation, as reported during initialize.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Tool is one tool exposed by a server.
type Tool struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	InputSchema *Schema `json:"inputSchema,omitempty"`
	ServerID    string  `json:"serverId"`
}
