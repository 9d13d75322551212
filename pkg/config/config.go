// Package config loads the hub configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/jg-phare/mcphub/pkg/history"
	"github.com/jg-phare/mcphub/pkg/types"
)

var ErrInvalid = errors.New("invalid config")

// Config is the hub configuration.
type Config struct {
	Servers        []types.ServerConfig `json:"servers" yaml:"servers" toml:"servers"`
	RequestTimeout types.Duration       `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty" toml:"request_timeout,omitempty"`
	ShutdownGrace  types.Duration       `json:"shutdownGrace,omitempty" yaml:"shutdownGrace,omitempty" toml:"shutdown_grace,omitempty"`
	AutoConnect    bool                 `json:"autoConnect" yaml:"autoConnect" toml:"auto_connect"`
	History        HistoryConfig        `json:"history" yaml:"history" toml:"history"`
	Events         EventsConfig         `json:"events" yaml:"events" toml:"events"`
}

// HistoryConfig selects where execution history is persisted.
type HistoryConfig struct {
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

// EventsConfig configures the event stream endpoint of `mcphub serve`.
type EventsConfig struct {
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty" toml:"listen,omitempty"`
}

// Defaults returns the configuration used for anything a file leaves unset.
func Defaults() *Config {
	return &Config{
		RequestTimeout: types.Duration(30 * time.Second),
		ShutdownGrace:  types.Duration(5 * time.Second),
		AutoConnect:    true,
		History:        HistoryConfig{Driver: history.DriverMemory},
		Events:         EventsConfig{Listen: ":7777"},
	}
}

// Load reads path, decoding it by extension (.yaml, .yml, .toml or .json)
// over Defaults. ${VAR} references in server env values are expanded and a
// relative history path is resolved against the file's directory.
func Load(path string) (*Config, error) {
	// #nosec G304 -- path is the operator's config file.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}

	cfg := Defaults()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported config format %q", ErrInvalid, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	cfg.expand()
	if p := cfg.History.Path; p != "" && !filepath.IsAbs(p) {
		cfg.History.Path = filepath.Join(filepath.Dir(path), p)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) expand() {
	for i := range c.Servers {
		env := c.Servers[i].Env
		if len(env) == 0 {
			continue
		}
		expanded := make(map[string]string, len(env))
		for k, v := range env {
			expanded[k] = os.ExpandEnv(v)
		}
		c.Servers[i].Env = expanded
	}
}

// Validate rejects empty or duplicate server ids, negative durations and an
// unusable history setting.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return fmt.Errorf("%w: servers[%d]: id is required", ErrInvalid, i)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate server id %q", ErrInvalid, id)
		}
		seen[id] = true
		if s.Timeout < 0 {
			return fmt.Errorf("%w: server %q: timeout must not be negative", ErrInvalid, id)
		}
	}
	if c.RequestTimeout < 0 || c.ShutdownGrace < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalid)
	}

	switch c.History.Driver {
	case "", history.DriverMemory:
	case history.DriverJSONL, history.DriverSQLite:
		if c.History.Path == "" {
			return fmt.Errorf("%w: history driver %q needs a path", ErrInvalid, c.History.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown history driver %q", ErrInvalid, c.History.Driver)
	}
	return nil
}

// Server returns the server config with the given id.
func (c *Config) Server(id string) (types.ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return types.ServerConfig{}, false
}
