// Package builtin holds tools served in-process instead of by a server
// subprocess. The orchestrator routes a call here when the tool name is
// registered, after the usual server and tool checks.
package builtin

import (
	"context"
	"sort"

	"github.com/jg-phare/mcphub/pkg/types"
)

// Tool is an in-process tool implementation.
type Tool interface {
	Name() string
	InputSchema() *types.Schema
	// Execute runs the tool. Tool-level failures are reported as a failed
	// result; an error means the tool could not run at all.
	Execute(ctx context.Context, args map[string]any) (types.ToolResult, error)
}

// Registry resolves builtin tools by name.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Default returns a registry with the standard builtins.
func Default() *Registry {
	return NewRegistry(&FetchTool{})
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
