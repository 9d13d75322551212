package types

import (
	"maps"
	"reflect"
	"slices"
	"strings"
	"time"
)

// ExecContext carries the collaborator-side identity of a call.
type ExecContext struct {
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// ToolCall is one requested tool invocation.
type ToolCall struct {
	ServerID  string         `json:"serverId"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Clone returns a copy of c whose Arguments share nothing with c.
func (c ToolCall) Clone() ToolCall {
	c.Arguments = CloneArgs(c.Arguments)
	return c
}

// ToolResult is the outcome of a ToolCall. Results are never mutated after they are produced.
type ToolResult struct {
	Success       bool          `json:"success"`
	Content       []ContentItem `json:"content,omitempty"`
	Error         string        `json:"error,omitempty"`
	ExecutionTime time.Duration `json:"executionTime"`
}

// Text joins all text content items with newlines.
func (r ToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == ContentText && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Clone returns a copy of r with its own Content slice.
func (r ToolResult) Clone() ToolResult {
	r.Content = slices.Clone(r.Content)
	return r
}

// FailedResult builds an unsuccessful result carrying msg.
func FailedResult(msg string) ToolResult {
	return ToolResult{Success: false, Error: msg}
}

// ExecutionHistoryEntry is a denormalized, append-only record of one ExecuteTool call.
type ExecutionHistoryEntry struct {
	ID     string     `json:"id"`
	Call   ToolCall   `json:"call"`
	Result ToolResult `json:"result"`
}

// Clone returns a deep copy of e.
func (e ExecutionHistoryEntry) Clone() ExecutionHistoryEntry {
	e.Call = e.Call.Clone()
	e.Result = e.Result.Clone()
	return e
}

// CloneArgs deep-copies tool arguments. Nested maps and slices of any
// element type are copied; other values are copied by assignment.
func CloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return CloneArgs(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case string, bool, float64, int, int64:
		return x
	case map[string]string:
		return maps.Clone(x)
	case []string:
		return slices.Clone(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := range rv.Len() {
			out.Index(i).Set(cloneReflect(rv.Index(i)))
		}
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneReflect(iter.Value()))
		}
		return out.Interface()
	}
	return v
}

// cloneReflect copies one element of a typed slice or map, keeping its static type.
func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.Interface:
		if v.IsNil() {
			return v
		}
	default:
		return v
	}
	c := reflect.ValueOf(cloneValue(v.Interface()))
	if v.Kind() == reflect.Interface {
		out := reflect.New(v.Type()).Elem()
		out.Set(c)
		return out
	}
	return c
}

// ServerStats are rolling per-server aggregates.
type ServerStats struct {
	ServerID             string        `json:"serverId"`
	TotalCalls           int64         `json:"totalCalls"`
	SuccessfulCalls      int64         `json:"successfulCalls"`
	FailedCalls          int64         `json:"failedCalls"`
	AverageExecutionTime time.Duration `json:"averageExecutionTime"`
	LastActivity         time.Time     `json:"lastActivity,omitzero"`
}

// HistoryFilter selects history entries. Zero fields match everything.
// ToolName may be a glob pattern ("search_*").
type HistoryFilter struct {
	ServerID  string `json:"serverId,omitempty"`
	ToolName  string `json:"toolName,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}
