// Package history records every tool execution and keeps per-server
// aggregates derived from them.
package history

import (
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jg-phare/mcphub/pkg/types"
)

// Log is the append-only, in-memory execution history. It is safe for
// concurrent appends from many connections.
type Log struct {
	mu      sync.RWMutex
	entries []types.ExecutionHistoryEntry
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds a copy of e. Later changes to e's arguments or content do
// not reach the log.
func (l *Log) Append(e types.ExecutionHistoryEntry) {
	e = e.Clone()
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Restore prepends previously persisted entries, oldest first.
func (l *Log) Restore(entries []types.ExecutionHistoryEntry) {
	if len(entries) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	merged := make([]types.ExecutionHistoryEntry, 0, len(entries)+len(l.entries))
	merged = append(merged, entries...)
	l.entries = append(merged, l.entries...)
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Query returns copies of the matching entries, most recent first, truncated
// to f.Limit.
func (l *Log) Query(f types.HistoryFilter) []types.ExecutionHistoryEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []types.ExecutionHistoryEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if !Match(f, e) {
			continue
		}
		out = append(out, e.Clone())
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Clear drops every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// Match reports whether e passes f. ToolName may be a glob.
func Match(f types.HistoryFilter, e types.ExecutionHistoryEntry) bool {
	if f.ServerID != "" && e.Call.ServerID != f.ServerID {
		return false
	}
	if f.SessionID != "" && e.Call.SessionID != f.SessionID {
		return false
	}
	if f.ToolName != "" && f.ToolName != e.Call.ToolName {
		ok, err := doublestar.Match(f.ToolName, e.Call.ToolName)
		if err != nil || !ok {
			return false
		}
	}
	return true
}
