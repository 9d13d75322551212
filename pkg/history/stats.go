package history

import (
	"sort"
	"sync"
	"time"

	"github.com/jg-phare/mcphub/pkg/types"
)

// StatsTracker keeps rolling per-server aggregates. Stats exist only for
// registered servers and are updated incrementally, never rebuilt from the log.
type StatsTracker struct {
	mu    sync.Mutex
	stats map[string]*types.ServerStats
}

// NewStatsTracker creates an empty tracker.
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{stats: make(map[string]*types.ServerStats)}
}

// Register starts tracking id with zero stats. Existing stats are kept.
func (t *StatsTracker) Register(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.stats[id]; !ok {
		t.stats[id] = &types.ServerStats{ServerID: id}
	}
}

// Remove stops tracking id.
func (t *StatsTracker) Remove(id string) {
	t.mu.Lock()
	delete(t.stats, id)
	t.mu.Unlock()
}

// Record folds one completed call into id's stats. It returns false if id is
// not tracked.
func (t *StatsTracker) Record(id string, success bool, elapsed time.Duration, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[id]
	if !ok {
		return false
	}

	s.TotalCalls++
	if success {
		s.SuccessfulCalls++
	} else {
		s.FailedCalls++
	}
	n := float64(s.TotalCalls)
	s.AverageExecutionTime = time.Duration((float64(s.AverageExecutionTime)*(n-1) + float64(elapsed)) / n)
	s.LastActivity = at
	return true
}

// Get returns a copy of id's stats.
func (t *StatsTracker) Get(id string) (types.ServerStats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.stats[id]
	if !ok {
		return types.ServerStats{}, false
	}
	return *s, true
}

// All returns every server's stats sorted by id.
func (t *StatsTracker) All() []types.ServerStats {
	t.mu.Lock()
	out := make([]types.ServerStats, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, *s)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ServerID < out[j].ServerID })
	return out
}
