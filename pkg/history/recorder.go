package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/jg-phare/mcphub/pkg/types"
)

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithStore mirrors every entry to s.
func WithStore(s Store) RecorderOption {
	return func(r *Recorder) { r.store = s }
}

// WithMeter records call metrics on meter.
func WithMeter(m metric.Meter) RecorderOption {
	return func(r *Recorder) { r.meter = m }
}

// WithLogger sets the recorder logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// Recorder is the single point every completed execution passes through: it
// appends to the log, updates stats, mirrors to the store and records metrics.
type Recorder struct {
	log     *Log
	stats   *StatsTracker
	store   Store
	meter   metric.Meter
	metrics *Metrics
	logger  *slog.Logger
}

// NewRecorder creates a recorder with an empty log.
func NewRecorder(opts ...RecorderOption) (*Recorder, error) {
	r := &Recorder{
		log:    NewLog(),
		stats:  NewStatsTracker(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.meter != nil {
		m, err := NewMetrics(r.meter)
		if err != nil {
			return nil, err
		}
		r.metrics = m
	}
	return r, nil
}

// Restore loads persisted entries into the log. Stats are not rebuilt from them.
func (r *Recorder) Restore(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	entries, err := r.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	r.log.Restore(entries)
	return len(entries), nil
}

// Record builds and stores the entry for one completed call. Stats are
// updated only if the call's server is tracked. Store failures are logged.
func (r *Recorder) Record(ctx context.Context, call types.ToolCall, result types.ToolResult) types.ExecutionHistoryEntry {
	e := types.ExecutionHistoryEntry{
		ID:     uuid.NewString(),
		Call:   call,
		Result: result,
	}
	r.log.Append(e)
	r.stats.Record(call.ServerID, result.Success, result.ExecutionTime, completedAt(call, result.ExecutionTime))

	if r.metrics != nil {
		r.metrics.Record(ctx, e)
	}
	if r.store != nil {
		// The call has already completed; a cancelled caller context must not lose the entry.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockTimeout)
		defer cancel()
		if err := r.store.Append(sctx, e); err != nil {
			r.logger.Warn("history store append failed", "id", e.ID, "error", err)
		}
	}
	return e
}

// Query returns matching entries, most recent first.
func (r *Recorder) Query(f types.HistoryFilter) []types.ExecutionHistoryEntry {
	return r.log.Query(f)
}

// Len returns the number of entries in the log.
func (r *Recorder) Len() int { return r.log.Len() }

// Track starts stats for a server.
func (r *Recorder) Track(serverID string) { r.stats.Register(serverID) }

// Untrack drops a server's stats.
func (r *Recorder) Untrack(serverID string) { r.stats.Remove(serverID) }

// Stats returns one server's stats.
func (r *Recorder) Stats(serverID string) (types.ServerStats, bool) { return r.stats.Get(serverID) }

// AllStats returns every tracked server's stats.
func (r *Recorder) AllStats() []types.ServerStats { return r.stats.All() }

// Clear empties the log and the store. Stats are left as they are.
func (r *Recorder) Clear(ctx context.Context) error {
	r.log.Clear()
	if r.store != nil {
		return r.store.Clear(ctx)
	}
	return nil
}

// Close closes the store.
func (r *Recorder) Close() error {
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// completedAt is when a call finished, used for stats LastActivity.
func completedAt(call types.ToolCall, elapsed time.Duration) time.Time {
	return call.Timestamp.Add(elapsed)
}
