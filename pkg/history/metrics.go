package history

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jg-phare/mcphub/pkg/types"
)

// Metrics records tool call counters and latency as OpenTelemetry instruments.
type Metrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	calls, err := meter.Int64Counter("mcphub.tool.calls",
		metric.WithDescription("Number of tool executions"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("mcphub.tool.failures",
		metric.WithDescription("Number of failed tool executions"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("mcphub.tool.duration",
		metric.WithDescription("Duration of tool execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{calls: calls, failures: failures, duration: duration}, nil
}

// Record adds one completed call.
func (m *Metrics) Record(ctx context.Context, e types.ExecutionHistoryEntry) {
	attrs := metric.WithAttributes(
		attribute.String("server_id", e.Call.ServerID),
		attribute.String("tool", e.Call.ToolName),
	)
	m.calls.Add(ctx, 1, attrs)
	m.duration.Record(ctx, e.Result.ExecutionTime.Seconds(), attrs)
	if !e.Result.Success {
		m.failures.Add(ctx, 1, attrs)
	}
}
