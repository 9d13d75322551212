package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jg-phare/mcphub/pkg/events"
	"github.com/jg-phare/mcphub/pkg/mcp"
	"github.com/jg-phare/mcphub/pkg/types"
)

// ExecuteTool runs one tool call and records it. It never returns an error:
// unknown servers, disconnected servers, unknown tools, invalid arguments,
// timeouts and server-side failures all come back as a failed result. Every
// call adds exactly one history entry and publishes one tool event.
func (o *Orchestrator) ExecuteTool(ctx context.Context, serverID, toolName string, args map[string]any, ec types.ExecContext) types.ToolResult {
	call := types.ToolCall{
		ServerID:  serverID,
		ToolName:  toolName,
		Arguments: types.CloneArgs(args),
		SessionID: ec.SessionID,
		UserID:    ec.UserID,
		Timestamp: time.Now(),
	}

	ctx, span := o.tracer.Start(ctx, "mcphub.execute_tool",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mcphub.server_id", serverID),
			attribute.String("mcphub.tool", toolName),
		))
	defer span.End()

	start := time.Now()
	result := o.execute(ctx, call)
	result.ExecutionTime = time.Since(start)

	span.SetAttributes(
		attribute.Bool("mcphub.success", result.Success),
		attribute.Int64("mcphub.execution_ms", result.ExecutionTime.Milliseconds()),
	)
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}

	entry := o.recorder.Record(ctx, call, result)

	e := events.Event{
		Type:     events.ToolExecuted,
		ServerID: serverID,
		Data:     events.ToolExecution{Call: call.Clone(), Result: result.Clone()},
	}
	if !result.Success {
		e.Type = events.ToolFailed
		e.Error = result.Error
	}
	o.bus.Publish(e)

	o.logger.Debug("tool executed",
		"server", serverID, "tool", toolName, "id", entry.ID,
		"success", result.Success, "elapsed", result.ExecutionTime)
	return result
}

func (o *Orchestrator) execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	c, err := o.lookup(call.ServerID)
	if err != nil {
		return types.FailedResult(fmt.Sprintf("Server %s not found", call.ServerID))
	}
	client, ok := c.connectedClient()
	if !ok {
		return types.FailedResult(fmt.Sprintf("Server %s is not connected", call.ServerID))
	}
	tool, err := client.Tool(call.ToolName)
	if err != nil {
		return types.FailedResult(err.Error())
	}
	if err := tool.InputSchema.Validate(call.Arguments); err != nil {
		return types.FailedResult(err.Error())
	}

	if b, ok := o.builtins.Get(call.ToolName); ok {
		// The server's advertised schema may be looser than the builtin's own.
		if err := b.InputSchema().Validate(call.Arguments); err != nil {
			return types.FailedResult(err.Error())
		}
		res, err := b.Execute(ctx, call.Arguments)
		if err != nil {
			return types.FailedResult(fmt.Sprintf("builtin %s: %v", call.ToolName, err))
		}
		return res
	}

	res, err := client.CallTool(ctx, call.ToolName, call.Arguments)
	if err != nil {
		return types.FailedResult(callErrorMessage(call, err))
	}
	return res
}

func callErrorMessage(call types.ToolCall, err error) string {
	switch {
	case errors.Is(err, mcp.ErrServerNotConnected):
		return fmt.Sprintf("Server %s is not connected", call.ServerID)
	case errors.Is(err, mcp.ErrTimeout):
		return fmt.Sprintf("Tool %s on server %s timed out: %v", call.ToolName, call.ServerID, err)
	default:
		return err.Error()
	}
}
