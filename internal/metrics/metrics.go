// Package metrics wires the Router and Server Manager's counters and
// durations into OpenTelemetry, the ambient metrics library every Go
// repository in the example pack carries directly.
package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder holds the instruments the orchestration core emits into.
type Recorder struct {
	toolCalls      metric.Int64Counter
	toolDuration   metric.Float64Histogram
	serverRestarts metric.Int64Counter
}

// NewRecorder builds a Recorder from a meter provider's "mcpcore" meter.
// A nil provider falls back to the global OTel meter provider, which is
// a no-op until the host process installs a real one via
// go.opentelemetry.io/otel/sdk/metric.
func NewRecorder(provider metric.MeterProvider) *Recorder {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter("github.com/toolforge/mcpcore")

	toolCalls, _ := meter.Int64Counter("mcpcore.tool_calls",
		metric.WithDescription("Number of tool invocations dispatched by the router"))
	toolDuration, _ := meter.Float64Histogram("mcpcore.tool_call_duration_ms",
		metric.WithDescription("Wall-clock duration of tool invocations in milliseconds"))
	serverRestarts, _ := meter.Int64Counter("mcpcore.server_restarts",
		metric.WithDescription("Number of health-triggered or manual server restarts"))

	return &Recorder{toolCalls: toolCalls, toolDuration: toolDuration, serverRestarts: serverRestarts}
}

// RecordToolCall records one dispatch outcome and its duration.
func (r *Recorder) RecordToolCall(ctx context.Context, toolName string, success bool, durationMS float64) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", toolName),
		attribute.Bool("success", success),
	)
	r.toolCalls.Add(ctx, 1, attrs)
	r.toolDuration.Record(ctx, durationMS, attrs)
}

// RecordRestart records one server restart event.
func (r *Recorder) RecordRestart(ctx context.Context, serverID string) {
	if r == nil {
		return
	}
	r.serverRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("server_id", serverID)))
}
