// Package telemetry defines the ambient logging, metrics, and tracing
// interfaces threaded through conduit's pipeline, adapters, cache, and
// repository. The pipeline opens one "pipeline.execute" span per Execute
// call and adds a "cache.get" event to it on a cache probe; no other
// suspension point emits a span, and nothing records a timer.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the runtime.
// Implementations typically delegate to Clue but the interface is
// intentionally small so tests can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for runtime
// instrumentation. The pipeline's odometer event (provider, model,
// input_tokens, output_tokens, timestamp) is recorded through this interface
// rather than a bespoke queue: Metrics is itself the process-wide odometer
// sink.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so runtime code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}

// OdometerEvent records token usage for one completed provider call, emitted
// by the pipeline after normalize and before persistence (§4.9 step 5).
type OdometerEvent struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Timestamp    time.Time
}

// RecordOdometer emits an OdometerEvent through Metrics as a counter
// increment plus a structured log line, keeping the event sink genuinely
// process-wide and lock-free.
func RecordOdometer(ctx context.Context, log Logger, m Metrics, ev OdometerEvent) {
	m.IncCounter("conduit.tokens.input", float64(ev.InputTokens), "provider", ev.Provider, "model", ev.Model)
	m.IncCounter("conduit.tokens.output", float64(ev.OutputTokens), "provider", ev.Provider, "model", ev.Model)
	log.Info(ctx, "odometer",
		"provider", ev.Provider,
		"model", ev.Model,
		"input_tokens", ev.InputTokens,
		"output_tokens", ev.OutputTokens,
		"timestamp", ev.Timestamp,
	)
}
