package monitoring

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracingManager provides tracing spans for session and tool operations.
// It relies on whatever tracer provider the process has installed; with
// none installed the spans are no-ops.
type TracingManager struct {
	tracer trace.Tracer
}

// NewTracingManager creates a tracing manager for the named service
func NewTracingManager(serviceName string) *TracingManager {
	return &TracingManager{
		tracer: otel.Tracer(serviceName),
	}
}

// StartSpan starts a new span with the given name
func (tm *TracingManager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tm.tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// StartSessionSpan starts a span covering a voice session lifecycle
func (tm *TracingManager) StartSessionSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return tm.StartSpan(ctx, "session",
		attribute.String("session.id", sessionID),
	)
}

// StartToolSpan starts a span covering a single tool dispatch
func (tm *TracingManager) StartToolSpan(ctx context.Context, toolName, toolUseID string) (context.Context, trace.Span) {
	return tm.StartSpan(ctx, "tool.dispatch",
		attribute.String("tool.name", toolName),
		attribute.String("tool.use_id", toolUseID),
	)
}

// EndSpan finishes a span, recording the error if one occurred
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
