package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const tracerKey ctxKey = 1

const zeroTraceID = "00000000000000000000000000000000"

// GetTraceID returns the trace id from the current span context.
func GetTraceID(ctx context.Context) string {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return zeroTraceID
}

// InjectTracing stores tracer in ctx so code deeper in a request can open
// spans without having the tracer passed down.
func InjectTracing(ctx context.Context, tracer trace.Tracer) context.Context {
	return context.WithValue(ctx, tracerKey, tracer)
}

// Tracer returns the tracer stored by InjectTracing, or the tracer of the
// span already in ctx.
func Tracer(ctx context.Context) trace.Tracer {
	if t, ok := ctx.Value(tracerKey).(trace.Tracer); ok {
		return t
	}
	return trace.SpanFromContext(ctx).TracerProvider().Tracer("curation-progress")
}
