package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hugochiquito/clementine"

// Tracer returns the service tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan starts the span covering one endpointing session.
func StartSessionSpan(ctx context.Context, sessionID string, sampleRate, channels int, encoding string) (context.Context, trace.Span) {
	return StartSpan(ctx, "endpointer.session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("audio.sample_rate", sampleRate),
			attribute.Int("audio.channels", channels),
			attribute.String("audio.encoding", encoding),
		),
	)
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. It is echoed to clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the span in ctx. Without an active span it returns slog.Default().
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
