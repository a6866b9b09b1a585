package observe

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultQuietPaths are logged at debug level: probes and scrapes arrive
// every few seconds and would drown the request log.
var DefaultQuietPaths = []string{"/healthz", "/readyz", "/metrics"}

// unmatchedRoute labels requests no mux pattern claimed.
const unmatchedRoute = "unmatched"

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithRequestLogger logs completed requests to l instead of slog.Default.
func WithRequestLogger(l *slog.Logger) MiddlewareOption {
	return func(mw *middleware) { mw.logger = l }
}

// WithQuietPaths replaces [DefaultQuietPaths].
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(mw *middleware) { mw.quiet = paths }
}

type middleware struct {
	metrics *Metrics
	logger  *slog.Logger
	quiet   []string
	prop    propagation.TextMapPropagator
}

// Middleware instruments every request passing through the handler:
//
//  1. Continues a W3C trace from the request headers or starts one, and
//     echoes the trace ID as X-Correlation-ID.
//  2. Records [Metrics.HTTPRequestDuration] labelled by method and the
//     ServeMux pattern that matched, so one WebSocket route is one series.
//  3. Marks 5xx responses as span errors.
//  4. Logs completion. WebSocket upgrades are logged when the stream closes,
//     quiet paths at debug level.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	mw := &middleware{
		metrics: m,
		quiet:   DefaultQuietPaths,
		prop:    propagation.TraceContext{},
	}
	for _, o := range opts {
		o(mw)
	}
	return mw.wrap
}

func (mw *middleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := mw.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		cid := CorrelationID(ctx)
		if cid != "" {
			w.Header().Set("X-Correlation-ID", cid)
		}
		mw.prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		// ServeMux records the matched pattern on the request it is given.
		r = r.WithContext(ctx)
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = unmatchedRoute
		}
		mw.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
			),
		)
		span.SetAttributes(
			semconv.HTTPResponseStatusCode(rw.status),
			semconv.HTTPRoute(route),
		)
		if rw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rw.status))
		}

		msg := "request completed"
		if rw.upgraded {
			msg = "stream closed"
		}
		mw.log().LogAttrs(ctx, mw.level(r.URL.Path), msg,
			slog.String("trace_id", cid),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("route", route),
			slog.Int("status", rw.status),
			slog.Duration("duration", elapsed),
		)
	})
}

func (mw *middleware) log() *slog.Logger {
	if mw.logger != nil {
		return mw.logger
	}
	return slog.Default()
}

func (mw *middleware) level(path string) slog.Level {
	if slices.Contains(mw.quiet, path) {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// responseWriter captures the status code and whether the connection was
// taken over for a WebSocket stream.
type responseWriter struct {
	http.ResponseWriter
	status   int
	upgraded bool
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack hands the connection to a WebSocket handler. A hijacked request is
// reported as 101.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	conn, brw, err := http.NewResponseController(w.ResponseWriter).Hijack()
	if err == nil {
		w.status = http.StatusSwitchingProtocols
		w.upgraded = true
	}
	return conn, brw, err
}

// Unwrap exposes the wrapped writer to [http.ResponseController].
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
