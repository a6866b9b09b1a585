// Package observe provides the service's observability primitives:
// OpenTelemetry metrics, tracing, trace-aware logging and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter installed by [InitProvider]. Tests should use
// [NewMetrics] with their own [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/hugochiquito/clementine"

// Session outcomes recorded on [Metrics.Sessions].
const (
	OutcomeComplete   = "complete"
	OutcomeIncomplete = "incomplete"
	OutcomeError      = "error"
)

// Metrics holds all OpenTelemetry metric instruments for the service.
// All fields are safe for concurrent use.
type Metrics struct {
	// Sessions counts finished endpointing sessions. Use with attribute:
	//   attribute.String("outcome", ...)
	Sessions metric.Int64Counter

	// Events counts policy events. Use with attribute:
	//   attribute.String("event", ...)
	Events metric.Int64Counter

	// TimeToComplete tracks session audio time from start to complete.
	TimeToComplete metric.Float64Histogram

	// SpeechDuration tracks the speech span of completed utterances.
	SpeechDuration metric.Float64Histogram

	// Frames counts classified audio frames.
	Frames metric.Int64Counter

	// ProtocolErrors counts rejected client messages. Use with attribute:
	//   attribute.String("reason", ...)
	ProtocolErrors metric.Int64Counter

	// ActiveSessions tracks the number of open streaming sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time, labelled by
	// method and matched route. WebSocket requests span the whole stream.
	HTTPRequestDuration metric.Float64Histogram
}

// utteranceBuckets are histogram boundaries in seconds for utterance-scale
// durations.
var utteranceBuckets = []float64{
	0.25, 0.5, 1, 2, 3, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Sessions, err = m.Int64Counter("endpointer.sessions",
		metric.WithDescription("Finished endpointing sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("endpointer.events",
		metric.WithDescription("Endpoint policy events by type."),
	); err != nil {
		return nil, err
	}
	if met.TimeToComplete, err = m.Float64Histogram("endpointer.time_to_complete",
		metric.WithDescription("Session audio time until the utterance completed."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("endpointer.speech_duration",
		metric.WithDescription("Speech span of completed utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(utteranceBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Frames, err = m.Int64Counter("endpointer.frames",
		metric.WithDescription("Audio frames classified."),
	); err != nil {
		return nil, err
	}
	if met.ProtocolErrors, err = m.Int64Counter("endpointer.protocol.errors",
		metric.WithDescription("Rejected streaming client messages by reason."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("endpointer.active_sessions",
		metric.WithDescription("Number of open streaming sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("endpointer.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordEvent counts one policy event.
func (m *Metrics) RecordEvent(ctx context.Context, event string) {
	m.Events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordSession counts a finished session. For completed sessions it also
// records the completion time and speech span.
func (m *Metrics) RecordSession(ctx context.Context, outcome string, timeToComplete, speech time.Duration) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome != OutcomeComplete {
		return
	}
	m.TimeToComplete.Record(ctx, timeToComplete.Seconds())
	m.SpeechDuration.Record(ctx, speech.Seconds())
}

// RecordProtocolError counts a rejected client message.
func (m *Metrics) RecordProtocolError(ctx context.Context, reason string) {
	m.ProtocolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
