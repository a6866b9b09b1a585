package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumByAttr returns the int64 sum data point whose attribute key equals value.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value
			}
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func histogramCount(t *testing.T, rm metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric %q is not a histogram", name)
	}
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	return n
}

func TestRecordEvent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordEvent(ctx, "speech_start")
	m.RecordEvent(ctx, "speech_start")
	m.RecordEvent(ctx, "complete")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "endpointer.events", "event", "speech_start"); got != 2 {
		t.Errorf("speech_start = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "endpointer.events", "event", "complete"); got != 1 {
		t.Errorf("complete = %d, want 1", got)
	}
}

func TestRecordSession(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSession(ctx, OutcomeComplete, 2*time.Second, 1500*time.Millisecond)
	m.RecordSession(ctx, OutcomeComplete, 3*time.Second, 2*time.Second)
	m.RecordSession(ctx, OutcomeIncomplete, 0, 0)

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "endpointer.sessions", "outcome", OutcomeComplete); got != 2 {
		t.Errorf("complete sessions = %d, want 2", got)
	}
	if got := sumByAttr(t, rm, "endpointer.sessions", "outcome", OutcomeIncomplete); got != 1 {
		t.Errorf("incomplete sessions = %d, want 1", got)
	}
	// Only completed sessions feed the histograms.
	if got := histogramCount(t, rm, "endpointer.time_to_complete"); got != 2 {
		t.Errorf("time_to_complete count = %d, want 2", got)
	}
	if got := histogramCount(t, rm, "endpointer.speech_duration"); got != 2 {
		t.Errorf("speech_duration count = %d, want 2", got)
	}
}

func TestFramesAndActiveSessions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.Frames.Add(ctx, 50)
	m.Frames.Add(ctx, 25)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	rm := collect(t, reader)
	tests := []struct {
		name string
		want int64
	}{
		{"endpointer.frames", 75},
		{"endpointer.active_sessions", 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok || len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no sum data", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRecordProtocolError(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordProtocolError(context.Background(), "audio_before_start")

	rm := collect(t, reader)
	if got := sumByAttr(t, rm, "endpointer.protocol.errors", "reason", "audio_before_start"); got != 1 {
		t.Errorf("protocol errors = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
