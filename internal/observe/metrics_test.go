package observe

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/groover/pkg/audio/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
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

// sumWithAttr returns the value of the int64 sum data point carrying key=value.
func sumWithAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
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
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %s=%s", name, key, value)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"groover.connect.duration", m.ConnectDuration},
		{"groover.streaming.poll.duration", m.PollDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordConnect(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordConnect(ctx, "ok")
	m.RecordConnect(ctx, "ok")
	m.RecordConnect(ctx, "error")

	rm := collect(t, reader)
	if got := sumWithAttr(t, rm, "groover.connects", "status", "ok"); got != 2 {
		t.Errorf("ok connects = %d, want 2", got)
	}
	if got := sumWithAttr(t, rm, "groover.connects", "status", "error"); got != 1 {
		t.Errorf("failed connects = %d, want 1", got)
	}
}

func TestRecordControlMessage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordControlMessage(ctx, "Join", "ok")
	m.RecordControlMessage(ctx, "PausePlay", "error")
	m.RecordControlMessage(ctx, "PausePlay", "error")

	rm := collect(t, reader)
	if got := sumWithAttr(t, rm, "groover.control.messages", "type", "PausePlay"); got != 2 {
		t.Errorf("PausePlay messages = %d, want 2", got)
	}
}

func TestRecordStreamingEvent(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStreamingEvent(ctx, "started")
	m.RecordStreamingEvent(ctx, "stopped")
	m.RecordStreamingEvent(ctx, "started")

	rm := collect(t, reader)
	if got := sumWithAttr(t, rm, "groover.streaming.events", "kind", "started"); got != 2 {
		t.Errorf("started events = %d, want 2", got)
	}
}

func TestGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive, so connect/disconnect nets out.
	m.ActiveCalls.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, -1)
	m.ActiveCalls.Add(ctx, 1)
	m.RemoteControl.Add(ctx, 1)

	rm := collect(t, reader)

	gauges := []struct {
		name string
		want int64
	}{
		{"groover.active_calls", 1},
		{"groover.remote_control", 1},
	}

	for _, tc := range gauges {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			sum, ok := met.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %q is not a sum", tc.name)
			}
			if len(sum.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := sum.DataPoints[0].Value; got != tc.want {
				t.Errorf("gauge value = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestObserveTransport(t *testing.T) {
	m, reader := newTestMetrics(t)

	stats := transport.Stats{Frames: 7, Bytes: 7 * 7680, Blocked: 1500 * time.Millisecond, Buffered: 3}
	if err := m.ObserveTransport(func() transport.Stats { return stats }); err != nil {
		t.Fatalf("ObserveTransport: %v", err)
	}

	rm := collect(t, reader)

	frames := findMetric(rm, "groover.transport.frames")
	if frames == nil {
		t.Fatal("groover.transport.frames not found")
	}
	if sum, ok := frames.Data.(metricdata.Sum[int64]); !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 7 {
		t.Errorf("frames = %+v, want 7", frames.Data)
	}

	blocked := findMetric(rm, "groover.transport.blocked")
	if blocked == nil {
		t.Fatal("groover.transport.blocked not found")
	}
	if sum, ok := blocked.Data.(metricdata.Sum[float64]); !ok || len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1.5 {
		t.Errorf("blocked = %+v, want 1.5", blocked.Data)
	}

	buffered := findMetric(rm, "groover.transport.buffered")
	if buffered == nil {
		t.Fatal("groover.transport.buffered not found")
	}
	if g, ok := buffered.Data.(metricdata.Gauge[int64]); !ok || len(g.DataPoints) == 0 || g.DataPoints[0].Value != 3 {
		t.Errorf("buffered = %+v, want 3", buffered.Data)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "groover.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
