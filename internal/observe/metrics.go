// Package observe provides application-wide observability primitives for
// Groover: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"github.com/MrWong99/groover/pkg/audio/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Groover metrics.
const meterName = "github.com/MrWong99/groover"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms ---

	// ConnectDuration tracks how long joining a voice call takes.
	ConnectDuration metric.Float64Histogram

	// PollDuration tracks streaming-service player state requests.
	PollDuration metric.Float64Histogram

	// --- Counters ---

	// Connects counts connect attempts. Use with attribute:
	//   attribute.String("status", ...)
	Connects metric.Int64Counter

	// ControlMessages counts bus messages handled by the dispatcher. Use with
	// attributes:
	//   attribute.String("type", ...), attribute.String("status", ...)
	ControlMessages metric.Int64Counter

	// StreamingEvents counts engine events by kind. Use with attribute:
	//   attribute.String("kind", ...)
	StreamingEvents metric.Int64Counter

	// PollErrors counts failed player state requests.
	PollErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of connected voice calls (0 or 1).
	ActiveCalls metric.Int64UpDownCounter

	// RemoteControl tracks whether remote-control mode is enabled (0 or 1).
	RemoteControl metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network round trips to Discord and the streaming service.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("groover.connect.duration",
		metric.WithDescription("Latency of joining a voice call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PollDuration, err = m.Float64Histogram("groover.streaming.poll.duration",
		metric.WithDescription("Latency of streaming-service player state requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Connects, err = m.Int64Counter("groover.connects",
		metric.WithDescription("Total voice call connect attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ControlMessages, err = m.Int64Counter("groover.control.messages",
		metric.WithDescription("Total control messages by type and status."),
	); err != nil {
		return nil, err
	}
	if met.StreamingEvents, err = m.Int64Counter("groover.streaming.events",
		metric.WithDescription("Total streaming engine events by kind."),
	); err != nil {
		return nil, err
	}
	if met.PollErrors, err = m.Int64Counter("groover.streaming.poll.errors",
		metric.WithDescription("Total failed player state requests."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("groover.active_calls",
		metric.WithDescription("Number of connected voice calls."),
	); err != nil {
		return nil, err
	}
	if met.RemoteControl, err = m.Int64UpDownCounter("groover.remote_control",
		metric.WithDescription("Whether remote-control mode is enabled."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("groover.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObserveTransport registers asynchronous instruments that report the
// counters of a sample transport on every collection. Call it once per
// transport.
func (m *Metrics) ObserveTransport(stats func() transport.Stats) error {
	frames, err := m.meter.Int64ObservableCounter("groover.transport.frames",
		metric.WithDescription("Total frames written to the sample transport."),
	)
	if err != nil {
		return err
	}
	bytes, err := m.meter.Int64ObservableCounter("groover.transport.bytes",
		metric.WithDescription("Total bytes written to the sample transport."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	blocked, err := m.meter.Float64ObservableCounter("groover.transport.blocked",
		metric.WithDescription("Total time writers spent blocked on a full transport."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	buffered, err := m.meter.Int64ObservableGauge("groover.transport.buffered",
		metric.WithDescription("Chunks currently buffered in the sample transport."),
	)
	if err != nil {
		return err
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(frames, s.Frames)
		o.ObserveInt64(bytes, s.Bytes)
		o.ObserveFloat64(blocked, s.Blocked.Seconds())
		o.ObserveInt64(buffered, int64(s.Buffered))
		return nil
	}, frames, bytes, blocked, buffered)
	return err
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordConnect records a connect attempt with its status ("ok" or "error").
func (m *Metrics) RecordConnect(ctx context.Context, status string) {
	m.Connects.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordControlMessage records a handled control message.
func (m *Metrics) RecordControlMessage(ctx context.Context, typ, status string) {
	m.ControlMessages.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("type", typ),
			attribute.String("status", status),
		),
	)
}

// RecordStreamingEvent records an engine event of the given kind.
func (m *Metrics) RecordStreamingEvent(ctx context.Context, kind string) {
	m.StreamingEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
