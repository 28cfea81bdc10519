// Package observe provides observability primitives for the transcription
// server: OpenTelemetry metrics, tracing helpers, and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// Pipeline counters (frames, segments, failures) live inside the recording
// session; [Metrics.ObservePipeline] exports them as asynchronous gauges so
// instrumentation never touches the frame hot path. Per-transcript metrics
// are recorded by [Sink], which composes into the session's sink fan-out.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all earshot metrics.
const meterName = "github.com/mkarren/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscriptionDuration tracks per-segment speech-to-text latency.
	// Use with attribute.String("engine", ...).
	TranscriptionDuration metric.Float64Histogram

	// TranscriptsEmitted counts transcripts delivered to the sinks. Use with
	// attribute.String("engine", ...).
	TranscriptsEmitted metric.Int64Counter

	// EngineFailures counts failed transcription attempts per engine,
	// including attempts that later succeeded on a fallback. Use with
	// attribute.String("engine", ...).
	EngineFailures metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time on the
	// telemetry listener. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// meter creates the asynchronous pipeline gauges in ObservePipeline.
	meter metric.Meter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// speech-to-text latencies, from local whisper.cpp to remote batch APIs.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.TranscriptionDuration, err = m.Float64Histogram("earshot.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptsEmitted, err = m.Int64Counter("earshot.transcripts.emitted",
		metric.WithDescription("Total transcripts delivered to the sinks, by engine."),
	); err != nil {
		return nil, err
	}
	if met.EngineFailures, err = m.Int64Counter("earshot.stt.engine_failures",
		metric.WithDescription("Total failed transcription attempts, by engine."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
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

// RecordTranscription records one finished transcription: its latency in the
// duration histogram and an increment of the emitted counter.
func (m *Metrics) RecordTranscription(ctx context.Context, engine string, latency time.Duration) {
	attrs := metric.WithAttributes(attribute.String("engine", engine))
	m.TranscriptionDuration.Record(ctx, latency.Seconds(), attrs)
	m.TranscriptsEmitted.Add(ctx, 1, attrs)
}

// RecordEngineFailure records one failed transcription attempt for engine.
func (m *Metrics) RecordEngineFailure(ctx context.Context, engine string) {
	m.EngineFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("engine", engine)))
}
