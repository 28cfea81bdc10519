package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mkarren/earshot/internal/engines"
	"github.com/mkarren/earshot/internal/session"
	"github.com/mkarren/earshot/pkg/provider/stt"
)

var _ session.TranscriptSink = (*Sink)(nil)

// Sink is a [session.TranscriptSink] that records per-transcript metrics.
// Compose it into the sink fan-out alongside the delivery sinks.
type Sink struct {
	m *Metrics
}

// NewSink wraps m in a transcript sink.
func NewSink(m *Metrics) *Sink {
	return &Sink{m: m}
}

// Emit implements [session.TranscriptSink].
func (s *Sink) Emit(ctx context.Context, tr stt.Transcript) {
	s.m.RecordTranscription(ctx, tr.Engine, tr.Latency)
}

// ObservePipeline exports the session's cumulative counters and the
// per-engine health states as asynchronous gauges, sampled at collection
// time. The returned registration should be unregistered at shutdown.
//
// The session resets its counters at every Start, so these are gauges over
// the current (or last) recording, not process-lifetime totals.
func (m *Metrics) ObservePipeline(sess *session.Session, mgr *engines.Manager) (metric.Registration, error) {
	framesRead, err := m.meter.Int64ObservableGauge("earshot.capture.frames_read",
		metric.WithDescription("Frames consumed from the capture stream in the current recording."))
	if err != nil {
		return nil, err
	}
	framesDropped, err := m.meter.Int64ObservableGauge("earshot.capture.frames_dropped",
		metric.WithDescription("Frames discarded due to capture overflow in the current recording."))
	if err != nil {
		return nil, err
	}
	segmentsSealed, err := m.meter.Int64ObservableGauge("earshot.segments.sealed",
		metric.WithDescription("Speech segments handed to the transcription dispatcher in the current recording."))
	if err != nil {
		return nil, err
	}
	segmentsDropped, err := m.meter.Int64ObservableGauge("earshot.segments.dropped",
		metric.WithDescription("Sealed segments discarded because the transcription queue was full."))
	if err != nil {
		return nil, err
	}
	failures, err := m.meter.Int64ObservableGauge("earshot.transcription.failures",
		metric.WithDescription("Segments whose transcription failed after all retries and fallbacks."))
	if err != nil {
		return nil, err
	}
	active, err := m.meter.Int64ObservableGauge("earshot.recording.active",
		metric.WithDescription("1 while a recording session is live, 0 while idle."))
	if err != nil {
		return nil, err
	}
	engineHealth, err := m.meter.Int64ObservableGauge("earshot.stt.engine_health",
		metric.WithDescription("Engine health by engine: 0 available, 1 degraded, 2 unavailable."))
	if err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := sess.Status()
		o.ObserveInt64(framesRead, int64(st.Stats.FramesRead))
		o.ObserveInt64(framesDropped, int64(st.Stats.FramesDropped))
		o.ObserveInt64(segmentsSealed, int64(st.Stats.SegmentsSealed))
		o.ObserveInt64(segmentsDropped, int64(st.Stats.SegmentsDropped))
		o.ObserveInt64(failures, int64(st.Stats.TranscriptionFailures))

		var live int64
		if st.State != session.StateIdle {
			live = 1
		}
		o.ObserveInt64(active, live)

		for _, d := range mgr.Status() {
			o.ObserveInt64(engineHealth, int64(d.Health),
				metric.WithAttributes(attribute.String("engine", d.Name)))
		}
		return nil
	}, framesRead, framesDropped, segmentsSealed, segmentsDropped, failures, active, engineHealth)
}
