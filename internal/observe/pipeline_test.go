package observe

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/mkarren/earshot/internal/engines"
	"github.com/mkarren/earshot/internal/session"
	audiomock "github.com/mkarren/earshot/pkg/audio/mock"
	"github.com/mkarren/earshot/pkg/provider/stt"
	sttmock "github.com/mkarren/earshot/pkg/provider/stt/mock"
	vadmock "github.com/mkarren/earshot/pkg/vad/mock"
)

// discardSink drops transcripts; the pipeline tests only look at metrics.
type discardSink struct{}

func (discardSink) Emit(context.Context, stt.Transcript) {}

func newTestPipeline(t *testing.T) (*session.Session, *engines.Manager) {
	t.Helper()

	mgr, err := engines.New([]stt.Engine{
		&sttmock.Engine{NameValue: "whisper"},
	})
	if err != nil {
		t.Fatalf("engines.New: %v", err)
	}
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	drv := &audiomock.Driver{OpenResult: audiomock.NewStream(8)}
	sess := session.New(drv, &vadmock.Detector{}, mgr, discardSink{}, session.Config{
		SampleRate: 16000,
		Channels:   1,
		FrameSize:  320,
	})
	return sess, mgr
}

func TestObservePipeline_ExportsGauges(t *testing.T) {
	m, reader := newTestMetrics(t)
	sess, mgr := newTestPipeline(t)

	reg, err := m.ObservePipeline(sess, mgr)
	if err != nil {
		t.Fatalf("ObservePipeline: %v", err)
	}
	t.Cleanup(func() { _ = reg.Unregister() })

	rm := collect(t, reader)

	// Idle session reports zero counters and recording.active = 0.
	for _, name := range []string{
		"earshot.capture.frames_read",
		"earshot.capture.frames_dropped",
		"earshot.segments.sealed",
		"earshot.segments.dropped",
		"earshot.transcription.failures",
		"earshot.recording.active",
	} {
		met := findMetric(rm, name)
		if met == nil {
			t.Fatalf("metric %q not found", name)
		}
		g, ok := met.Data.(metricdata.Gauge[int64])
		if !ok {
			t.Fatalf("metric %q is not an int64 gauge", name)
		}
		if len(g.DataPoints) == 0 {
			t.Fatalf("metric %q has no data points", name)
		}
		if got := g.DataPoints[0].Value; got != 0 {
			t.Errorf("%s = %d, want 0", name, got)
		}
	}

	// Engine health should carry one data point per engine.
	met := findMetric(rm, "earshot.stt.engine_health")
	if met == nil {
		t.Fatal("metric earshot.stt.engine_health not found")
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatal("engine_health is not an int64 gauge")
	}
	if len(g.DataPoints) != 1 {
		t.Fatalf("engine_health data points = %d, want 1", len(g.DataPoints))
	}
	foundEngine := false
	for _, kv := range g.DataPoints[0].Attributes.ToSlice() {
		if string(kv.Key) == "engine" && kv.Value.AsString() == "whisper" {
			foundEngine = true
		}
	}
	if !foundEngine {
		t.Error("engine_health missing engine=whisper attribute")
	}
	if got := g.DataPoints[0].Value; got != int64(engines.HealthAvailable) {
		t.Errorf("engine_health = %d, want %d", got, engines.HealthAvailable)
	}
}

func TestSink_RecordsTranscriptMetrics(t *testing.T) {
	m, reader := newTestMetrics(t)
	s := NewSink(m)

	s.Emit(context.Background(), stt.Transcript{
		Text:    "hello world",
		Engine:  "whisper",
		Latency: 300 * time.Millisecond,
	})

	rm := collect(t, reader)

	met := findMetric(rm, "earshot.transcripts.emitted")
	if met == nil {
		t.Fatal("metric earshot.transcripts.emitted not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("emitted is not a sum")
	}
	if len(sum.DataPoints) == 0 || sum.DataPoints[0].Value != 1 {
		t.Fatal("emitted counter not incremented")
	}

	met = findMetric(rm, "earshot.stt.duration")
	if met == nil {
		t.Fatal("metric earshot.stt.duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("stt.duration is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Fatal("duration histogram not recorded")
	}
	if got := hist.DataPoints[0].Sum; got < 0.29 || got > 0.31 {
		t.Errorf("recorded latency = %v, want ~0.3", got)
	}
}
