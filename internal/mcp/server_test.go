package mcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mkarren/earshot/internal/config"
	"github.com/mkarren/earshot/internal/engines"
	"github.com/mkarren/earshot/internal/session"
	"github.com/mkarren/earshot/internal/sink"
	"github.com/mkarren/earshot/pkg/archive"
	archivemock "github.com/mkarren/earshot/pkg/archive/mock"
	"github.com/mkarren/earshot/pkg/audio"
	audiomock "github.com/mkarren/earshot/pkg/audio/mock"
	"github.com/mkarren/earshot/pkg/provider/stt"
	sttmock "github.com/mkarren/earshot/pkg/provider/stt/mock"
	"github.com/mkarren/earshot/pkg/vad"
	vadmock "github.com/mkarren/earshot/pkg/vad/mock"
)

type testEnv struct {
	server   *Server
	driver   *audiomock.Driver
	stream   *audiomock.Stream
	sess     *session.Session
	mgr      *engines.Manager
	store    *archivemock.Store
	notifier *Notifier
	cfg      *config.Config
	cfgPath  string
}

func newTestEnv(t *testing.T, withArchive bool) *testEnv {
	t.Helper()

	stream := audiomock.NewStream(64)
	driver := &audiomock.Driver{
		OpenResult: stream,
		DevicesResult: []audio.Device{
			{ID: "usb-mic", Name: "USB Microphone", Channels: 1, Default: true},
			{ID: "line-in", Name: "Line In", Channels: 2},
		},
	}

	mgr, err := engines.New([]stt.Engine{
		&sttmock.Engine{NameValue: "whisper"},
		&sttmock.Engine{NameValue: "openai", CapabilitiesValue: stt.Capabilities{Network: true}},
	})
	if err != nil {
		t.Fatalf("engines.New: %v", err)
	}
	if err := mgr.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	notifier := NewNotifier(0)
	sess := session.New(driver, &vadmock.Detector{}, mgr, notifier, session.Config{
		SampleRate: 16000,
		Channels:   1,
		FrameSize:  320,
	})

	cfg := &config.Config{}
	cfg.Audio.Driver = "pcmexec"
	cfg.Audio.SampleRate = 16000
	cfg.Audio.Channels = 1
	cfg.Audio.FrameSize = 320
	cfg.VAD.Mode = "hybrid"
	cfg.VAD.Aggressiveness = 2
	cfg.STT.DefaultEngine = "whisper"

	env := &testEnv{
		driver:   driver,
		stream:   stream,
		sess:     sess,
		mgr:      mgr,
		notifier: notifier,
		cfg:      cfg,
		cfgPath:  filepath.Join(t.TempDir(), "config.yaml"),
	}

	deps := Deps{
		Session: sess,
		Engines: mgr,
		Driver:  driver,
		NewDetector: func() (vad.Detector, error) {
			return &vadmock.Detector{Decisions: []vad.Decision{{Speech: true, Confidence: 0.9}}}, nil
		},
		Notifier:   notifier,
		Config:     cfg,
		ConfigPath: env.cfgPath,
		Version:    "test",
	}
	if withArchive {
		env.store = &archivemock.Store{SessionID: 7}
		deps.Archive = env.store
		deps.ArchiveWriter = sink.NewArchiveWriter(env.store)
	}

	env.server, err = New(deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.sess.Stop(ctx)
	})
	return env
}

func resultText(t *testing.T, r *mcpsdk.CallToolResult) string {
	t.Helper()
	if r == nil || len(r.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := r.Content[0].(*mcpsdk.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *TextContent", r.Content[0])
	}
	return tc.Text
}

func speechFrame(seq uint64) audio.Frame {
	data := make([]byte, 640) // 320 mono samples at 16 kHz = 20 ms
	for i := 0; i < len(data); i += 2 {
		data[i+1] = 0x20
	}
	return audio.Frame{Seq: seq, Data: data, SampleRate: 16000, Channels: 1}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Fatal("New accepted empty deps")
	}
}

func TestStartStopRecording_Lifecycle(t *testing.T) {
	env := newTestEnv(t, true)
	ctx := context.Background()

	r, _, _ := env.server.startRecording(ctx, nil, emptyArgs{})
	if r.IsError {
		t.Fatalf("start failed: %s", resultText(t, r))
	}
	if text := resultText(t, r); !strings.Contains(text, "recording started") {
		t.Errorf("start text = %q", text)
	}
	if len(env.store.BeginCalls) != 1 {
		t.Errorf("archive BeginSession called %d times, want 1", len(env.store.BeginCalls))
	}

	// Starting again is a no-op.
	r, _, _ = env.server.startRecording(ctx, nil, emptyArgs{})
	if text := resultText(t, r); !strings.Contains(text, "already active") {
		t.Errorf("second start text = %q", text)
	}
	if len(env.store.BeginCalls) != 1 {
		t.Errorf("second start opened another archive session: %v", env.store.BeginCalls)
	}

	r, _, _ = env.server.stopRecording(ctx, nil, emptyArgs{})
	if r.IsError {
		t.Fatalf("stop failed: %s", resultText(t, r))
	}
	if text := resultText(t, r); !strings.Contains(text, "recording stopped") {
		t.Errorf("stop text = %q", text)
	}
	if len(env.store.EndCalls) != 1 || env.store.EndCalls[0] != 7 {
		t.Errorf("archive EndCalls = %v", env.store.EndCalls)
	}

	// Stopping again reports there is nothing to stop.
	r, _, _ = env.server.stopRecording(ctx, nil, emptyArgs{})
	if text := resultText(t, r); !strings.Contains(text, "no recording in progress") {
		t.Errorf("second stop text = %q", text)
	}
}

func TestGetRecordingStatus_Idle(t *testing.T) {
	env := newTestEnv(t, false)

	r, _, _ := env.server.getRecordingStatus(context.Background(), nil, emptyArgs{})
	text := resultText(t, r)
	if !strings.Contains(text, `"state": "idle"`) {
		t.Errorf("status = %s", text)
	}
	if !strings.Contains(text, `"engine": "whisper"`) {
		t.Errorf("status missing active engine: %s", text)
	}
}

func TestListAudioDevices(t *testing.T) {
	env := newTestEnv(t, false)

	r, _, _ := env.server.listAudioDevices(context.Background(), nil, emptyArgs{})
	text := resultText(t, r)
	if !strings.Contains(text, "usb-mic") || !strings.Contains(text, "line-in") {
		t.Errorf("device list = %s", text)
	}

	env.driver.DevicesError = errors.New("enumeration failed")
	r, _, _ = env.server.listAudioDevices(context.Background(), nil, emptyArgs{})
	if !r.IsError {
		t.Error("expected an error result when enumeration fails")
	}
}

func TestSetAudioDevice_PersistsConfig(t *testing.T) {
	env := newTestEnv(t, false)

	r, _, _ := env.server.setAudioDevice(context.Background(), nil, setAudioDeviceArgs{DeviceID: "line-in"})
	if r.IsError {
		t.Fatalf("set device failed: %s", resultText(t, r))
	}
	if got := env.sess.Device(); got != "line-in" {
		t.Errorf("session device = %q, want line-in", got)
	}

	data, err := os.ReadFile(env.cfgPath)
	if err != nil {
		t.Fatalf("config not persisted: %v", err)
	}
	if !strings.Contains(string(data), "device_id: line-in") {
		t.Errorf("persisted config missing device: %s", data)
	}
}

func TestSetAudioDevice_RejectsUnknownID(t *testing.T) {
	env := newTestEnv(t, false)

	r, _, _ := env.server.setAudioDevice(context.Background(), nil, setAudioDeviceArgs{DeviceID: "usb-mix"})
	if !r.IsError {
		t.Fatal("expected an error result for an unenumerated device ID")
	}
	if !strings.Contains(resultText(t, r), "unknown device") {
		t.Errorf("error text = %q, want an unknown-device explanation", resultText(t, r))
	}

	// The typo must not reach the session or the config file.
	if got := env.sess.Device(); got == "usb-mix" {
		t.Error("unknown device ID was applied to the session")
	}
	if _, err := os.ReadFile(env.cfgPath); !errors.Is(err, os.ErrNotExist) {
		t.Error("config was persisted despite the invalid device ID")
	}
}

func TestSetAudioDevice_RequiresID(t *testing.T) {
	env := newTestEnv(t, false)

	r, _, _ := env.server.setAudioDevice(context.Background(), nil, setAudioDeviceArgs{})
	if !r.IsError {
		t.Error("expected an error result for an empty device_id")
	}
}

func TestSetAudioDevice_FailsWhileRecording(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	if r, _, _ := env.server.startRecording(ctx, nil, emptyArgs{}); r.IsError {
		t.Fatalf("start failed: %s", resultText(t, r))
	}
	r, _, _ := env.server.setAudioDevice(ctx, nil, setAudioDeviceArgs{DeviceID: "line-in"})
	if !r.IsError {
		t.Error("expected an error result while recording")
	}
	if !strings.Contains(resultText(t, r), "busy") {
		t.Errorf("error text = %q, want a device-busy explanation", resultText(t, r))
	}
}

func TestSetSTTEngine(t *testing.T) {
	env := newTestEnv(t, false)

	r, _, _ := env.server.setSTTEngine(context.Background(), nil, setSTTEngineArgs{Engine: "openai"})
	if r.IsError {
		t.Fatalf("set engine failed: %s", resultText(t, r))
	}
	if got := env.mgr.Active(); got != "openai" {
		t.Errorf("active engine = %q, want openai", got)
	}

	data, err := os.ReadFile(env.cfgPath)
	if err != nil {
		t.Fatalf("config not persisted: %v", err)
	}
	if !strings.Contains(string(data), "default_engine: openai") {
		t.Errorf("persisted config missing engine: %s", data)
	}

	r, _, _ = env.server.setSTTEngine(context.Background(), nil, setSTTEngineArgs{Engine: "nonsense"})
	if !r.IsError {
		t.Error("expected an error result for an unknown engine")
	}
}

func TestTestAudioCapture_ReportsLevels(t *testing.T) {
	env := newTestEnv(t, false)

	// Pre-feed a short clip, then end the stream so the capture loop
	// finishes before the requested duration.
	for seq := uint64(0); seq < 10; seq++ {
		env.stream.Feed(speechFrame(seq))
	}
	env.stream.End()

	r, _, _ := env.server.testAudioCapture(context.Background(), nil, testAudioCaptureArgs{DurationSeconds: 3})
	if r.IsError {
		t.Fatalf("capture test failed: %s", resultText(t, r))
	}
	text := resultText(t, r)
	if !strings.Contains(text, "speech detected") {
		t.Errorf("capture report = %q, want speech detection", text)
	}
	if !strings.Contains(text, "rms") {
		t.Errorf("capture report = %q, want level measurements", text)
	}
	if env.stream.CallCountClose == 0 {
		t.Error("capture test did not close the stream")
	}
}

func TestTestAudioCapture_RefusesWhileRecording(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	if r, _, _ := env.server.startRecording(ctx, nil, emptyArgs{}); r.IsError {
		t.Fatalf("start failed: %s", resultText(t, r))
	}
	r, _, _ := env.server.testAudioCapture(ctx, nil, testAudioCaptureArgs{})
	if !r.IsError {
		t.Error("expected a refusal while the session is live")
	}
}

func TestTestAudioCapture_OpenFailure(t *testing.T) {
	env := newTestEnv(t, false)
	env.driver.OpenError = audio.ErrDeviceUnavailable

	r, _, _ := env.server.testAudioCapture(context.Background(), nil, testAudioCaptureArgs{})
	if !r.IsError {
		t.Error("expected an error result when the device cannot be opened")
	}
}

func TestSearchTranscripts(t *testing.T) {
	env := newTestEnv(t, true)
	env.store.SearchResults = []archive.SearchResult{
		{Entry: archive.Entry{ID: 1, SessionID: 7, Seq: 3, Text: "restart Grafana"}, Distance: 0.12},
		{Entry: archive.Entry{ID: 2, SessionID: 7, Seq: 9, Text: "Grafana is back"}, Distance: 0.31},
	}

	r, _, _ := env.server.searchTranscripts(context.Background(), nil, searchTranscriptsArgs{Query: "grafana"})
	if r.IsError {
		t.Fatalf("search failed: %s", resultText(t, r))
	}
	text := resultText(t, r)
	if !strings.Contains(text, "restart Grafana") || !strings.Contains(text, "distance 0.120") {
		t.Errorf("search output = %q", text)
	}
	if len(env.store.SearchQueries) != 1 || env.store.SearchQueries[0] != "grafana" {
		t.Errorf("store queries = %v", env.store.SearchQueries)
	}

	r, _, _ = env.server.searchTranscripts(context.Background(), nil, searchTranscriptsArgs{})
	if !r.IsError {
		t.Error("expected an error result for an empty query")
	}
}

func TestSearchTranscripts_NoMatches(t *testing.T) {
	env := newTestEnv(t, true)

	r, _, _ := env.server.searchTranscripts(context.Background(), nil, searchTranscriptsArgs{Query: "nothing"})
	if text := resultText(t, r); !strings.Contains(text, "no transcripts matched") {
		t.Errorf("output = %q", text)
	}
}

func TestNotifier_RingIsBounded(t *testing.T) {
	n := NewNotifier(3)
	ctx := context.Background()

	for seq := uint64(0); seq < 5; seq++ {
		n.Emit(ctx, stt.Transcript{Seq: seq, Text: "t"})
	}

	got := n.recent()
	if len(got) != 3 {
		t.Fatalf("ring holds %d transcripts, want 3", len(got))
	}
	if got[0].Seq != 2 || got[2].Seq != 4 {
		t.Errorf("ring = %+v, want seqs 2..4 oldest first", got)
	}
}

func TestReadResources(t *testing.T) {
	env := newTestEnv(t, false)
	ctx := context.Background()

	env.notifier.Emit(ctx, stt.Transcript{Seq: 1, Text: "hello there", Engine: "whisper"})

	res, err := env.server.readRecent(ctx, nil)
	if err != nil {
		t.Fatalf("readRecent: %v", err)
	}
	if !strings.Contains(res.Contents[0].Text, "hello there") {
		t.Errorf("recent resource = %s", res.Contents[0].Text)
	}

	res, err = env.server.readEngines(ctx, nil)
	if err != nil {
		t.Fatalf("readEngines: %v", err)
	}
	text := res.Contents[0].Text
	if !strings.Contains(text, `"name": "whisper"`) || !strings.Contains(text, `"health": "available"`) {
		t.Errorf("engines resource = %s", text)
	}

	res, err = env.server.readConfig(ctx, nil)
	if err != nil {
		t.Fatalf("readConfig: %v", err)
	}
	if !strings.Contains(res.Contents[0].Text, `"sample_rate": 16000`) {
		t.Errorf("config resource = %s", res.Contents[0].Text)
	}

	res, err = env.server.readDevices(ctx, nil)
	if err != nil {
		t.Fatalf("readDevices: %v", err)
	}
	if !strings.Contains(res.Contents[0].Text, "USB Microphone") {
		t.Errorf("devices resource = %s", res.Contents[0].Text)
	}
}
