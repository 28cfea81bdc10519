package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mkarren/earshot/internal/config"
	"github.com/mkarren/earshot/internal/session"
	"github.com/mkarren/earshot/pkg/audio"
)

// testCaptureMaxSeconds caps test_audio_capture so a bad argument cannot
// hold the device for minutes.
const testCaptureMaxSeconds = 30

type emptyArgs struct{}

func textResult(format string, args ...any) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

func errorResult(format string, args ...any) *mcpsdk.CallToolResult {
	r := textResult(format, args...)
	r.IsError = true
	return r
}

// jsonResult renders v as indented JSON text content.
func jsonResult(v any) *mcpsdk.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encode result: %v", err)
	}
	return textResult("%s", data)
}

func deviceLabel(id string) string {
	if id == "" {
		return "default"
	}
	return id
}

func (s *Server) startRecording(ctx context.Context, _ *mcpsdk.CallToolRequest, _ emptyArgs) (*mcpsdk.CallToolResult, any, error) {
	before := s.deps.Session.Status().State

	st, err := s.deps.Session.Start(ctx)
	if err != nil {
		return errorResult("start recording: %v", err), nil, nil
	}
	if before == session.StateStarting || before == session.StateActive {
		return textResult("recording already active on device %s", deviceLabel(st.DeviceID)), nil, nil
	}

	engine := s.deps.Engines.Active()
	if s.deps.ArchiveWriter != nil {
		s.deps.ArchiveWriter.SessionStarted(ctx, st.DeviceID, engine)
	}
	return textResult("recording started on device %s with engine %s",
		deviceLabel(st.DeviceID), engine), nil, nil
}

func (s *Server) stopRecording(ctx context.Context, _ *mcpsdk.CallToolRequest, _ emptyArgs) (*mcpsdk.CallToolResult, any, error) {
	before := s.deps.Session.Status().State

	st, err := s.deps.Session.Stop(ctx)
	if err != nil {
		return errorResult("stop recording: %v", err), nil, nil
	}
	if s.deps.ArchiveWriter != nil {
		s.deps.ArchiveWriter.SessionStopped(ctx)
	}
	if before == session.StateIdle {
		return textResult("no recording in progress"), nil, nil
	}

	stats := st.Stats
	summary := fmt.Sprintf(
		"recording stopped: %d transcripts from %d segments (%d dropped, %d discarded as noise), %d frames read (%d dropped), %d transcription failures",
		stats.TranscriptsEmitted, stats.SegmentsSealed, stats.SegmentsDropped,
		stats.SegmentsDiscarded, stats.FramesRead, stats.FramesDropped,
		stats.TranscriptionFailures)
	if st.LastError != "" {
		summary += "; last error: " + st.LastError
	}
	return textResult("%s", summary), nil, nil
}

type statusPayload struct {
	State                 string `json:"state"`
	Device                string `json:"device"`
	Engine                string `json:"engine"`
	StartedAt             string `json:"started_at,omitempty"`
	FramesRead            uint64 `json:"frames_read"`
	FramesDropped         uint64 `json:"frames_dropped"`
	SegmentsSealed        uint64 `json:"segments_sealed"`
	SegmentsDropped       uint64 `json:"segments_dropped"`
	SegmentsDiscarded     uint64 `json:"segments_discarded"`
	TranscriptsEmitted    uint64 `json:"transcripts_emitted"`
	TranscriptionFailures uint64 `json:"transcription_failures"`
	LastError             string `json:"last_error,omitempty"`
}

func (s *Server) getRecordingStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ emptyArgs) (*mcpsdk.CallToolResult, any, error) {
	st := s.deps.Session.Status()

	p := statusPayload{
		State:                 st.State.String(),
		Device:                deviceLabel(st.DeviceID),
		Engine:                s.deps.Engines.Active(),
		FramesRead:            st.Stats.FramesRead,
		FramesDropped:         st.Stats.FramesDropped,
		SegmentsSealed:        st.Stats.SegmentsSealed,
		SegmentsDropped:       st.Stats.SegmentsDropped,
		SegmentsDiscarded:     st.Stats.SegmentsDiscarded,
		TranscriptsEmitted:    st.Stats.TranscriptsEmitted,
		TranscriptionFailures: st.Stats.TranscriptionFailures,
		LastError:             st.LastError,
	}
	if !st.StartedAt.IsZero() {
		p.StartedAt = st.StartedAt.Format(time.RFC3339)
	}
	return jsonResult(p), nil, nil
}

type devicePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Channels    int    `json:"channels"`
	SampleRates []int  `json:"sample_rates,omitempty"`
	Default     bool   `json:"default"`
}

func devicePayloads(devices []audio.Device) []devicePayload {
	out := make([]devicePayload, len(devices))
	for i, d := range devices {
		out[i] = devicePayload{
			ID:          d.ID,
			Name:        d.Name,
			Channels:    d.Channels,
			SampleRates: d.SampleRates,
			Default:     d.Default,
		}
	}
	return out
}

func (s *Server) listAudioDevices(ctx context.Context, _ *mcpsdk.CallToolRequest, _ emptyArgs) (*mcpsdk.CallToolResult, any, error) {
	devices, err := s.deps.Driver.Devices(ctx)
	if err != nil {
		return errorResult("list devices: %v", err), nil, nil
	}
	if len(devices) == 0 {
		return textResult("no input devices found"), nil, nil
	}
	return jsonResult(devicePayloads(devices)), nil, nil
}

type setAudioDeviceArgs struct {
	DeviceID string `json:"device_id"`
}

func (s *Server) setAudioDevice(ctx context.Context, _ *mcpsdk.CallToolRequest, args setAudioDeviceArgs) (*mcpsdk.CallToolResult, any, error) {
	id := strings.TrimSpace(args.DeviceID)
	if id == "" {
		return errorResult("device_id is required"), nil, nil
	}

	// Reject unknown IDs before anything is persisted, so a typo surfaces
	// here instead of as DeviceUnavailable at the next start.
	devices, err := s.deps.Driver.Devices(ctx)
	if err != nil {
		return errorResult("list devices: %v", err), nil, nil
	}
	if !slices.ContainsFunc(devices, func(d audio.Device) bool { return d.ID == id }) {
		return errorResult("unknown device %q; call list_audio_devices for valid IDs", id), nil, nil
	}

	if err := s.deps.Session.SetDevice(id); err != nil {
		return errorResult("set device: %v", err), nil, nil
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.deps.Config.Audio.DeviceID = id
	if err := config.Save(s.deps.ConfigPath, s.deps.Config); err != nil {
		return errorResult("device set to %q but persisting the config failed: %v", id, err), nil, nil
	}
	return textResult("capture device set to %q", id), nil, nil
}

type setSTTEngineArgs struct {
	Engine string `json:"engine"`
}

func (s *Server) setSTTEngine(_ context.Context, _ *mcpsdk.CallToolRequest, args setSTTEngineArgs) (*mcpsdk.CallToolResult, any, error) {
	name := strings.TrimSpace(args.Engine)
	if name == "" {
		return errorResult("engine is required"), nil, nil
	}

	if err := s.deps.Engines.SetActive(name); err != nil {
		return errorResult("set engine: %v", err), nil, nil
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	s.deps.Config.STT.DefaultEngine = name
	if err := config.Save(s.deps.ConfigPath, s.deps.Config); err != nil {
		return errorResult("engine set to %q but persisting the config failed: %v", name, err), nil, nil
	}
	return textResult("active engine set to %q", name), nil, nil
}

type testAudioCaptureArgs struct {
	DurationSeconds int `json:"duration_seconds,omitempty"`
}

func (s *Server) testAudioCapture(ctx context.Context, _ *mcpsdk.CallToolRequest, args testAudioCaptureArgs) (*mcpsdk.CallToolResult, any, error) {
	if st := s.deps.Session.Status().State; st != session.StateIdle {
		return errorResult("refusing to test capture while the session is %s", st), nil, nil
	}

	seconds := args.DurationSeconds
	if seconds <= 0 {
		seconds = 3
	}
	if seconds > testCaptureMaxSeconds {
		seconds = testCaptureMaxSeconds
	}

	det, err := s.deps.NewDetector()
	if err != nil {
		return errorResult("build detector: %v", err), nil, nil
	}
	det.Reset()

	audioCfg := s.deps.Config.Audio
	stream, err := s.deps.Driver.Open(ctx, audio.OpenConfig{
		DeviceID:   s.deps.Session.Device(),
		SampleRate: audioCfg.SampleRate,
		Channels:   audioCfg.Channels,
		FrameSize:  audioCfg.FrameSize,
		QueueDepth: audioCfg.QueueDepth,
	})
	if err != nil {
		return errorResult("open capture device: %v", err), nil, nil
	}
	defer stream.Close()

	var (
		meter   audio.Meter
		elapsed time.Duration
		frames  int
		speech  int
	)
	target := time.Duration(seconds) * time.Second

capture:
	for elapsed < target {
		select {
		case <-ctx.Done():
			return errorResult("capture test cancelled: %v", ctx.Err()), nil, nil
		case f, ok := <-stream.Frames():
			if !ok {
				if err := stream.Err(); err != nil {
					return errorResult("capture failed after %.1fs: %v", elapsed.Seconds(), err), nil, nil
				}
				break capture
			}
			meter.Add(f.Data)
			if det.Classify(f).Speech {
				speech++
			}
			frames++
			elapsed += f.Duration()
		}
	}

	if frames == 0 {
		return errorResult("no audio frames received from device %s", deviceLabel(s.deps.Session.Device())), nil, nil
	}

	verdict := "no speech detected"
	if speech > 0 {
		verdict = fmt.Sprintf("speech detected (%d of %d frames)", speech, frames)
	}
	return textResult("captured %.1fs over %d frames: rms %.3f, peak %.3f, %s",
		elapsed.Seconds(), frames, meter.RMSRatio(), meter.PeakRatio(), verdict), nil, nil
}

type searchTranscriptsArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (s *Server) searchTranscripts(ctx context.Context, _ *mcpsdk.CallToolRequest, args searchTranscriptsArgs) (*mcpsdk.CallToolResult, any, error) {
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return errorResult("query is required"), nil, nil
	}
	limit := args.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	results, err := s.deps.Archive.Search(ctx, query, limit)
	if err != nil {
		return errorResult("search transcripts: %v", err), nil, nil
	}
	if len(results) == 0 {
		return textResult("no transcripts matched %q", query), nil, nil
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. [session %d, seq %d] %s", i+1, r.Entry.SessionID, r.Entry.Seq, r.Entry.Text)
		if r.Distance > 0 {
			fmt.Fprintf(&sb, " (distance %.3f)", r.Distance)
		}
		sb.WriteByte('\n')
	}
	return textResult("%s", strings.TrimRight(sb.String(), "\n")), nil, nil
}
