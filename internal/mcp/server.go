// Package mcp exposes the recording session as an MCP server over stdio.
//
// Built on the official MCP Go SDK (github.com/modelcontextprotocol/go-sdk),
// the server offers tools for the full recording lifecycle (start, stop,
// status, device and engine selection, capture testing, archive search) and
// read-only resources describing the audio and engine state. Finished
// transcripts are pushed to connected clients through the [Notifier] sink and
// surfaced as the transcript://recent resource.
//
// Tool handlers never panic and never return protocol-level errors for
// application failures; those come back as error results with a
// human-readable message.
package mcp

import (
	"context"
	"errors"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mkarren/earshot/internal/config"
	"github.com/mkarren/earshot/internal/engines"
	"github.com/mkarren/earshot/internal/session"
	"github.com/mkarren/earshot/internal/sink"
	"github.com/mkarren/earshot/pkg/archive"
	"github.com/mkarren/earshot/pkg/audio"
	"github.com/mkarren/earshot/pkg/vad"
)

// Deps are the collaborators the server operates on. Session, Engines,
// Driver, NewDetector, Notifier, Config and ConfigPath are required; Archive
// and ArchiveWriter are optional and enable the search_transcripts tool and
// per-recording archive sessions when set.
type Deps struct {
	// Session is the single recording session of the process.
	Session *session.Session

	// Engines routes transcriptions and tracks engine health.
	Engines *engines.Manager

	// Driver enumerates and opens capture devices. Must be the same driver
	// the session uses, so test_audio_capture contends for the same device.
	Driver audio.Driver

	// NewDetector builds a fresh VAD detector for test_audio_capture runs.
	NewDetector func() (vad.Detector, error)

	// Notifier is the transcript push sink shared with the session's sink
	// chain.
	Notifier *Notifier

	// Archive is the transcript store backing search_transcripts. Nil
	// disables the tool.
	Archive archive.Store

	// ArchiveWriter, when set, is told about recording starts and stops so
	// archive rows group under one session per recording.
	ArchiveWriter *sink.ArchiveWriter

	// Config is the live configuration; set_audio_device and set_stt_engine
	// mutate and persist it.
	Config *config.Config

	// ConfigPath is where persisted changes are written.
	ConfigPath string

	// Version is reported to clients during initialization.
	Version string
}

// Server is the MCP control surface.
type Server struct {
	deps Deps
	srv  *mcpsdk.Server

	// cfgMu serialises config mutation and persistence across tools.
	cfgMu sync.Mutex
}

// New builds the server and registers all tools and resources.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Session == nil:
		return nil, errors.New("mcp server: session is required")
	case deps.Engines == nil:
		return nil, errors.New("mcp server: engine manager is required")
	case deps.Driver == nil:
		return nil, errors.New("mcp server: audio driver is required")
	case deps.NewDetector == nil:
		return nil, errors.New("mcp server: detector factory is required")
	case deps.Notifier == nil:
		return nil, errors.New("mcp server: notifier is required")
	case deps.Config == nil:
		return nil, errors.New("mcp server: config is required")
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	srv := mcpsdk.NewServer(
		&mcpsdk.Implementation{Name: "earshot", Version: deps.Version},
		&mcpsdk.ServerOptions{
			Instructions: "Control a local microphone transcription session: " +
				"start and stop recording, inspect devices and engines, and " +
				"read transcripts as they arrive.",
			SubscribeHandler: func(context.Context, *mcpsdk.SubscribeRequest) error {
				return nil
			},
			UnsubscribeHandler: func(context.Context, *mcpsdk.UnsubscribeRequest) error {
				return nil
			},
		},
	)

	s := &Server{deps: deps, srv: srv}
	s.registerTools()
	s.registerResources()
	deps.Notifier.bind(srv)
	return s, nil
}

// Run serves MCP over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.srv.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "start_recording",
		Description: "Start capturing audio from the configured device. Idempotent: starting an active session reports its current state.",
	}, s.startRecording)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "stop_recording",
		Description: "Stop the recording session, flush pending segments, and report a summary.",
	}, s.stopRecording)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "get_recording_status",
		Description: "Report the session state, device, active engine, and pipeline counters.",
	}, s.getRecordingStatus)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "list_audio_devices",
		Description: "List the input-capable audio devices the capture driver can open.",
	}, s.listAudioDevices)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "set_audio_device",
		Description: "Select the capture device for the next recording and persist the choice. Fails while a recording is active.",
	}, s.setAudioDevice)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "set_stt_engine",
		Description: "Switch the active speech-to-text engine and persist the choice. Safe while recording; in-flight segments finish on the old engine.",
	}, s.setSTTEngine)

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "test_audio_capture",
		Description: "Capture a few seconds of audio and report input levels and whether speech was detected. Refuses while a recording is active.",
	}, s.testAudioCapture)

	if s.deps.Archive != nil {
		mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
			Name:        "search_transcripts",
			Description: "Search archived transcripts. Uses semantic similarity when embeddings are configured, substring matching otherwise.",
		}, s.searchTranscripts)
	}
}
