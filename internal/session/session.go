// Package session implements the recording session state machine at the
// heart of the capture pipeline.
//
// A [Session] owns the one microphone stream the process may hold: it pulls
// frames from an [audio.Driver], classifies them with a [vad.Detector],
// assembles speech segments, and hands sealed segments to a bounded
// transcription dispatcher backed by a [Transcriber]. Finished transcripts
// reach the configured [TranscriptSink] strictly in seal order.
//
// The session moves through four states: Idle, Starting, Active, Stopping.
// The capture stream is open exactly while the state is Starting or Active.
// Start is idempotent; Stop force-seals any open segment, gives in-flight
// transcriptions a grace period, and always lands back in Idle.
//
// Session is safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mkarren/earshot/pkg/audio"
	"github.com/mkarren/earshot/pkg/vad"
)

// ErrSegmentDropped marks a sealed segment discarded because the
// transcription queue was full. Informational; the pipeline keeps running.
var ErrSegmentDropped = errors.New("session: segment dropped")

// State is the recording session lifecycle state.
type State int

const (
	// StateIdle means no capture is in progress and the device is closed.
	StateIdle State = iota

	// StateStarting means the device is open but no frame has been read yet.
	StateStarting

	// StateActive means the reader loop is consuming frames.
	StateActive

	// StateStopping means teardown is in progress: the open segment is being
	// flushed and in-flight transcriptions are draining.
	StateStopping
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config holds the session's capture and pipeline settings.
type Config struct {
	// DeviceID is the initial capture device. Empty selects the driver's
	// default. Changeable between recordings via SetDevice.
	DeviceID string

	// SampleRate in Hz.
	SampleRate int

	// Channels is the capture channel count.
	Channels int

	// FrameSize is the samples-per-frame requested from the driver.
	FrameSize int

	// QueueDepth bounds the driver's frame queue. Zero selects the driver
	// default.
	QueueDepth int

	// Segment tunes speech segment assembly.
	Segment SegmentConfig

	// Pipeline tunes the transcription dispatch stage.
	Pipeline PipelineConfig
}

// Stats are the session's cumulative counters since the last Start.
type Stats struct {
	// FramesRead is the number of frames consumed from the capture stream.
	FramesRead uint64

	// FramesDropped is the number of frames the driver discarded due to
	// consumer backpressure (capture overflow).
	FramesDropped uint64

	// SegmentsSealed counts segments handed to the dispatcher.
	SegmentsSealed uint64

	// SegmentsDropped counts sealed segments discarded because the
	// transcription queue was full.
	SegmentsDropped uint64

	// SegmentsDiscarded counts speech runs below the minimum duration,
	// treated as noise.
	SegmentsDiscarded uint64

	// TranscriptsEmitted counts transcripts delivered to the sink.
	TranscriptsEmitted uint64

	// TranscriptionFailures counts segments whose transcription failed after
	// all engine retries and fallbacks.
	TranscriptionFailures uint64
}

// Status is a point-in-time snapshot of the session.
type Status struct {
	// State is the lifecycle state at snapshot time.
	State State

	// DeviceID is the configured capture device target.
	DeviceID string

	// StartedAt is when the current (or last) recording started. Zero if
	// the session never started.
	StartedAt time.Time

	// Stats are the counters of the current (or last) recording.
	Stats Stats

	// LastError is the message of the most recent session-level failure,
	// e.g. a device unplug that forced a stop. Empty otherwise.
	LastError string
}

// Session is the recording session state machine. Create one per process
// with [New]; the single instance embodies exclusive microphone ownership.
type Session struct {
	driver audio.Driver
	det    vad.Detector
	trans  Transcriber
	sink   TranscriptSink
	cfg    Config

	mu        sync.Mutex
	state     State
	device    string
	stream    audio.Stream
	disp      *dispatcher
	cancel    context.CancelFunc
	done      chan struct{}
	stats     Stats
	startedAt time.Time
	lastErr   error
}

// New creates an idle session. The detector is owned by the session and
// reset at every start.
func New(driver audio.Driver, det vad.Detector, trans Transcriber, sink TranscriptSink, cfg Config) *Session {
	return &Session{
		driver: driver,
		det:    det,
		trans:  trans,
		sink:   sink,
		cfg:    cfg,
		device: cfg.DeviceID,
	}
}

// Start opens the capture device and launches the reader loop. Starting an
// already Starting or Active session is a no-op returning the current
// status. On any open failure the session rolls back to Idle with the
// device closed and the error is returned.
func (s *Session) Start(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateStarting, StateActive:
		return s.statusLocked(), nil
	case StateStopping:
		return s.statusLocked(), errors.New("session: stop in progress, retry shortly")
	}

	s.state = StateStarting
	s.stats = Stats{}
	s.lastErr = nil

	stream, err := s.driver.Open(ctx, audio.OpenConfig{
		DeviceID:   s.device,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
		FrameSize:  s.cfg.FrameSize,
		QueueDepth: s.cfg.QueueDepth,
	})
	if err != nil {
		s.state = StateIdle
		s.lastErr = err
		return s.statusLocked(), fmt.Errorf("session: start: %w", err)
	}

	s.det.Reset()

	runCtx, cancel := context.WithCancel(context.Background())
	s.stream = stream
	s.disp = newDispatcher(s.trans, s.sink, s.cfg.Pipeline)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.startedAt = time.Now()

	go s.run(runCtx, stream, newSegmenter(s.cfg.Segment), s.disp)

	slog.Info("recording started", "device", s.device)
	return s.statusLocked(), nil
}

// Stop requests a cooperative stop and waits for teardown to finish: the
// reader exits at the next frame boundary, any open segment is force-sealed
// and submitted, in-flight transcriptions get the configured grace, and the
// device is closed. Stopping an Idle session is a no-op. The wait is bounded
// by ctx.
func (s *Session) Stop(ctx context.Context) (Status, error) {
	s.mu.Lock()
	if s.state == StateIdle {
		st := s.statusLocked()
		s.mu.Unlock()
		return st, nil
	}
	s.state = StateStopping
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case <-done:
	case <-ctx.Done():
		return s.Status(), fmt.Errorf("session: stop: %w", ctx.Err())
	}
	return s.Status(), nil
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

// SetDevice changes the capture device target used by the next Start. While
// a recording is in progress it fails with [audio.ErrDeviceBusy].
func (s *Session) SetDevice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("session: set device while %s: %w", s.state, audio.ErrDeviceBusy)
	}
	s.device = id
	return nil
}

// Device returns the current capture device target.
func (s *Session) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// statusLocked builds a Status snapshot. Caller must hold s.mu.
func (s *Session) statusLocked() Status {
	st := Status{
		State:     s.state,
		DeviceID:  s.device,
		StartedAt: s.startedAt,
		Stats:     s.stats,
	}
	if s.stream != nil {
		st.Stats.FramesDropped = s.stream.Dropped()
	}
	if s.disp != nil {
		st.Stats.TranscriptionFailures = s.disp.failureCount()
		st.Stats.TranscriptsEmitted = s.disp.emit.emittedCount()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// run is the reader loop. It owns the stream until exit and always funnels
// teardown through finish, so every path out of Active lands in Idle with
// the device closed.
func (s *Session) run(ctx context.Context, stream audio.Stream, segr *segmenter, disp *dispatcher) {
	var readErr error
	first := true

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case frame, ok := <-stream.Frames():
			if !ok {
				readErr = stream.Err()
				break loop
			}
			if first {
				first = false
				s.setState(StateActive)
			}
			s.bumpFrames()
			d := s.det.Classify(frame)
			if seg := segr.push(frame, d); seg != nil {
				s.submit(seg, disp)
			}
		}
	}

	// Force-seal whatever was open so trailing speech is not lost.
	if seg := segr.flush(); seg != nil {
		s.submit(seg, disp)
	}

	s.finish(stream, disp, readErr, segr.discarded)
}

// submit hands a sealed segment to the dispatcher, counting a drop when the
// queue is full.
func (s *Session) submit(seg *Segment, disp *dispatcher) {
	s.mu.Lock()
	s.stats.SegmentsSealed++
	s.mu.Unlock()

	if !disp.submit(seg) {
		s.mu.Lock()
		s.stats.SegmentsDropped++
		s.mu.Unlock()
		slog.Warn("segment dropped, transcription queue full",
			"seq", seg.Seq, "duration", seg.Duration(), "err", ErrSegmentDropped)
	}
}

// finish drains the dispatcher, closes the device, and resolves to Idle.
func (s *Session) finish(stream audio.Stream, disp *dispatcher, readErr error, discarded uint64) {
	s.setState(StateStopping)

	disp.close(s.cfg.Pipeline.withDefaults().StopGrace)

	dropped := stream.Dropped()
	if err := stream.Close(); err != nil {
		slog.Warn("capture stream close failed", "err", err)
	}

	s.mu.Lock()
	s.stats.FramesDropped = dropped
	s.stats.SegmentsDiscarded = discarded
	s.stats.TranscriptionFailures = disp.failureCount()
	s.stats.TranscriptsEmitted = disp.emit.emittedCount()
	if readErr != nil {
		s.lastErr = readErr
		slog.Error("recording stopped on capture error", "err", readErr)
	}
	s.state = StateIdle
	s.stream = nil
	s.disp = nil
	s.cancel = nil
	done := s.done
	s.done = nil
	stats := s.stats
	s.mu.Unlock()

	slog.Info("recording stopped",
		"frames", stats.FramesRead,
		"segments", stats.SegmentsSealed,
		"dropped_segments", stats.SegmentsDropped,
		"transcripts", stats.TranscriptsEmitted)
	close(done)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	// Never regress from Stopping back to Active: a stop can race the first
	// frame.
	if !(st == StateActive && s.state == StateStopping) {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Session) bumpFrames() {
	s.mu.Lock()
	s.stats.FramesRead++
	s.mu.Unlock()
}
