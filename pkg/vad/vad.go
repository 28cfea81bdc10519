// Package vad provides frame-level voice activity detection for the capture
// pipeline.
//
// A Detector is a stateful, per-stream classifier: it consumes capture frames
// in order and labels each one speech or silence with a confidence score.
// Detection is synchronous by design so it can gate STT input inside the
// pipeline read loop; Classify must complete in a small fraction of the
// frame's real-time duration and performs no I/O.
//
// Three strategies are provided. Energy compares short-term RMS against an
// adaptive noise floor. StatModel classifies on log-energy and zero-crossing
// features with a WebRTC-style aggressiveness setting. Hybrid composes two
// detectors, biased toward not missing speech.
//
// A Detector is not safe for concurrent use; create one per stream.
package vad

import (
	"fmt"
	"time"

	"github.com/mkarren/earshot/pkg/audio"
)

// Detection modes selectable via [Config.Mode].
const (
	ModeEnergy    = "energy"
	ModeStatModel = "statmodel"
	ModeHybrid    = "hybrid"
)

// Decision is the classification of a single frame.
type Decision struct {
	// Seq is the sequence number of the classified frame.
	Seq uint64

	// Speech reports whether the frame is part of a speech region.
	Speech bool

	// Confidence is the speech probability in [0, 1]. Values above 0.5
	// lean speech, below lean silence.
	Confidence float64
}

// Detector classifies capture frames in stream order.
type Detector interface {
	// Reset clears all smoothing and hysteresis state. Called when a new
	// capture stream starts so stale state cannot bleed into it.
	Reset()

	// Classify labels one frame. Pure with respect to I/O; advances only
	// the detector's internal state.
	Classify(frame audio.Frame) Decision
}

// Config selects and tunes a detection strategy.
type Config struct {
	// Mode is one of the Mode constants. Empty selects ModeHybrid.
	Mode string

	// Aggressiveness tunes the statistical model, 0 (permissive) to 3
	// (strict). Out-of-range values are clamped.
	Aggressiveness int

	// EnergyThreshold is the baseline RMS level treated as speech, in
	// 16-bit PCM units (full scale 32767). Zero selects the default.
	EnergyThreshold float64

	// SilenceFrames is the number of consecutive silence frames required
	// before ending a speech region. Zero selects the default.
	SilenceFrames int

	// Hangover is how long speech keeps being reported after the last
	// speech-positive frame. Zero selects the default.
	Hangover time.Duration
}

// New builds a Detector from the configured mode. Every mode carries region
// hysteresis: the standalone detectors are wrapped in [Hangover] so a single
// quiet frame cannot end a speech region mid-sentence.
func New(cfg Config) (Detector, error) {
	switch cfg.Mode {
	case ModeEnergy:
		return NewHangover(NewEnergy(cfg.EnergyThreshold), cfg.SilenceFrames, cfg.Hangover), nil
	case ModeStatModel:
		return NewHangover(NewStatModel(cfg.Aggressiveness), cfg.SilenceFrames, cfg.Hangover), nil
	case ModeHybrid, "":
		var opts []HybridOption
		if cfg.SilenceFrames > 0 {
			opts = append(opts, WithSilenceFrames(cfg.SilenceFrames))
		}
		if cfg.Hangover > 0 {
			opts = append(opts, WithHangover(cfg.Hangover))
		}
		return NewHybrid(NewEnergy(cfg.EnergyThreshold), NewStatModel(cfg.Aggressiveness), opts...), nil
	default:
		return nil, fmt.Errorf("vad: unknown mode %q", cfg.Mode)
	}
}
