package vad

import (
	"time"

	"github.com/mkarren/earshot/pkg/audio"
)

const (
	// defaultSilenceFrames is the consecutive agreed-silence frame count
	// required to end a speech region.
	defaultSilenceFrames = 3

	// defaultHangover is how long speech keeps being reported after the
	// last speech-positive frame, so trailing phonemes are not clipped.
	defaultHangover = 300 * time.Millisecond
)

// HybridOption is a functional option for configuring a Hybrid detector.
type HybridOption func(*Hybrid)

// WithSilenceFrames sets the consecutive agreed-silence frame count required
// to end a speech region. Defaults to 3.
func WithSilenceFrames(n int) HybridOption {
	return func(h *Hybrid) {
		h.hys.silenceFrames = n
	}
}

// WithHangover sets the duration speech keeps being reported after the last
// speech-positive frame. A brief dip shorter than this never produces a
// silence decision. Defaults to 300 ms.
func WithHangover(d time.Duration) HybridOption {
	return func(h *Hybrid) {
		h.hys.hangover = d
	}
}

// Hybrid composes two detectors, biased toward not missing speech: a frame
// is speech if either sub-detector says so, while ending a speech region
// requires both to agree on silence for a run of consecutive frames that
// also satisfies the hangover duration. Mid-sentence energy dips therefore
// do not chop a region in two.
type Hybrid struct {
	a, b Detector
	hys  hysteresis
}

// NewHybrid composes detectors a and b.
func NewHybrid(a, b Detector, opts ...HybridOption) *Hybrid {
	h := &Hybrid{
		a:   a,
		b:   b,
		hys: hysteresis{silenceFrames: defaultSilenceFrames, hangover: defaultHangover},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Reset implements [Detector]. Resets both sub-detectors and the hysteresis
// state.
func (h *Hybrid) Reset() {
	h.a.Reset()
	h.b.Reset()
	h.hys.reset()
}

// Classify implements [Detector].
func (h *Hybrid) Classify(frame audio.Frame) Decision {
	da := h.a.Classify(frame)
	db := h.b.Classify(frame)
	return Decision{
		Seq:        frame.Seq,
		Speech:     h.hys.apply(da.Speech || db.Speech, frame.Duration()),
		Confidence: max(da.Confidence, db.Confidence),
	}
}

// Compile-time interface assertion.
var _ Detector = (*Hybrid)(nil)
