package vad

import (
	"time"

	"github.com/mkarren/earshot/pkg/audio"
)

// hysteresis is the speech-region end logic shared by Hybrid and Hangover:
// once a region has started, it only ends after a run of consecutive silence
// frames that also spans the hangover duration.
type hysteresis struct {
	silenceFrames int
	hangover      time.Duration

	speaking   bool
	silenceRun int
	silenceDur time.Duration
}

func (h *hysteresis) reset() {
	h.speaking = false
	h.silenceRun = 0
	h.silenceDur = 0
}

// apply folds one raw frame classification into the region state and reports
// whether the frame belongs to a speech region.
func (h *hysteresis) apply(speech bool, frameDur time.Duration) bool {
	if speech {
		h.speaking = true
		h.silenceRun = 0
		h.silenceDur = 0
		return true
	}
	if !h.speaking {
		return false
	}

	h.silenceRun++
	h.silenceDur += frameDur
	if h.silenceRun >= h.silenceFrames && h.silenceDur >= h.hangover {
		h.reset()
		return false
	}

	// Inside the hangover window the region is still considered speech.
	return true
}

// Hangover wraps a single detector with region hysteresis, so the standalone
// modes do not end a speech region on one quiet frame. A brief mid-sentence
// dip shorter than the hangover window never produces a silence decision.
type Hangover struct {
	inner Detector
	hys   hysteresis
}

// NewHangover wraps inner. silenceFrames and hangover fall back to the
// hybrid defaults (3 frames, 300 ms) when zero.
func NewHangover(inner Detector, silenceFrames int, hangover time.Duration) *Hangover {
	if silenceFrames <= 0 {
		silenceFrames = defaultSilenceFrames
	}
	if hangover <= 0 {
		hangover = defaultHangover
	}
	return &Hangover{
		inner: inner,
		hys:   hysteresis{silenceFrames: silenceFrames, hangover: hangover},
	}
}

// Reset implements [Detector]. Resets the inner detector and the region
// state.
func (h *Hangover) Reset() {
	h.inner.Reset()
	h.hys.reset()
}

// Classify implements [Detector].
func (h *Hangover) Classify(frame audio.Frame) Decision {
	d := h.inner.Classify(frame)
	return Decision{
		Seq:        frame.Seq,
		Speech:     h.hys.apply(d.Speech, frame.Duration()),
		Confidence: d.Confidence,
	}
}

// Compile-time interface assertion.
var _ Detector = (*Hangover)(nil)
