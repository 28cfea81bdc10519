package vad

import (
	"github.com/mkarren/earshot/pkg/audio"
)

const (
	// defaultEnergyThreshold is the baseline RMS level (in 16-bit PCM
	// units) above which a frame counts as speech. Full scale is 32767;
	// 300 corresponds to near-silence room tone.
	defaultEnergyThreshold = 300

	// floorMargin scales the adaptive noise floor into an effective
	// threshold: speech must clear the floor by this factor.
	floorMargin = 2.5

	// floorAlpha is the exponential update rate of the noise floor.
	floorAlpha = 0.05
)

// Energy classifies frames by short-term RMS against an adaptive noise
// floor. The floor is updated only on frames already classified as silence,
// so sustained loud speech cannot drag it upward.
type Energy struct {
	threshold float64
	floor     float64
}

// NewEnergy creates an energy detector. A zero threshold selects the
// default.
func NewEnergy(threshold float64) *Energy {
	if threshold <= 0 {
		threshold = defaultEnergyThreshold
	}
	return &Energy{threshold: threshold}
}

// Reset implements [Detector]. Clears the learned noise floor.
func (e *Energy) Reset() {
	e.floor = 0
}

// Classify implements [Detector].
func (e *Energy) Classify(frame audio.Frame) Decision {
	rms := audio.RMS(frame.Data)

	effective := e.threshold
	if scaled := e.floor * floorMargin; scaled > effective {
		effective = scaled
	}

	speech := rms > effective
	if !speech {
		if e.floor == 0 {
			e.floor = rms
		} else {
			e.floor += floorAlpha * (rms - e.floor)
		}
	}

	return Decision{
		Seq:        frame.Seq,
		Speech:     speech,
		Confidence: clampUnit(rms / (2 * effective)),
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Compile-time interface assertion.
var _ Detector = (*Energy)(nil)
