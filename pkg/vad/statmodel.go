package vad

import (
	"github.com/mkarren/earshot/pkg/audio"
)

// smoothFactor is the weight of the previous smoothed probability when
// folding in a new frame.
const smoothFactor = 0.5

// statThresholds maps aggressiveness 0..3 to decision thresholds. Energy is
// the RMS midpoint of the probability curve; zcrMax is the zero-crossing
// rate above which a frame is treated as unvoiced noise rather than speech.
var statThresholds = [4]struct {
	energy float64
	zcrMax float64
}{
	{energy: 250, zcrMax: 0.45},
	{energy: 350, zcrMax: 0.40},
	{energy: 500, zcrMax: 0.35},
	{energy: 700, zcrMax: 0.30},
}

// StatModel is a statistical frame classifier over log-energy and
// zero-crossing-rate features. Aggressiveness 0 is permissive (favors
// catching all speech), 3 is strict (favors rejecting noise). Frame
// probabilities are exponentially smoothed so single outlier frames do not
// flip the decision.
type StatModel struct {
	aggressiveness int

	prob   float64
	primed bool
}

// NewStatModel creates a statistical detector. Aggressiveness is clamped to
// [0, 3].
func NewStatModel(aggressiveness int) *StatModel {
	if aggressiveness < 0 {
		aggressiveness = 0
	}
	if aggressiveness > 3 {
		aggressiveness = 3
	}
	return &StatModel{aggressiveness: aggressiveness}
}

// Reset implements [Detector]. Clears the smoothed probability.
func (m *StatModel) Reset() {
	m.prob = 0
	m.primed = false
}

// Classify implements [Detector].
func (m *StatModel) Classify(frame audio.Frame) Decision {
	th := statThresholds[m.aggressiveness]

	rms := audio.RMS(frame.Data)
	zcr := zeroCrossRate(frame.Data)

	// Energy probability crosses 0.5 at the aggressiveness midpoint.
	energyP := rms / (rms + th.energy)

	// High zero-crossing rates indicate unvoiced noise; scale the
	// probability down the further the frame sits above the voiced band.
	voiceP := 1.0
	if zcr > th.zcrMax {
		voiceP = clampUnit(1 - (zcr-th.zcrMax)*4)
	}
	raw := energyP * (0.5 + 0.5*voiceP)

	if m.primed {
		m.prob = smoothFactor*m.prob + (1-smoothFactor)*raw
	} else {
		m.prob = raw
		m.primed = true
	}

	return Decision{
		Seq:        frame.Seq,
		Speech:     m.prob > 0.5,
		Confidence: clampUnit(m.prob),
	}
}

// zeroCrossRate returns the fraction of successive sample pairs whose signs
// differ, over little-endian int16 PCM.
func zeroCrossRate(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples < 2 {
		return 0
	}
	crossings := 0
	prev := int16(pcm[0]) | int16(pcm[1])<<8
	for i := 1; i < samples; i++ {
		cur := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		if (prev < 0 && cur >= 0) || (prev >= 0 && cur < 0) {
			crossings++
		}
		prev = cur
	}
	return float64(crossings) / float64(samples-1)
}

// Compile-time interface assertion.
var _ Detector = (*StatModel)(nil)
