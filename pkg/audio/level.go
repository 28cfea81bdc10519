package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer, expressed in the same units as PCM sample values (0–32767).
// Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Meter accumulates signal statistics over a run of frames. Used by the
// capture self-test to report input levels. Not safe for concurrent use.
type Meter struct {
	sumSquares float64
	samples    int64
	peak       int32
}

// Add folds a PCM buffer into the meter.
func (m *Meter) Add(pcm []byte) {
	n := len(pcm) / 2
	for i := range n {
		s := int32(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		if s < 0 {
			s = -s
		}
		if s > m.peak {
			m.peak = s
		}
		v := float64(s)
		m.sumSquares += v * v
	}
	m.samples += int64(n)
}

// RMS returns the accumulated root-mean-square level (0–32767 scale).
func (m *Meter) RMS() float64 {
	if m.samples == 0 {
		return 0
	}
	return math.Sqrt(m.sumSquares / float64(m.samples))
}

// Peak returns the absolute peak sample value seen (0–32768).
func (m *Meter) Peak() int {
	return int(m.peak)
}

// PeakRatio returns the peak as a fraction of full scale in [0, 1].
func (m *Meter) PeakRatio() float64 {
	return float64(m.peak) / 32768.0
}

// RMSRatio returns the RMS level as a fraction of full scale in [0, 1].
func (m *Meter) RMSRatio() float64 {
	return m.RMS() / 32768.0
}
