package whisper

import (
	"encoding/binary"

	"github.com/mkarren/earshot/pkg/audio"
	"github.com/mkarren/earshot/pkg/provider/stt"
)

// normalize downmixes and resamples segment PCM to the 16 kHz mono input
// format whisper.cpp expects.
func normalize(in stt.Audio) []byte {
	pcm := in.PCM
	if in.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	if in.SampleRate != modelSampleRate {
		pcm = audio.ResampleMono16(pcm, in.SampleRate, modelSampleRate)
	}
	return pcm
}

// pcmToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. The input length must be
// even (two bytes per sample); any trailing odd byte is silently ignored.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}
