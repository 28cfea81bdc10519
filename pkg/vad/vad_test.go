package vad_test

import (
	"testing"
	"time"

	"github.com/mkarren/earshot/pkg/audio"
	"github.com/mkarren/earshot/pkg/vad"
)

// toneFrame builds a frame of constant-value samples: RMS equals amplitude
// and the zero-crossing rate is zero, resembling a voiced sound.
func toneFrame(seq uint64, amplitude int16, samples int) audio.Frame {
	data := make([]byte, samples*2)
	for i := range samples {
		data[i*2] = byte(amplitude)
		data[i*2+1] = byte(amplitude >> 8)
	}
	return audio.Frame{Seq: seq, Data: data, SampleRate: 16000, Channels: 1}
}

// buzzFrame builds a frame alternating sign every sample: RMS equals
// amplitude with a zero-crossing rate near 1, resembling unvoiced noise.
func buzzFrame(seq uint64, amplitude int16, samples int) audio.Frame {
	data := make([]byte, samples*2)
	for i := range samples {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		data[i*2] = byte(v)
		data[i*2+1] = byte(v >> 8)
	}
	return audio.Frame{Seq: seq, Data: data, SampleRate: 16000, Channels: 1}
}

func silentFrame(seq uint64, samples int) audio.Frame {
	return audio.Frame{Seq: seq, Data: make([]byte, samples*2), SampleRate: 16000, Channels: 1}
}

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{vad.ModeEnergy, vad.ModeStatModel, vad.ModeHybrid, ""} {
		det, err := vad.New(vad.Config{Mode: mode})
		if err != nil {
			t.Errorf("mode %q: %v", mode, err)
		}
		if det == nil {
			t.Errorf("mode %q: nil detector", mode)
		}
	}

	if _, err := vad.New(vad.Config{Mode: "psychic"}); err == nil {
		t.Error("unknown mode should fail")
	}
}

func TestNew_HybridHonorsTuning(t *testing.T) {
	det, err := vad.New(vad.Config{
		Mode:          vad.ModeHybrid,
		SilenceFrames: 1,
		Hangover:      20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	det.Classify(toneFrame(0, 8000, 320))
	// One 20 ms silent frame satisfies both the run and the hangover.
	if d := det.Classify(silentFrame(1, 320)); d.Speech {
		t.Error("tuned hybrid should end the region after one silent frame")
	}
}

func TestDecisionCarriesSeq(t *testing.T) {
	det := vad.NewEnergy(0)
	if d := det.Classify(toneFrame(42, 5000, 160)); d.Seq != 42 {
		t.Errorf("seq: got %d, want 42", d.Seq)
	}
}
