package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/mkarren/earshot/pkg/audio"
)

func TestEncodeWAV_Header(t *testing.T) {
	pcm := samplesToBytes([]int16{1, -1, 32767, -32768})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("total size: got %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatal("missing RIFF/WAVE markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate: got %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels: got %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample: got %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size: got %d, want %d", got, len(pcm))
	}
	// byte rate = rate * channels * 2
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate: got %d, want 32000", got)
	}
}

func TestEncodeWAV_PayloadCopied(t *testing.T) {
	pcm := samplesToBytes([]int16{10, 20, 30})
	wav := audio.EncodeWAV(pcm, 16000, 1)
	for i := range pcm {
		if wav[44+i] != pcm[i] {
			t.Fatalf("payload byte %d mismatch", i)
		}
	}
}

func TestFrameDuration(t *testing.T) {
	if got := audio.FrameDuration(1024, 16000); got.Milliseconds() != 64 {
		t.Errorf("1024 samples at 16 kHz: got %v, want 64ms", got)
	}
	if got := audio.FrameDuration(320, 16000); got.Milliseconds() != 20 {
		t.Errorf("320 samples at 16 kHz: got %v, want 20ms", got)
	}
	if got := audio.FrameDuration(1024, 0); got != 0 {
		t.Errorf("zero rate: got %v, want 0", got)
	}
}

func TestFrame_SamplesAndDuration(t *testing.T) {
	f := audio.Frame{
		Data:       make([]byte, 2048),
		SampleRate: 16000,
		Channels:   1,
	}
	if got := f.Samples(); got != 1024 {
		t.Errorf("samples: got %d, want 1024", got)
	}
	if got := f.Duration().Milliseconds(); got != 64 {
		t.Errorf("duration: got %dms, want 64ms", got)
	}

	stereo := audio.Frame{Data: make([]byte, 2048), SampleRate: 16000, Channels: 2}
	if got := stereo.Samples(); got != 512 {
		t.Errorf("stereo samples: got %d, want 512", got)
	}
}
