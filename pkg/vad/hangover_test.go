package vad_test

import (
	"testing"
	"time"

	"github.com/mkarren/earshot/pkg/vad"
)

// Frames in these tests are 160 samples at 16 kHz, i.e. 10 ms each.

func TestHangover_BridgesBriefDip(t *testing.T) {
	det, err := vad.New(vad.Config{
		Mode:          vad.ModeEnergy,
		SilenceFrames: 3,
		Hangover:      30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := range 5 {
		if d := det.Classify(toneFrame(uint64(i), 2000, 160)); !d.Speech {
			t.Fatalf("frame %d: speech classified as silence", i)
		}
	}

	// A single quiet frame inside the hangover window must not end the
	// region.
	if d := det.Classify(silentFrame(5, 160)); !d.Speech {
		t.Error("one quiet frame ended the speech region")
	}
	if d := det.Classify(toneFrame(6, 2000, 160)); !d.Speech {
		t.Error("speech after a brief dip classified as silence")
	}
}

func TestHangover_EndsRegionAfterSustainedSilence(t *testing.T) {
	det, err := vad.New(vad.Config{
		Mode:          vad.ModeEnergy,
		SilenceFrames: 3,
		Hangover:      30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	det.Classify(toneFrame(0, 2000, 160))

	// Two silence frames (20 ms) sit inside the window, the third crosses
	// both the frame-count and duration bounds.
	for i := 1; i <= 2; i++ {
		if d := det.Classify(silentFrame(uint64(i), 160)); !d.Speech {
			t.Fatalf("silence frame %d ended the region early", i)
		}
	}
	if d := det.Classify(silentFrame(3, 160)); d.Speech {
		t.Error("region did not end after sustained silence")
	}
}

func TestHangover_SilenceBeforeSpeechStaysSilent(t *testing.T) {
	det := vad.NewHangover(vad.NewEnergy(0), 3, 30*time.Millisecond)

	for i := range 10 {
		if d := det.Classify(silentFrame(uint64(i), 160)); d.Speech {
			t.Fatalf("frame %d: silence before any speech reported as speech", i)
		}
	}
}

func TestHangover_Reset(t *testing.T) {
	det := vad.NewHangover(vad.NewEnergy(0), 3, 30*time.Millisecond)

	det.Classify(toneFrame(0, 2000, 160))
	det.Reset()

	// After Reset no region is open, so silence is silence immediately.
	if d := det.Classify(silentFrame(1, 160)); d.Speech {
		t.Error("Reset did not clear the open speech region")
	}
}

func TestHangover_StatModelMode(t *testing.T) {
	det, err := vad.New(vad.Config{
		Mode:          vad.ModeStatModel,
		SilenceFrames: 2,
		Hangover:      10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := det.(*vad.Hangover); !ok {
		t.Fatalf("statmodel mode detector = %T, want *vad.Hangover", det)
	}
}
