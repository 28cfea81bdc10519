package vad_test

import (
	"testing"

	"github.com/mkarren/earshot/pkg/vad"
)

func TestEnergy_ClassifiesAgainstThreshold(t *testing.T) {
	det := vad.NewEnergy(0)

	if d := det.Classify(toneFrame(0, 2000, 160)); !d.Speech || d.Confidence <= 0.5 {
		t.Errorf("loud frame: got speech=%v conf=%.2f", d.Speech, d.Confidence)
	}
	if d := det.Classify(silentFrame(1, 160)); d.Speech || d.Confidence != 0 {
		t.Errorf("silent frame: got speech=%v conf=%.2f", d.Speech, d.Confidence)
	}
}

func TestEnergy_CustomThreshold(t *testing.T) {
	det := vad.NewEnergy(1000)

	if d := det.Classify(toneFrame(0, 800, 160)); d.Speech {
		t.Error("below custom threshold should be silence")
	}
	if d := det.Classify(toneFrame(1, 1200, 160)); !d.Speech {
		t.Error("above custom threshold should be speech")
	}
}

func TestEnergy_AdaptiveNoiseFloor(t *testing.T) {
	det := vad.NewEnergy(0)

	// Learn a noisy room: 200 RMS is under the base threshold, so the
	// floor adapts to it and the effective threshold rises to 500.
	for i := range 20 {
		if d := det.Classify(toneFrame(uint64(i), 200, 160)); d.Speech {
			t.Fatalf("frame %d: room tone classified as speech", i)
		}
	}

	// 400 RMS clears the base threshold but not the adapted floor.
	if d := det.Classify(toneFrame(20, 400, 160)); d.Speech {
		t.Error("tone below the adapted floor classified as speech")
	}
	if d := det.Classify(toneFrame(21, 600, 160)); !d.Speech {
		t.Error("tone above the adapted floor classified as silence")
	}
}

func TestEnergy_FloorFrozenDuringSpeech(t *testing.T) {
	det := vad.NewEnergy(0)

	for i := range 10 {
		det.Classify(toneFrame(uint64(i), 200, 160))
	}
	// Sustained loud speech must not raise the floor.
	for i := 10; i < 60; i++ {
		if d := det.Classify(toneFrame(uint64(i), 20000, 160)); !d.Speech {
			t.Fatalf("frame %d: loud speech classified as silence", i)
		}
	}
	if d := det.Classify(toneFrame(60, 600, 160)); !d.Speech {
		t.Error("moderate speech rejected after loud stretch; floor crept up")
	}
}

func TestEnergy_Reset(t *testing.T) {
	det := vad.NewEnergy(0)

	for i := range 20 {
		det.Classify(toneFrame(uint64(i), 200, 160))
	}
	if d := det.Classify(toneFrame(20, 400, 160)); d.Speech {
		t.Fatal("adapted floor should reject 400 RMS")
	}

	det.Reset()
	if d := det.Classify(toneFrame(21, 400, 160)); !d.Speech {
		t.Error("after reset the base threshold should accept 400 RMS")
	}
}
