// Package mock provides a test double for the vad.Detector interface.
//
// Use Detector to script per-frame decisions and inspect the frames that
// were classified.
//
// Example:
//
//	det := &mock.Detector{
//	    Decisions: []vad.Decision{{Speech: true, Confidence: 0.9}},
//	}
package mock

import (
	"sync"

	"github.com/mkarren/earshot/pkg/audio"
	"github.com/mkarren/earshot/pkg/vad"
)

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Decisions are returned by successive Classify calls in order. When
	// exhausted, the last entry repeats; when empty, a silence decision is
	// returned. Each returned decision carries the classified frame's Seq.
	Decisions []vad.Decision

	// ClassifyFunc, if set, overrides Decisions entirely.
	ClassifyFunc func(frame audio.Frame) vad.Decision

	// --- Call records ---

	// ClassifyCalls records every frame passed to Classify in order.
	ClassifyCalls []audio.Frame

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	next int
}

// Classify records the call and returns the next scripted decision.
func (d *Detector) Classify(frame audio.Frame) vad.Decision {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ClassifyCalls = append(d.ClassifyCalls, frame)

	if d.ClassifyFunc != nil {
		return d.ClassifyFunc(frame)
	}
	if len(d.Decisions) == 0 {
		return vad.Decision{Seq: frame.Seq}
	}
	idx := d.next
	if idx >= len(d.Decisions) {
		idx = len(d.Decisions) - 1
	} else {
		d.next++
	}
	dec := d.Decisions[idx]
	dec.Seq = frame.Seq
	return dec
}

// Reset records the call by incrementing ResetCallCount. The scripted
// decision sequence is not rewound; use ResetCalls for that.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ResetCallCount++
}

// ResetCalls clears all recorded call history. Thread-safe.
func (d *Detector) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ClassifyCalls = nil
	d.ResetCallCount = 0
	d.next = 0
}

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)
