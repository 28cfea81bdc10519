// Package mock provides a test double for the stt.Engine interface.
//
// Pre-populate Transcripts with the values successive Transcribe calls should
// return, or set TranscribeFunc for full control:
//
//	eng := &mock.Engine{
//	    NameValue:   "fake",
//	    Transcripts: []stt.Transcript{{Text: "hello"}},
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/mkarren/earshot/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Engine.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// In is the audio passed to Transcribe, with the PCM bytes copied.
	In stt.Audio
}

// Engine is a mock implementation of stt.Engine.
type Engine struct {
	mu sync.Mutex

	// NameValue is returned by Name. Empty defaults to "mock".
	NameValue string

	// CapabilitiesValue is returned by Capabilities.
	CapabilitiesValue stt.Capabilities

	// ProbeErr, if non-nil, is returned by every Probe call.
	ProbeErr error

	// ProbeFunc, if set, overrides ProbeErr.
	ProbeFunc func(ctx context.Context) error

	// Transcripts are returned by successive Transcribe calls in order. The
	// last entry repeats once the script is exhausted. Ignored when
	// TranscribeFunc or TranscribeErr is set.
	Transcripts []stt.Transcript

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// TranscribeFunc, if set, overrides the scripted transcripts and error.
	TranscribeFunc func(ctx context.Context, in stt.Audio) (stt.Transcript, error)

	// TranscribeDelay blocks each Transcribe call before it returns, honouring
	// context cancellation. Useful for exercising worker pools.
	TranscribeDelay time.Duration

	// --- Call records ---

	// ProbeCallCount is the number of times Probe was called.
	ProbeCallCount int

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	next int
}

// Name returns NameValue, or "mock" when unset.
func (e *Engine) Name() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.NameValue == "" {
		return "mock"
	}
	return e.NameValue
}

// Capabilities returns CapabilitiesValue.
func (e *Engine) Capabilities() stt.Capabilities {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.CapabilitiesValue
}

// Probe records the call and returns ProbeErr, or defers to ProbeFunc when set.
func (e *Engine) Probe(ctx context.Context) error {
	e.mu.Lock()
	e.ProbeCallCount++
	fn := e.ProbeFunc
	err := e.ProbeErr
	e.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return err
}

// Transcribe records the call, waits out TranscribeDelay, and returns the next
// scripted transcript.
func (e *Engine) Transcribe(ctx context.Context, in stt.Audio) (stt.Transcript, error) {
	e.mu.Lock()
	rec := in
	rec.PCM = make([]byte, len(in.PCM))
	copy(rec.PCM, in.PCM)
	e.TranscribeCalls = append(e.TranscribeCalls, TranscribeCall{Ctx: ctx, In: rec})

	fn := e.TranscribeFunc
	errOut := e.TranscribeErr
	delay := e.TranscribeDelay
	var tr stt.Transcript
	if fn == nil && errOut == nil && len(e.Transcripts) > 0 {
		tr = e.Transcripts[e.next]
		if e.next < len(e.Transcripts)-1 {
			e.next++
		}
	}
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, in)
	}
	if errOut != nil {
		return stt.Transcript{}, errOut
	}
	return tr, nil
}

// TranscribeCallCount returns the number of Transcribe calls. Thread-safe.
func (e *Engine) TranscribeCallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.TranscribeCalls)
}

// ResetCalls clears all recorded calls and rewinds the transcript script.
// Thread-safe.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ProbeCallCount = 0
	e.TranscribeCalls = nil
	e.next = 0
}

// Ensure Engine implements stt.Engine at compile time.
var _ stt.Engine = (*Engine)(nil)
