// Package stt defines the Engine interface for speech-to-text backends.
//
// An STT engine wraps a transcription service (a local whisper.cpp model, an
// HTTP whisper server, OpenAI, Deepgram) behind a uniform segment-level
// contract: hand in one utterance of PCM audio, get back its transcript.
// Engines are probed before use so the pipeline can tell a misconfigured
// backend from a transient failure.
//
// Implementations must be safe for concurrent use; the pipeline may overlap
// Transcribe calls for consecutive segments.
package stt

import "context"

// Capabilities describes how an engine operates, for health reporting and
// engine selection.
type Capabilities struct {
	// Streaming is true when the engine transcribes audio as it arrives
	// rather than batching the whole segment first.
	Streaming bool

	// Network is true when the engine depends on a remote service.
	Network bool
}

// Engine is the abstraction over any STT backend.
type Engine interface {
	// Name returns the configured engine name, e.g. "whisper".
	Name() string

	// Capabilities reports how the engine operates.
	Capabilities() Capabilities

	// Probe verifies the engine is usable: credentials accepted, model
	// loaded, endpoint reachable. Called at startup and to re-check a
	// degraded engine.
	Probe(ctx context.Context) error

	// Transcribe converts one speech segment to text. The audio must be
	// little-endian 16-bit PCM. Engines fill the transcript's Text and,
	// when known, Confidence; pipeline bookkeeping fields are stamped by
	// the caller.
	Transcribe(ctx context.Context, audio Audio) (Transcript, error)
}
