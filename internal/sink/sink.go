// Package sink provides [session.TranscriptSink] implementations that
// deliver sealed transcripts to their consumers.
//
// Sinks compose: [Multi] fans a transcript out to several sinks, and
// [Correcting] wraps any sink with the vocabulary correction pipeline so
// every downstream consumer sees corrected text. Delivery sinks log their
// own failures; a broken NATS connection or archive row never blocks the
// recording session.
package sink

import (
	"context"

	"github.com/mkarren/earshot/internal/session"
	"github.com/mkarren/earshot/pkg/provider/stt"
)

var _ session.TranscriptSink = (*Multi)(nil)

// Multi fans each transcript out to every configured sink in order. A
// failing sink only affects itself; the others still receive the transcript.
type Multi struct {
	sinks []session.TranscriptSink
}

// NewMulti builds a fan-out over the given sinks. Nil entries are skipped so
// callers can pass optionally-constructed sinks directly.
func NewMulti(sinks ...session.TranscriptSink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Emit implements [session.TranscriptSink].
func (m *Multi) Emit(ctx context.Context, tr stt.Transcript) {
	for _, s := range m.sinks {
		s.Emit(ctx, tr)
	}
}
