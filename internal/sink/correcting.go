package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mkarren/earshot/internal/session"
	"github.com/mkarren/earshot/internal/transcript"
	"github.com/mkarren/earshot/pkg/provider/stt"
)

var _ session.TranscriptSink = (*Correcting)(nil)

// Correcting runs every transcript through the vocabulary correction
// pipeline before handing it to the next sink. The vocabulary can be swapped
// at runtime via [Correcting.SetVocabulary]; the config watcher uses this to
// apply correction.vocabulary changes without a restart.
//
// A pipeline error degrades to passing the original transcript through.
type Correcting struct {
	next session.TranscriptSink
	pipe transcript.Pipeline

	mu         sync.RWMutex
	vocabulary []string
}

// NewCorrecting wraps next with the given pipeline and initial vocabulary.
func NewCorrecting(next session.TranscriptSink, pipe transcript.Pipeline, vocabulary []string) *Correcting {
	return &Correcting{
		next:       next,
		pipe:       pipe,
		vocabulary: append([]string(nil), vocabulary...),
	}
}

// SetVocabulary replaces the correction vocabulary. Safe to call while
// transcripts are flowing.
func (c *Correcting) SetVocabulary(vocabulary []string) {
	cp := append([]string(nil), vocabulary...)
	c.mu.Lock()
	c.vocabulary = cp
	c.mu.Unlock()
}

// Emit implements [session.TranscriptSink].
func (c *Correcting) Emit(ctx context.Context, tr stt.Transcript) {
	c.mu.RLock()
	vocab := c.vocabulary
	c.mu.RUnlock()

	corrected, err := c.pipe.Correct(ctx, tr, vocab)
	if err != nil {
		slog.Warn("correcting sink: pipeline failed, passing transcript through", "seq", tr.Seq, "err", err)
		c.next.Emit(ctx, tr)
		return
	}

	if len(corrected.Corrections) > 0 {
		slog.Debug("correcting sink: applied corrections",
			"seq", tr.Seq, "count", len(corrected.Corrections))
		tr.Text = corrected.Corrected
	}
	c.next.Emit(ctx, tr)
}
