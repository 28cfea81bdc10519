package sink

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mkarren/earshot/internal/session"
	"github.com/mkarren/earshot/pkg/archive"
	"github.com/mkarren/earshot/pkg/provider/stt"
)

var _ session.TranscriptSink = (*ArchiveWriter)(nil)

// ArchiveWriter persists transcripts to an [archive.Store], grouping them
// under one archive session per recording. Call [ArchiveWriter.SessionStarted]
// when recording begins and [ArchiveWriter.SessionStopped] when it ends;
// transcripts emitted outside a recording are dropped from the archive.
//
// Store failures are logged and swallowed so an unreachable database never
// stalls the recording session.
type ArchiveWriter struct {
	store archive.Store

	mu        sync.Mutex
	sessionID int64
	active    bool
}

// NewArchiveWriter wraps store in a transcript sink.
func NewArchiveWriter(store archive.Store) *ArchiveWriter {
	return &ArchiveWriter{store: store}
}

// SessionStarted opens a new archive session for the given capture device and
// engine. If the store rejects the session, subsequent transcripts are not
// archived until the next successful SessionStarted.
func (w *ArchiveWriter) SessionStarted(ctx context.Context, device, engine string) {
	id, err := w.store.BeginSession(ctx, device, engine)
	if err != nil {
		slog.Warn("archive sink: begin session", "err", err)
		return
	}

	w.mu.Lock()
	w.sessionID = id
	w.active = true
	w.mu.Unlock()
}

// SessionStopped closes the current archive session, if any.
func (w *ArchiveWriter) SessionStopped(ctx context.Context) {
	w.mu.Lock()
	id, active := w.sessionID, w.active
	w.active = false
	w.mu.Unlock()

	if !active {
		return
	}
	if err := w.store.EndSession(ctx, id); err != nil {
		slog.Warn("archive sink: end session", "session_id", id, "err", err)
	}
}

// Emit implements [session.TranscriptSink].
func (w *ArchiveWriter) Emit(ctx context.Context, tr stt.Transcript) {
	w.mu.Lock()
	id, active := w.sessionID, w.active
	w.mu.Unlock()

	if !active {
		slog.Debug("archive sink: no open session, transcript not archived", "seq", tr.Seq)
		return
	}

	err := w.store.Append(ctx, archive.Entry{
		SessionID: id,
		Seq:       tr.Seq,
		Text:      tr.Text,
		Engine:    tr.Engine,
		Duration:  tr.AudioDuration,
	})
	if err != nil {
		slog.Warn("archive sink: append transcript", "session_id", id, "seq", tr.Seq, "err", err)
	}
}
