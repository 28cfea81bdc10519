// Package archive defines the optional persistent transcript store.
//
// When enabled, every emitted transcript is appended under its recording
// session, and past transcripts can be listed chronologically or searched.
// Search is semantic (embedding cosine distance) when an embeddings provider
// is configured on the backing store, falling back to substring matching
// otherwise.
//
// Implementations must be safe for concurrent use; the archive writer sink
// appends from pipeline workers while MCP tools read.
package archive

import (
	"context"
	"time"
)

// Session describes one archived recording session.
type Session struct {
	// ID is the store-assigned session identifier.
	ID int64

	// Device is the capture device ID the session recorded from.
	Device string

	// Engine is the STT engine that was active when the session started.
	Engine string

	// StartedAt is when the session began.
	StartedAt time.Time

	// EndedAt is when the session ended. Zero while the session is open.
	EndedAt time.Time
}

// Entry is one archived transcript row.
type Entry struct {
	// ID is the store-assigned row identifier.
	ID int64

	// SessionID references the owning recording session.
	SessionID int64

	// Seq is the seal sequence number of the source segment within its
	// session.
	Seq uint64

	// Text is the (possibly corrected) transcript text.
	Text string

	// Engine is the engine that produced the text.
	Engine string

	// Duration is the length of the transcribed audio.
	Duration time.Duration

	// CreatedAt is when the row was written.
	CreatedAt time.Time
}

// SearchResult pairs an [Entry] with its relevance measure.
type SearchResult struct {
	Entry Entry

	// Distance is the cosine distance for semantic matches — lower is more
	// similar. Zero for substring-fallback matches.
	Distance float64
}

// Store is the persistent transcript archive.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// BeginSession opens a new recording session record and returns its ID.
	BeginSession(ctx context.Context, device, engine string) (int64, error)

	// EndSession marks the session as ended. Ending an already-ended or
	// unknown session is a no-op.
	EndSession(ctx context.Context, sessionID int64) error

	// Append writes one transcript entry. The entry's SessionID must
	// reference a session created by BeginSession.
	Append(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Search returns up to limit entries relevant to query, most relevant
	// first.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}
