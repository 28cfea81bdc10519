// Package postgres provides the PostgreSQL-backed implementation of
// [archive.Store].
//
// Sessions and transcripts share a single [pgxpool.Pool]. The pgvector
// extension must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn, 1536, postgres.WithEmbeddings(provider))
//	if err != nil { … }
//	defer store.Close()
//
//	id, _ := store.BeginSession(ctx, "usb-mic", "whisper")
//	_ = store.Append(ctx, archive.Entry{SessionID: id, Text: "hello"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlRecordingSessions = `
CREATE TABLE IF NOT EXISTS recording_sessions (
    id          BIGSERIAL    PRIMARY KEY,
    device      TEXT         NOT NULL,
    engine      TEXT         NOT NULL,
    started_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_recording_sessions_started
    ON recording_sessions (started_at);
`

// ddlTranscripts returns the transcripts DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlTranscripts(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcripts (
    id           BIGSERIAL    PRIMARY KEY,
    session_id   BIGINT       NOT NULL REFERENCES recording_sessions (id) ON DELETE CASCADE,
    seal_seq     BIGINT       NOT NULL,
    text         TEXT         NOT NULL,
    engine       TEXT         NOT NULL,
    duration_ns  BIGINT       NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    embedding    vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session
    ON transcripts (session_id);

CREATE INDEX IF NOT EXISTS idx_transcripts_created
    ON transcripts (created_at);

CREATE INDEX IF NOT EXISTS idx_transcripts_embedding
    ON transcripts USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for the
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires
// a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlRecordingSessions,
		ddlTranscripts(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("archive migrate: %w", err)
		}
	}
	return nil
}
