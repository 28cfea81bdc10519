package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/mkarren/earshot/pkg/archive"
	"github.com/mkarren/earshot/pkg/provider/embeddings"
)

var _ archive.Store = (*Store)(nil)

// Store is the PostgreSQL-backed transcript archive. All operations are safe
// for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// Option is a functional option for configuring a [Store].
type Option func(*Store)

// WithEmbeddings attaches an embeddings provider. When set, Append embeds
// each transcript text and Search orders by cosine distance; without it the
// embedding column stays NULL and Search falls back to substring matching.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(s *Store) {
		s.embedder = p
	}
}

// New creates a new Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the configured
// embeddings provider. Changing it after the first migration requires a
// manual schema change.
func New(ctx context.Context, dsn string, embeddingDimensions int, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so the embedding
	// column can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: migrate: %w", err)
	}

	s := &Store{pool: pool}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// BeginSession implements [archive.Store].
func (s *Store) BeginSession(ctx context.Context, device, engine string) (int64, error) {
	const q = `
		INSERT INTO recording_sessions (device, engine)
		VALUES ($1, $2)
		RETURNING id`

	var id int64
	if err := s.pool.QueryRow(ctx, q, device, engine).Scan(&id); err != nil {
		return 0, fmt.Errorf("archive store: begin session: %w", err)
	}
	return id, nil
}

// EndSession implements [archive.Store]. Ending an already-ended or unknown
// session is a no-op.
func (s *Store) EndSession(ctx context.Context, sessionID int64) error {
	const q = `
		UPDATE recording_sessions
		SET    ended_at = now()
		WHERE  id = $1 AND ended_at IS NULL`

	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("archive store: end session: %w", err)
	}
	return nil
}

// Append implements [archive.Store]. When an embeddings provider is
// configured, the text is embedded inline; an embedding failure degrades to
// a NULL embedding rather than losing the transcript.
func (s *Store) Append(ctx context.Context, e archive.Entry) error {
	const q = `
		INSERT INTO transcripts (session_id, seal_seq, text, engine, duration_ns, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`

	var vec any
	if s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, e.Text)
		if err != nil {
			slog.Warn("archive store: embedding failed, storing without vector",
				"seq", e.Seq, "err", err)
		} else {
			vec = pgvector.NewVector(emb)
		}
	}

	_, err := s.pool.Exec(ctx, q,
		e.SessionID,
		int64(e.Seq),
		e.Text,
		e.Engine,
		e.Duration.Nanoseconds(),
		vec,
	)
	if err != nil {
		return fmt.Errorf("archive store: append: %w", err)
	}
	return nil
}

// Recent implements [archive.Store]. Entries are returned newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]archive.Entry, error) {
	const q = `
		SELECT id, session_id, seal_seq, text, engine, duration_ns, created_at
		FROM   transcripts
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("archive store: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search implements [archive.Store]. With an embeddings provider the query
// is embedded and results are ordered by cosine distance over rows that have
// embeddings; otherwise (or when embedding the query fails) a case-
// insensitive substring match ordered by recency is used.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]archive.SearchResult, error) {
	if s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, query)
		if err == nil {
			return s.searchSemantic(ctx, emb, limit)
		}
		slog.Warn("archive store: query embedding failed, falling back to substring search",
			"err", err)
	}
	return s.searchSubstring(ctx, query, limit)
}

func (s *Store) searchSemantic(ctx context.Context, embedding []float32, limit int) ([]archive.SearchResult, error) {
	const q = `
		SELECT id, session_id, seal_seq, text, engine, duration_ns, created_at,
		       embedding <=> $1 AS distance
		FROM   transcripts
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("archive store: semantic search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.SearchResult, error) {
		var (
			r          archive.SearchResult
			sealSeq    int64
			durationNS int64
		)
		if err := row.Scan(
			&r.Entry.ID,
			&r.Entry.SessionID,
			&sealSeq,
			&r.Entry.Text,
			&r.Entry.Engine,
			&durationNS,
			&r.Entry.CreatedAt,
			&r.Distance,
		); err != nil {
			return archive.SearchResult{}, err
		}
		r.Entry.Seq = uint64(sealSeq)
		r.Entry.Duration = time.Duration(durationNS)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: scan rows: %w", err)
	}
	if results == nil {
		results = []archive.SearchResult{}
	}
	return results, nil
}

func (s *Store) searchSubstring(ctx context.Context, query string, limit int) ([]archive.SearchResult, error) {
	const q = `
		SELECT id, session_id, seal_seq, text, engine, duration_ns, created_at
		FROM   transcripts
		WHERE  text ILIKE '%' || $1 || '%'
		ORDER  BY created_at DESC, id DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("archive store: substring search: %w", err)
	}

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}
	results := make([]archive.SearchResult, len(entries))
	for i, e := range entries {
		results[i] = archive.SearchResult{Entry: e}
	}
	return results, nil
}

// collectEntries scans pgx rows into a slice of Entry values.
func collectEntries(rows pgx.Rows) ([]archive.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Entry, error) {
		var (
			e          archive.Entry
			sealSeq    int64
			durationNS int64
		)
		if err := row.Scan(
			&e.ID,
			&e.SessionID,
			&sealSeq,
			&e.Text,
			&e.Engine,
			&durationNS,
			&e.CreatedAt,
		); err != nil {
			return archive.Entry{}, err
		}
		e.Seq = uint64(sealSeq)
		e.Duration = time.Duration(durationNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: scan rows: %w", err)
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	return entries, nil
}
