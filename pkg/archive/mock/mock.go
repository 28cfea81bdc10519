// Package mock provides a test double for the archive.Store interface.
//
// Use Store in unit tests to verify what the archive writer sink persists
// without a live PostgreSQL instance.
package mock

import (
	"context"
	"sync"

	"github.com/mkarren/earshot/pkg/archive"
)

// Store is a mock implementation of archive.Store. Zero values cause methods
// to return zero values and nil errors; set the Err fields to inject errors.
type Store struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SessionID is returned by BeginSession.
	SessionID int64

	// BeginErr, if non-nil, is returned by BeginSession.
	BeginErr error

	// EndErr, if non-nil, is returned by EndSession.
	EndErr error

	// AppendErr, if non-nil, is returned by Append.
	AppendErr error

	// RecentResult is returned by Recent.
	RecentResult []archive.Entry

	// RecentErr, if non-nil, is returned by Recent.
	RecentErr error

	// SearchResults is returned by Search.
	SearchResults []archive.SearchResult

	// SearchErr, if non-nil, is returned by Search.
	SearchErr error

	// --- Call records (read after test) ---

	// BeginCalls records the (device, engine) pairs passed to BeginSession.
	BeginCalls [][2]string

	// EndCalls records the session IDs passed to EndSession.
	EndCalls []int64

	// Appended records every entry passed to Append in order.
	Appended []archive.Entry

	// SearchQueries records every query passed to Search.
	SearchQueries []string
}

var _ archive.Store = (*Store)(nil)

// BeginSession records the call and returns SessionID, BeginErr.
func (s *Store) BeginSession(ctx context.Context, device, engine string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BeginCalls = append(s.BeginCalls, [2]string{device, engine})
	return s.SessionID, s.BeginErr
}

// EndSession records the call and returns EndErr.
func (s *Store) EndSession(ctx context.Context, sessionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndCalls = append(s.EndCalls, sessionID)
	return s.EndErr
}

// Append records the entry and returns AppendErr.
func (s *Store) Append(ctx context.Context, e archive.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Appended = append(s.Appended, e)
	return s.AppendErr
}

// Recent returns RecentResult, RecentErr.
func (s *Store) Recent(ctx context.Context, limit int) ([]archive.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	if limit < len(s.RecentResult) {
		return s.RecentResult[:limit], nil
	}
	return s.RecentResult, nil
}

// Search records the query and returns SearchResults, SearchErr.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]archive.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchQueries = append(s.SearchQueries, query)
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if limit < len(s.SearchResults) {
		return s.SearchResults[:limit], nil
	}
	return s.SearchResults, nil
}

// AppendedCount returns the number of recorded Append calls. Thread-safe.
func (s *Store) AppendedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Appended)
}
