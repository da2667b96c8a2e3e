// Package store provides the durable transactional backing for decisions,
// votes, messages, agent liveness, and workflow executions.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Sentinel errors for the four error classes callers dispatch on.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict indicates a compare-and-swap lost to a concurrent
	// writer. The caller must re-read and retry, never merge.
	ErrVersionConflict = errors.New("version conflict")
	// ErrDuplicateVote indicates a role already voted on a decision.
	ErrDuplicateVote = errors.New("duplicate vote")
	// ErrVoteClosed indicates the decision is no longer pending, so the vote
	// was not recorded.
	ErrVoteClosed = errors.New("decision no longer accepts votes")
)

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at the given path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}
