// Package store provides transactional repository access to all persisted
// state. Read operations return plain value records; writes are atomic with
// respect to concurrent callers.
package store

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict indicates a unique-key violation the caller should recover from.
	ErrConflict = errors.New("store: conflict")
	// ErrUnavailable indicates the backing storage is unreachable.
	ErrUnavailable = errors.New("store: unavailable")
)

// Store owns all persisted state. All writes go through its single
// connection, which serializes writers per SQLite's locking model.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New creates a store backed by the given database connection.
func New(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
	}
}

// DB exposes the raw connection for components that manage their own
// statements (durable job queue).
func (s *Store) DB() *sql.DB {
	return s.db
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint violations in the error text.
	return strings.Contains(err.Error(), "constraint failed")
}
