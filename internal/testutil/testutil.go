// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/database"
	"github.com/sublarr/sublarr/internal/store"
)

// NewTestStore opens a migrated in-memory database and returns a store over
// it. Cleanup is registered on the test.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := database.NewMemory()
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return store.New(db.Conn(), zerolog.Nop())
}
