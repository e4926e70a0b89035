// Package store persists permitpack projects, run history and retrieval
// notes in SQLite (modernc.org/sqlite, no cgo).
//
// Usage:
//
//	s, err := store.Open("data/permitpack.db")
//	defer s.Close()
//
// In tests:
//
//	s := store.OpenMemory(t)
//
// Lookups of a missing row return nil, nil.
package store

import "database/sql"

// Store wraps the project database.
type Store struct {
	DB *sql.DB
}

// NewStore wraps an already-migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.DB.Close() }
