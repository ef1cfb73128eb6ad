// Package storage defines the persistence collaborator contract (spec
// §4.5) and two implementations: a single-file SQLite store for the
// single-instance deployment shape, and a Postgres store for the
// horizontally-scaled shape (spec §1.E).
package storage

import "context"

// Record is the persisted master document row (spec §3 "Master Document
// Record").
type Record struct {
	Name      string
	Content   string
	Version   uint64
	CreatedAt int64
	UpdatedAt int64
}

// Store is the minimum persistence contract (spec §4.5). Load creates the
// record with DefaultBody and version 1 if absent, atomically. Save
// persists new content and returns the new monotonic version; it must
// never be visible as a partial write and must never regress the
// version under concurrent callers.
type Store interface {
	Load(ctx context.Context, name string) (Record, error)
	Save(ctx context.Context, name, content string) (Record, error)
	Close() error
}

// DefaultBody seeds a document that has never been created (spec §3
// Lifecycle).
const DefaultBody = "Welcome to collaborative editing!"
