package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the single-file ACID store named in spec §4.5 ("any ACID
// single-file store suffices"). Schema and seeding are grounded on the
// original Rust implementation's persistence.rs.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a SQLite database at path and
// ensures the documents table exists.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver serializes writers anyway

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, name string) (Record, error) {
	rec, err := s.query(ctx, name)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, err
	}

	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (name, content, version, created_at, updated_at)
		 VALUES (?, ?, 1, ?, ?)`,
		name, DefaultBody, now, now)
	if err != nil {
		return Record{}, fmt.Errorf("storage: seed default document: %w", err)
	}
	return s.query(ctx, name)
}

// Save implements Store: it retries the compare-and-swap update against
// whatever version is currently stored, so a concurrent Save from another
// process never regresses the version (spec §4.5 "no version regression").
func (s *SQLiteStore) Save(ctx context.Context, name, content string) (Record, error) {
	for {
		current, err := s.Load(ctx, name)
		if err != nil {
			return Record{}, err
		}
		now := time.Now().Unix()
		newVersion := current.Version + 1

		res, err := s.db.ExecContext(ctx,
			`UPDATE documents SET content = ?, version = ?, updated_at = ?
			 WHERE name = ? AND version = ?`,
			content, newVersion, now, name, current.Version)
		if err != nil {
			return Record{}, fmt.Errorf("storage: update document: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return Record{}, err
		}
		if n == 0 {
			continue // lost the race against a concurrent writer; retry
		}
		return s.query(ctx, name)
	}
}

func (s *SQLiteStore) query(ctx context.Context, name string) (Record, error) {
	var rec Record
	row := s.db.QueryRowContext(ctx,
		`SELECT name, content, version, created_at, updated_at FROM documents WHERE name = ?`, name)
	if err := row.Scan(&rec.Name, &rec.Content, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
