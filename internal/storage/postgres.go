package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs the horizontally-scaled deployment shape (spec
// §1.E): multiple server processes share one master record through
// Postgres instead of a per-process SQLite file.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and ensures the documents table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: connect postgres: %w", err)
	}

	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		version BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: create table: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, name string) (Record, error) {
	rec, err := s.query(ctx, name)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, err
	}

	now := time.Now().Unix()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (name, content, version, created_at, updated_at)
		 VALUES ($1, $2, 1, $3, $3) ON CONFLICT (name) DO NOTHING`,
		name, DefaultBody, now)
	if err != nil {
		return Record{}, fmt.Errorf("storage: seed default document: %w", err)
	}
	return s.query(ctx, name)
}

// Save implements Store using a row-level lock (SELECT ... FOR UPDATE) so
// concurrent server instances serialize on the same master row instead
// of racing a compare-and-swap, matching spec §5's "global order on
// master mutations."
func (s *PostgresStore) Save(ctx context.Context, name, content string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentVersion uint64
	err = tx.QueryRow(ctx,
		`SELECT version FROM documents WHERE name = $1 FOR UPDATE`, name).Scan(&currentVersion)
	if err != nil {
		return Record{}, fmt.Errorf("storage: lock document row: %w", err)
	}

	now := time.Now().Unix()
	newVersion := currentVersion + 1
	_, err = tx.Exec(ctx,
		`UPDATE documents SET content = $1, version = $2, updated_at = $3 WHERE name = $4`,
		content, newVersion, now, name)
	if err != nil {
		return Record{}, fmt.Errorf("storage: update document: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("storage: commit: %w", err)
	}

	return s.query(ctx, name)
}

func (s *PostgresStore) query(ctx context.Context, name string) (Record, error) {
	var rec Record
	row := s.pool.QueryRow(ctx,
		`SELECT name, content, version, created_at, updated_at FROM documents WHERE name = $1`, name)
	if err := row.Scan(&rec.Name, &rec.Content, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
