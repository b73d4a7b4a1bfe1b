package cachestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	createImageCacheTable = `
CREATE TABLE IF NOT EXISTS image_cache (
	cache_key  TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	selectImageCache = `SELECT data FROM image_cache WHERE cache_key = $1`

	insertImageCache = `INSERT INTO image_cache (cache_key, data) VALUES ($1, $2) ON CONFLICT (cache_key) DO NOTHING`
)

// Querier is the subset of *pgxpool.Pool used by PostgresStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps entries in the image_cache table.
type PostgresStore struct {
	db Querier
}

// NewPostgresStore wraps a pool.
func NewPostgresStore(db Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the image_cache table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createImageCacheTable); err != nil {
		return fmt.Errorf("creating image_cache table: %w", err)
	}
	return nil
}

// Get reads an entry.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(ctx, selectImageCache, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select cache entry: %w", err)
	}
	return data, nil
}

// PutIfAbsent inserts the entry; an existing row is left untouched.
func (s *PostgresStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	if _, err := s.db.Exec(ctx, insertImageCache, key, data); err != nil {
		return fmt.Errorf("insert cache entry: %w", err)
	}
	return nil
}
