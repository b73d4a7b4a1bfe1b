package cachestore_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadcondition/streetcrop/internal/cachestore"
)

// fakeQuerier emulates the image_cache table with ON CONFLICT DO NOTHING semantics.
type fakeQuerier struct {
	mu    sync.Mutex
	rows  map[string][]byte
	execs []string
}

func newFakeQuerier() *fakeQuerier {
	return &fakeQuerier{rows: make(map[string][]byte)}
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)

	if strings.HasPrefix(strings.TrimSpace(sql), "INSERT") {
		key := args[0].(string)
		if _, ok := f.rows[key]; ok {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		f.rows[key] = append([]byte(nil), args[1].([]byte)...)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.rows[args[0].(string)]
	return fakeRow{data: data, found: ok}
}

type fakeRow struct {
	data  []byte
	found bool
}

func (r fakeRow) Scan(dest ...any) error {
	if !r.found {
		return pgx.ErrNoRows
	}
	*(dest[0].(*[]byte)) = append([]byte(nil), r.data...)
	return nil
}

func TestPostgresStore(t *testing.T) {
	q := newFakeQuerier()
	store := cachestore.NewPostgresStore(q)

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.Len(t, q.execs, 1)
	assert.Contains(t, q.execs[0], "CREATE TABLE IF NOT EXISTS image_cache")

	exerciseStore(t, store)

	for _, sql := range q.execs[1:] {
		assert.Contains(t, sql, "ON CONFLICT (cache_key) DO NOTHING")
	}
}
