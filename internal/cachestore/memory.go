package cachestore

import (
	"context"
	"sync"
	"sync/atomic"
)

// MemoryStore is an in-process Store. It counts operations, which makes it
// useful for asserting cache behaviour in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte

	gets   atomic.Int64
	hits   atomic.Int64
	writes atomic.Int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// Get returns a copy of the entry.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.gets.Add(1)

	s.mu.RLock()
	data, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	s.hits.Add(1)
	return append([]byte(nil), data...), nil
}

// PutIfAbsent stores a copy of data unless the key exists.
func (s *MemoryStore) PutIfAbsent(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return nil
	}
	s.entries[key] = append([]byte(nil), data...)
	s.writes.Add(1)
	return nil
}

// Len returns the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Has reports whether key is present without counting a lookup.
func (s *MemoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[key]
	return ok
}

// Stats returns lookups, hits and first writes since creation.
func (s *MemoryStore) Stats() (gets, hits, writes int64) {
	return s.gets.Load(), s.hits.Load(), s.writes.Load()
}
