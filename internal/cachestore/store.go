// Package cachestore persists tiles, stitched panoramas and crops as
// append-only blobs addressed by deterministic keys.
package cachestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("cache entry not found")

// Store is a create-if-absent blob store. Entries are never updated or evicted:
// PutIfAbsent on an existing key is a no-op that returns nil.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	PutIfAbsent(ctx context.Context, key string, data []byte) error
}

// Backend names accepted by configuration.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendValkey   = "valkey"
	BackendPostgres = "postgres"
)

// validateKey rejects keys that could escape a file store root.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty cache key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid cache key %q", key)
	}
	return nil
}
