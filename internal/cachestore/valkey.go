package cachestore

import (
	"context"
	"fmt"

	"github.com/valkey-io/valkey-go"
)

// ValkeyStore keeps entries in Valkey (Redis-compatible) without expiry.
type ValkeyStore struct {
	client valkey.Client
	prefix string
}

// NewValkeyStore wraps a client. prefix namespaces every key.
func NewValkeyStore(client valkey.Client, prefix string) *ValkeyStore {
	return &ValkeyStore{client: client, prefix: prefix}
}

// DialValkey connects to a Valkey server.
func DialValkey(addr string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return client, nil
}

// Get reads an entry.
func (s *ValkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(s.prefix+key).Build())
	if err := resp.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("valkey get: %w", err)
	}
	b, err := resp.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("valkey get: %w", err)
	}
	return b, nil
}

// PutIfAbsent issues SET NX, which is atomic on the server.
func (s *ValkeyStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	cmd := s.client.B().Set().Key(s.prefix + key).Value(valkey.BinaryString(data)).Nx().Build()
	err := s.client.Do(ctx, cmd).Error()
	if err != nil && !valkey.IsValkeyNil(err) {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *ValkeyStore) Close() {
	s.client.Close()
}
