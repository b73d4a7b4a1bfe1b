package cachestore

import (
	"context"
	"fmt"

	"github.com/roadcondition/streetcrop/internal/database"
)

// Config selects and configures a backend.
type Config struct {
	Backend      string          `mapstructure:"backend"`
	Dir          string          `mapstructure:"dir"`
	BadgerDir    string          `mapstructure:"badger_dir"`
	ValkeyAddr   string          `mapstructure:"valkey_addr"`
	ValkeyPrefix string          `mapstructure:"valkey_prefix"`
	Postgres     database.Config `mapstructure:"postgres"`
}

// Open builds the configured backend. The returned close function releases
// any connection or database handle and is never nil.
func Open(ctx context.Context, cfg Config) (Store, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case BackendFile, "":
		s, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case BackendMemory:
		return NewMemoryStore(), noop, nil

	case BackendBadger:
		db, err := OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, noop, err
		}
		return NewBadgerStore(db), func() { _ = db.Close() }, nil

	case BackendValkey:
		client, err := DialValkey(cfg.ValkeyAddr)
		if err != nil {
			return nil, noop, err
		}
		s := NewValkeyStore(client, cfg.ValkeyPrefix)
		return s, s.Close, nil

	case BackendPostgres:
		pool, err := database.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, noop, err
		}
		s := NewPostgresStore(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return s, pool.Close, nil

	default:
		return nil, noop, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
