package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

var ErrUnknownDriver = errors.New("unknown session store driver")

type StoreConfig struct {
	Driver     string `envconfig:"DRIVER" split_words:"true" default:"memory"`
	SQLitePath string `envconfig:"SQLITE_PATH" split_words:"true" default:"data/sessions.db"`
	KeyPrefix  string `envconfig:"KEY_PREFIX" split_words:"true" default:"ticker-agent:session:"`

	Postgres PostgresConfig     `envconfig:"POSTGRES"`
	Redis    UpstashRedisConfig `envconfig:"REDIS"`
}

// NewStore builds the Store selected by cfg.Driver. Stores holding a
// connection also implement io.Closer.
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		store, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		store, err := NewPostgresStore(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverRedis:
		store, err := NewUpstashRedisStore(cfg.Redis, WithKeyPrefix(cfg.KeyPrefix), WithTTL(cfg.Redis.TTL))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}
