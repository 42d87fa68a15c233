package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// StoreConfig selects and configures a store backend.
type StoreConfig struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	Retention     time.Duration
}

// Open creates the store named by config.Backend.
func Open(ctx context.Context, config StoreConfig, logger *slog.Logger) (Store, error) {
	switch config.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite:
		cfg := DefaultSQLiteConfig()
		if config.SQLitePath != "" {
			cfg.Path = config.SQLitePath
		}
		return NewSQLiteStore(cfg, logger)
	case BackendRedis:
		return NewRedisStore(ctx, RedisConfig{
			Addr:      config.RedisAddr,
			Password:  config.RedisPassword,
			DB:        config.RedisDB,
			Prefix:    config.RedisPrefix,
			Retention: config.Retention,
		})
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", config.Backend)
	}
}
