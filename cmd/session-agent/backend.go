package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"

	"github.com/schoolhub/session-agent/internal/config"
	"github.com/schoolhub/session-agent/internal/credentials"
	"github.com/schoolhub/session-agent/internal/logger"
)

var sqlDrivers = map[string]string{
	config.DriverSQLite:   "sqlite3",
	config.DriverPostgres: "postgres",
}

// openBackend returns the configured credential backend and a function that
// releases its connections.
func openBackend(ctx context.Context, cfg *config.Config) (credentials.Backend, func(), error) {
	noop := func() {}

	switch cfg.Store.Driver {
	case config.DriverMemory:
		logger.Get().Warn().Msg("Using in-memory credential store, sessions will not survive a restart")
		return credentials.NewMemoryBackend(nil), noop, nil

	case config.DriverFile:
		key, err := cfg.EncryptionKeyBytes()
		if err != nil {
			return nil, nil, err
		}
		backend, err := credentials.NewFileBackend(cfg.Store.Path, key)
		if err != nil {
			return nil, nil, err
		}
		logger.Get().Info().
			Str("path", backend.Path()).
			Bool("sealed", key != nil).
			Msg("Using file credential store")
		return backend, noop, nil

	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Store.Redis.Addr, err)
		}
		logger.Get().Info().Str("addr", cfg.Store.Redis.Addr).Msg("Using redis credential store")
		return credentials.NewRedisBackend(rdb, cfg.Store.Redis.Prefix), func() { rdb.Close() }, nil

	case config.DriverSQLite, config.DriverPostgres:
		dialect, err := credentials.ParseDialect(cfg.Store.Driver)
		if err != nil {
			return nil, nil, err
		}
		db, err := sql.Open(sqlDrivers[cfg.Store.Driver], cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s database: %w", cfg.Store.Driver, err)
		}
		backend := credentials.NewSQLBackend(db, dialect)
		if err := backend.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Get().Info().Str("driver", cfg.Store.Driver).Msg("Using SQL credential store")
		return backend, func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}
