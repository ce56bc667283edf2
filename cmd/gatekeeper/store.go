package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/store"
	"github.com/platinummonkey/gatekeeper/pkg/store/cache"
	"github.com/platinummonkey/gatekeeper/pkg/store/sqlstore"
	"github.com/sirupsen/logrus"
)

// storeStack is the credential store as assembled from configuration
type storeStack struct {
	store store.Store
	sql   *sqlstore.Store // nil for the memory driver
	cache *cache.Store    // nil when caching is disabled
	redis *redis.Client   // nil when no redis is configured
}

// openStore opens the configured backend, migrates it and wraps it in the
// cache when enabled
func openStore(ctx context.Context, cfg store.Config, tables auth.Tables, logger *logrus.Logger, metrics *observability.Metrics) (*storeStack, error) {
	stack := &storeStack{}

	if cfg.Driver == "memory" {
		logger.Warn("Using the in-memory store; credentials do not persist")
		stack.store = store.NewMemoryStore()
	} else {
		sqlStore, err := sqlstore.Open(sqlstore.Config{
			Driver:      cfg.Driver,
			PrimaryDSN:  cfg.DSN,
			ReplicaDSNs: cfg.ReplicaDSNs,
			MaxConns:    cfg.MaxOpenConns,
			MinConns:    cfg.MaxIdleConns,
			Timeout:     cfg.Timeout,
			MaxLifetime: cfg.MaxLifetime,
		}, sqlstore.WithLogger(logger), sqlstore.WithMetrics(metrics))
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}

		if err := sqlStore.Migrate(ctx, sqlstore.Schema{
			Keyspace:        tables.Keyspace,
			UserAuthTable:   tables.UserAuthTable,
			ClientInfoTable: tables.ClientInfoTable,
			UserIDColumn:    tables.UserIDColumn,
			MasterKeyColumn: tables.MasterKeyColumn,
		}); err != nil {
			sqlStore.Close()
			return nil, fmt.Errorf("failed to migrate store: %w", err)
		}

		stack.sql = sqlStore
		stack.store = sqlStore
	}

	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(cfg)
		if err != nil {
			// Redis is optional
			logger.WithError(err).Warn("Redis unavailable, continuing without it")
		} else {
			stack.redis = client
		}
	}

	if cfg.CacheEnabled {
		opts := []cache.Option{cache.WithLogger(logger), cache.WithMetrics(metrics)}
		if stack.redis != nil {
			opts = append(opts, cache.WithRedis(stack.redis))
		}
		stack.cache = cache.New(stack.store, cache.Config{
			TTL:         cfg.CacheTTL,
			L1Size:      cfg.L1CacheSize,
			LoadTimeout: cfg.Timeout,
		}, opts...)
		stack.store = stack.cache
	}

	return stack, nil
}

// Close releases the cache, redis and database connections
func (s *storeStack) Close(ctx context.Context) error {
	var firstErr error
	if s.cache != nil {
		// The cache owns the redis client when it was given one
		if err := s.cache.Close(); err != nil {
			firstErr = err
		}
	} else if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if s.sql != nil {
		if err := s.sql.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sqlDB returns the primary database handle for health checks, or nil
func sqlDB(s *storeStack) *sql.DB {
	if s.sql == nil {
		return nil
	}
	return s.sql.DB()
}
