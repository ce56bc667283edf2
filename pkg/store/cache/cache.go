// Package cache provides a read-through caching decorator for store.Store.
//
// Lookups are served from an in-process expirable LRU (L1), then from Redis
// (L2) when a client is configured, and finally from the wrapped store. Only
// non-empty results are cached, so a newly issued token is visible on the
// next lookup while a revoked one stays valid for at most the TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "gatekeeper:rows"

// Config controls cache sizing
type Config struct {
	TTL    time.Duration
	L1Size int
	// LoadTimeout bounds a shared backend load, which outlives the
	// callers waiting on it
	LoadTimeout time.Duration
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		TTL:         30 * time.Second,
		L1Size:      10000,
		LoadTimeout: 5 * time.Second,
	}
}

// Store wraps a store.Store with L1 and optional L2 caching
type Store struct {
	backend store.Store
	l1      *lru.LRU[string, []store.Row]
	loads   singleflight.Group
	redis   *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// Option configures a cache Store
type Option func(*Store)

// WithRedis enables the L2 Redis layer
func WithRedis(client *redis.Client) Option {
	return func(s *Store) {
		s.redis = client
	}
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Store) {
		s.metrics = metrics
	}
}

// New wraps backend with a read-through cache
func New(backend store.Store, config Config, opts ...Option) *Store {
	if config.TTL <= 0 {
		config.TTL = DefaultConfig().TTL
	}
	if config.L1Size <= 0 {
		config.L1Size = DefaultConfig().L1Size
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = DefaultConfig().LoadTimeout
	}

	s := &Store{
		backend: backend,
		l1:      lru.NewLRU[string, []store.Row](config.L1Size, nil, config.TTL),
		ttl:     config.TTL,
		timeout: config.LoadTimeout,
		logger:  observability.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetRecordByKey implements store.Store
func (s *Store) GetRecordByKey(ctx context.Context, keyspace, table, key string) ([]store.Row, error) {
	cacheKey := buildKey(keyspace, table, "key", map[string]interface{}{"": key})
	return s.readThrough(ctx, cacheKey, func(ctx context.Context) ([]store.Row, error) {
		return s.backend.GetRecordByKey(ctx, keyspace, table, key)
	})
}

// GetRecordsByFilter implements store.Store
func (s *Store) GetRecordsByFilter(ctx context.Context, keyspace, table string, filter map[string]interface{}) ([]store.Row, error) {
	if len(filter) == 0 {
		return nil, store.ErrEmptyFilter
	}
	cacheKey := buildKey(keyspace, table, "filter", filter)
	return s.readThrough(ctx, cacheKey, func(ctx context.Context) ([]store.Row, error) {
		return s.backend.GetRecordsByFilter(ctx, keyspace, table, filter)
	})
}

func (s *Store) readThrough(ctx context.Context, key string, load func(context.Context) ([]store.Row, error)) ([]store.Row, error) {
	if rows, ok := s.l1.Get(key); ok {
		s.metrics.RecordCacheHit("l1")
		return copyRows(rows), nil
	}
	s.metrics.RecordCacheMiss("l1")

	if s.redis != nil {
		if rows, ok := s.getL2(ctx, key); ok {
			s.metrics.RecordCacheHit("l2")
			s.l1.Add(key, rows)
			return copyRows(rows), nil
		}
		s.metrics.RecordCacheMiss("l2")
	}

	// Concurrent misses on one key share a single backend query. It runs
	// detached from whichever caller started it, so that caller going away
	// does not fail the others.
	results := s.loads.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		rows, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return rows, nil
		}

		s.l1.Add(key, copyRows(rows))
		if s.redis != nil {
			s.setL2(loadCtx, key, rows)
		}
		return rows, nil
	})

	select {
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return copyRows(res.Val.([]store.Row)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// getL2 treats every Redis failure as a miss; the backend stays authoritative.
func (s *Store) getL2(ctx context.Context, key string) ([]store.Row, bool) {
	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	} else if err != nil {
		s.logger.WithError(err).Warn("Redis get failed, falling back to store")
		return nil, false
	}

	var rows []store.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		// Delete corrupt data
		s.redis.Del(ctx, key)
		s.logger.WithError(err).Warn("Discarding corrupt cache entry")
		return nil, false
	}
	return rows, true
}

func (s *Store) setL2(ctx context.Context, key string, rows []store.Row) {
	data, err := json.Marshal(rows)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to encode rows for cache")
		return
	}
	if err := s.redis.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.WithError(err).Warn("Redis set failed")
	}
}

// Invalidate drops every cached lookup for a table. The L1 layer cannot
// match by prefix, so it is purged entirely.
func (s *Store) Invalidate(ctx context.Context, keyspace, table string) error {
	s.l1.Purge()
	if s.redis == nil {
		return nil
	}

	pattern := fmt.Sprintf("%s:%s:%s:*", keyPrefix, keyspace, table)
	iter := s.redis.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan failed for pattern %s: %w", pattern, err)
	}
	return nil
}

// Len returns the number of L1 entries
func (s *Store) Len() int {
	return s.l1.Len()
}

// Close purges L1 and closes the Redis client if one is configured
func (s *Store) Close() error {
	s.l1.Purge()
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// buildKey derives a stable cache key. Filter values are hashed so raw
// tokens never appear in Redis key names.
func buildKey(keyspace, table, kind string, filter map[string]interface{}) string {
	columns := make([]string, 0, len(filter))
	for column := range filter {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	h := sha256.New()
	h.Write([]byte(kind))
	for _, column := range columns {
		fmt.Fprintf(h, "\x00%s=%v", column, filter[column])
	}
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, keyspace, table, hex.EncodeToString(h.Sum(nil)))
}

func copyRows(rows []store.Row) []store.Row {
	out := make([]store.Row, len(rows))
	for i, row := range rows {
		c := make(store.Row, len(row))
		for k, v := range row {
			c[k] = v
		}
		out[i] = c
	}
	return out
}
