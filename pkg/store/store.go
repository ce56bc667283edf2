package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Row is a single record returned by a lookup, keyed by column name
type Row map[string]interface{}

// String returns the value of a column as a string.
// Returns false when the column is missing or not textual.
func (r Row) String(column string) (string, bool) {
	switch v := r[column].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// Store is the generic keyed-record lookup the verifier depends on.
// Both calls are fallible and may be network-backed.
type Store interface {
	// GetRecordByKey returns the rows whose primary key equals key
	GetRecordByKey(ctx context.Context, keyspace, table, key string) ([]Row, error)

	// GetRecordsByFilter returns the rows matching every column = value pair
	GetRecordsByFilter(ctx context.Context, keyspace, table string, filter map[string]interface{}) ([]Row, error)
}

var (
	// ErrInvalidIdentifier is returned when a keyspace, table or column name is unsafe
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrEmptyFilter is returned when a filter lookup has no conditions
	ErrEmptyFilter = errors.New("filter must contain at least one condition")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateIdentifier checks that name can be used as a keyspace, table or column
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// Config for the persistent store backend
type Config struct {
	Driver      string // "postgres", "sqlite3" or "memory"
	DSN         string
	ReplicaDSNs []string

	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	Timeout      time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     time.Duration
	L1CacheSize  int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite3",
		DSN:             "file:gatekeeper.db?cache=shared",
		MaxOpenConns:    20,
		MaxIdleConns:    2,
		MaxLifetime:     30 * time.Minute,
		Timeout:         10 * time.Second,
		RedisDB:         0,
		RedisMaxRetries: 3,
		RedisPoolSize:   10,
		CacheEnabled:    false,
		CacheTTL:        30 * time.Second,
		L1CacheSize:     10000,
	}
}
