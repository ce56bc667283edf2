package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/store"
	"github.com/platinummonkey/gatekeeper/pkg/store/sqlstore"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Store configuration
	Store store.Config

	// Credential table layout
	Tables auth.Tables

	// SSO connection settings that are not part of the connection config
	SSO SSOConfig

	// Rate limiting of the verification endpoints
	RateLimit RateLimitConfig

	// Background job schedules
	Jobs JobsConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// SSOConfig holds settings for the identity provider connection
type SSOConfig struct {
	// PropertiesFile is the YAML properties fallback; empty disables it
	PropertiesFile string
	// WatchProperties reloads PropertiesFile when it changes
	WatchProperties bool
	// CACertFile is an optional PEM bundle trusted for the provider
	CACertFile string
	// ConnectTimeout bounds each request to the provider
	ConnectTimeout time.Duration
	// EagerConnect creates the connection at startup
	EagerConnect bool
}

// RateLimitConfig limits verification requests per client address
type RateLimitConfig struct {
	// RequestsPerMinute of zero disables rate limiting
	RequestsPerMinute int
	Burst             int
	// Distributed shares limits through Redis when it is configured
	Distributed bool
	// TrustedProxies are addresses or CIDR ranges whose X-Forwarded-For
	// headers are believed
	TrustedProxies []string
}

// JobsConfig holds cron schedules for background maintenance. An empty
// schedule disables the job.
type JobsConfig struct {
	SSOReconnect  string
	ReplicaHealth string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Store:         loadStoreConfig(),
		Tables:        loadTables(),
		SSO:           loadSSOConfig(),
		RateLimit:     loadRateLimitConfig(),
		Jobs:          loadJobsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadStoreConfig loads store configuration from environment
func loadStoreConfig() store.Config {
	cfg := store.DefaultConfig()

	if driver := getEnv("GATEKEEPER_STORE_DRIVER", ""); driver != "" {
		cfg.Driver = driver
	}
	if dsn := getEnv("GATEKEEPER_STORE_DSN", ""); dsn != "" {
		cfg.DSN = dsn
	}
	cfg.ReplicaDSNs = sqlstore.ParseReplicaDSNs(getEnv("GATEKEEPER_STORE_REPLICA_DSNS", ""))
	if maxConns := getEnvInt("GATEKEEPER_STORE_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxOpenConns = maxConns
	}
	if idleConns := getEnvInt("GATEKEEPER_STORE_IDLE_CONNS", 0); idleConns > 0 {
		cfg.MaxIdleConns = idleConns
	}
	if lifetime := getEnvDuration("GATEKEEPER_STORE_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.MaxLifetime = lifetime
	}
	if timeout := getEnvDuration("GATEKEEPER_STORE_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}

	// Redis config
	if redisURL := getEnv("GATEKEEPER_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("GATEKEEPER_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("GATEKEEPER_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("GATEKEEPER_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("GATEKEEPER_CACHE_ENABLED", cfg.CacheEnabled)
	if ttl := getEnvDuration("GATEKEEPER_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL = ttl
	}
	if l1CacheSize := getEnvInt("GATEKEEPER_L1_CACHE_SIZE", 0); l1CacheSize > 0 {
		cfg.L1CacheSize = l1CacheSize
	}

	return cfg
}

// loadTables loads the credential table layout from environment
func loadTables() auth.Tables {
	defaults := auth.DefaultTables()
	return auth.Tables{
		Keyspace:        getEnv("GATEKEEPER_KEYSPACE", defaults.Keyspace),
		UserAuthTable:   getEnv("GATEKEEPER_USER_AUTH_TABLE", defaults.UserAuthTable),
		ClientInfoTable: getEnv("GATEKEEPER_CLIENT_INFO_TABLE", defaults.ClientInfoTable),
		UserIDColumn:    getEnv("GATEKEEPER_USER_ID_COLUMN", defaults.UserIDColumn),
		ClientIDColumn:  defaults.ClientIDColumn,
		MasterKeyColumn: getEnv("GATEKEEPER_MASTER_KEY_COLUMN", defaults.MasterKeyColumn),
	}
}

// loadSSOConfig loads SSO settings from environment
func loadSSOConfig() SSOConfig {
	return SSOConfig{
		PropertiesFile:  getEnv("GATEKEEPER_PROPERTIES_FILE", ""),
		WatchProperties: getEnvBool("GATEKEEPER_PROPERTIES_WATCH", true),
		CACertFile:      getEnv("GATEKEEPER_SSO_CA_CERT_FILE", ""),
		ConnectTimeout:  getEnvDuration("GATEKEEPER_SSO_TIMEOUT", 30*time.Second),
		EagerConnect:    getEnvBool("GATEKEEPER_SSO_EAGER_CONNECT", true),
	}
}

// loadRateLimitConfig loads rate limit settings from environment
func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: getEnvInt("GATEKEEPER_RATE_LIMIT_PER_MINUTE", 600),
		Burst:             getEnvInt("GATEKEEPER_RATE_LIMIT_BURST", 60),
		Distributed:       getEnvBool("GATEKEEPER_RATE_LIMIT_DISTRIBUTED", false),
		TrustedProxies:    getEnvList("GATEKEEPER_TRUSTED_PROXIES"),
	}
}

// loadJobsConfig loads background job schedules from environment
func loadJobsConfig() JobsConfig {
	return JobsConfig{
		SSOReconnect:  getEnv("GATEKEEPER_SSO_RECONNECT_SCHEDULE", "@every 1m"),
		ReplicaHealth: getEnv("GATEKEEPER_REPLICA_HEALTH_SCHEDULE", "@every 30s"),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEKEEPER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEKEEPER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEKEEPER_OTEL_SERVICE_NAME", "gatekeeper"),
		OTelServiceVersion: getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEKEEPER_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Store.Driver {
	case "memory":
	case sqlstore.DriverPostgres, sqlstore.DriverSQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("store DSN is required for %s store", c.Store.Driver)
		}
	default:
		return fmt.Errorf("invalid store driver: %s (must be postgres, sqlite3, or memory)", c.Store.Driver)
	}
	if c.Store.CacheEnabled && c.Store.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive when the cache is enabled")
	}

	for name, ident := range map[string]string{
		"keyspace":          c.Tables.Keyspace,
		"user auth table":   c.Tables.UserAuthTable,
		"client info table": c.Tables.ClientInfoTable,
		"user id column":    c.Tables.UserIDColumn,
		"master key column": c.Tables.MasterKeyColumn,
	} {
		if err := store.ValidateIdentifier(ident); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	if c.RateLimit.Distributed && c.Store.RedisURL == "" {
		return fmt.Errorf("distributed rate limiting requires a redis URL")
	}
	if _, err := auth.ParseTrustedProxies(c.RateLimit.TrustedProxies); err != nil {
		return err
	}

	for name, schedule := range map[string]string{
		"sso reconnect":  c.Jobs.SSOReconnect,
		"replica health": c.Jobs.ReplicaHealth,
	} {
		if schedule == "" {
			continue
		}
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, schedule, err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
// getEnvList splits a comma separated variable, dropping empty entries
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
