package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/store"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultKeyColumn is the primary key column used by GetRecordByKey
const DefaultKeyColumn = "id"

// Config holds database connection configuration
type Config struct {
	Driver      string
	PrimaryDSN  string
	ReplicaDSNs []string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Store is a database/sql backed store.Store. Lookups are served by read
// replicas in round-robin order, falling back to the primary.
type Store struct {
	primary  *sql.DB
	replicas []*sql.DB
	current  uint32 // Atomic counter for round-robin selection
	mu       sync.RWMutex

	dialect   dialect
	config    Config
	keyColumn string
	logger    *logrus.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
}

// Option configures a Store
type Option func(*Store)

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

// WithKeyColumn overrides the primary key column used by GetRecordByKey
func WithKeyColumn(column string) Option {
	return func(s *Store) {
		s.keyColumn = column
	}
}

// WithReplicas adds already-open read replicas
func WithReplicas(replicas ...*sql.DB) Option {
	return func(s *Store) {
		s.replicas = append(s.replicas, replicas...)
	}
}

// New wraps an open database handle
func New(db *sql.DB, driver string, opts ...Option) (*Store, error) {
	d, err := newDialect(driver)
	if err != nil {
		return nil, err
	}

	s := &Store{
		primary:   db,
		replicas:  make([]*sql.DB, 0),
		dialect:   d,
		config:    Config{Driver: driver, Timeout: 5 * time.Second},
		keyColumn: DefaultKeyColumn,
		logger:    observability.NewNopLogger(),
		tracer:    otel.Tracer(observability.TracerName),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := store.ValidateIdentifier(s.keyColumn); err != nil {
		return nil, fmt.Errorf("key column: %w", err)
	}

	return s, nil
}

// Open connects to the primary and any configured replicas.
// Replicas that fail to connect are logged and skipped.
func Open(config Config, opts ...Option) (*Store, error) {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	primary, err := openDB(config, config.PrimaryDSN, config.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to open primary connection: %w", err)
	}

	s, err := New(primary, config.Driver, opts...)
	if err != nil {
		primary.Close()
		return nil, err
	}
	s.config = config

	for i, dsn := range config.ReplicaDSNs {
		// Replicas get a smaller pool than the primary
		replicaMaxConns := config.MaxConns / 2
		if replicaMaxConns < 2 {
			replicaMaxConns = 2
		}
		replica, err := openDB(config, dsn, replicaMaxConns)
		if err != nil {
			s.logger.WithError(err).WithField("replica", i).Warn("Failed to open replica, skipping")
			continue
		}
		s.replicas = append(s.replicas, replica)
	}

	s.logger.WithFields(logrus.Fields{
		"driver":   config.Driver,
		"replicas": len(s.replicas),
	}).Info("Store connection initialized")

	return s, nil
}

func openDB(config Config, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open(config.Driver, dsn)
	if err != nil {
		return nil, err
	}

	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if config.MinConns > 0 {
		db.SetMaxIdleConns(config.MinConns)
	}
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// DB returns the primary database connection
func (s *Store) DB() *sql.DB {
	return s.primary
}

// Driver returns the configured driver name
func (s *Store) Driver() string {
	return s.dialect.name
}

// Replica returns a read replica using round-robin selection.
// Falls back to primary if no replicas are available.
func (s *Store) Replica() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.replicas) == 0 {
		return s.primary
	}

	index := atomic.AddUint32(&s.current, 1)
	return s.replicas[int(index%uint32(len(s.replicas)))]
}

// GetRecordByKey returns the rows whose key column equals key
func (s *Store) GetRecordByKey(ctx context.Context, keyspace, table, key string) ([]store.Row, error) {
	return s.query(ctx, "get_by_key", keyspace, table, map[string]interface{}{s.keyColumn: key})
}

// GetRecordsByFilter returns rows matching every column = value condition
func (s *Store) GetRecordsByFilter(ctx context.Context, keyspace, table string, filter map[string]interface{}) ([]store.Row, error) {
	if len(filter) == 0 {
		return nil, store.ErrEmptyFilter
	}
	return s.query(ctx, "get_by_filter", keyspace, table, filter)
}

func (s *Store) query(ctx context.Context, operation, keyspace, table string, filter map[string]interface{}) (rows []store.Row, err error) {
	ctx, span := s.tracer.Start(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", s.dialect.name),
			attribute.String("db.sql.table", table),
		),
	)
	start := time.Now()
	defer func() {
		s.metrics.RecordStoreOperation(operation, table, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	query, args, err := s.buildSelect(keyspace, table, filter)
	if err != nil {
		return nil, err
	}

	result, err := s.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer result.Close()

	rows, err = scanRows(result)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	span.SetAttributes(attribute.Int("db.rows", len(rows)))
	return rows, nil
}

// buildSelect renders a SELECT with one equality condition per filter column.
// Columns are sorted so the same filter always renders the same SQL.
func (s *Store) buildSelect(keyspace, table string, filter map[string]interface{}) (string, []interface{}, error) {
	if keyspace != "" {
		if err := store.ValidateIdentifier(keyspace); err != nil {
			return "", nil, err
		}
	}
	if err := store.ValidateIdentifier(table); err != nil {
		return "", nil, err
	}

	columns := make([]string, 0, len(filter))
	for column := range filter {
		if err := store.ValidateIdentifier(column); err != nil {
			return "", nil, err
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	conditions := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	for i, column := range columns {
		conditions[i] = s.dialect.quote(column) + " = " + s.dialect.placeholder(i+1)
		args[i] = filter[column]
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s",
		s.dialect.qualify(keyspace, table),
		strings.Join(conditions, " AND "),
		s.dialect.quote(s.keyColumn),
	)
	return query, args, nil
}

func scanRows(result *sql.Rows) ([]store.Row, error) {
	columns, err := result.Columns()
	if err != nil {
		return nil, err
	}

	var rows []store.Row
	for result.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}

		if err := result.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(store.Row, len(columns))
		for i, column := range columns {
			// Drivers may reuse byte slices between rows
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		rows = append(rows, row)
	}

	return rows, result.Err()
}

// HealthCheck checks the health of the primary and all replicas
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	s.mu.RLock()
	replicas := make([]*sql.DB, len(s.replicas))
	copy(replicas, s.replicas)
	s.mu.RUnlock()

	var unhealthy []string
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			unhealthy = append(unhealthy, fmt.Sprintf("replica-%d", i))
		}
	}

	if len(unhealthy) > 0 && len(unhealthy) == len(replicas) {
		// All replicas are down, but primary is up (degraded state)
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(unhealthy, ", "))
	}

	return nil
}

// RemoveUnhealthyReplicas closes and drops replicas that fail a ping
func (s *Store) RemoveUnhealthyReplicas(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	healthy := make([]*sql.DB, 0, len(s.replicas))
	removed := 0

	for _, replica := range s.replicas {
		if err := replica.PingContext(ctx); err != nil {
			replica.Close()
			removed++
		} else {
			healthy = append(healthy, replica)
		}
	}

	s.replicas = healthy
	return removed
}

// Close closes all database connections
func (s *Store) Close() error {
	var errs []error

	if err := s.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close error: %w", err))
	}

	s.mu.Lock()
	replicas := s.replicas
	s.replicas = nil
	s.mu.Unlock()

	for i, replica := range replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d close error: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// ParseReplicaDSNs parses a comma-separated list of replica DSNs
func ParseReplicaDSNs(value string) []string {
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
