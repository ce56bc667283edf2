package sqlstore

import (
	"context"
	"fmt"

	"github.com/platinummonkey/gatekeeper/pkg/store"
)

// Schema names the credential tables created by Migrate. Empty column
// names default to user_id and master_key.
type Schema struct {
	Keyspace        string
	UserAuthTable   string
	ClientInfoTable string
	UserIDColumn    string
	MasterKeyColumn string
}

// Migrate creates the credential tables if they do not exist. Tokens and
// client ids are primary keys in the store's key column, so a lookup by key
// matches at most one row.
func (s *Store) Migrate(ctx context.Context, schema Schema) error {
	if schema.UserIDColumn == "" {
		schema.UserIDColumn = "user_id"
	}
	if schema.MasterKeyColumn == "" {
		schema.MasterKeyColumn = "master_key"
	}
	for _, name := range []string{schema.UserAuthTable, schema.ClientInfoTable, schema.UserIDColumn, schema.MasterKeyColumn} {
		if err := store.ValidateIdentifier(name); err != nil {
			return err
		}
	}

	var statements []string
	if s.dialect.name == DriverPostgres && schema.Keyspace != "" {
		if err := store.ValidateIdentifier(schema.Keyspace); err != nil {
			return err
		}
		statements = append(statements, "CREATE SCHEMA IF NOT EXISTS "+s.dialect.quote(schema.Keyspace))
	}

	ts := s.dialect.timestampType()
	key := s.dialect.quote(s.keyColumn)
	statements = append(statements,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s TEXT PRIMARY KEY,
			%s TEXT NOT NULL,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, s.dialect.qualify(schema.Keyspace, schema.UserAuthTable), key,
			s.dialect.quote(schema.UserIDColumn), ts),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s TEXT PRIMARY KEY,
			%s TEXT NOT NULL,
			name TEXT,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, s.dialect.qualify(schema.Keyspace, schema.ClientInfoTable), key,
			s.dialect.quote(schema.MasterKeyColumn), ts),
	)

	for _, stmt := range statements {
		if _, err := s.primary.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	s.logger.WithField("keyspace", schema.Keyspace).Info("Credential tables ready")
	return nil
}
