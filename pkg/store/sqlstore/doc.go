// Package sqlstore implements store.Store on database/sql.
//
// Two drivers are supported: PostgreSQL (lib/pq) where the keyspace maps to
// a schema, and SQLite (go-sqlite3) where the keyspace is ignored. All table
// and column names are validated with store.ValidateIdentifier before they
// are interpolated; values are always passed as bind parameters.
//
// Lookups go to read replicas in round-robin order when replicas are
// configured. Each lookup is traced and recorded in the store metrics.
package sqlstore
