package sqlstore

import (
	"fmt"
	"strconv"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// dialect captures the SQL differences between supported drivers
type dialect struct {
	name string
}

func newDialect(driver string) (dialect, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
		return dialect{name: driver}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported driver: %s (must be postgres or sqlite3)", driver)
	}
}

// placeholder returns the n-th (1-based) bind parameter
func (d dialect) placeholder(n int) string {
	if d.name == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// quote quotes a previously validated identifier
func (d dialect) quote(name string) string {
	if d.name == DriverPostgres {
		return pq.QuoteIdentifier(name)
	}
	return `"` + name + `"`
}

// qualify returns the table reference. SQLite databases are single-schema,
// so the keyspace is dropped there.
func (d dialect) qualify(keyspace, table string) string {
	if d.name == DriverPostgres && keyspace != "" {
		return d.quote(keyspace) + "." + d.quote(table)
	}
	return d.quote(table)
}

func (d dialect) timestampType() string {
	if d.name == DriverPostgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}
