// Package sqlstore implements storage.Repository over database/sql. Backend
// packages supply a Dialect describing the SQL each server speaks.
package sqlstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/huandu/go-sqlbuilder"

	"productload/internal/storage"
)

// Dialect captures what differs between SQL backends.
type Dialect struct {
	// Name is the storage kind, e.g. "mysql".
	Name string
	// Driver is the database/sql driver name.
	Driver string
	// Flavor drives identifier quoting and placeholder style.
	Flavor sqlbuilder.Flavor
	// MaxParams is the bind-parameter limit of a single statement.
	MaxParams int
	// MaxRowsPerInsert, when > 0, caps rows per INSERT (SQL Server allows 1000).
	MaxRowsPerInsert int
	// MaxOpenConns, when > 0, caps the pool (SQLite in-memory needs 1).
	MaxOpenConns int

	// Types maps portable column types to native ones. Unknown types pass
	// through verbatim. Varchar formats varchar(N).
	Types   map[string]string
	Varchar string
	// AutoIncrementPK formats the column definition of a "serial" primary key
	// from the quoted column name.
	AutoIncrementPK string

	// DatabaseDSN and ServerDSN build connection strings for the configured
	// database and for the server without a database selected. ServerDSN nil
	// means the backend has no database namespace.
	DatabaseDSN func(cfg storage.Config) (string, error)
	ServerDSN   func(cfg storage.Config) (string, error)

	// DatabaseExists, when set, is queried with the database name before
	// CreateDatabase runs (for servers without CREATE DATABASE IF NOT EXISTS).
	DatabaseExists string
	// CreateDatabase and DropDatabase are formats taking %[1]s the quoted
	// name and %[2]s the raw name.
	CreateDatabase string
	DropDatabase   string

	// ListIndexes takes the table name as its only argument and returns
	// (index, column, non_unique, is_primary, is_constraint) ordered by index
	// then column position.
	ListIndexes string
	// DropIndex formats %[1]s the quoted index and %[2]s the quoted table.
	DropIndex string

	// ProfileReset and ProfileRead bracket a profiled query on the same
	// connection. ProfileRead returns (name, value) rows.
	ProfileReset string
	ProfileRead  string
}

// Quote quotes an identifier for the dialect.
func (d Dialect) Quote(name string) string {
	if d.Flavor == sqlbuilder.SQLServer {
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	}
	return d.Flavor.Quote(name)
}

var varcharRe = regexp.MustCompile(`^varchar\((\d+)\)$`)

// ColumnType maps a portable type to the dialect's native type.
func (d Dialect) ColumnType(portable string) string {
	t := strings.ToLower(strings.TrimSpace(portable))
	if m := varcharRe.FindStringSubmatch(t); m != nil && d.Varchar != "" {
		n, _ := strconv.Atoi(m[1])
		return fmt.Sprintf(d.Varchar, n)
	}
	if native, ok := d.Types[t]; ok {
		return native
	}
	return portable
}

// HasDatabases reports whether the backend has a database namespace.
func (d Dialect) HasDatabases() bool { return d.ServerDSN != nil }

func (d Dialect) validate() error {
	switch {
	case d.Name == "":
		return fmt.Errorf("sqlstore: dialect name is empty")
	case d.Driver == "":
		return fmt.Errorf("sqlstore: dialect %s has no driver", d.Name)
	case d.DatabaseDSN == nil:
		return fmt.Errorf("sqlstore: dialect %s has no DatabaseDSN", d.Name)
	case d.MaxParams <= 0:
		return fmt.Errorf("sqlstore: dialect %s has no parameter limit", d.Name)
	}
	return nil
}
