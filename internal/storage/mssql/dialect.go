// Package mssql registers the "mssql" storage backend (go-mssqldb).
package mssql

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/huandu/go-sqlbuilder"
	_ "github.com/microsoft/go-mssqldb"

	"productload/internal/storage"
	"productload/internal/storage/sqlstore"
)

const (
	DefaultPort = 1433
	masterDB    = "master"
)

func init() {
	storage.Register("mssql", Open)
}

// Open opens a SQL Server repository.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	return sqlstore.Open(ctx, Dialect(), cfg)
}

// Dialect describes SQL Server. A statement takes at most 2100 parameters and
// a VALUES list at most 1000 rows. Bounded strings use a binary collation so
// unique lookup names compare byte-wise, as they do on the other backends.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:             "mssql",
		Driver:           "sqlserver",
		Flavor:           sqlbuilder.SQLServer,
		MaxParams:        2100,
		MaxRowsPerInsert: 1000,
		Types: map[string]string{
			"int":    "INT",
			"bigint": "BIGINT",
			"float":  "FLOAT",
			"text":   "NVARCHAR(MAX)",
		},
		Varchar:         "NVARCHAR(%d) COLLATE Latin1_General_100_BIN2",
		AutoIncrementPK: "%s INT IDENTITY(1,1) PRIMARY KEY",
		DatabaseDSN:     DSN,
		ServerDSN:       ServerDSN,
		CreateDatabase:  "IF DB_ID(N'%[2]s') IS NULL CREATE DATABASE %[1]s",
		DropDatabase:    "DROP DATABASE IF EXISTS %[1]s",
		ListIndexes: `SELECT i.name, c.name,
       CASE WHEN i.is_unique = 1 THEN 0 ELSE 1 END,
       CASE WHEN i.is_primary_key = 1 THEN 1 ELSE 0 END,
       CASE WHEN i.is_unique_constraint = 1 OR i.is_primary_key = 1 THEN 1 ELSE 0 END
FROM sys.indexes i
JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
WHERE i.object_id = OBJECT_ID(@p1) AND i.name IS NOT NULL
ORDER BY i.name, ic.key_ordinal`,
		DropIndex: "DROP INDEX %[1]s ON %[2]s",
	}
}

// DSN returns cfg.DSN or a sqlserver:// URL for the configured database.
func DSN(cfg storage.Config) (string, error) {
	return withDatabase(cfg, cfg.Database)
}

// ServerDSN returns the connection string for the master database.
func ServerDSN(cfg storage.Config) (string, error) {
	return withDatabase(cfg, masterDB)
}

func withDatabase(cfg storage.Config, db string) (string, error) {
	var u *url.URL
	if strings.TrimSpace(cfg.DSN) != "" {
		parsed, err := url.Parse(cfg.DSN)
		if err != nil {
			return "", fmt.Errorf("mssql: parse dsn: %w", err)
		}
		if parsed.Scheme != "sqlserver" {
			return "", fmt.Errorf("mssql: dsn must use the sqlserver:// scheme")
		}
		u = parsed
	} else {
		host := cfg.Host
		if host == "" {
			host = "localhost"
		}
		port := cfg.Port
		if port == 0 {
			port = DefaultPort
		}
		u = &url.URL{
			Scheme: "sqlserver",
			User:   url.UserPassword(cfg.User, cfg.Password),
			Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		}
	}

	q := u.Query()
	if db != "" {
		q.Set("database", db)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
