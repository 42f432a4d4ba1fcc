// Package postgres registers the "postgres" storage backend (pgx stdlib).
package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"productload/internal/storage"
	"productload/internal/storage/sqlstore"
)

const (
	DefaultPort = 5432
	// maintenanceDB is the database used while creating or dropping others.
	maintenanceDB = "postgres"
)

func init() {
	storage.Register("postgres", Open)
}

// Open opens a Postgres repository.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	return sqlstore.Open(ctx, Dialect(), cfg)
}

// Dialect describes Postgres. CREATE DATABASE has no IF NOT EXISTS form, so
// existence is checked in pg_database first.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:      "postgres",
		Driver:    "pgx",
		Flavor:    sqlbuilder.PostgreSQL,
		MaxParams: 65535,
		Types: map[string]string{
			"int":    "INTEGER",
			"bigint": "BIGINT",
			"float":  "DOUBLE PRECISION",
			"text":   "TEXT",
		},
		Varchar:         "VARCHAR(%d)",
		AutoIncrementPK: "%s SERIAL PRIMARY KEY",
		DatabaseDSN:     DSN,
		ServerDSN:       ServerDSN,
		DatabaseExists:  "SELECT 1 FROM pg_database WHERE datname = $1",
		CreateDatabase:  "CREATE DATABASE %[1]s",
		DropDatabase:    "DROP DATABASE IF EXISTS %[1]s WITH (FORCE)",
		ListIndexes: `SELECT i.relname, a.attname,
       CASE WHEN ix.indisunique THEN 0 ELSE 1 END,
       CASE WHEN ix.indisprimary THEN 1 ELSE 0 END,
       CASE WHEN EXISTS (
         SELECT 1 FROM pg_constraint c
         WHERE c.conindid = ix.indexrelid AND c.conrelid = ix.indrelid
       ) THEN 1 ELSE 0 END
FROM pg_index ix
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
WHERE t.relname = $1 AND pg_table_is_visible(t.oid)
ORDER BY i.relname, array_position(ix.indkey::int2[], a.attnum)`,
		DropIndex: "DROP INDEX %[1]s",
	}
}

// DSN returns cfg.DSN or a postgres:// URL built from the discrete fields.
func DSN(cfg storage.Config) (string, error) {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN, nil
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + cfg.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String(), nil
}

// ServerDSN registers a pgx connection config pointing at the maintenance
// database and returns its database/sql name.
func ServerDSN(cfg storage.Config) (string, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return "", err
	}
	cc, err := pgx.ParseConfig(dsn)
	if err != nil {
		return "", fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cc.Database = maintenanceDB
	return stdlib.RegisterConnConfig(cc), nil
}
