// Package mysql registers the "mysql" storage backend (go-sql-driver/mysql).
package mysql

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/huandu/go-sqlbuilder"

	"productload/internal/storage"
	"productload/internal/storage/sqlstore"
)

// DefaultPort is the port of the benchmark MySQL container.
const DefaultPort = 3307

func init() {
	storage.Register("mysql", Open)
}

// Open opens a MySQL repository.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	return sqlstore.Open(ctx, Dialect(), cfg)
}

// Dialect describes MySQL. Profiled queries report the session's
// Handler_read* counters.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:      "mysql",
		Driver:    "mysql",
		Flavor:    sqlbuilder.MySQL,
		MaxParams: 65535,
		Types: map[string]string{
			"int":    "INT",
			"bigint": "BIGINT",
			"float":  "FLOAT",
			"text":   "TEXT",
		},
		// Binary collation keeps lookup names distinct by bytes ("Red" != "red").
		Varchar:         "VARCHAR(%d) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin",
		AutoIncrementPK: "%s INT AUTO_INCREMENT PRIMARY KEY",
		DatabaseDSN:     DSN,
		ServerDSN:       ServerDSN,
		CreateDatabase:  "CREATE DATABASE IF NOT EXISTS %[1]s",
		DropDatabase:    "DROP DATABASE IF EXISTS %[1]s",
		ListIndexes: `SELECT INDEX_NAME, COLUMN_NAME, NON_UNIQUE,
       CASE WHEN INDEX_NAME = 'PRIMARY' THEN 1 ELSE 0 END, 0
FROM information_schema.STATISTICS
WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
ORDER BY INDEX_NAME, SEQ_IN_INDEX`,
		DropIndex:    "DROP INDEX %[1]s ON %[2]s",
		ProfileReset: "FLUSH STATUS",
		ProfileRead:  "SHOW SESSION STATUS LIKE 'Handler_read%'",
	}
}

// DSN returns the connection string for the configured database.
func DSN(cfg storage.Config) (string, error) {
	c, err := config(cfg)
	if err != nil {
		return "", err
	}
	return c.FormatDSN(), nil
}

// ServerDSN returns the connection string with no database selected.
func ServerDSN(cfg storage.Config) (string, error) {
	c, err := config(cfg)
	if err != nil {
		return "", err
	}
	c.DBName = ""
	return c.FormatDSN(), nil
}

func config(cfg storage.Config) (*mysql.Config, error) {
	if strings.TrimSpace(cfg.DSN) != "" {
		c, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("mysql: parse dsn: %w", err)
		}
		return c, nil
	}

	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	c.DBName = cfg.Database
	c.MultiStatements = false
	return c, nil
}
