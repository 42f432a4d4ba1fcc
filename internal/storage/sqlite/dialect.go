// Package sqlite registers the "sqlite" storage backend (modernc.org/sqlite,
// no cgo). It has no database namespace: the DSN names the file.
package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
	_ "modernc.org/sqlite"

	"productload/internal/storage"
	"productload/internal/storage/sqlstore"
)

func init() {
	storage.Register("sqlite", Open)
}

// Open opens a SQLite repository.
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	return sqlstore.Open(ctx, Dialect(), cfg)
}

// Dialect describes SQLite.
//
// "INTEGER PRIMARY KEY" becomes the rowid and auto-generates values, so serial
// keys map onto it. Indexes backing UNIQUE constraints (origin "u") and
// primary keys (origin "pk") are reported as constraint indexes.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:         "sqlite",
		Driver:       "sqlite",
		Flavor:       sqlbuilder.SQLite,
		MaxParams:    32766,
		MaxOpenConns: 1,
		Types: map[string]string{
			"int":    "INTEGER",
			"bigint": "INTEGER",
			"float":  "REAL",
			"text":   "TEXT",
		},
		Varchar:         "VARCHAR(%d)",
		AutoIncrementPK: "%s INTEGER PRIMARY KEY AUTOINCREMENT",
		DatabaseDSN:     DSN,
		ListIndexes: `SELECT il.name, ii.name,
       CASE WHEN il."unique" THEN 0 ELSE 1 END,
       CASE WHEN il.origin = 'pk' THEN 1 ELSE 0 END,
       CASE WHEN il.origin = 'c' THEN 0 ELSE 1 END
FROM pragma_index_list(?) AS il
JOIN pragma_index_info(il.name) AS ii
ORDER BY il.name, ii.seqno`,
		DropIndex: "DROP INDEX %[1]s",
	}
}

// DSN returns cfg.DSN, or "<database>.db" with foreign keys enabled.
func DSN(cfg storage.Config) (string, error) {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN, nil
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return "", fmt.Errorf("sqlite: dsn or database is required")
	}
	return "file:" + cfg.Database + ".db?_pragma=foreign_keys(1)", nil
}
