package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger is the minimal logging interface used by storage backends.
// *log.Logger and *logrus.Logger satisfy it.
type Logger interface {
	Printf(format string, v ...any)
}

// Config is what a backend factory needs to open a repository.
//
// DSN, when set, overrides the discrete connection fields. Database names the
// schema the repository creates, drops and loads into.
type Config struct {
	Kind     string `json:"kind"`
	DSN      string `json:"dsn,omitempty"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	Database string `json:"database,omitempty"`

	Logger Logger `json:"-"`
}

// Result is the outcome of Exec or Query.
type Result struct {
	RowsAffected int64
	Columns      []string
	Rows         [][]any
	Profile      *Profile
}

// Profile summarizes one profiled query.
type Profile struct {
	Elapsed time.Duration
	Rows    int
	// Counters holds backend session counters where the backend exposes them
	// (MySQL Handler_read*). Nil otherwise.
	Counters map[string]int64
}

// QueryOptions tunes Query.
type QueryOptions struct {
	Profile bool
	// MaxRows caps the rows materialized into Result.Rows; <= 0 keeps all.
	// Profile.Rows still counts every row.
	MaxRows int
}

// IndexInfo describes one index on a table.
type IndexInfo struct {
	Table   string   `json:"table"`
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
	Primary bool     `json:"primary"`
	// Constraint marks indexes owned by a constraint (unique/primary key)
	// that cannot be removed with DROP INDEX.
	Constraint bool `json:"constraint"`
}

// Secondary reports whether the index is a droppable, non-primary index.
func (i IndexInfo) Secondary() bool { return !i.Primary && !i.Constraint }

// Repository is the relational store used by the loaders.
//
// Every method acquires its own connection or transaction and releases it
// before returning.
type Repository interface {
	Kind() string
	Close() error

	// Ping checks that the server is reachable. It does not require the
	// configured database to exist.
	Ping(ctx context.Context) error

	// CreateDatabase and DropDatabase use IF [NOT] EXISTS semantics. Backends
	// without a database namespace treat both as no-ops.
	CreateDatabase(ctx context.Context) error
	DropDatabase(ctx context.Context) error

	// CreateTables creates tables in order with their secondary indexes.
	// DropTables drops them in reverse order.
	CreateTables(ctx context.Context, tables []TableSpec) error
	DropTables(ctx context.Context, tables []TableSpec) error

	Exec(ctx context.Context, query string, args ...any) (Result, error)
	Query(ctx context.Context, query string, opts QueryOptions, args ...any) (Result, error)

	// InsertSQL returns a single-row INSERT for columns of table, quoted and
	// with placeholders in the backend's syntax. It is meant for ExecBatch.
	InsertSQL(table string, columns []string) string

	// ExecBatch executes query once per argument tuple with one prepared
	// statement inside one transaction.
	ExecBatch(ctx context.Context, query string, args [][]any) (int64, error)

	// InsertRows inserts rows with multi-row INSERTs sized to the backend's
	// parameter limit, inside one transaction.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	SelectAllKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error)

	ListIndexes(ctx context.Context, table string) ([]IndexInfo, error)
	// DropSecondaryIndexes drops every secondary index on table. Failures are
	// logged and skipped; the returned error joins them.
	DropSecondaryIndexes(ctx context.Context, table string) (int, error)
}

// TestConnection pings repo and reports the outcome as text.
func TestConnection(ctx context.Context, repo Repository) (bool, string) {
	if repo == nil {
		return false, "connection failed: no repository"
	}
	if err := repo.Ping(ctx); err != nil {
		return false, fmt.Sprintf("connection failed: %v", err)
	}
	return true, fmt.Sprintf("connection to %s successful", repo.Kind())
}

// Factory opens a repository for a registered kind.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under kind. Call it from an init function in
// the backend package.
//
// Panics if kind is empty, f is nil or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a repository using the factory registered for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
