package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"productload/internal/storage"
)

// Repo implements storage.Repository for any database/sql backend described
// by a Dialect.
type Repo struct {
	d      Dialect
	cfg    storage.Config
	logger storage.Logger

	mu     sync.RWMutex
	db     *sql.DB // configured database
	server *sql.DB // server without a database selected; nil if unsupported
}

// Open builds a Repo. Handles are opened lazily by database/sql, so Open
// succeeds even when the configured database does not exist yet.
func Open(ctx context.Context, d Dialect, cfg storage.Config) (*Repo, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := &Repo{d: d, cfg: cfg, logger: cfg.Logger}

	db, err := r.openDatabase()
	if err != nil {
		return nil, err
	}
	r.db = db

	if d.HasDatabases() {
		dsn, err := d.ServerDSN(cfg)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: server dsn: %w", d.Name, err)
		}
		srv, err := sql.Open(d.Driver, dsn)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: open server: %w", d.Name, err)
		}
		srv.SetMaxOpenConns(2)
		r.server = srv
	}
	return r, nil
}

func (r *Repo) openDatabase() (*sql.DB, error) {
	dsn, err := r.d.DatabaseDSN(r.cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: dsn: %w", r.d.Name, err)
	}
	db, err := sql.Open(r.d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", r.d.Name, err)
	}
	if r.d.MaxOpenConns > 0 {
		db.SetMaxOpenConns(r.d.MaxOpenConns)
	}
	return db, nil
}

func (r *Repo) handle() *sql.DB {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.db
}

func (r *Repo) logf(format string, v ...any) {
	if r.logger == nil {
		log.Printf(format, v...)
		return
	}
	r.logger.Printf(format, v...)
}

// Dialect returns the dialect this repo was opened with.
func (r *Repo) Dialect() Dialect { return r.d }

func (r *Repo) Kind() string { return r.d.Name }

func (r *Repo) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	if r.db != nil {
		errs = append(errs, r.db.Close())
		r.db = nil
	}
	if r.server != nil {
		errs = append(errs, r.server.Close())
		r.server = nil
	}
	return errors.Join(errs...)
}

func (r *Repo) Ping(ctx context.Context) error {
	db := r.server
	if db == nil {
		db = r.handle()
	}
	if db == nil {
		return fmt.Errorf("%s: repository is closed", r.d.Name)
	}
	return db.PingContext(ctx)
}

func (r *Repo) CreateDatabase(ctx context.Context) error {
	if !r.d.HasDatabases() {
		return nil
	}
	name := r.cfg.Database
	if name == "" {
		return fmt.Errorf("%s: no database configured", r.d.Name)
	}

	if r.d.DatabaseExists != "" {
		rows, err := r.server.QueryContext(ctx, r.d.DatabaseExists, name)
		if err != nil {
			return fmt.Errorf("%s: check database %s: %w", r.d.Name, name, err)
		}
		exists := rows.Next()
		err = errors.Join(rows.Err(), rows.Close())
		if err != nil {
			return fmt.Errorf("%s: check database %s: %w", r.d.Name, name, err)
		}
		if exists {
			return nil
		}
	}

	q := fmt.Sprintf(r.d.CreateDatabase, r.d.Quote(name), name)
	if _, err := r.server.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("%s: create database %s: %w", r.d.Name, name, err)
	}
	return nil
}

// DropDatabase drops the configured database. Pooled connections to it are
// closed first and the handle is reopened lazily afterwards.
func (r *Repo) DropDatabase(ctx context.Context) error {
	if !r.d.HasDatabases() {
		return nil
	}
	name := r.cfg.Database
	if name == "" {
		return fmt.Errorf("%s: no database configured", r.d.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		_ = r.db.Close()
	}
	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	r.db = db

	q := fmt.Sprintf(r.d.DropDatabase, r.d.Quote(name), name)
	if _, err := r.server.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("%s: drop database %s: %w", r.d.Name, name, err)
	}
	return nil
}

func (r *Repo) CreateTables(ctx context.Context, tables []storage.TableSpec) error {
	db := r.handle()
	for _, t := range tables {
		stmts, err := r.buildCreateSQL(t)
		if err != nil {
			return err
		}
		for _, s := range stmts {
			if _, err := db.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("create table %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

func (r *Repo) DropTables(ctx context.Context, tables []storage.TableSpec) error {
	db := r.handle()
	for i := len(tables) - 1; i >= 0; i-- {
		name := tables[i].Name
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+r.d.Quote(name)); err != nil {
			return fmt.Errorf("drop table %s: %w", name, err)
		}
	}
	return nil
}

func (r *Repo) Exec(ctx context.Context, query string, args ...any) (storage.Result, error) {
	res, err := r.handle().ExecContext(ctx, query, args...)
	if err != nil {
		return storage.Result{}, err
	}
	n, _ := res.RowsAffected()
	return storage.Result{RowsAffected: n}, nil
}

// Query runs query and materializes its rows. With opts.Profile the result
// carries elapsed time, the row count and, where the dialect supports it,
// session counters read on the same connection.
func (r *Repo) Query(ctx context.Context, query string, opts storage.QueryOptions, args ...any) (storage.Result, error) {
	conn, err := r.handle().Conn(ctx)
	if err != nil {
		return storage.Result{}, err
	}
	defer conn.Close()

	counters := opts.Profile && r.d.ProfileReset != "" && r.d.ProfileRead != ""
	if counters {
		if _, err := conn.ExecContext(ctx, r.d.ProfileReset); err != nil {
			return storage.Result{}, fmt.Errorf("profile reset: %w", err)
		}
	}

	start := time.Now()
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.Result{}, err
	}
	cols, data, total, err := scanAll(rows, opts.MaxRows)
	if err != nil {
		return storage.Result{}, err
	}
	elapsed := time.Since(start)

	res := storage.Result{Columns: cols, Rows: data}
	if !opts.Profile {
		return res, nil
	}

	res.Profile = &storage.Profile{Elapsed: elapsed, Rows: total}
	if counters {
		c, err := readCounters(ctx, conn, r.d.ProfileRead)
		if err != nil {
			return res, fmt.Errorf("profile read: %w", err)
		}
		res.Profile.Counters = c
	}
	return res, nil
}

// scanAll reads every row, keeping at most limit (<= 0 keeps all). []byte
// values are returned as strings.
func scanAll(rows *sql.Rows, limit int) ([]string, [][]any, int, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, 0, err
	}

	var out [][]any
	total := 0
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, 0, err
		}
		total++
		if limit > 0 && len(out) >= limit {
			continue
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out = append(out, vals)
	}
	return cols, out, total, rows.Err()
}

func readCounters(ctx context.Context, conn *sql.Conn, query string) (map[string]int64, error) {
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		out[name] = n
	}
	return out, rows.Err()
}

func (r *Repo) InsertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	params := make([]any, len(columns))
	for i, c := range columns {
		quoted[i] = r.d.Quote(c)
	}
	ib := r.d.Flavor.NewInsertBuilder()
	ib.InsertInto(r.d.Quote(table)).Cols(quoted...).Values(params...)
	q, _ := ib.Build()
	return q
}

func (r *Repo) ExecBatch(ctx context.Context, query string, args [][]any) (int64, error) {
	if len(args) == 0 {
		return 0, nil
	}

	tx, err := r.handle().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	var affected int64
	for i, a := range args {
		res, err := stmt.ExecContext(ctx, a...)
		if err != nil {
			return 0, fmt.Errorf("exec tuple %d: %w", i, err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return affected, nil
}

func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert %s: no columns", table)
	}

	stmts, err := r.buildInsertSQL(table, columns, rows)
	if err != nil {
		return 0, err
	}

	tx, err := r.handle().BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var affected int64
	for _, s := range stmts {
		res, err := tx.ExecContext(ctx, s.sql, s.args...)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		affected += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("insert %s: commit: %w", table, err)
	}
	return affected, nil
}

func (r *Repo) SelectAllKeyValue(ctx context.Context, table, keyColumn, valueColumn string) (map[string]int64, error) {
	sb := r.d.Flavor.NewSelectBuilder()
	sb.Select(r.d.Quote(keyColumn), r.d.Quote(valueColumn)).From(r.d.Quote(table))
	q, args := sb.Build()

	rows, err := r.handle().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int64{}
	for rows.Next() {
		var k any
		var id sql.NullInt64
		if err := rows.Scan(&k, &id); err != nil {
			return nil, err
		}
		if !id.Valid {
			return nil, fmt.Errorf("%s: %s.%s is NULL; primary key not auto-generated", r.d.Name, table, valueColumn)
		}
		out[storage.NormalizeKey(k)] = id.Int64
	}
	return out, rows.Err()
}

func (r *Repo) ListIndexes(ctx context.Context, table string) ([]storage.IndexInfo, error) {
	if r.d.ListIndexes == "" {
		return nil, fmt.Errorf("%s: index listing not supported", r.d.Name)
	}

	rows, err := r.handle().QueryContext(ctx, r.d.ListIndexes, table)
	if err != nil {
		return nil, fmt.Errorf("list indexes %s: %w", table, err)
	}
	defer rows.Close()

	var out []storage.IndexInfo
	pos := map[string]int{}
	for rows.Next() {
		var (
			name, col                    string
			nonUnique, primary, constrnt int64
		)
		if err := rows.Scan(&name, &col, &nonUnique, &primary, &constrnt); err != nil {
			return nil, err
		}
		i, ok := pos[name]
		if !ok {
			i = len(out)
			pos[name] = i
			out = append(out, storage.IndexInfo{
				Table:      table,
				Name:       name,
				Unique:     nonUnique == 0,
				Primary:    primary != 0,
				Constraint: constrnt != 0,
			})
		}
		out[i].Columns = append(out[i].Columns, col)
	}
	return out, rows.Err()
}

func (r *Repo) DropSecondaryIndexes(ctx context.Context, table string) (int, error) {
	idx, err := r.ListIndexes(ctx, table)
	if err != nil {
		return 0, err
	}

	db := r.handle()
	dropped := 0
	var errs []error
	for _, ix := range idx {
		if !ix.Secondary() {
			continue
		}
		q := fmt.Sprintf(r.d.DropIndex, r.d.Quote(ix.Name), r.d.Quote(table))
		if _, err := db.ExecContext(ctx, q); err != nil {
			r.logf("stage=drop_index table=%s index=%s err=%v", table, ix.Name, err)
			errs = append(errs, fmt.Errorf("drop index %s: %w", ix.Name, err))
			continue
		}
		r.logf("stage=drop_index table=%s index=%s ok", table, ix.Name)
		dropped++
	}
	return dropped, errors.Join(errs...)
}

type statement struct {
	sql  string
	args []any
}

// buildInsertSQL splits rows into multi-row INSERTs that stay within the
// dialect's bind-parameter limit.
func (r *Repo) buildInsertSQL(table string, columns []string, rows [][]any) ([]statement, error) {
	per := r.d.MaxParams / len(columns)
	if per < 1 {
		return nil, fmt.Errorf("insert %s: %d columns exceed %s parameter limit %d", table, len(columns), r.d.Name, r.d.MaxParams)
	}
	if r.d.MaxRowsPerInsert > 0 && per > r.d.MaxRowsPerInsert {
		per = r.d.MaxRowsPerInsert
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = r.d.Quote(c)
	}

	out := make([]statement, 0, (len(rows)+per-1)/per)
	for start := 0; start < len(rows); start += per {
		end := start + per
		if end > len(rows) {
			end = len(rows)
		}
		ib := r.d.Flavor.NewInsertBuilder()
		ib.InsertInto(r.d.Quote(table)).Cols(quoted...)
		for i, row := range rows[start:end] {
			if len(row) != len(columns) {
				return nil, fmt.Errorf("insert %s: row %d has %d values, want %d", table, start+i, len(row), len(columns))
			}
			ib.Values(row...)
		}
		q, args := ib.Build()
		out = append(out, statement{sql: q, args: args})
	}
	return out, nil
}

// buildCreateSQL returns CREATE TABLE followed by one CREATE INDEX per
// secondary index.
func (r *Repo) buildCreateSQL(t storage.TableSpec) ([]string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, fmt.Errorf("table name is empty")
	}
	q := r.d.Quote

	ctb := r.d.Flavor.NewCreateTableBuilder()
	ctb.CreateTable(q(t.Name))
	if r.d.Flavor != sqlbuilder.SQLServer {
		ctb.IfNotExists()
	}

	if t.PrimaryKey != nil {
		pk := t.PrimaryKey
		if strings.EqualFold(strings.TrimSpace(pk.Type), "serial") {
			ctb.Define(fmt.Sprintf(r.d.AutoIncrementPK, q(pk.Name)))
		} else {
			ctb.Define(q(pk.Name), r.d.ColumnType(pk.Type), "PRIMARY KEY")
		}
	}

	var fks []string
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Type) == "" {
			return nil, fmt.Errorf("%s: column name and type are required", t.Name)
		}
		def := []string{q(c.Name), r.d.ColumnType(c.Type)}
		if c.Nullable != nil && !*c.Nullable {
			def = append(def, "NOT NULL")
		}
		ctb.Define(def...)

		if c.References != "" {
			refTable, refCol, err := splitReference(c.References)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
			}
			fks = append(fks, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)", q(c.Name), q(refTable), q(refCol)))
		}
	}

	for _, con := range t.Constraints {
		if con.Kind != "unique" {
			return nil, fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		ctb.Define("UNIQUE", "("+r.quoteList(con.Columns)+")")
	}
	for _, fk := range fks {
		ctb.Define(fk)
	}

	stmts := []string{ctb.String()}
	for _, ix := range t.Indexes {
		if ix.Name == "" || len(ix.Columns) == 0 {
			return nil, fmt.Errorf("%s: index needs a name and columns", t.Name)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", q(ix.Name), q(t.Name), r.quoteList(ix.Columns)))
	}
	return stmts, nil
}

func (r *Repo) quoteList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = r.d.Quote(c)
	}
	return strings.Join(out, ", ")
}

// splitReference parses "table(column)".
func splitReference(ref string) (string, string, error) {
	ref = strings.TrimSpace(ref)
	open := strings.IndexByte(ref, '(')
	if open <= 0 || !strings.HasSuffix(ref, ")") {
		return "", "", fmt.Errorf("bad reference %q, want table(column)", ref)
	}
	return strings.TrimSpace(ref[:open]), strings.TrimSpace(ref[open+1 : len(ref)-1]), nil
}

var _ storage.Repository = (*Repo)(nil)
