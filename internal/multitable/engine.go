package multitable

import (
	"context"
	"fmt"
	"log"
	"time"

	"productload/internal/batch"
	"productload/internal/metrics"
	"productload/internal/product"
	"productload/internal/schema"
	"productload/internal/storage"
)

// Logger is the minimal logging interface used by the loaders.
// *log.Logger and *logrus.Logger satisfy it.
type Logger interface {
	Printf(format string, v ...any)
}

// TableCount reports what was written to one table or index.
type TableCount struct {
	Table   string
	Rows    int
	Chunks  int
	Elapsed time.Duration
}

// Summary reports one initialization run.
type Summary struct {
	Target  string
	Variant schema.Variant
	Read    int
	Tables  []TableCount
	Elapsed time.Duration
}

// Rows returns the rows written to table, or 0.
func (s Summary) Rows(table string) int {
	for _, t := range s.Tables {
		if t.Table == table {
			return t.Rows
		}
	}
	return 0
}

// Engine loads product records into the tables of a schema variant.
//
// The normalized load runs in two passes: lookups first (distinct values,
// then read back name -> id), products second with categorical values
// rewritten to foreign keys.
type Engine struct {
	Repo      storage.Repository
	Logger    Logger
	BatchSize int
}

func (e *Engine) batchSize() int {
	if e.BatchSize <= 0 {
		return batch.DefaultRelationalSize
	}
	return e.BatchSize
}

func (e *Engine) logger() func(format string, v ...any) { return logfOf(e.Logger) }

func logfOf(l Logger) func(format string, v ...any) {
	if l == nil {
		return log.Printf
	}
	return l.Printf
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// Load dispatches on the schema variant.
func (e *Engine) Load(ctx context.Context, v schema.Variant, recs []product.Record) (Summary, error) {
	if e.Repo == nil {
		return Summary{}, fmt.Errorf("engine: Repo is required")
	}
	switch v {
	case schema.VariantDenormalized:
		return e.LoadDenormalized(ctx, recs)
	case schema.VariantNormalized:
		return e.LoadNormalized(ctx, recs)
	}
	return Summary{}, fmt.Errorf("engine: unknown schema variant %q", v)
}

// LoadDenormalized copies every record field into the single wide table.
func (e *Engine) LoadDenormalized(ctx context.Context, recs []product.Record) (Summary, error) {
	start := time.Now()
	sum := Summary{Variant: schema.VariantDenormalized, Read: len(recs)}

	st, err := batch.Load(ctx, schema.DenormalizedTable, recs, e.batchSize(), func(ctx context.Context, chunk []product.Record) error {
		rows := make([][]any, len(chunk))
		for i := range chunk {
			rows[i] = chunk[i].Values(product.Fields)
		}
		_, err := e.Repo.InsertRows(ctx, schema.DenormalizedTable, product.Fields, rows)
		return err
	}, e.Logger)
	if err != nil {
		return sum, err
	}

	sum.Tables = append(sum.Tables, TableCount{Table: schema.DenormalizedTable, Rows: st.Rows, Chunks: st.Chunks, Elapsed: st.Elapsed})
	sum.Elapsed = time.Since(start)
	return sum, nil
}

// LoadNormalized builds the lookup tables, then inserts products with
// foreign keys resolved against them.
func (e *Engine) LoadNormalized(ctx context.Context, recs []product.Record) (Summary, error) {
	logf := e.logger()
	start := time.Now()
	sum := Summary{Variant: schema.VariantNormalized, Read: len(recs)}

	pass1Start := time.Now()
	maps := make(map[string]LookupMap, len(schema.Lookups))
	for _, l := range schema.Lookups {
		m, tc, err := e.buildLookup(ctx, l, recs)
		if err != nil {
			return sum, err
		}
		maps[l.FKColumn] = m
		sum.Tables = append(sum.Tables, tc)
	}
	logf("stage=pass1_lookups ok tables=%d duration=%s", len(schema.Lookups), durMS(pass1Start))

	pass2Start := time.Now()
	cols, fields, lookups := schema.ProductColumns()

	st, err := batch.Load(ctx, schema.ProductsTable, recs, e.batchSize(), func(ctx context.Context, chunk []product.Record) error {
		rows := make([][]any, len(chunk))
		for i := range chunk {
			row, err := productRow(&chunk[i], cols, fields, lookups, maps)
			if err != nil {
				return err
			}
			rows[i] = row
		}
		_, err := e.Repo.InsertRows(ctx, schema.ProductsTable, cols, rows)
		return err
	}, e.Logger)
	if err != nil {
		return sum, err
	}
	logf("stage=pass2_products ok duration=%s", durMS(pass2Start))

	sum.Tables = append(sum.Tables, TableCount{Table: schema.ProductsTable, Rows: st.Rows, Chunks: st.Chunks, Elapsed: st.Elapsed})
	sum.Elapsed = time.Since(start)
	return sum, nil
}

// productRow lays out one products row: plain fields are copied and
// categorical fields are replaced by their lookup id (nil for null).
func productRow(r *product.Record, cols, fields []string, lookups map[string]schema.Lookup, maps map[string]LookupMap) ([]any, error) {
	row := make([]any, len(cols))
	for i, c := range cols {
		if fields[i] != "" {
			row[i] = r.Field(fields[i])
			continue
		}
		l := lookups[c]
		v, ok := r.StringField(l.Field)
		id, err := maps[c].Resolve(v, ok)
		if err != nil {
			metrics.RecordRecords("unresolved", 1)
			return nil, fmt.Errorf("product %d: %s: %w", r.Index, l.Field, err)
		}
		row[i] = id
	}
	return row, nil
}
