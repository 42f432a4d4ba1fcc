package multitable

import (
	"context"
	"fmt"
	"time"

	"productload/internal/batch"
	"productload/internal/metrics"
	"productload/internal/product"
	"productload/internal/schema"
	"productload/internal/search"
	"productload/internal/storage"
)

// Source reads at most limit product records (limit <= 0 reads all).
type Source func(ctx context.Context, limit int) ([]product.Record, error)

// SearchIndex is the part of the search client the runner drives.
type SearchIndex interface {
	CreateIndex(ctx context.Context, index string, mapping, settings map[string]any) error
	BulkLoad(ctx context.Context, index string, docs []search.Document, batchSize int) (batch.Stats, error)
}

// Options tunes a Runner. Zero values fall back to package defaults.
type Options struct {
	RelationalBatchSize int
	SearchBatchSize     int

	Index     string
	Mapping   map[string]any
	Settings  map[string]any
	Documents search.DocumentBuilder
}

// Runner performs the destructive initialize-and-load operations.
// Repo is needed for InitDatabase and Search for InitIndex.
type Runner struct {
	Repo    storage.Repository
	Search  SearchIndex
	Source  Source
	Logger  Logger
	Options Options
}

func (r *Runner) logger() func(format string, v ...any) { return logfOf(r.Logger) }

// InitDatabase recreates the database and the tables of variant, then loads
// up to limit records. Re-running it from any state yields the same rows.
func (r *Runner) InitDatabase(ctx context.Context, v schema.Variant, limit int) (sum Summary, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep("init_database", start, err) }()

	if r.Repo == nil {
		return Summary{}, fmt.Errorf("init database: Repo is required")
	}
	if r.Source == nil {
		return Summary{}, fmt.Errorf("init database: Source is required")
	}
	tables, err := schema.Tables(v)
	if err != nil {
		return Summary{}, err
	}
	logf := r.logger()

	ddlStart := time.Now()
	if err = r.Repo.DropDatabase(ctx); err != nil {
		return Summary{}, err
	}
	if err = r.Repo.CreateDatabase(ctx); err != nil {
		return Summary{}, err
	}
	if err = r.Repo.DropTables(ctx, tables); err != nil {
		return Summary{}, err
	}
	if err = r.Repo.CreateTables(ctx, tables); err != nil {
		return Summary{}, err
	}
	logf("stage=ddl ok variant=%s tables=%d duration=%s", v, len(tables), durMS(ddlStart))

	recs, err := r.read(ctx, limit)
	if err != nil {
		return Summary{}, err
	}

	e := &Engine{Repo: r.Repo, Logger: r.Logger, BatchSize: r.Options.RelationalBatchSize}
	sum, err = e.Load(ctx, v, recs)
	if err != nil {
		return sum, err
	}
	sum.Target = r.Repo.Kind()
	sum.Elapsed = time.Since(start)
	logf("stage=init_database ok variant=%s rows=%d duration=%s", v, sum.Read, durMS(start))
	return sum, nil
}

// InitIndex recreates the search index and bulk-loads up to limit records.
func (r *Runner) InitIndex(ctx context.Context, limit int) (sum Summary, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep("init_index", start, err) }()

	if r.Search == nil {
		return Summary{}, fmt.Errorf("init index: Search is required")
	}
	if r.Source == nil {
		return Summary{}, fmt.Errorf("init index: Source is required")
	}
	index := r.Options.Index
	if index == "" {
		index = search.DefaultIndex
	}
	logf := r.logger()

	if err = r.Search.CreateIndex(ctx, index, r.Options.Mapping, r.Options.Settings); err != nil {
		return Summary{}, err
	}

	recs, err := r.read(ctx, limit)
	if err != nil {
		return Summary{}, err
	}

	docs := r.Options.Documents.Build(recs)
	size := r.Options.SearchBatchSize
	if size <= 0 {
		size = batch.DefaultSearchSize
	}
	st, err := r.Search.BulkLoad(ctx, index, docs, size)
	if err != nil {
		return Summary{Target: index, Read: len(recs)}, err
	}

	sum = Summary{
		Target:  index,
		Read:    len(recs),
		Tables:  []TableCount{{Table: index, Rows: st.Rows, Chunks: st.Chunks, Elapsed: st.Elapsed}},
		Elapsed: time.Since(start),
	}
	logf("stage=init_index ok index=%s docs=%d duration=%s", index, st.Rows, durMS(start))
	return sum, nil
}

func (r *Runner) read(ctx context.Context, limit int) ([]product.Record, error) {
	start := time.Now()
	recs, err := r.Source(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	metrics.RecordRecords("read", len(recs))
	r.logger()("stage=read ok rows=%d duration=%s", len(recs), durMS(start))
	return recs, nil
}
