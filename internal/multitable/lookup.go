package multitable

import (
	"context"
	"fmt"
	"sort"

	"productload/internal/batch"
	"productload/internal/product"
	"productload/internal/schema"
	"productload/internal/storage"
)

// LookupMap maps a categorical value to its lookup row id.
type LookupMap map[string]int64

// Resolve returns the id bound for v, or nil when the value is null. A
// non-null value without an id is an error: every product foreign key must
// point at a lookup row loaded earlier.
func (m LookupMap) Resolve(v string, ok bool) (any, error) {
	if !ok {
		return nil, nil
	}
	id, found := m[storage.NormalizeKey(v)]
	if !found {
		return nil, fmt.Errorf("no lookup id for %q", v)
	}
	return id, nil
}

// DistinctValues returns the distinct non-null values of field in recs,
// keyed by storage.NormalizeKey and sorted byte-wise ascending.
func DistinctValues(recs []product.Record, field string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 64)
	for i := range recs {
		raw, ok := recs[i].StringField(field)
		if !ok {
			continue
		}
		v := storage.NormalizeKey(raw)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// buildLookup inserts the distinct values of l.Field into l.Table with
// ExecBatch and reads back the name -> id mapping.
func (e *Engine) buildLookup(ctx context.Context, l schema.Lookup, recs []product.Record) (LookupMap, TableCount, error) {
	values := DistinctValues(recs, l.Field)
	insert := e.Repo.InsertSQL(l.Table, []string{schema.LookupKeyColumn})

	// Lookup chunks are small; one prepared statement per chunk.
	st, err := batch.Load(ctx, l.Table, values, e.batchSize(), func(ctx context.Context, chunk []string) error {
		rows := make([][]any, len(chunk))
		for i, v := range chunk {
			rows[i] = []any{v}
		}
		_, err := e.Repo.ExecBatch(ctx, insert, rows)
		return err
	}, e.Logger)
	if err != nil {
		return nil, TableCount{}, err
	}

	ids, err := e.Repo.SelectAllKeyValue(ctx, l.Table, schema.LookupKeyColumn, schema.LookupIDColumn)
	if err != nil {
		return nil, TableCount{}, fmt.Errorf("read lookup %s: %w", l.Table, err)
	}
	if len(ids) != len(values) {
		return nil, TableCount{}, fmt.Errorf("lookup %s: %d ids for %d distinct values", l.Table, len(ids), len(values))
	}

	return LookupMap(ids), TableCount{Table: l.Table, Rows: st.Rows, Chunks: st.Chunks, Elapsed: st.Elapsed}, nil
}
