package multitable

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productload/internal/batch"
	"productload/internal/product"
	"productload/internal/schema"
	"productload/internal/search"
)

func staticSource(recs []product.Record) Source {
	return func(ctx context.Context, limit int) ([]product.Record, error) {
		return recs, nil
	}
}

type fakeIndex struct {
	created   string
	mapping   map[string]any
	docs      []search.Document
	batchSize int
	createErr error
}

func (f *fakeIndex) CreateIndex(ctx context.Context, index string, mapping, settings map[string]any) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created, f.mapping = index, mapping
	return nil
}

func (f *fakeIndex) BulkLoad(ctx context.Context, index string, docs []search.Document, batchSize int) (batch.Stats, error) {
	f.docs, f.batchSize = docs, batchSize
	n := len(docs)
	return batch.Stats{Rows: n, Chunks: batch.Chunks(n, batchSize)}, nil
}

func TestInitDatabase_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	r := &Runner{
		Repo:    repo,
		Source:  staticSource(genRecords(12)),
		Logger:  nopLogger{},
		Options: Options{RelationalBatchSize: 5},
	}

	first, err := r.InitDatabase(ctx, schema.VariantNormalized, 0)
	require.NoError(t, err)
	second, err := r.InitDatabase(ctx, schema.VariantNormalized, 0)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", second.Target)
	assert.Equal(t, 12, second.Rows(schema.ProductsTable))
	for _, l := range schema.Lookups {
		assert.Equal(t, first.Rows(l.Table), second.Rows(l.Table), l.Table)
		assert.Equal(t, int64(second.Rows(l.Table)), countRows(t, repo, l.Table), l.Table)
	}
	assert.Equal(t, int64(12), countRows(t, repo, schema.ProductsTable))
}

func TestInitDatabase_DenormalizedWithLimit(t *testing.T) {
	repo := openRepo(t)
	r := &Runner{Repo: repo, Source: staticSource(genRecords(10)), Logger: nopLogger{}}

	sum, err := r.InitDatabase(context.Background(), schema.VariantDenormalized, 4)
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Read)
	assert.Equal(t, 4, sum.Rows(schema.DenormalizedTable))
	assert.Equal(t, int64(4), countRows(t, repo, schema.DenormalizedTable))
}

func TestInitDatabase_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := (&Runner{Source: staticSource(nil)}).InitDatabase(ctx, schema.VariantNormalized, 0)
	require.Error(t, err)

	_, err = (&Runner{Repo: openRepo(t), Source: staticSource(nil)}).InitDatabase(ctx, "flat", 0)
	require.Error(t, err)

	boom := errors.New("file not found")
	r := &Runner{
		Repo:   openRepo(t),
		Logger: nopLogger{},
		Source: func(context.Context, int) ([]product.Record, error) { return nil, boom },
	}
	_, err = r.InitDatabase(ctx, schema.VariantDenormalized, 0)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "read source")
}

func TestInitIndex_Defaults(t *testing.T) {
	idx := &fakeIndex{}
	recs := genRecords(3)
	recs[0].EAN = sp("5901234123457")
	r := &Runner{Search: idx, Source: staticSource(recs), Logger: nopLogger{}}

	sum, err := r.InitIndex(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, search.DefaultIndex, idx.created)
	assert.Nil(t, idx.mapping)
	assert.Equal(t, batch.DefaultSearchSize, idx.batchSize)
	require.Len(t, idx.docs, 3)
	assert.NotContains(t, idx.docs[0].Source, product.FieldEAN)
	assert.Equal(t, search.DefaultIndex, sum.Target)
	assert.Equal(t, 3, sum.Rows(search.DefaultIndex))
}

func TestInitIndex_OptionsAndLimit(t *testing.T) {
	idx := &fakeIndex{}
	r := &Runner{
		Search: idx,
		Source: staticSource(genRecords(10)),
		Logger: nopLogger{},
		Options: Options{
			Index:           "products_v2",
			SearchBatchSize: 4,
			Mapping:         map[string]any{"properties": map[string]any{}},
			Documents:       search.DocumentBuilder{Exclude: []string{}},
		},
	}

	sum, err := r.InitIndex(context.Background(), 6)
	require.NoError(t, err)

	assert.Equal(t, "products_v2", idx.created)
	assert.NotNil(t, idx.mapping)
	assert.Len(t, idx.docs, 6)
	assert.Equal(t, 2, sum.Tables[0].Chunks)
}

func TestInitIndex_CreateFailureStopsBeforeRead(t *testing.T) {
	read := false
	r := &Runner{
		Search: &fakeIndex{createErr: errors.New("cluster red")},
		Source: func(context.Context, int) ([]product.Record, error) { read = true; return nil, nil },
		Logger: nopLogger{},
	}
	_, err := r.InitIndex(context.Background(), 0)
	require.Error(t, err)
	assert.False(t, read)

	_, err = (&Runner{Source: staticSource(nil)}).InitIndex(context.Background(), 0)
	require.Error(t, err)
}
