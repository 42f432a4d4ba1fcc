package multitable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productload/internal/product"
	"productload/internal/schema"
	"productload/internal/storage"
	"productload/internal/storage/sqlite"
)

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func openRepo(t *testing.T) storage.Repository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	repo, err := sqlite.Open(context.Background(), storage.Config{DSN: dsn, Logger: nopLogger{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sp(s string) *string { return &s }

// genRecords builds n records cycling through a few brands/categories/colors.
func genRecords(n int) []product.Record {
	brands := []string{"Acme", "Globex", "Initech"}
	cats := []string{"Home", "Garden"}
	colors := []*string{sp("Red"), sp("Blue"), nil}
	out := make([]product.Record, n)
	for i := range out {
		out[i] = product.Record{
			Index:        int64(i + 1),
			Name:         sp(fmt.Sprintf("product %d", i+1)),
			Brand:        sp(brands[i%len(brands)]),
			Category:     sp(cats[i%len(cats)]),
			Color:        colors[i%len(colors)],
			Availability: sp("in_stock"),
			Price:        product.Ptr(float64(i) + 0.5),
			Stock:        product.Ptr(int64(i)),
		}
	}
	return out
}

func countRows(t *testing.T, repo storage.Repository, table string) int64 {
	t.Helper()
	res, err := repo.Query(context.Background(), "SELECT COUNT(*) FROM "+table, storage.QueryOptions{})
	require.NoError(t, err, "count %s", table)
	return res.Rows[0][0].(int64)
}

func createTables(t *testing.T, repo storage.Repository, v schema.Variant) {
	t.Helper()
	ts, err := schema.Tables(v)
	require.NoError(t, err)
	require.NoError(t, repo.CreateTables(context.Background(), ts))
}

func TestDistinctValues(t *testing.T) {
	recs := []product.Record{
		{Color: sp("Red")}, {Color: sp("blue")}, {Color: nil}, {Color: sp("Red")}, {Color: sp("Blue")},
	}
	assert.Equal(t, []string{"Blue", "Red", "blue"}, DistinctValues(recs, product.FieldColor))
	assert.Empty(t, DistinctValues(nil, product.FieldColor))
}

func TestDistinctValues_TrimsLikeLookupKeys(t *testing.T) {
	recs := []product.Record{{Brand: sp("Acme ")}, {Brand: sp("Acme")}}
	assert.Equal(t, []string{"Acme"}, DistinctValues(recs, product.FieldBrand))

	id, err := LookupMap{"Acme": 1}.Resolve("Acme ", true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
}

func TestLookupMapResolve(t *testing.T) {
	m := LookupMap{"Red": 2}

	id, err := m.Resolve("Red", true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)

	id, err = m.Resolve("", false)
	require.NoError(t, err, "null resolves without error")
	assert.Nil(t, id)

	_, err = m.Resolve("Green", true)
	require.Error(t, err)
}

func TestLoadNormalized_RedBlueRed(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	createTables(t, repo, schema.VariantNormalized)

	recs := []product.Record{
		{Index: 1, Color: sp("Red")},
		{Index: 2, Color: sp("Blue")},
		{Index: 3, Color: sp("Red")},
		{Index: 4, Color: nil},
	}
	e := &Engine{Repo: repo, Logger: nopLogger{}}
	sum, err := e.LoadNormalized(ctx, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rows(schema.ColorsTable))
	assert.Equal(t, 4, sum.Rows(schema.ProductsTable))
	assert.Zero(t, countRows(t, repo, schema.BrandsTable), "all brands null: empty lookup")

	res, err := repo.Query(ctx, `SELECT "index", color_id FROM products ORDER BY "index"`, storage.QueryOptions{})
	require.NoError(t, err)
	// Sorted insert order gives Blue=1, Red=2.
	want := []any{int64(2), int64(1), int64(2), nil}
	require.Len(t, res.Rows, len(want))
	for i, row := range res.Rows {
		assert.Equal(t, want[i], row[1], "row %d", i)
	}
}

func TestLoadNormalized_LookupCountsAndChunks(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	createTables(t, repo, schema.VariantNormalized)

	recs := genRecords(25)
	e := &Engine{Repo: repo, Logger: nopLogger{}, BatchSize: 10}
	sum, err := e.Load(ctx, schema.VariantNormalized, recs)
	require.NoError(t, err)

	for _, l := range schema.Lookups {
		want := int64(len(DistinctValues(recs, l.Field)))
		assert.Equal(t, want, countRows(t, repo, l.Table), l.Table)
	}
	for _, tc := range sum.Tables {
		if tc.Table == schema.ProductsTable {
			assert.Equal(t, 25, tc.Rows)
			assert.Equal(t, 3, tc.Chunks)
		}
	}
	assert.Equal(t, int64(25), countRows(t, repo, schema.ProductsTable))

	// Every non-null foreign key joins back to the original value.
	res, err := repo.Query(ctx, `SELECT p."index", b.name FROM products p JOIN brands b ON b.id = p.brand_id ORDER BY p."index"`, storage.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Rows, 25)
	for _, row := range res.Rows {
		idx := row[0].(int64)
		assert.Equal(t, *recs[idx-1].Brand, row[1], "product %d", idx)
	}
}

func TestLoadDenormalized(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	createTables(t, repo, schema.VariantDenormalized)

	e := &Engine{Repo: repo, Logger: nopLogger{}, BatchSize: 3}
	sum, err := e.Load(ctx, schema.VariantDenormalized, genRecords(7))
	require.NoError(t, err)
	require.Len(t, sum.Tables, 1)
	assert.Equal(t, 7, sum.Tables[0].Rows)
	assert.Equal(t, 3, sum.Tables[0].Chunks)

	res, err := repo.Query(ctx, `SELECT brand, color, price FROM test_table WHERE "index" = ?`, storage.QueryOptions{}, 3)
	require.NoError(t, err)
	assert.Equal(t, []any{"Initech", nil, 2.5}, res.Rows[0])
}

// fakeRepo records writes and fails the n-th write to failTable.
type fakeRepo struct {
	storage.Repository
	failTable string
	failOn    int

	calls   map[string]int
	batches map[string][][]any
	queries map[string]string
}

func newFakeRepo(failTable string, failOn int) *fakeRepo {
	return &fakeRepo{
		failTable: failTable,
		failOn:    failOn,
		calls:     map[string]int{},
		batches:   map[string][][]any{},
		queries:   map[string]string{},
	}
}

func (f *fakeRepo) write(table string, rows [][]any) (int64, error) {
	f.calls[table]++
	if table == f.failTable && f.calls[table] == f.failOn {
		return 0, errors.New("disk full")
	}
	f.batches[table] = append(f.batches[table], rows...)
	return int64(len(rows)), nil
}

func (f *fakeRepo) InsertRows(_ context.Context, table string, _ []string, rows [][]any) (int64, error) {
	return f.write(table, rows)
}

func (f *fakeRepo) InsertSQL(table string, columns []string) string {
	return "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (?)"
}

func (f *fakeRepo) ExecBatch(_ context.Context, query string, args [][]any) (int64, error) {
	table := strings.Fields(query)[2]
	f.queries[table] = query
	return f.write(table, args)
}

// SelectAllKeyValue assigns ids in insertion order.
func (f *fakeRepo) SelectAllKeyValue(_ context.Context, table, _, _ string) (map[string]int64, error) {
	out := map[string]int64{}
	for i, row := range f.batches[table] {
		out[row[0].(string)] = int64(i + 1)
	}
	return out, nil
}

type emptyLookupRepo struct{ *fakeRepo }

func (emptyLookupRepo) SelectAllKeyValue(context.Context, string, string, string) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func TestLoadNormalized_LookupsUseExecBatch(t *testing.T) {
	repo := newFakeRepo("", 0)
	e := &Engine{Repo: repo, Logger: nopLogger{}, BatchSize: 2}

	_, err := e.LoadNormalized(context.Background(), genRecords(6))
	require.NoError(t, err)

	assert.Equal(t, "INSERT INTO brands (name) VALUES (?)", repo.queries[schema.BrandsTable])
	assert.Equal(t, [][]any{{"Acme"}, {"Globex"}, {"Initech"}}, repo.batches[schema.BrandsTable])
	assert.Equal(t, 2, repo.calls[schema.BrandsTable], "3 values in chunks of 2")
	assert.Len(t, repo.batches[schema.ProductsTable], 6)
}

func TestLoadDenormalized_FailsFast(t *testing.T) {
	repo := newFakeRepo(schema.DenormalizedTable, 2)
	e := &Engine{Repo: repo, Logger: nopLogger{}, BatchSize: 2}

	_, err := e.LoadDenormalized(context.Background(), genRecords(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2/5")
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 2, repo.calls[schema.DenormalizedTable], "load stops after the failing chunk")
}

func TestLoadNormalized_LookupFailureStopsBeforeProducts(t *testing.T) {
	repo := newFakeRepo(schema.ColorsTable, 1)
	e := &Engine{Repo: repo, Logger: nopLogger{}}

	_, err := e.LoadNormalized(context.Background(), genRecords(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load colors")
	assert.Zero(t, repo.calls[schema.ProductsTable])
}

func TestLoadNormalized_MissingLookupIsError(t *testing.T) {
	repo := emptyLookupRepo{newFakeRepo("", 0)}
	e := &Engine{Repo: repo, Logger: nopLogger{}}

	_, err := e.LoadNormalized(context.Background(), genRecords(3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lookup brands")
}

func TestEngineLoad_RejectsUnknownVariant(t *testing.T) {
	e := &Engine{Repo: newFakeRepo("", 0)}
	_, err := e.Load(context.Background(), "star", nil)
	require.Error(t, err)

	_, err = (&Engine{}).Load(context.Background(), schema.VariantNormalized, nil)
	require.Error(t, err, "repo is required")
}
