package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productload/internal/batch"
	"productload/internal/config"
	"productload/internal/search"
	"productload/internal/storage"
)

const productsCSV = `Index,Name,Description,Brand,Category,Price,Currency,Stock,EAN,Color,Size,Availability,Internal ID
1,Desk Lamp,<p>Warm <b>light</b></p>,Acme,Home,19.99,USD,5,5901234123457,Red,M,in_stock,A-1
2,Garden Hose,Long hose,Globex,Garden,34.5,USD,0,5901234123458,Blue,L,out_of_stock,A-2
3,Table Lamp,Desk light,Acme,Home,24,USD,2,5901234123459,Red,NaN,in_stock,A-3
`

// fakeSearch records what the commands send to the search cluster.
type fakeSearch struct {
	pingOK   bool
	created  string
	docs     []search.Document
	analyzed map[string]any
}

func (f *fakeSearch) TestConnection(context.Context) (bool, string) {
	if f.pingOK {
		return true, "connected to Elasticsearch 8.17.0"
	}
	return false, "dial tcp: connection refused"
}

func (f *fakeSearch) CreateIndex(_ context.Context, index string, _, _ map[string]any) error {
	f.created = index
	return nil
}

func (f *fakeSearch) BulkLoad(_ context.Context, _ string, docs []search.Document, size int) (batch.Stats, error) {
	f.docs = docs
	return batch.Stats{Rows: len(docs), Chunks: batch.Chunks(len(docs), size)}, nil
}

func (f *fakeSearch) Analyze(_ context.Context, _ string, body map[string]any) ([]string, error) {
	f.analyzed = body
	return []string{"lam", "lamp", "amp"}, nil
}

func (f *fakeSearch) Search(context.Context, string, map[string]any) (map[string]any, error) {
	return map[string]any{"hits": map[string]any{"total": map[string]any{"value": 1}}}, nil
}

func (f *fakeSearch) Mapping(context.Context, string) (map[string]any, error) {
	return nil, &search.ResponseError{Op: "mapping", Status: 404, Body: "index_not_found_exception"}
}

func (f *fakeSearch) Document(_ context.Context, _, id string) (map[string]any, error) {
	return map[string]any{"_id": id, "found": true}, nil
}

type harness struct {
	cfg         config.Config
	search      *fakeSearch
	loads       atomic.Int64
	metricsInit atomic.Int64
	metricsDone atomic.Int64
}

// newHarness writes the sample CSV and points a SQLite file database at
// the test's temp dir.
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "products.csv")
	require.NoError(t, os.WriteFile(src, []byte(productsCSV), 0o600))

	cfg := config.Default()
	cfg.Source.Path = src
	cfg.Database.Kind = "sqlite"
	cfg.Database.DSN = "file:" + filepath.Join(dir, "bench.db") + "?_pragma=foreign_keys(1)"
	return &harness{cfg: cfg, search: &fakeSearch{pingOK: true}}
}

func (h *harness) deps() appDeps {
	return appDeps{
		loadConfig: func(string) (config.Config, error) {
			h.loads.Add(1)
			return h.cfg, nil
		},
		openRepo: storage.New,
		openSearch: func(search.Config) (searchClient, error) {
			return h.search, nil
		},
		initMetrics: func(context.Context, config.Config, *logrus.Logger) (func(), error) {
			h.metricsInit.Add(1)
			return func() { h.metricsDone.Add(1) }, nil
		},
	}
}

func (h *harness) run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), args, &stdout, &stderr, h.deps())
	return code, stdout.String(), stderr.String()
}

func TestRunMain_UsageErrors(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantInErr string
	}{
		{"unknown_flag", []string{"db", "ping", "--nope"}, "unknown flag"},
		{"unknown_command", []string{"reindex"}, "unknown command"},
		{"missing_sql", []string{"db", "query"}, "accepts 1 arg"},
		{"extra_args", []string{"index", "mapping", "x"}, "accepts 0 arg"},
		{"search_without_text", []string{"index", "search"}, "needs TEXT"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			code, stdout, stderr := h.run(tc.args...)

			assert.Equal(t, 2, code, "stderr=%q", stderr)
			assert.Contains(t, stderr, tc.wantInErr)
			assert.Empty(t, stdout)
			assert.Zero(t, h.loads.Load(), "config must not load on usage errors")
		})
	}
}

func TestValidate(t *testing.T) {
	h := newHarness(t)
	code, stdout, _ := h.run("validate")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "configuration is valid")

	h.cfg.Database.Kind = "oracle"
	code, _, stderr := h.run("validate")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "error: database.kind")
}

func TestInvalidConfigStopsCommands(t *testing.T) {
	h := newHarness(t)
	h.cfg.Search.BatchSize = 0

	code, _, stderr := h.run("index", "init")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "search.batch_size")
	assert.Zero(t, h.metricsInit.Load())
}

func TestMetricsBackendFlagOverridesConfig(t *testing.T) {
	h := newHarness(t)
	code, _, stderr := h.run("--metrics-backend", "statsd", "db", "ping")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "metrics.backend")
}

func TestDBInitThenQuery(t *testing.T) {
	h := newHarness(t)

	code, stdout, stderr := h.run("db", "init", "--schema", "normalized")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "target=sqlite variant=normalized read=3")
	assert.Regexp(t, `colors\s+rows=2 `, stdout)
	assert.Regexp(t, `products\s+rows=3 `, stdout)
	assert.Equal(t, int64(1), h.metricsInit.Load())
	assert.Equal(t, int64(1), h.metricsDone.Load())

	code, stdout, stderr = h.run("db", "query", "SELECT p.name, c.name FROM products p JOIN colors c ON c.id = p.color_id WHERE c.name = 'Red' ORDER BY p.\"index\"")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Desk Lamp")
	assert.Contains(t, stdout, "Table Lamp")
	assert.NotContains(t, stdout, "Garden Hose")
	assert.Equal(t, int64(1), h.metricsInit.Load(), "query does not start metrics")
}

func TestDBInitLimitAndProfile(t *testing.T) {
	h := newHarness(t)

	code, stdout, stderr := h.run("db", "init", "--limit", "2")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "variant=denormalized read=2")

	code, stdout, stderr = h.run("db", "query", "--profile", "SELECT COUNT(*) AS n FROM test_table")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "n")
	assert.Contains(t, stdout, "2")
	assert.Contains(t, stdout, "profile: rows=1")
}

func TestDBExecReportsRowsAffected(t *testing.T) {
	h := newHarness(t)

	code, _, stderr := h.run("db", "init", "--schema", "denormalized")
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr := h.run("db", "exec", "DELETE FROM test_table WHERE brand = 'Acme'")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "rows affected: 2")

	code, stdout, stderr = h.run("db", "query", "SELECT COUNT(*) AS remaining FROM test_table")
	require.Equal(t, 0, code, stderr)
	assert.Regexp(t, `remaining\s+1\s*$`, stdout)

	code, _, _ = h.run("db", "exec")
	assert.Equal(t, 2, code, "exec needs one statement")
}

func TestDBIndexesAndDrop(t *testing.T) {
	h := newHarness(t)
	h.cfg.Database.Schema = "normalized"

	code, _, stderr := h.run("db", "init")
	require.Equal(t, 0, code, stderr)

	code, stdout, _ := h.run("db", "indexes", "products")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "idx_products_brand_id")
	assert.Contains(t, stdout, "secondary")

	code, stdout, stderr = h.run("db", "drop-indexes")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "products: dropped 2")
	assert.Contains(t, stdout, "brands: dropped 0")

	code, stdout, _ = h.run("db", "indexes", "products")
	require.Equal(t, 0, code)
	assert.NotContains(t, stdout, "idx_products_brand_id")
}

func TestDBPing(t *testing.T) {
	h := newHarness(t)
	code, stdout, _ := h.run("db", "ping")
	assert.Equal(t, 0, code)
	assert.NotEmpty(t, stdout)
}

func TestIndexInit(t *testing.T) {
	h := newHarness(t)
	h.cfg.Search.StripHTML = true

	code, stdout, stderr := h.run("index", "init", "--index", "products_test")
	require.Equal(t, 0, code, stderr)

	assert.Equal(t, "products_test", h.search.created)
	require.Len(t, h.search.docs, 3)
	assert.Equal(t, "Warm light", h.search.docs[0].Source["description"])
	assert.NotContains(t, h.search.docs[0].Source, "ean")
	assert.Contains(t, stdout, "target=products_test")
	assert.Equal(t, int64(1), h.metricsDone.Load())
}

func TestIndexReadCommands(t *testing.T) {
	h := newHarness(t)

	code, stdout, _ := h.run("index", "analyze", "lamp")
	require.Equal(t, 0, code)
	assert.Equal(t, "lam lamp amp\n", stdout)
	assert.Equal(t, search.NgramAnalyzer, h.search.analyzed["analyzer"])

	code, stdout, _ = h.run("index", "search", "lamp")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, `"total"`)

	code, _, stderr := h.run("index", "search", "--body", "{not json")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "--body")

	code, stdout, _ = h.run("index", "doc", "7")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, `"_id": "7"`)

	code, _, stderr = h.run("index", "mapping")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "404")
}

func TestIndexPingFailure(t *testing.T) {
	h := newHarness(t)
	h.search.pingOK = false

	code, stdout, stderr := h.run("index", "ping")
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout, "connection refused")
	assert.Contains(t, stderr, "unreachable")
}

func TestLoadConfigErrorIsReported(t *testing.T) {
	h := newHarness(t)
	deps := h.deps()
	deps.loadConfig = func(string) (config.Config, error) { return config.Config{}, errors.New("open config: no such file") }

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"db", "ping"}, &stdout, &stderr, deps)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "no such file")
}

func TestInitMetrics(t *testing.T) {
	log := logrus.New()
	log.SetOutput(&bytes.Buffer{})

	cfg := config.Default()
	cleanup, err := initMetrics(context.Background(), cfg, log)
	require.NoError(t, err)
	cleanup()

	cfg.Metrics.Backend = "pushgateway"
	cfg.Metrics.PushgatewayURL = " "
	cleanup, err = initMetrics(context.Background(), cfg, log)
	require.NoError(t, err, "a backend that cannot start falls back to nop")
	cleanup()

	cfg.Metrics.Backend = "datadog"
	cfg.Metrics.Tags = "team:data"
	cleanup, err = initMetrics(context.Background(), cfg, log)
	require.NoError(t, err)
	cleanup() // nothing recorded, so close submits nothing

	cfg.Metrics.Backend = "graphite"
	_, err = initMetrics(context.Background(), cfg, log)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "graphite"))
}

func TestProbe(t *testing.T) {
	h := newHarness(t)

	code, stdout, stderr := h.run("probe")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "sampled_rows=3")
	assert.Contains(t, stdout, "lookup candidates:")

	code, _, stderr = h.run("probe", "--source", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "probe:")
}
