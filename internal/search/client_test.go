package search

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"productload/internal/product"
)

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// fakeCluster is a minimal stand-in for the endpoints the client uses.
type fakeCluster struct {
	mu         sync.Mutex
	indices    map[string]bool
	created    map[string]map[string]any
	bulkBodies []string
	failBulkAt int // 1-based bulk request that reports an item error; 0 never
	bulkCalls  int
	deleted    []string
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{indices: map[string]bool{}, created: map[string]map[string]any{}}
}

func (f *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	body, _ := io.ReadAll(r.Body)

	switch {
	case r.URL.Path == "/":
		fmt.Fprint(w, `{"version":{"number":"8.17.0"}}`)

	case len(parts) == 1 && r.Method == http.MethodHead:
		if f.indices[parts[0]] {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}

	case len(parts) == 1 && r.Method == http.MethodDelete:
		delete(f.indices, parts[0])
		f.deleted = append(f.deleted, parts[0])
		fmt.Fprint(w, `{"acknowledged":true}`)

	case len(parts) == 1 && r.Method == http.MethodPut:
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		f.indices[parts[0]] = true
		f.created[parts[0]] = m
		fmt.Fprint(w, `{"acknowledged":true}`)

	case len(parts) == 2 && parts[1] == "_bulk":
		f.bulkCalls++
		f.bulkBodies = append(f.bulkBodies, string(body))
		if f.bulkCalls == f.failBulkAt {
			fmt.Fprint(w, `{"errors":true,"items":[{"index":{"_id":"7","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad price"}}}]}`)
			return
		}
		fmt.Fprint(w, `{"errors":false,"items":[]}`)

	case len(parts) == 2 && parts[1] == "_analyze":
		fmt.Fprint(w, `{"tokens":[{"token":"pho"},{"token":"phon"},{"token":"hon"}]}`)

	case len(parts) == 2 && parts[1] == "_search":
		fmt.Fprint(w, `{"hits":{"total":{"value":1},"hits":[{"_id":"1"}]}}`)

	case len(parts) == 2 && parts[1] == "_mapping":
		fmt.Fprintf(w, `{%q:{"mappings":{"properties":{"title":{"type":"text"}}}}}`, parts[0])

	case len(parts) == 3 && parts[1] == "_doc":
		if parts[2] == "missing" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"found":false}`)
			return
		}
		fmt.Fprintf(w, `{"_id":%q,"found":true,"_source":{"name":"Phone"}}`, parts[2])

	default:
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":"unhandled %s %s"}`, r.Method, r.URL.Path)
	}
}

func newTestClient(t *testing.T, f *fakeCluster) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL, Password: "pw", Logger: nopLogger{}})
	require.NoError(t, err)
	return c
}

func TestTestConnection(t *testing.T) {
	c := newTestClient(t, newFakeCluster())
	ok, msg := c.TestConnection(context.Background())
	assert.True(t, ok)
	assert.Contains(t, msg, "8.17.0")

	bad, err := New(Config{URL: "http://127.0.0.1:1", Logger: nopLogger{}})
	require.NoError(t, err)
	ok, msg = bad.TestConnection(context.Background())
	assert.False(t, ok)
	assert.Contains(t, msg, "connection failed")
}

func TestCreateIndex_RecreatesWithDefaults(t *testing.T) {
	f := newFakeCluster()
	f.indices[DefaultIndex] = true
	c := newTestClient(t, f)

	require.NoError(t, c.CreateIndex(context.Background(), DefaultIndex, nil, nil))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{DefaultIndex}, f.deleted)
	body := f.created[DefaultIndex]
	require.NotNil(t, body)
	settings := body["settings"].(map[string]any)
	analyzer := settings["analysis"].(map[string]any)["analyzer"].(map[string]any)
	assert.Contains(t, analyzer, "default_ngram")
	props := body["mappings"].(map[string]any)["properties"].(map[string]any)
	assert.Contains(t, props, "title")
}

func TestCreateIndex_SkipsDeleteWhenMissing(t *testing.T) {
	f := newFakeCluster()
	c := newTestClient(t, f)

	require.NoError(t, c.CreateIndex(context.Background(), "fresh", map[string]any{}, map[string]any{}))
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Empty(t, f.deleted)
	assert.True(t, f.indices["fresh"])
}

func TestBulkLoad_ChunksAsNDJSON(t *testing.T) {
	f := newFakeCluster()
	c := newTestClient(t, f)

	recs := make([]product.Record, 5)
	for i := range recs {
		recs[i] = product.Record{Index: int64(i + 1), Name: product.Ptr(fmt.Sprintf("p%d", i+1))}
	}
	docs := DocumentBuilder{}.Build(recs)

	st, err := c.BulkLoad(context.Background(), "idx", docs, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Rows)
	assert.Equal(t, 3, st.Chunks)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.bulkBodies, 3)

	sc := bufio.NewScanner(strings.NewReader(f.bulkBodies[0]))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 4, "two action/source pairs")
	assert.JSONEq(t, `{"index":{"_index":"idx","_id":"1"}}`, lines[0])

	var src map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &src))
	assert.Equal(t, "p1", src["name"])
	assert.Contains(t, src, "brand")
	assert.Nil(t, src["brand"])
	assert.NotContains(t, src, "ean")
}

func TestBulkLoad_ItemErrorAbortsLoad(t *testing.T) {
	f := newFakeCluster()
	f.failBulkAt = 2
	c := newTestClient(t, f)

	docs := make([]Document, 6)
	for i := range docs {
		docs[i] = Document{ID: fmt.Sprint(i), Source: map[string]any{"name": "x"}}
	}
	st, err := c.BulkLoad(context.Background(), "idx", docs, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 2/3")
	assert.Contains(t, err.Error(), "bad price")
	assert.Equal(t, 2, st.Rows)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 2, f.bulkCalls, "no request after the failing chunk")
}

func TestPassthroughs(t *testing.T) {
	c := newTestClient(t, newFakeCluster())
	ctx := context.Background()

	tokens, err := c.Analyze(ctx, "idx", map[string]any{"analyzer": "default_ngram", "text": "phone"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pho", "phon", "hon"}, tokens)

	res, err := c.Search(ctx, "idx", map[string]any{"query": map[string]any{"match_all": map[string]any{}}})
	require.NoError(t, err)
	assert.Contains(t, res, "hits")

	m, err := c.Mapping(ctx, "idx")
	require.NoError(t, err)
	assert.Contains(t, m, "idx")

	doc, err := c.Document(ctx, "idx", "1")
	require.NoError(t, err)
	assert.Equal(t, true, doc["found"])

	_, err = c.Document(ctx, "idx", "missing")
	var re *ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)
	assert.Contains(t, re.Body, "found")
}
