// Package search loads product documents into an Elasticsearch index and
// exposes the read-only endpoints used to inspect it.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	DefaultURL   = "http://localhost:9201"
	DefaultUser  = "elastic"
	DefaultIndex = "my_index"
)

// Logger is satisfied by *log.Logger and *logrus.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// Config holds connection settings for the search cluster.
type Config struct {
	URL      string
	User     string
	Password string

	// Transport overrides the HTTP transport (tests). Requests are always
	// instrumented with metrics.
	Transport http.RoundTripper
	Logger    Logger
}

// Client wraps the Elasticsearch client.
type Client struct {
	es     *elasticsearch.Client
	logger Logger
}

// New builds a Client. It does not contact the cluster.
func New(cfg Config) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultURL
	}
	user := cfg.User
	if user == "" {
		user = DefaultUser
	}

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{url},
		Username:     user,
		Password:     cfg.Password,
		Transport:    instrument(cfg.Transport),
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("search: new client: %w", err)
	}
	return &Client{es: es, logger: cfg.Logger}, nil
}

func (c *Client) logf(format string, v ...any) {
	if c.logger == nil {
		log.Printf(format, v...)
		return
	}
	c.logger.Printf(format, v...)
}

// TestConnection asks the cluster for its version.
func (c *Client) TestConnection(ctx context.Context) (bool, string) {
	res, err := c.es.Info(c.es.Info.WithContext(ctx))
	if err != nil {
		return false, fmt.Sprintf("connection failed: %v", err)
	}
	var info struct {
		Version struct {
			Number string `json:"number"`
		} `json:"version"`
	}
	if err := decode(res, "info", &info); err != nil {
		return false, fmt.Sprintf("connection failed: %v", err)
	}
	return true, fmt.Sprintf("connected to Elasticsearch %s", info.Version.Number)
}

// Exists reports whether index exists.
func (c *Client) Exists(ctx context.Context, index string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", index, err)
	}
	defer res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, fmt.Errorf("exists %s: unexpected status %d", index, res.StatusCode)
}

// CreateIndex deletes index if it exists and creates it from mapping and
// settings. Nil arguments fall back to DefaultMapping and DefaultSettings.
func (c *Client) CreateIndex(ctx context.Context, index string, mapping, settings map[string]any) error {
	if index == "" {
		return fmt.Errorf("create index: name is empty")
	}
	if mapping == nil {
		mapping = DefaultMapping()
	}
	if settings == nil {
		settings = DefaultSettings()
	}

	exists, err := c.Exists(ctx, index)
	if err != nil {
		return err
	}
	if exists {
		res, err := c.es.Indices.Delete([]string{index}, c.es.Indices.Delete.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("delete index %s: %w", index, err)
		}
		if err := decode(res, "delete index "+index, nil); err != nil {
			return err
		}
		c.logf("stage=delete_index index=%s ok", index)
	}

	body, err := encode(IndexBody(mapping, settings))
	if err != nil {
		return err
	}
	res, err := c.es.Indices.Create(index,
		c.es.Indices.Create.WithBody(body),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	if err := decode(res, "create index "+index, nil); err != nil {
		return err
	}
	c.logf("stage=create_index index=%s ok", index)
	return nil
}

// Analyze runs the _analyze endpoint of index and returns the token strings.
func (c *Client) Analyze(ctx context.Context, index string, body map[string]any) ([]string, error) {
	r, err := encode(body)
	if err != nil {
		return nil, err
	}
	res, err := c.es.Indices.Analyze(
		c.es.Indices.Analyze.WithIndex(index),
		c.es.Indices.Analyze.WithBody(r),
		c.es.Indices.Analyze.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	var out struct {
		Tokens []struct {
			Token string `json:"token"`
		} `json:"tokens"`
	}
	if err := decode(res, "analyze", &out); err != nil {
		return nil, err
	}
	tokens := make([]string, len(out.Tokens))
	for i, t := range out.Tokens {
		tokens[i] = t.Token
	}
	return tokens, nil
}

// Search runs a query DSL body against index and returns the raw response.
func (c *Client) Search(ctx context.Context, index string, body map[string]any) (map[string]any, error) {
	r, err := encode(body)
	if err != nil {
		return nil, err
	}
	res, err := c.es.Search(
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(r),
		c.es.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	var out map[string]any
	if err := decode(res, "search", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Mapping returns the mapping of index.
func (c *Client) Mapping(ctx context.Context, index string) (map[string]any, error) {
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithIndex(index),
		c.es.Indices.GetMapping.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("mapping: %w", err)
	}
	var out map[string]any
	if err := decode(res, "mapping", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Document fetches one document by id.
func (c *Client) Document(ctx context.Context, index, id string) (map[string]any, error) {
	res, err := c.es.Get(index, id, c.es.Get.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("document: %w", err)
	}
	var out map[string]any
	if err := decode(res, "document "+id, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResponseError is a non-2xx response from the cluster.
type ResponseError struct {
	Op     string
	Status int
	Body   string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s error: status %d: %s", e.Op, e.Status, e.Body)
}

// decode closes res and, for 2xx responses, unmarshals the body into v
// (when v is non-nil). Other statuses become a *ResponseError.
func decode(res *esapi.Response, op string, v any) error {
	defer res.Body.Close()
	if res.IsError() {
		b, _ := io.ReadAll(res.Body)
		return &ResponseError{Op: op, Status: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if v == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func encode(v any) (io.Reader, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return &buf, nil
}
