// Package config holds the loader configuration: a JSON file overlaid by
// environment variables and, in cmd/etl, by command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"productload/internal/batch"
	"productload/internal/parser/csv"
	"productload/internal/schema"
	"productload/internal/search"
	"productload/internal/storage"
)

// Config is the whole loader configuration.
type Config struct {
	Job      string   `json:"job"`
	Source   Source   `json:"source"`
	Database Database `json:"database"`
	Search   Search   `json:"search"`
	Metrics  Metrics  `json:"metrics"`
}

// Source describes the product CSV.
type Source struct {
	Path    string `json:"path"`
	Charset string `json:"charset,omitempty"`
	// Limit caps the records read; 0 reads all.
	Limit int `json:"limit,omitempty"`
	// Delimiter is a single character; empty means ','.
	Delimiter string `json:"delimiter,omitempty"`
	// HeaderMap maps raw headers to field names (e.g. "SKU": "internal_id").
	HeaderMap map[string]string `json:"header_map,omitempty"`
}

// Database selects and addresses the relational target.
type Database struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn,omitempty"`
	Host string `json:"host,omitempty"`
	// Port 0 uses the backend default (3307 for mysql).
	Port      int    `json:"port,omitempty"`
	User      string `json:"user,omitempty"`
	Password  string `json:"password,omitempty"`
	Name      string `json:"name,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
	Schema    string `json:"schema,omitempty"`
}

// Search addresses the search index.
type Search struct {
	URL           string   `json:"url"`
	User          string   `json:"user,omitempty"`
	Password      string   `json:"password,omitempty"`
	Index         string   `json:"index,omitempty"`
	BatchSize     int      `json:"batch_size,omitempty"`
	ExcludeFields []string `json:"exclude_fields,omitempty"`
	StripHTML     bool     `json:"strip_html,omitempty"`
}

// Metrics selects the metrics backend: "none", "datadog" or "pushgateway".
type Metrics struct {
	Backend        string `json:"backend,omitempty"`
	PushgatewayURL string `json:"pushgateway_url,omitempty"`
	Tags           string `json:"tags,omitempty"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Job: "productload",
		Source: Source{
			Path: "products.csv",
		},
		Database: Database{
			Kind:      "mysql",
			Host:      "localhost",
			User:      "root",
			Name:      schema.DatabaseName,
			BatchSize: batch.DefaultRelationalSize,
			Schema:    string(schema.VariantDenormalized),
		},
		Search: Search{
			URL:       search.DefaultURL,
			User:      search.DefaultUser,
			Index:     search.DefaultIndex,
			BatchSize: batch.DefaultSearchSize,
		},
		Metrics: Metrics{
			Backend:        "none",
			PushgatewayURL: "http://localhost:9091",
		},
	}
}

// Load builds a Config from defaults, the JSON file at path (skipped when
// path is empty) and the process environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := Decode(f, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode overlays the JSON document in r onto cfg. Unknown keys are errors.
func Decode(r io.Reader, cfg *Config) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Variant parses the configured schema variant.
func (c Config) Variant() (schema.Variant, error) {
	return schema.ParseVariant(c.Database.Schema)
}

// StorageConfig returns the repository configuration.
func (c Config) StorageConfig(logger storage.Logger) storage.Config {
	return storage.Config{
		Kind:     c.Database.Kind,
		DSN:      c.Database.DSN,
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		Database: c.Database.Name,
		Logger:   logger,
	}
}

// SearchConfig returns the search client configuration.
func (c Config) SearchConfig(logger search.Logger) search.Config {
	return search.Config{
		URL:      c.Search.URL,
		User:     c.Search.User,
		Password: c.Search.Password,
		Logger:   logger,
	}
}

// CSVOptions returns the reader options for the source.
func (c Config) CSVOptions() csv.Options {
	var comma rune
	for _, r := range c.Source.Delimiter {
		comma = r
		break
	}
	return csv.Options{
		Comma:     comma,
		Charset:   c.Source.Charset,
		HeaderMap: c.Source.HeaderMap,
	}
}

// Documents returns the search document builder. An unset exclude list
// keeps the builder's defaults.
func (c Config) Documents() search.DocumentBuilder {
	return search.DocumentBuilder{
		Exclude:   c.Search.ExcludeFields,
		StripHTML: c.Search.StripHTML,
	}
}
