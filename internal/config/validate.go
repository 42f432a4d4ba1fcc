package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"productload/internal/product"
	"productload/internal/schema"
)

// Severity grades a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, addressed by JSON path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

// DatabaseKinds are the backends cmd/etl links in.
var DatabaseKinds = []string{"mysql", "postgres", "sqlite", "mssql"}

// MetricsBackends are the accepted metrics.backend values.
var MetricsBackends = []string{"", "none", "datadog", "pushgateway"}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks cfg and returns every problem found.
func Validate(cfg Config) []Issue {
	var out []Issue
	errf := func(path, format string, a ...any) {
		out = append(out, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		out = append(out, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(cfg.Source.Path) == "" {
		errf("source.path", "is required")
	}
	if cfg.Source.Limit < 0 {
		errf("source.limit", "must be >= 0, got %d", cfg.Source.Limit)
	}
	if d := cfg.Source.Delimiter; d != "" && utf8.RuneCountInString(d) != 1 {
		errf("source.delimiter", "must be a single character, got %q", d)
	}
	for raw, field := range cfg.Source.HeaderMap {
		if !slices.Contains(product.Fields, field) {
			errf("source.header_map."+raw, "unknown field %q", field)
		}
	}

	db := cfg.Database
	if !slices.Contains(DatabaseKinds, db.Kind) {
		errf("database.kind", "unknown kind %q (want one of %s)", db.Kind, strings.Join(DatabaseKinds, ", "))
	}
	if db.Port < 0 || db.Port > 65535 {
		errf("database.port", "out of range: %d", db.Port)
	}
	if db.DSN == "" && db.Kind != "sqlite" && db.Host == "" {
		errf("database.host", "is required when database.dsn is empty")
	}
	if db.DSN != "" && db.Port != 0 {
		warnf("database.port", "ignored when database.dsn is set")
	}
	if db.BatchSize <= 0 {
		errf("database.batch_size", "must be > 0, got %d", db.BatchSize)
	}
	if _, err := schema.ParseVariant(db.Schema); err != nil {
		errf("database.schema", "%v", err)
	}
	if db.Password == "" && db.DSN == "" && db.Kind != "sqlite" {
		warnf("database.password", "is empty")
	}

	s := cfg.Search
	if u, err := url.Parse(s.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errf("search.url", "must be an absolute http(s) URL, got %q", s.URL)
	}
	if s.Index == "" {
		errf("search.index", "is required")
	} else if s.Index != strings.ToLower(s.Index) {
		errf("search.index", "must be lowercase, got %q", s.Index)
	}
	if s.BatchSize <= 0 {
		errf("search.batch_size", "must be > 0, got %d", s.BatchSize)
	}
	for i, f := range s.ExcludeFields {
		if !slices.Contains(product.Fields, f) {
			warnf(fmt.Sprintf("search.exclude_fields[%d]", i), "unknown field %q", f)
		}
	}

	m := cfg.Metrics
	if !slices.Contains(MetricsBackends, m.Backend) {
		errf("metrics.backend", "unknown backend %q", m.Backend)
	}
	if m.Backend == "pushgateway" && m.PushgatewayURL == "" {
		errf("metrics.pushgateway_url", "is required for the pushgateway backend")
	}
	return out
}
