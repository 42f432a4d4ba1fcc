package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LookupFunc reads one environment variable; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overlays environment variables onto cfg. Empty values are
// ignored so an exported-but-blank variable keeps the file value.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := get(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %q is not an integer", key, v)
		}
		*dst = n
		return nil
	}

	str("ETL_JOB", &cfg.Job)

	str("SOURCE_PATH", &cfg.Source.Path)
	str("SOURCE_CHARSET", &cfg.Source.Charset)

	str("DB_KIND", &cfg.Database.Kind)
	str("DATABASE_DSN", &cfg.Database.DSN)
	str("DB_HOST", &cfg.Database.Host)
	str("DB_USER", &cfg.Database.User)
	str("DB_PASSWORD", &cfg.Database.Password)
	str("DB_NAME", &cfg.Database.Name)
	str("DB_SCHEMA", &cfg.Database.Schema)

	str("ES_URL", &cfg.Search.URL)
	str("ES_USER", &cfg.Search.User)
	str("ES_PASSWORD", &cfg.Search.Password)
	str("ES_INDEX", &cfg.Search.Index)
	if v, ok := get("ES_EXCLUDE_FIELDS"); ok {
		cfg.Search.ExcludeFields = splitCSV(v)
	}
	if v, ok := get("ES_STRIP_HTML"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env ES_STRIP_HTML: %q is not a boolean", v)
		}
		cfg.Search.StripHTML = b
	}

	str("METRICS_BACKEND", &cfg.Metrics.Backend)
	str("PUSHGATEWAY_URL", &cfg.Metrics.PushgatewayURL)
	str("METRICS_TAGS", &cfg.Metrics.Tags)

	for key, dst := range map[string]*int{
		"SOURCE_LIMIT":  &cfg.Source.Limit,
		"DB_PORT":       &cfg.Database.Port,
		"DB_BATCH_SIZE": &cfg.Database.BatchSize,
		"ES_BATCH_SIZE": &cfg.Search.BatchSize,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// LoadDotEnv reads KEY=VALUE lines from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(line[:idx]))
		value := strings.Trim(strings.TrimSpace(line[idx+1:]), `"'`)
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
