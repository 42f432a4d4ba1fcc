package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"productload/internal/config"
	"productload/internal/multitable"
	"productload/internal/parser/csv"
	"productload/internal/product"
)

// annotations on commands, read by the root pre-run hook.
const (
	annSkipValidate = "skip-validate"
	annMetrics      = "metrics"
)

type app struct {
	deps   appDeps
	stdout io.Writer
	stderr io.Writer
	log    *logrus.Logger

	cfgPath        string
	verbose        bool
	metricsBackend string

	cfg     config.Config
	closers []func()
}

func newApp(deps appDeps, stdout, stderr io.Writer) *app {
	l := logrus.New()
	l.SetOutput(stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &app{deps: deps, stdout: stdout, stderr: stderr, log: l}
}

// close runs the registered cleanups in reverse order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) onClose(f func()) { a.closers = append(a.closers, f) }

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "etl",
		Short:         "Load product CSV data into a database or a search index",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config JSON path (defaults and environment apply when empty)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logs")
	pf.StringVar(&a.metricsBackend, "metrics-backend", "", "metrics backend: none, datadog or pushgateway (overrides config)")

	root.AddCommand(newDBCmd(a), newIndexCmd(a), newProbeCmd(a), newValidateCmd(a))
	return root
}

// setup loads and checks the configuration and starts metrics when the
// command asks for them.
func (a *app) setup(cmd *cobra.Command) error {
	if a.verbose {
		a.log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := a.deps.loadConfig(strings.TrimSpace(a.cfgPath))
	if err != nil {
		return err
	}
	if a.metricsBackend != "" {
		cfg.Metrics.Backend = a.metricsBackend
	}
	if f := cmd.Flags().Lookup("source"); f != nil && f.Changed {
		cfg.Source.Path = f.Value.String()
	}
	a.cfg = cfg
	a.log.Debugf("config: db=%s schema=%s search=%s index=%s source=%s",
		cfg.Database.Kind, cfg.Database.Schema, cfg.Search.URL, cfg.Search.Index, cfg.Source.Path)

	if cmd.Annotations[annSkipValidate] == "" {
		issues := config.Validate(cfg)
		for _, iss := range issues {
			if iss.Severity == config.SeverityWarning {
				a.log.Warnf("config: %s: %s", iss.Path, iss.Message)
			}
		}
		if config.HasErrors(issues) {
			return fmt.Errorf("invalid configuration: %s", describeErrors(issues))
		}
	}

	if cmd.Annotations[annMetrics] != "" {
		cleanup, err := a.deps.initMetrics(cmd.Context(), cfg, a.log)
		if err != nil {
			return err
		}
		a.onClose(cleanup)
	}
	return nil
}

func describeErrors(issues []config.Issue) string {
	var parts []string
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			parts = append(parts, iss.Path+": "+iss.Message)
		}
	}
	return strings.Join(parts, "; ")
}

// source reads the configured CSV.
func (a *app) source() multitable.Source {
	return func(ctx context.Context, limit int) ([]product.Record, error) {
		opt := a.cfg.CSVOptions()
		opt.Limit = limit
		return csv.ReadFile(ctx, a.cfg.Source.Path, opt)
	}
}

// limit returns the --limit flag when set, else source.limit.
func (a *app) limit(cmd *cobra.Command) int {
	if f := cmd.Flags().Lookup("limit"); f != nil && f.Changed {
		n, _ := cmd.Flags().GetInt("limit")
		return n
	}
	return a.cfg.Source.Limit
}

func addLoadFlags(cmd *cobra.Command) {
	cmd.Flags().Int("limit", 0, "read at most this many records (0 reads all; overrides source.limit)")
	cmd.Flags().String("source", "", "CSV path (overrides source.path)")
}

// exactArgs reports a wrong argument count as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func printSummary(w io.Writer, sum multitable.Summary) {
	fmt.Fprintf(w, "target=%s variant=%s read=%d elapsed=%s\n", sum.Target, sum.Variant, sum.Read, sum.Elapsed.Round(1e6))
	for _, t := range sum.Tables {
		fmt.Fprintf(w, "  %-16s rows=%-8d chunks=%-4d elapsed=%s\n", t.Table, t.Rows, t.Chunks, t.Elapsed.Round(1e6))
	}
}
