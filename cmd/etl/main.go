// Command etl loads the product CSV into a relational database or a search
// index and inspects the result.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"productload/internal/batch"
	"productload/internal/config"
	"productload/internal/search"
	"productload/internal/storage"

	// register every relational backend with the storage factory; the
	// config selects which one is opened.
	_ "productload/internal/storage/mssql"
	_ "productload/internal/storage/mysql"
	_ "productload/internal/storage/postgres"
	_ "productload/internal/storage/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// searchClient is the part of *search.Client the commands use.
type searchClient interface {
	TestConnection(ctx context.Context) (bool, string)
	CreateIndex(ctx context.Context, index string, mapping, settings map[string]any) error
	BulkLoad(ctx context.Context, index string, docs []search.Document, batchSize int) (batch.Stats, error)
	Analyze(ctx context.Context, index string, body map[string]any) ([]string, error)
	Search(ctx context.Context, index string, body map[string]any) (map[string]any, error)
	Mapping(ctx context.Context, index string) (map[string]any, error)
	Document(ctx context.Context, index, id string) (map[string]any, error)
}

// appDeps are the seams replaced in tests.
type appDeps struct {
	loadConfig  func(path string) (config.Config, error)
	openRepo    func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	openSearch  func(cfg search.Config) (searchClient, error)
	initMetrics func(ctx context.Context, cfg config.Config, log *logrus.Logger) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: func(path string) (config.Config, error) {
			if err := config.LoadDotEnv(".env"); err != nil {
				return config.Config{}, err
			}
			return config.Load(path)
		},
		openRepo: storage.New,
		openSearch: func(cfg search.Config) (searchClient, error) {
			return search.New(cfg)
		},
		initMetrics: initMetrics,
	}
}

// usageError marks bad invocations; they exit with code 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// runMain executes the CLI and returns the process exit code.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	a := newApp(deps, stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.close()
	if err == nil {
		return 0
	}

	var ue usageError
	if errors.As(err, &ue) || strings.HasPrefix(err.Error(), "unknown command") {
		fmt.Fprintf(stderr, "%v\n\n%s", err, root.UsageString())
		return 2
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return 1
}
