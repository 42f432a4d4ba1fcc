package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"productload/internal/multitable"
	"productload/internal/schema"
	"productload/internal/storage"
)

func newDBCmd(a *app) *cobra.Command {
	db := &cobra.Command{
		Use:   "db",
		Short: "Relational database commands",
	}
	db.AddCommand(
		newDBPingCmd(a),
		newDBInitCmd(a),
		newDBQueryCmd(a),
		newDBExecCmd(a),
		newDBIndexesCmd(a),
		newDBDropIndexesCmd(a),
	)
	return db
}

func (a *app) openRepo(ctx context.Context) (storage.Repository, error) {
	repo, err := a.deps.openRepo(ctx, a.cfg.StorageConfig(a.log))
	if err != nil {
		return nil, err
	}
	a.onClose(func() {
		if err := repo.Close(); err != nil {
			a.log.Warnf("db: close: %v", err)
		}
	})
	return repo, nil
}

func newDBPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the database server connection",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			ok, msg := storage.TestConnection(cmd.Context(), repo)
			fmt.Fprintln(a.stdout, msg)
			if !ok {
				return errors.New("database unreachable")
			}
			return nil
		},
	}
}

func newDBInitCmd(a *app) *cobra.Command {
	var variant string
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Recreate the database and tables, then load the CSV",
		Args:        exactArgs(0),
		Annotations: map[string]string{annMetrics: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.cfg.Variant()
			if err != nil {
				return err
			}
			if variant != "" {
				if v, err = schema.ParseVariant(variant); err != nil {
					return usageError{err}
				}
			}

			repo, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			r := &multitable.Runner{
				Repo:    repo,
				Source:  a.source(),
				Logger:  a.log,
				Options: multitable.Options{RelationalBatchSize: a.cfg.Database.BatchSize},
			}
			sum, err := r.InitDatabase(cmd.Context(), v, a.limit(cmd))
			if err != nil {
				return err
			}
			printSummary(a.stdout, sum)
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "schema", "", "schema variant: denormalized or normalized (overrides database.schema)")
	addLoadFlags(cmd)
	return cmd
}

func newDBQueryCmd(a *app) *cobra.Command {
	var opts storage.QueryOptions
	cmd := &cobra.Command{
		Use:   "query SQL",
		Short: "Run one SQL statement and print the result",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			res, err := repo.Query(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			printResult(a, res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Profile, "profile", false, "report elapsed time and backend read counters")
	cmd.Flags().IntVar(&opts.MaxRows, "max-rows", 100, "rows to print (0 prints all)")
	return cmd
}

func newDBExecCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exec SQL",
		Short: "Run one statement that returns no rows and print the rows affected",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			res, err := repo.Exec(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "rows affected: %d\n", res.RowsAffected)
			return nil
		},
	}
}

func printResult(a *app, res storage.Result) {
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	if len(res.Columns) > 0 {
		for i, c := range res.Columns {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, c)
		}
		fmt.Fprintln(tw)
	}
	for _, row := range res.Rows {
		for i, v := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			if v == nil {
				fmt.Fprint(tw, "NULL")
				continue
			}
			fmt.Fprint(tw, v)
		}
		fmt.Fprintln(tw)
	}
	_ = tw.Flush()

	if len(res.Columns) == 0 {
		fmt.Fprintln(a.stdout, "no result set (db exec reports rows affected)")
	}
	if p := res.Profile; p != nil {
		fmt.Fprintf(a.stdout, "profile: rows=%d elapsed=%s\n", p.Rows, p.Elapsed)
		for _, k := range slices.Sorted(maps.Keys(p.Counters)) {
			fmt.Fprintf(a.stdout, "  %s=%d\n", k, p.Counters[k])
		}
	}
}

func newDBIndexesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "indexes TABLE",
		Short: "List the indexes of a table",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			idx, err := repo.ListIndexes(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCOLUMNS\tUNIQUE\tKIND")
			for _, ix := range idx {
				kind := "secondary"
				switch {
				case ix.Primary:
					kind = "primary"
				case ix.Constraint:
					kind = "constraint"
				}
				fmt.Fprintf(tw, "%s\t%v\t%t\t%s\n", ix.Name, ix.Columns, ix.Unique, kind)
			}
			return tw.Flush()
		},
	}
}

func newDBDropIndexesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop-indexes [TABLE...]",
		Short: "Drop secondary indexes (defaults to every table of the configured schema)",
		RunE: func(cmd *cobra.Command, args []string) error {
			tables := args
			if len(tables) == 0 {
				v, err := a.cfg.Variant()
				if err != nil {
					return err
				}
				specs, err := schema.Tables(v)
				if err != nil {
					return err
				}
				for _, t := range specs {
					tables = append(tables, t.Name)
				}
			}

			repo, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			var errs []error
			for _, t := range tables {
				n, err := repo.DropSecondaryIndexes(cmd.Context(), t)
				fmt.Fprintf(a.stdout, "%s: dropped %d\n", t, n)
				if err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}
}
