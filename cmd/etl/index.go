package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"productload/internal/multitable"
	"productload/internal/search"
)

func newIndexCmd(a *app) *cobra.Command {
	var index string
	idx := &cobra.Command{
		Use:   "index",
		Short: "Search index commands",
	}
	idx.PersistentFlags().StringVar(&index, "index", "", "index name (overrides search.index)")
	name := func() string {
		if index != "" {
			return index
		}
		return a.cfg.Search.Index
	}

	idx.AddCommand(
		newIndexPingCmd(a),
		newIndexInitCmd(a, name),
		newIndexSearchCmd(a, name),
		newIndexAnalyzeCmd(a, name),
		newIndexMappingCmd(a, name),
		newIndexDocCmd(a, name),
	)
	return idx
}

func (a *app) openSearch() (searchClient, error) {
	return a.deps.openSearch(a.cfg.SearchConfig(a.log))
}

func newIndexPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the search cluster connection",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openSearch()
			if err != nil {
				return err
			}
			ok, msg := c.TestConnection(cmd.Context())
			fmt.Fprintln(a.stdout, msg)
			if !ok {
				return errors.New("search cluster unreachable")
			}
			return nil
		},
	}
}

func newIndexInitCmd(a *app, index func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Recreate the index and bulk-load the CSV",
		Args:        exactArgs(0),
		Annotations: map[string]string{annMetrics: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openSearch()
			if err != nil {
				return err
			}
			r := &multitable.Runner{
				Search: c,
				Source: a.source(),
				Logger: a.log,
				Options: multitable.Options{
					SearchBatchSize: a.cfg.Search.BatchSize,
					Index:           index(),
					Documents:       a.cfg.Documents(),
				},
			}
			sum, err := r.InitIndex(cmd.Context(), a.limit(cmd))
			if err != nil {
				return err
			}
			printSummary(a.stdout, sum)
			return nil
		},
	}
	addLoadFlags(cmd)
	return cmd
}

func newIndexSearchCmd(a *app, index func() string) *cobra.Command {
	var (
		field string
		size  int
		raw   string
	)
	cmd := &cobra.Command{
		Use:   "search [TEXT]",
		Short: "Run a match query (or a raw --body) and print the response",
		Args: func(cmd *cobra.Command, args []string) error {
			if raw == "" && len(args) != 1 {
				return usageError{errors.New("search needs TEXT or --body")}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			var body map[string]any
			if raw != "" {
				if err := json.Unmarshal([]byte(raw), &body); err != nil {
					return usageError{fmt.Errorf("--body: %w", err)}
				}
			} else {
				body = map[string]any{
					"size":  size,
					"query": map[string]any{"match": map[string]any{field: args[0]}},
				}
			}

			c, err := a.openSearch()
			if err != nil {
				return err
			}
			res, err := c.Search(cmd.Context(), index(), body)
			if err != nil {
				return err
			}
			return printJSON(a, res)
		},
	}
	cmd.Flags().StringVar(&field, "field", "name", "field to match")
	cmd.Flags().IntVar(&size, "size", 10, "hits to return")
	cmd.Flags().StringVar(&raw, "body", "", "raw JSON request body")
	return cmd
}

func newIndexAnalyzeCmd(a *app, index func() string) *cobra.Command {
	var analyzer string
	cmd := &cobra.Command{
		Use:   "analyze TEXT",
		Short: "Print the tokens an analyzer produces for TEXT",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openSearch()
			if err != nil {
				return err
			}
			tokens, err := c.Analyze(cmd.Context(), index(), map[string]any{"analyzer": analyzer, "text": args[0]})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, strings.Join(tokens, " "))
			return nil
		},
	}
	cmd.Flags().StringVar(&analyzer, "analyzer", search.NgramAnalyzer, "analyzer name")
	return cmd
}

func newIndexMappingCmd(a *app, index func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "mapping",
		Short: "Print the index mapping",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openSearch()
			if err != nil {
				return err
			}
			m, err := c.Mapping(cmd.Context(), index())
			if err != nil {
				return err
			}
			return printJSON(a, m)
		},
	}
}

func newIndexDocCmd(a *app, index func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "doc ID",
		Short: "Print one stored document",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openSearch()
			if err != nil {
				return err
			}
			d, err := c.Document(cmd.Context(), index(), args[0])
			if err != nil {
				return err
			}
			return printJSON(a, d)
		},
	}
}

func printJSON(a *app, v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
