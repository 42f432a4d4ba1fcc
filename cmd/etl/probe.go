package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"productload/internal/probe"
)

func newProbeCmd(a *app) *cobra.Command {
	var maxBytes int
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Sample the head of the source CSV and report per-field statistics",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			opt := probe.Options{MaxBytes: maxBytes, CSV: a.cfg.CSVOptions()}
			opt.CSV.Limit = a.limit(cmd)
			rep, err := probe.File(cmd.Context(), a.cfg.Source.Path, opt)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, rep.Format())
			return nil
		},
	}
	cmd.Flags().IntVar(&maxBytes, "max-bytes", probe.DefaultMaxBytes, "bytes to sample from the start of the file")
	addLoadFlags(cmd)
	return cmd
}
