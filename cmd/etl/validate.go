package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"productload/internal/config"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate the configuration and exit",
		Args:        exactArgs(0),
		Annotations: map[string]string{annSkipValidate: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			issues := config.Validate(a.cfg)
			for _, iss := range issues {
				fmt.Fprintf(a.stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if config.HasErrors(issues) {
				return errors.New("configuration is invalid")
			}
			fmt.Fprintln(a.stdout, "configuration is valid")
			return nil
		},
	}
}
