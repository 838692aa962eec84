package main

import (
	"encoding/json"
	"fmt"

	"github.com/snarg/caption-engine/internal/config"
	"github.com/spf13/cobra"
)

func newCheckCommand(overrides *config.Overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report whether the engine binary and model can be found",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*overrides)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			report := newChecker(cfg).Check()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if err := report.Err(); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return exitError{code: 1}
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
