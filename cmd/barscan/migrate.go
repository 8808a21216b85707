package main

import (
	"fmt"

	"github.com/dezod123/bar-scan-platform/internal/catalog"
	"github.com/dezod123/bar-scan-platform/internal/journal"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := opts.loadConfig(cmd)
			db, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return withExitCode(exitCommandError, err)
			}
			defer db.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo catalog",
		Long: `Inserts the demo products with their fixed codes. Existing entries are
renamed in place, so running seed twice is harmless.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := opts.loadConfig(cmd)
			db, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return withExitCode(exitCommandError, err)
			}
			defer db.Close()

			svc := catalog.NewService(db, journal.New(db), cfg.Codes.Table(), catalog.WithLogger(logger))
			n, err := svc.Seed(cmd.Context(), catalog.DefaultFixtures)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d of %d entries\n", n, len(catalog.DefaultFixtures))
			return nil
		},
	}
}
