package main

import (
	"fmt"
	"time"

	"github.com/dezod123/bar-scan-platform/internal/catalog"
	"github.com/dezod123/bar-scan-platform/internal/chaos"
	"github.com/dezod123/bar-scan-platform/internal/journal"
	"github.com/dezod123/bar-scan-platform/internal/scans"
	"github.com/spf13/cobra"
)

func newChaosCommand(opts *rootOptions) *cobra.Command {
	params := chaos.DefaultParams
	var name string
	var pause time.Duration

	cmd := &cobra.Command{
		Use:   "chaos",
		Short: "Run the chaos game day against the configured database",
		Long: `Runs the registered experiments in order: concurrent allocation, scan
bursts, racing disposition updates and connection pool pressure. Each
experiment checks that codes stay unique and that duplicate scans and
double transitions are rejected.

Exits with status 1 when any hypothesis is violated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := opts.loadConfig(cmd)
			db, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return withExitCode(exitCommandError, err)
			}
			defer db.Close()

			j := journal.New(db)
			engine := chaos.NewEngine(db,
				catalog.NewService(db, j, cfg.Codes.Table(), catalog.WithLogger(logger)),
				scans.NewService(db, j, scans.WithLogger(logger)),
				chaos.WithLogger(logger),
			)
			engine.RegisterExperiments(params)

			failed, err := engine.ExecuteGameDay(cmd.Context(), cmd.OutOrStdout(), chaos.GameDay{
				Name:      name,
				Date:      time.Now(),
				Scenarios: engine.Experiments(),
				Pause:     pause,
			})
			if err != nil {
				return err
			}
			if failed > 0 {
				return withExitCode(exitFailure, fmt.Errorf("%d of %d experiments failed", failed, len(engine.Experiments())))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "barscan game day", "game day name used in the report")
	cmd.Flags().IntVar(&params.Concurrency, "concurrency", params.Concurrency, "concurrent callers per experiment")
	cmd.Flags().DurationVar(&params.Observe, "observe", params.Observe, "observation window after each method")
	cmd.Flags().DurationVar(&params.Hold, "hold", params.Hold, "how long pool pressure holds connections")
	cmd.Flags().DurationVar(&pause, "pause", 0, "pause between experiments")
	return cmd
}
