package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/dezod123/bar-scan-platform/internal/catalog"
	"github.com/dezod123/bar-scan-platform/internal/journal"
	"github.com/dezod123/bar-scan-platform/internal/metrics"
	"github.com/dezod123/bar-scan-platform/internal/scans"
	"github.com/dezod123/bar-scan-platform/internal/server"
	"github.com/dezod123/bar-scan-platform/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, logger := opts.loadConfig(cmd)

			shutdown, err := telemetry.Setup(ctx, telemetry.Config{
				Endpoint:    cfg.Telemetry.OTLPEndpoint,
				ServiceName: cfg.Telemetry.ServiceName,
			})
			if err != nil {
				return withExitCode(exitCommandError, err)
			}
			defer func() {
				if err := shutdown(cmd.Context()); err != nil {
					logger.Error("telemetry shutdown", "err", err)
				}
			}()

			db, err := openStore(ctx, cfg, logger)
			if err != nil {
				return withExitCode(exitCommandError, err)
			}
			defer db.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewDBStatsCollector(db.SQL(), "barscan"))
			rec := metrics.NewRecorder(reg)

			j := journal.New(db)
			catalogSvc := catalog.NewService(db, j, cfg.Codes.Table(),
				catalog.WithLogger(logger), catalog.WithMetrics(rec))
			scanSvc := scans.NewService(db, j,
				scans.WithLogger(logger), scans.WithMetrics(rec))

			if seed {
				n, err := catalogSvc.Seed(ctx, catalog.DefaultFixtures)
				if err != nil {
					return fmt.Errorf("seed: %w", err)
				}
				logger.Info("catalog seeded", "inserted", n)
			}

			h := server.New(server.Deps{
				DB:        db,
				Catalog:   catalogSvc,
				Scans:     scanSvc,
				Journal:   j,
				Gatherer:  reg,
				Logger:    logger,
				Cooldown:  cfg.Scan.Cooldown(),
				ScanRate:  cfg.Scan.RatePerSecond,
				ScanBurst: cfg.Scan.Burst,
			})
			return server.ListenAndServe(ctx, cfg.HTTP.Addr, h, logger)
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "load the demo catalog before serving")
	return cmd
}
