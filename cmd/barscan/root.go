package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dezod123/bar-scan-platform/internal/clients"
	"github.com/dezod123/bar-scan-platform/internal/config"
	"github.com/dezod123/bar-scan-platform/internal/store"
	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitFailure      = 1 // chaos hypotheses violated
	exitCommandError = 2 // bad flags, unreachable database or server
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	var e *exitError
	if errors.As(err, &e) {
		return e.code
	}
	return exitCommandError
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	ConfigPath string
	Server     string
	Timeout    time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "barscan",
		Short: "Product code allocation and scan intake",
		Long: `barscan assigns sequential barcode and QR codes to products and records
scans of those codes, suppressing duplicate reads inside a cooldown window.

The serve, migrate, seed, config and chaos commands work against the
configured database. The products, scans and events commands talk to a
running server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.Server, "server", "http://localhost:8080", "base URL of a running barscan server")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "HTTP client timeout")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.AddCommand(newChaosCommand(opts))
	cmd.AddCommand(newProductsCommand(opts))
	cmd.AddCommand(newScansCommand(opts))
	cmd.AddCommand(newEventsCommand(opts))

	return cmd
}

// loadConfig reads the configuration and reports any value that fell back
// to its default.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger) {
	cfg := config.Load(o.ConfigPath)
	logger := cfg.Log.NewLogger(cmd.ErrOrStderr())
	for _, w := range cfg.Warnings {
		logger.Warn("config value ignored", "reason", w)
	}
	return cfg, logger
}

// openStore connects to the configured database and applies the schema.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.DB, error) {
	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug("database ready", "driver", cfg.Database.Driver)
	return db, nil
}

func (o *rootOptions) client() *clients.APIClient {
	return clients.NewAPIClient(o.Server, &http.Client{Timeout: o.Timeout})
}
