// Command registryctl runs operator tasks against the registry cache:
// schema migrations, bulk replica imports and offline extraction of
// downloaded annual reports.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pg "bolagsdata/internal/adapters/postgres"
	"bolagsdata/internal/config"
	"bolagsdata/internal/logging"
)

var (
	Version = "dev"

	configPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "registryctl",
		Short:         "Operator tasks for the company registry cache",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides REGISTRY_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(extractCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		if err := os.Setenv("REGISTRY_CONFIG", configPath); err != nil {
			return config.Config{}, err
		}
	}
	return config.Read()
}

func newLogger(cfg config.Config) *slog.Logger {
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return logging.New(os.Stderr, level, "text", "registryctl")
}

func connect(ctx context.Context, cfg config.Config) (*pg.DB, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL not set")
	}
	db, err := pg.Connect(ctx, cfg.Database.URL, pg.Options{MaxConns: 4})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return db, nil
}
