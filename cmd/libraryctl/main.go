// Command libraryctl runs administrative tasks against the library service:
// schema migrations, demo data, bootstrap accounts and maintenance jobs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qltv/library_service/internal/app/runtime"
	"github.com/qltv/library_service/internal/cli"
	"github.com/qltv/library_service/internal/config"
	"github.com/qltv/library_service/pkg/logger"
)

var (
	envFile  string
	logLevel string
	out      = cli.NewPrinter(os.Stdout)
)

var rootCmd = &cobra.Command{
	Use:           "libraryctl",
	Short:         "Administrative tooling for the library service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to a .env file (overrides LIBRARY_ENV_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level for service components")
	rootCmd.AddCommand(migrateCmd, seedCmd, createAdminCmd, sweepOverdueCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		out.Error("%v", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if envFile != "" {
		if err := os.Setenv("LIBRARY_ENV_FILE", envFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// withApplication builds the full service without serving HTTP.
func withApplication(ctx context.Context, fn func(*runtime.Application) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		out.Warning("LIBRARY_DATABASE_DSN is not set; changes are kept in memory and discarded on exit")
	}
	log := logger.New(logger.LoggingConfig{Level: logLevel, Format: cfg.Logging.Format, Output: "stdout"}).Component("libraryctl")
	application, err := runtime.NewApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer application.Close()
	return fn(application)
}
