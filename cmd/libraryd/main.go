// Command libraryd serves the library management REST API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/qltv/library_service/internal/app/runtime"
	"github.com/qltv/library_service/internal/config"
	"github.com/qltv/library_service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("libraryd").WithError(err).Fatal("load config")
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).Component("libraryd")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("library service exited")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := runtime.NewApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer application.Close()

	return application.Run(ctx)
}
