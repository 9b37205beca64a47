// Package main runs the report generation service: the job runner that
// claims generate_report jobs from the shared table and the admin HTTP API.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/platform/database"
	"github.com/phrazzld/reportgen/internal/platform/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Printf("reportgen server: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, l, err := initializeApp()
	if err != nil {
		return err
	}

	backend, err := database.Open(ctx, cfg.Database, l)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := backend.Migrate(ctx, l); err != nil {
		_ = backend.Close()
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	app, err := newApplication(ctx, cfg, l, backend)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("db_driver", cfg.Database.Driver),
		slog.Int("workers", cfg.Worker.Count))
	if cfg.LLM.GeminiAPIKey != "" {
		l.Debug("LLM configuration", slog.Bool("gemini_key_present", true))
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		l.Debug("LLM configuration", slog.Bool("openai_key_present", true))
	}
	return cfg, l, nil
}
