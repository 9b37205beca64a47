// Package migrations applies the embedded goose migrations of a store
// dialect and reports their status.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
)

// Source is a dialect together with its migration files.
type Source struct {
	Dialect goose.Dialect
	FS      fs.FS
}

// State is the status of one migration file.
type State struct {
	Version   int64     `json:"version"`
	Path      string    `json:"path"`
	Applied   bool      `json:"applied"`
	AppliedAt time.Time `json:"applied_at,omitempty"`
}

// slogGooseLogger adapts goose logging onto slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

// Printf implements goose.Logger.
func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements goose.Logger without exiting; errors are returned to the
// caller instead.
func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func newProvider(db *sql.DB, src Source, logger *slog.Logger) (*goose.Provider, error) {
	p, err := goose.NewProvider(src.Dialect, db, src.FS,
		goose.WithLogger(&slogGooseLogger{logger: logger}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	return p, nil
}

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB, src Source, logger *slog.Logger) error {
	log := logger.With(
		slog.String("component", "migrations"),
		slog.String("correlation_id", uuid.NewString()),
		slog.String("dialect", string(src.Dialect)),
	)

	p, err := newProvider(db, src, log)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := p.Up(ctx)
	if err != nil {
		log.Error("migration failed", slog.String("error", err.Error()))
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	for _, r := range results {
		log.Info("migration applied",
			slog.Int64("version", r.Source.Version),
			slog.String("path", r.Source.Path),
			slog.Duration("duration", r.Duration))
	}
	log.Info("migrations up to date",
		slog.Int("applied", len(results)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Status lists every known migration and whether it has been applied.
func Status(ctx context.Context, db *sql.DB, src Source, logger *slog.Logger) ([]State, error) {
	p, err := newProvider(db, src, logger)
	if err != nil {
		return nil, err
	}

	statuses, err := p.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration status: %w", err)
	}

	out := make([]State, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, State{
			Version:   s.Source.Version,
			Path:      s.Source.Path,
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		})
	}
	return out, nil
}
