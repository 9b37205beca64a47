// Package database opens the configured store backend and exposes its job
// and report stores together with the matching migration source.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/platform/migrations"
	"github.com/phrazzld/reportgen/internal/platform/postgres"
	"github.com/phrazzld/reportgen/internal/platform/sqlite"
	"github.com/phrazzld/reportgen/internal/store"
)

// Drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Backend is an open database with its stores.
type Backend struct {
	DB         *sql.DB
	Jobs       store.JobStore
	Reports    store.ReportStore
	Migrations migrations.Source

	bind func(db store.DBTX) (store.JobStore, store.ReportStore)
}

var _ store.TxRunner = (*Backend)(nil)

// Open connects to the database named by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*Backend, error) {
	switch cfg.Driver {
	case DriverPostgres:
		db, err := postgres.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return newBackend(db, migrations.Source{Dialect: postgres.Dialect, FS: postgres.Migrations()},
			func(db store.DBTX) (store.JobStore, store.ReportStore) {
				return postgres.NewPostgresJobStore(db, logger), postgres.NewPostgresReportStore(db, logger)
			}), nil
	case DriverSQLite:
		db, err := sqlite.Open(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return newBackend(db, migrations.Source{Dialect: sqlite.Dialect, FS: sqlite.Migrations()},
			func(db store.DBTX) (store.JobStore, store.ReportStore) {
				return sqlite.NewJobStore(db, logger), sqlite.NewReportStore(db, logger)
			}), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func newBackend(db *sql.DB, src migrations.Source, bind func(store.DBTX) (store.JobStore, store.ReportStore)) *Backend {
	jobs, reports := bind(db)
	return &Backend{DB: db, Jobs: jobs, Reports: reports, Migrations: src, bind: bind}
}

// InTx implements store.TxRunner.
func (b *Backend) InTx(ctx context.Context, fn func(ctx context.Context, jobs store.JobStore, reports store.ReportStore) error) error {
	return store.RunInTransaction(ctx, b.DB, func(ctx context.Context, tx *sql.Tx) error {
		jobs, reports := b.bind(tx)
		return fn(ctx, jobs, reports)
	})
}

// Migrate applies pending migrations.
func (b *Backend) Migrate(ctx context.Context, logger *slog.Logger) error {
	return migrations.Up(ctx, b.DB, b.Migrations, logger)
}

// Status lists every migration and whether it is applied.
func (b *Backend) Status(ctx context.Context, logger *slog.Logger) ([]migrations.State, error) {
	return migrations.Status(ctx, b.DB, b.Migrations, logger)
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	return b.DB.Close()
}
