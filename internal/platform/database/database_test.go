package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/phrazzld/reportgen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b, err := Open(ctx, config.DatabaseConfig{
		Driver:       DriverSQLite,
		URL:          filepath.Join(t.TempDir(), "reports.db"),
		MaxOpenConns: 4,
	}, logger.Discard())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Migrate(ctx, logger.Discard()))
	states, err := b.Status(ctx, logger.Discard())
	require.NoError(t, err)
	require.NotEmpty(t, states)
	for _, s := range states {
		assert.True(t, s.Applied, s.Path)
	}

	rep := domain.NewReport(uuid.New(), "p1")
	require.NoError(t, b.Reports.CreateReport(ctx, rep))
	got, err := b.Reports.GetReport(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ProjectID)
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql", URL: "x"}, logger.Discard())
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestBackend_InTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b, err := Open(ctx, config.DatabaseConfig{
		Driver:       DriverSQLite,
		URL:          filepath.Join(t.TempDir(), "reports.db"),
		MaxOpenConns: 4,
	}, logger.Discard())
	require.NoError(t, err)
	defer func() { _ = b.Close() }()
	require.NoError(t, b.Migrate(ctx, logger.Discard()))

	kept := domain.NewReport(uuid.New(), "p1")
	err = b.InTx(ctx, func(ctx context.Context, _ store.JobStore, reports store.ReportStore) error {
		return reports.CreateReport(ctx, kept)
	})
	require.NoError(t, err)
	_, err = b.Reports.GetReport(ctx, kept.ID)
	require.NoError(t, err)

	dropped := domain.NewReport(uuid.New(), "p1")
	boom := errors.New("boom")
	err = b.InTx(ctx, func(ctx context.Context, _ store.JobStore, reports store.ReportStore) error {
		if err := reports.CreateReport(ctx, dropped); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = b.Reports.GetReport(ctx, dropped.ID)
	assert.ErrorIs(t, err, store.ErrReportNotFound)
}
