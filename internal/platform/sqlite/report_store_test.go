package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/phrazzld/reportgen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewReportStore(newTestDB(t), logger.Discard())

	r := domain.NewReport(uuid.New(), "project-1")
	require.NoError(t, s.CreateReport(ctx, r))
	assert.ErrorIs(t, s.CreateReport(ctx, r), store.ErrDuplicate)

	got, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "project-1", got.ProjectID)
	assert.Empty(t, got.Sections.Sections)
	assert.Zero(t, got.ProgressSeq)

	_, err = s.GetReport(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrReportNotFound)
}

func TestReportStore_SaveProgressIgnoresStaleWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewReportStore(newTestDB(t), logger.Discard())

	r := domain.NewReport(uuid.New(), "project-1")
	require.NoError(t, s.CreateReport(ctx, r))

	applied, err := s.SaveProgress(ctx, r.ID, "two batches", 2)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.SaveProgress(ctx, r.ID, "one batch", 1)
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = s.SaveProgress(ctx, r.ID, "same seq", 2)
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "two batches", got.GeneratedContent)
	assert.Equal(t, int64(2), got.ProgressSeq)

	_, err = s.SaveProgress(ctx, uuid.New(), "x", 1)
	assert.ErrorIs(t, err, store.ErrReportNotFound)
}

func TestReportStore_ConcurrentProgressIsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewReportStore(newTestDB(t), logger.Discard())

	r := domain.NewReport(uuid.New(), "project-1")
	require.NoError(t, s.CreateReport(ctx, r))

	var wg sync.WaitGroup
	for seq := int64(1); seq <= 20; seq++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			_, err := s.SaveProgress(ctx, r.ID, fmt.Sprintf("content %d", seq), seq)
			assert.NoError(t, err)
		}(seq)
	}
	wg.Wait()

	got, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.ProgressSeq)
	assert.Equal(t, "content 20", got.GeneratedContent)
}

func TestReportStore_SaveResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewReportStore(newTestDB(t), logger.Discard())

	r := domain.NewReport(uuid.New(), "project-1")
	require.NoError(t, s.CreateReport(ctx, r))
	_, err := s.SaveProgress(ctx, r.ID, "partial", 4)
	require.NoError(t, err)

	tree := domain.NewSectionTree(domain.NewSection("Summary", "All good."))
	require.NoError(t, s.SaveResult(ctx, r.ID, "final", tree))

	got, err := s.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "final", got.GeneratedContent)
	assert.Equal(t, tree, got.Sections)
	assert.Equal(t, int64(5), got.ProgressSeq)

	applied, err := s.SaveProgress(ctx, r.ID, "late batch", 5)
	require.NoError(t, err)
	assert.False(t, applied, "progress after the result is ignored")

	assert.ErrorIs(t, s.SaveResult(ctx, uuid.New(), "x", tree), store.ErrReportNotFound)
}
