package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/store"
)

// ReportStore implements store.ReportStore on SQLite.
type ReportStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewReportStore creates a report store over a connection or transaction.
func NewReportStore(db store.DBTX, logger *slog.Logger) *ReportStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportStore{
		db:     db,
		logger: logger.With(slog.String("component", "report_store")),
	}
}

var _ store.ReportStore = (*ReportStore)(nil)

// CreateReport implements store.ReportStore.CreateReport.
func (s *ReportStore) CreateReport(ctx context.Context, report *domain.Report) error {
	sections, err := json.Marshal(report.Sections)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, project_id, generated_content, sections_json, progress_seq, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.ID.String(),
		report.ProjectID,
		report.GeneratedContent,
		string(sections),
		report.ProgressSeq,
		toUnix(report.CreatedAt),
		toUnix(report.UpdatedAt),
	)
	return MapError(err)
}

// GetReport implements store.ReportStore.GetReport.
func (s *ReportStore) GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	var (
		r         domain.Report
		rawID     string
		sections  string
		createdAt int64
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, generated_content, sections_json, progress_seq, created_at, updated_at
		FROM reports WHERE id = ?`, id.String(),
	).Scan(&rawID, &r.ProjectID, &r.GeneratedContent, &sections, &r.ProgressSeq, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrReportNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}

	r.ID = id
	r.Sections, err = domain.ParseSectionTree([]byte(sections))
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", id, err)
	}
	r.CreatedAt = fromUnix(createdAt)
	r.UpdatedAt = fromUnix(updatedAt)
	return &r, nil
}

// SaveProgress implements store.ReportStore.SaveProgress.
func (s *ReportStore) SaveProgress(ctx context.Context, id uuid.UUID, content string, seq int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports
		SET generated_content = ?, progress_seq = ?, updated_at = ?
		WHERE id = ? AND progress_seq < ?`,
		content, seq, toUnix(time.Now()), id.String(), seq,
	)
	if err != nil {
		return false, MapError(err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM reports WHERE id = ?`, id.String()).Scan(&exists)
	if err != nil {
		return false, MapError(err)
	}
	if exists == 0 {
		return false, store.ErrReportNotFound
	}
	return false, nil
}

// SaveResult implements store.ReportStore.SaveResult.
func (s *ReportStore) SaveResult(ctx context.Context, id uuid.UUID, content string, sections domain.SectionTree) error {
	data, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE reports
		SET generated_content = ?, sections_json = ?, progress_seq = progress_seq + 1, updated_at = ?
		WHERE id = ?`,
		content, string(data), toUnix(time.Now()), id.String(),
	)
	if err != nil {
		return MapError(err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrReportNotFound
	}
	return nil
}
