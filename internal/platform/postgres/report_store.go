package postgres

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
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/phrazzld/reportgen/internal/store"
)

// PostgresReportStore implements store.ReportStore on PostgreSQL.
type PostgresReportStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresReportStore creates a report store over a connection or transaction.
func NewPostgresReportStore(db store.DBTX, logger *slog.Logger) *PostgresReportStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresReportStore{
		db:     db,
		logger: logger.With(slog.String("component", "report_store")),
	}
}

var _ store.ReportStore = (*PostgresReportStore)(nil)

// CreateReport implements store.ReportStore.CreateReport.
func (s *PostgresReportStore) CreateReport(ctx context.Context, report *domain.Report) error {
	sections, err := json.Marshal(report.Sections)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO reports (id, project_id, generated_content, sections_json, progress_seq, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		report.ID,
		report.ProjectID,
		report.GeneratedContent,
		string(sections),
		report.ProgressSeq,
		report.CreatedAt,
		report.UpdatedAt,
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to create report",
			slog.String("report_id", report.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// GetReport implements store.ReportStore.GetReport.
func (s *PostgresReportStore) GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error) {
	query := `
		SELECT id, project_id, generated_content, sections_json, progress_seq, created_at, updated_at
		FROM reports WHERE id = $1
	`
	var (
		r        domain.Report
		sections []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID,
		&r.ProjectID,
		&r.GeneratedContent,
		&sections,
		&r.ProgressSeq,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrReportNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}

	r.Sections, err = domain.ParseSectionTree(sections)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", id, err)
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// SaveProgress implements store.ReportStore.SaveProgress.
func (s *PostgresReportStore) SaveProgress(ctx context.Context, id uuid.UUID, content string, seq int64) (bool, error) {
	query := `
		UPDATE reports
		SET generated_content = $2, progress_seq = $3, updated_at = $4
		WHERE id = $1 AND progress_seq < $3
	`
	result, err := s.db.ExecContext(ctx, query, id, content, seq, time.Now().UTC())
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

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM reports WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, MapError(err)
	}
	if !exists {
		return false, store.ErrReportNotFound
	}

	logger.FromContextOrDefault(ctx, s.logger).Debug("ignored stale progress write",
		slog.String("report_id", id.String()),
		slog.Int64("seq", seq))
	return false, nil
}

// SaveResult implements store.ReportStore.SaveResult.
func (s *PostgresReportStore) SaveResult(
	ctx context.Context,
	id uuid.UUID,
	content string,
	sections domain.SectionTree,
) error {
	data, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		UPDATE reports
		SET generated_content = $2, sections_json = $3, progress_seq = progress_seq + 1, updated_at = $4
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, content, string(data), time.Now().UTC())
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
