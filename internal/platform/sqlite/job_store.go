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
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/phrazzld/reportgen/internal/store"
)

const jobColumns = `id, job_type, input_data, status, output_data, error_message,
	claimed_by, claimed_at, created_at, updated_at`

// JobStore implements store.JobStore on SQLite.
type JobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewJobStore creates a job store over a connection or transaction.
func NewJobStore(db store.DBTX, logger *slog.Logger) *JobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

var _ store.JobStore = (*JobStore)(nil)

// Enqueue implements store.JobStore.Enqueue.
func (s *JobStore) Enqueue(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, job_type, input_data, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID.String(),
		string(job.Type),
		string(job.Input),
		string(job.Status),
		toUnix(job.CreatedAt),
		toUnix(job.UpdatedAt),
	)
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to enqueue job",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// GetJob implements store.JobStore.GetJob.
func (s *JobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String())
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return job, nil
}

// ClaimNext implements store.JobStore.ClaimNext. The statement runs as one
// write transaction; the re-checked status guards against a job moved by a
// concurrent MarkProcessing.
func (s *JobStore) ClaimNext(ctx context.Context, workerID string) (*domain.Job, error) {
	now := toUnix(time.Now())
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing', claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT 1
		)
		AND status = 'queued'
		RETURNING `+jobColumns,
		workerID, now, now,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to claim job",
			slog.String("worker_id", workerID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	return job, nil
}

// MarkProcessing implements store.JobStore.MarkProcessing.
func (s *JobStore) MarkProcessing(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	now := toUnix(time.Now())
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'processing', claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'queued'`,
		workerID, now, now, jobID.String(),
	)
	if err != nil {
		return false, MapError(err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkCompleted implements store.JobStore.MarkCompleted.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID uuid.UUID, workerID string, output json.RawMessage) error {
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', output_data = ?, error_message = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing' AND claimed_by = ?`,
		string(output), toUnix(time.Now()), jobID.String(), workerID,
	)
	if err != nil {
		return MapError(err)
	}
	return s.finishTerminal(ctx, result, jobID, workerID, domain.JobStatusCompleted)
}

// MarkFailed implements store.JobStore.MarkFailed.
func (s *JobStore) MarkFailed(ctx context.Context, jobID uuid.UUID, workerID, message string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND status = 'processing' AND claimed_by = ?`,
		message, toUnix(time.Now()), jobID.String(), workerID,
	)
	if err != nil {
		return MapError(err)
	}
	return s.finishTerminal(ctx, result, jobID, workerID, domain.JobStatusFailed)
}

// Heartbeat implements store.JobStore.Heartbeat.
func (s *JobStore) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	now := toUnix(time.Now())
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET claimed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing' AND claimed_by = ?`,
		now, now, jobID.String(), workerID,
	)
	if err != nil {
		return false, MapError(err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *JobStore) finishTerminal(
	ctx context.Context,
	result sql.Result,
	jobID uuid.UUID,
	workerID string,
	target domain.JobStatus,
) error {
	n, err := rowsAffected(result)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var (
		current string
		owner   sql.NullString
	)
	err = s.db.QueryRowContext(ctx, `SELECT status, claimed_by FROM jobs WHERE id = ?`, jobID.String()).
		Scan(&current, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrJobNotFound
	}
	if err != nil {
		return MapError(err)
	}
	return store.TerminalConflict(domain.JobStatus(current), owner.String, workerID, target)
}

// ResetStuck implements store.JobStore.ResetStuck.
func (s *JobStore) ResetStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	now := time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'queued', claimed_by = NULL, claimed_at = NULL, updated_at = ?
		WHERE status = 'processing' AND claimed_at < ?`,
		toUnix(now), toUnix(now.Add(-olderThan)),
	)
	if err != nil {
		return 0, MapError(err)
	}
	n, err := rowsAffected(result)
	return int(n), err
}

func scanJob(row *sql.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		id        string
		jobType   string
		input     string
		status    string
		output    sql.NullString
		errMsg    sql.NullString
		claimedBy sql.NullString
		claimedAt sql.NullInt64
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&id, &jobType, &input, &status, &output, &errMsg,
		&claimedBy, &claimedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: job id %q", domain.ErrInvalidID, id)
	}
	job.Type = domain.JobType(jobType)
	job.Input = json.RawMessage(input)
	job.Status = domain.JobStatus(status)
	if output.Valid {
		job.Output = json.RawMessage(output.String)
	}
	job.ErrorMessage = errMsg.String
	job.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		t := fromUnix(claimedAt.Int64)
		job.ClaimedAt = &t
	}
	job.CreatedAt = fromUnix(createdAt)
	job.UpdatedAt = fromUnix(updatedAt)
	return &job, nil
}
