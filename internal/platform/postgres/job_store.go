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

const jobColumns = `id, job_type, input_data, status, output_data, error_message,
	claimed_by, claimed_at, created_at, updated_at`

// PostgresJobStore implements store.JobStore on PostgreSQL.
type PostgresJobStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresJobStore creates a job store over a connection or transaction.
// If logger is nil, a default logger will be used.
func NewPostgresJobStore(db store.DBTX, logger *slog.Logger) *PostgresJobStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresJobStore{
		db:     db,
		logger: logger.With(slog.String("component", "job_store")),
	}
}

var _ store.JobStore = (*PostgresJobStore)(nil)

// Enqueue implements store.JobStore.Enqueue.
func (s *PostgresJobStore) Enqueue(ctx context.Context, job *domain.Job) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO jobs (id, job_type, input_data, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Type,
		string(job.Input),
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		log.Error("failed to enqueue job",
			slog.String("job_id", job.ID.String()),
			slog.String("error", err.Error()))
		return MapError(err)
	}

	log.Debug("job enqueued", slog.String("job_id", job.ID.String()))
	return nil
}

// GetJob implements store.JobStore.GetJob.
func (s *PostgresJobStore) GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, MapError(err)
	}
	return job, nil
}

// ClaimNext implements store.JobStore.ClaimNext. The inner select skips rows
// locked by a concurrent claimer and the outer update re-checks the status,
// so a job is claimed by at most one worker.
func (s *PostgresJobStore) ClaimNext(ctx context.Context, workerID string) (*domain.Job, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE jobs
		SET status = 'processing', claimed_by = $1, claimed_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'queued'
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query, workerID, time.Now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Error("failed to claim job",
			slog.String("worker_id", workerID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	log.Debug("job claimed",
		slog.String("job_id", job.ID.String()),
		slog.String("worker_id", workerID))
	return job, nil
}

// MarkProcessing implements store.JobStore.MarkProcessing.
func (s *PostgresJobStore) MarkProcessing(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'processing', claimed_by = $2, claimed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'queued'
	`
	result, err := s.db.ExecContext(ctx, query, jobID, workerID, time.Now().UTC())
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
func (s *PostgresJobStore) MarkCompleted(
	ctx context.Context,
	jobID uuid.UUID,
	workerID string,
	output json.RawMessage,
) error {
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	query := `
		UPDATE jobs
		SET status = 'completed', output_data = $2, error_message = NULL, updated_at = $3
		WHERE id = $1 AND status = 'processing' AND claimed_by = $4
	`
	result, err := s.db.ExecContext(ctx, query, jobID, string(output), time.Now().UTC(), workerID)
	if err != nil {
		return MapError(err)
	}
	return s.finishTerminal(ctx, result, jobID, workerID, domain.JobStatusCompleted)
}

// MarkFailed implements store.JobStore.MarkFailed.
func (s *PostgresJobStore) MarkFailed(ctx context.Context, jobID uuid.UUID, workerID, message string) error {
	query := `
		UPDATE jobs
		SET status = 'failed', error_message = $2, updated_at = $3
		WHERE id = $1 AND status = 'processing' AND claimed_by = $4
	`
	result, err := s.db.ExecContext(ctx, query, jobID, message, time.Now().UTC(), workerID)
	if err != nil {
		return MapError(err)
	}
	return s.finishTerminal(ctx, result, jobID, workerID, domain.JobStatusFailed)
}

// Heartbeat implements store.JobStore.Heartbeat.
func (s *PostgresJobStore) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error) {
	query := `
		UPDATE jobs
		SET claimed_at = $3, updated_at = $3
		WHERE id = $1 AND status = 'processing' AND claimed_by = $2
	`
	result, err := s.db.ExecContext(ctx, query, jobID, workerID, time.Now().UTC())
	if err != nil {
		return false, MapError(err)
	}
	n, err := rowsAffected(result)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresJobStore) finishTerminal(
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
		current domain.JobStatus
		owner   sql.NullString
	)
	err = s.db.QueryRowContext(ctx, `SELECT status, claimed_by FROM jobs WHERE id = $1`, jobID).
		Scan(&current, &owner)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrJobNotFound
	}
	if err != nil {
		return MapError(err)
	}
	if err := store.TerminalConflict(current, owner.String, workerID, target); err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Warn("rejected job transition",
			slog.String("job_id", jobID.String()),
			slog.String("worker_id", workerID),
			slog.String("owner", owner.String),
			slog.String("current", string(current)),
			slog.String("target", string(target)))
		return err
	}
	return nil
}

// ResetStuck implements store.JobStore.ResetStuck.
func (s *PostgresJobStore) ResetStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		UPDATE jobs
		SET status = 'queued', claimed_by = NULL, claimed_at = NULL, updated_at = $2
		WHERE status = 'processing' AND claimed_at < $1
	`
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query, now.Add(-olderThan), now)
	if err != nil {
		return 0, MapError(err)
	}
	n, err := rowsAffected(result)
	return int(n), err
}

func scanJob(row *sql.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		input     []byte
		output    []byte
		errMsg    sql.NullString
		claimedBy sql.NullString
		claimedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&job.Type,
		&input,
		&job.Status,
		&output,
		&errMsg,
		&claimedBy,
		&claimedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Input = json.RawMessage(input)
	if len(output) > 0 {
		job.Output = json.RawMessage(output)
	}
	job.ErrorMessage = errMsg.String
	job.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		t := claimedAt.Time.UTC()
		job.ClaimedAt = &t
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()
	return &job, nil
}
