package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/domain"
)

// JobStore is the job queue client: it claims queued jobs for exactly one
// worker and records their terminal state.
type JobStore interface {
	// Enqueue persists a new queued job.
	Enqueue(ctx context.Context, job *domain.Job) error

	// GetJob retrieves a job by id.
	// Returns ErrJobNotFound if the job does not exist.
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// ClaimNext atomically moves the oldest queued job to processing on
	// behalf of workerID and returns it. Returns nil, nil when the queue is
	// empty. Two concurrent callers never receive the same job.
	ClaimNext(ctx context.Context, workerID string) (*domain.Job, error)

	// MarkProcessing claims a specific job if it is still queued. It returns
	// false, without error, when another worker already owns the job.
	MarkProcessing(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error)

	// MarkCompleted stores the output of a job processing under workerID and
	// completes it. Repeating the call on a completed job is a no-op. Returns
	// ErrClaimLost when workerID no longer owns the job and
	// ErrInvalidTransition for any other state.
	MarkCompleted(ctx context.Context, jobID uuid.UUID, workerID string, output json.RawMessage) error

	// MarkFailed records the failure message of a job processing under
	// workerID. Errors follow MarkCompleted.
	MarkFailed(ctx context.Context, jobID uuid.UUID, workerID, message string) error

	// Heartbeat refreshes the claim time of a job processing under workerID
	// so ResetStuck leaves it alone. It returns false, without error, when
	// the claim has been lost.
	Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) (bool, error)

	// ResetStuck moves processing jobs claimed before now-olderThan back to
	// queued and returns how many were reset.
	ResetStuck(ctx context.Context, olderThan time.Duration) (int, error)
}

// ReportStore persists report documents and their live progress log.
type ReportStore interface {
	// CreateReport inserts a report. Returns ErrDuplicate if it already exists.
	CreateReport(ctx context.Context, report *domain.Report) error

	// GetReport retrieves a report by id.
	// Returns ErrReportNotFound if the report does not exist.
	GetReport(ctx context.Context, id uuid.UUID) (*domain.Report, error)

	// SaveProgress overwrites generated_content when seq is greater than the
	// stored progress sequence; stale writes are ignored. It reports whether
	// the write was applied.
	SaveProgress(ctx context.Context, id uuid.UUID, content string, seq int64) (bool, error)

	// SaveResult writes the final content and section tree and advances the
	// progress sequence past every previous write.
	SaveResult(ctx context.Context, id uuid.UUID, content string, sections domain.SectionTree) error
}

// TerminalConflict interprets a terminal transition by workerID that matched
// no processing row. A job that is not terminal, or that another worker
// finished, is ErrClaimLost. Repeating the same terminal state is a no-op;
// anything else is ErrInvalidTransition.
func TerminalConflict(current domain.JobStatus, owner, workerID string, target domain.JobStatus) error {
	if !current.IsTerminal() || owner != workerID {
		return fmt.Errorf("%w: job is %s", ErrClaimLost, current)
	}
	if current == target {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
}
