package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/events"
	"github.com/phrazzld/reportgen/internal/generation"
	"github.com/phrazzld/reportgen/internal/store"
)

// ErrInvalidSubmission is returned when a report request fails validation.
var ErrInvalidSubmission = errors.New("invalid report request")

// Submitter is the producer side of the job table: it validates a report
// request, makes sure the target report exists and enqueues the job.
type Submitter struct {
	jobs     store.JobStore
	reports  store.ReportStore
	emitter  events.EventEmitter
	tx       store.TxRunner
	validate *validator.Validate
	logger   *slog.Logger
}

// NewSubmitter creates a Submitter. emitter may be nil.
func NewSubmitter(jobs store.JobStore, reports store.ReportStore, emitter events.EventEmitter, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		jobs:     jobs,
		reports:  reports,
		emitter:  emitter,
		validate: validator.New(),
		logger:   logger.With(slog.String("component", "job_submitter")),
	}
}

// WithTx makes the report insert and the job insert commit together.
func (s *Submitter) WithTx(tx store.TxRunner) *Submitter {
	s.tx = tx
	return s
}

// Submit enqueues a generate_report job for in. The report row is created
// when missing. A failed wake-up notification is logged only: pollers still
// find the job.
func (s *Submitter) Submit(ctx context.Context, in domain.ReportInput) (*domain.Job, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}
	if _, _, err := generation.ParseModel(in.Model); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}

	job, err := domain.NewJob(domain.JobTypeGenerateReport, in)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, in, job); err != nil {
		return nil, err
	}

	log := s.logger.With(slog.String("job_id", job.ID.String()), slog.String("report_id", in.ReportID.String()))
	log.InfoContext(ctx, "job enqueued", slog.Int("images", len(in.Images)))

	if s.emitter != nil {
		event, err := events.NewJobEvent(events.JobEnqueued, job.ID)
		if err == nil {
			err = s.emitter.EmitEvent(ctx, event)
		}
		if err != nil {
			log.WarnContext(ctx, "failed to emit job_enqueued", slog.String("error", err.Error()))
		}
	}
	return job, nil
}

func (s *Submitter) persist(ctx context.Context, in domain.ReportInput, job *domain.Job) error {
	run := func() error {
		if s.tx == nil {
			return enqueue(ctx, s.jobs, s.reports, in, job)
		}
		return s.tx.InTx(ctx, func(ctx context.Context, jobs store.JobStore, reports store.ReportStore) error {
			return enqueue(ctx, jobs, reports, in, job)
		})
	}
	err := run()
	if errors.Is(err, store.ErrDuplicate) {
		// a concurrent submission created the report; it is visible now
		err = run()
	}
	return err
}

func enqueue(ctx context.Context, jobs store.JobStore, reports store.ReportStore, in domain.ReportInput, job *domain.Job) error {
	if _, err := reports.GetReport(ctx, in.ReportID); err != nil {
		if !errors.Is(err, store.ErrReportNotFound) {
			return fmt.Errorf("load report: %w", err)
		}
		err := reports.CreateReport(ctx, domain.NewReport(in.ReportID, in.ProjectID))
		if err != nil {
			return fmt.Errorf("create report: %w", err)
		}
	}
	if err := jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}
