package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/events"
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/phrazzld/reportgen/internal/redact"
	"github.com/phrazzld/reportgen/internal/store"
)

// terminalWriteTimeout bounds MarkCompleted/MarkFailed, which run detached
// from the runner context so a shutdown does not strand a finished job.
const terminalWriteTimeout = 15 * time.Second

// RunnerConfig holds configuration for the job runner
type RunnerConfig struct {
	// WorkerID prefixes the claimed_by value of every worker goroutine.
	WorkerID string

	// WorkerCount determines how many jobs are processed concurrently
	WorkerCount int

	// QueueSize is the buffer size of the wake-up queue
	QueueSize int

	// PollInterval is how long an idle worker waits before polling again
	PollInterval time.Duration

	// StuckJobAge defines how long a job can be processing before it is
	// considered abandoned and reset to queued
	StuckJobAge time.Duration

	// StuckCheckInterval defines how often to check for stuck jobs
	StuckCheckInterval time.Duration

	// HeartbeatInterval is how often a running job's claim is refreshed.
	// Must stay well below StuckJobAge; defaults to a third of it.
	HeartbeatInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		WorkerCount:        2,
		QueueSize:          100,
		PollInterval:       5 * time.Second,
		StuckJobAge:        30 * time.Minute,
		StuckCheckInterval: 5 * time.Minute,
	}
}

// RunnerConfigFrom maps the worker section of the application config.
func RunnerConfigFrom(cfg config.WorkerConfig) RunnerConfig {
	rc := DefaultRunnerConfig()
	rc.WorkerID = cfg.ID
	if cfg.Count > 0 {
		rc.WorkerCount = cfg.Count
	}
	if cfg.PollInterval > 0 {
		rc.PollInterval = cfg.PollInterval
	}
	if cfg.StuckJobAge > 0 {
		rc.StuckJobAge = cfg.StuckJobAge
	}
	if cfg.StuckCheckInterval > 0 {
		rc.StuckCheckInterval = cfg.StuckCheckInterval
	}
	if cfg.HeartbeatInterval > 0 {
		rc.HeartbeatInterval = cfg.HeartbeatInterval
	}
	return rc
}

// Runner claims generate_report jobs from the shared job table and runs them
// on a fixed number of worker goroutines.
type Runner struct {
	jobs       store.JobStore
	generator  ReportGenerator
	emitter    events.EventEmitter
	wake       *WakeQueue
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	config     RunnerConfig
	logger     *slog.Logger
}

// NewRunner creates a new Runner. emitter may be nil.
func NewRunner(
	jobs store.JobStore,
	generator ReportGenerator,
	emitter events.EventEmitter,
	cfg RunnerConfig,
	logger *slog.Logger,
) (*Runner, error) {
	if jobs == nil {
		return nil, ErrNilJobStore
	}
	if generator == nil {
		return nil, ErrNilGenerator
	}
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultRunnerConfig()
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = def.WorkerCount
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.StuckJobAge <= 0 {
		cfg.StuckJobAge = def.StuckJobAge
	}
	if cfg.StuckCheckInterval <= 0 {
		cfg.StuckCheckInterval = def.StuckCheckInterval
	}
	if cfg.HeartbeatInterval <= 0 || cfg.HeartbeatInterval >= cfg.StuckJobAge {
		cfg.HeartbeatInterval = cfg.StuckJobAge / 3
	}
	if cfg.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "worker"
		}
		cfg.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	logger = logger.With(slog.String("component", "job_runner"))
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		jobs:       jobs,
		generator:  generator,
		emitter:    emitter,
		wake:       NewWakeQueue(cfg.QueueSize, logger),
		ctx:        ctx,
		cancelFunc: cancel,
		config:     cfg,
		logger:     logger,
	}, nil
}

// WorkerID is the claimed_by prefix of this runner's workers.
func (r *Runner) WorkerID() string {
	return r.config.WorkerID
}

// Notify records a wake-up for jobID. A full queue only delays the job
// until the next poll.
func (r *Runner) Notify(jobID uuid.UUID) {
	if err := r.wake.Enqueue(jobID); err != nil {
		r.logger.Debug("wake-up dropped",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()))
	}
}

// Start recovers abandoned jobs and starts the workers and the stuck-job
// monitor.
func (r *Runner) Start() error {
	if err := r.Recover(r.ctx); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(fmt.Sprintf("%s/%d", r.config.WorkerID, i))
	}

	r.wg.Add(1)
	go r.stuckJobMonitor()

	r.logger.Info("job runner started",
		slog.String("worker_id", r.config.WorkerID),
		slog.Int("workers", r.config.WorkerCount))
	return nil
}

// Stop cancels in-flight work and waits for every goroutine to exit.
func (r *Runner) Stop() {
	r.cancelFunc()
	r.wg.Wait()
	r.wake.Close()
	r.logger.Info("job runner stopped")
}

// Recover resets jobs left processing longer than StuckJobAge, typically by
// a worker that crashed.
func (r *Runner) Recover(ctx context.Context) error {
	n, err := r.jobs.ResetStuck(ctx, r.config.StuckJobAge)
	if err != nil {
		return err
	}
	if n > 0 {
		r.logger.Info("reset stuck jobs", slog.Int("count", n))
	}
	return nil
}

func (r *Runner) worker(workerID string) {
	defer r.wg.Done()

	log := r.logger.With(slog.String("worker_id", workerID))
	log.Debug("starting worker")

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	for {
		r.drain(workerID)

		select {
		case <-r.ctx.Done():
			log.Debug("stopping worker")
			return
		case jobID, ok := <-r.wake.C():
			if !ok {
				return
			}
			if err := r.RunJob(r.ctx, workerID, jobID); err != nil && !errors.Is(err, ErrClaimLost) {
				log.Error("wake-up claim failed",
					slog.String("job_id", jobID.String()),
					slog.String("error", err.Error()))
			}
		case <-ticker.C:
		}
	}
}

// drain claims and runs queued jobs until the queue is empty.
func (r *Runner) drain(workerID string) {
	for r.ctx.Err() == nil {
		job, err := r.jobs.ClaimNext(r.ctx, workerID)
		if err != nil {
			if r.ctx.Err() == nil {
				r.logger.Error("failed to claim next job",
					slog.String("worker_id", workerID),
					slog.String("error", err.Error()))
			}
			return
		}
		if job == nil {
			return
		}
		r.process(r.ctx, job, workerID)
	}
}

// RunJob claims a specific queued job and runs it. It returns ErrClaimLost
// when the job is no longer queued, for example because another worker
// reached it first.
func (r *Runner) RunJob(ctx context.Context, workerID string, jobID uuid.UUID) error {
	ok, err := r.jobs.MarkProcessing(ctx, jobID, workerID)
	if err != nil {
		return store.NewStoreError("job", "claim", jobID.String(), err)
	}
	if !ok {
		r.logger.Debug("job already claimed", slog.String("job_id", jobID.String()))
		return ErrClaimLost
	}
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return store.NewStoreError("job", "load", jobID.String(), err)
	}
	r.process(ctx, job, workerID)
	return nil
}

// process runs a claimed job and records its terminal state. The claim is
// refreshed while the job runs; losing it cancels the job and skips the
// terminal write.
func (r *Runner) process(ctx context.Context, job *domain.Job, workerID string) {
	log := r.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("worker_id", workerID),
	)
	log.Info("processing job")
	start := time.Now()

	jobCtx, cancelJob := context.WithCancelCause(ctx)
	defer cancelJob(nil)
	stopHeartbeat := r.heartbeat(jobCtx, cancelJob, log, job.ID, workerID)

	out, err := r.execute(logger.WithLogger(jobCtx, log), job)
	stopHeartbeat()

	if errors.Is(context.Cause(jobCtx), ErrClaimLost) {
		log.Warn("job abandoned after claim lost", slog.Duration("duration", time.Since(start)))
		return
	}
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// Interrupted by shutdown: leave the job processing so the stuck-job
		// monitor hands it to another worker.
		log.Warn("job interrupted by shutdown", slog.Duration("duration", time.Since(start)))
		return
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()

	if err != nil {
		msg := redact.Error(err)
		log.Error("job failed", slog.String("error", msg), slog.Duration("duration", time.Since(start)))
		if markErr := r.jobs.MarkFailed(wctx, job.ID, workerID, msg); markErr != nil {
			r.logTerminalError(log, "failed to mark job failed", markErr)
			return
		}
		r.emit(wctx, log, events.JobFailed, job.ID, msg)
		return
	}

	data, err := json.Marshal(out)
	if err != nil {
		log.Error("failed to encode job output", slog.String("error", err.Error()))
		_ = r.jobs.MarkFailed(wctx, job.ID, workerID, "failed to encode job output")
		return
	}
	if err := r.jobs.MarkCompleted(wctx, job.ID, workerID, data); err != nil {
		r.logTerminalError(log, "failed to mark job completed", err)
		return
	}
	log.Info("job completed", slog.Duration("duration", time.Since(start)))
	r.emit(wctx, log, events.JobCompleted, job.ID, "")
}

// heartbeat refreshes the claim on job every HeartbeatInterval until the
// returned stop function is called. A lost claim cancels ctx with
// ErrClaimLost.
func (r *Runner) heartbeat(
	ctx context.Context,
	cancel context.CancelCauseFunc,
	log *slog.Logger,
	jobID uuid.UUID,
	workerID string,
) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := r.jobs.Heartbeat(ctx, jobID, workerID)
				if err != nil {
					if ctx.Err() == nil {
						log.Warn("job heartbeat failed", slog.String("error", err.Error()))
					}
					continue
				}
				if !ok {
					log.Warn("job claim lost")
					cancel(ErrClaimLost)
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (r *Runner) logTerminalError(log *slog.Logger, msg string, err error) {
	if errors.Is(err, ErrClaimLost) {
		log.Warn(msg, slog.String("error", err.Error()))
		return
	}
	log.Error(msg, slog.String("error", err.Error()))
}

// execute dispatches on job type and turns panics into job failures.
func (r *Runner) execute(ctx context.Context, job *domain.Job) (out *domain.JobOutput, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	if job.Type != domain.JobTypeGenerateReport {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidJobType, job.Type)
	}
	return r.generator.Generate(ctx, job)
}

func (r *Runner) emit(ctx context.Context, log *slog.Logger, eventType string, jobID uuid.UUID, msg string) {
	if r.emitter == nil {
		return
	}
	event, err := events.NewJobEvent(eventType, jobID)
	if err != nil {
		return
	}
	event.Message = msg
	if err := r.emitter.EmitEvent(ctx, event); err != nil {
		log.Warn("failed to emit job event",
			slog.String("event_type", eventType),
			slog.String("error", err.Error()))
	}
}

// stuckJobMonitor periodically resets jobs that have been processing for
// too long.
func (r *Runner) stuckJobMonitor() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.StuckCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.Recover(r.ctx); err != nil && r.ctx.Err() == nil {
				r.logger.Error("failed to reset stuck jobs", slog.String("error", err.Error()))
			}
		}
	}
}
