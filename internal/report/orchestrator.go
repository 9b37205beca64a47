// Package report drives one generate_report job from validated input to a
// persisted, summarized section tree.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/reportgen/internal/assembly"
	"github.com/phrazzld/reportgen/internal/batch"
	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/generation"
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/phrazzld/reportgen/internal/prompt"
	"github.com/phrazzld/reportgen/internal/redact"
	"github.com/phrazzld/reportgen/internal/store"
)

// SummaryTitle is the title of the section prepended by the summary pass.
const SummaryTitle = "Summary"

// DefaultSummaryTimeout applies when the batch config leaves it unset.
const DefaultSummaryTimeout = 6 * time.Minute

// finalWriteTimeout bounds the terminal report write, which runs detached
// from the job context so a cancelled job still clears its sentinel.
const finalWriteTimeout = 30 * time.Second

// Orchestrator runs report generation jobs.
type Orchestrator struct {
	reports   store.ReportStore
	registry  *generation.Registry
	prompts   *prompt.Library
	assembler *assembly.Assembler
	gate      batch.Gate
	cfg       config.BatchConfig
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewOrchestrator creates an orchestrator. gate may be nil to disable
// knowledge lookups.
func NewOrchestrator(
	reports store.ReportStore,
	registry *generation.Registry,
	prompts *prompt.Library,
	assembler *assembly.Assembler,
	gate batch.Gate,
	cfg config.BatchConfig,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if reports == nil {
		return nil, errors.New("report store cannot be nil")
	}
	if registry == nil {
		return nil, errors.New("generator registry cannot be nil")
	}
	if prompts == nil {
		return nil, errors.New("prompt library cannot be nil")
	}
	if assembler == nil {
		return nil, errors.New("assembler cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Size < 1 {
		cfg.Size = 5
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = batch.DefaultTimeout
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = DefaultSummaryTimeout
	}
	return &Orchestrator{
		reports:   reports,
		registry:  registry,
		prompts:   prompts,
		assembler: assembler,
		gate:      gate,
		cfg:       cfg,
		validate:  validator.New(),
		logger:    logger.With(slog.String("component", "report_orchestrator")),
	}, nil
}

// ResolveConfig derives the immutable execution config of a run from the job
// input and the configured defaults.
func (o *Orchestrator) ResolveConfig(in *domain.ReportInput) (domain.ExecutionConfig, error) {
	provider, model, err := generation.ParseModel(in.Model)
	if err != nil {
		return domain.ExecutionConfig{}, err
	}

	ec := domain.ExecutionConfig{
		Style:           in.ReportStyle,
		Provider:        provider,
		Model:           model,
		Strategy:        in.ExecutionStrategy,
		Grouping:        domain.Ungrouped,
		BatchSize:       in.BatchSize,
		Concurrency:     in.Concurrency,
		ReasoningEffort: in.ReasoningEffort,
		GroupOrder:      in.GroupOrder,
	}
	if ec.Strategy == "" {
		ec.Strategy = domain.StrategyParallel
	}
	if in.HasGroups() {
		ec.Grouping = domain.Grouped
	}
	if ec.BatchSize < 1 {
		ec.BatchSize = o.cfg.Size
	}
	if ec.Concurrency < 1 {
		ec.Concurrency = o.cfg.Concurrency
	}
	if ec.Strategy == domain.StrategySequential {
		ec.Concurrency = 1
	}
	return ec, nil
}

func (o *Orchestrator) decode(job *domain.Job) (*domain.ReportInput, error) {
	in, err := job.DecodeInput()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := o.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return in, nil
}

// Generate runs a job end to end. Errors returned are job-fatal; the report
// has already been finalized (sentinel removed, partial content annotated)
// whenever it was touched.
func (o *Orchestrator) Generate(ctx context.Context, job *domain.Job) (*domain.JobOutput, error) {
	in, err := o.decode(job)
	if err != nil {
		return nil, err
	}
	log := logger.FromContextOrDefault(ctx, o.logger).With(
		slog.String("job_id", job.ID.String()),
		slog.String("report_id", in.ReportID.String()),
	)

	rep, err := o.reports.GetReport(ctx, in.ReportID)
	if err != nil {
		return nil, fmt.Errorf("load report: %w", err)
	}

	ec, err := o.ResolveConfig(in)
	if err != nil {
		return nil, err
	}
	gen, ok := o.registry.Get(ec.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: provider %q is not configured", generation.ErrUnsupportedModel, ec.Provider)
	}
	style, err := o.prompts.Style(ec.Style)
	if err != nil {
		return nil, err
	}

	seq := rep.ProgressSeq + 1
	if _, err := o.reports.SaveProgress(ctx, rep.ID, domain.WithSentinel(""), seq); err != nil {
		return nil, fmt.Errorf("seed report progress: %w", err)
	}

	acc := batch.NewAccumulator(seq, func(ctx context.Context, content string, seq int64) error {
		applied, err := o.reports.SaveProgress(ctx, rep.ID, domain.WithSentinel(content), seq)
		if err == nil && !applied {
			log.DebugContext(ctx, "stale progress write ignored", slog.Int64("seq", seq))
		}
		return err
	})

	batches := batch.Partition(in.Images, ec.BatchSize, ec.Grouping, ec.GroupOrder)
	log.InfoContext(ctx, "starting report generation",
		slog.String("provider", string(ec.Provider)),
		slog.String("model", ec.Model),
		slog.String("strategy", string(ec.Strategy)),
		slog.Int("images", len(in.Images)),
		slog.Int("batches", len(batches)),
		slog.Int("concurrency", ec.Concurrency))

	engine := batch.NewEngine(gen, style, o.gate, log)
	res, runErr := engine.Run(ctx, batches, batch.Options{
		Concurrency:     ec.Concurrency,
		Timeout:         o.cfg.Timeout,
		Model:           ec.Model,
		ReasoningEffort: ec.ReasoningEffort,
		BulletPoints:    in.BulletPoints,
		Render:          o.assembler.RenderOutcome,
	}, acc)

	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	asm := o.assembler.Assemble(res.Outcomes, ec.Grouping, ec.GroupOrder)
	if runErr != nil {
		return nil, o.fail(ctx, log, rep, res.Content, asm.Tree, fmt.Errorf("%w: %w", ErrCancelled, runErr))
	}
	if len(res.Outcomes) > 0 && res.Failed == len(res.Outcomes) {
		return nil, o.fail(ctx, log, rep, res.Content, asm.Tree,
			fmt.Errorf("%w: %d of %d", ErrAllBatchesFailed, res.Failed, len(res.Outcomes)))
	}

	summary, usage, err := o.summarize(ctx, gen, style, ec, in.BulletPoints, asm.Tree)
	if err != nil {
		return nil, o.fail(ctx, log, rep, res.Content, asm.Tree, err)
	}

	final := domain.NewSectionTree(append(
		[]domain.Section{domain.NewSection(SummaryTitle, summary)},
		asm.Tree.Sections...,
	)...)
	content := assembly.Render(final.Sections)

	if err := o.saveResult(ctx, rep, content, final); err != nil {
		return nil, err
	}

	out := &domain.JobOutput{
		ReportID:      rep.ID,
		BatchCount:    len(batches),
		FailedBatches: res.Failed,
		SectionCount:  final.Len(),
		Usage:         res.Usage.Add(usage),
	}
	log.InfoContext(ctx, "report generation completed",
		slog.Int("failed_batches", out.FailedBatches),
		slog.Int("sections", out.SectionCount),
		slog.Int("parse_failures", asm.ParseFailures),
		slog.Int("total_tokens", out.Usage.TotalTokens))
	return out, nil
}

func (o *Orchestrator) summarize(
	ctx context.Context,
	gen generation.Generator,
	style *prompt.Style,
	ec domain.ExecutionConfig,
	bullets []string,
	tree domain.SectionTree,
) (string, domain.Usage, error) {
	text, err := style.RenderSummary(prompt.SummaryData{
		BulletPoints: bullets,
		Content:      assembly.Render(tree.Sections),
	})
	if err != nil {
		return "", domain.Usage{}, fmt.Errorf("%w: %v", ErrSummaryFailed, err)
	}

	sctx, cancel := context.WithTimeout(ctx, o.cfg.SummaryTimeout)
	defer cancel()

	resp, err := gen.Generate(sctx, generation.Request{
		SystemPrompt:    style.System,
		Prompt:          text,
		Model:           ec.Model,
		Temperature:     style.Temperature,
		MaxTokens:       style.SummaryMaxTokens,
		ReasoningEffort: ec.ReasoningEffort,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", domain.Usage{}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		if errors.Is(sctx.Err(), context.DeadlineExceeded) ||
			generation.KindOf(err) == generation.KindTimeout {
			return "", domain.Usage{}, fmt.Errorf("%w after %s: %v", ErrSummaryTimeout, o.cfg.SummaryTimeout, err)
		}
		return "", domain.Usage{}, fmt.Errorf("%w: %v", ErrSummaryFailed, err)
	}
	return strings.TrimSpace(resp.Content), resp.Usage, nil
}

// fail preserves the partial log with a failure annotation, saves whatever
// sections were assembled and returns cause.
func (o *Orchestrator) fail(
	ctx context.Context,
	log *slog.Logger,
	rep *domain.Report,
	partial string,
	tree domain.SectionTree,
	cause error,
) error {
	log.ErrorContext(ctx, "report generation failed", slog.String("error", redact.Error(cause)))

	content := strings.TrimSpace(partial)
	if content != "" {
		content += "\n\n"
	}
	content += FailureAnnotation(cause)

	if err := o.saveResult(ctx, rep, content, tree); err != nil {
		log.ErrorContext(ctx, "failed to finalize report after failure", slog.String("error", err.Error()))
	}
	return cause
}

func (o *Orchestrator) saveResult(ctx context.Context, rep *domain.Report, content string, tree domain.SectionTree) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := o.reports.SaveResult(wctx, rep.ID, domain.StripSentinel(content), tree); err != nil {
		return fmt.Errorf("save report result: %w", err)
	}
	return nil
}

// FailureAnnotation is the delimited block appended to a failed report's
// partial content.
func FailureAnnotation(err error) string {
	return "---\n\n**Report generation failed:** " + redact.Error(err) + "\n\n---"
}
