package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/events"
	"github.com/phrazzld/reportgen/internal/manifest"
	"github.com/phrazzld/reportgen/internal/platform/rabbitmq"
	"github.com/phrazzld/reportgen/internal/task"
	"github.com/spf13/cobra"
)

type enqueueOptions struct {
	reportID        string
	projectID       string
	manifestPath    string
	model           string
	style           string
	strategy        string
	bullets         []string
	groupOrder      []string
	reasoningEffort string
	batchSize       int
	concurrency     int
}

func (c *cli) newEnqueueCmd() *cobra.Command {
	var opts enqueueOptions

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a generate_report job",
		Long: `Reads the images of an XLSX manifest and enqueues a generate_report job for
the given report. The report row is created when it does not exist yet.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := opts.input(c.cfg.LLM.DefaultModel)
			if err != nil {
				return err
			}

			b, err := c.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = b.Close() }()

			var emitter events.EventEmitter
			if c.cfg.Notify.AMQPURL != "" {
				broker, err := rabbitmq.Dial(c.cfg.Notify.AMQPURL, c.cfg.Notify.Queue, c.logger)
				if err != nil {
					c.logger.Warn("notification broker unavailable, job will be found by polling",
						slog.String("error", err.Error()))
				} else {
					defer broker.Close()
					d := events.NewDispatcher(c.logger)
					d.Subscribe(broker, events.JobEnqueued)
					emitter = d
				}
			}

			job, err := task.NewSubmitter(b.Jobs, b.Reports, emitter, c.logger).WithTx(b).Submit(cmd.Context(), *in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"job_id":    job.ID,
				"report_id": in.ReportID,
				"status":    job.Status,
				"images":    len(in.Images),
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.reportID, "report-id", "", "report UUID (generated when empty)")
	f.StringVar(&opts.projectID, "project-id", "", "project the report belongs to")
	f.StringVar(&opts.manifestPath, "manifest", "", "XLSX image manifest")
	f.StringVar(&opts.model, "model", "", "model identifier, e.g. gemini-2.5-pro or openai:gpt-4o (defaults to llm.default_model)")
	f.StringVar(&opts.style, "style", string(domain.ReportStyleElaborate), "report style: brief or elaborate")
	f.StringVar(&opts.strategy, "strategy", string(domain.StrategyParallel), "execution strategy: parallel or sequential")
	f.StringArrayVar(&opts.bullets, "bullet", nil, "summary bullet point (repeatable)")
	f.StringSliceVar(&opts.groupOrder, "group-order", nil, "comma-separated group labels in output order")
	f.StringVar(&opts.reasoningEffort, "reasoning-effort", "", "low, medium or high")
	f.IntVar(&opts.batchSize, "batch-size", 0, "images per batch (defaults to batch.size)")
	f.IntVar(&opts.concurrency, "concurrency", 0, "batches in flight (defaults to batch.concurrency)")
	_ = cmd.MarkFlagRequired("project-id")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

// input builds the job input; validation happens in the submitter.
func (o enqueueOptions) input(defaultModel string) (*domain.ReportInput, error) {
	reportID := uuid.New()
	if o.reportID != "" {
		id, err := uuid.Parse(o.reportID)
		if err != nil {
			return nil, fmt.Errorf("invalid --report-id: %w", err)
		}
		reportID = id
	}

	model := o.model
	if model == "" {
		model = defaultModel
	}
	if model == "" {
		return nil, errors.New("--model is required when llm.default_model is not set")
	}

	f, err := os.Open(o.manifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()
	images, err := manifest.Read(f)
	if err != nil {
		return nil, err
	}

	return &domain.ReportInput{
		ReportID:          reportID,
		ProjectID:         o.projectID,
		Images:            images,
		BulletPoints:      o.bullets,
		Model:             model,
		ReportStyle:       domain.ReportStyle(o.style),
		ExecutionStrategy: domain.ExecutionStrategy(o.strategy),
		GroupOrder:        o.groupOrder,
		ReasoningEffort:   domain.ReasoningEffort(o.reasoningEffort),
		BatchSize:         o.batchSize,
		Concurrency:       o.concurrency,
	}, nil
}
