// Package batch runs image batches against a generative backend with
// bounded concurrency and per-batch fault isolation.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/generation"
	"github.com/phrazzld/reportgen/internal/knowledge"
	"github.com/phrazzld/reportgen/internal/prompt"
	"golang.org/x/sync/semaphore"
)

// DefaultTimeout bounds one batch call when Options.Timeout is zero.
const DefaultTimeout = 3 * time.Minute

// Error describes a failed batch. It unwraps to the provider error.
type Error struct {
	Index int
	Total int
	Group string
	Kind  generation.Kind
	// Cancelled is set when the run context ended while the batch was in
	// flight; Kind is then meaningless.
	Cancelled bool
	Err       error
}

func (e *Error) reason() string {
	if e.Cancelled {
		return "cancelled"
	}
	return e.Kind.String()
}

func (e *Error) Error() string {
	return fmt.Sprintf("batch %d/%d failed: %s: %v", e.Index+1, e.Total, e.reason(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Marker is the inline text that replaces a failed batch's content.
func (e *Error) Marker() string {
	if e.Group != "" {
		return fmt.Sprintf("[ERROR: batch %d/%d (%s) failed: %s]", e.Index+1, e.Total, e.Group, e.reason())
	}
	return fmt.Sprintf("[ERROR: batch %d/%d failed: %s]", e.Index+1, e.Total, e.reason())
}

// Gate is the knowledge lookup consulted per deficiency image.
type Gate interface {
	Lookup(ctx context.Context, query string) (knowledge.GateDecision, error)
}

// Outcome is the result of one batch.
type Outcome struct {
	Batch    Batch
	Content  string
	Usage    domain.Usage
	Err      *Error
	Duration time.Duration
}

// Failed reports whether the batch produced an error marker.
func (o Outcome) Failed() bool { return o.Err != nil }

// Result is the aggregate of a run.
type Result struct {
	// Outcomes are in dispatch order.
	Outcomes []Outcome
	// Content is the progress log in arrival order.
	Content string
	Usage   domain.Usage
	Failed  int
	// Cancelled counts failed outcomes cut short by the run context.
	Cancelled int
	// Seq is the last progress sequence number used.
	Seq int64
}

// Options parameterize one run.
type Options struct {
	Concurrency     int
	Timeout         time.Duration
	Model           string
	ReasoningEffort domain.ReasoningEffort
	BulletPoints    []string
	// Render turns a completed outcome into progress log text. Failed
	// outcomes are always rendered as their marker.
	Render func(Outcome) string
}

// Engine dispatches batches through a counting semaphore: the next batch
// starts as soon as any in-flight batch finishes.
type Engine struct {
	generator generation.Generator
	style     *prompt.Style
	gate      Gate
	logger    *slog.Logger
}

// NewEngine creates an engine. gate may be nil.
func NewEngine(generator generation.Generator, style *prompt.Style, gate Gate, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		generator: generator,
		style:     style,
		gate:      gate,
		logger:    logger.With(slog.String("component", "batch_engine")),
	}
}

// Run executes every batch and appends each completion to acc. It returns
// ctx.Err() alongside the partial result when ctx is cancelled before every
// batch finished, whether or not dispatch was complete.
func (e *Engine) Run(ctx context.Context, batches []Batch, opts Options, acc *Accumulator) (*Result, error) {
	k := opts.Concurrency
	if k < 1 {
		k = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if acc == nil {
		acc = NewAccumulator(0, nil)
	}

	total := len(batches)
	outcomes := make([]Outcome, total)
	sem := semaphore.NewWeighted(int64(k))

	var (
		wg       sync.WaitGroup
		runErr   error
		launched int
	)
	for i, b := range batches {
		if err := sem.Acquire(ctx, 1); err != nil {
			runErr = err
			break
		}
		launched++
		wg.Add(1)
		go func(i int, b Batch) {
			defer wg.Done()
			defer sem.Release(1)

			out := e.runBatch(ctx, b, total, opts)
			outcomes[i] = out

			if err := acc.Append(ctx, render(out, opts.Render)); err != nil {
				e.logger.WarnContext(ctx, "failed to persist progress",
					slog.Int("batch", b.Index+1),
					slog.String("error", err.Error()))
			}
		}(i, b)
	}
	wg.Wait()

	res := &Result{Outcomes: outcomes[:launched], Content: acc.Content(), Seq: acc.Seq()}
	for _, o := range res.Outcomes {
		res.Usage = res.Usage.Add(o.Usage)
		if o.Failed() {
			res.Failed++
			if o.Err.Cancelled {
				res.Cancelled++
			}
		}
	}
	if runErr != nil {
		return res, fmt.Errorf("dispatch stopped after %d of %d batches: %w", launched, total, runErr)
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("run cancelled with %d of %d batches in flight: %w", res.Cancelled, total, err)
	}
	return res, nil
}

func render(o Outcome, fn func(Outcome) string) string {
	if o.Err != nil {
		return o.Err.Marker()
	}
	if fn != nil {
		return fn(o)
	}
	return o.Content
}

func (e *Engine) runBatch(ctx context.Context, b Batch, total int, opts Options) Outcome {
	start := time.Now()
	log := e.logger.With(slog.Int("batch", b.Index+1), slog.Int("total", total), slog.String("group", b.Group))

	fail := func(err error) Outcome {
		be := &Error{Index: b.Index, Total: total, Group: b.Group, Kind: generation.KindOf(err), Err: err}
		if ctx.Err() != nil {
			be.Cancelled = true
			be.Kind = generation.KindOther
			log.DebugContext(ctx, "batch cancelled", slog.String("error", err.Error()))
			return Outcome{Batch: b, Err: be, Duration: time.Since(start)}
		}
		log.WarnContext(ctx, "batch failed", slog.String("kind", be.Kind.String()), slog.String("error", err.Error()))
		return Outcome{Batch: b, Err: be, Duration: time.Since(start)}
	}

	images := prompt.ImagesData(b.Images)
	e.attachKnowledge(ctx, log, b.Images, images)

	text, err := e.style.RenderBatch(prompt.BatchData{
		Index:        b.Index + 1,
		Total:        total,
		Group:        b.Group,
		BulletPoints: opts.BulletPoints,
		Images:       images,
	})
	if err != nil {
		return fail(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	resp, err := e.generator.Generate(callCtx, generation.Request{
		SystemPrompt:    e.style.System,
		Prompt:          text,
		Model:           opts.Model,
		Temperature:     e.style.Temperature,
		MaxTokens:       e.style.MaxTokens,
		ReasoningEffort: opts.ReasoningEffort,
		JSON:            true,
	})
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = &generation.Error{Kind: generation.KindTimeout, Message: "batch timed out", Err: err}
		}
		return fail(err)
	}

	log.DebugContext(ctx, "batch completed",
		slog.Duration("duration", time.Since(start)),
		slog.Int("total_tokens", resp.Usage.TotalTokens))
	return Outcome{Batch: b, Content: resp.Content, Usage: resp.Usage, Duration: time.Since(start)}
}

// attachKnowledge consults the gate for deficiency images. Gate failures
// only cost the image its context.
func (e *Engine) attachKnowledge(ctx context.Context, log *slog.Logger, src []domain.Image, dst []prompt.ImageData) {
	if e.gate == nil {
		return
	}
	for i, img := range src {
		if img.Tag != domain.ImageTagDeficiency || img.Description == "" {
			continue
		}
		d, err := e.gate.Lookup(ctx, img.Description)
		if err != nil {
			log.WarnContext(ctx, "knowledge lookup failed, continuing without context",
				slog.String("image_id", img.ID),
				slog.String("error", err.Error()))
			continue
		}
		if d.Pass {
			dst[i].Knowledge = d.Context
		}
	}
}
