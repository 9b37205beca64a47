package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/reportgen/internal/assembly"
	"github.com/phrazzld/reportgen/internal/batch"
	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/domain"
	"github.com/phrazzld/reportgen/internal/events"
	"github.com/phrazzld/reportgen/internal/generation"
	"github.com/phrazzld/reportgen/internal/knowledge"
	"github.com/phrazzld/reportgen/internal/platform/database"
	"github.com/phrazzld/reportgen/internal/platform/gemini"
	"github.com/phrazzld/reportgen/internal/platform/openai"
	"github.com/phrazzld/reportgen/internal/platform/rabbitmq"
	"github.com/phrazzld/reportgen/internal/platform/redis"
	"github.com/phrazzld/reportgen/internal/platform/vectorsearch"
	"github.com/phrazzld/reportgen/internal/prompt"
	"github.com/phrazzld/reportgen/internal/report"
	"github.com/phrazzld/reportgen/internal/task"
)

// knowledgeMinWords is the shortest description sent to the knowledge base.
const knowledgeMinWords = 2

// application holds the shared dependencies of the server and releases them
// on shutdown.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	backend *database.Backend

	dispatcher *events.Dispatcher
	broker     *rabbitmq.Broker
	submitter  *task.Submitter
	runner     *task.Runner

	closers []func() error
}

// newApplication wires stores, generators, the orchestrator, the runner and
// the notification path. The backend must already be migrated.
// On error every resource opened so far, the backend included, is closed.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, backend *database.Backend) (_ *application, err error) {
	app := &application{
		config:  cfg,
		logger:  logger,
		backend: backend,
	}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	registry, err := newRegistry(ctx, cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	prompts, err := loadPrompts(cfg.LLM)
	if err != nil {
		return nil, err
	}

	assembler, err := assembly.New(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create assembler: %w", err)
	}

	gate, err := app.newGate(ctx, cfg.Knowledge)
	if err != nil {
		return nil, err
	}

	orchestrator, err := report.NewOrchestrator(backend.Reports, registry, prompts, assembler, gate, cfg.Batch, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	app.dispatcher = events.NewDispatcher(logger)
	if cfg.Notify.AMQPURL != "" {
		app.broker, err = rabbitmq.Dial(cfg.Notify.AMQPURL, cfg.Notify.Queue, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to notification broker: %w", err)
		}
		app.dispatcher.Subscribe(app.broker, events.JobEnqueued)
	}

	app.runner, err = task.NewRunner(backend.Jobs, orchestrator, app.dispatcher, task.RunnerConfigFrom(cfg.Worker), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create job runner: %w", err)
	}
	if app.broker == nil {
		// Without a broker, jobs enqueued through this process wake its own workers.
		app.dispatcher.Subscribe(task.NewWakeupHandler(app.runner, logger), events.JobEnqueued)
	}

	app.submitter = task.NewSubmitter(backend.Jobs, backend.Reports, app.dispatcher, logger).WithTx(backend)

	logger.Info("application initialized",
		slog.Bool("knowledge_gate", gate != nil),
		slog.Bool("broker", app.broker != nil))
	return app, nil
}

// newRegistry registers a generator for every provider with an API key.
func newRegistry(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*generation.Registry, error) {
	registry := generation.NewRegistry()

	if cfg.GeminiAPIKey != "" {
		g, err := gemini.NewGeminiGenerator(ctx, logger, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini generator: %w", err)
		}
		if err := registry.Register(domain.ProviderGemini, g); err != nil {
			return nil, err
		}
	}
	if cfg.OpenAIAPIKey != "" {
		g, err := openai.NewGenerator(logger, cfg, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI generator: %w", err)
		}
		if err := registry.Register(domain.ProviderOpenAI, g); err != nil {
			return nil, err
		}
	}

	if _, ok := registry.Get(domain.ProviderGemini); !ok {
		if _, ok := registry.Get(domain.ProviderOpenAI); !ok {
			return nil, fmt.Errorf("%w: no generative backend has an API key", generation.ErrInvalidConfig)
		}
	}
	return registry, nil
}

func loadPrompts(cfg config.LLMConfig) (*prompt.Library, error) {
	if cfg.PromptsPath != "" {
		lib, err := prompt.Load(cfg.PromptsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts from %s: %w", cfg.PromptsPath, err)
		}
		return lib, nil
	}
	lib, err := prompt.Default()
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded prompts: %w", err)
	}
	return lib, nil
}

// newGate builds the knowledge gate, or returns nil when it is disabled. The
// decision cache is Redis when configured and an in-process LRU otherwise;
// both hold at most CacheSize entries.
func (app *application) newGate(ctx context.Context, cfg config.KnowledgeConfig) (batch.Gate, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	searcher, err := vectorsearch.New(cfg.SearchURL, cfg.Timeout, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create knowledge search client: %w", err)
	}

	var cache knowledge.Cache = knowledge.NewLRUCache(cfg.CacheSize, cfg.CacheTTL)
	if cfg.RedisURL != "" {
		rc, err := redis.NewDecisionCache(ctx, cfg.RedisURL, cfg.CacheSize, cfg.CacheTTL, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect knowledge cache: %w", err)
		}
		app.closers = append(app.closers, rc.Close)
		cache = rc
	}

	gate, err := knowledge.NewGate(
		knowledge.NewClassifier(knowledge.DefaultRules(), knowledgeMinWords),
		searcher,
		cache,
		knowledge.OptionsFromConfig(cfg),
		app.logger,
	)
	if err != nil {
		return nil, err
	}
	return gate, nil
}

// Run starts the job runner and the notification consumer, then serves the
// admin API until ctx is cancelled.
func (app *application) Run(ctx context.Context) error {
	if err := app.runner.Start(); err != nil {
		app.cleanup()
		return fmt.Errorf("failed to start job runner: %w", err)
	}

	if app.broker != nil {
		wakeups := events.NewDispatcher(app.logger)
		wakeups.Subscribe(task.NewWakeupHandler(app.runner, app.logger), events.JobEnqueued)
		go func() {
			err := app.broker.Consume(ctx, app.runner.WorkerID(), wakeups)
			if err != nil && !errors.Is(err, context.Canceled) {
				app.logger.Error("notification consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

	return app.startHTTPServer(ctx, app.setupRouter())
}

// cleanup stops the runner before closing what it depends on.
func (app *application) cleanup() {
	if app.runner != nil {
		app.runner.Stop()
	}
	if app.broker != nil {
		app.broker.Close()
	}
	for _, c := range app.closers {
		if err := c(); err != nil {
			app.logger.Warn("error closing resource", slog.String("error", err.Error()))
		}
	}
	if app.backend != nil {
		if err := app.backend.Close(); err != nil {
			app.logger.Error("error closing database connection", slog.String("error", err.Error()))
		}
	}
	app.logger.Info("application shutdown completed")
}
