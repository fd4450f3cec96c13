// -----------------------------------------------------------------------
// Application wiring - Builds the collection pipeline in dependency order
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"github.com/ternarybob/praedium/internal/logs"
	"github.com/ternarybob/praedium/internal/models"
	"github.com/ternarybob/praedium/internal/queue"
	"github.com/ternarybob/praedium/internal/services/cascade"
	"github.com/ternarybob/praedium/internal/services/catalog"
	"github.com/ternarybob/praedium/internal/services/collector"
	"github.com/ternarybob/praedium/internal/services/command"
	"github.com/ternarybob/praedium/internal/services/coverage"
	"github.com/ternarybob/praedium/internal/services/events"
	"github.com/ternarybob/praedium/internal/services/fingerprint"
	"github.com/ternarybob/praedium/internal/services/llm"
	"github.com/ternarybob/praedium/internal/services/review"
	"github.com/ternarybob/praedium/internal/services/scheduler"
	"github.com/ternarybob/praedium/internal/storage"
)

// App holds the assembled pipeline. Commands is the surface embedding
// hosts call; everything else is wiring the host normally ignores.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Storage     interfaces.StorageManager
	Events      interfaces.EventService
	LogConsumer *logs.Consumer

	// LLM and Collector are nil when no provider is configured; the
	// pipeline still serves review, coverage, and queue inspection.
	LLM       interfaces.LLMService
	Detector  *fingerprint.Detector
	Review    interfaces.ReviewService
	Collector *collector.Service

	Queue     *queue.Manager
	Pool      *queue.Pool
	Cascade   *cascade.Resolver
	Catalog   *catalog.Catalog
	Coverage  *coverage.Service
	Scheduler interfaces.SchedulerService
	Commands  *command.Service
}

// New builds the application with all dependencies wired, without
// starting the worker pool or scheduler. Call Start for long-running
// hosts; batch hosts skip Start and drain via Commands.ExecutePending.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	if logger == nil {
		logger = common.GetLogger()
	}
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, err
	}
	if err := app.initLogCapture(); err != nil {
		return nil, err
	}
	if err := app.initServices(); err != nil {
		return nil, err
	}

	logger.Info().
		Bool("collection_enabled", app.Collector != nil).
		Int("workers", cfg.Queue.WorkerPoolSize).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initStorage() error {
	manager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Storage = manager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initLogCapture starts the per-job log consumer and points arbor's
// context channel at it, so every correlation-scoped logger feeds the
// job log tail from here on.
func (a *App) initLogCapture() error {
	consumer := logs.NewConsumer(a.Storage.JobLogs(), a.Logger, a.Config.Logging.MinJobLogLvl)
	if err := consumer.Start(); err != nil {
		return fmt.Errorf("failed to start log consumer: %w", err)
	}
	a.LogConsumer = consumer
	a.Logger.SetChannel("context", consumer.GetChannel())
	a.Logger.Debug().
		Str("min_level", a.Config.Logging.MinJobLogLvl).
		Msg("Job log capture initialized")
	return nil
}

// initServices wires the pipeline in dependency order: events → LLM →
// review → collector → queue → cascade → catalog → coverage →
// scheduler → command.
func (a *App) initServices() error {
	a.Events = events.NewService(a.Logger)
	if err := events.SubscribeLoggerToAllEvents(a.Events, a.Logger); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	// A missing or unreachable provider disables collection but not the
	// rest of the pipeline; queued jobs wait until a provider comes back.
	llmService, err := llm.NewLLMService(a.Config, a.Logger)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("LLM provider unavailable - collection disabled")
		a.Logger.Info().Msg("To enable collection, set ANTHROPIC_API_KEY / PRAEDIUM_CLAUDE_API_KEY or configure [claude] / [gemini] in config")
	} else if err := llmService.HealthCheck(context.Background()); err != nil {
		a.Logger.Warn().Err(err).Msg("LLM provider health check failed - collection disabled")
		a.Logger.Info().Msg("To enable collection, provide a valid provider API key")
	} else {
		a.LLM = llmService
		a.Logger.Debug().Str("provider", llmService.Name()).Msg("LLM provider ready")
	}

	a.Detector = fingerprint.NewDetector(a.Storage.Entities(), a.Logger)
	a.Review = review.NewService(a.Config, a.Storage.Entities(), a.Storage.Changes(), a.Events, a.Logger)

	a.Queue = queue.NewManager(a.Config, a.Storage.Jobs(), a.Storage.History(), a.Events, a.Logger)
	if a.Config.Queue.RecoverOnStartup {
		recovered, err := a.Queue.RecoverOnStartup(context.Background())
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to recover orphaned jobs")
		} else if recovered > 0 {
			a.Logger.Info().Int("count", recovered).Msg("Orphaned jobs returned to the queue")
		}
	}

	a.Cascade = cascade.NewResolver(a.Storage.Entities(), a.Storage.Jobs(), a.Storage.History(),
		a.Queue, a.Events, a.Logger)
	if err := a.Cascade.Subscribe(); err != nil {
		return fmt.Errorf("failed to subscribe cascade resolver: %w", err)
	}

	cat, err := catalog.Load(a.Config.Catalog.Dir, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load market catalog: %w", err)
	}
	a.Catalog = cat
	a.Coverage = coverage.NewService(cat, a.Storage.Entities(), a.Storage.Changes(),
		a.Storage.Jobs(), a.Queue, a.Logger)

	a.Pool = queue.NewPool(a.Queue, a.Config, a.Logger)
	if a.LLM != nil {
		a.Collector = collector.NewService(a.Config, a.LLM, a.Detector,
			a.Storage.Entities(), a.Storage.Changes(), a.Review, a.Logger)
		a.registerHandlers()
	}

	schedulerSvc := scheduler.NewService(a.Config, a.Storage.Entities(), a.Storage.Jobs(),
		a.Storage.History(), a.Queue, a.Coverage, a.Logger)
	if err := schedulerSvc.RegisterBuiltins(); err != nil {
		return fmt.Errorf("failed to register scheduler jobs: %w", err)
	}
	a.Scheduler = schedulerSvc

	a.Commands = command.NewService(a.Config, a.Queue, a.Review, a.Storage.Changes(),
		a.Storage.JobLogs(), a.Coverage, a.Logger)

	return nil
}

// registerHandlers binds every collection job type to the collector.
// One pipeline serves them all; the job type steers prompt rendering
// and payload validation inside Run.
func (a *App) registerHandlers() {
	jobTypes := []models.JobType{
		models.JobTypeCommunityDiscovery,
		models.JobTypeCommunityDetail,
		models.JobTypeCommunityInventory,
		models.JobTypeBuilderDiscovery,
		models.JobTypeBuilderDetail,
		models.JobTypePropertyUpdate,
	}
	for _, jobType := range jobTypes {
		a.Pool.RegisterHandler(jobType, a.Collector.Run)
	}
	a.Logger.Debug().Int("job_types", len(jobTypes)).Msg("Collection handlers registered")
}

// Start launches the worker pool and, when enabled, the scheduler.
// Without a collector the pool stays parked so queued jobs wait for a
// provider instead of dead-lettering on a missing handler.
func (a *App) Start() error {
	if a.Collector != nil {
		if err := a.Pool.Start(); err != nil {
			return fmt.Errorf("failed to start worker pool: %w", err)
		}
	} else {
		a.Logger.Warn().Msg("Worker pool not started - no LLM provider available")
	}

	if a.Config.Scheduler.Enabled {
		if err := a.Scheduler.Start(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to start scheduler")
		}
	} else {
		a.Logger.Debug().Msg("Scheduler disabled by config")
	}
	return nil
}

// Close shuts the pipeline down in reverse dependency order: scheduler
// first so no new maintenance jobs enqueue, then the pool so in-flight
// jobs settle within the shutdown grace, then the log consumer so their
// final log batches land, then the provider and storage.
func (a *App) Close() error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	if a.Pool != nil {
		if err := a.Pool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		}
	}

	if a.LogConsumer != nil {
		if err := a.LogConsumer.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log consumer")
		}
	}

	if a.LLM != nil {
		if err := a.LLM.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM provider")
		}
	}

	if a.Events != nil {
		if err := a.Events.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}
	return nil
}
