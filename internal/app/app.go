// -----------------------------------------------------------------------
// Application wiring - builds the storage, expert, workflow and job layers
// from config and hands the assembled handlers to the HTTP server.
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/loomworks/loom/internal/common"
	"github.com/loomworks/loom/internal/handlers"
	"github.com/loomworks/loom/internal/ingestion"
	"github.com/loomworks/loom/internal/interfaces"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/llm"
	"github.com/loomworks/loom/internal/pagecache"
	"github.com/loomworks/loom/internal/prompts"
	"github.com/loomworks/loom/internal/storage/badger"
	"github.com/loomworks/loom/internal/telemetry"
	"github.com/loomworks/loom/internal/validation"
	"github.com/loomworks/loom/internal/vector"
	"github.com/loomworks/loom/internal/workflow"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	VectorClient   *vector.Client
	PageCache      *pagecache.Cache
	PDFExtractor   *pagecache.PDFExtractor
	Guard          *validation.Guard
	Prompts        *prompts.Registry
	Gateway        *llm.Gateway
	Emitter        *telemetry.Emitter

	IngestionService *ingestion.Service
	Engine           *workflow.Engine
	JobManager       *jobs.Manager
	JobRunner        *jobs.Runner
	Sweeper          *jobs.Sweeper

	// HTTP handlers
	WorkflowHandler *handlers.WorkflowHandler
	JobHandler      *handlers.JobHandler
	ClaimHandler    *handlers.ClaimHandler
	ProjectHandler  *handlers.ProjectHandler
	IngestHandler   *handlers.IngestHandler
	HealthHandler   *handlers.HealthHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("initialize services: %w", err)
	}
	app.initHandlers()

	if err := app.Sweeper.Start(); err != nil {
		return nil, fmt.Errorf("start sweeper: %w", err)
	}

	logger.Info().
		Str("default_rigor", cfg.Workflow.DefaultRigor).
		Int("job_slots", cfg.Workflow.JobSlots).
		Msg("Application initialization complete")
	return app, nil
}

// initStorage initializes the document store and the two-tier page cache
func (a *App) initStorage() error {
	manager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("create storage manager: %w", err)
	}
	a.StorageManager = manager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	a.PDFExtractor = pagecache.NewPDFExtractor(a.Logger)
	cache, err := pagecache.NewCache(a.Config.Storage.Filesystem.PageCache, manager.PageTextStorage(), a.PDFExtractor, a.Logger)
	if err != nil {
		return fmt.Errorf("create page cache: %w", err)
	}
	a.PageCache = cache
	return nil
}

// initServices wires the expert, workflow and job layers
func (a *App) initServices() error {
	emitter, err := telemetry.NewEmitter(&a.Config.Telemetry, a.Logger)
	if err != nil {
		return fmt.Errorf("create telemetry emitter: %w", err)
	}
	a.Emitter = emitter

	a.VectorClient = vector.NewClient(&a.Config.Vector, a.Logger)
	a.Guard = validation.LoadGuard(a.Config.Vocabulary.Path, a.Logger)
	a.Prompts = prompts.NewRegistry(&a.Config.Registry, a.Logger)
	a.Gateway = llm.NewGateway(&a.Config.Experts, a.Logger, a.Emitter)
	a.IngestionService = ingestion.NewService(a.VectorClient, a.PageCache, a.Logger)

	a.Engine = workflow.NewEngine(&workflow.Deps{
		Storage: a.StorageManager,
		Gateway: a.Gateway,
		Prompts: a.Prompts,
		Vector:  a.VectorClient,
		Guard:   a.Guard,
		Emitter: a.Emitter,
		Logger:  a.Logger,
		PageLookup: func(ctx context.Context) validation.PageTextLookup {
			return validation.PageTextLookup(a.PageCache.Lookup(ctx))
		},
		ArtifactsDir:      a.Config.Storage.Filesystem.Artifacts,
		MaxRevisions:      a.Config.Workflow.MaxRevisions,
		MaxImages:         a.Config.Workflow.MaxImages,
		TopK:              a.Config.Vector.TopK,
		BackpressureDelay: common.ParseDurationOr(a.Config.Workflow.BackpressureDelay, 0),
	})

	a.JobManager = jobs.NewManager(a.StorageManager, a.Config.Workflow.JobSlots, a.Logger, a.Emitter)
	a.JobRunner = jobs.NewRunner(
		a.JobManager,
		a.Engine,
		a.StorageManager,
		common.ParseDurationOr(a.Config.Workflow.RetryLaterDelay, 0),
		a.Config.Workflow.DefaultRigor,
		a.Logger,
		a.Emitter,
	)
	a.Sweeper = jobs.NewSweeper(a.JobRunner, a.Config.Workflow.SweepSchedule, a.Logger)
	return nil
}

// initHandlers builds the HTTP handler set
func (a *App) initHandlers() {
	a.WorkflowHandler = handlers.NewWorkflowHandler(a.JobManager, a.JobRunner, a.StorageManager, a.IngestionService, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobManager, a.JobRunner, a.StorageManager, a.Logger)
	a.ClaimHandler = handlers.NewClaimHandler(a.StorageManager, a.Logger)
	a.ProjectHandler = handlers.NewProjectHandler(a.StorageManager, a.JobManager, a.Logger)
	a.IngestHandler = handlers.NewIngestHandler(a.IngestionService, a.PageCache, a.PDFExtractor, a.StorageManager, a.Logger)
	a.HealthHandler = handlers.NewHealthHandler(map[string]handlers.HealthProbe{
		"badger":  a.StorageManager,
		"vector":  a.VectorClient,
		"experts": a.Gateway,
	}, a.Logger)
}

// Close shuts the application down in dependency order: stop admitting work,
// drain in-flight jobs, then release the stores.
func (a *App) Close() error {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.JobRunner != nil {
		a.JobRunner.Wait()
	}
	if a.Emitter != nil {
		if err := a.Emitter.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Telemetry emitter close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("close storage: %w", err)
		}
	}
	return nil
}
