package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/probatio/probatio/internal/common"
	"github.com/probatio/probatio/internal/handlers"
	"github.com/probatio/probatio/internal/interfaces"
	"github.com/probatio/probatio/internal/metrics"
	"github.com/probatio/probatio/internal/queue"
	"github.com/probatio/probatio/internal/services/audit"
	"github.com/probatio/probatio/internal/services/deletion"
	"github.com/probatio/probatio/internal/services/documents"
	"github.com/probatio/probatio/internal/services/embeddings"
	"github.com/probatio/probatio/internal/services/events"
	"github.com/probatio/probatio/internal/services/extraction"
	factsvc "github.com/probatio/probatio/internal/services/facts"
	jobsvc "github.com/probatio/probatio/internal/services/jobs"
	"github.com/probatio/probatio/internal/services/packs"
	"github.com/probatio/probatio/internal/services/pdf"
	"github.com/probatio/probatio/internal/services/pipeline"
	"github.com/probatio/probatio/internal/services/projects"
	"github.com/probatio/probatio/internal/services/quality"
	"github.com/probatio/probatio/internal/services/scheduler"
	searchsvc "github.com/probatio/probatio/internal/services/search"
	spansvc "github.com/probatio/probatio/internal/services/spans"
	"github.com/probatio/probatio/internal/services/tenants"
	"github.com/probatio/probatio/internal/storage/blob"
	"github.com/probatio/probatio/internal/storage/sqlite"
	"github.com/probatio/probatio/internal/workers"
)

// App holds all application components and dependencies.
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	ctx       context.Context
	cancelCtx context.CancelFunc

	// Infrastructure
	StorageManager interfaces.StorageManager
	BlobStore      interfaces.BlobStore
	QueueManager   interfaces.QueueManager
	EventService   interfaces.EventService
	Metrics        *metrics.Metrics

	// Domain services
	TenantService     interfaces.TenantService
	AuditService      interfaces.AuditService
	DocumentService   interfaces.DocumentService
	ExtractionService interfaces.ExtractionService
	SpanService       interfaces.SpanService
	EmbeddingService  interfaces.EmbeddingService
	FactService       interfaces.FactService
	QualityService    interfaces.QualityService
	PipelineService   interfaces.PipelineService
	SearchService     interfaces.SearchService
	DeletionService   interfaces.DeletionService
	ProjectService    interfaces.ProjectService
	PackService       interfaces.PackService
	PDFService        interfaces.PDFService
	JobService        interfaces.JobService
	SchedulerService  interfaces.SchedulerService

	// Workers
	Processor     *workers.Processor
	PollingWorker *workers.PollingWorker

	vectorCache *embeddings.VectorCache

	// HTTP handlers
	DocumentHandler   *handlers.DocumentHandler
	EvidenceHandler   *handlers.EvidenceHandler
	SearchHandler     *handlers.SearchHandler
	ProjectHandler    *handlers.ProjectHandler
	PackHandler       *handlers.PackHandler
	ExtractionHandler *handlers.ExtractionHandler
	JobHandler        *handlers.JobHandler
	TenantHandler     *handlers.TenantHandler
	AuditHandler      *handlers.AuditHandler
	HealthHandler     *handlers.HealthHandler
	BlobHandler       *handlers.BlobHandler
	WSHandler         *handlers.WebSocketHandler
}

// New initializes the application with all dependencies.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		Config:    cfg,
		Logger:    logger,
		ctx:       ctx,
		cancelCtx: cancel,
	}

	if err := app.initStorage(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Event bus and metrics come up before the services that publish to them.
	app.EventService = events.NewService(logger)
	if err := events.RegisterLoggerSubscriber(app.EventService, logger); err != nil {
		logger.Warn().Err(err).Msg("Event logger subscription failed")
	}
	app.Metrics = metrics.New()
	app.Metrics.WatchQueue(app.QueueManager)
	if err := app.Metrics.RegisterEventObserver(app.EventService); err != nil {
		logger.Warn().Err(err).Msg("Metrics event subscription failed")
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initWorkers()
	app.initHandlers()

	// Workers start after handlers so nothing dispatches against a
	// half-wired app. Polling mode replaces queue consumption; the
	// processor stays constructed for synchronous job runs.
	if cfg.Worker.Mode == "polling" {
		if err := app.PollingWorker.Start(); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to start polling worker: %w", err)
		}
	} else {
		if err := app.Processor.Start(); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to start job processor: %w", err)
		}
	}

	// Deletions interrupted by a crash resume from their pending tasks.
	if resumed, err := app.DeletionService.ResumePending(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to resume pending deletions")
	} else if resumed > 0 {
		logger.Info().Int("count", resumed).Msg("Resumed pending deletions")
	}

	if cfg.Scheduler.Enabled {
		if err := app.SchedulerService.Start(); err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("worker_mode", cfg.Worker.Mode).
		Str("queue_backend", cfg.Queue.Backend).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage brings up the sqlite database, the blob store, and the job
// queue backend.
func (a *App) initStorage() error {
	manager, err := sqlite.NewManager(a.Logger, &a.Config.Database)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = manager

	blobs, err := blob.NewLocalStore(a.Logger, &a.Config.Blob)
	if err != nil {
		return fmt.Errorf("failed to create blob store: %w", err)
	}
	a.BlobStore = blobs

	queueManager, err := queue.NewManager(a.Logger, &a.Config.Queue)
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}
	a.QueueManager = queueManager

	a.Logger.Debug().
		Str("database", a.Config.Database.Path).
		Str("blob_dir", a.Config.Blob.LocalDir).
		Str("queue_backend", a.Config.Queue.Backend).
		Msg("Storage initialized")
	return nil
}

// initServices constructs the domain services in dependency order.
func (a *App) initServices() error {
	cfg := a.Config
	store := a.StorageManager

	tenantService := tenants.NewService(a.Logger, &cfg.Auth, store.TenantStorage())
	if err := tenantService.EnsureBootstrap(a.ctx); err != nil {
		return fmt.Errorf("failed to bootstrap tenant: %w", err)
	}
	a.TenantService = tenantService

	auditService := audit.NewService(a.Logger, store.AuditStorage())
	if err := auditService.RegisterEventObserver(a.EventService); err != nil {
		a.Logger.Warn().Err(err).Msg("Audit event subscription failed")
	}
	a.AuditService = auditService

	a.JobService = jobsvc.NewService(a.Logger, store.JobStorage(), a.QueueManager, a.EventService)

	a.ExtractionService = extraction.NewService(a.Logger, &cfg.Extraction, a.BlobStore, store.DocumentStorage(), store.RunStorage())
	a.SpanService = spansvc.NewService(a.Logger, &cfg.Processing, store.SpanStorage(), store.DocumentStorage())

	// Model providers are optional at boot. Without them the server still
	// accepts uploads and serves keyword search; embed and fact stages
	// return ErrProviderUnavailable until keys are configured.
	var embeddingClient interfaces.EmbeddingClient
	if cfg.Embeddings.APIKey != "" {
		client, err := embeddings.NewOpenAIClient(&cfg.Embeddings)
		if err != nil {
			return fmt.Errorf("failed to create embedding client: %w", err)
		}
		embeddingClient = client
	} else {
		a.Logger.Warn().Msg("Embeddings API key not set, semantic search and embedding disabled")
	}
	vectorCache, err := embeddings.NewVectorCache(a.Logger, cfg.Embeddings.CachePath)
	if err != nil {
		return fmt.Errorf("failed to open embedding cache: %w", err)
	}
	a.vectorCache = vectorCache
	a.EmbeddingService = embeddings.NewService(a.Logger, &cfg.Embeddings, embeddingClient, vectorCache, store.SpanStorage(), store.DocumentStorage())

	var llmProvider interfaces.LLMProvider
	if cfg.Facts.HasCredentials() {
		provider, err := factsvc.NewProvider(a.Logger, &cfg.Facts)
		if err != nil {
			return fmt.Errorf("failed to create fact extraction provider: %w", err)
		}
		llmProvider = provider
	} else {
		a.Logger.Warn().Str("provider", cfg.Facts.Provider).Msg("Facts API key not set, fact extraction disabled")
	}
	vocabularies, err := factsvc.LoadVocabularies(a.Logger, cfg.Facts.VocabularyDir)
	if err != nil {
		return fmt.Errorf("failed to load vocabularies: %w", err)
	}
	a.FactService = factsvc.NewService(a.Logger, &cfg.Facts, llmProvider, vocabularies,
		store.RunStorage(), store.FactStorage(), store.DocumentStorage(), store.SpanStorage())

	a.QualityService = quality.NewService(a.Logger, store.FactStorage(), store.QualityStorage(), store.DocumentStorage())

	a.PipelineService = pipeline.NewService(a.Logger, store.DocumentStorage(), store.RunStorage(), store.SpanStorage(),
		a.ExtractionService, a.SpanService, a.EmbeddingService, a.FactService, a.QualityService, a.EventService)

	a.SearchService = searchsvc.NewService(a.Logger, &cfg.Search, store.SpanStorage(), a.EmbeddingService)

	a.DocumentService = documents.NewService(a.Logger, &cfg.Ingest, &cfg.Blob, store.DocumentStorage(),
		a.BlobStore, store.JobStorage(), a.QueueManager, a.EventService)

	a.DeletionService = deletion.NewService(a.Logger, store.DocumentStorage(), store.DeletionStorage(),
		store.SpanStorage(), store.FactStorage(), store.QualityStorage(), store.RunStorage(),
		store.ProjectStorage(), store.JobStorage(), a.QueueManager, a.BlobStore, a.EventService)

	a.ProjectService = projects.NewService(a.Logger, store.ProjectStorage(), store.DocumentStorage())
	a.PDFService = pdf.NewService(a.Logger)
	a.PackService = packs.NewService(a.Logger, store.PackStorage(), store.ProjectStorage(),
		store.SpanStorage(), store.FactStorage(), store.DocumentStorage(), a.PDFService)

	a.SchedulerService = scheduler.NewService(a.Logger, &cfg.Scheduler, store, a.DeletionService)

	a.Logger.Debug().Msg("Services initialized")
	return nil
}

// initWorkers wires the job processor and, in polling mode, the claim loop.
func (a *App) initWorkers() {
	a.Processor = workers.NewProcessor(a.Logger, &a.Config.Worker,
		a.StorageManager.JobStorage(), a.QueueManager, a.EventService)

	dispatcher := workers.NewDispatcher(a.Logger, a.DocumentService, a.PipelineService,
		a.FactService, a.EmbeddingService, a.DeletionService)
	dispatcher.RegisterAll(a.Processor)

	if a.Config.Worker.Mode == "polling" {
		a.PollingWorker = workers.NewPollingWorker(a.Logger, &a.Config.Worker,
			a.StorageManager.DocumentStorage(), a.PipelineService)
	}
}

// initHandlers constructs the HTTP layer over the services.
func (a *App) initHandlers() {
	store := a.StorageManager

	a.DocumentHandler = handlers.NewDocumentHandler(a.DocumentService, a.DeletionService, a.Logger)
	a.EvidenceHandler = handlers.NewEvidenceHandler(store.SpanStorage(), store.FactStorage(), a.Logger)
	a.SearchHandler = handlers.NewSearchHandler(a.SearchService, a.Logger)
	a.ProjectHandler = handlers.NewProjectHandler(a.ProjectService, a.Logger)
	a.PackHandler = handlers.NewPackHandler(a.PackService, a.Logger)
	a.ExtractionHandler = handlers.NewExtractionHandler(a.FactService, a.QualityService,
		a.TenantService, a.JobService, store.RunStorage(), a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.Processor, a.SchedulerService, a.Logger)
	a.TenantHandler = handlers.NewTenantHandler(a.TenantService, a.Logger)
	a.AuditHandler = handlers.NewAuditHandler(a.AuditService, a.Logger)
	a.HealthHandler = handlers.NewHealthHandler(a.StorageManager, a.QueueManager, a.Logger)
	a.BlobHandler = handlers.NewBlobHandler(a.BlobStore, a.Config.Blob.MaxUploadBytes(), a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.TenantService, a.EventService, &a.Config.WebSocket, a.Logger)

	a.Logger.Debug().Msg("Handlers initialized")
}

// Close shuts down components in reverse dependency order. Safe to call on a
// partially initialized app.
func (a *App) Close() {
	a.Logger.Info().Msg("Shutting down application")

	if a.SchedulerService != nil && a.SchedulerService.IsRunning() {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler shutdown error")
		}
	}
	if a.PollingWorker != nil {
		a.PollingWorker.Stop()
	}
	if a.Processor != nil {
		a.Processor.Stop()
	}
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Event bus shutdown error")
		}
	}
	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue shutdown error")
		}
	}
	if a.vectorCache != nil {
		if err := a.vectorCache.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Embedding cache shutdown error")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage shutdown error")
		}
	}

	a.cancelCtx()
	a.Logger.Info().Msg("Application shutdown complete")
}
