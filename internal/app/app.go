package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lustro/internal/common"
	"github.com/ternarybob/lustro/internal/handlers"
	"github.com/ternarybob/lustro/internal/interfaces"
	"github.com/ternarybob/lustro/internal/services/changes"
	"github.com/ternarybob/lustro/internal/services/crawler"
	"github.com/ternarybob/lustro/internal/services/events"
	"github.com/ternarybob/lustro/internal/services/results"
	"github.com/ternarybob/lustro/internal/services/scheduler"
	"github.com/ternarybob/lustro/internal/services/transform"
	badgerstorage "github.com/ternarybob/lustro/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService interfaces.EventService

	// Analysis pipeline
	TransformService *transform.Service
	ResultsService   *results.Service
	ChangeService    *changes.Service
	AnalysisService  *crawler.Service
	SchedulerService interfaces.SchedulerService

	// Log streaming bridge (arbor context channel -> WebSocket clients)
	WSWriter *handlers.WebSocketWriter

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	StatusHandler   *handlers.StatusHandler
	RunHandler      *handlers.RunHandler
	ScheduleHandler *handlers.ScheduleHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize WebSocket handler early so startup logs already reach
	// connected clients. EventService is needed for WebSocketHandler
	// initialization.
	app.EventService = events.NewService(app.Logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger, &app.Config.WebSocket)

	// Bridge arbor's context channel into the WebSocket broadcaster
	app.WSWriter = handlers.NewWebSocketWriter(app.WSHandler, &app.Config.WebSocket)
	app.WSWriter.Start()
	app.Logger.SetChannel("context", app.WSWriter.Channel())
	app.Logger.Info().
		Int("channel_capacity", cap(app.WSWriter.Channel())).
		Msg("Log streaming initialized with Arbor context channel")

	// Initialize services (AFTER log streaming is configured)
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	// Start WebSocket background tasks for real-time status updates
	app.WSHandler.StartStatusBroadcaster()
	logger.Debug().Msg("WebSocket handlers started (status broadcaster)")

	// Log initialization summary
	logger.Info().
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Str("environment", cfg.Environment).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := badgerstorage.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes all business services in dependency order
func (a *App) initServices() error {
	// Transform service (HTML -> markdown rendering)
	a.TransformService = transform.NewService(a.Logger)
	a.Logger.Debug().Msg("Transform service initialized")

	// Results service (bundles, relationships, source reads)
	a.ResultsService = results.NewService(a.StorageManager, a.TransformService, a.EventService, a.Logger)
	a.Logger.Debug().Msg("Results service initialized")

	// Change detection service
	a.ChangeService = changes.NewService(a.StorageManager, a.Logger)
	a.Logger.Debug().Msg("Change service initialized")

	// Analysis service (crawl orchestration)
	a.AnalysisService = crawler.NewService(a.Config, a.StorageManager, a.ResultsService, a.ChangeService, a.EventService, a.Logger)
	a.Logger.Debug().Msg("Analysis service initialized")

	// Mark runs stranded by a previous process before accepting new work
	if _, err := a.AnalysisService.RecoverInterruptedRuns(context.Background()); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to recover interrupted runs")
	}

	// Scheduler service (recurring analyses on cron cadence)
	a.SchedulerService = scheduler.NewService(a.StorageManager, a.AnalysisService, a.Logger)
	if a.Config.Scheduler.Enabled {
		if err := a.SchedulerService.Start(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to start scheduler service")
		}
	} else {
		a.Logger.Debug().Msg("Scheduler disabled by configuration")
	}

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler()
	// WSHandler already initialized in New() before log streaming setup

	a.StatusHandler = handlers.NewStatusHandler(a.StorageManager, a.Logger)

	a.RunHandler = handlers.NewRunHandler(
		a.Config,
		a.AnalysisService,
		a.ResultsService,
		a.ChangeService,
		a.StorageManager,
		a.Logger,
	)

	a.ScheduleHandler = handlers.NewScheduleHandler(
		a.Config,
		a.SchedulerService,
		a.StorageManager,
		a.Logger,
	)

	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	// Stop scheduler first so no new runs start during shutdown
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// Cancel in-flight analyses and wait for their goroutines
	if a.AnalysisService != nil {
		if err := a.AnalysisService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close analysis service")
		}
	}

	// Stop the log -> WebSocket bridge before the event service goes away
	if a.WSWriter != nil {
		a.WSWriter.Close()
		a.Logger.Info().Msg("Log streaming stopped")
	}

	// Close event service
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	// Close storage
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
