// -----------------------------------------------------------------------
// Application wiring - services assembled in dependency order
// -----------------------------------------------------------------------

package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praeco/internal/common"
	"github.com/ternarybob/praeco/internal/engine"
	"github.com/ternarybob/praeco/internal/interfaces"
	"github.com/ternarybob/praeco/internal/models"
	"github.com/ternarybob/praeco/internal/queue"
	"github.com/ternarybob/praeco/internal/services/browser"
	"github.com/ternarybob/praeco/internal/services/content"
	"github.com/ternarybob/praeco/internal/services/events"
	"github.com/ternarybob/praeco/internal/services/scheduler"
	"github.com/ternarybob/praeco/internal/services/tasks"
	storagebadger "github.com/ternarybob/praeco/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService

	Engine    interfaces.Engine
	TaskStore *tasks.Store
	Pool      *queue.Pool
	Watchdog  *queue.Watchdog

	BrowserManager *browser.Manager
	LoginProbe     *browser.LoginProbe
	LoginScheduler *scheduler.LoginScheduler
	Converter      *content.Converter
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Str("engine_provider", cfg.Engine.Provider).
		Int("workers", cfg.Queue.Workers).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the storage layer (Badger)
func (a *App) initStorage() error {
	manager, err := storagebadger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = manager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initServices initializes all business services in dependency order.
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	a.Logger.Debug().Msg("Event service initialized")

	eng, err := engine.NewEngine(a.Config.Engine, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	a.Engine = eng

	a.TaskStore = tasks.NewStore(
		a.Config.Storage,
		a.StorageManager.TaskStorage(),
		a.EventService,
		a.Logger,
	)
	a.TaskStore.Start()
	a.Logger.Debug().Int("history_limit", a.Config.Storage.HistoryLimit).Msg("Task store started")

	a.Pool = queue.NewPool(a.Config.Queue, a.Engine, a.TaskStore, a.Logger)
	a.Logger.Debug().Int("workers", a.Config.Queue.Workers).Msg("Task pool initialized")

	a.Watchdog = queue.NewWatchdog(a.Config.Queue, a.Pool, a.Logger)
	a.Watchdog.Start()

	a.BrowserManager = browser.NewManager(a.Config.Browser, a.Logger)
	a.LoginProbe = browser.NewLoginProbe(
		a.Config.Login,
		a.StorageManager.LoginStorage(),
		a.BrowserManager,
		a.Logger,
	)
	a.Converter = content.NewConverter(a.Logger)

	if err := a.seedPlatforms(); err != nil {
		return fmt.Errorf("failed to seed platform login records: %w", err)
	}

	a.LoginScheduler = scheduler.NewLoginScheduler(a.LoginProbe, a.Config.Platforms, a.Logger)
	if err := a.LoginScheduler.Start(a.Config.Login.RecheckSchedule); err != nil {
		return fmt.Errorf("failed to start login scheduler: %w", err)
	}

	return nil
}

// seedPlatforms creates login records for configured platforms that have
// none yet. Existing records keep their cached state.
func (a *App) seedPlatforms() error {
	ctx := context.Background()
	store := a.StorageManager.LoginStorage()

	for _, platform := range a.Config.Platforms {
		if _, err := store.GetLoginRecord(ctx, platform.ID); err == nil {
			continue
		}

		record := &models.LoginRecord{
			PlatformID:         platform.ID,
			Status:             models.LoginStatusLoggedOut,
			LoginValidityHours: platform.ValidityHours,
			CheckConfig: models.LoginCheckConfig{
				CheckURL:     platform.CheckURL,
				Domain:       platform.Domain,
				LoginCookies: platform.LoginCookies,
				LoginURL:     platform.LoginURL,
			},
		}
		if err := store.SaveLoginRecord(ctx, record); err != nil {
			return err
		}
		a.Logger.Debug().Str("platform", platform.ID).Msg("Login record seeded")
	}
	return nil
}

// CapturePage renders a URL in the managed browser and distills it to
// markdown suitable for an engine payload.
func (a *App) CapturePage(ctx context.Context, pageURL string) (*content.PageContent, error) {
	session, err := browser.NewAutomationSession(ctx, a.BrowserManager, a.Logger)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	return a.Converter.CapturePage(ctx, session, pageURL)
}

// Shutdown stops all services in reverse dependency order.
func (a *App) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("Shutting down application")

	if a.LoginScheduler != nil {
		a.LoginScheduler.Stop()
	}
	if a.Watchdog != nil {
		a.Watchdog.Stop()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.BrowserManager != nil {
		if err := a.BrowserManager.Stop(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop browser session")
		}
	}
	if a.TaskStore != nil {
		a.TaskStore.Stop()
	}
	if a.EventService != nil {
		a.EventService.Close()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}

	a.Logger.Info().Msg("Shutdown complete")
}
