package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/courier-track/internal/api/http"
	"github.com/spec-kit/courier-track/internal/api/http/handlers"
	"github.com/spec-kit/courier-track/internal/area"
	"github.com/spec-kit/courier-track/internal/config"
	"github.com/spec-kit/courier-track/internal/events"
	"github.com/spec-kit/courier-track/internal/geocode"
	"github.com/spec-kit/courier-track/internal/ingest"
	"github.com/spec-kit/courier-track/internal/observability"
	"github.com/spec-kit/courier-track/internal/persistence"
	"github.com/spec-kit/courier-track/internal/registry"
	"github.com/spec-kit/courier-track/internal/repository"
	"github.com/spec-kit/courier-track/internal/roster"
	"github.com/spec-kit/courier-track/internal/store"
	"github.com/spec-kit/courier-track/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	records := store.NewRedisStore(redis.Client, logger)

	// resolver and engine reference each other: area refreshes trigger
	// re-renders, renders read the area cache
	var engine *roster.Engine
	geocoder := geocode.NewClient(cfg.Geocoder)
	resolver := area.NewResolver(geocoder, records, cfg.Tracking, logger, metrics,
		func(string) { engine.Invalidate() })
	engine = roster.NewEngine(records, resolver, cfg.Tracking, cfg.Messaging.CountryCode, logger, metrics)

	manager := ingest.NewManager(records, resolver, dispatcher, cfg.Tracking, logger, metrics)
	defer manager.StopAll()

	reg := registry.NewService(records, dispatcher, cfg.Messaging, logger,
		manager.Drop, resolver.Forget)

	var history repository.PositionHistoryRepository
	if pool := pg.PoolHandle(); pool != nil {
		history = repository.NewPositionHistoryRepository(pool)
	}
	worker.NewArchiveWorker(history, metrics, logger).RegisterHandlers(dispatcher)

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("roster engine stopped", zap.Error(err))
		}
	}()

	app := fiber.New(fiber.Config{
		AppName: cfg.App.Name,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:  handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Agents:  handlers.NewAgentsHandler(reg, engine, history, cfg.Messaging.CountryCode),
		Consent: handlers.NewConsentHandler(reg, manager, cfg.Messaging.CountryCode),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
