package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/patient-inbox/internal/api/http"
	"github.com/spec-kit/patient-inbox/internal/api/http/handlers"
	"github.com/spec-kit/patient-inbox/internal/auth"
	"github.com/spec-kit/patient-inbox/internal/clock"
	"github.com/spec-kit/patient-inbox/internal/config"
	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/events"
	"github.com/spec-kit/patient-inbox/internal/observability"
	"github.com/spec-kit/patient-inbox/internal/persistence"
	"github.com/spec-kit/patient-inbox/internal/repository"
	"github.com/spec-kit/patient-inbox/internal/sender"
	"github.com/spec-kit/patient-inbox/internal/service"
	"github.com/spec-kit/patient-inbox/internal/triage"
	"github.com/spec-kit/patient-inbox/internal/worker"
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

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	nc, err := persistence.NewNATS(cfg.NATS, logger)
	if err != nil {
		logger.Fatal("failed to connect nats", zap.Error(err))
	}
	defer nc.Close()

	defaultSettings, _ := domain.ParseAutoCloseSettings(cfg.Inbox.DefaultAutoCloseDays)
	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()
	var settingsRepo repository.SettingsRepository
	if err := redis.Ping(ctx); err != nil {
		logger.Warn("redis unavailable; auto-close settings kept in memory", zap.Error(err))
		settingsRepo = repository.NewMemorySettingsRepository(defaultSettings)
		redis = nil
	} else {
		settingsRepo = repository.NewRedisSettingsRepository(redis.Client, defaultSettings)
	}

	var (
		store     repository.ConversationStore
		patients  repository.PatientDirectory
		staffRepo repository.StaffRepository
	)
	if pool := pg.PoolHandle(); pool != nil {
		store = repository.NewPostgresConversationStore(pool)
		patients = repository.NewPostgresPatientDirectory(pool)
		staffRepo = repository.NewStaffRepository(pool)
	} else {
		logger.Warn("running without postgres; conversations and staff are kept in memory")
		store = repository.NewMemoryConversationStore()
		patients = repository.NewMemoryPatientDirectory()
		staffRepo = repository.NewMemoryStaffRepository()
	}

	dispatcher := events.NewInMemoryDispatcher()
	if nc.Enabled() {
		events.NewNATSForwarder(nc.Conn, cfg.NATS.EventsPrefix, logger).Attach(dispatcher)
	}
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, logger))

	var outbound sender.MessageSender
	if nc.Enabled() {
		outbound = sender.NewNATSSender(nc.Conn, cfg.NATS.OutboundPrefix, logger)
	} else {
		outbound = sender.NewLogSender(cfg.Inbox.SimulatedLatency, logger)
	}

	engine := triage.NewEngine(triage.Options{ClinicPhone: cfg.Inbox.ClinicPhone, BookingURL: cfg.Inbox.BookingURL})
	manager := service.NewConversationManager(service.ConversationDependencies{
		Store:           store,
		Patients:        patients,
		Settings:        settingsRepo,
		Sender:          outbound,
		Dispatcher:      dispatcher,
		Triage:          engine,
		Clock:           clock.Real{},
		Logger:          logger,
		Metrics:         metrics,
		DeliveryTimeout: cfg.Inbox.DeliveryTimeout,
	})
	if err := manager.Load(ctx); err != nil {
		logger.Fatal("failed to load conversations", zap.Error(err))
	}

	authService := service.NewAuthService(*cfg, service.AuthDependencies{StaffRepo: staffRepo})
	if err := authService.EnsureBootstrapAdmin(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPass, logger); err != nil {
		logger.Fatal("failed to bootstrap admin", zap.Error(err))
	}
	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), staffRepo)

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		worker.NewAutoCloseScheduler(manager, cfg.Inbox.AutoCloseInterval, logger, metrics).Run(schedulerCtx)
	}()

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, nc),
		Staff:          handlers.NewStaffHandler(authService),
		Conversations:  handlers.NewConversationsHandler(manager),
		Triage:         handlers.NewTriageHandler(engine, manager, clock.Real{}),
		Webhooks:       handlers.NewWebhookHandler(manager, cfg.Auth.WebhookSecret),
		Settings:       handlers.NewSettingsHandler(manager),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	stopScheduler()
	background.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Inbox.DeliveryTimeout)
	defer drainCancel()
	if err := manager.Shutdown(drainCtx); err != nil {
		logger.Warn("in-flight deliveries cancelled", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
