package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/permit-service/internal/api/http"
	"github.com/spec-kit/permit-service/internal/api/http/handlers"
	"github.com/spec-kit/permit-service/internal/auth"
	"github.com/spec-kit/permit-service/internal/config"
	"github.com/spec-kit/permit-service/internal/events"
	"github.com/spec-kit/permit-service/internal/fee"
	"github.com/spec-kit/permit-service/internal/gateway"
	"github.com/spec-kit/permit-service/internal/observability"
	"github.com/spec-kit/permit-service/internal/persistence"
	"github.com/spec-kit/permit-service/internal/repository"
	"github.com/spec-kit/permit-service/internal/repository/memory"
	"github.com/spec-kit/permit-service/internal/service"
	"github.com/spec-kit/permit-service/internal/worker"
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

	if pg.Pool != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	repos := newRepositories(pg, logger)

	table := fee.DefaultTable()
	if cfg.Fee.PolicyFile != "" {
		table, err = fee.LoadTable(cfg.Fee.PolicyFile)
		if err != nil {
			logger.Fatal("failed to load fee policy", zap.String("path", cfg.Fee.PolicyFile), zap.Error(err))
		}
	}
	calculator := fee.NewCalculator(table)

	paymentGateway, err := gateway.NewClient(cfg.Payment)
	if err != nil {
		logger.Fatal("failed to configure payment gateway", zap.Error(err))
	}

	var completionLock service.CompletionLocker
	if redis.Client != nil {
		completionLock = persistence.NewCompletionLock(redis, cfg.Payment.CompletionLockTTL())
	}

	dispatcher := events.NewInMemoryDispatcher()
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	applicationService := service.NewApplicationService(service.ApplicationDependencies{
		ApplicationRepo: repos.applications,
		TransactionRepo: repos.transactions,
		HistoryRepo:     repos.history,
		Calculator:      calculator,
		NoFee:           service.NewStaticNoFeeDirectory(cfg.Fee.NoFeeCompanies),
		Dispatcher:      dispatcher,
		Logger:          logger,
	})
	paymentService := service.NewPaymentService(service.PaymentDependencies{
		ApplicationRepo: repos.applications,
		TransactionRepo: repos.transactions,
		HistoryRepo:     repos.history,
		Calculator:      calculator,
		Gateway:         paymentGateway,
		CompletionLock:  completionLock,
		Dispatcher:      dispatcher,
		ReturnURL:       cfg.Payment.ReturnURL,
		Logger:          logger,
	})
	queueService := service.NewQueueService(service.QueueDependencies{
		ApplicationRepo:   repos.applications,
		QueueActivityRepo: repos.activities,
		HistoryRepo:       repos.history,
		Dispatcher:        dispatcher,
		Logger:            logger,
	})

	metrics := observability.NewMetrics()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:          handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, metrics),
		Applications:    handlers.NewApplicationsHandler(applicationService),
		Permits:         handlers.NewPermitsHandler(applicationService, paymentService),
		Payments:        handlers.NewPaymentsHandler(paymentService, metrics, logger),
		Queue:           handlers.NewQueueHandler(queueService),
		Fees:            handlers.NewFeesHandler(applicationService),
		AuthMiddleware:  auth.NewAuthMiddleware(tokens),
		CallbackLimiter: httptransport.NewCallbackLimiter(cfg.Payment.CallbackRatePerSecond, cfg.Payment.CallbackBurst),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

type repositories struct {
	applications repository.ApplicationRepository
	transactions repository.TransactionRepository
	activities   repository.QueueActivityRepository
	history      repository.ApplicationHistoryRepository
}

// newRepositories picks PostgreSQL when a pool is available and the
// in-memory store otherwise.
func newRepositories(pg *persistence.Postgres, logger *zap.Logger) repositories {
	if pg.Pool == nil {
		logger.Warn("using in-memory store; data will not survive restarts")
		store := memory.NewStore()
		return repositories{
			applications: store.Applications(),
			transactions: store.Transactions(),
			activities:   store.QueueActivities(),
			history:      store.History(),
		}
	}
	pool := pg.PoolHandle()
	return repositories{
		applications: repository.NewApplicationRepository(pool),
		transactions: repository.NewTransactionRepository(pool),
		activities:   repository.NewQueueActivityRepository(pool),
		history:      repository.NewApplicationHistoryRepository(pool),
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
