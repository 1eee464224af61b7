package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/dwusrc/dwu-src-web-application-sub001/internal/api/http"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/api/http/handlers"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/auth"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/config"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/events"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/observability"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/persistence"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/realtime"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/repository"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/service"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/worker"
)

type repositories struct {
	tickets     repository.TicketRepository
	departments repository.DepartmentRepository
	profiles    repository.ProfileRepository
	history     repository.TicketHistoryRepository
}

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

	if pg.Configured() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	repos := buildRepositories(pg, logger)

	dispatcher := events.NewInMemoryDispatcher()
	feedPublisher := events.NewRedisFeedPublisher(redis.Client, cfg.Realtime.Channel, logger)
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, logger), feedPublisher, dispatcher)

	directory := service.NewDirectoryService(service.DirectoryDependencies{
		Departments: repos.departments,
		Cache:       redis.Client,
		CacheTTL:    cfg.Department.CacheTTL(),
		Logger:      logger,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  repos.tickets,
		HistoryRepo: repos.history,
		Targeting:   service.NewTargetingResolver(directory),
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	claimService := service.NewClaimService(service.ClaimDependencies{
		TicketRepo:  repos.tickets,
		HistoryRepo: repos.history,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		TicketRepo:  repos.tickets,
		HistoryRepo: repos.history,
		ProfileRepo: repos.profiles,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	authMiddleware := auth.NewAuthMiddleware(tokens, repos.profiles)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	checks := []handlers.DependencyCheck{{Name: "redis", Ping: redis.Ping}}
	if pg.Configured() {
		checks = append(checks, handlers.DependencyCheck{Name: "postgres", Ping: pg.Ping})
	}

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, checks...),
		Tickets:        handlers.NewTicketsHandler(ticketService, claimService, assignmentService),
		Departments:    handlers.NewDepartmentsHandler(directory),
		AuthMiddleware: authMiddleware,
		Metrics:        metrics.Handler(),
	})

	gateway := realtime.NewGateway(authMiddleware, logger, metrics)
	mux := http.NewServeMux()
	mux.Handle("/ws", gateway)
	gatewayServer := &http.Server{
		Addr:              cfg.Realtime.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go gateway.Relay(ctx, redis.Client, cfg.Realtime.Channel, cfg.Realtime.BaseDelay())

	go func() {
		logger.Info("realtime gateway listening", zap.String("addr", cfg.Realtime.Addr))
		if err := gatewayServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("gateway listen", zap.Error(err))
		}
	}()

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	gateway.Shutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = gatewayServer.Shutdown(shutdownCtx)
	_ = app.ShutdownWithContext(shutdownCtx)
}

// buildRepositories uses Postgres when a DSN is configured and falls back to
// in-memory stores for local runs.
func buildRepositories(pg *persistence.Postgres, logger *zap.Logger) repositories {
	if pg.Configured() {
		pool := pg.PoolHandle()
		return repositories{
			tickets:     repository.NewTicketRepository(pool),
			departments: repository.NewDepartmentRepository(pool),
			profiles:    repository.NewProfileRepository(pool),
			history:     repository.NewTicketHistoryRepository(pool),
		}
	}
	logger.Warn("using in-memory repositories; data is lost on restart")
	return repositories{
		tickets:     repository.NewMemoryTicketRepository(),
		departments: repository.NewMemoryDepartmentRepository(),
		profiles:    repository.NewMemoryProfileRepository(),
		history:     repository.NewMemoryTicketHistoryRepository(),
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
