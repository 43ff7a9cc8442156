package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/workshoplane/api/internal/handlers"
	"github.com/workshoplane/api/internal/platform/config"
	pfirestore "github.com/workshoplane/api/internal/platform/firestore"
	"github.com/workshoplane/api/internal/platform/jobs"
	"github.com/workshoplane/api/internal/platform/observability"
	"github.com/workshoplane/api/internal/repositories"
	firestoreRepo "github.com/workshoplane/api/internal/repositories/firestore"
	"github.com/workshoplane/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := services.BuildInfo{
		Version:     cfg.Build.Version,
		CommitSHA:   cfg.Build.CommitSHA,
		Environment: cfg.Build.Environment,
		StartedAt:   startedAt,
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	var (
		eventPublisher services.EventPublisher = jobs.NewLogEventPublisher(logger.Named("events"))
		eventsTopic    *pubsub.Topic
		eventsClient   *pubsub.Client
	)
	if cfg.Events.Enabled {
		eventsClient, err = pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		eventsTopic = eventsClient.Topic(cfg.Events.TopicID)
		eventPublisher, err = jobs.NewPubSubEventPublisher(eventsTopic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
	}
	defer func() {
		if eventsTopic != nil {
			eventsTopic.Stop()
		}
		if eventsClient != nil {
			if err := eventsClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
	}()

	healthRepo, err := newHealthRepository(firestoreClient, eventsTopic)
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	schedulingService, err := services.NewSchedulingService(services.SchedulingServiceDeps{
		Appointments: registry.Appointments(),
		Orders:       registry.Orders(),
		Counters:     registry.Counters(),
		Directory:    registry.Directory(),
		UnitOfWork:   registry,
		Clock:        time.Now,
		Events:       eventPublisher,
		Logger:       observability.ServiceLogger(logger.Named("scheduling")),
	})
	if err != nil {
		logger.Fatal("failed to initialise scheduling service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:    registry.Orders(),
		Directory: registry.Directory(),
		Clock:     time.Now,
		Events:    eventPublisher,
		Logger:    observability.ServiceLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: registry.Health(),
		Clock:            time.Now,
		Build:            buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	appointmentHandlers := handlers.NewAppointmentHandlers(schedulingService)
	orderHandlers := handlers.NewOrderHandlers(orderService, schedulingService)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)

	projectID := cfg.Firestore.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAppointmentRoutes(appointmentHandlers.Routes),
		handlers.WithWorkshopRoutes(appointmentHandlers.WorkshopRoutes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("workshoplane api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newHealthRepository(client *firestore.Client, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		t := topic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				exists, err := t.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", t.ID())
				}
				return nil
			},
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks)
}
