package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"beacon/internal/api"
	"beacon/internal/channel"
	"beacon/internal/config"
	"beacon/internal/constants"
	"beacon/internal/dedup"
	"beacon/internal/delivery"
	"beacon/internal/logger"
	"beacon/internal/orchestrator"
	"beacon/internal/queue"
	"beacon/internal/ratelimit"
	"beacon/internal/records"
	"beacon/internal/routing"
	"beacon/pkg/bootstrap"
	"beacon/pkg/cel"
	apperrors "beacon/pkg/errors"
	"beacon/pkg/health"
	"beacon/pkg/logging"
	"beacon/pkg/metrics"
	"beacon/pkg/migrations"
	"beacon/pkg/models"
)

const serviceName = "notify-service"

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector

	redis       *redis.Client
	postgres    *sql.DB
	mongoClient *mongo.Client

	dedupService *dedup.Service
	rateLimiter  *ratelimit.Service
	routing      *routing.Service
	recordsRepo  records.Repository
	sweeper      *records.Sweeper
	manager      *queue.Manager
	pool         *delivery.Pool
	orch         *orchestrator.Service
	results      chan delivery.Result

	server *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(serviceName)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(serviceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	metrics.RegisterEngineMetrics()
	metrics.RegisterBrokerMetrics()
	metrics.RegisterHTTPMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	a.initHTTPServer()

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb

	pg, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.postgres = pg

	if a.Config.Database.RunMigrations {
		dir := a.Config.Database.MigrationsDir
		if dir == "" {
			dir = "migrations/postgres"
		}
		if err := migrations.RunPostgres(a.postgres, dir); err != nil {
			return err
		}
		a.Logger.Info("PostgreSQL migrations applied")
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	return nil
}

func (a *App) initServices(ctx context.Context) error {
	initCtx := logging.WithServiceName(ctx, serviceName)

	dbName := a.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	a.recordsRepo = records.NewRepository(a.mongoClient.Database(dbName))
	if err := a.recordsRepo.EnsureIndexes(ctx); err != nil {
		return err
	}
	a.sweeper = records.NewSweeper(a.recordsRepo, a.Config.Records, a.Logger)

	dedupRepo := dedup.Repository(dedup.NewRepository(a.redis))
	if a.Config.CircuitBreaker.Enabled {
		dedupRepo = dedup.NewCircuitBreakerRepository(dedupRepo, a.Config.CircuitBreaker)
		a.Logger.InfowCtx(initCtx, "Circuit breaker enabled for dedup repository")
	}
	a.dedupService = dedup.NewService(dedupRepo, a.Config.Dedup, a.Logger)

	a.rateLimiter = ratelimit.NewService(ratelimit.NewRepository(a.redis), a.Config.RateLimit, a.Logger)

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return err
	}
	a.routing = routing.NewService(routing.NewRepository(a.postgres), evaluator, a.Config.Routing, a.Logger)
	if err := a.routing.Start(ctx); err != nil {
		return err
	}

	a.manager = queue.NewManager(a.Config.Queue, a.Logger)

	resultBuffer := a.Config.Queue.ResultBuffer
	if resultBuffer <= 0 {
		resultBuffer = 256
	}
	a.results = make(chan delivery.Result, resultBuffer)

	realtimeTopic := a.Config.Broker.Kafka.RealtimeTopic
	if realtimeTopic == "" {
		realtimeTopic = constants.DefaultRealtimeTopic
	}
	dlqTopic := a.Config.Broker.Kafka.DLQTopic
	if dlqTopic == "" {
		dlqTopic = constants.DefaultDLQTopic
	}

	timeout := time.Duration(a.Config.Channels.DeliveryTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultDeliveryTimeout
	}
	adapters := []channel.Adapter{
		channel.NewPushAdapter(a.Config.Channels.Push, timeout, a.Logger),
		channel.NewWebhookAdapter(a.Config.Channels.Webhook, timeout, a.Logger),
		channel.NewRealtimeAdapter(a.Producer, realtimeTopic, a.Logger),
	}

	a.orch = orchestrator.NewService(
		a.dedupService.Hasher(),
		a.dedupService,
		a.rateLimiter,
		a.routing,
		a.manager,
		a.recordsRepo,
		a.Producer,
		a.Config.Retry,
		dlqTopic,
		a.Logger,
	)

	a.pool = delivery.NewPool(
		a.manager,
		adapters,
		a.Config.Queue,
		a.Config.Channels,
		a.Config.CircuitBreaker,
		a.orch.AdmitForDelivery,
		a.results,
		a.Logger,
	)

	return nil
}

func (a *App) initHTTPServer() {
	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewRedisChecker(a.redis))
	healthRegistry.Register(health.NewPostgreSQLChecker(a.postgres))
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))

	router := api.SetupRouter(
		api.NewNotificationHandler(a.orch, a.recordsRepo, a.Logger),
		api.NewRoutingHandler(a.routing, a.Logger),
		a.manager,
		healthRegistry,
		a.Config.HTTPRateLimit,
		a.Logger,
	)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeoutSeconds,
		WriteTimeout: a.Config.Server.WriteTimeoutSeconds,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	a.pool.Start()
	a.sweeper.Start()

	g.Go(func() error {
		a.orch.RunOutcomes(gCtx, a.results)
		return nil
	})

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	eventsTopic := a.Config.Broker.Kafka.EventsTopic
	if eventsTopic == "" {
		eventsTopic = constants.DefaultEventsTopic
	}
	g.Go(func() error {
		return a.Consumer.Consume(gCtx, eventsTopic, a.handleIngressEvent)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// handleIngressEvent feeds broker events through the same admission pipeline
// as HTTP submissions. Validation failures are final; returning nil commits
// the message instead of retrying something that can never pass.
func (a *App) handleIngressEvent(ctx context.Context, event models.NotificationEvent) error {
	result, err := a.orch.Submit(ctx, event, "kafka")
	if err != nil {
		if apperrors.IsValidation(err) {
			a.Logger.WarnwCtx(ctx, "Dropping invalid broker event",
				"error", err,
				"event_type", event.EventType,
			)
			return nil
		}
		return err
	}

	if result.Duplicate {
		a.Logger.DebugwCtx(ctx, "Broker event was duplicate",
			"record_id", result.RecordID,
		)
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, serviceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down notification delivery engine")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.pool != nil {
			a.pool.Stop()
		}
		if a.manager != nil {
			a.manager.Stop()
		}
		if a.sweeper != nil {
			a.sweeper.Stop()
		}
		if a.routing != nil {
			a.routing.Stop()
		}
		if a.dedupService != nil {
			a.dedupService.StopStoreSizeUpdater()
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.postgres, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
