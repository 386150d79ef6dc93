package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"eventhub/internal/config"
	"eventhub/internal/constants"
	"eventhub/internal/dedup"
	"eventhub/internal/event"
	"eventhub/internal/history"
	"eventhub/internal/logger"
	"eventhub/internal/schema"
	"eventhub/pkg/bootstrap"
	"eventhub/pkg/cel"
	pkgerrors "eventhub/pkg/errors"
	"eventhub/pkg/health"
	"eventhub/pkg/logging"
	"eventhub/pkg/metrics"
	"eventhub/pkg/middleware"
	"eventhub/pkg/migrations"
	"eventhub/pkg/models"
	"eventhub/pkg/ratelimit"
	"eventhub/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	lifecycle      *event.Lifecycle
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("ingest-service")
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

	if err := a.initLifecycle(ctx); err != nil {
		return fmt.Errorf("failed to initialize lifecycle: %w", err)
	}

	if err := a.InitBroker("ingest-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "ingest-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterLifecycleMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: a.router,
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("postgres is required for the ingest service")
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(db, constants.PostgresMigrationsPath); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redis = rdb

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	if mongoClient == nil {
		return fmt.Errorf("mongodb is required for the schema registry")
	}
	a.mongoClient = mongoClient

	return nil
}

func (a *App) initLifecycle(ctx context.Context) error {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	dbName := a.Config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	mongoDB := a.mongoClient.Database(dbName)

	schemaStore := schema.NewStore(mongoDB)
	registry := schema.NewRegistry(schemaStore, evaluator, nil, a.Logger)
	validator := schema.NewPayloadValidator(evaluator)

	checker := dedup.NewChecker(dedup.NewRepository(a.redis), a.Config.Dedup, a.Logger)

	var eventStore event.Store = event.NewStore(a.db)
	if a.Config.CircuitBreaker.Enabled {
		eventStore = event.NewCircuitBreakerStore(eventStore, a.Config.CircuitBreaker)
	}
	recorder := history.NewRecorder(history.NewStore(a.db), a.Logger)

	processorID, err := os.Hostname()
	if err != nil || processorID == "" {
		processorID = "ingest-service"
	}

	a.lifecycle = event.NewLifecycle(
		eventStore,
		recorder,
		registry,
		validator,
		checker,
		a.Config.Processing,
		a.Config.Retention,
		processorID,
		a.Logger,
	)
	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("ingest-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.Config.API.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.Config.API.RateLimit.RPS,
			Burst:           a.Config.API.RateLimit.Burst,
			CleanupInterval: time.Duration(a.Config.API.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.Config.API.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
	}

	eventHandler := event.NewAPIHandler(a.lifecycle, a.Logger)
	eventHandler.RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	if a.redis != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redis))
	}
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	inputTopic := a.Config.Broker.Kafka.InputTopic
	if inputTopic == "" {
		inputTopic = constants.DefaultInputTopic
	}
	outputTopic := a.Config.Broker.Kafka.OutputTopic
	if outputTopic == "" {
		outputTopic = constants.DefaultOutputTopic
	}

	g.Go(func() error {
		consumeCtx := logging.WithServiceName(gCtx, "ingest-service")
		a.Logger.InfowCtx(consumeCtx, "Starting submission consumer",
			"input_topic", inputTopic,
			"output_topic", outputTopic,
		)
		return a.Consumer.Consume(gCtx, inputTopic, a.handleSubmission(outputTopic))
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// handleSubmission ingests one envelope from the input topic and, when
// it lands as PENDING, runs its first processing attempt inline.
// Duplicates and validation rejections are settled outcomes, not
// redelivery candidates.
func (a *App) handleSubmission(outputTopic string) func(context.Context, models.SubmissionEnvelope) error {
	dispatch := a.dispatchHandler(outputTopic)

	return func(ctx context.Context, msg models.SubmissionEnvelope) error {
		e, err := a.lifecycle.Ingest(ctx, msg)
		if err != nil {
			if pkgerrors.IsDuplicateEvent(err) || pkgerrors.IsValidation(err) || pkgerrors.IsSchemaNotFound(err) {
				return nil
			}
			return err
		}

		if err := a.lifecycle.ProcessOnce(ctx, e.EventID, dispatch); err != nil {
			a.Logger.ErrorwCtx(ctx, "First processing attempt failed to run",
				"event_id", e.EventID,
				"error", err,
			)
		}
		return nil
	}
}

func (a *App) dispatchHandler(outputTopic string) event.Handler {
	return func(ctx context.Context, e *event.Event) error {
		return a.Producer.Publish(ctx, outputTopic, e.OutboundEnvelope())
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "ingest-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down ingest service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
