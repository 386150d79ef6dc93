package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver

	"eventhub/internal/broker"
	"eventhub/internal/config"
	"eventhub/internal/constants"
	"eventhub/internal/event"
	"eventhub/internal/history"
	"eventhub/internal/logger"
	"eventhub/internal/scheduler"
	"eventhub/pkg/bootstrap"
	"eventhub/pkg/health"
	"eventhub/pkg/logging"
	"eventhub/pkg/metrics"
	"eventhub/pkg/tracing"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	producer       broker.Producer
	scheduler      *scheduler.Scheduler
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("scheduler-service")
	}
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	if db == nil {
		return fmt.Errorf("postgres is required for the scheduler service")
	}
	a.db = db

	producer, err := broker.NewProducer(a.config.Broker, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create producer: %w", err)
	}
	a.producer = producer

	tp, err := tracing.Init(a.config.Tracing, "scheduler-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterLifecycleMetrics()
	metrics.RegisterSchedulerMetrics()
	if a.config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initScheduler()

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initScheduler() {
	var eventStore event.Store = event.NewStore(a.db)
	if a.config.CircuitBreaker.Enabled {
		eventStore = event.NewCircuitBreakerStore(eventStore, a.config.CircuitBreaker)
	}
	recorder := history.NewRecorder(history.NewStore(a.db), a.logger)

	processorID, err := os.Hostname()
	if err != nil || processorID == "" {
		processorID = "scheduler-service"
	}

	// Retry attempts re-run the dispatch step only; schema validation
	// and dedup already happened when the event was first ingested.
	lifecycle := event.NewLifecycle(
		eventStore,
		recorder,
		nil,
		nil,
		nil,
		a.config.Processing,
		a.config.Retention,
		processorID,
		a.logger,
	)

	outputTopic := a.config.Broker.Kafka.OutputTopic
	if outputTopic == "" {
		outputTopic = constants.DefaultOutputTopic
	}
	dispatch := func(ctx context.Context, e *event.Event) error {
		return a.producer.Publish(ctx, outputTopic, e.OutboundEnvelope())
	}

	a.scheduler = scheduler.New(
		lifecycle,
		eventStore,
		recorder,
		dispatch,
		a.config.Processing,
		a.config.Retention,
		a.logger,
	)
}

func (a *App) initHTTPServer() error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Server.Port),
		Handler: mux,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "HTTP server starting", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.logger.InfowCtx(gCtx, "Scheduler sweeps starting",
			"sweep_interval", a.config.Processing.SchedulerInterval,
			"retention_interval", a.config.Retention.SweepInterval,
		)
		return a.scheduler.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "scheduler-service")
	a.logger.InfowCtx(shutdownCtx, "Shutting down scheduler service")

	var errs []error

	if a.server != nil {
		serverCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(serverCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, nil, a.db, nil)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(shutdownCtx, "Scheduler service exited successfully")
	return nil
}
