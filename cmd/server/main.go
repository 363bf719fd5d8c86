// Package main provides the entry point for the keyword research service.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helixir/keyword-research-service/internal/batch"
	"github.com/helixir/keyword-research-service/internal/config"
	"github.com/helixir/keyword-research-service/internal/database"
	"github.com/helixir/keyword-research-service/internal/events"
	"github.com/helixir/keyword-research-service/internal/eventual"
	"github.com/helixir/keyword-research-service/internal/idempotency"
	"github.com/helixir/keyword-research-service/internal/observability"
	"github.com/helixir/keyword-research-service/internal/repository"
	"github.com/helixir/keyword-research-service/internal/research"
	httpserver "github.com/helixir/keyword-research-service/internal/server/http"
)

const (
	serviceName        = "keyword-research-service"
	recorderTimeout    = 5 * time.Second
	startupPingTimeout = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("keyword-research-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(cfg.Metrics.Namespace)

	// Remote research API.
	researchClient, err := research.NewClient(research.Config{
		BaseURL:    cfg.Research.BaseURL,
		APIKey:     cfg.Research.APIKey,
		Timeout:    cfg.Research.Timeout,
		RunTimeout: cfg.Research.RunTimeout,
		RateLimit:  cfg.Research.RateLimit,
		Burst:      cfg.Research.Burst,
		MaxRetries: cfg.Research.MaxRetries,
		RetryDelay: cfg.Research.RetryDelay,
	}, metrics, logger)
	if err != nil {
		return fmt.Errorf("create research client: %w", err)
	}

	reader := eventual.NewReader(researchClient, eventual.Config{
		PrimaryAttempts: cfg.Reader.PrimaryAttempts,
		RawAttempts:     cfg.Reader.RawAttempts,
		Delay:           cfg.Reader.Delay,
	}, metrics, logger)

	observers := []batch.Observer{batch.NewMetricsObserver(metrics)}
	checks := make(map[string]httpserver.HealthChecker)

	// Optional PostgreSQL audit trail.
	var history batch.History
	if cfg.Persistence.Enabled {
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		logger.Info().Msg("database connection established")

		if cfg.Database.MigrationAutoRun {
			if err := runMigrations(db, cfg.Database.MigrationPath, logger); err != nil {
				return err
			}
		}

		repo := repository.NewPgBatchRepository(db)
		abandoned, err := repo.AbandonRunning(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("close out interrupted batches: %w", err)
		}
		if abandoned > 0 {
			logger.Warn().Int64("batches", abandoned).Msg("closed out batches interrupted by restart")
		}

		observers = append(observers, batch.NewRecorder(repo, recorderTimeout, logger))
		history = repo
		checks["database"] = db
	}

	// Optional Kafka lifecycle events.
	if cfg.Kafka.Enabled {
		publisher := events.NewPublisher(events.PublisherConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			ServiceName:  serviceName,
		}, metrics, logger)
		defer func() {
			if closeErr := publisher.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close event publisher")
			}
		}()
		observers = append(observers, publisher)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("event publisher enabled")
	}

	executor := batch.NewExecutor(researchClient, batch.ExecutorConfig{RunTimeout: cfg.Research.RunTimeout}, metrics, logger)
	scheduler := batch.NewScheduler(executor, cfg.Batch.Concurrency, logger, observers...)
	manager := batch.NewManager(scheduler, history, batch.ManagerConfig{
		MaxJobs:          cfg.Batch.MaxJobs,
		MaxActiveBatches: cfg.Batch.MaxActiveBatches,
		Retention:        cfg.Batch.Retention,
	}, logger)

	// Optional Redis idempotency store.
	var idempotencyStore httpserver.IdempotencyStore
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if closeErr := redisClient.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close redis client")
			}
		}()
		store := idempotency.NewRedisStore(redisClient, cfg.Redis.IdempotencyTTL)

		pingCtx, cancel := context.WithTimeout(ctx, startupPingTimeout)
		err := store.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("idempotency store connected")

		idempotencyStore = store
		checks["redis"] = store
	}

	// Background workers stop when ctx is cancelled.
	go manager.RunPruner(ctx, cfg.Batch.PruneInterval)

	var listener *events.CommandListener
	if cfg.Kafka.Enabled && cfg.Kafka.CommandTopic != "" {
		listener = events.NewCommandListener(events.ListenerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.CommandTopic,
			GroupID: cfg.Kafka.GroupID,
		}, manager, logger)
	}

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    0, // SSE progress streams outlive any fixed write timeout.
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, httpserver.Dependencies{
		Batches:     manager,
		Records:     reader,
		Idempotency: idempotencyStore,
		Checks:      checks,
		Metrics:     metrics,
	}, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 3)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	if listener != nil {
		go func() {
			if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("command listener error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("http_address", httpCfg.Address).
		Int("concurrency", scheduler.Concurrency()).
		Bool("persistence", cfg.Persistence.Enabled).
		Bool("idempotency", cfg.Redis.Enabled).
		Bool("events", cfg.Kafka.Enabled)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("keyword-research-service is ready")

	// Wait for shutdown signal or server error.
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("server error")
	}
	stop()

	// Graceful shutdown.
	logger.Info().Msg("shutting down keyword-research-service")

	// No new batches or jobs start after this.
	cancelled := manager.Drain()
	logger.Info().Int("cancelled", cancelled).Msg("batches drained")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if listener != nil {
		if err := listener.Close(); err != nil {
			logger.Error().Err(err).Msg("command listener close error")
		}
	}

	// In-flight jobs get their own window before the deferred closes run.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer drainCancel()
	if err := manager.Shutdown(drainCtx); err != nil {
		logger.Error().Err(err).Msg("batch manager shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(drainCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("keyword-research-service shutdown complete")
	return runErr
}

// runMigrations applies all pending migrations.
func runMigrations(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
