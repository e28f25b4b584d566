package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/marketfuse/attribution-engine/internal/cache"
	"github.com/marketfuse/attribution-engine/internal/config"
	"github.com/marketfuse/attribution-engine/internal/dlqworker"
	"github.com/marketfuse/attribution-engine/internal/healthcheck"
	"github.com/marketfuse/attribution-engine/internal/jetstream"
	"github.com/marketfuse/attribution-engine/internal/observer"
	"github.com/marketfuse/attribution-engine/internal/storage"
	"github.com/marketfuse/attribution-engine/internal/usecase"
	"github.com/marketfuse/attribution-engine/pkg/logger"
	"github.com/marketfuse/attribution-engine/pkg/utils"
)

// Bloom filter sizing for the per-org event dedupe cache.
const (
	dedupeExpectedEvents = 5_000_000
	dedupeFalsePositive  = 0.01
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Initialize Metrics conditionally
	metricsEnabled := cfg.Metrics.Enabled
	observer.InitMetrics(metricsEnabled)

	// Log startup information
	logger.Log.Info("Starting Attribution Engine",
		zap.String("environment", cfg.Environment),
		zap.String("org_id", cfg.Org.ID),
		zap.String("nats_url", cfg.NATS.URL),
	)

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate, cfg.Org.ID)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Initialize JetStream client
	jsClient, err := initJetStreamClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// Create repository adapters for the services
	touchpointRepo := storage.NewTouchpointRepoAdapter(postgresRepo)
	conversionRepo := storage.NewConversionRepoAdapter(postgresRepo)
	attributionRepo := storage.NewAttributionRepoAdapter(postgresRepo)
	modelConfigRepo := storage.NewModelConfigRepoAdapter(postgresRepo)
	mmmRepo := storage.NewMMMRepoAdapter(postgresRepo)
	exhaustedEventRepo := storage.NewExhaustedEventRepoAdapter(postgresRepo)

	// Create the tracker and attribution engine
	tracker := usecase.NewTrackerService(touchpointRepo, conversionRepo, modelConfigRepo, cfg.Attribution.LookbackWindowDays)
	engine := usecase.NewAttributionEngine(touchpointRepo, conversionRepo, attributionRepo, modelConfigRepo, cfg.Attribution)

	// Create worker pools
	attributionWorker, err := usecase.NewAttributionWorker(
		cfg.WorkerPools.Attribution,
		engine,
		logger.Log, // Pass the base logger
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize attribution worker pool", zap.Error(err))
	}

	mmmService := usecase.NewMMMService(mmmRepo, cfg.MMM)
	trainingWorker, err := usecase.NewTrainingWorker(
		cfg.WorkerPools.Training,
		mmmService,
		logger.Log,
	)
	if err != nil {
		logger.Log.Fatal("Failed to initialize training worker pool", zap.Error(err))
	}

	// Per-org bloom filter that screens duplicate event IDs before they hit
	// the unique constraint
	dedupeCache := cache.NewEventDedupeCache(cfg.Org.ID, dedupeExpectedEvents, dedupeFalsePositive)

	// Create service, injecting the worker pools
	service := usecase.NewEventService(tracker, dedupeCache, attributionWorker, trainingWorker)

	// Sweeper that requeues conversions left in pending after a failed or
	// rejected attribution run
	sweeper := usecase.NewAttributionSweeper(
		conversionRepo,
		attributionWorker,
		cfg.Org.ID,
		time.Duration(cfg.Attribution.SweepIntervalMinutes)*time.Minute,
		cfg.Attribution.SweepBatchSize,
		logger.Log,
	)

	// Create and set up processor - takes the full config object
	processor := usecase.NewProcessor(service, jsClient, cfg, cfg.Org.ID)
	if err := processor.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up processor", zap.Error(err))
	}

	// Create and initialize DLQ Worker - requires router from processor and exhausted repo
	dlqWorker, err := dlqworker.NewWorker(cfg, logger.Log, jsClient.NatsConn(), jsClient, processor.GetRouter(), exhaustedEventRepo)
	if err != nil {
		logger.Log.Fatal("Failed to initialize DLQ Worker", zap.Error(err))
	}

	// Create health check server
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)

	// Register metrics handler if enabled BEFORE starting the server
	if metricsEnabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	} else {
		logger.Log.Info("Metrics endpoint disabled for environment", zap.String("environment", cfg.Environment))
	}

	// Start health check server (which now might include /metrics)
	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	// Start processor
	if err := processor.Start(); err != nil {
		logger.Log.Fatal("Failed to start processor", zap.Error(err))
	}

	// Start DLQ worker in a separate goroutine
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()
	sweeper.Start(mainCtx)
	sigChan := make(chan os.Signal, 1)
	go func() {
		if err := dlqWorker.Start(mainCtx); err != nil {
			logger.Log.Error("DLQ Worker failed to start or encountered an error, initiating shutdown...", zap.Error(err))
			mainCancel()
			select {
			case sigChan <- syscall.SIGTERM:
			default: // Avoid blocking if channel is full or main isn't ready
				logger.Log.Warn("Could not send SIGTERM to signal channel immediately")
			}
		}
	}()

	// Wait for termination signal
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	// Signal main context cancellation for DLQ worker
	mainCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	// Use WaitGroup to track shutdown of all components
	var wg sync.WaitGroup

	// processor, dlq worker, worker pools, health server, connections
	numComponents := 5
	wg.Add(numComponents)

	// Shutdown processor (JetStream consumers)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping event processor")
		start := time.Now()
		processor.Stop()
		logger.Log.Info("[shutdown] Event processor stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping event processor",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done() // Ensure WaitGroup is decremented even in case of panic
	})

	// Shutdown DLQ Worker
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping DLQ worker")
		start := time.Now()
		dlqWorker.Stop()
		logger.Log.Info("[shutdown] DLQ worker stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping DLQ worker",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown worker pools
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping worker pools")
		start := time.Now()
		sweeper.Stop()
		attributionWorker.Stop()
		trainingWorker.Stop()
		logger.Log.Info("[shutdown] Worker pools stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping worker pools",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Shutdown health check server (includes metrics if enabled)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Health check server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Close database and NATS connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsStart := time.Now()
		jsClient.Close()
		logger.Log.Info("[shutdown] JetStream connection closed",
			zap.Duration("duration", time.Since(jsStart)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r),
			zap.ByteString("stack", stack),
		)
		wg.Done()
	})

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Attribution Engine shutdown complete")
}

// Initialize PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool, orgID string) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}

// initJetStreamClient initializes the JetStream client
func initJetStreamClient(url string) (*jetstream.Client, error) {
	client, err := jetstream.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream client: %w", err)
	}
	// Stream and consumer setup is handled within the processor/consumer Setup methods
	return client, nil
}
