package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/evidchain/ai-analysis-service/internal/auth"
	"github.com/evidchain/ai-analysis-service/internal/broker"
	"github.com/evidchain/ai-analysis-service/internal/cache"
	"github.com/evidchain/ai-analysis-service/internal/config"
	"github.com/evidchain/ai-analysis-service/internal/orchestrator"
	"github.com/evidchain/ai-analysis-service/internal/processor"
	"github.com/evidchain/ai-analysis-service/internal/store"
	"github.com/evidchain/ai-analysis-service/internal/worker"
	"github.com/evidchain/ai-analysis-service/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	storeAdapter := initStore(&cfg.Database, appLogger.Logger)
	cacheAdapter := initCache(&cfg.Redis, appLogger.Logger)
	brokerAdapter := initBroker(&cfg.RabbitMQ, appLogger.Logger)
	defer func() {
		storeAdapter.Close()
		cacheAdapter.Close()
		brokerAdapter.Close()
	}()

	// The worker cannot run without its queues; wait for the broker here
	// rather than failing on the first consume.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = brokerAdapter.EnsureReady(startupCtx)
	startupCancel()
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	authService := auth.New(&auth.Config{
		Secret:        cfg.Auth.JWTSecret,
		TokenLifetime: cfg.Auth.TokenLifetime,
	})

	orch := orchestrator.New(storeAdapter, cacheAdapter, brokerAdapter, appLogger.Logger)
	deliverer := orchestrator.NewDeliverer(&orchestrator.DeliveryConfig{
		EvidenceServiceURL: cfg.Delivery.EvidenceServiceURL,
		CallbackTimeout:    cfg.Delivery.CallbackTimeout,
	}, brokerAdapter, authService, nil, appLogger.Logger)

	workerInstance := worker.New(&worker.Config{
		Logger:        appLogger.Logger,
		Broker:        brokerAdapter,
		Lifecycle:     orch,
		Deliverer:     deliverer,
		Processors:    processor.All(&processor.Config{StageDelay: 2 * time.Second}),
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	cancel()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

func initStore(cfg *config.DatabaseConfig, logger *slog.Logger) *store.Postgres {
	return store.New(&store.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		MigrationsDir:   cfg.MigrationsDir,
	}, logger)
}

func initCache(cfg *config.RedisConfig, logger *slog.Logger) *cache.Redis {
	return cache.New(&cache.Config{
		Addr:           cfg.Addr,
		Password:       cfg.Password,
		DB:             cfg.DB,
		MaxConnections: cfg.MaxConnections,
		DialTimeout:    cfg.DialTimeout,
		StatusTTL:      cfg.StatusTTL,
		ResultTTL:      cfg.ResultTTL,
	}, logger)
}

func initBroker(cfg *config.RabbitMQConfig, logger *slog.Logger) *broker.Client {
	return broker.New(&broker.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}
