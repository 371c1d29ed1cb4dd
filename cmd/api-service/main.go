package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/evidchain/ai-analysis-service/internal/api/handler"
	"github.com/evidchain/ai-analysis-service/internal/api/router"
	"github.com/evidchain/ai-analysis-service/internal/auth"
	"github.com/evidchain/ai-analysis-service/internal/broker"
	"github.com/evidchain/ai-analysis-service/internal/cache"
	"github.com/evidchain/ai-analysis-service/internal/config"
	"github.com/evidchain/ai-analysis-service/internal/orchestrator"
	"github.com/evidchain/ai-analysis-service/internal/store"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Adapters dial lazily; a down backend keeps the API up in degraded mode.
	storeAdapter := initStore(&cfg.Database, appLogger.Logger)
	cacheAdapter := initCache(&cfg.Redis, appLogger.Logger)
	brokerAdapter := initBroker(&cfg.RabbitMQ, appLogger.Logger)
	defer func() {
		storeAdapter.Close()
		cacheAdapter.Close()
		brokerAdapter.Close()
	}()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 10*time.Second)
	warmupAdapters(startupCtx, appLogger.Logger, storeAdapter, cacheAdapter, brokerAdapter)
	startupCancel()

	authService := auth.New(&auth.Config{
		Secret:        cfg.Auth.JWTSecret,
		TokenLifetime: cfg.Auth.TokenLifetime,
	})

	orch := orchestrator.New(storeAdapter, cacheAdapter, brokerAdapter, appLogger.Logger)

	r := initRouter(cfg.App.Environment, &handler.Dependencies{
		Logger:   appLogger.Logger,
		Service:  orch,
		Verifier: authService,
		Store:    storeAdapter,
		Cache:    cacheAdapter,
		Broker:   brokerAdapter,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// warmupAdapters attempts the first connection to each backend so a healthy
// deployment is ready before traffic arrives. Failures are logged, not fatal.
func warmupAdapters(ctx context.Context, logger *slog.Logger, probes ...interface {
	Ready(ctx context.Context) bool
}) {
	for _, p := range probes {
		if !p.Ready(ctx) {
			logger.Warn("Adapter not ready at startup, will retry on first use")
		}
	}
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
