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

	"github.com/marcelujan/mgq-admin-sub000/internal/api/handler"
	"github.com/marcelujan/mgq-admin-sub000/internal/api/router"
	"github.com/marcelujan/mgq-admin-sub000/internal/config"
	"github.com/marcelujan/mgq-admin-sub000/internal/engine"
	"github.com/marcelujan/mgq-admin-sub000/internal/jobs"
	jobstorage "github.com/marcelujan/mgq-admin-sub000/internal/jobs/storage"
	"github.com/marcelujan/mgq-admin-sub000/internal/pricing"
	pricingstorage "github.com/marcelujan/mgq-admin-sub000/internal/pricing/storage"
	"github.com/marcelujan/mgq-admin-sub000/shared/logger"
	"github.com/marcelujan/mgq-admin-sub000/shared/postgresql"
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

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, dbClient)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
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

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
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
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRouter wires the storage layers, engine registry and workflows into the
// Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, dbClient *postgresql.Client) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	httpClient := &http.Client{Timeout: cfg.Scraper.FetchTimeout}
	registry := engine.NewRegistry(logger, httpClient)
	registry.Register(engine.NewCatalogJSONEngine(logger, httpClient).WithUserAgent(cfg.Scraper.UserAgent))

	jobStore := jobstorage.NewStorage(dbClient, logger)
	pricingStore := pricingstorage.NewStorage(dbClient, logger)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "api"
	}

	leaseDuration := cfg.Worker.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = time.Minute
	}
	maxAttempts := cfg.Worker.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	orchestrator := pricing.NewOrchestrator(pricingStore, registry, pricing.Config{
		BatchSize:   cfg.Pricing.BatchSize,
		TimeBudget:  cfg.Pricing.TimeBudget,
		MaxAttempts: cfg.Pricing.MaxAttempts,
	}, logger)

	handlerDeps := &handler.Dependencies{
		Logger:       logger,
		Jobs:         jobStore,
		Pricing:      pricingStore,
		Runner:       jobs.NewRunner(jobStore, registry, logger),
		Approver:     jobs.NewApprover(jobStore, pricingStore, logger),
		Orchestrator: orchestrator,
		Defaults: handler.JobDefaults{
			MaxAttempts:   maxAttempts,
			LeaseDuration: leaseDuration,
			WorkerID:      fmt.Sprintf("api-%s", hostname),
		},
	}

	// Setup router
	return router.SetupRouter(handlerDeps, cfg.Pricing.AuthToken)
}
