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

	"github.com/cuongbtq/scan-orchestrator/internal/config"
	"github.com/cuongbtq/scan-orchestrator/internal/events"
	"github.com/cuongbtq/scan-orchestrator/internal/gitfetch"
	"github.com/cuongbtq/scan-orchestrator/internal/runner"
	"github.com/cuongbtq/scan-orchestrator/internal/scanners"
	"github.com/cuongbtq/scan-orchestrator/internal/store"
	"github.com/cuongbtq/scan-orchestrator/internal/worker"
	"github.com/cuongbtq/scan-orchestrator/shared/logger"
	"github.com/cuongbtq/scan-orchestrator/shared/postgresql"
	"github.com/cuongbtq/scan-orchestrator/shared/rabbitmq"
	"github.com/joho/godotenv"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	jobStore, err := store.NewPostgresStore(context.Background(), dbClient.GetDB(), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}

	// Initialize the lifecycle event publisher; RabbitMQ is optional
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RabbitMQ.Host != "" {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		publisher = events.NewRabbitPublisher(rabbitClient, appLogger.Logger)
		appLogger.Info("RabbitMQ connection established")
	}

	// Assemble the scan pipeline
	dockerRunner := runner.NewDockerRunner(appLogger.Logger)
	fetcher := gitfetch.NewFetcher(dockerRunner, cfg.Scanners.GitImage, appLogger.Logger)

	tools, err := buildTools(&cfg.Scanners)
	if err != nil {
		return err
	}

	pipeline := worker.NewPipeline(&worker.PipelineConfig{
		Logger:       appLogger.Logger,
		Store:        jobStore,
		Runner:       dockerRunner,
		Fetcher:      fetcher,
		Publisher:    publisher,
		Tools:        tools,
		WorkRoot:     cfg.Worker.WorkRoot,
		CloneTimeout: cfg.Worker.CloneTimeout,
		ScanTimeout:  cfg.Worker.ScanTimeout,
	})

	pool := worker.NewWorker(&worker.Config{
		Logger:       appLogger.Logger,
		Store:        jobStore,
		Pipeline:     pipeline,
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
	})

	// Run the pool until a signal arrives or the store becomes
	// unreachable. A store failure exits non-zero so the supervisor
	// restarts the process.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- pool.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		appLogger.Info("Shutting down worker service...")
		cancel()

		select {
		case <-errChan:
		case <-time.After(cfg.Worker.ShutdownTimeout):
			appLogger.Warn("Shutdown timeout exceeded, exiting")
		}

		appLogger.Info("Worker service shutdown complete")
		return nil
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			appLogger.Error("Worker pool failed",
				slog.Any("error", err),
			)
			return err
		}
		return nil
	}
}

// buildTools resolves the enabled scanner list into driver/image pairs.
func buildTools(cfg *config.ScannersConfig) ([]worker.Tool, error) {
	names := cfg.Enabled
	if len(names) == 0 {
		names = scanners.DefaultOrder()
	}

	tools := make([]worker.Tool, 0, len(names))
	for _, name := range names {
		driver, ok := scanners.ByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown scanner %q", name)
		}
		tools = append(tools, worker.Tool{
			Driver: driver,
			Image:  cfg.ImageFor(name),
		})
	}

	return tools, nil
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

// initRabbitMQ initializes the RabbitMQ client for event publishing
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
