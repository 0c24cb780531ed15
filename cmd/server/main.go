package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	dapr "github.com/dapr/go-sdk/client"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"subscriber-api/internal/app"
	"subscriber-api/internal/config"
	"subscriber-api/internal/database"
	"subscriber-api/internal/logging"
	"subscriber-api/internal/repository"
	"subscriber-api/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "configuration.yaml", "path to the YAML configuration file")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(settings.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.WithField("config", settings.String()).Info("Configuration loaded")

	tp, err := telemetry.InitTracing(settings.Application.ServiceName, settings.Application.ServiceVersion, os.Stdout)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}
	defer func() {
		if err := telemetry.ShutdownTracing(context.Background(), tp); err != nil {
			logger.WithError(err).Error("Error shutting down tracer provider")
		}
	}()

	repo, closeRepo, err := buildRepository(context.Background(), settings, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize subscriber store")
	}
	defer closeRepo()

	application := app.Build(&app.Config{
		ServiceName:    settings.Application.ServiceName,
		ServiceVersion: settings.Application.ServiceVersion,
		Addr:           settings.Application.Addr(),
		MaxBodyBytes:   settings.Application.MaxBodyBytes,
		StoreTimeout:   settings.Store.WriteTimeout,
		Logger:         logger,
		TracerProvider: otel.GetTracerProvider(),
		GinMode:        settings.GinMode,
		Repository:     repo,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- application.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			logger.WithError(err).Error("Server failed")
		}
		return
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), settings.Application.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// buildRepository returns the configured store and a func that releases
// whatever it holds open.
func buildRepository(ctx context.Context, settings *config.Settings, logger *logging.ContextLogger) (repository.SubscriberRepository, func(), error) {
	switch settings.Store.Backend {
	case config.BackendPostgres:
		pool, err := database.NewPool(ctx, settings.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if settings.Database.Migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		logger.WithFields(logrus.Fields{
			"backend":   settings.Store.Backend,
			"max_conns": settings.Database.MaxConns,
		}).Info("Connected to database")
		return repository.NewPostgresSubscriberRepository(pool), pool.Close, nil

	case config.BackendDapr:
		client, err := dapr.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("connect to dapr sidecar: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"backend":    settings.Store.Backend,
			"dapr_store": settings.Store.DaprStoreName,
		}).Info("Connected to dapr sidecar")
		return repository.NewDaprSubscriberRepository(client, settings.Store.DaprStoreName), client.Close, nil

	default:
		logger.Warn("Using in-memory subscriber store; data will not survive a restart")
		return repository.NewInMemorySubscriberRepository(), func() {}, nil
	}
}
