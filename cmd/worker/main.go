package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/recallmesh/recallmesh/pkg/cache"
	"github.com/recallmesh/recallmesh/pkg/common/config"
	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/embedding"
	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/repository"
	"github.com/recallmesh/recallmesh/pkg/worker"
)

// main runs the embedding job consumer as its own process. Claims are
// skip-locked, so any number of worker replicas can drain the same queue
// alongside the API server's in-process worker.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLogger("worker").
		WithLevel(observability.ParseLogLevel(cfg.Logging.Level))
	metricsClient := observability.NewNoOpMetricsClient()
	defer metricsClient.Close()

	dbConfig := database.NewConfig()
	dbConfig.DSN = cfg.Database.URL
	dbConfig.MaxOpenConns = cfg.Database.MaxOpenConns()
	dbConfig.MaxIdleConns = cfg.Database.PoolSize
	dbConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime()

	db, err := database.NewDatabase(ctx, dbConfig, logger)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	store, err := cache.New(cache.Config{
		Enabled:  cfg.Cache.Enabled,
		Backend:  cfg.Cache.Backend,
		MaxItems: cfg.Cache.MaxItems,
		Redis: cache.RedisConfig{
			Address:  cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			Database: cfg.Cache.RedisDB,
		},
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}

	primary, err := embedding.NewProvider(embedding.Config{
		Provider:   cfg.Embedding.Provider,
		Dimensions: cfg.Embedding.Dimensions,
		OpenAI: embedding.OpenAIConfig{
			BaseURL: cfg.Embedding.OpenAI.BaseURL,
			APIKey:  cfg.Embedding.OpenAI.APIKey,
			Model:   cfg.Embedding.OpenAI.Model,
		},
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize embedding provider: %v", err)
	}
	breaker := embedding.NewCircuitBreakerProvider(
		primary,
		embedding.NewMockProvider(cfg.Embedding.Dimensions),
		embedding.CircuitConfig{
			FailureThreshold:  cfg.Circuit.FailureThreshold,
			RecoverySeconds:   cfg.Circuit.RecoverySeconds,
			HalfOpenSuccesses: cfg.Circuit.HalfOpenSuccesses,
		},
		logger,
	)
	provider := embedding.NewCachedProvider(breaker, store, cfg.Cache.EmbeddingTTL(), logger)

	repos := repository.New(db, logger)

	embedWorker := worker.NewEmbeddingWorker(repos, provider, store, worker.Config{
		BatchSize:    cfg.Jobs.BatchSize,
		MaxAttempts:  cfg.Jobs.MaxAttempts,
		RetryBackoff: cfg.Jobs.RetryBackoff(),
		StuckTimeout: cfg.Jobs.StuckTimeout(),
		PollInterval: cfg.Jobs.PollInterval(),
	}, logger, metricsClient)
	embedWorker.Start(ctx)
	logger.Info("Embedding worker started", map[string]interface{}{
		"batch_size":    cfg.Jobs.BatchSize,
		"poll_interval": cfg.Jobs.PollInterval().String(),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal", nil)

	embedWorker.Stop()
	logger.Info("Worker stopped gracefully", nil)
}
