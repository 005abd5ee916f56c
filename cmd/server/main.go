package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/recallmesh/recallmesh/pkg/api"
	"github.com/recallmesh/recallmesh/pkg/cache"
	"github.com/recallmesh/recallmesh/pkg/common/config"
	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/embedding"
	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/repository"
	"github.com/recallmesh/recallmesh/pkg/services"
	"github.com/recallmesh/recallmesh/pkg/worker"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLogger("server").
		WithLevel(observability.ParseLogLevel(cfg.Logging.Level))
	metricsClient := observability.NewNoOpMetricsClient()
	defer metricsClient.Close()

	dbConfig := database.NewConfig()
	dbConfig.DSN = cfg.Database.URL
	dbConfig.ReadReplicaDSNs = cfg.Database.ReadReplicaURLs
	dbConfig.MaxOpenConns = cfg.Database.MaxOpenConns()
	dbConfig.MaxIdleConns = cfg.Database.PoolSize
	dbConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime()

	db, err := database.NewDatabase(ctx, dbConfig, logger)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	vectorSearch, err := db.DetectVectorSupport(ctx)
	if err != nil {
		logger.Warn("Vector support detection failed, using in-process ranking", map[string]interface{}{
			"error": err.Error(),
		})
	}
	logger.Info("Database initialized", map[string]interface{}{
		"replicas":      db.ReplicaCount(),
		"vector_search": vectorSearch,
	})

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

	// The breaker falls back to deterministic local vectors so ingest keeps
	// working through a provider outage. The cache wraps the breaker, so a
	// repeated text never counts against the provider at all.
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

	messages := services.NewMessageService(repos, provider, store, services.MessageServiceConfig{
		AsyncEmbeddings: cfg.Embedding.Async,
		VectorSearch:    vectorSearch,
		MaxResults:      cfg.Search.MaxResults,
		SearchTTL:       cfg.Cache.SearchTTL(),
	}, logger)
	retention := services.NewRetentionService(repos, store, services.RetentionDefaults{
		MaxAgeDays:          cfg.Retention.MaxAgeDays,
		ImportanceThreshold: cfg.Retention.ImportanceThreshold,
		DeleteAfterDays:     cfg.Retention.DeleteAfterDays,
	}, logger)
	health := services.NewHealthService(db, breaker, cfg.Environment, version, logger)

	if cfg.Embedding.Async {
		embedWorker := worker.NewEmbeddingWorker(repos, provider, store, worker.Config{
			BatchSize:    cfg.Jobs.BatchSize,
			MaxAttempts:  cfg.Jobs.MaxAttempts,
			RetryBackoff: cfg.Jobs.RetryBackoff(),
			StuckTimeout: cfg.Jobs.StuckTimeout(),
			PollInterval: cfg.Jobs.PollInterval(),
		}, logger, metricsClient)
		embedWorker.Start(ctx)
		defer embedWorker.Stop()
	}

	scheduler := worker.NewRetentionScheduler(
		retention,
		repos.Messages,
		cfg.Retention.ScheduleInterval(),
		cfg.Retention.Tenants,
		logger,
	)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	server, err := api.NewServer(api.Config{
		ListenAddress:   cfg.API.ListenAddress,
		RequestTimeout:  cfg.API.RequestTimeout(),
		RequestMaxBytes: cfg.API.RequestMaxBytes,
		GlobalRateLimit: cfg.API.GlobalRateLimit,
		TenantRateLimit: cfg.API.TenantRateLimit,
		APIKey:          cfg.API.APIKey,
		AsyncEmbeddings: cfg.Embedding.Async,
		Environment:     cfg.Environment,
		Version:         version,
	}, api.Services{
		Messages:  messages,
		Retention: retention,
		Health:    health,
	}, logger, metricsClient)
	if err != nil {
		log.Fatalf("Failed to initialize API server: %v", err)
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	logger.Info("Server started", map[string]interface{}{
		"address":     cfg.API.ListenAddress,
		"environment": cfg.Environment,
		"version":     version,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger.Info("Server stopped gracefully", nil)
}
