// Package config loads and validates application configuration.
//
// Configuration is resolved from three layers, in increasing precedence:
// built-in defaults, an optional YAML file (MEMORY_CONFIG_FILE or
// configs/config.yaml), and environment variables prefixed with MEMORY_
// where dots become underscores (database.url -> MEMORY_DATABASE_URL).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Config is the root configuration for the memory service.
type Config struct {
	Environment string                      `mapstructure:"environment"`
	Logging     observability.LoggingConfig `mapstructure:"logging"`
	API         APIConfig                   `mapstructure:"api"`
	Database    DatabaseConfig              `mapstructure:"database"`
	Embedding   EmbeddingConfig             `mapstructure:"embedding"`
	Jobs        JobsConfig                  `mapstructure:"jobs"`
	Circuit     CircuitConfig               `mapstructure:"circuit"`
	Cache       CacheConfig                 `mapstructure:"cache"`
	Search      SearchConfig                `mapstructure:"search"`
	Retention   RetentionConfig             `mapstructure:"retention"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	ListenAddress         string `mapstructure:"listen_address"`
	GlobalRateLimit       string `mapstructure:"global_rate_limit"`
	TenantRateLimit       string `mapstructure:"tenant_rate_limit"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	RequestMaxBytes       int64  `mapstructure:"request_max_bytes"`
	APIKey                string `mapstructure:"api_key"`
}

// RequestTimeout returns the per-request deadline.
func (c APIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// DatabaseConfig holds connection settings for the primary database and
// optional read replicas.
type DatabaseConfig struct {
	URL                string   `mapstructure:"url"`
	ReadReplicaURLs    []string `mapstructure:"read_replica_urls"`
	PoolSize           int      `mapstructure:"pool_size"`
	MaxOverflow        int      `mapstructure:"max_overflow"`
	PoolRecycleSeconds int      `mapstructure:"pool_recycle_seconds"`
}

// MaxOpenConns returns the connection pool ceiling including overflow.
func (c DatabaseConfig) MaxOpenConns() int {
	return c.PoolSize + c.MaxOverflow
}

// ConnMaxLifetime returns how long a pooled connection may be reused.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.PoolRecycleSeconds) * time.Second
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string       `mapstructure:"provider"`
	Dimensions int          `mapstructure:"dimensions"`
	Async      bool         `mapstructure:"async"`
	OpenAI     OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig holds settings for the OpenAI-compatible remote provider.
type OpenAIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// JobsConfig controls the embedding job queue worker.
type JobsConfig struct {
	PollSeconds         float64 `mapstructure:"poll_seconds"`
	BatchSize           int     `mapstructure:"batch_size"`
	MaxAttempts         int     `mapstructure:"max_attempts"`
	RetryBackoffSeconds float64 `mapstructure:"retry_backoff_seconds"`
	StuckTimeoutSeconds float64 `mapstructure:"stuck_timeout_seconds"`
}

// PollInterval returns how long the worker sleeps between empty polls.
func (c JobsConfig) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds * float64(time.Second))
}

// RetryBackoff returns how long a failed job is held before re-claim.
func (c JobsConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds * float64(time.Second))
}

// StuckTimeout returns how long a running job may go without an update
// before it is considered abandoned and becomes claimable again.
func (c JobsConfig) StuckTimeout() time.Duration {
	return time.Duration(c.StuckTimeoutSeconds * float64(time.Second))
}

// CircuitConfig tunes the circuit breaker around remote embedding calls.
type CircuitConfig struct {
	FailureThreshold  int `mapstructure:"failure_threshold"`
	RecoverySeconds   int `mapstructure:"recovery_seconds"`
	HalfOpenSuccesses int `mapstructure:"half_open_successes"`
}

// RecoveryTimeout returns how long the breaker stays open before probing.
func (c CircuitConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoverySeconds) * time.Second
}

// CacheConfig selects the result cache backend and its sizing.
type CacheConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Backend             string `mapstructure:"backend"`
	RedisAddr           string `mapstructure:"redis_addr"`
	RedisPassword       string `mapstructure:"redis_password"`
	RedisDB             int    `mapstructure:"redis_db"`
	MaxItems            int    `mapstructure:"max_items"`
	SearchTTLSeconds    int    `mapstructure:"search_ttl_seconds"`
	EmbeddingTTLSeconds int    `mapstructure:"embedding_ttl_seconds"`
}

// SearchTTL returns the lifetime of cached search results.
func (c CacheConfig) SearchTTL() time.Duration {
	return time.Duration(c.SearchTTLSeconds) * time.Second
}

// EmbeddingTTL returns the lifetime of cached embedding vectors.
func (c CacheConfig) EmbeddingTTL() time.Duration {
	return time.Duration(c.EmbeddingTTLSeconds) * time.Second
}

// SearchConfig bounds retrieval result sizes.
type SearchConfig struct {
	MaxResults int `mapstructure:"max_results"`
}

// RetentionConfig holds default retention policy values and the
// scheduler cadence.
type RetentionConfig struct {
	MaxAgeDays          int      `mapstructure:"max_age_days"`
	ImportanceThreshold float64  `mapstructure:"importance_threshold"`
	DeleteAfterDays     int      `mapstructure:"delete_after_days"`
	ScheduleSeconds     int      `mapstructure:"schedule_seconds"`
	Tenants             []string `mapstructure:"tenants"`
}

// ScheduleInterval returns the pause between retention sweeps. A zero or
// negative value disables the scheduler.
func (c RetentionConfig) ScheduleInterval() time.Duration {
	return time.Duration(c.ScheduleSeconds) * time.Second
}

// IsProduction returns true when running in the production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment returns true when running in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == ""
}

// Load reads configuration from defaults, an optional config file, and
// the environment.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	configFile := os.Getenv("MEMORY_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("MEMORY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	if err := v.ReadInConfig(); err != nil {
		// The config file is optional; defaults plus environment
		// variables are a complete configuration.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

var rateLimitPattern = regexp.MustCompile(`^\d+/(second|minute|hour)$`)

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	switch c.Embedding.Provider {
	case "mock", "local", "openai":
	default:
		return fmt.Errorf("invalid embedding.provider %q: must be mock, local, or openai", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.Provider == "openai" && c.Embedding.OpenAI.APIKey == "" {
		return fmt.Errorf("embedding.openai.api_key is required when embedding.provider is openai")
	}

	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("database.pool_size must be positive, got %d", c.Database.PoolSize)
	}
	if c.Database.MaxOverflow < 0 {
		return fmt.Errorf("database.max_overflow must not be negative, got %d", c.Database.MaxOverflow)
	}

	if c.Jobs.BatchSize <= 0 {
		return fmt.Errorf("jobs.batch_size must be positive, got %d", c.Jobs.BatchSize)
	}
	if c.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("jobs.max_attempts must be at least 1, got %d", c.Jobs.MaxAttempts)
	}

	if c.Circuit.FailureThreshold < 1 {
		return fmt.Errorf("circuit.failure_threshold must be at least 1, got %d", c.Circuit.FailureThreshold)
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid cache.backend %q: must be memory or redis", c.Cache.Backend)
	}
	if c.Cache.Enabled && c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
	}
	if c.Cache.MaxItems <= 0 {
		return fmt.Errorf("cache.max_items must be positive, got %d", c.Cache.MaxItems)
	}

	if c.Search.MaxResults <= 0 {
		return fmt.Errorf("search.max_results must be positive, got %d", c.Search.MaxResults)
	}

	if c.Retention.ImportanceThreshold < 0 || c.Retention.ImportanceThreshold > 1 {
		return fmt.Errorf("retention.importance_threshold must be between 0 and 1, got %f", c.Retention.ImportanceThreshold)
	}

	for _, limit := range []struct{ key, val string }{
		{"api.global_rate_limit", c.API.GlobalRateLimit},
		{"api.tenant_rate_limit", c.API.TenantRateLimit},
	} {
		if limit.val == "" {
			continue
		}
		if !rateLimitPattern.MatchString(limit.val) {
			return fmt.Errorf("invalid %s %q: expected <count>/<second|minute|hour>", limit.key, limit.val)
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("logging.level", "info")

	v.SetDefault("api.listen_address", ":8080")
	v.SetDefault("api.global_rate_limit", "200/minute")
	v.SetDefault("api.tenant_rate_limit", "120/minute")
	v.SetDefault("api.request_timeout_seconds", 15)
	v.SetDefault("api.request_max_bytes", 1048576)
	v.SetDefault("api.api_key", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.read_replica_urls", []string{})
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.max_overflow", 10)
	v.SetDefault("database.pool_recycle_seconds", 3600)

	v.SetDefault("embedding.provider", "mock")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.async", false)
	v.SetDefault("embedding.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.openai.api_key", "")
	v.SetDefault("embedding.openai.model", "text-embedding-3-small")

	v.SetDefault("jobs.poll_seconds", 1.0)
	v.SetDefault("jobs.batch_size", 10)
	v.SetDefault("jobs.max_attempts", 3)
	v.SetDefault("jobs.retry_backoff_seconds", 5.0)
	v.SetDefault("jobs.stuck_timeout_seconds", 300.0)

	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.recovery_seconds", 30)
	v.SetDefault("circuit.half_open_successes", 2)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.max_items", 2000)
	v.SetDefault("cache.search_ttl_seconds", 60)
	v.SetDefault("cache.embedding_ttl_seconds", 3600)

	v.SetDefault("search.max_results", 8)

	v.SetDefault("retention.max_age_days", 30)
	v.SetDefault("retention.importance_threshold", 0.35)
	v.SetDefault("retention.delete_after_days", 90)
	v.SetDefault("retention.schedule_seconds", 86400)
	v.SetDefault("retention.tenants", []string{"*"})
}
