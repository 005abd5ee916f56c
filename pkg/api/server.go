// Package api exposes the memory service over HTTP: message ingestion
// and management, similarity search, retention administration and
// health. Handlers stay thin; they bind and validate transport
// concerns, delegate to the services layer and map typed errors onto
// status codes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recallmesh/recallmesh/pkg/middleware"
	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/services"
)

// Config shapes the HTTP shell.
type Config struct {
	ListenAddress   string
	RequestTimeout  time.Duration
	RequestMaxBytes int64
	GlobalRateLimit string
	TenantRateLimit string
	// APIKey, when set, is required on mutating message endpoints,
	// search and admin retention runs.
	APIKey string
	// AsyncEmbeddings selects the ingest status contract: 202 when jobs
	// are queued, 200 when embedding happens inline.
	AsyncEmbeddings bool
	Environment     string
	Version         string
}

// Services bundles the service layer the handlers delegate to.
type Services struct {
	Messages  services.MessageService
	Retention services.RetentionService
	Health    services.HealthService
}

// Server is the HTTP front of the memory service.
type Server struct {
	router  *gin.Engine
	server  *http.Server
	limiter *middleware.RateLimiter
	config  Config
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewServer builds the router, middleware chain and routes. It fails
// only on malformed rate limit strings.
func NewServer(cfg Config, svc Services, logger observability.Logger, metrics observability.MetricsClient) (*Server, error) {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	limiter, err := middleware.NewRateLimiter(cfg.GlobalRateLimit, cfg.TenantRateLimit, logger, metrics)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(RequestLogger(logger))
	router.Use(SecurityHeaders())
	router.Use(RequestSizeLimit(cfg.RequestMaxBytes))
	router.Use(RequestTimeout(cfg.RequestTimeout))

	s := &Server{
		router:  router,
		limiter: limiter,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  90 * time.Second,
		},
	}
	s.setupRoutes(svc)
	return s, nil
}

func (s *Server) setupRoutes(svc Services) {
	// Liveness stays outside the limiter so orchestrators can always
	// reach it.
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.router.Group("/v1")
	v1.Use(s.limiter.Middleware())

	apiKey := APIKeyAuth(s.config.APIKey)

	messages := NewMessageAPI(svc.Messages, s.config.AsyncEmbeddings)
	messages.RegisterRoutes(v1, apiKey)

	memory := v1.Group("/memory")
	memory.Use(apiKey)
	memory.GET("/search", messages.search)

	retention := NewRetentionAPI(svc.Retention)
	retention.RegisterRoutes(v1)

	admin := NewAdminAPI(svc.Retention, svc.Health)
	admin.RegisterRoutes(v1, apiKey)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", map[string]interface{}{
		"listen_address": s.config.ListenAddress,
	})
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the limiter's janitor.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Stop()
	return s.server.Shutdown(ctx)
}
