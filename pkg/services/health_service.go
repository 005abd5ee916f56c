package services

import (
	"context"
	"time"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// EmbeddingStateReporter exposes the circuit state of the embedding
// provider chain.
type EmbeddingStateReporter interface {
	State() string
}

// HealthService reports service health for the admin endpoint.
type HealthService interface {
	Check(ctx context.Context) *models.HealthReport
}

type healthService struct {
	db          *database.Database
	breaker     EmbeddingStateReporter
	environment string
	version     string
	started     time.Time
	logger      observability.Logger

	now func() time.Time
}

// NewHealthService creates the health service. breaker may be nil when
// no circuit wraps the embedding provider.
func NewHealthService(db *database.Database, breaker EmbeddingStateReporter, environment, version string, logger observability.Logger) HealthService {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &healthService{
		db:          db,
		breaker:     breaker,
		environment: environment,
		version:     version,
		started:     time.Now(),
		logger:      logger,
		now:         time.Now,
	}
}

// Check never returns an error: an unreachable database degrades the
// report instead of failing the endpoint.
func (s *healthService) Check(ctx context.Context) *models.HealthReport {
	report := &models.HealthReport{
		Status:        models.HealthStatusOK,
		Database:      models.HealthStatusOK,
		Embedding:     "ok",
		Environment:   s.environment,
		Version:       s.version,
		UptimeSeconds: s.now().Sub(s.started).Seconds(),
		Timestamp:     s.now().UTC(),
	}

	latency, err := s.db.CheckHealth(ctx)
	if err != nil {
		report.Status = models.HealthStatusDegraded
		report.Database = models.HealthStatusDown
		note := err.Error()
		report.Notes = &note
		s.logger.Error("Database health check failed", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		report.LatencyMS = &latency
	}

	if s.breaker != nil && s.breaker.State() == "open" {
		report.Embedding = "failed"
	}
	return report
}
