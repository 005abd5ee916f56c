package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/recallmesh/recallmesh/pkg/observability"
)

// CircuitConfig tunes the breaker around the primary provider.
type CircuitConfig struct {
	FailureThreshold  int `mapstructure:"failure_threshold"`
	RecoverySeconds   int `mapstructure:"recovery_seconds"`
	HalfOpenSuccesses int `mapstructure:"half_open_successes"`
}

// CircuitBreakerProvider wraps a primary provider with a circuit breaker
// and a fallback. When the primary fails or the circuit is open, the
// fallback vector is returned instead, so Embed never fails because of a
// provider outage. Callers may receive a lower-quality vector, which is
// acceptable for ingest availability.
type CircuitBreakerProvider struct {
	primary  Provider
	fallback Provider
	breaker  *gobreaker.CircuitBreaker
	logger   observability.Logger
}

// NewCircuitBreakerProvider composes primary with fallback. The breaker
// opens after cfg.FailureThreshold consecutive failures, stays open for
// cfg.RecoverySeconds, then closes again after cfg.HalfOpenSuccesses
// consecutive successes.
func NewCircuitBreakerProvider(primary, fallback Provider, cfg CircuitConfig, logger observability.Logger) *CircuitBreakerProvider {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoverySeconds <= 0 {
		cfg.RecoverySeconds = 30
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = 2
	}

	settings := gobreaker.Settings{
		Name:        "embedding-" + primary.Name(),
		MaxRequests: uint32(cfg.HalfOpenSuccesses),
		Timeout:     time.Duration(cfg.RecoverySeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Embedding circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellations are not provider failures.
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &CircuitBreakerProvider{
		primary:  primary,
		fallback: fallback,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		logger:   logger,
	}
}

func (p *CircuitBreakerProvider) Name() string { return p.primary.Name() }

func (p *CircuitBreakerProvider) Dimensions() int { return p.primary.Dimensions() }

// State reports the breaker state ("closed", "half-open", "open") for
// health reporting.
func (p *CircuitBreakerProvider) State() string {
	return p.breaker.State().String()
}

func (p *CircuitBreakerProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.primary.Embed(ctx, text)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p.logger.Warn("Primary embedding provider unavailable, using fallback", map[string]interface{}{
			"provider": p.primary.Name(),
			"fallback": p.fallback.Name(),
			"state":    p.breaker.State().String(),
			"error":    err.Error(),
		})
		return p.fallback.Embed(ctx, text)
	}
	return result.([]float32), nil
}
