package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/repository"
	"github.com/recallmesh/recallmesh/pkg/services"
)

// RetentionScheduler runs retention passes on a fixed interval. The
// tenant list may contain "*", which expands at pass time to every
// tenant currently holding messages.
type RetentionScheduler struct {
	retention services.RetentionService
	messages  repository.MessageRepository
	interval  time.Duration
	tenants   []string
	logger    observability.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRetentionScheduler creates a scheduler. An interval of zero or an
// empty tenant list disables it.
func NewRetentionScheduler(retention services.RetentionService, messages repository.MessageRepository, interval time.Duration, tenants []string, logger observability.Logger) *RetentionScheduler {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &RetentionScheduler{
		retention: retention,
		messages:  messages,
		interval:  interval,
		tenants:   tenants,
		logger:    logger.WithPrefix("retention-scheduler"),
		stopCh:    make(chan struct{}),
	}
}

// Enabled reports whether the scheduler has anything to do.
func (s *RetentionScheduler) Enabled() bool {
	return s.interval > 0 && len(s.tenants) > 0
}

// Start launches the pass loop. A disabled scheduler starts nothing.
func (s *RetentionScheduler) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("Retention scheduler disabled", nil)
		return
	}
	s.logger.Info("Retention scheduler starting", map[string]interface{}{
		"interval": s.interval.String(),
		"tenants":  s.tenants,
	})
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the loop and waits for an in-flight pass to finish. Safe
// to call more than once, and on a scheduler that never started.
func (s *RetentionScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
}

func (s *RetentionScheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunPass(ctx)
		}
	}
}

// RunPass applies retention once for every scheduled tenant. A failing
// tenant is logged and skipped so it cannot starve the rest.
func (s *RetentionScheduler) RunPass(ctx context.Context) {
	tenants, err := s.resolveTenants(ctx)
	if err != nil {
		s.logger.Error("Failed to resolve retention tenants", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	for _, tenant := range tenants {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
		if _, err := s.retention.Apply(ctx, tenant, false); err != nil {
			s.logger.Error("Scheduled retention pass failed", map[string]interface{}{
				"tenant_id": tenant,
				"error":     err.Error(),
			})
		}
	}
}

// resolveTenants expands "*" while keeping explicitly listed tenants
// first and deduplicated.
func (s *RetentionScheduler) resolveTenants(ctx context.Context) ([]string, error) {
	wildcard := false
	tenants := make([]string, 0, len(s.tenants))
	for _, tenant := range s.tenants {
		if tenant == "*" {
			wildcard = true
			continue
		}
		tenants = append(tenants, tenant)
	}
	if !wildcard {
		return tenants, nil
	}
	all, err := s.messages.ListTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	seen := make(map[string]struct{}, len(tenants))
	for _, tenant := range tenants {
		seen[tenant] = struct{}{}
	}
	for _, tenant := range all {
		if _, ok := seen[tenant]; !ok {
			tenants = append(tenants, tenant)
		}
	}
	return tenants, nil
}
