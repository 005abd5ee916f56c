// Package worker hosts the background loops of the memory service:
// the embedding job consumer that drains the durable queue, and the
// retention scheduler that triggers periodic lifecycle passes. Both
// share one lifecycle shape: Start spawns the loop, Stop closes the
// stop channel and waits for the in-flight cycle to finish.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/recallmesh/recallmesh/pkg/cache"
	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/embedding"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/repository"
)

const (
	defaultBatchSize    = 10
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 5 * time.Second
	defaultPollInterval = time.Second
)

// Config tunes the embedding worker's claim cycle.
type Config struct {
	// BatchSize caps how many jobs one cycle claims.
	BatchSize int
	// MaxAttempts bounds retries per job. The attempt that exhausts the
	// budget also flags the message so reads stop waiting for a vector.
	MaxAttempts int
	// RetryBackoff is the minimum pause before a failed job is retried.
	RetryBackoff time.Duration
	// StuckTimeout re-admits running jobs whose worker died mid-flight.
	// Zero disables stuck recovery.
	StuckTimeout time.Duration
	// PollInterval is the idle sleep between empty claim cycles.
	PollInterval time.Duration
}

// EmbeddingWorker drains the embedding job queue: it claims due jobs,
// embeds the referenced message and stores vector and job outcome in
// one transaction. The claim query locks rows with SKIP LOCKED, so
// several instances can run against the same queue without handing a
// job to two workers at once.
type EmbeddingWorker struct {
	repos    *repository.Repositories
	provider embedding.Provider
	store    cache.Cache
	logger   observability.Logger
	metrics  observability.MetricsClient

	claim        repository.ClaimParams
	pollInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewEmbeddingWorker creates a worker over the shared repositories.
// store and metrics may be nil.
func NewEmbeddingWorker(repos *repository.Repositories, provider embedding.Provider, store cache.Cache, cfg Config, logger observability.Logger, metrics observability.MetricsClient) *EmbeddingWorker {
	if store == nil {
		store = cache.NewNoopCache()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &EmbeddingWorker{
		repos:    repos,
		provider: provider,
		store:    store,
		logger:   logger.WithPrefix("embedding-worker"),
		metrics:  metrics,
		claim: repository.ClaimParams{
			Limit:        cfg.BatchSize,
			MaxAttempts:  cfg.MaxAttempts,
			RetryBackoff: cfg.RetryBackoff,
			StuckTimeout: cfg.StuckTimeout,
		},
		pollInterval: cfg.PollInterval,
		stopCh:       make(chan struct{}),
	}
}

// Start launches the claim loop in a goroutine.
func (w *EmbeddingWorker) Start(ctx context.Context) {
	w.logger.Info("Embedding worker starting", map[string]interface{}{
		"batch_size":    w.claim.Limit,
		"max_attempts":  w.claim.MaxAttempts,
		"poll_interval": w.pollInterval.String(),
	})
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop halts the loop and waits for the in-flight cycle to finish.
// Safe to call more than once.
func (w *EmbeddingWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.logger.Info("Embedding worker stopped", nil)
	})
}

func (w *EmbeddingWorker) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		processed, err := w.DrainOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Claim cycle failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if processed > 0 {
			// Backlog: keep draining without sleeping.
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// DrainOnce claims and processes one batch of due jobs. It returns the
// number of jobs handled so callers can tell an idle cycle apart from
// a productive one.
func (w *EmbeddingWorker) DrainOnce(ctx context.Context) (int, error) {
	jobs, err := w.repos.Jobs.Claim(ctx, w.claim)
	if err != nil {
		return 0, fmt.Errorf("failed to claim embedding jobs: %w", err)
	}
	for _, job := range jobs {
		w.process(ctx, job)
	}
	if len(jobs) > 0 {
		w.reportQueueDepth(ctx)
	}
	return len(jobs), nil
}

func (w *EmbeddingWorker) process(ctx context.Context, job *models.EmbeddingJob) {
	start := time.Now()

	msg, err := w.repos.Messages.GetByID(ctx, job.MessageID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// The message vanished while the job waited. Retrying cannot
			// succeed; the cascade usually removes the job row with it.
			w.fail(ctx, job, errors.New("message deleted before embedding"))
			return
		}
		w.fail(ctx, job, err)
		return
	}

	vec, err := w.provider.Embed(ctx, msg.Content)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	v := pgvector.NewVector(vec)
	err = w.repos.Transaction(ctx, func(tx *repository.Repositories) error {
		if _, err := tx.Messages.SetEmbedding(ctx, msg.ID, &v, msg.ImportanceScore, models.EmbeddingStatusCompleted); err != nil {
			return err
		}
		return tx.Jobs.MarkCompleted(ctx, job.ID)
	})
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	w.invalidateSearch(ctx, msg.TenantID, msg.ConversationID)
	if w.metrics != nil {
		w.metrics.RecordDuration("embedding_job_duration_seconds", time.Since(start))
		w.metrics.IncrementCounterWithLabels("embedding_jobs_total", 1, map[string]string{"outcome": "completed"})
	}
	w.logger.Debug("Message embedded", map[string]interface{}{
		"job_id":     job.ID.String(),
		"message_id": msg.ID.String(),
		"attempts":   job.Attempts,
	})
}

// fail records a failed attempt. Once the retry budget is spent the
// message itself is flagged as failed, so callers reading it stop
// expecting a vector that will never arrive.
func (w *EmbeddingWorker) fail(ctx context.Context, job *models.EmbeddingJob, cause error) {
	w.logger.Warn("Embedding job failed", map[string]interface{}{
		"job_id":     job.ID.String(),
		"message_id": job.MessageID.String(),
		"attempts":   job.Attempts,
		"error":      cause.Error(),
	})
	if err := w.repos.Jobs.MarkFailed(ctx, job.ID, cause.Error()); err != nil {
		w.logger.Error("Failed to record job failure", map[string]interface{}{
			"job_id": job.ID.String(),
			"error":  err.Error(),
		})
	}
	if w.metrics != nil {
		w.metrics.IncrementCounterWithLabels("embedding_jobs_total", 1, map[string]string{"outcome": "failed"})
	}
	if job.Attempts < w.claim.MaxAttempts {
		return
	}
	if err := w.repos.Messages.SetEmbeddingStatus(ctx, job.MessageID, models.EmbeddingStatusFailed); err != nil && !errors.Is(err, database.ErrNotFound) {
		w.logger.Error("Failed to flag message after exhausted retries", map[string]interface{}{
			"message_id": job.MessageID.String(),
			"error":      err.Error(),
		})
	}
}

// invalidateSearch drops cached search results the fresh vector may
// change: the conversation's scoped family and the tenant's unscoped
// family.
func (w *EmbeddingWorker) invalidateSearch(ctx context.Context, tenantID, conversationID string) {
	for _, prefix := range []string{
		cache.SearchPrefix(tenantID, conversationID),
		cache.SearchPrefix(tenantID, ""),
	} {
		if _, err := w.store.DeletePrefix(ctx, prefix); err != nil {
			w.logger.Debug("Search cache invalidation failed", map[string]interface{}{
				"prefix": prefix,
				"error":  err.Error(),
			})
		}
	}
}

func (w *EmbeddingWorker) reportQueueDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	counts, err := w.repos.Jobs.CountByStatus(ctx)
	if err != nil {
		w.logger.Debug("Failed to read queue depth", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	for status, count := range counts {
		w.metrics.RecordGauge("embedding_queue_depth", float64(count), map[string]string{"status": status})
	}
}
