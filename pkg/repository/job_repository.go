package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

const jobColumns = `id, message_id, status, attempts, last_error, created_at, updated_at`

// ClaimParams controls a single claim cycle.
type ClaimParams struct {
	Limit        int
	MaxAttempts  int
	RetryBackoff time.Duration
	// StuckTimeout re-admits running jobs whose worker died. Zero
	// disables stuck recovery.
	StuckTimeout time.Duration
}

// JobRepository persists the durable embedding job queue.
type JobRepository interface {
	WithTx(tx *sqlx.Tx) JobRepository

	Enqueue(ctx context.Context, messageID uuid.UUID) (*models.EmbeddingJob, error)
	// Claim atomically selects up to Limit runnable jobs, marks them
	// running and increments attempts. Safe against concurrent claimers:
	// no job is handed to two workers at once.
	Claim(ctx context.Context, p ClaimParams) ([]*models.EmbeddingJob, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.EmbeddingJob, error)
	MarkCompleted(ctx context.Context, jobID uuid.UUID) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, lastError string) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type jobRepository struct {
	db     *database.Database
	tx     *sqlx.Tx
	logger observability.Logger
}

// NewJobRepository creates an embedding job repository.
func NewJobRepository(db *database.Database, logger observability.Logger) JobRepository {
	return &jobRepository{db: db, logger: logger}
}

func (r *jobRepository) WithTx(tx *sqlx.Tx) JobRepository {
	return &jobRepository{db: r.db, tx: tx, logger: r.logger}
}

func (r *jobRepository) writer() Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db.Primary()
}

func (r *jobRepository) write(ctx context.Context, fn func(q Querier) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	return database.RetryTransient(ctx, func() error {
		return fn(r.db.Primary())
	})
}

func (r *jobRepository) read(ctx context.Context, fn func(q Querier) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	return database.RetryTransient(ctx, func() error {
		return r.db.Read(ctx, func(db *sqlx.DB) error {
			return fn(db)
		})
	})
}

func (r *jobRepository) Enqueue(ctx context.Context, messageID uuid.UUID) (*models.EmbeddingJob, error) {
	query := `
		INSERT INTO embedding_jobs (message_id, status)
		VALUES ($1, 'pending')
		RETURNING ` + jobColumns

	var job models.EmbeddingJob
	if err := r.writer().GetContext(ctx, &job, query, messageID); err != nil {
		return nil, fmt.Errorf("failed to enqueue embedding job: %w", err)
	}
	return &job, nil
}

func (r *jobRepository) Claim(ctx context.Context, p ClaimParams) ([]*models.EmbeddingJob, error) {
	if p.Limit <= 0 {
		return nil, nil
	}

	// Running jobs stuck past the timeout with no retry budget left are
	// terminal; fail them so they stop matching the stuck clause.
	if p.StuckTimeout > 0 {
		failQuery := `
			UPDATE embedding_jobs
			SET status = 'failed', last_error = 'worker timed out', updated_at = NOW()
			WHERE status = 'running'
			  AND attempts >= $1
			  AND updated_at <= NOW() - make_interval(secs => $2)`
		if _, err := r.writer().ExecContext(ctx, failQuery, p.MaxAttempts, p.StuckTimeout.Seconds()); err != nil {
			return nil, fmt.Errorf("failed to expire stuck jobs: %w", err)
		}
	}

	claimable := `status = 'pending'
		   OR (status = 'failed' AND attempts < $1 AND updated_at <= NOW() - make_interval(secs => $2))`
	args := []interface{}{p.MaxAttempts, p.RetryBackoff.Seconds()}
	if p.StuckTimeout > 0 {
		claimable += `
		   OR (status = 'running' AND attempts < $1 AND updated_at <= NOW() - make_interval(secs => $3))`
		args = append(args, p.StuckTimeout.Seconds())
	}
	args = append(args, p.Limit)

	query := fmt.Sprintf(`
		UPDATE embedding_jobs
		SET status = 'running', attempts = attempts + 1, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM embedding_jobs
			WHERE %s
			ORDER BY updated_at ASC
			LIMIT $%d
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, claimable, len(args))

	var jobs []*models.EmbeddingJob
	if err := r.writer().SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to claim embedding jobs: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EmbeddingJob, error) {
	query := `SELECT ` + jobColumns + ` FROM embedding_jobs WHERE id = $1`

	var job models.EmbeddingJob
	err := r.read(ctx, func(q Querier) error {
		return q.GetContext(ctx, &job, query, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get embedding job: %w", err)
	}
	return &job, nil
}

// MarkCompleted transitions a job to completed. Missing rows are
// tolerated: the message may have been deleted since the claim.
func (r *jobRepository) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	query := `
		UPDATE embedding_jobs
		SET status = 'completed', last_error = NULL, updated_at = NOW()
		WHERE id = $1`

	err := r.write(ctx, func(q Querier) error {
		_, err := q.ExecContext(ctx, query, jobID)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	return nil
}

// MarkFailed records a failure and its error text. Missing rows are
// tolerated.
func (r *jobRepository) MarkFailed(ctx context.Context, jobID uuid.UUID, lastError string) error {
	query := `
		UPDATE embedding_jobs
		SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1`

	err := r.write(ctx, func(q Querier) error {
		_, err := q.ExecContext(ctx, query, jobID, lastError)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	return nil
}

func (r *jobRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM embedding_jobs GROUP BY status`

	var counts map[string]int
	err := r.read(ctx, func(q Querier) error {
		counts = make(map[string]int)
		rows, err := q.QueryContext(ctx, query)
		if err != nil {
			return err
		}
		defer func() {
			_ = rows.Close()
		}()
		for rows.Next() {
			var status string
			var count int
			if err := rows.Scan(&status, &count); err != nil {
				return err
			}
			counts[status] = count
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return counts, nil
}
