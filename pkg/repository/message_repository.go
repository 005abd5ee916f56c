package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

const messageColumns = `id, tenant_id, conversation_id, role, content, metadata,
	importance_score, embedding, embedding_status, archived, created_at, updated_at`

// CandidateQuery filters active messages for retrieval.
type CandidateQuery struct {
	TenantID       string
	ConversationID string
	ImportanceMin  *float64
	Limit          int
}

// MessageRepository persists conversation messages.
type MessageRepository interface {
	WithTx(tx *sqlx.Tx) MessageRepository

	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	Update(ctx context.Context, msg *models.Message) error
	SetEmbedding(ctx context.Context, id uuid.UUID, embedding *pgvector.Vector, importance *float64, status string) (*models.Message, error)
	SetEmbeddingStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error

	// GetByIDs returns the tenant's messages among ids; missing or
	// foreign ids are simply absent from the result.
	GetByIDs(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*models.Message, error)
	// DeleteBatch removes the tenant's messages among ids and reports
	// which ones were actually deleted.
	DeleteBatch(ctx context.Context, tenantID string, ids []uuid.UUID) ([]uuid.UUID, error)

	// ListActive returns unarchived messages with completed embeddings,
	// newest first.
	ListActive(ctx context.Context, q CandidateQuery) ([]*models.Message, error)
	// ListUnembedded returns unarchived messages without a completed
	// embedding and with no job already queued or running for them.
	// Empty tenantID spans all tenants.
	ListUnembedded(ctx context.Context, tenantID string, limit int) ([]*models.Message, error)
	// SearchSimilar returns unarchived embedded messages nearest to the
	// query vector by L2 distance.
	SearchSimilar(ctx context.Context, q CandidateQuery, queryEmbedding pgvector.Vector) ([]*models.Message, error)

	CountByTenant(ctx context.Context, tenantID string) (int, error)
	ListTenants(ctx context.Context) ([]string, error)
}

type messageRepository struct {
	db     *database.Database
	tx     *sqlx.Tx
	logger observability.Logger
}

// NewMessageRepository creates a message repository.
func NewMessageRepository(db *database.Database, logger observability.Logger) MessageRepository {
	return &messageRepository{db: db, logger: logger}
}

func (r *messageRepository) WithTx(tx *sqlx.Tx) MessageRepository {
	return &messageRepository{db: r.db, tx: tx, logger: r.logger}
}

func (r *messageRepository) writer() Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db.Primary()
}

// write runs an idempotent statement on the primary, retrying transient
// failures when not inside a caller-owned transaction.
func (r *messageRepository) write(ctx context.Context, fn func(q Querier) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	return database.RetryTransient(ctx, func() error {
		return fn(r.db.Primary())
	})
}

// read routes through a replica with primary fallback; inside a
// transaction it reads through the transaction for read-your-writes.
func (r *messageRepository) read(ctx context.Context, fn func(q Querier) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	return database.RetryTransient(ctx, func() error {
		return r.db.Read(ctx, func(db *sqlx.DB) error {
			return fn(db)
		})
	})
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	if msg.Metadata == nil {
		msg.Metadata = models.JSONMap{}
	}
	if msg.EmbeddingStatus == "" {
		msg.EmbeddingStatus = models.EmbeddingStatusPending
	}

	query := `
		INSERT INTO messages (tenant_id, conversation_id, role, content, metadata, importance_score, embedding_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + messageColumns

	err := r.writer().GetContext(ctx, msg, query,
		msg.TenantID,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		msg.Metadata,
		msg.ImportanceScore,
		msg.EmbeddingStatus,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *messageRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`

	var msg models.Message
	err := r.read(ctx, func(q Querier) error {
		return q.GetContext(ctx, &msg, query, id)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

func (r *messageRepository) Update(ctx context.Context, msg *models.Message) error {
	query := `
		UPDATE messages
		SET content = $2,
			metadata = $3,
			importance_score = $4,
			embedding = $5,
			embedding_status = $6,
			archived = $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + messageColumns

	err := r.write(ctx, func(q Querier) error {
		return q.GetContext(ctx, msg, query,
			msg.ID,
			msg.Content,
			msg.Metadata,
			msg.ImportanceScore,
			msg.Embedding,
			msg.EmbeddingStatus,
			msg.Archived,
		)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrNotFound
		}
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

func (r *messageRepository) SetEmbedding(ctx context.Context, id uuid.UUID, embedding *pgvector.Vector, importance *float64, status string) (*models.Message, error) {
	query := `
		UPDATE messages
		SET embedding = $2,
			importance_score = $3,
			embedding_status = $4,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + messageColumns

	var msg models.Message
	err := r.write(ctx, func(q Querier) error {
		return q.GetContext(ctx, &msg, query, id, embedding, importance, status)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update message embedding: %w", err)
	}
	return &msg, nil
}

func (r *messageRepository) SetEmbeddingStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE messages SET embedding_status = $2, updated_at = NOW() WHERE id = $1`

	err := r.write(ctx, func(q Querier) error {
		result, err := q.ExecContext(ctx, query, id, status)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return database.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.ErrNotFound
		}
		return fmt.Errorf("failed to update embedding status: %w", err)
	}
	return nil
}

func (r *messageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM messages WHERE id = $1`

	err := r.write(ctx, func(q Querier) error {
		result, err := q.ExecContext(ctx, query, id)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return database.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.ErrNotFound
		}
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (r *messageRepository) GetByIDs(ctx context.Context, tenantID string, ids []uuid.UUID) ([]*models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE tenant_id = $1 AND id = ANY($2::uuid[])`

	var messages []*models.Message
	err := r.read(ctx, func(q Querier) error {
		messages = messages[:0]
		return q.SelectContext(ctx, &messages, query, tenantID, pq.Array(uuidStrings(ids)))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get messages by ids: %w", err)
	}
	return messages, nil
}

func (r *messageRepository) DeleteBatch(ctx context.Context, tenantID string, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `DELETE FROM messages
		WHERE tenant_id = $1 AND id = ANY($2::uuid[])
		RETURNING id`

	var deleted []uuid.UUID
	err := r.write(ctx, func(q Querier) error {
		deleted = deleted[:0]
		return q.SelectContext(ctx, &deleted, query, tenantID, pq.Array(uuidStrings(ids)))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete message batch: %w", err)
	}
	return deleted, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	return strs
}

func (r *messageRepository) ListActive(ctx context.Context, q CandidateQuery) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE tenant_id = $1 AND archived = FALSE AND embedding_status = $2`
	args := []interface{}{q.TenantID, models.EmbeddingStatusCompleted}

	if q.ConversationID != "" {
		args = append(args, q.ConversationID)
		query += fmt.Sprintf(" AND conversation_id = $%d", len(args))
	}
	if q.ImportanceMin != nil {
		args = append(args, *q.ImportanceMin)
		query += fmt.Sprintf(" AND importance_score >= $%d", len(args))
	}
	args = append(args, q.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	var messages []*models.Message
	err := r.read(ctx, func(qr Querier) error {
		messages = messages[:0]
		return qr.SelectContext(ctx, &messages, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list active messages: %w", err)
	}
	return messages, nil
}

func (r *messageRepository) ListUnembedded(ctx context.Context, tenantID string, limit int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE archived = FALSE AND embedding_status <> $1
		  AND NOT EXISTS (
			SELECT 1 FROM embedding_jobs
			WHERE embedding_jobs.message_id = messages.id
			  AND embedding_jobs.status IN ('pending', 'running')
		  )`
	args := []interface{}{models.EmbeddingStatusCompleted}

	if tenantID != "" {
		args = append(args, tenantID)
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d", len(args))

	var messages []*models.Message
	err := r.read(ctx, func(qr Querier) error {
		messages = messages[:0]
		return qr.SelectContext(ctx, &messages, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded messages: %w", err)
	}
	return messages, nil
}

func (r *messageRepository) SearchSimilar(ctx context.Context, q CandidateQuery, queryEmbedding pgvector.Vector) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE tenant_id = $1 AND archived = FALSE AND embedding IS NOT NULL AND embedding_status = $2`
	args := []interface{}{q.TenantID, models.EmbeddingStatusCompleted}

	if q.ConversationID != "" {
		args = append(args, q.ConversationID)
		query += fmt.Sprintf(" AND conversation_id = $%d", len(args))
	}
	if q.ImportanceMin != nil {
		args = append(args, *q.ImportanceMin)
		query += fmt.Sprintf(" AND importance_score >= $%d", len(args))
	}
	args = append(args, queryEmbedding)
	query += fmt.Sprintf(" ORDER BY embedding <-> $%d::vector ASC", len(args))
	args = append(args, q.Limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))

	var messages []*models.Message
	err := r.read(ctx, func(qr Querier) error {
		messages = messages[:0]
		return qr.SelectContext(ctx, &messages, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search similar messages: %w", err)
	}
	return messages, nil
}

func (r *messageRepository) CountByTenant(ctx context.Context, tenantID string) (int, error) {
	query := `SELECT COUNT(*) FROM messages WHERE tenant_id = $1`

	var count int
	err := r.read(ctx, func(q Querier) error {
		return q.GetContext(ctx, &count, query, tenantID)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

func (r *messageRepository) ListTenants(ctx context.Context) ([]string, error) {
	query := `SELECT DISTINCT tenant_id FROM messages ORDER BY tenant_id`

	var tenants []string
	err := r.read(ctx, func(q Querier) error {
		tenants = tenants[:0]
		return q.SelectContext(ctx, &tenants, query)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return tenants, nil
}
