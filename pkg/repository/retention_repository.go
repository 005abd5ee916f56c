package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

const policyColumns = `id, tenant_id, max_age_days, importance_threshold, max_items, delete_after_days, created_at, updated_at`

const ruleColumns = `id, tenant_id, name, description, rule_type, conditions, action, priority, enabled, last_applied, created_at, updated_at`

// RuleCandidateQuery filters unarchived messages for a retention rule.
// Zero-valued fields are not applied.
type RuleCandidateQuery struct {
	TenantID              string
	CreatedBefore         *time.Time
	ImportanceMax         *float64
	IncludeNullImportance bool
	Role                  string
	ImportanceMin         *float64
}

// RetentionRepository persists retention policies, rules and the
// archive lifecycle.
type RetentionRepository interface {
	WithTx(tx *sqlx.Tx) RetentionRepository

	UpsertPolicy(ctx context.Context, p *models.RetentionPolicy) error
	LoadPolicy(ctx context.Context, tenantID string) (*models.RetentionPolicy, error)

	// ArchiveCandidates returns unarchived rows matching the policy
	// criteria: importance at or below the threshold, or older than the
	// cutoff.
	ArchiveCandidates(ctx context.Context, tenantID string, olderThanDays int, importanceThreshold float64) ([]*models.Message, error)
	// MoveToArchive inserts an archive twin for each message (skipping
	// twins that already exist) and flags the originals archived.
	// Returns the number of rows newly archived; safe to retry.
	MoveToArchive(ctx context.Context, messages []*models.Message, reason string) (int, error)
	// DeleteArchived hard-deletes archive rows older than the cutoff
	// together with their source messages.
	DeleteArchived(ctx context.Context, tenantID string, olderThanDays int) (int, error)

	CreateRule(ctx context.Context, rule *models.RetentionRule) error
	GetRule(ctx context.Context, tenantID string, id int64) (*models.RetentionRule, error)
	ListRules(ctx context.Context, tenantID string, enabledOnly bool) ([]*models.RetentionRule, error)
	UpdateRule(ctx context.Context, rule *models.RetentionRule) error
	DeleteRule(ctx context.Context, tenantID string, id int64) error
	TouchRuleApplied(ctx context.Context, id int64, at time.Time) error

	ListRuleCandidates(ctx context.Context, q RuleCandidateQuery) ([]*models.Message, error)
	// ListOverflowMessages returns rows beyond the newest keepNewest,
	// oldest last-created first among the overflow.
	ListOverflowMessages(ctx context.Context, tenantID string, keepNewest int) ([]*models.Message, error)
	// ListStaleConversationMessages returns unarchived rows whose whole
	// conversation has been quiet since the cutoff.
	ListStaleConversationMessages(ctx context.Context, tenantID string, lastActiveBefore time.Time) ([]*models.Message, error)
	DeleteMessages(ctx context.Context, ids []uuid.UUID) (int, error)
}

type retentionRepository struct {
	db     *database.Database
	tx     *sqlx.Tx
	logger observability.Logger
}

// NewRetentionRepository creates a retention repository.
func NewRetentionRepository(db *database.Database, logger observability.Logger) RetentionRepository {
	return &retentionRepository{db: db, logger: logger}
}

func (r *retentionRepository) WithTx(tx *sqlx.Tx) RetentionRepository {
	return &retentionRepository{db: r.db, tx: tx, logger: r.logger}
}

func (r *retentionRepository) writer() Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db.Primary()
}

func (r *retentionRepository) read(ctx context.Context, fn func(q Querier) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	return database.RetryTransient(ctx, func() error {
		return r.db.Read(ctx, func(db *sqlx.DB) error {
			return fn(db)
		})
	})
}

// transact runs fn in the bound transaction, or opens one when the
// repository is not transaction-bound.
func (r *retentionRepository) transact(ctx context.Context, fn func(q Querier) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		return fn(tx)
	})
}

func (r *retentionRepository) UpsertPolicy(ctx context.Context, p *models.RetentionPolicy) error {
	query := `
		INSERT INTO retention_policies (tenant_id, max_age_days, importance_threshold, max_items, delete_after_days)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO UPDATE SET
			max_age_days = EXCLUDED.max_age_days,
			importance_threshold = EXCLUDED.importance_threshold,
			max_items = EXCLUDED.max_items,
			delete_after_days = EXCLUDED.delete_after_days,
			updated_at = NOW()
		RETURNING ` + policyColumns

	err := r.writer().GetContext(ctx, p, query,
		p.TenantID,
		p.MaxAgeDays,
		p.ImportanceThreshold,
		p.MaxItems,
		p.DeleteAfterDays,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert retention policy: %w", err)
	}
	return nil
}

func (r *retentionRepository) LoadPolicy(ctx context.Context, tenantID string) (*models.RetentionPolicy, error) {
	query := `SELECT ` + policyColumns + ` FROM retention_policies WHERE tenant_id = $1`

	var policy models.RetentionPolicy
	err := r.read(ctx, func(q Querier) error {
		return q.GetContext(ctx, &policy, query, tenantID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load retention policy: %w", err)
	}
	return &policy, nil
}

func (r *retentionRepository) ArchiveCandidates(ctx context.Context, tenantID string, olderThanDays int, importanceThreshold float64) ([]*models.Message, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE tenant_id = $1 AND archived = FALSE
		  AND (importance_score <= $2 OR created_at <= $3)`

	var messages []*models.Message
	err := r.read(ctx, func(q Querier) error {
		messages = messages[:0]
		return q.SelectContext(ctx, &messages, query, tenantID, importanceThreshold, cutoff)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archive candidates: %w", err)
	}
	return messages, nil
}

func (r *retentionRepository) MoveToArchive(ctx context.Context, messages []*models.Message, reason string) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	ids := make([]string, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID.String()
	}

	var archived int64
	err := r.transact(ctx, func(q Querier) error {
		insertQuery := `
			INSERT INTO archived_messages (id, tenant_id, conversation_id, role, content, metadata, importance_score, archive_reason)
			SELECT id, tenant_id, conversation_id, role, content, metadata, importance_score, $2
			FROM messages
			WHERE id = ANY($1::uuid[])
			ON CONFLICT (id) DO NOTHING`
		if _, err := q.ExecContext(ctx, insertQuery, pq.Array(ids), reason); err != nil {
			return fmt.Errorf("failed to insert archive twins: %w", err)
		}

		updateQuery := `
			UPDATE messages SET archived = TRUE, updated_at = NOW()
			WHERE id = ANY($1::uuid[]) AND archived = FALSE`
		result, err := q.ExecContext(ctx, updateQuery, pq.Array(ids))
		if err != nil {
			return fmt.Errorf("failed to flag messages archived: %w", err)
		}
		archived, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return int(archived), nil
}

func (r *retentionRepository) DeleteArchived(ctx context.Context, tenantID string, olderThanDays int) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(olderThanDays) * 24 * time.Hour)

	var deleted int
	err := r.transact(ctx, func(q Querier) error {
		// Lock candidates so concurrent retention cycles cannot delete
		// the same rows twice.
		deleteQuery := `
			DELETE FROM archived_messages
			WHERE id IN (
				SELECT id FROM archived_messages
				WHERE tenant_id = $1 AND archived_at <= $2
				FOR UPDATE
			)
			RETURNING id`
		var ids []string
		if err := q.SelectContext(ctx, &ids, deleteQuery, tenantID, cutoff); err != nil {
			return fmt.Errorf("failed to delete archived messages: %w", err)
		}
		deleted = len(ids)
		if deleted == 0 {
			return nil
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM messages WHERE id = ANY($1::uuid[])`, pq.Array(ids)); err != nil {
			return fmt.Errorf("failed to delete source messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (r *retentionRepository) CreateRule(ctx context.Context, rule *models.RetentionRule) error {
	if rule.Conditions == nil {
		rule.Conditions = models.JSONMap{}
	}
	query := `
		INSERT INTO retention_rules (tenant_id, name, description, rule_type, conditions, action, priority, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + ruleColumns

	err := r.writer().GetContext(ctx, rule, query,
		rule.TenantID,
		rule.Name,
		rule.Description,
		rule.RuleType,
		rule.Conditions,
		rule.Action,
		rule.Priority,
		rule.Enabled,
	)
	if err != nil {
		return fmt.Errorf("failed to create retention rule: %w", err)
	}
	return nil
}

func (r *retentionRepository) GetRule(ctx context.Context, tenantID string, id int64) (*models.RetentionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM retention_rules WHERE id = $1 AND tenant_id = $2`

	var rule models.RetentionRule
	err := r.read(ctx, func(q Querier) error {
		return q.GetContext(ctx, &rule, query, id, tenantID)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get retention rule: %w", err)
	}
	return &rule, nil
}

func (r *retentionRepository) ListRules(ctx context.Context, tenantID string, enabledOnly bool) ([]*models.RetentionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM retention_rules WHERE tenant_id = $1`
	if enabledOnly {
		query += ` AND enabled = TRUE`
	}
	query += ` ORDER BY priority ASC, created_at DESC`

	var rules []*models.RetentionRule
	err := r.read(ctx, func(q Querier) error {
		rules = rules[:0]
		return q.SelectContext(ctx, &rules, query, tenantID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list retention rules: %w", err)
	}
	return rules, nil
}

func (r *retentionRepository) UpdateRule(ctx context.Context, rule *models.RetentionRule) error {
	query := `
		UPDATE retention_rules
		SET name = $3,
			description = $4,
			conditions = $5,
			action = $6,
			priority = $7,
			enabled = $8,
			updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + ruleColumns

	err := r.writer().GetContext(ctx, rule, query,
		rule.ID,
		rule.TenantID,
		rule.Name,
		rule.Description,
		rule.Conditions,
		rule.Action,
		rule.Priority,
		rule.Enabled,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.ErrNotFound
		}
		return fmt.Errorf("failed to update retention rule: %w", err)
	}
	return nil
}

func (r *retentionRepository) DeleteRule(ctx context.Context, tenantID string, id int64) error {
	query := `DELETE FROM retention_rules WHERE id = $1 AND tenant_id = $2`

	result, err := r.writer().ExecContext(ctx, query, id, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete retention rule: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete retention rule: %w", err)
	}
	if rows == 0 {
		return database.ErrNotFound
	}
	return nil
}

func (r *retentionRepository) TouchRuleApplied(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE retention_rules SET last_applied = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.writer().ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to update rule last_applied: %w", err)
	}
	return nil
}

func (r *retentionRepository) ListRuleCandidates(ctx context.Context, q RuleCandidateQuery) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE tenant_id = $1 AND archived = FALSE`
	args := []interface{}{q.TenantID}

	if q.CreatedBefore != nil {
		args = append(args, *q.CreatedBefore)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	if q.ImportanceMax != nil {
		args = append(args, *q.ImportanceMax)
		if q.IncludeNullImportance {
			query += fmt.Sprintf(" AND (importance_score <= $%d OR importance_score IS NULL)", len(args))
		} else {
			query += fmt.Sprintf(" AND importance_score <= $%d", len(args))
		}
	}
	if q.Role != "" {
		args = append(args, q.Role)
		query += fmt.Sprintf(" AND role = $%d", len(args))
	}
	if q.ImportanceMin != nil {
		args = append(args, *q.ImportanceMin)
		query += fmt.Sprintf(" AND importance_score >= $%d", len(args))
	}

	var messages []*models.Message
	err := r.read(ctx, func(qr Querier) error {
		messages = messages[:0]
		return qr.SelectContext(ctx, &messages, query, args...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list rule candidates: %w", err)
	}
	return messages, nil
}

func (r *retentionRepository) ListOverflowMessages(ctx context.Context, tenantID string, keepNewest int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE tenant_id = $1 AND archived = FALSE
		ORDER BY created_at DESC
		OFFSET $2`

	var messages []*models.Message
	err := r.read(ctx, func(q Querier) error {
		messages = messages[:0]
		return q.SelectContext(ctx, &messages, query, tenantID, keepNewest)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list overflow messages: %w", err)
	}
	return messages, nil
}

func (r *retentionRepository) ListStaleConversationMessages(ctx context.Context, tenantID string, lastActiveBefore time.Time) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE tenant_id = $1 AND archived = FALSE AND conversation_id IN (
			SELECT conversation_id FROM messages
			WHERE tenant_id = $1
			GROUP BY conversation_id
			HAVING MAX(created_at) <= $2
		)`

	var messages []*models.Message
	err := r.read(ctx, func(q Querier) error {
		messages = messages[:0]
		return q.SelectContext(ctx, &messages, query, tenantID, lastActiveBefore)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stale conversation messages: %w", err)
	}
	return messages, nil
}

func (r *retentionRepository) DeleteMessages(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.writer().ExecContext(ctx, `DELETE FROM messages WHERE id = ANY($1::uuid[])`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	return int(deleted), nil
}
