// Package models defines the persisted entities and API payloads for the
// conversation memory service.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Embedding statuses for a message
const (
	EmbeddingStatusPending   = "pending"
	EmbeddingStatusCompleted = "completed"
	EmbeddingStatusFailed    = "failed"
)

// Embedding job statuses
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Retention rule types
const (
	RuleTypeAge             = "age"
	RuleTypeImportance      = "importance"
	RuleTypeConversationAge = "conversation_age"
	RuleTypeMaxItems        = "max_items"
	RuleTypeCustom          = "custom"
)

// Retention actions
const (
	ActionArchive = "archive"
	ActionDelete  = "delete"
	ActionCold    = "cold"
)

// ColdStorageReasonPrefix tags archive rows produced by the cold action.
const ColdStorageReasonPrefix = "cold_storage:"

// ValidRole reports whether role is one of the accepted message roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a stored conversation message. The embedding column is null
// until a provider has produced a vector for it.
type Message struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	TenantID        string           `json:"tenant_id" db:"tenant_id"`
	ConversationID  string           `json:"conversation_id" db:"conversation_id"`
	Role            string           `json:"role" db:"role"`
	Content         string           `json:"content" db:"content"`
	Metadata        JSONMap          `json:"metadata" db:"metadata"`
	ImportanceScore *float64         `json:"importance_score" db:"importance_score"`
	Embedding       *pgvector.Vector `json:"-" db:"embedding"`
	EmbeddingStatus string           `json:"embedding_status" db:"embedding_status"`
	Archived        bool             `json:"archived" db:"archived"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// EmbeddingSlice returns the embedding as a float32 slice, or nil when the
// message has no embedding yet.
func (m *Message) EmbeddingSlice() []float32 {
	if m.Embedding == nil {
		return nil
	}
	return m.Embedding.Slice()
}

// Importance returns the importance score, treating unset as 0.
func (m *Message) Importance() float64 {
	if m.ImportanceScore == nil {
		return 0
	}
	return *m.ImportanceScore
}

// ArchivedMessage is the content snapshot taken when a message is archived.
// It shares the message's id and is removed only by the hard-delete stage.
type ArchivedMessage struct {
	ID              uuid.UUID `json:"id" db:"id"`
	TenantID        string    `json:"tenant_id" db:"tenant_id"`
	ConversationID  string    `json:"conversation_id" db:"conversation_id"`
	Role            string    `json:"role" db:"role"`
	Content         string    `json:"content" db:"content"`
	Metadata        JSONMap   `json:"metadata" db:"metadata"`
	ImportanceScore *float64  `json:"importance_score" db:"importance_score"`
	ArchiveReason   string    `json:"archive_reason" db:"archive_reason"`
	ArchivedAt      time.Time `json:"archived_at" db:"archived_at"`
}

// EmbeddingJob is a durable unit of embedding work tied to one message.
type EmbeddingJob struct {
	ID        uuid.UUID `json:"id" db:"id"`
	MessageID uuid.UUID `json:"message_id" db:"message_id"`
	Status    string    `json:"status" db:"status"`
	Attempts  int       `json:"attempts" db:"attempts"`
	LastError *string   `json:"last_error" db:"last_error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RetentionPolicy holds the per-tenant defaults used when no rules exist.
type RetentionPolicy struct {
	ID                  int64     `json:"id" db:"id"`
	TenantID            string    `json:"tenant_id" db:"tenant_id"`
	MaxAgeDays          int       `json:"max_age_days" db:"max_age_days"`
	ImportanceThreshold float64   `json:"importance_threshold" db:"importance_threshold"`
	MaxItems            *int      `json:"max_items" db:"max_items"`
	DeleteAfterDays     int       `json:"delete_after_days" db:"delete_after_days"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// RetentionRule is one evaluated lifecycle rule. Rules run in ascending
// priority order; conditions are rule_type specific.
type RetentionRule struct {
	ID          int64      `json:"id" db:"id"`
	TenantID    string     `json:"tenant_id" db:"tenant_id"`
	Name        string     `json:"name" db:"name"`
	Description *string    `json:"description" db:"description"`
	RuleType    string     `json:"rule_type" db:"rule_type"`
	Conditions  JSONMap    `json:"conditions" db:"conditions"`
	Action      string     `json:"action" db:"action"`
	Priority    int        `json:"priority" db:"priority"`
	Enabled     bool       `json:"enabled" db:"enabled"`
	LastApplied *time.Time `json:"last_applied" db:"last_applied"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// JSONMap is a map[string]interface{} that implements sql.Scanner and
// driver.Valuer for JSON columns.
type JSONMap map[string]interface{}

// Value implements driver.Valuer for JSONMap
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONMap
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, (*map[string]interface{})(m))
	case string:
		return json.Unmarshal([]byte(v), (*map[string]interface{})(m))
	default:
		return fmt.Errorf("unsupported type for JSONMap: %T", value)
	}
}
