package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Input size limits enforced at the boundary.
const (
	MaxTenantIDLength       = 64
	MaxConversationIDLength = 128
	MaxContentLength        = 100000
	MaxBatchSize            = 100
	MaxRuleNameLength       = 255
	MaxRuleDescription      = 1000
)

// ValidIdentifier reports whether s is a well-formed tenant or conversation
// identifier within the given length bound.
func ValidIdentifier(s string, maxLen int) bool {
	if len(s) == 0 || len(s) > maxLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '.' || c == '-':
		default:
			return false
		}
	}
	return true
}

// ValidateTenantID checks the tenant identifier shared by every
// tenant-scoped operation.
func ValidateTenantID(tenantID string) error {
	if !ValidIdentifier(tenantID, MaxTenantIDLength) {
		return NewValidationError("tenant_id must be 1-64 characters of [A-Za-z0-9_.-]")
	}
	return nil
}

// MessageCreate is the ingest payload.
type MessageCreate struct {
	TenantID           string                 `json:"tenant_id"`
	ConversationID     string                 `json:"conversation_id"`
	Role               string                 `json:"role"`
	Content            string                 `json:"content"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	ImportanceOverride *float64               `json:"importance_override,omitempty"`
}

// Validate checks identifiers, role and content bounds.
func (p *MessageCreate) Validate() error {
	if err := ValidateTenantID(p.TenantID); err != nil {
		return err
	}
	if !ValidIdentifier(p.ConversationID, MaxConversationIDLength) {
		return NewValidationError("conversation_id must be 1-128 characters of [A-Za-z0-9_.-]")
	}
	if !ValidRole(p.Role) {
		return NewValidationErrorf("role must be one of %s, %s, %s", RoleUser, RoleAssistant, RoleSystem)
	}
	if strings.TrimSpace(p.Content) == "" {
		return NewValidationError("content must not be empty")
	}
	if len(p.Content) > MaxContentLength {
		return NewValidationErrorf("content exceeds %d characters", MaxContentLength)
	}
	if p.ImportanceOverride != nil && (*p.ImportanceOverride < 0 || *p.ImportanceOverride > 1) {
		return NewValidationError("importance_override must be between 0 and 1")
	}
	return nil
}

// MessageUpdate is a partial update; nil fields are left unchanged.
type MessageUpdate struct {
	Content            *string                `json:"content,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
	ImportanceOverride *float64               `json:"importance_override,omitempty"`
	Archived           *bool                  `json:"archived,omitempty"`
}

// Validate checks the updated content bounds when content is present.
func (p *MessageUpdate) Validate() error {
	if p.Content != nil {
		if strings.TrimSpace(*p.Content) == "" {
			return NewValidationError("content must not be empty")
		}
		if len(*p.Content) > MaxContentLength {
			return NewValidationErrorf("content exceeds %d characters", MaxContentLength)
		}
	}
	if p.ImportanceOverride != nil && (*p.ImportanceOverride < 0 || *p.ImportanceOverride > 1) {
		return NewValidationError("importance_override must be between 0 and 1")
	}
	return nil
}

// HasContentChange reports whether the update carries a non-empty content
// replacement.
func (p *MessageUpdate) HasContentChange() bool {
	return p.Content != nil && strings.TrimSpace(*p.Content) != ""
}

// MessageBatchCreate carries up to MaxBatchSize ingest payloads.
type MessageBatchCreate struct {
	Messages []MessageCreate `json:"messages"`
}

// Validate bounds the batch size; per-item validation happens per item so a
// bad element fails alone.
func (p *MessageBatchCreate) Validate() error {
	if len(p.Messages) == 0 {
		return NewValidationError("messages must not be empty")
	}
	if len(p.Messages) > MaxBatchSize {
		return NewValidationErrorf("batch exceeds %d messages", MaxBatchSize)
	}
	return nil
}

// BatchItemUpdate pairs a message id with its partial update.
type BatchItemUpdate struct {
	MessageID uuid.UUID     `json:"message_id"`
	Update    MessageUpdate `json:"update"`
}

// MessageBatchUpdate carries updates for several messages.
type MessageBatchUpdate struct {
	Updates []BatchItemUpdate `json:"updates"`
}

// Validate bounds the batch size.
func (p *MessageBatchUpdate) Validate() error {
	if len(p.Updates) == 0 {
		return NewValidationError("updates must not be empty")
	}
	if len(p.Updates) > MaxBatchSize {
		return NewValidationErrorf("batch exceeds %d updates", MaxBatchSize)
	}
	return nil
}

// MessageBatchDelete carries ids to hard delete.
type MessageBatchDelete struct {
	MessageIDs []uuid.UUID `json:"message_ids"`
}

// Validate bounds the batch size.
func (p *MessageBatchDelete) Validate() error {
	if len(p.MessageIDs) == 0 {
		return NewValidationError("message_ids must not be empty")
	}
	if len(p.MessageIDs) > MaxBatchSize {
		return NewValidationErrorf("batch exceeds %d ids", MaxBatchSize)
	}
	return nil
}

// BatchError reports one failed element of a batch operation. Index is set
// for create batches, MessageID for update and delete batches.
type BatchError struct {
	Index     *int   `json:"index,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error"`
}

// MessageBatchCreateResponse pairs created messages with per-item errors.
type MessageBatchCreateResponse struct {
	Created []*Message   `json:"created"`
	Errors  []BatchError `json:"errors"`
}

// MessageBatchUpdateResponse pairs updated messages with per-item errors.
type MessageBatchUpdateResponse struct {
	Updated []*Message   `json:"updated"`
	Errors  []BatchError `json:"errors"`
}

// MessageBatchDeleteResponse lists the ids actually removed.
type MessageBatchDeleteResponse struct {
	Deleted []uuid.UUID  `json:"deleted"`
	Errors  []BatchError `json:"errors"`
}

// Search parameter bounds.
const (
	DefaultTopK           = 5
	MaxTopK               = 20
	DefaultCandidateLimit = 200
	MaxCandidateLimit     = 1000
)

// SearchParams are the memory search inputs.
type SearchParams struct {
	TenantID       string   `json:"tenant_id" form:"tenant_id"`
	Query          string   `json:"query" form:"query"`
	ConversationID string   `json:"conversation_id" form:"conversation_id"`
	TopK           int      `json:"top_k" form:"top_k"`
	ImportanceMin  *float64 `json:"importance_min" form:"importance_min"`
	CandidateLimit int      `json:"candidate_limit" form:"candidate_limit"`
}

// Validate applies defaults for zero values and checks the documented bounds.
func (p *SearchParams) Validate() error {
	if err := ValidateTenantID(p.TenantID); err != nil {
		return err
	}
	if p.ConversationID != "" && !ValidIdentifier(p.ConversationID, MaxConversationIDLength) {
		return NewValidationError("conversation_id must be 1-128 characters of [A-Za-z0-9_.-]")
	}
	if strings.TrimSpace(p.Query) == "" {
		return NewValidationError("query must not be empty")
	}
	if p.TopK == 0 {
		p.TopK = DefaultTopK
	}
	if p.TopK < 1 || p.TopK > MaxTopK {
		return NewValidationErrorf("top_k must be between 1 and %d", MaxTopK)
	}
	if p.CandidateLimit == 0 {
		p.CandidateLimit = DefaultCandidateLimit
	}
	if p.CandidateLimit < 1 || p.CandidateLimit > MaxCandidateLimit {
		return NewValidationErrorf("candidate_limit must be between 1 and %d", MaxCandidateLimit)
	}
	if p.ImportanceMin != nil && (*p.ImportanceMin < 0 || *p.ImportanceMin > 1) {
		return NewValidationError("importance_min must be between 0 and 1")
	}
	return nil
}

// SearchResult is one ranked retrieval hit.
type SearchResult struct {
	MessageID  uuid.UUID `json:"message_id"`
	Score      float64   `json:"score"`
	Similarity float64   `json:"similarity"`
	Decay      float64   `json:"decay"`
	Content    string    `json:"content"`
	Role       string    `json:"role"`
	Metadata   JSONMap   `json:"metadata"`
	CreatedAt  time.Time `json:"created_at"`
	Importance *float64  `json:"importance"`
}

// SearchResponse is the retrieval result set.
type SearchResponse struct {
	Total int            `json:"total"`
	Items []SearchResult `json:"items"`
}

// RetentionRunRequest triggers the policy path with an action subset.
type RetentionRunRequest struct {
	TenantID string   `json:"tenant_id"`
	Actions  []string `json:"actions"`
	DryRun   bool     `json:"dry_run"`
}

// Validate defaults an absent action list to archive+delete; an explicit
// empty list and unknown actions are rejected.
func (p *RetentionRunRequest) Validate() error {
	if err := ValidateTenantID(p.TenantID); err != nil {
		return err
	}
	if p.Actions == nil {
		p.Actions = []string{ActionArchive, ActionDelete}
	}
	if len(p.Actions) == 0 {
		return NewValidationError("at least one action required")
	}
	for _, a := range p.Actions {
		if a != ActionArchive && a != ActionDelete {
			return NewValidationErrorf("unknown action %q", a)
		}
	}
	return nil
}

// HasAction reports whether the run includes action.
func (p *RetentionRunRequest) HasAction(action string) bool {
	for _, a := range p.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// RetentionRunResponse reports the policy path outcome.
type RetentionRunResponse struct {
	Archived int  `json:"archived"`
	Deleted  int  `json:"deleted"`
	DryRun   bool `json:"dry_run"`
}

// RetentionExecutionResult reports a rule engine pass.
type RetentionExecutionResult struct {
	TenantID             string   `json:"tenant_id"`
	RulesApplied         []string `json:"rules_applied"`
	MessagesArchived     int      `json:"messages_archived"`
	MessagesDeleted      int      `json:"messages_deleted"`
	MessagesMovedToCold  int      `json:"messages_moved_to_cold"`
	ExecutionTimeSeconds float64  `json:"execution_time_seconds"`
	DryRun               bool     `json:"dry_run"`
}

// RetentionPolicyUpdate is a partial policy upsert.
type RetentionPolicyUpdate struct {
	MaxAgeDays          *int     `json:"max_age_days,omitempty"`
	ImportanceThreshold *float64 `json:"importance_threshold,omitempty"`
	MaxItems            *int     `json:"max_items,omitempty"`
	DeleteAfterDays     *int     `json:"delete_after_days,omitempty"`
}

// Validate checks the documented bounds on present fields.
func (p *RetentionPolicyUpdate) Validate() error {
	if p.MaxAgeDays != nil && (*p.MaxAgeDays < 1 || *p.MaxAgeDays > 3650) {
		return NewValidationError("max_age_days must be between 1 and 3650")
	}
	if p.ImportanceThreshold != nil && (*p.ImportanceThreshold < 0 || *p.ImportanceThreshold > 1) {
		return NewValidationError("importance_threshold must be between 0 and 1")
	}
	if p.MaxItems != nil && *p.MaxItems < 1 {
		return NewValidationError("max_items must be at least 1")
	}
	if p.DeleteAfterDays != nil && (*p.DeleteAfterDays < 1 || *p.DeleteAfterDays > 3650) {
		return NewValidationError("delete_after_days must be between 1 and 3650")
	}
	return nil
}

// RetentionRuleCreate is the rule creation payload.
type RetentionRuleCreate struct {
	Name        string                 `json:"name"`
	Description *string                `json:"description,omitempty"`
	RuleType    string                 `json:"rule_type"`
	Conditions  map[string]interface{} `json:"conditions"`
	Action      string                 `json:"action"`
	Priority    int                    `json:"priority"`
	Enabled     *bool                  `json:"enabled,omitempty"`
}

// Validate checks name, rule_type, action and priority bounds. Conditions
// are validated against the per-type schema by the retention service.
func (p *RetentionRuleCreate) Validate() error {
	if p.Name == "" || len(p.Name) > MaxRuleNameLength {
		return NewValidationErrorf("name must be 1-%d characters", MaxRuleNameLength)
	}
	if p.Description != nil && len(*p.Description) > MaxRuleDescription {
		return NewValidationErrorf("description exceeds %d characters", MaxRuleDescription)
	}
	switch p.RuleType {
	case RuleTypeAge, RuleTypeImportance, RuleTypeConversationAge, RuleTypeMaxItems, RuleTypeCustom:
	default:
		return NewValidationErrorf("unknown rule_type %q", p.RuleType)
	}
	switch p.Action {
	case ActionArchive, ActionDelete, ActionCold:
	default:
		return NewValidationErrorf("unknown action %q", p.Action)
	}
	if p.Priority == 0 {
		p.Priority = 100
	}
	if p.Priority < 1 || p.Priority > 1000 {
		return NewValidationError("priority must be between 1 and 1000")
	}
	return nil
}

// RetentionRuleUpdate is a partial rule update; the rule_type is immutable.
type RetentionRuleUpdate struct {
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	Conditions  map[string]interface{} `json:"conditions,omitempty"`
	Action      *string                `json:"action,omitempty"`
	Priority    *int                   `json:"priority,omitempty"`
	Enabled     *bool                  `json:"enabled,omitempty"`
}

// Validate checks bounds on present fields.
func (p *RetentionRuleUpdate) Validate() error {
	if p.Name != nil && (*p.Name == "" || len(*p.Name) > MaxRuleNameLength) {
		return NewValidationErrorf("name must be 1-%d characters", MaxRuleNameLength)
	}
	if p.Description != nil && len(*p.Description) > MaxRuleDescription {
		return NewValidationErrorf("description exceeds %d characters", MaxRuleDescription)
	}
	if p.Action != nil {
		switch *p.Action {
		case ActionArchive, ActionDelete, ActionCold:
		default:
			return NewValidationErrorf("unknown action %q", *p.Action)
		}
	}
	if p.Priority != nil && (*p.Priority < 1 || *p.Priority > 1000) {
		return NewValidationError("priority must be between 1 and 1000")
	}
	return nil
}

// Health statuses
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusDown     = "down"
)

// HealthReport is the admin health payload.
type HealthReport struct {
	Status        string    `json:"status"`
	Database      string    `json:"database"`
	LatencyMS     *float64  `json:"latency_ms"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Environment   string    `json:"environment"`
	Version       string    `json:"version"`
	Embedding     string    `json:"embedding"`
	Timestamp     time.Time `json:"timestamp"`
	Notes         *string   `json:"notes,omitempty"`
}
