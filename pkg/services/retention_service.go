package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recallmesh/recallmesh/pkg/cache"
	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/observability"
	"github.com/recallmesh/recallmesh/pkg/repository"
)

// RetentionService runs the lifecycle engine and manages its
// configuration: per-tenant policies and the ordered rule set.
type RetentionService interface {
	// Apply runs one retention pass for the tenant. Enabled rules run
	// in priority order; a tenant without rules falls back to its
	// policy. A failing rule is skipped, never aborting the pass.
	Apply(ctx context.Context, tenantID string, dryRun bool) (*models.RetentionExecutionResult, error)
	// RunPolicy runs the policy path directly with an action subset.
	RunPolicy(ctx context.Context, req *models.RetentionRunRequest) (*models.RetentionRunResponse, error)

	GetPolicy(ctx context.Context, tenantID string) (*models.RetentionPolicy, error)
	UpdatePolicy(ctx context.Context, tenantID string, payload *models.RetentionPolicyUpdate) (*models.RetentionPolicy, error)

	CreateRule(ctx context.Context, tenantID string, payload *models.RetentionRuleCreate) (*models.RetentionRule, error)
	GetRule(ctx context.Context, tenantID string, id int64) (*models.RetentionRule, error)
	ListRules(ctx context.Context, tenantID string, enabledOnly bool) ([]*models.RetentionRule, error)
	UpdateRule(ctx context.Context, tenantID string, id int64, payload *models.RetentionRuleUpdate) (*models.RetentionRule, error)
	DeleteRule(ctx context.Context, tenantID string, id int64) error
}

// RetentionDefaults seed a tenant's policy the first time it is needed.
type RetentionDefaults struct {
	MaxAgeDays          int
	ImportanceThreshold float64
	DeleteAfterDays     int
}

// Built-in condition defaults for rules that omit them.
const (
	defaultAgeRuleDays         = 30
	defaultImportanceThreshold = 0.3
	defaultConversationAgeDays = 90
	defaultMaxItemsKeep        = 1000
)

type retentionService struct {
	repos    *repository.Repositories
	store    cache.Cache
	defaults RetentionDefaults
	logger   observability.Logger

	now func() time.Time
}

// NewRetentionService creates the retention service.
func NewRetentionService(repos *repository.Repositories, store cache.Cache, defaults RetentionDefaults, logger observability.Logger) RetentionService {
	if store == nil {
		store = cache.NewNoopCache()
	}
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	if defaults.MaxAgeDays <= 0 {
		defaults.MaxAgeDays = 30
	}
	if defaults.ImportanceThreshold <= 0 {
		defaults.ImportanceThreshold = 0.35
	}
	if defaults.DeleteAfterDays <= 0 {
		defaults.DeleteAfterDays = 90
	}
	return &retentionService{
		repos:    repos,
		store:    store,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *retentionService) Apply(ctx context.Context, tenantID string, dryRun bool) (*models.RetentionExecutionResult, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	start := s.now()
	result := &models.RetentionExecutionResult{
		TenantID:     tenantID,
		RulesApplied: []string{},
		DryRun:       dryRun,
	}

	rules, err := s.repos.Retention.ListRules(ctx, tenantID, true)
	if err != nil {
		return nil, models.NewStoreError(err)
	}

	if len(rules) > 0 {
		s.applyRules(ctx, tenantID, rules, dryRun, result)
	} else {
		archived, deleted, err := s.runPolicy(ctx, tenantID, []string{models.ActionArchive, models.ActionDelete}, dryRun)
		if err != nil {
			return nil, err
		}
		result.MessagesArchived = archived
		result.MessagesDeleted = deleted
	}

	if !dryRun && result.MessagesArchived+result.MessagesDeleted+result.MessagesMovedToCold > 0 {
		s.invalidateTenant(ctx, tenantID)
	}
	result.ExecutionTimeSeconds = s.now().Sub(start).Seconds()

	s.logger.Info("Retention pass finished", map[string]interface{}{
		"tenant_id":     tenantID,
		"dry_run":       dryRun,
		"rules_applied": len(result.RulesApplied),
		"archived":      result.MessagesArchived,
		"deleted":       result.MessagesDeleted,
		"moved_to_cold": result.MessagesMovedToCold,
	})
	return result, nil
}

// applyRules evaluates the rules in order. Each rule fails alone: its
// error is logged and the rule is left out of rules_applied.
func (s *retentionService) applyRules(ctx context.Context, tenantID string, rules []*models.RetentionRule, dryRun bool, result *models.RetentionExecutionResult) {
	for _, rule := range rules {
		candidates, err := s.ruleCandidates(ctx, tenantID, rule)
		if err != nil {
			s.logRuleFailure(rule, err)
			continue
		}

		if dryRun {
			addActionCount(result, rule.Action, len(candidates))
			result.RulesApplied = append(result.RulesApplied, rule.Name)
			continue
		}

		var n int
		switch rule.Action {
		case models.ActionArchive:
			n, err = s.repos.Retention.MoveToArchive(ctx, candidates, rule.Name)
		case models.ActionDelete:
			n, err = s.repos.Retention.DeleteMessages(ctx, messageIDs(candidates))
		case models.ActionCold:
			n, err = s.repos.Retention.MoveToArchive(ctx, candidates, models.ColdStorageReasonPrefix+rule.Name)
		default:
			err = fmt.Errorf("unknown rule action %q", rule.Action)
		}
		if err != nil {
			s.logRuleFailure(rule, err)
			continue
		}
		addActionCount(result, rule.Action, n)

		if err := s.repos.Retention.TouchRuleApplied(ctx, rule.ID, s.now().UTC()); err != nil {
			s.logger.Warn("Failed to record rule application", map[string]interface{}{
				"rule_id": rule.ID,
				"error":   err.Error(),
			})
		}
		result.RulesApplied = append(result.RulesApplied, rule.Name)
	}
}

func (s *retentionService) logRuleFailure(rule *models.RetentionRule, err error) {
	s.logger.Error("Retention rule failed", map[string]interface{}{
		"rule_id":   rule.ID,
		"rule_name": rule.Name,
		"error":     err.Error(),
	})
}

func addActionCount(result *models.RetentionExecutionResult, action string, n int) {
	switch action {
	case models.ActionArchive:
		result.MessagesArchived += n
	case models.ActionDelete:
		result.MessagesDeleted += n
	case models.ActionCold:
		result.MessagesMovedToCold += n
	}
}

func messageIDs(messages []*models.Message) []uuid.UUID {
	ids := make([]uuid.UUID, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}
	return ids
}

// ruleCandidates selects the unarchived messages a rule applies to,
// falling back to built-in defaults for absent condition keys.
func (s *retentionService) ruleCandidates(ctx context.Context, tenantID string, rule *models.RetentionRule) ([]*models.Message, error) {
	switch rule.RuleType {
	case models.RuleTypeAge:
		days := conditionInt(rule.Conditions, "days", defaultAgeRuleDays)
		cutoff := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
		return s.repos.Retention.ListRuleCandidates(ctx, repository.RuleCandidateQuery{
			TenantID:      tenantID,
			CreatedBefore: &cutoff,
		})
	case models.RuleTypeImportance:
		threshold := conditionFloatDefault(rule.Conditions, "threshold", defaultImportanceThreshold)
		return s.repos.Retention.ListRuleCandidates(ctx, repository.RuleCandidateQuery{
			TenantID:              tenantID,
			ImportanceMax:         &threshold,
			IncludeNullImportance: true,
		})
	case models.RuleTypeConversationAge:
		days := conditionInt(rule.Conditions, "days", defaultConversationAgeDays)
		cutoff := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
		return s.repos.Retention.ListStaleConversationMessages(ctx, tenantID, cutoff)
	case models.RuleTypeMaxItems:
		keep := conditionInt(rule.Conditions, "max_items", defaultMaxItemsKeep)
		return s.repos.Retention.ListOverflowMessages(ctx, tenantID, keep)
	case models.RuleTypeCustom:
		q := repository.RuleCandidateQuery{
			TenantID: tenantID,
			Role:     conditionString(rule.Conditions, "role"),
		}
		if v, ok := conditionFloat(rule.Conditions, "min_importance"); ok {
			q.ImportanceMin = &v
		}
		if v, ok := conditionFloat(rule.Conditions, "max_importance"); ok {
			q.ImportanceMax = &v
		}
		return s.repos.Retention.ListRuleCandidates(ctx, q)
	default:
		return nil, fmt.Errorf("unknown rule type %q", rule.RuleType)
	}
}

func (s *retentionService) RunPolicy(ctx context.Context, req *models.RetentionRunRequest) (*models.RetentionRunResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	archived, deleted, err := s.runPolicy(ctx, req.TenantID, req.Actions, req.DryRun)
	if err != nil {
		return nil, err
	}
	if !req.DryRun && archived+deleted > 0 {
		s.invalidateTenant(ctx, req.TenantID)
	}
	return &models.RetentionRunResponse{Archived: archived, Deleted: deleted, DryRun: req.DryRun}, nil
}

// runPolicy applies the tenant's policy: archive candidates past the
// age or importance bounds, then hard-delete archive rows past the
// delete window. A dry run reports zero counts without touching rows.
func (s *retentionService) runPolicy(ctx context.Context, tenantID string, actions []string, dryRun bool) (int, int, error) {
	policy, err := s.loadOrInitPolicy(ctx, tenantID)
	if err != nil {
		return 0, 0, err
	}
	if dryRun {
		return 0, 0, nil
	}

	var archived, deleted int
	if containsAction(actions, models.ActionArchive) {
		candidates, err := s.repos.Retention.ArchiveCandidates(ctx, tenantID, policy.MaxAgeDays, policy.ImportanceThreshold)
		if err != nil {
			return 0, 0, models.NewStoreError(err)
		}
		n, err := s.repos.Retention.MoveToArchive(ctx, candidates, "policy")
		if err != nil {
			return 0, 0, models.NewStoreError(err)
		}
		archived = n

		if policy.MaxItems != nil {
			overflow, err := s.repos.Retention.ListOverflowMessages(ctx, tenantID, *policy.MaxItems)
			if err != nil {
				return archived, 0, models.NewStoreError(err)
			}
			n, err := s.repos.Retention.MoveToArchive(ctx, overflow, "policy")
			if err != nil {
				return archived, 0, models.NewStoreError(err)
			}
			archived += n
		}
	}
	if containsAction(actions, models.ActionDelete) {
		n, err := s.repos.Retention.DeleteArchived(ctx, tenantID, policy.DeleteAfterDays)
		if err != nil {
			return archived, 0, models.NewStoreError(err)
		}
		deleted = n
	}
	return archived, deleted, nil
}

func containsAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

// loadOrInitPolicy returns the tenant's policy, materialising the
// configured defaults on first use.
func (s *retentionService) loadOrInitPolicy(ctx context.Context, tenantID string) (*models.RetentionPolicy, error) {
	policy, err := s.repos.Retention.LoadPolicy(ctx, tenantID)
	if err == nil {
		return policy, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, models.NewStoreError(err)
	}

	policy = &models.RetentionPolicy{
		TenantID:            tenantID,
		MaxAgeDays:          s.defaults.MaxAgeDays,
		ImportanceThreshold: s.defaults.ImportanceThreshold,
		DeleteAfterDays:     s.defaults.DeleteAfterDays,
	}
	if err := s.repos.Retention.UpsertPolicy(ctx, policy); err != nil {
		return nil, models.NewStoreError(err)
	}
	return policy, nil
}

func (s *retentionService) GetPolicy(ctx context.Context, tenantID string) (*models.RetentionPolicy, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	policy, err := s.repos.Retention.LoadPolicy(ctx, tenantID)
	if err != nil {
		return nil, repoError(err, "retention policy")
	}
	return policy, nil
}

func (s *retentionService) UpdatePolicy(ctx context.Context, tenantID string, payload *models.RetentionPolicyUpdate) (*models.RetentionPolicy, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	policy, err := s.repos.Retention.LoadPolicy(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			return nil, models.NewStoreError(err)
		}
		policy = &models.RetentionPolicy{
			TenantID:            tenantID,
			MaxAgeDays:          s.defaults.MaxAgeDays,
			ImportanceThreshold: s.defaults.ImportanceThreshold,
			DeleteAfterDays:     s.defaults.DeleteAfterDays,
		}
	}

	if payload.MaxAgeDays != nil {
		policy.MaxAgeDays = *payload.MaxAgeDays
	}
	if payload.ImportanceThreshold != nil {
		policy.ImportanceThreshold = *payload.ImportanceThreshold
	}
	if payload.MaxItems != nil {
		policy.MaxItems = payload.MaxItems
	}
	if payload.DeleteAfterDays != nil {
		policy.DeleteAfterDays = *payload.DeleteAfterDays
	}

	if err := s.repos.Retention.UpsertPolicy(ctx, policy); err != nil {
		return nil, models.NewStoreError(err)
	}
	return policy, nil
}

func (s *retentionService) CreateRule(ctx context.Context, tenantID string, payload *models.RetentionRuleCreate) (*models.RetentionRule, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	if err := validateRuleConditions(payload.RuleType, payload.Conditions); err != nil {
		return nil, err
	}

	enabled := true
	if payload.Enabled != nil {
		enabled = *payload.Enabled
	}
	rule := &models.RetentionRule{
		TenantID:    tenantID,
		Name:        payload.Name,
		Description: payload.Description,
		RuleType:    payload.RuleType,
		Conditions:  models.JSONMap(payload.Conditions),
		Action:      payload.Action,
		Priority:    payload.Priority,
		Enabled:     enabled,
	}
	if rule.Conditions == nil {
		rule.Conditions = models.JSONMap{}
	}

	if err := s.repos.Retention.CreateRule(ctx, rule); err != nil {
		return nil, models.NewStoreError(err)
	}
	return rule, nil
}

func (s *retentionService) GetRule(ctx context.Context, tenantID string, id int64) (*models.RetentionRule, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	rule, err := s.repos.Retention.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, repoError(err, "retention rule")
	}
	return rule, nil
}

func (s *retentionService) ListRules(ctx context.Context, tenantID string, enabledOnly bool) ([]*models.RetentionRule, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	rules, err := s.repos.Retention.ListRules(ctx, tenantID, enabledOnly)
	if err != nil {
		return nil, models.NewStoreError(err)
	}
	return rules, nil
}

func (s *retentionService) UpdateRule(ctx context.Context, tenantID string, id int64, payload *models.RetentionRuleUpdate) (*models.RetentionRule, error) {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	rule, err := s.repos.Retention.GetRule(ctx, tenantID, id)
	if err != nil {
		return nil, repoError(err, "retention rule")
	}

	if payload.Name != nil {
		rule.Name = *payload.Name
	}
	if payload.Description != nil {
		rule.Description = payload.Description
	}
	if payload.Conditions != nil {
		// The rule type is immutable, so conditions are checked
		// against the stored type.
		if err := validateRuleConditions(rule.RuleType, payload.Conditions); err != nil {
			return nil, err
		}
		rule.Conditions = models.JSONMap(payload.Conditions)
	}
	if payload.Action != nil {
		rule.Action = *payload.Action
	}
	if payload.Priority != nil {
		rule.Priority = *payload.Priority
	}
	if payload.Enabled != nil {
		rule.Enabled = *payload.Enabled
	}

	if err := s.repos.Retention.UpdateRule(ctx, rule); err != nil {
		return nil, repoError(err, "retention rule")
	}
	return rule, nil
}

func (s *retentionService) DeleteRule(ctx context.Context, tenantID string, id int64) error {
	if err := models.ValidateTenantID(tenantID); err != nil {
		return err
	}
	if err := s.repos.Retention.DeleteRule(ctx, tenantID, id); err != nil {
		return repoError(err, "retention rule")
	}
	return nil
}

func (s *retentionService) invalidateTenant(ctx context.Context, tenantID string) {
	if _, err := s.store.DeletePrefix(ctx, cache.TenantSearchPrefix(tenantID)); err != nil {
		s.logger.Debug("Search cache invalidation failed", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
	}
}
