package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recallmesh/recallmesh/pkg/cache"
	"github.com/recallmesh/recallmesh/pkg/database"
	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/repository"
)

func TestApplyFallsBackToPolicy(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.listRulesFn = func(_ context.Context, tenantID string, enabledOnly bool) ([]*models.RetentionRule, error) {
		assert.Equal(t, "acme", tenantID)
		assert.True(t, enabledOnly)
		return nil, nil
	}
	fakes.retention.loadPolicyFn = func(context.Context, string) (*models.RetentionPolicy, error) {
		return nil, database.ErrNotFound
	}
	var upserted *models.RetentionPolicy
	fakes.retention.upsertPolicyFn = func(_ context.Context, p *models.RetentionPolicy) error {
		upserted = p
		return nil
	}
	candidates := []*models.Message{
		activeMessage("acme", "conv-1", 0.1, 1),
		activeMessage("acme", "conv-1", 0.2, 1),
	}
	fakes.retention.archiveCandsFn = func(_ context.Context, _ string, olderThanDays int, threshold float64) ([]*models.Message, error) {
		assert.Equal(t, 30, olderThanDays)
		assert.InDelta(t, 0.35, threshold, 1e-9)
		return candidates, nil
	}
	var reason string
	fakes.retention.moveToArchiveFn = func(_ context.Context, messages []*models.Message, r string) (int, error) {
		reason = r
		return len(messages), nil
	}
	fakes.retention.deleteArchivedFn = func(_ context.Context, _ string, olderThanDays int) (int, error) {
		assert.Equal(t, 90, olderThanDays)
		return 3, nil
	}

	store, err := cache.NewMemoryCache(16)
	require.NoError(t, err)
	ctx := context.Background()
	key := cache.SearchKey("acme", "conv-1", "q", 5, 200, nil)
	require.NoError(t, store.Set(ctx, key, &models.SearchResponse{}, time.Minute))

	svc := NewRetentionService(repos, store, RetentionDefaults{}, nil)
	result, err := svc.Apply(ctx, "acme", false)
	require.NoError(t, err)

	// A tenant without a policy row gets the configured defaults.
	require.NotNil(t, upserted)
	assert.Equal(t, 30, upserted.MaxAgeDays)
	assert.InDelta(t, 0.35, upserted.ImportanceThreshold, 1e-9)
	assert.Equal(t, 90, upserted.DeleteAfterDays)

	assert.Equal(t, "policy", reason)
	assert.Equal(t, 2, result.MessagesArchived)
	assert.Equal(t, 3, result.MessagesDeleted)
	assert.Empty(t, result.RulesApplied)
	assert.False(t, result.DryRun)
	assert.GreaterOrEqual(t, result.ExecutionTimeSeconds, 0.0)

	var out models.SearchResponse
	assert.ErrorIs(t, store.Get(ctx, key, &out), cache.ErrNotFound)
}

func TestApplyDryRunPolicyReportsZeros(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.listRulesFn = func(context.Context, string, bool) ([]*models.RetentionRule, error) {
		return nil, nil
	}
	fakes.retention.loadPolicyFn = func(context.Context, string) (*models.RetentionPolicy, error) {
		return &models.RetentionPolicy{TenantID: "acme", MaxAgeDays: 30, ImportanceThreshold: 0.35, DeleteAfterDays: 90}, nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	result, err := svc.Apply(context.Background(), "acme", true)
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Zero(t, result.MessagesArchived)
	assert.Zero(t, result.MessagesDeleted)
	assert.Empty(t, result.RulesApplied)
}

func TestApplyRunsRulesInOrder(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	old := []*models.Message{
		activeMessage("acme", "conv-1", 0.6, 1),
		activeMessage("acme", "conv-2", 0.7, 1),
	}
	noise := []*models.Message{activeMessage("acme", "conv-1", 0.1, 1)}

	fakes.retention.listRulesFn = func(context.Context, string, bool) ([]*models.RetentionRule, error) {
		return []*models.RetentionRule{
			{ID: 1, TenantID: "acme", Name: "stale-after-30", RuleType: models.RuleTypeAge,
				Conditions: models.JSONMap{"days": 30}, Action: models.ActionArchive, Priority: 10, Enabled: true},
			{ID: 2, TenantID: "acme", Name: "drop-noise", RuleType: models.RuleTypeImportance,
				Conditions: models.JSONMap{"threshold": 0.2}, Action: models.ActionDelete, Priority: 20, Enabled: true},
		}, nil
	}
	fakes.retention.ruleCandsFn = func(_ context.Context, q repository.RuleCandidateQuery) ([]*models.Message, error) {
		if q.CreatedBefore != nil {
			assert.WithinDuration(t, time.Now().UTC().Add(-30*24*time.Hour), *q.CreatedBefore, time.Minute)
			return old, nil
		}
		require.NotNil(t, q.ImportanceMax)
		assert.InDelta(t, 0.2, *q.ImportanceMax, 1e-9)
		assert.True(t, q.IncludeNullImportance)
		return noise, nil
	}
	var archiveReason string
	fakes.retention.moveToArchiveFn = func(_ context.Context, messages []*models.Message, reason string) (int, error) {
		archiveReason = reason
		return len(messages), nil
	}
	var deletedIDs []uuid.UUID
	fakes.retention.deleteMessagesFn = func(_ context.Context, ids []uuid.UUID) (int, error) {
		deletedIDs = ids
		return len(ids), nil
	}
	var touched []int64
	fakes.retention.touchRuleFn = func(_ context.Context, id int64, _ time.Time) error {
		touched = append(touched, id)
		return nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	result, err := svc.Apply(context.Background(), "acme", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"stale-after-30", "drop-noise"}, result.RulesApplied)
	assert.Equal(t, 2, result.MessagesArchived)
	assert.Equal(t, 1, result.MessagesDeleted)
	assert.Equal(t, "stale-after-30", archiveReason)
	require.Len(t, deletedIDs, 1)
	assert.Equal(t, noise[0].ID, deletedIDs[0])
	assert.Equal(t, []int64{1, 2}, touched)
}

func TestApplyRuleFailureIsolated(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.listRulesFn = func(context.Context, string, bool) ([]*models.RetentionRule, error) {
		return []*models.RetentionRule{
			{ID: 1, TenantID: "acme", Name: "broken", RuleType: models.RuleTypeAge,
				Conditions: models.JSONMap{"days": 30}, Action: models.ActionArchive, Priority: 10, Enabled: true},
			{ID: 2, TenantID: "acme", Name: "drop-noise", RuleType: models.RuleTypeImportance,
				Conditions: models.JSONMap{}, Action: models.ActionDelete, Priority: 20, Enabled: true},
		}, nil
	}
	fakes.retention.ruleCandsFn = func(_ context.Context, q repository.RuleCandidateQuery) ([]*models.Message, error) {
		if q.CreatedBefore != nil {
			return nil, errors.New("query timeout")
		}
		return []*models.Message{activeMessage("acme", "conv-1", 0.1, 1)}, nil
	}
	fakes.retention.deleteMessagesFn = func(_ context.Context, ids []uuid.UUID) (int, error) {
		return len(ids), nil
	}
	var touched []int64
	fakes.retention.touchRuleFn = func(_ context.Context, id int64, _ time.Time) error {
		touched = append(touched, id)
		return nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	result, err := svc.Apply(context.Background(), "acme", false)
	require.NoError(t, err)

	// The failing rule is skipped; the pass itself never aborts.
	assert.Equal(t, []string{"drop-noise"}, result.RulesApplied)
	assert.Zero(t, result.MessagesArchived)
	assert.Equal(t, 1, result.MessagesDeleted)
	assert.Equal(t, []int64{2}, touched)
}

func TestApplyDryRunCountsRuleCandidates(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.listRulesFn = func(context.Context, string, bool) ([]*models.RetentionRule, error) {
		return []*models.RetentionRule{
			{ID: 5, TenantID: "acme", Name: "drop-noise", RuleType: models.RuleTypeImportance,
				Conditions: models.JSONMap{"threshold": 0.2}, Action: models.ActionDelete, Priority: 10, Enabled: true},
		}, nil
	}
	fakes.retention.ruleCandsFn = func(context.Context, repository.RuleCandidateQuery) ([]*models.Message, error) {
		return []*models.Message{
			activeMessage("acme", "conv-1", 0.1, 1),
			activeMessage("acme", "conv-1", 0.15, 1),
			activeMessage("acme", "conv-2", 0.05, 1),
		}, nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	result, err := svc.Apply(context.Background(), "acme", true)
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, 3, result.MessagesDeleted)
	assert.Equal(t, []string{"drop-noise"}, result.RulesApplied)
}

func TestApplyColdStorageRule(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.listRulesFn = func(context.Context, string, bool) ([]*models.RetentionRule, error) {
		return []*models.RetentionRule{
			{ID: 9, TenantID: "acme", Name: "quiet-convs", RuleType: models.RuleTypeConversationAge,
				Conditions: models.JSONMap{"days": 60}, Action: models.ActionCold, Priority: 10, Enabled: true},
		}, nil
	}
	fakes.retention.staleFn = func(_ context.Context, _ string, lastActiveBefore time.Time) ([]*models.Message, error) {
		assert.WithinDuration(t, time.Now().UTC().Add(-60*24*time.Hour), lastActiveBefore, time.Minute)
		return []*models.Message{
			activeMessage("acme", "conv-1", 0.5, 1),
			activeMessage("acme", "conv-1", 0.5, 1),
		}, nil
	}
	var reason string
	fakes.retention.moveToArchiveFn = func(_ context.Context, messages []*models.Message, r string) (int, error) {
		reason = r
		return len(messages), nil
	}
	fakes.retention.touchRuleFn = func(context.Context, int64, time.Time) error { return nil }

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	result, err := svc.Apply(context.Background(), "acme", false)
	require.NoError(t, err)

	assert.Equal(t, models.ColdStorageReasonPrefix+"quiet-convs", reason)
	assert.Equal(t, 2, result.MessagesMovedToCold)
	assert.Zero(t, result.MessagesArchived)
}

func TestApplyMaxItemsRule(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.listRulesFn = func(context.Context, string, bool) ([]*models.RetentionRule, error) {
		return []*models.RetentionRule{
			{ID: 4, TenantID: "acme", Name: "cap-500", RuleType: models.RuleTypeMaxItems,
				Conditions: models.JSONMap{"max_items": 500}, Action: models.ActionArchive, Priority: 10, Enabled: true},
		}, nil
	}
	fakes.retention.overflowFn = func(_ context.Context, _ string, keepNewest int) ([]*models.Message, error) {
		assert.Equal(t, 500, keepNewest)
		return []*models.Message{
			activeMessage("acme", "conv-1", 0.5, 1),
			activeMessage("acme", "conv-1", 0.5, 1),
			activeMessage("acme", "conv-1", 0.5, 1),
			activeMessage("acme", "conv-1", 0.5, 1),
		}, nil
	}
	fakes.retention.moveToArchiveFn = func(_ context.Context, messages []*models.Message, reason string) (int, error) {
		assert.Equal(t, "cap-500", reason)
		return len(messages), nil
	}
	fakes.retention.touchRuleFn = func(context.Context, int64, time.Time) error { return nil }

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	result, err := svc.Apply(context.Background(), "acme", false)
	require.NoError(t, err)

	assert.Equal(t, 4, result.MessagesArchived)
}

func TestApplyCustomRule(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.listRulesFn = func(context.Context, string, bool) ([]*models.RetentionRule, error) {
		return []*models.RetentionRule{
			{ID: 6, TenantID: "acme", Name: "assistant-chatter", RuleType: models.RuleTypeCustom,
				Conditions: models.JSONMap{"role": "assistant", "max_importance": 0.3},
				Action:     models.ActionDelete, Priority: 10, Enabled: true},
		}, nil
	}
	fakes.retention.ruleCandsFn = func(_ context.Context, q repository.RuleCandidateQuery) ([]*models.Message, error) {
		assert.Equal(t, "assistant", q.Role)
		require.NotNil(t, q.ImportanceMax)
		assert.InDelta(t, 0.3, *q.ImportanceMax, 1e-9)
		assert.Nil(t, q.ImportanceMin)
		assert.False(t, q.IncludeNullImportance)
		return []*models.Message{activeMessage("acme", "conv-1", 0.2, 1)}, nil
	}
	fakes.retention.deleteMessagesFn = func(_ context.Context, ids []uuid.UUID) (int, error) {
		return len(ids), nil
	}
	fakes.retention.touchRuleFn = func(context.Context, int64, time.Time) error { return nil }

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	result, err := svc.Apply(context.Background(), "acme", false)
	require.NoError(t, err)

	assert.Equal(t, 1, result.MessagesDeleted)
}

func TestApplyRejectsBadTenant(t *testing.T) {
	repos, _, _ := newTestRepos(t)
	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)

	_, err := svc.Apply(context.Background(), "not a tenant!", false)
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestRunPolicyArchiveOnly(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.loadPolicyFn = func(context.Context, string) (*models.RetentionPolicy, error) {
		return &models.RetentionPolicy{TenantID: "acme", MaxAgeDays: 45, ImportanceThreshold: 0.5, DeleteAfterDays: 120}, nil
	}
	fakes.retention.archiveCandsFn = func(_ context.Context, _ string, olderThanDays int, threshold float64) ([]*models.Message, error) {
		assert.Equal(t, 45, olderThanDays)
		assert.InDelta(t, 0.5, threshold, 1e-9)
		return []*models.Message{
			activeMessage("acme", "conv-1", 0.1, 1),
			activeMessage("acme", "conv-1", 0.2, 1),
		}, nil
	}
	fakes.retention.moveToArchiveFn = func(_ context.Context, messages []*models.Message, reason string) (int, error) {
		assert.Equal(t, "policy", reason)
		return len(messages), nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	resp, err := svc.RunPolicy(context.Background(), &models.RetentionRunRequest{
		TenantID: "acme",
		Actions:  []string{models.ActionArchive},
	})
	require.NoError(t, err)

	// The delete stage never runs for an archive-only request.
	assert.Equal(t, 2, resp.Archived)
	assert.Zero(t, resp.Deleted)
	assert.False(t, resp.DryRun)
}

func TestRunPolicyDefaultsToBothActions(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.loadPolicyFn = func(context.Context, string) (*models.RetentionPolicy, error) {
		return &models.RetentionPolicy{TenantID: "acme", MaxAgeDays: 30, ImportanceThreshold: 0.35, DeleteAfterDays: 90}, nil
	}
	fakes.retention.archiveCandsFn = func(context.Context, string, int, float64) ([]*models.Message, error) {
		return []*models.Message{activeMessage("acme", "conv-1", 0.1, 1)}, nil
	}
	fakes.retention.moveToArchiveFn = func(_ context.Context, messages []*models.Message, _ string) (int, error) {
		return len(messages), nil
	}
	fakes.retention.deleteArchivedFn = func(context.Context, string, int) (int, error) {
		return 2, nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	resp, err := svc.RunPolicy(context.Background(), &models.RetentionRunRequest{TenantID: "acme"})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Archived)
	assert.Equal(t, 2, resp.Deleted)
}

func TestRunPolicyDryRunMaterialisesPolicy(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.loadPolicyFn = func(context.Context, string) (*models.RetentionPolicy, error) {
		return nil, database.ErrNotFound
	}
	var upserted *models.RetentionPolicy
	fakes.retention.upsertPolicyFn = func(_ context.Context, p *models.RetentionPolicy) error {
		upserted = p
		return nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	resp, err := svc.RunPolicy(context.Background(), &models.RetentionRunRequest{TenantID: "acme", DryRun: true})
	require.NoError(t, err)

	// Even a dry run creates the policy row, so a later real run and the
	// policy read surface agree on the values.
	require.NotNil(t, upserted)
	assert.True(t, resp.DryRun)
	assert.Zero(t, resp.Archived)
	assert.Zero(t, resp.Deleted)
}

func TestRunPolicyArchivesOverflow(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.loadPolicyFn = func(context.Context, string) (*models.RetentionPolicy, error) {
		return &models.RetentionPolicy{
			TenantID:            "acme",
			MaxAgeDays:          30,
			ImportanceThreshold: 0.35,
			MaxItems:            intPtr(100),
			DeleteAfterDays:     90,
		}, nil
	}
	fakes.retention.archiveCandsFn = func(context.Context, string, int, float64) ([]*models.Message, error) {
		return []*models.Message{activeMessage("acme", "conv-1", 0.1, 1)}, nil
	}
	fakes.retention.overflowFn = func(_ context.Context, _ string, keepNewest int) ([]*models.Message, error) {
		assert.Equal(t, 100, keepNewest)
		return []*models.Message{
			activeMessage("acme", "conv-1", 0.9, 1),
			activeMessage("acme", "conv-1", 0.9, 1),
		}, nil
	}
	fakes.retention.moveToArchiveFn = func(_ context.Context, messages []*models.Message, reason string) (int, error) {
		assert.Equal(t, "policy", reason)
		return len(messages), nil
	}
	fakes.retention.deleteArchivedFn = func(context.Context, string, int) (int, error) {
		return 0, nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	resp, err := svc.RunPolicy(context.Background(), &models.RetentionRunRequest{TenantID: "acme"})
	require.NoError(t, err)

	assert.Equal(t, 3, resp.Archived)
}

func TestCreateRuleValidatesConditions(t *testing.T) {
	repos, _, _ := newTestRepos(t)
	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, "acme", &models.RetentionRuleCreate{
		Name:       "bad-days",
		RuleType:   models.RuleTypeAge,
		Conditions: map[string]interface{}{"days": 0},
		Action:     models.ActionArchive,
	})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, models.DetailOf(err), "invalid conditions")

	// Unknown keys are rejected rather than silently ignored.
	_, err = svc.CreateRule(ctx, "acme", &models.RetentionRuleCreate{
		Name:       "typo",
		RuleType:   models.RuleTypeAge,
		Conditions: map[string]interface{}{"daays": 30},
		Action:     models.ActionArchive,
	})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
}

func TestCreateRuleAppliesDefaults(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	var created *models.RetentionRule
	fakes.retention.createRuleFn = func(_ context.Context, rule *models.RetentionRule) error {
		rule.ID = 7
		created = rule
		return nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	rule, err := svc.CreateRule(context.Background(), "acme", &models.RetentionRuleCreate{
		Name:     "stale",
		RuleType: models.RuleTypeAge,
		Action:   models.ActionArchive,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(7), rule.ID)
	assert.True(t, created.Enabled)
	assert.Equal(t, 100, created.Priority)
	assert.NotNil(t, created.Conditions)
}

func TestUpdateRuleChecksConditionsAgainstStoredType(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.getRuleFn = func(_ context.Context, tenantID string, id int64) (*models.RetentionRule, error) {
		assert.Equal(t, "acme", tenantID)
		assert.Equal(t, int64(3), id)
		return &models.RetentionRule{ID: 3, TenantID: "acme", Name: "stale", RuleType: models.RuleTypeAge,
			Conditions: models.JSONMap{"days": 30}, Action: models.ActionArchive, Priority: 10, Enabled: true}, nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	_, err := svc.UpdateRule(context.Background(), "acme", 3, &models.RetentionRuleUpdate{
		Conditions: map[string]interface{}{"threshold": 0.5},
	})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, models.DetailOf(err), "invalid conditions")
}

func TestUpdateRuleAppliesFields(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.getRuleFn = func(context.Context, string, int64) (*models.RetentionRule, error) {
		return &models.RetentionRule{ID: 3, TenantID: "acme", Name: "stale", RuleType: models.RuleTypeAge,
			Conditions: models.JSONMap{"days": 30}, Action: models.ActionArchive, Priority: 10, Enabled: true}, nil
	}
	var saved *models.RetentionRule
	fakes.retention.updateRuleFn = func(_ context.Context, rule *models.RetentionRule) error {
		saved = rule
		return nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	rule, err := svc.UpdateRule(context.Background(), "acme", 3, &models.RetentionRuleUpdate{
		Name:     strPtr("renamed"),
		Priority: intPtr(5),
		Enabled:  boolPtr(false),
	})
	require.NoError(t, err)

	require.NotNil(t, saved)
	assert.Equal(t, "renamed", rule.Name)
	assert.Equal(t, 5, rule.Priority)
	assert.False(t, rule.Enabled)
	assert.Equal(t, models.RuleTypeAge, rule.RuleType)
}

func TestGetPolicyNotFound(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.loadPolicyFn = func(context.Context, string) (*models.RetentionPolicy, error) {
		return nil, database.ErrNotFound
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	_, err := svc.GetPolicy(context.Background(), "acme")
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
	assert.Equal(t, "retention policy not found", models.DetailOf(err))
}

func TestUpdatePolicyMaterialisesDefaults(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.loadPolicyFn = func(context.Context, string) (*models.RetentionPolicy, error) {
		return nil, database.ErrNotFound
	}
	var upserted *models.RetentionPolicy
	fakes.retention.upsertPolicyFn = func(_ context.Context, p *models.RetentionPolicy) error {
		upserted = p
		return nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	policy, err := svc.UpdatePolicy(context.Background(), "acme", &models.RetentionPolicyUpdate{
		MaxAgeDays: intPtr(60),
	})
	require.NoError(t, err)

	assert.Equal(t, 60, policy.MaxAgeDays)
	assert.InDelta(t, 0.35, policy.ImportanceThreshold, 1e-9)
	assert.Equal(t, 90, policy.DeleteAfterDays)
	assert.Equal(t, upserted, policy)
}

func TestListRulesIncludesDisabled(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.listRulesFn = func(_ context.Context, _ string, enabledOnly bool) ([]*models.RetentionRule, error) {
		assert.False(t, enabledOnly)
		return []*models.RetentionRule{
			{ID: 1, Name: "active", Enabled: true},
			{ID: 2, Name: "paused", Enabled: false},
		}, nil
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	rules, err := svc.ListRules(context.Background(), "acme", false)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
}

func TestDeleteRuleNotFound(t *testing.T) {
	repos, _, fakes := newTestRepos(t)

	fakes.retention.deleteRuleFn = func(context.Context, string, int64) error {
		return database.ErrNotFound
	}

	svc := NewRetentionService(repos, nil, RetentionDefaults{}, nil)
	err := svc.DeleteRule(context.Background(), "acme", 42)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}
