package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/services"
)

// RetentionAPI manages per-tenant retention policies and rules.
type RetentionAPI struct {
	svc services.RetentionService
}

func NewRetentionAPI(svc services.RetentionService) *RetentionAPI {
	return &RetentionAPI{svc: svc}
}

func (a *RetentionAPI) RegisterRoutes(router *gin.RouterGroup) {
	retention := router.Group("/retention")
	retention.GET("/policy", a.getPolicy)
	retention.PUT("/policy", a.updatePolicy)
	retention.POST("/rules", a.createRule)
	retention.GET("/rules", a.listRules)
	retention.GET("/rules/:id", a.getRule)
	retention.PUT("/rules/:id", a.updateRule)
	retention.DELETE("/rules/:id", a.deleteRule)
	retention.POST("/execute", a.execute)
}

func (a *RetentionAPI) getPolicy(c *gin.Context) {
	policy, err := a.svc.GetPolicy(c.Request.Context(), tenantFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

func (a *RetentionAPI) updatePolicy(c *gin.Context) {
	var payload models.RetentionPolicyUpdate
	if !bindJSON(c, &payload) {
		return
	}
	policy, err := a.svc.UpdatePolicy(c.Request.Context(), tenantFrom(c), &payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

func (a *RetentionAPI) createRule(c *gin.Context) {
	var payload models.RetentionRuleCreate
	if !bindJSON(c, &payload) {
		return
	}
	rule, err := a.svc.CreateRule(c.Request.Context(), tenantFrom(c), &payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

func (a *RetentionAPI) listRules(c *gin.Context) {
	enabledOnly, ok := boolQuery(c, "enabled_only")
	if !ok {
		return
	}
	rules, err := a.svc.ListRules(c.Request.Context(), tenantFrom(c), enabledOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (a *RetentionAPI) getRule(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}
	rule, err := a.svc.GetRule(c.Request.Context(), tenantFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (a *RetentionAPI) updateRule(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}
	var payload models.RetentionRuleUpdate
	if !bindJSON(c, &payload) {
		return
	}
	rule, err := a.svc.UpdateRule(c.Request.Context(), tenantFrom(c), id, &payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (a *RetentionAPI) deleteRule(c *gin.Context) {
	id, ok := ruleID(c)
	if !ok {
		return
	}
	if err := a.svc.DeleteRule(c.Request.Context(), tenantFrom(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *RetentionAPI) execute(c *gin.Context) {
	dryRun, ok := boolQuery(c, "dry_run")
	if !ok {
		return
	}
	result, err := a.svc.Apply(c.Request.Context(), tenantFrom(c), dryRun)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func ruleID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorEnvelope(c, "Invalid rule id"))
		return 0, false
	}
	return id, true
}

// boolQuery reads an optional boolean query parameter, defaulting to
// false when absent.
func boolQuery(c *gin.Context, name string) (bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return false, true
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorEnvelope(c, "Invalid "+name+" parameter"))
		return false, false
	}
	return value, true
}
