package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/services"
)

// AdminAPI exposes operational endpoints: a deep health report and a
// direct retention trigger.
type AdminAPI struct {
	retention services.RetentionService
	health    services.HealthService
}

func NewAdminAPI(retention services.RetentionService, health services.HealthService) *AdminAPI {
	return &AdminAPI{retention: retention, health: health}
}

func (a *AdminAPI) RegisterRoutes(router *gin.RouterGroup, guard gin.HandlerFunc) {
	admin := router.Group("/admin")
	admin.GET("/health", a.healthCheck)
	admin.POST("/retention/run", guard, a.runRetention)
}

// healthCheck always answers 200; the report body carries the degraded
// state so probes can alert without flapping the endpoint itself.
func (a *AdminAPI) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, a.health.Check(c.Request.Context()))
}

func (a *AdminAPI) runRetention(c *gin.Context) {
	var payload models.RetentionRunRequest
	if !bindJSON(c, &payload) {
		return
	}
	resp, err := a.retention.RunPolicy(c.Request.Context(), &payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
