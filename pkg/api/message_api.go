package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/recallmesh/recallmesh/pkg/models"
	"github.com/recallmesh/recallmesh/pkg/services"
)

// MessageAPI handles message ingestion, management and search.
type MessageAPI struct {
	svc   services.MessageService
	async bool
}

func NewMessageAPI(svc services.MessageService, async bool) *MessageAPI {
	return &MessageAPI{svc: svc, async: async}
}

// RegisterRoutes registers message endpoints under /messages. The
// guard runs on every mutating route.
func (a *MessageAPI) RegisterRoutes(router *gin.RouterGroup, guard gin.HandlerFunc) {
	messages := router.Group("/messages")
	messages.Use(mutatingOnly(guard))
	messages.POST("", a.create)
	messages.POST("/batch", a.batchCreate)
	messages.POST("/batch/update", a.batchUpdate)
	messages.POST("/batch/delete", a.batchDelete)
	messages.GET("/:id", a.get)
	messages.PUT("/:id", a.update)
	messages.DELETE("/:id", a.delete)
}

func (a *MessageAPI) create(c *gin.Context) {
	var payload models.MessageCreate
	if !bindJSON(c, &payload) {
		return
	}
	msg, err := a.svc.Ingest(c.Request.Context(), &payload)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if a.async {
		status = http.StatusAccepted
	}
	c.JSON(status, msg)
}

func (a *MessageAPI) batchCreate(c *gin.Context) {
	var payload models.MessageBatchCreate
	if !bindJSON(c, &payload) {
		return
	}
	resp, err := a.svc.BatchCreate(c.Request.Context(), &payload)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if len(resp.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, resp)
}

func (a *MessageAPI) get(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	msg, err := a.svc.Fetch(c.Request.Context(), tenantFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (a *MessageAPI) update(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	var payload models.MessageUpdate
	if !bindJSON(c, &payload) {
		return
	}
	msg, err := a.svc.Update(c.Request.Context(), tenantFrom(c), id, &payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (a *MessageAPI) delete(c *gin.Context) {
	id, ok := messageID(c)
	if !ok {
		return
	}
	if err := a.svc.Delete(c.Request.Context(), tenantFrom(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *MessageAPI) batchUpdate(c *gin.Context) {
	var payload models.MessageBatchUpdate
	if !bindJSON(c, &payload) {
		return
	}
	resp, err := a.svc.BatchUpdate(c.Request.Context(), tenantFrom(c), &payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *MessageAPI) batchDelete(c *gin.Context) {
	var payload models.MessageBatchDelete
	if !bindJSON(c, &payload) {
		return
	}
	resp, err := a.svc.BatchDelete(c.Request.Context(), tenantFrom(c), &payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// search answers /memory/search. Parameter defaults and bounds live in
// SearchParams.Validate, called by the service.
func (a *MessageAPI) search(c *gin.Context) {
	var params models.SearchParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorEnvelope(c, "Invalid query parameters: "+err.Error()))
		return
	}
	if params.TenantID == "" {
		params.TenantID = tenantFrom(c)
	}
	resp, err := a.svc.Retrieve(c.Request.Context(), &params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// messageID parses the id path segment, rejecting non-UUIDs.
func messageID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorEnvelope(c, "Invalid message id"))
		return uuid.Nil, false
	}
	return id, true
}
