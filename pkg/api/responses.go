package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/recallmesh/recallmesh/pkg/middleware"
	"github.com/recallmesh/recallmesh/pkg/models"
)

// errorEnvelope is the error body shape shared by every failure path.
func errorEnvelope(c *gin.Context, detail string) gin.H {
	return gin.H{
		"detail":     detail,
		"request_id": middleware.RequestIDFrom(c),
	}
}

// respondError maps a service error onto its status code and writes
// the envelope. Untyped errors surface as a generic 500 so internals
// never leak.
func respondError(c *gin.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		c.AbortWithStatusJSON(http.StatusGatewayTimeout, errorEnvelope(c, "Request timeout"))
		return
	}

	var status int
	detail := models.DetailOf(err)
	switch models.CodeOf(err) {
	case models.ErrorCodeValidation:
		status = http.StatusBadRequest
	case models.ErrorCodeNotFound:
		status = http.StatusNotFound
	case models.ErrorCodeForbidden:
		status = http.StatusForbidden
	case models.ErrorCodeRateLimited:
		status = http.StatusTooManyRequests
	case models.ErrorCodeTimeout:
		status = http.StatusGatewayTimeout
	case models.ErrorCodeStore:
		status = http.StatusInternalServerError
		detail = "Database error"
	default:
		status = http.StatusInternalServerError
		detail = "Internal server error"
	}
	c.AbortWithStatusJSON(status, errorEnvelope(c, detail))
}

// bindJSON decodes the body, mapping malformed JSON onto the 400
// envelope.
func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorEnvelope(c, "Invalid request body: "+err.Error()))
		return false
	}
	return true
}
