package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/recallmesh/recallmesh/pkg/middleware"
	"github.com/recallmesh/recallmesh/pkg/observability"
)

// Recovery turns panics into the generic 500 envelope and logs them
// with the request id.
func Recovery(logger observability.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.Error("Handler panicked", map[string]interface{}{
			"panic":      recovered,
			"path":       c.Request.URL.Path,
			"request_id": middleware.RequestIDFrom(c),
		})
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorEnvelope(c, "Internal server error"))
	})
}

// RequestLogger emits one structured line per request.
func RequestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("Request handled", map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     c.Writer.Status(),
			"latency_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"client_ip":  c.ClientIP(),
			"request_id": middleware.RequestIDFrom(c),
		})
	}
}

// SecurityHeaders sets the protective response headers on every reply.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		c.Next()
	}
}

// RequestSizeLimit rejects oversized payloads with 413. Only requests
// declaring a Content-Length are checked here; chunked uploads are
// additionally capped by MaxBytesReader while the body is read.
func RequestSizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBytes <= 0 {
			c.Next()
			return
		}
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, errorEnvelope(c, "Request too large"))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RequestTimeout puts a deadline on the request context. Handlers and
// everything below them observe it through ctx; expiry surfaces as the
// 504 envelope when the work aborts.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// APIKeyAuth guards a route with the static key. With no key
// configured the middleware admits everything.
func APIKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		if c.GetHeader("X-API-Key") != key {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope(c, "Invalid API key"))
			return
		}
		c.Next()
	}
}

// mutatingOnly applies guard to everything except GET and HEAD.
func mutatingOnly(guard gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead:
			c.Next()
		default:
			guard(c)
		}
	}
}

// tenantFrom resolves the tenant for tenant-scoped endpoints: the
// query parameter wins, the X-Tenant-ID header is the fallback.
func tenantFrom(c *gin.Context) string {
	if t := c.Query("tenant_id"); t != "" {
		return t
	}
	return strings.TrimSpace(c.GetHeader("X-Tenant-ID"))
}
