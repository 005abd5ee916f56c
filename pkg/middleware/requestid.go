// Package middleware holds gin middleware shared by the HTTP surface:
// request id propagation and the sliding-window rate limiters.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderRequestID carries the request id on requests and responses.
	HeaderRequestID = "X-Request-ID"
	// ContextRequestID is the gin context key the request id is stored
	// under.
	ContextRequestID = "request_id"
)

// RequestID attaches a request id to every request/response pair. An
// inbound X-Request-ID is honoured so callers can correlate retries;
// otherwise a fresh UUID is generated. The id is echoed on every
// response, including rejections produced by later middleware.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// RequestIDFrom returns the request id attached by RequestID, or an
// empty string when the middleware did not run.
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(ContextRequestID)
}
