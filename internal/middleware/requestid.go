package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader propagates the request identifier to and from callers.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request ID so handlers
	// and later middleware can read it without touching headers.
	RequestIDKey = "request_id"

	// maxInboundRequestIDLen caps reuse of caller-supplied identifiers. A
	// longer value is discarded and replaced rather than flowed into logs.
	maxInboundRequestIDLen = 128
)

// RequestIDMiddleware tags every request with a unique identifier.
//
// An inbound X-Request-ID from an upstream proxy or gateway is reused as long
// as it is non-empty and within maxInboundRequestIDLen; otherwise a fresh
// UUID v4 is minted. The identifier is stored under RequestIDKey and echoed in
// the response header so clients can quote it when reporting a failed call.
//
// Register this early in the chain so the access logger and audit capture see
// the ID on every request.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxInboundRequestIDLen {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// RequestIDFrom returns the request identifier stored by RequestIDMiddleware,
// or the empty string when the middleware did not run.
func RequestIDFrom(c *gin.Context) string {
	if id, ok := c.Get(RequestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}
