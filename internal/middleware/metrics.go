// Package middleware provides the Gin middleware for the DataHub Registry.
// Everything here is registered in internal/api/router.go ahead of the route
// handlers so every request is covered regardless of handler.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/datahub-registry/datahub-registry/internal/telemetry"
)

// MetricsMiddleware records request throughput, latency, and concurrency:
//
//   - http_requests_total{method, path, status}
//   - http_request_duration_seconds{method, path}
//   - http_requests_in_flight
//
// The path label comes from c.FullPath(), the matched route template
// (e.g. /api/v1/repositories/:account/:repository/data/*path), never the raw
// URL, so per-object data-plane paths cannot explode label cardinality.
// Requests matching no route are labelled "<no-route>" for the same reason.
//
// Register after gin.Recovery() so statuses written by the panic handler are
// still observed.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		telemetry.HTTPRequestsInFlight.Inc()

		c.Next()

		telemetry.HTTPRequestsInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
