// Package telemetry provides application-level observability for the DataHub Registry.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<DHR_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090.  The endpoint returns data in the Prometheus text exposition
// format (Content-Type: text/plain; version=0.0.4) and is intended to be scraped by
// a Prometheus server every 15–60 seconds.  It is NOT served by the Gin router and
// is therefore invisible to registry API clients.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Authorization decision counters (allow/deny, by operation)
//   - Membership invitation lifecycle counters
//   - API key issuance, revocation, and expiry notification counters
//   - Download URL issuance counters by connection type
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v1/accounts/:slug)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as account slugs or repository names.
// Authorization metrics are labelled by operation name, never by account.
//
// # Usage
//
// Import the package for side effects so metrics are registered before the HTTP server
// starts listening:
//
//	import _ "github.com/datahub-registry/datahub-registry/internal/telemetry"
//
// Or import it directly and use an exported var:
//
//	telemetry.AuthzDecisionsTotal.WithLabelValues("repository.read", "allow").Inc()
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}.
// The path label holds the Gin route template (e.g. /v1/repositories/:account/:name),
// NOT the raw URL, to prevent unbounded cardinality.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - Requests by route:                 sum by (path) (rate(http_requests_total[5m]))
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and exponential-ish
// buckets from 5 ms to 30 s.  Use histogram_quantile to compute latency percentiles.
//
// Example PromQL queries:
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
//   - Average latency:                   rate(http_request_duration_seconds_sum[5m]) / rate(http_request_duration_seconds_count[5m])
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight counts requests currently being handled. A sustained
	// climb with flat throughput means handlers are blocking on the database or
	// a storage backend.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		},
	)
)

// Authorization metrics — recorded by the authz resolver on every access decision.
//
// AuthzDecisionsTotal is a CounterVec with labels {operation, decision} where
// operation is the logical operation name (e.g. "repository.read",
// "connection.manage") and decision is "allow" or "deny".  Labelling by
// operation keeps cardinality bounded; never label by account or repository.
//
// Example PromQL queries:
//   - Deny rate by operation:  sum by (operation) (rate(authz_decisions_total{decision="deny"}[5m]))
//   - Overall deny ratio:      sum(rate(authz_decisions_total{decision="deny"}[5m])) / sum(rate(authz_decisions_total[5m]))
var AuthzDecisionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "authz_decisions_total",
		Help: "Total number of authorization decisions, by operation and decision.",
	},
	[]string{"operation", "decision"},
)

// Membership lifecycle metrics — recorded by the membership service.
//
// MembershipTransitionsTotal is a CounterVec with label {transition} taking
// values "invited", "accepted", "rejected", "revoked".  Useful for tracking
// invitation conversion rates.
//
// Example PromQL queries:
//   - Invitation acceptance ratio (24 h):  increase(membership_transitions_total{transition="accepted"}[24h]) / increase(membership_transitions_total{transition="invited"}[24h])
var MembershipTransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "membership_transitions_total",
		Help: "Total number of membership state transitions, by transition type.",
	},
	[]string{"transition"},
)

// API key metrics — recorded by the API key service and expiry notifier job.
//
// APIKeysIssuedTotal and APIKeysRevokedTotal are plain Counters.  A sustained
// divergence between issuance and revocation is normal; a spike in revocations
// may indicate credential leak response.
var (
	APIKeysIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apikeys_issued_total",
			Help: "Total number of API keys issued.",
		},
	)

	APIKeysRevokedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apikeys_revoked_total",
			Help: "Total number of API keys revoked.",
		},
	)
)

// APIKeyExpiryNotificationsSentTotal is a plain Counter (no labels) incremented once
// per email successfully delivered by the api_key_expiry_notifier background job.
// A stalled counter combined with api keys approaching expiry is a useful alert signal
// for SMTP delivery failures.
//
// Example PromQL queries:
//   - Rate of notifications sent:  rate(apikey_expiry_notifications_sent_total[24h])
var APIKeyExpiryNotificationsSentTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "apikey_expiry_notifications_sent_total",
		Help: "Total number of API key expiry warning emails successfully sent.",
	},
)

// DownloadURLsIssuedTotal is a CounterVec with label {connection_type} ("S3",
// "AZURE", "GCS", "LOCAL") incremented whenever a signed download URL is
// handed to a client.  The registry never proxies bulk data, so this counter
// is the closest proxy for data egress volume.
//
// Example PromQL queries:
//   - URL issuance by backend:  sum by (connection_type) (rate(download_urls_issued_total[1h]))
var DownloadURLsIssuedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "download_urls_issued_total",
		Help: "Total number of signed download URLs issued, by connection type.",
	},
	[]string{"connection_type"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections currently
// held by the sql.DB connection pool.  It is sampled every 30 seconds by
// StartDBStatsCollector rather than per-request to avoid the overhead of sql.DB.Stats().
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <DHR_DATABASE_MAX_CONNECTIONS> * 100
//   - Alert on near-exhaustion: db_open_connections > 20  (for max_connections=25)
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping fails),
// which happens automatically when the application shuts down and defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
