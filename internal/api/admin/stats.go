// stats.go aggregates platform-wide counts for the admin dashboard.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// PlatformStats is the response for the admin dashboard statistics endpoint.
type PlatformStats struct {
	Accounts     AccountStats    `json:"accounts"`
	Repositories RepositoryStats `json:"repositories"`
	Memberships  MembershipStats `json:"memberships"`
	APIKeys      APIKeyStats     `json:"api_keys"`
	Connections  ConnectionStats `json:"data_connections"`

	// AuditEvents24h counts audit records written in the last day. Zero when
	// the audit table is absent.
	AuditEvents24h int64 `json:"audit_events_24h"`
}

// AccountStats breaks accounts down by type.
type AccountStats struct {
	Users         int64 `json:"users"`
	Organizations int64 `json:"organizations"`
	Disabled      int64 `json:"disabled"`
}

// DataModeCount is the repository count for a single data access mode.
type DataModeCount struct {
	DataMode string `json:"data_mode"`
	Count    int64  `json:"count"`
}

// RepositoryStats summarises the repository catalog.
type RepositoryStats struct {
	Total      int64           `json:"total"`
	Listed     int64           `json:"listed"`
	Featured   int64           `json:"featured"`
	Disabled   int64           `json:"disabled"`
	ByDataMode []DataModeCount `json:"by_data_mode"`
}

// MembershipStats breaks grants down by lifecycle state.
type MembershipStats struct {
	Invited int64 `json:"invited"`
	Members int64 `json:"members"`
	Revoked int64 `json:"revoked"`
}

// APIKeyStats summarises issued access keys.
type APIKeyStats struct {
	Total   int64 `json:"total"`
	Enabled int64 `json:"enabled"`
	Expired int64 `json:"expired"`
}

// ConnectionTypeCount is the connection count for a single backend type.
type ConnectionTypeCount struct {
	ConnectionType string `json:"connection_type"`
	Count          int64  `json:"count"`
}

// ConnectionStats summarises configured data connections.
type ConnectionStats struct {
	Total   int64                 `json:"total"`
	Enabled int64                 `json:"enabled"`
	ByType  []ConnectionTypeCount `json:"by_type"`
}

// StatsHandler returns aggregated platform statistics.
// Implements: GET /api/v1/admin/stats
//
// Registered behind RequireAdmin; the handler itself performs no further
// authorization.
func StatsHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		// Core counts, single round-trip.
		query := `
			SELECT
				(SELECT COUNT(*) FROM accounts WHERE account_type = 'USER') AS user_count,
				(SELECT COUNT(*) FROM accounts WHERE account_type = 'ORGANIZATION') AS org_count,
				(SELECT COUNT(*) FROM accounts WHERE disabled = true) AS disabled_account_count,
				(SELECT COUNT(*) FROM repositories) AS repository_count,
				(SELECT COUNT(*) FROM repositories WHERE state = 'LISTED' AND disabled = false) AS listed_count,
				(SELECT COUNT(*) FROM repositories WHERE featured = true) AS featured_count,
				(SELECT COUNT(*) FROM repositories WHERE disabled = true) AS disabled_repository_count,
				(SELECT COUNT(*) FROM memberships WHERE state = 'INVITED') AS invited_count,
				(SELECT COUNT(*) FROM memberships WHERE state = 'MEMBER') AS member_count,
				(SELECT COUNT(*) FROM memberships WHERE state = 'REVOKED') AS revoked_count,
				(SELECT COUNT(*) FROM api_keys) AS key_count,
				(SELECT COUNT(*) FROM api_keys WHERE disabled = false AND (expires IS NULL OR expires > NOW())) AS enabled_key_count,
				(SELECT COUNT(*) FROM api_keys WHERE expires IS NOT NULL AND expires <= NOW()) AS expired_key_count,
				(SELECT COUNT(*) FROM data_connections) AS connection_count,
				(SELECT COUNT(*) FROM data_connections WHERE disabled = false) AS enabled_connection_count
		`

		var stats PlatformStats
		err := db.QueryRowContext(ctx, query).Scan(
			&stats.Accounts.Users,
			&stats.Accounts.Organizations,
			&stats.Accounts.Disabled,
			&stats.Repositories.Total,
			&stats.Repositories.Listed,
			&stats.Repositories.Featured,
			&stats.Repositories.Disabled,
			&stats.Memberships.Invited,
			&stats.Memberships.Members,
			&stats.Memberships.Revoked,
			&stats.APIKeys.Total,
			&stats.APIKeys.Enabled,
			&stats.APIKeys.Expired,
			&stats.Connections.Total,
			&stats.Connections.Enabled,
		)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load platform statistics"})
			return
		}

		// Repository breakdown by data mode.
		stats.Repositories.ByDataMode = []DataModeCount{}
		if rows, modeErr := db.QueryContext(ctx, `
			SELECT data_mode, COUNT(*) AS count
			FROM repositories
			GROUP BY data_mode
			ORDER BY count DESC
		`); modeErr == nil {
			defer rows.Close()
			for rows.Next() {
				var entry DataModeCount
				if scanErr := rows.Scan(&entry.DataMode, &entry.Count); scanErr == nil {
					stats.Repositories.ByDataMode = append(stats.Repositories.ByDataMode, entry)
				}
			}
		}

		// Connection breakdown by backend type.
		stats.Connections.ByType = []ConnectionTypeCount{}
		if rows, typeErr := db.QueryContext(ctx, `
			SELECT connection_type, COUNT(*) AS count
			FROM data_connections
			GROUP BY connection_type
			ORDER BY count DESC
		`); typeErr == nil {
			defer rows.Close()
			for rows.Next() {
				var entry ConnectionTypeCount
				if scanErr := rows.Scan(&entry.ConnectionType, &entry.Count); scanErr == nil {
					stats.Connections.ByType = append(stats.Connections.ByType, entry)
				}
			}
		}

		// Optional table, graceful fallback to zero when migrations for the
		// audit shipper have not run.
		_ = db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM audit_logs WHERE created_at > NOW() - INTERVAL '24 hours'`,
		).Scan(&stats.AuditEvents24h)

		c.JSON(http.StatusOK, stats)
	}
}
