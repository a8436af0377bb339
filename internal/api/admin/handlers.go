// handlers.go implements the admin-only account directory and audit log
// endpoints. All routes in this package are registered behind RequireAdmin.
package admin

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/datahub-registry/datahub-registry/internal/api/guard"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
)

// ListAccountsHandler pages through every account, disabled ones included.
// The public account endpoint hides disabled accounts; operators need to see
// them to re-enable or investigate.
// Implements: GET /api/v1/admin/accounts
func ListAccountsHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewAccountRepository(db)

	return func(c *gin.Context) {
		limit, offset := guard.Pagination(c)

		accounts, total, err := repo.ListAccounts(c.Request.Context(), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list accounts"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"accounts": accounts,
			"meta": gin.H{
				"limit":  limit,
				"offset": offset,
				"total":  total,
			},
		})
	}
}

// ListAuditLogsHandler pages through the audit trail, newest first.
// Implements: GET /api/v1/admin/audit-logs
//
// Supported query filters: account_id, action, resource_type, start_date,
// end_date (RFC 3339 timestamps).
func ListAuditLogsHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewAuditRepository(db)

	return func(c *gin.Context) {
		filters, err := auditFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid date filter, expected RFC 3339"})
			return
		}
		limit, offset := guard.Pagination(c)

		logs, total, err := repo.ListAuditLogs(c.Request.Context(), filters, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit logs"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"audit_logs": logs,
			"meta": gin.H{
				"limit":  limit,
				"offset": offset,
				"total":  total,
			},
		})
	}
}

// GetAuditLogHandler returns a single audit record.
// Implements: GET /api/v1/admin/audit-logs/:id
func GetAuditLogHandler(db *sql.DB) gin.HandlerFunc {
	repo := repositories.NewAuditRepository(db)

	return func(c *gin.Context) {
		entry, err := repo.GetAuditLog(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load audit log"})
			return
		}
		if entry == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Audit log not found"})
			return
		}
		c.JSON(http.StatusOK, entry)
	}
}

func auditFilters(c *gin.Context) (repositories.AuditFilters, error) {
	var filters repositories.AuditFilters

	if v := c.Query("account_id"); v != "" {
		filters.AccountID = &v
	}
	if v := c.Query("action"); v != "" {
		filters.Action = &v
	}
	if v := c.Query("resource_type"); v != "" {
		filters.ResourceType = &v
	}
	if v := c.Query("start_date"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, err
		}
		filters.StartDate = &ts
	}
	if v := c.Query("end_date"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, err
		}
		filters.EndDate = &ts
	}
	return filters, nil
}
