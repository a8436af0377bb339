// audit.go provides Gin middleware that records authenticated write operations
// to the audit log, with optional shipping to external audit destinations.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/datahub-registry/datahub-registry/internal/audit"
	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
	"github.com/datahub-registry/datahub-registry/internal/safego"
)

// AuditMiddleware logs actions to the database only
func AuditMiddleware(auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return AuditMiddlewareWithShipper(auditRepo, nil, nil)
}

// AuditMiddlewareWithShipper logs actions and ships them to external
// destinations (syslog, webhook, file) per the audit configuration.
//
// Default policy (nil config): successful write operations only. The config
// can additionally enable read operations and failed requests. Records are
// written asynchronously so the audit trail never adds latency to the
// request's critical path.
func AuditMiddlewareWithShipper(auditRepo *repositories.AuditRepository, shipper audit.Shipper, auditCfg *config.AuditConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Process request first
		c.Next()

		// Skip OPTIONS always
		if c.Request.Method == "OPTIONS" {
			return
		}

		logReadOps := auditCfg != nil && auditCfg.LogReadOperations
		logFailedReqs := auditCfg != nil && auditCfg.LogFailedRequests

		isReadOp := c.Request.Method == "GET"
		isFailed := c.Writer.Status() >= 400

		if isReadOp && !logReadOps {
			return
		}
		if isFailed && !logFailedReqs {
			return
		}

		action := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		ipAddress := c.ClientIP()
		status := c.Writer.Status()

		entry := &models.AuditLog{
			Action:    action,
			IPAddress: &ipAddress,
			Status:    status,
			CreatedAt: time.Now(),
		}

		var accountID string
		if v, ok := c.Get(AccountIDKey); ok {
			if id, ok := v.(string); ok && id != "" {
				accountID = id
				entry.AccountID = &accountID
			}
		}

		var resourceType string
		if rt := resourceTypeFromPath(c.Request.URL.Path); rt != "" {
			resourceType = rt
			entry.ResourceType = &resourceType
		}

		metadata := map[string]interface{}{
			"status_code": status,
		}
		entry.Metadata = metadata

		// Async write; audit persistence never blocks the response.
		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			if auditRepo != nil {
				if err := auditRepo.CreateAuditLog(ctx, entry); err != nil {
					slog.Error("failed to persist audit log", "action", entry.Action, "error", err)
				}
			}

			if shipper != nil {
				shipped := &audit.LogEntry{
					Timestamp:    entry.CreatedAt,
					Action:       entry.Action,
					AccountID:    accountID,
					ResourceType: resourceType,
					IPAddress:    ipAddress,
					StatusCode:   status,
					Metadata:     metadata,
				}
				if err := shipper.Ship(ctx, shipped); err != nil {
					slog.Error("failed to ship audit log", "action", entry.Action, "error", err)
				}
			}
		})
	}
}

// resourceTypeFromPath classifies the request path into the resource-type
// vocabulary used by the audit log. Returns "" for unclassified paths.
func resourceTypeFromPath(path string) string {
	switch {
	case strings.Contains(path, "/memberships"):
		return "membership"
	case strings.Contains(path, "/apikeys"):
		return "api_key"
	case strings.Contains(path, "/connections"):
		return "data_connection"
	case strings.Contains(path, "/repositories"):
		return "repository"
	case strings.Contains(path, "/accounts"):
		return "account"
	default:
		return ""
	}
}
