// audit_log.go defines the AuditLog model for recording security-relevant
// events, capturing actor, action, affected resource, client IP, and arbitrary metadata.
package models

import "time"

// AuditLog represents an audit log entry for tracking principal actions
type AuditLog struct {
	ID           string                 `json:"id"`
	AccountID    *string                `json:"account_id,omitempty"` // Nullable for anonymous or system actions
	Action       string                 `json:"action"`               // "repository.put", "membership.invite", "apikey.create"
	ResourceType *string                `json:"resource_type,omitempty"` // "account", "repository", "membership", "api_key", "data_connection"
	ResourceID   *string                `json:"resource_id,omitempty"`   // Identifier of affected resource
	Metadata     map[string]interface{} `json:"metadata,omitempty"`      // JSONB: additional context
	IPAddress    *string                `json:"ip_address,omitempty"`    // Client IP
	Status       int                    `json:"status"`                  // HTTP status of the handled request
	CreatedAt    time.Time              `json:"created_at"`
}
