// api_key.go defines the APIKey model: a long-lived credential pair bound to
// exactly one account.
package models

import "time"

// APIKey is an access key / secret pair. The secret is stored so that
// authentication can compare it, but it is structurally redacted from every
// JSON representation — the only place a caller ever sees it is the creation
// response, which uses a dedicated response type.
type APIKey struct {
	AccessKeyID string `json:"access_key_id"`
	AccountID   string `json:"account_id"`
	// Name is a friendly label (e.g. "CI pipeline key").
	Name            string     `json:"name"`
	SecretAccessKey string     `json:"-"`
	Disabled        bool       `json:"disabled"`
	Expires         time.Time  `json:"expires"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	// ExpiryNotificationSentAt is set when the expiry notifier has warned the
	// key's owner, so the warning fires once per key.
	ExpiryNotificationSentAt *time.Time `json:"-"`
	CreatedAt                time.Time  `json:"created_at"`
}

// Expired reports whether the key is past its expiration instant. A key
// expiring exactly now is expired: authentication requires now < expires.
func (k *APIKey) Expired(now time.Time) bool {
	return !now.Before(k.Expires)
}
