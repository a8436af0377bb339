// repository.go defines the Repository model: a named data product owned by
// exactly one account and backed by a data connection.
package models

import "time"

// RepositoryState controls public discoverability. It is independent of access
// control: an UNLISTED repository with OPEN data is invisible in listings but
// its data is still world-readable.
type RepositoryState string

const (
	RepositoryListed   RepositoryState = "LISTED"
	RepositoryUnlisted RepositoryState = "UNLISTED"
)

// DataMode controls whether reading repository data requires a membership.
type DataMode string

const (
	DataModeOpen         DataMode = "OPEN"
	DataModeSubscription DataMode = "SUBSCRIPTION"
	DataModePrivate      DataMode = "PRIVATE"
)

// Repository represents a data repository (product). Its identity is the
// composite (account_id, repository_id); both halves are slugs.
type Repository struct {
	AccountID    string          `json:"account_id"`
	RepositoryID string          `json:"repository_id"`
	Title        string          `json:"title"`
	Description  *string         `json:"description,omitempty"`
	State        RepositoryState `json:"state"`
	DataMode     DataMode        `json:"data_mode"`
	Disabled     bool            `json:"disabled"`
	// Featured is mutated by admins only; it drives front-page placement.
	Featured bool `json:"featured"`
	// ConnectionID names the data connection whose storage backend holds this
	// repository's data.
	ConnectionID *string   `json:"connection_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Path returns the canonical "account/repository" identifier.
func (r *Repository) Path() string {
	return r.AccountID + "/" + r.RepositoryID
}
