// Package models defines the database model types for the DataHub Registry.
// Each type corresponds to a database table and uses struct tags for JSON serialization.
// Models are pure data types — authorization logic lives in internal/authz, query logic in the repositories layer.
package models

import "time"

// AccountType distinguishes personal accounts from organizations
type AccountType string

const (
	AccountTypeUser         AccountType = "USER"
	AccountTypeOrganization AccountType = "ORGANIZATION"
)

// AccountFlag is a platform capability granted to an account, orthogonal to
// membership roles. Flags are account-wide: they are never scoped to a
// repository or organization.
type AccountFlag string

const (
	// FlagAdmin grants the platform-wide admin override.
	FlagAdmin AccountFlag = "ADMIN"
	// FlagCreateRepositories allows the account to create repositories.
	FlagCreateRepositories AccountFlag = "CREATE_REPOSITORIES"
	// FlagCreateOrganizations allows the account to create organization accounts.
	FlagCreateOrganizations AccountFlag = "CREATE_ORGANIZATIONS"
)

// Account represents a user or organization account. The account ID is a
// lowercase slug (3-40 chars) and doubles as the URL namespace for the
// account's repositories.
type Account struct {
	ID          string        `json:"account_id"`
	Type        AccountType   `json:"account_type"`
	DisplayName string        `json:"display_name"`
	Description *string       `json:"description,omitempty"`
	Email       *string       `json:"email,omitempty"`
	Disabled    bool          `json:"disabled"`
	Flags       []AccountFlag `json:"flags"`
	// IdentityID is the identity provider's subject for the user that owns
	// this account. Only set for USER accounts that completed onboarding; it
	// is consulted during principal resolution, never by the decision engine.
	IdentityID *string   `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasFlag reports whether the account carries the given capability flag.
func (a *Account) HasFlag(flag AccountFlag) bool {
	for _, f := range a.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the account carries the ADMIN flag.
func (a *Account) IsAdmin() bool {
	return a.HasFlag(FlagAdmin)
}

// ValidAccountFlags returns the set of recognised account flags.
func ValidAccountFlags() map[AccountFlag]bool {
	return map[AccountFlag]bool{
		FlagAdmin:               true,
		FlagCreateRepositories:  true,
		FlagCreateOrganizations: true,
	}
}
