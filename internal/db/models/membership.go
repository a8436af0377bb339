// membership.go defines the Membership model: a directed collaboration grant
// from a grantee account to an organization or account, optionally scoped to a
// single repository.
package models

import "time"

// MembershipRole orders collaborator privilege. OWNERS and MAINTAINERS carry
// administrative privilege (membership management, profile edits) in addition
// to data access; WRITE_DATA and READ_DATA are data-plane only.
type MembershipRole string

const (
	RoleOwners      MembershipRole = "OWNERS"
	RoleMaintainers MembershipRole = "MAINTAINERS"
	RoleWriteData   MembershipRole = "WRITE_DATA"
	RoleReadData    MembershipRole = "READ_DATA"
)

// MembershipState is the lifecycle state of a grant. REVOKED records are kept
// forever as an audit trail; re-inviting creates a fresh record.
type MembershipState string

const (
	MembershipInvited MembershipState = "INVITED"
	MembershipMember  MembershipState = "MEMBER"
	MembershipRevoked MembershipState = "REVOKED"
)

// Membership grants AccountID (the grantee) a role on MembershipAccountID (the
// granting organization or account). A nil RepositoryID makes the grant
// organization-scoped: it applies to the granting account and transitively to
// every repository it owns. A non-nil RepositoryID restricts the grant to that
// one repository.
type Membership struct {
	ID                  string          `json:"id"`
	AccountID           string          `json:"account_id"`
	MembershipAccountID string          `json:"membership_account_id"`
	RepositoryID        *string         `json:"repository_id,omitempty"`
	Role                MembershipRole  `json:"role"`
	State               MembershipState `json:"state"`
	StateChanged        time.Time       `json:"state_changed"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Active reports whether the grant currently confers any privilege. INVITED
// and REVOKED grants never authorize anything.
func (m *Membership) Active() bool {
	return m.State == MembershipMember
}

// Covers reports whether the grant applies to the given resource coordinates:
// the granting side must match, and the grant must either be
// organization-scoped or scoped to the same repository. Pass an empty
// repositoryID when checking account-level resources; repository-scoped grants
// never cover those.
func (m *Membership) Covers(accountID, repositoryID string) bool {
	if m.MembershipAccountID != accountID {
		return false
	}
	if m.RepositoryID == nil {
		return true
	}
	return repositoryID != "" && *m.RepositoryID == repositoryID
}

// ScopeKey returns the uniqueness tuple (grantee, granting account,
// repository) used by the at-most-one-non-revoked invariant.
func (m *Membership) ScopeKey() string {
	repo := ""
	if m.RepositoryID != nil {
		repo = *m.RepositoryID
	}
	return m.AccountID + "\x00" + m.MembershipAccountID + "\x00" + repo
}

// ValidMembershipRoles returns the set of recognised roles.
func ValidMembershipRoles() map[MembershipRole]bool {
	return map[MembershipRole]bool{
		RoleOwners:      true,
		RoleMaintainers: true,
		RoleWriteData:   true,
		RoleReadData:    true,
	}
}
