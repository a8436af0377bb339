// Package authz implements the authorization decision engine for the DataHub
// Registry: a pure function from (principal, resource, action) to an
// allow/deny boolean.
//
// The engine performs no I/O and holds no state, so it is safe to call from
// any number of request-handling goroutines and cheap enough to re-invoke per
// item when filtering lists. Every denial is a uniform false — the engine
// never reports *why* a request was denied, so no role or existence detail can
// leak through it. The 404-vs-401 distinction belongs to the route layer,
// which checks existence before asking this package anything.
package authz

import "github.com/datahub-registry/datahub-registry/internal/db/models"

// Principal describes who is acting on a request, as produced by the principal
// resolver. Three shapes occur:
//
//   - nil Principal: anonymous caller (no credential, or an unauthenticated
//     session).
//   - IdentityID set, Account nil: the caller authenticated with the identity
//     provider but either has not completed onboarding or their account is
//     disabled. They can create a USER account and nothing else.
//   - Account set: a fully resolved caller. Memberships holds the grants the
//     caller is allowed to see, already filtered through ActionGetMembership.
type Principal struct {
	IdentityID  string
	Account     *models.Account
	Memberships []models.Membership
}

// isAdmin reports whether the principal's account carries the ADMIN flag. A
// disabled account never confers admin, regardless of its flags.
func isAdmin(p *Principal) bool {
	return p != nil && p.Account != nil && !p.Account.Disabled && p.Account.IsAdmin()
}

// isOwner reports whether the resource belongs directly to the principal's own
// account. Organization resources a principal merely belongs to do not count;
// those go through the membership scan.
func isOwner(p *Principal, accountID string) bool {
	return p != nil && p.Account != nil && !p.Account.Disabled && p.Account.ID == accountID
}

// hasRole scans the principal's memberships for an active (state == MEMBER)
// grant covering (accountID, repositoryID) whose role is in the given set.
// Pass an empty repositoryID for account-level resources; repository-scoped
// grants never cover those.
func hasRole(p *Principal, accountID, repositoryID string, roles ...models.MembershipRole) bool {
	if p == nil || p.Account == nil || p.Account.Disabled {
		return false
	}
	for _, m := range p.Memberships {
		if !m.Active() || !m.Covers(accountID, repositoryID) {
			continue
		}
		for _, r := range roles {
			if m.Role == r {
				return true
			}
		}
	}
	return false
}

// hasAnyMembership reports whether any active grant covers the coordinates,
// regardless of role.
func hasAnyMembership(p *Principal, accountID, repositoryID string) bool {
	return hasRole(p, accountID, repositoryID,
		models.RoleOwners, models.RoleMaintainers, models.RoleWriteData, models.RoleReadData)
}

// isManager reports whether the principal may administer memberships on the
// granting side of m: they own the granting account, or hold an OWNERS or
// MAINTAINERS grant covering the membership's scope.
func isManager(p *Principal, m *models.Membership) bool {
	if isOwner(p, m.MembershipAccountID) {
		return true
	}
	repositoryID := ""
	if m.RepositoryID != nil {
		repositoryID = *m.RepositoryID
	}
	return hasRole(p, m.MembershipAccountID, repositoryID, models.RoleOwners, models.RoleMaintainers)
}
