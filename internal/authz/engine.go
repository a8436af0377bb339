// engine.go holds the fixed decision table: one pure predicate per action.
//
// Precedence inside each predicate follows the same order everywhere it
// applies: admin override, disabled-resource deny, ownership shortcut,
// membership scan, public-resource shortcut. Deviations (account creation,
// membership acceptance, flag editing) are noted on the predicate.
package authz

import "github.com/datahub-registry/datahub-registry/internal/db/models"

// Resource is the target of an authorization check: a *models.Account,
// *models.Repository, *models.Membership, *models.APIKey, or
// *models.DataConnection. Predicates type-assert their expected kind and deny
// on a mismatch, so a miswired call site fails closed instead of panicking.
type Resource any

type predicate func(*Principal, Resource) bool

var decisionTable = map[Action]predicate{
	ActionCreateAccount:     canCreateAccount,
	ActionDisableAccount:    canDisableAccount,
	ActionGetAccountProfile: canGetAccountProfile,
	ActionPutAccountProfile: canPutAccountProfile,
	ActionGetAccountFlags:   canGetAccountFlags,
	ActionPutAccountFlags:   canPutAccountFlags,

	ActionCreateRepository:    canCreateRepository,
	ActionPutRepository:       canPutRepository,
	ActionFeatureRepository:   canFeatureRepository,
	ActionDisableRepository:   canDisableRepository,
	ActionListRepository:      canSeeRepository,
	ActionGetRepository:       canSeeRepository,
	ActionReadRepositoryData:  canReadRepositoryData,
	ActionWriteRepositoryData: canWriteRepositoryData,

	ActionInviteMembership:     canInviteMembership,
	ActionAcceptMembership:     canAcceptMembership,
	ActionRejectMembership:     canRejectMembership,
	ActionRevokeMembership:     canRevokeMembership,
	ActionUpdateMembershipRole: canUpdateMembershipRole,
	ActionGetMembership:        canGetMembership,

	ActionCreateAPIKey: canManageAPIKey,
	ActionGetAPIKey:    canManageAPIKey,
	ActionRevokeAPIKey: canManageAPIKey,

	ActionGetDataConnection:             canGetDataConnection,
	ActionCreateDataConnection:          adminOnly,
	ActionPutDataConnection:             adminOnly,
	ActionDisableDataConnection:         adminOnly,
	ActionDeleteDataConnection:          adminOnly,
	ActionUseDataConnection:             canUseDataConnection,
	ActionViewDataConnectionCredentials: adminOnly,
}

// IsAuthorized decides whether principal may perform action on resource.
// Deterministic, side-effect free, and never panics for any input: an unknown
// action, a nil resource, or a resource of the wrong kind all yield false.
func IsAuthorized(principal *Principal, resource Resource, action Action) bool {
	pred, ok := decisionTable[action]
	if !ok {
		return false
	}
	return pred(principal, resource)
}

// ---------------------------------------------------------------------------
// Account predicates
// ---------------------------------------------------------------------------

// canCreateAccount is the two-branch creation rule and is evaluated
// independently of the ADMIN flag:
//
//   - USER accounts may only be created by a caller who authenticated with the
//     identity provider but has no linked account yet. This caps accounts at
//     one per identity and stops linked accounts from creating a second one.
//   - ORGANIZATION accounts require an existing account holding
//     CREATE_ORGANIZATIONS or ADMIN.
func canCreateAccount(p *Principal, r Resource) bool {
	account, ok := r.(*models.Account)
	if !ok || account == nil {
		return false
	}
	switch account.Type {
	case models.AccountTypeUser:
		return p != nil && p.IdentityID != "" && p.Account == nil
	case models.AccountTypeOrganization:
		if p == nil || p.Account == nil || p.Account.Disabled {
			return false
		}
		return p.Account.HasFlag(models.FlagCreateOrganizations) || p.Account.IsAdmin()
	default:
		return false
	}
}

// canDisableAccount lets admins toggle the disabled bit in either direction.
// Owners may disable (delete) their own account, but only an admin can bring
// a disabled account back.
func canDisableAccount(p *Principal, r Resource) bool {
	account, ok := r.(*models.Account)
	if !ok || account == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if account.Disabled {
		return false
	}
	return isOwner(p, account.ID)
}

// canGetAccountProfile: profiles are public while the account is enabled.
// Disabled account profiles are visible to admins only.
func canGetAccountProfile(p *Principal, r Resource) bool {
	account, ok := r.(*models.Account)
	if !ok || account == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	return !account.Disabled
}

func canPutAccountProfile(p *Principal, r Resource) bool {
	account, ok := r.(*models.Account)
	if !ok || account == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if account.Disabled {
		return false
	}
	if isOwner(p, account.ID) {
		return true
	}
	return hasRole(p, account.ID, "", models.RoleOwners, models.RoleMaintainers)
}

func canGetAccountFlags(p *Principal, r Resource) bool {
	account, ok := r.(*models.Account)
	if !ok || account == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if account.Disabled {
		return false
	}
	return isOwner(p, account.ID)
}

// canPutAccountFlags: flag editing is its own gated action and is never
// implied by ownership or membership — only the explicit admin path grants it.
func canPutAccountFlags(p *Principal, r Resource) bool {
	account, ok := r.(*models.Account)
	if !ok || account == nil {
		return false
	}
	return isAdmin(p)
}

// ---------------------------------------------------------------------------
// Repository predicates
// ---------------------------------------------------------------------------

func canCreateRepository(p *Principal, r Resource) bool {
	repo, ok := r.(*models.Repository)
	if !ok || repo == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if p == nil || p.Account == nil || p.Account.Disabled {
		return false
	}
	if !p.Account.HasFlag(models.FlagCreateRepositories) {
		return false
	}
	if isOwner(p, repo.AccountID) {
		return true
	}
	return hasRole(p, repo.AccountID, "", models.RoleOwners, models.RoleMaintainers)
}

func canPutRepository(p *Principal, r Resource) bool {
	repo, ok := r.(*models.Repository)
	if !ok || repo == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if repo.Disabled {
		return false
	}
	if isOwner(p, repo.AccountID) {
		return true
	}
	return hasRole(p, repo.AccountID, repo.RepositoryID, models.RoleOwners, models.RoleMaintainers)
}

// canFeatureRepository gates the featured bit: it is platform curation, not
// repository content, so only admins may change it.
func canFeatureRepository(p *Principal, r Resource) bool {
	repo, ok := r.(*models.Repository)
	return ok && repo != nil && isAdmin(p)
}

// canDisableRepository mirrors canDisableAccount: re-enabling a disabled
// repository is admin only.
func canDisableRepository(p *Principal, r Resource) bool {
	repo, ok := r.(*models.Repository)
	if !ok || repo == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if repo.Disabled {
		return false
	}
	if isOwner(p, repo.AccountID) {
		return true
	}
	return hasRole(p, repo.AccountID, repo.RepositoryID, models.RoleOwners, models.RoleMaintainers)
}

// canSeeRepository serves both Get and List. A LISTED, enabled repository is
// visible to everyone including anonymous callers. UNLISTED repositories are
// visible to the owner, members, and admins — note this is listing visibility,
// deliberately distinct from data-read visibility (an UNLISTED repository can
// still carry OPEN data).
func canSeeRepository(p *Principal, r Resource) bool {
	repo, ok := r.(*models.Repository)
	if !ok || repo == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if repo.Disabled {
		return false
	}
	if repo.State == models.RepositoryListed {
		return true
	}
	if isOwner(p, repo.AccountID) {
		return true
	}
	return hasAnyMembership(p, repo.AccountID, repo.RepositoryID)
}

// canReadRepositoryData: OPEN data is world-readable with no principal at all.
// Otherwise any active membership role suffices — READ_DATA is the floor, not
// a distinguished read role.
func canReadRepositoryData(p *Principal, r Resource) bool {
	repo, ok := r.(*models.Repository)
	if !ok || repo == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if repo.Disabled {
		return false
	}
	if repo.DataMode == models.DataModeOpen {
		return true
	}
	if isOwner(p, repo.AccountID) {
		return true
	}
	return hasAnyMembership(p, repo.AccountID, repo.RepositoryID)
}

func canWriteRepositoryData(p *Principal, r Resource) bool {
	repo, ok := r.(*models.Repository)
	if !ok || repo == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if repo.Disabled {
		return false
	}
	if isOwner(p, repo.AccountID) {
		return true
	}
	return hasRole(p, repo.AccountID, repo.RepositoryID,
		models.RoleOwners, models.RoleMaintainers, models.RoleWriteData)
}

// ---------------------------------------------------------------------------
// Membership predicates
// ---------------------------------------------------------------------------

func canInviteMembership(p *Principal, r Resource) bool {
	m, ok := r.(*models.Membership)
	if !ok || m == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	return isManager(p, m)
}

// canAcceptMembership: only the invitee may accept, and only while the grant
// is pending. This is a categorical rule — even admins cannot accept an
// invitation on someone else's behalf.
func canAcceptMembership(p *Principal, r Resource) bool {
	m, ok := r.(*models.Membership)
	if !ok || m == nil {
		return false
	}
	if m.State != models.MembershipInvited {
		return false
	}
	return isOwner(p, m.AccountID)
}

// canRejectMembership: a pending invite may be declined by the invitee or
// withdrawn by a manager of the granting side.
func canRejectMembership(p *Principal, r Resource) bool {
	m, ok := r.(*models.Membership)
	if !ok || m == nil {
		return false
	}
	if m.State != models.MembershipInvited {
		return false
	}
	if isAdmin(p) {
		return true
	}
	return isOwner(p, m.AccountID) || isManager(p, m)
}

// canRevokeMembership covers both revoking an active membership and cancelling
// a pending one. Members may always remove themselves.
func canRevokeMembership(p *Principal, r Resource) bool {
	m, ok := r.(*models.Membership)
	if !ok || m == nil {
		return false
	}
	if m.State == models.MembershipRevoked {
		return false
	}
	if isAdmin(p) {
		return true
	}
	return isOwner(p, m.AccountID) || isManager(p, m)
}

// canUpdateMembershipRole: role changes are in-place field mutations on an
// active membership, gated like revocation minus the self-service path — a
// member cannot promote themselves.
func canUpdateMembershipRole(p *Principal, r Resource) bool {
	m, ok := r.(*models.Membership)
	if !ok || m == nil {
		return false
	}
	if m.State != models.MembershipMember {
		return false
	}
	if isAdmin(p) {
		return true
	}
	return isManager(p, m)
}

// canGetMembership decides membership-record visibility: the grantee, managers
// of the granting side, and admins. The principal resolver re-invokes this
// predicate per record when filtering a principal's own membership list, so it
// is the single source of truth for "who can see this grant".
func canGetMembership(p *Principal, r Resource) bool {
	m, ok := r.(*models.Membership)
	if !ok || m == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	return isOwner(p, m.AccountID) || isManager(p, m)
}

// ---------------------------------------------------------------------------
// API key predicates
// ---------------------------------------------------------------------------

// canManageAPIKey serves create, get, and revoke: the key's account owner,
// OWNERS/MAINTAINERS of that account, and admins. Data-level roles never see
// keys. List endpoints must additionally filter key-by-key through
// ActionGetAPIKey; secrets are structurally redacted at the model level
// regardless of what any predicate decides.
func canManageAPIKey(p *Principal, r Resource) bool {
	key, ok := r.(*models.APIKey)
	if !ok || key == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if isOwner(p, key.AccountID) {
		return true
	}
	return hasRole(p, key.AccountID, "", models.RoleOwners, models.RoleMaintainers)
}

// ---------------------------------------------------------------------------
// Data connection predicates
// ---------------------------------------------------------------------------

func adminOnly(p *Principal, r Resource) bool {
	conn, ok := r.(*models.DataConnection)
	return ok && conn != nil && isAdmin(p)
}

// canGetDataConnection: any authenticated account may inspect enabled
// connections (credentials are redacted structurally); disabled ones are
// admin only.
func canGetDataConnection(p *Principal, r Resource) bool {
	conn, ok := r.(*models.DataConnection)
	if !ok || conn == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if conn.Disabled {
		return false
	}
	return p != nil && p.Account != nil && !p.Account.Disabled
}

// canUseDataConnection gates binding a new repository to the connection: the
// account must hold the connection's required flag when one is set.
func canUseDataConnection(p *Principal, r Resource) bool {
	conn, ok := r.(*models.DataConnection)
	if !ok || conn == nil {
		return false
	}
	if isAdmin(p) {
		return true
	}
	if conn.Disabled {
		return false
	}
	if p == nil || p.Account == nil || p.Account.Disabled {
		return false
	}
	if conn.RequiredFlag == nil {
		return true
	}
	return p.Account.HasFlag(*conn.RequiredFlag)
}
