// action.go enumerates every authorizable operation. The decision table in
// engine.go maps each action to exactly one predicate; an action missing from
// the table is denied.
package authz

// Action names one operation on one resource kind.
type Action string

// Account actions.
const (
	ActionCreateAccount     Action = "account:create"
	ActionDisableAccount    Action = "account:disable"
	ActionGetAccountProfile Action = "account:get-profile"
	ActionPutAccountProfile Action = "account:put-profile"
	ActionGetAccountFlags   Action = "account:get-flags"
	ActionPutAccountFlags   Action = "account:put-flags"
)

// Repository actions.
const (
	ActionCreateRepository    Action = "repository:create"
	ActionPutRepository       Action = "repository:put"
	ActionFeatureRepository   Action = "repository:feature"
	ActionDisableRepository   Action = "repository:disable"
	ActionListRepository      Action = "repository:list"
	ActionGetRepository       Action = "repository:get"
	ActionReadRepositoryData  Action = "repository:read-data"
	ActionWriteRepositoryData Action = "repository:write-data"
)

// Membership actions.
const (
	ActionInviteMembership     Action = "membership:invite"
	ActionAcceptMembership     Action = "membership:accept"
	ActionRejectMembership     Action = "membership:reject"
	ActionRevokeMembership     Action = "membership:revoke"
	ActionUpdateMembershipRole Action = "membership:role-update"
	ActionGetMembership        Action = "membership:get"
)

// API key actions.
const (
	ActionCreateAPIKey Action = "apikey:create"
	ActionGetAPIKey    Action = "apikey:get"
	ActionRevokeAPIKey Action = "apikey:revoke"
)

// Data connection actions.
const (
	ActionGetDataConnection             Action = "connection:get"
	ActionCreateDataConnection          Action = "connection:create"
	ActionPutDataConnection             Action = "connection:put"
	ActionDisableDataConnection         Action = "connection:disable"
	ActionDeleteDataConnection          Action = "connection:delete"
	ActionUseDataConnection             Action = "connection:use"
	ActionViewDataConnectionCredentials Action = "connection:view-credentials"
)
