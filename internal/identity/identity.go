// Package identity abstracts how browser sessions are turned into identity
// provider subjects. Two implementations exist: an Ory Kratos-compatible
// whoami client (identity/ory) and a local JWT session issued by the built-in
// OIDC login flow (identity/oidc + auth session helpers).
//
// The contract is deliberately narrow: given the raw Cookie header of an
// incoming request, report who the identity provider says the caller is, or
// that the cookie carries no valid session. Everything account-related
// (lookup, disabled handling, memberships) happens above this layer.
package identity

import "context"

// Session is the identity provider's view of an authenticated browser caller.
type Session struct {
	// IdentityID is the provider's stable subject identifier
	IdentityID string
	// Email is informational and may be empty
	Email string
}

// Verifier resolves the raw Cookie header of a request into a Session.
//
// The error contract matters for fail-closed behavior upstream:
//
//   - (nil, nil): the cookie is absent, expired, or rejected by the provider.
//     The caller proceeds as anonymous.
//   - (nil, err): the provider could not be consulted (network failure,
//     unexpected status). The caller must fail the request rather than
//     degrade to anonymous.
type Verifier interface {
	Verify(ctx context.Context, cookieHeader string) (*Session, error)
}
