package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/datahub-registry/datahub-registry/internal/authz"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/identity"
	"github.com/datahub-registry/datahub-registry/internal/safego"
)

// AccountSource is the slice of account persistence the resolver needs.
type AccountSource interface {
	// GetAccountByID returns (nil, nil) when no such account exists
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	// GetAccountByIdentityID returns (nil, nil) when no account is linked
	GetAccountByIdentityID(ctx context.Context, identityID string) (*models.Account, error)
}

// MembershipSource lists the membership grants held by an account.
type MembershipSource interface {
	ListMembershipsForAccount(ctx context.Context, accountID string) ([]models.Membership, error)
}

// AccessKeySource is the slice of API key persistence the resolver needs.
type AccessKeySource interface {
	// GetAPIKeyByAccessKeyID returns (nil, nil) when no such key exists
	GetAPIKeyByAccessKeyID(ctx context.Context, accessKeyID string) (*models.APIKey, error)
	// TouchAPIKeyLastUsed stamps the key's last-used timestamp
	TouchAPIKeyLastUsed(ctx context.Context, accessKeyID string) error
}

// Resolver turns the credentials on an incoming request into an
// authz.Principal. Two credential channels exist, tried in a fixed order:
//
//  1. Authorization header carrying an "<access-key-id> <secret>" pair. When
//     the header has this two-token shape the API key path decides the outcome
//     alone — a bad pair resolves to anonymous, never falls through to the
//     cookie.
//  2. Session cookie, resolved through the configured identity.Verifier.
//
// Resolution never denies by itself; it only establishes who is calling.
// Denial happens in the authorization engine with whatever principal comes
// out of here.
type Resolver struct {
	accounts    AccountSource
	memberships MembershipSource
	keys        AccessKeySource
	verifier    identity.Verifier
	logger      *slog.Logger
}

// NewResolver wires a resolver from its sources.
func NewResolver(accounts AccountSource, memberships MembershipSource, keys AccessKeySource, verifier identity.Verifier, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		accounts:    accounts,
		memberships: memberships,
		keys:        keys,
		verifier:    verifier,
		logger:      logger,
	}
}

// Resolve establishes the caller's principal from the raw Authorization and
// Cookie headers.
//
// The returned principal is nil for anonymous callers. A non-nil principal
// with a nil Account means the identity provider vouched for the caller but
// no enabled account is linked — either the caller has not onboarded yet or
// the linked account is disabled.
//
// An error means resolution itself failed (identity service or database
// unreachable) and the request must not proceed, even on routes that accept
// anonymous callers.
func (r *Resolver) Resolve(ctx context.Context, authorizationHeader, cookieHeader string) (*authz.Principal, error) {
	if id, secret, ok := splitKeyPair(authorizationHeader); ok {
		return r.resolveAPIKey(ctx, id, secret)
	}
	return r.resolveSession(ctx, cookieHeader)
}

// splitKeyPair recognizes the "<access-key-id> <secret>" credential shape:
// exactly two whitespace-separated tokens. Anything else — empty header, one
// token, three tokens — is not an API key pair and falls through to session
// resolution. A malformed key pair still takes this path and resolves to
// anonymous; it never falls back to the cookie.
func splitKeyPair(header string) (id, secret string, ok bool) {
	fields := strings.Fields(header)
	if len(fields) != 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

func (r *Resolver) resolveAPIKey(ctx context.Context, accessKeyID, secret string) (*authz.Principal, error) {
	key, err := r.keys.GetAPIKeyByAccessKeyID(ctx, accessKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up access key: %w", err)
	}
	if key == nil || key.Disabled || key.Expired(time.Now()) {
		return nil, nil
	}
	if !VerifySecret(secret, key.SecretAccessKey) {
		return nil, nil
	}

	account, err := r.accounts.GetAccountByID(ctx, key.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load key account: %w", err)
	}
	if account == nil || account.Disabled {
		// A key whose account vanished or was disabled authenticates nobody.
		return nil, nil
	}

	// Last-used tracking is best-effort and must not add a write to the
	// request's critical path.
	r.touchLastUsed(accessKeyID)

	return r.buildPrincipal(ctx, account, identityIDOf(account))
}

func (r *Resolver) touchLastUsed(accessKeyID string) {
	logger := r.logger
	keys := r.keys
	safego.Named("api-key-last-used", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := keys.TouchAPIKeyLastUsed(ctx, accessKeyID); err != nil {
			logger.Warn("failed to stamp api key last-used", "access_key_id", accessKeyID, "error", err)
		}
	})
}

func (r *Resolver) resolveSession(ctx context.Context, cookieHeader string) (*authz.Principal, error) {
	if r.verifier == nil {
		return nil, nil
	}

	session, err := r.verifier.Verify(ctx, cookieHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to verify session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	account, err := r.accounts.GetAccountByIdentityID(ctx, session.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session account: %w", err)
	}
	if account == nil || account.Disabled {
		// The identity is real but no enabled account backs it: either the
		// caller has not created their account yet (and may do exactly that)
		// or the account was disabled. Both get the identity-only shape.
		return &authz.Principal{IdentityID: session.IdentityID}, nil
	}

	return r.buildPrincipal(ctx, account, session.IdentityID)
}

// buildPrincipal assembles the full principal in two passes: load every
// membership grant held by the account, then keep only the grants the engine's
// own membership-visibility predicate admits, so Principal.Memberships is
// exactly the set the caller could read through the API. Visible grants are
// attached in all states — the predicates read the state themselves (an
// INVITED grant confers nothing but is needed to accept the invitation).
func (r *Resolver) buildPrincipal(ctx context.Context, account *models.Account, identityID string) (*authz.Principal, error) {
	grants, err := r.memberships.ListMembershipsForAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}

	principal := &authz.Principal{
		IdentityID:  identityID,
		Account:     account,
		Memberships: grants,
	}

	visible := make([]models.Membership, 0, len(grants))
	for i := range grants {
		if authz.IsAuthorized(principal, &grants[i], authz.ActionGetMembership) {
			visible = append(visible, grants[i])
		}
	}
	principal.Memberships = visible

	return principal, nil
}

func identityIDOf(account *models.Account) string {
	if account.IdentityID != nil {
		return *account.IdentityID
	}
	return ""
}
