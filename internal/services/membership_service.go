// Package services implements higher-level business logic that coordinates
// across multiple repositories. The membership service, for example, enforces
// the invitation state machine and the at-most-one-live-grant invariant on top
// of the conditional insert the membership repository provides.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
)

var (
	// ErrDuplicateMembership is returned when a non-revoked grant already
	// exists for the same (grantee, granting account, repository) tuple.
	ErrDuplicateMembership = errors.New("services: a live membership already exists for this scope")
	// ErrInvalidTransition is returned for state changes the lifecycle does
	// not permit, such as accepting an already-revoked invitation.
	ErrInvalidTransition = errors.New("services: invalid membership state transition")
	// ErrMembershipNotFound is returned when the referenced grant does not exist.
	ErrMembershipNotFound = errors.New("services: membership not found")
)

// inviteAttempts bounds the insert/re-read loop in Invite. Two attempts
// suffice for any single concurrent revocation; the third absorbs a revoke
// landing between our re-read and retry.
const inviteAttempts = 3

// MembershipService owns the membership lifecycle: INVITED on creation,
// MEMBER on acceptance, REVOKED on rejection or revocation. Revoked rows are
// terminal; a fresh invitation creates a new record.
type MembershipService struct {
	memberships *repositories.MembershipRepository
}

// NewMembershipService creates a new MembershipService
func NewMembershipService(memberships *repositories.MembershipRepository) *MembershipService {
	return &MembershipService{memberships: memberships}
}

// Invite creates an INVITED grant for the given scope. It retries the
// conditional insert a bounded number of times: an insert can lose to a
// concurrent duplicate invitation (reported as ErrDuplicateMembership) or
// race a revocation of the blocking row (retried).
func (s *MembershipService) Invite(ctx context.Context, accountID, membershipAccountID string, repositoryID *string, role models.MembershipRole) (*models.Membership, error) {
	for attempt := 0; attempt < inviteAttempts; attempt++ {
		m := &models.Membership{
			AccountID:           accountID,
			MembershipAccountID: membershipAccountID,
			RepositoryID:        repositoryID,
			Role:                role,
			State:               models.MembershipInvited,
		}

		inserted, err := s.memberships.CreateMembershipIfAbsent(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("create membership: %w", err)
		}
		if inserted {
			return m, nil
		}

		// The insert was blocked by an existing non-revoked row. Re-read it:
		// if it is still live we have a genuine duplicate; if it was revoked
		// in the meantime the next attempt will succeed.
		existing, err := s.memberships.GetActiveMembership(ctx, accountID, membershipAccountID, repositoryID)
		if err != nil {
			return nil, fmt.Errorf("check existing membership: %w", err)
		}
		if existing != nil {
			return nil, ErrDuplicateMembership
		}
	}

	return nil, fmt.Errorf("create membership: retries exhausted")
}

// Accept transitions an INVITED grant to MEMBER. Only valid from INVITED;
// the caller has already verified the acting principal is the invitee.
func (s *MembershipService) Accept(ctx context.Context, membershipID string) (*models.Membership, error) {
	return s.transition(ctx, membershipID, models.MembershipInvited, models.MembershipMember)
}

// Reject transitions an INVITED grant to REVOKED. The row is kept as a
// record that the invitation was declined.
func (s *MembershipService) Reject(ctx context.Context, membershipID string) (*models.Membership, error) {
	return s.transition(ctx, membershipID, models.MembershipInvited, models.MembershipRevoked)
}

// Revoke transitions a grant to REVOKED from either live state. Revoking an
// already-revoked grant is an invalid transition, not a no-op, so callers
// surface stale UI state instead of silently succeeding.
func (s *MembershipService) Revoke(ctx context.Context, membershipID string) (*models.Membership, error) {
	m, err := s.memberships.GetMembershipByID(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMembershipNotFound
	}
	if m.State == models.MembershipRevoked {
		return nil, fmt.Errorf("%w: %s is already revoked", ErrInvalidTransition, membershipID)
	}

	if err := s.memberships.UpdateMembershipState(ctx, membershipID, models.MembershipRevoked); err != nil {
		return nil, err
	}
	m.State = models.MembershipRevoked
	return m, nil
}

// UpdateRole changes the role on a grant in place. Allowed on INVITED and
// MEMBER grants; revoked grants are immutable.
func (s *MembershipService) UpdateRole(ctx context.Context, membershipID string, role models.MembershipRole) (*models.Membership, error) {
	m, err := s.memberships.GetMembershipByID(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMembershipNotFound
	}
	if m.State == models.MembershipRevoked {
		return nil, fmt.Errorf("%w: cannot change role on a revoked membership", ErrInvalidTransition)
	}

	if err := s.memberships.UpdateMembershipRole(ctx, membershipID, role); err != nil {
		return nil, err
	}
	m.Role = role
	return m, nil
}

// transition moves a grant from exactly one expected state to another.
func (s *MembershipService) transition(ctx context.Context, membershipID string, from, to models.MembershipState) (*models.Membership, error) {
	m, err := s.memberships.GetMembershipByID(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, ErrMembershipNotFound
	}
	if m.State != from {
		return nil, fmt.Errorf("%w: %s -> %s (current state %s)", ErrInvalidTransition, from, to, m.State)
	}

	if err := s.memberships.UpdateMembershipState(ctx, membershipID, to); err != nil {
		return nil, err
	}
	m.State = to
	return m, nil
}
