// handlers.go implements the membership lifecycle endpoints. Invitations are
// directed: a manager of the granting side creates an INVITED grant, and only
// the invitee can turn it into a MEMBER grant.
package memberships

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datahub-registry/datahub-registry/internal/api/guard"
	"github.com/datahub-registry/datahub-registry/internal/authz"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
	"github.com/datahub-registry/datahub-registry/internal/middleware"
	"github.com/datahub-registry/datahub-registry/internal/services"
	"github.com/datahub-registry/datahub-registry/internal/telemetry"
	"github.com/datahub-registry/datahub-registry/internal/validation"
)

type inviteRequest struct {
	AccountID           string                `json:"account_id" binding:"required"`
	MembershipAccountID string                `json:"membership_account_id" binding:"required"`
	RepositoryID        *string               `json:"repository_id"`
	Role                models.MembershipRole `json:"role" binding:"required"`
}

// InviteHandler creates an INVITED grant.
// Implements: POST /api/v1/memberships
func InviteHandler(db *sql.DB) gin.HandlerFunc {
	accountRepo := repositories.NewAccountRepository(db)
	repoRepo := repositories.NewRepositoryRepository(db)
	svc := services.NewMembershipService(repositories.NewMembershipRepository(db))

	return func(c *gin.Context) {
		var req inviteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := validation.ValidateRole(req.Role); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown membership role"})
			return
		}

		ctx := c.Request.Context()

		grantee, err := accountRepo.GetAccountByID(ctx, req.AccountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
		if grantee == nil || grantee.Disabled {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		granter, err := accountRepo.GetAccountByID(ctx, req.MembershipAccountID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
		if granter == nil || granter.Disabled {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		if req.RepositoryID != nil {
			repo, err := repoRepo.GetRepository(ctx, req.MembershipAccountID, *req.RepositoryID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load repository"})
				return
			}
			if repo == nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "Repository not found"})
				return
			}
		}

		proposed := &models.Membership{
			AccountID:           req.AccountID,
			MembershipAccountID: req.MembershipAccountID,
			RepositoryID:        req.RepositoryID,
			Role:                req.Role,
			State:               models.MembershipInvited,
		}
		if !guard.Authorize(c, proposed, authz.ActionInviteMembership) {
			return
		}

		m, err := svc.Invite(ctx, req.AccountID, req.MembershipAccountID, req.RepositoryID, req.Role)
		switch {
		case errors.Is(err, services.ErrDuplicateMembership):
			c.JSON(http.StatusConflict, gin.H{"error": "A live membership already exists for this scope"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create membership"})
			return
		}

		telemetry.MembershipTransitionsTotal.WithLabelValues("invite").Inc()
		c.JSON(http.StatusCreated, m)
	}
}

// GetMembershipHandler returns a single grant.
// Implements: GET /api/v1/memberships/:id
func GetMembershipHandler(db *sql.DB) gin.HandlerFunc {
	membershipRepo := repositories.NewMembershipRepository(db)

	return func(c *gin.Context) {
		m, ok := lookupMembership(c, membershipRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, m, authz.ActionGetMembership) {
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

// ListMembershipsHandler returns the caller's own grants, each filtered
// through the visibility predicate. The result includes pending invitations,
// which is how an invitee discovers them.
// Implements: GET /api/v1/memberships
func ListMembershipsHandler(db *sql.DB) gin.HandlerFunc {
	membershipRepo := repositories.NewMembershipRepository(db)

	return func(c *gin.Context) {
		principal := middleware.PrincipalFrom(c)
		if principal == nil || principal.Account == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		memberships, err := membershipRepo.ListMembershipsForAccount(c.Request.Context(), principal.Account.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list memberships"})
			return
		}

		visible := make([]models.Membership, 0, len(memberships))
		for i := range memberships {
			if guard.Check(principal, &memberships[i], authz.ActionGetMembership) {
				visible = append(visible, memberships[i])
			}
		}
		c.JSON(http.StatusOK, gin.H{"memberships": visible})
	}
}

// ListGrantedMembershipsHandler returns the grants issued by an account,
// filtered per record. Managers see the full roster; a plain member sees only
// their own grant.
// Implements: GET /api/v1/accounts/:account/memberships
func ListGrantedMembershipsHandler(db *sql.DB) gin.HandlerFunc {
	accountRepo := repositories.NewAccountRepository(db)
	membershipRepo := repositories.NewMembershipRepository(db)

	return func(c *gin.Context) {
		account, err := accountRepo.GetAccountByID(c.Request.Context(), c.Param("account"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}

		memberships, err := membershipRepo.ListMembershipsForGrantingAccount(c.Request.Context(), account.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list memberships"})
			return
		}

		principal := middleware.PrincipalFrom(c)
		visible := make([]models.Membership, 0, len(memberships))
		for i := range memberships {
			if guard.Check(principal, &memberships[i], authz.ActionGetMembership) {
				visible = append(visible, memberships[i])
			}
		}
		c.JSON(http.StatusOK, gin.H{"memberships": visible})
	}
}

// AcceptHandler turns an INVITED grant into MEMBER. Only the invitee passes
// the predicate; admins cannot accept on someone else's behalf.
// Implements: POST /api/v1/memberships/:id/accept
func AcceptHandler(db *sql.DB) gin.HandlerFunc {
	return transitionHandler(db, authz.ActionAcceptMembership, "accept",
		func(svc *services.MembershipService, c *gin.Context, id string) (*models.Membership, error) {
			return svc.Accept(c.Request.Context(), id)
		})
}

// RejectHandler declines or withdraws a pending invitation.
// Implements: POST /api/v1/memberships/:id/reject
func RejectHandler(db *sql.DB) gin.HandlerFunc {
	return transitionHandler(db, authz.ActionRejectMembership, "reject",
		func(svc *services.MembershipService, c *gin.Context, id string) (*models.Membership, error) {
			return svc.Reject(c.Request.Context(), id)
		})
}

// RevokeHandler revokes a grant from either live state. Members may revoke
// their own membership; managers may revoke anyone's.
// Implements: DELETE /api/v1/memberships/:id
func RevokeHandler(db *sql.DB) gin.HandlerFunc {
	return transitionHandler(db, authz.ActionRevokeMembership, "revoke",
		func(svc *services.MembershipService, c *gin.Context, id string) (*models.Membership, error) {
			return svc.Revoke(c.Request.Context(), id)
		})
}

type updateRoleRequest struct {
	Role models.MembershipRole `json:"role" binding:"required"`
}

// UpdateRoleHandler changes the role on a grant in place.
// Implements: PUT /api/v1/memberships/:id/role
func UpdateRoleHandler(db *sql.DB) gin.HandlerFunc {
	membershipRepo := repositories.NewMembershipRepository(db)
	svc := services.NewMembershipService(membershipRepo)

	return func(c *gin.Context) {
		var req updateRoleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := validation.ValidateRole(req.Role); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown membership role"})
			return
		}

		m, ok := lookupMembership(c, membershipRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, m, authz.ActionUpdateMembershipRole) {
			return
		}

		updated, err := svc.UpdateRole(c.Request.Context(), m.ID, req.Role)
		if err := writeTransitionError(c, err); err {
			return
		}
		telemetry.MembershipTransitionsTotal.WithLabelValues("role-update").Inc()
		c.JSON(http.StatusOK, updated)
	}
}

func transitionHandler(db *sql.DB, action authz.Action, transition string,
	apply func(*services.MembershipService, *gin.Context, string) (*models.Membership, error)) gin.HandlerFunc {
	membershipRepo := repositories.NewMembershipRepository(db)
	svc := services.NewMembershipService(membershipRepo)

	return func(c *gin.Context) {
		m, ok := lookupMembership(c, membershipRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, m, action) {
			return
		}

		updated, err := apply(svc, c, m.ID)
		if err := writeTransitionError(c, err); err {
			return
		}
		telemetry.MembershipTransitionsTotal.WithLabelValues(transition).Inc()
		c.JSON(http.StatusOK, updated)
	}
}

func lookupMembership(c *gin.Context, membershipRepo *repositories.MembershipRepository) (*models.Membership, bool) {
	m, err := membershipRepo.GetMembershipByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load membership"})
		return nil, false
	}
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Membership not found"})
		return nil, false
	}
	return m, true
}

// writeTransitionError maps service errors to responses and reports whether
// the request is finished.
func writeTransitionError(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, services.ErrMembershipNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Membership not found"})
	case errors.Is(err, services.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "Invalid membership state transition"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update membership"})
	}
	return true
}
