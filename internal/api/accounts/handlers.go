// handlers.go implements the account lifecycle endpoints: onboarding,
// profiles, capability flags, and the disabled toggle.
package accounts

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
	"github.com/datahub-registry/datahub-registry/internal/validation"
)

type createAccountRequest struct {
	AccountID   string             `json:"account_id" binding:"required"`
	AccountType models.AccountType `json:"account_type" binding:"required"`
	DisplayName string             `json:"display_name" binding:"required"`
	Email       string             `json:"email"`
}

// CreateAccountHandler handles account onboarding for both account types.
// Implements: POST /api/v1/accounts
//
// USER accounts may only be created by a caller who authenticated with the
// identity provider but has no account yet; the new account is linked to that
// identity. ORGANIZATION accounts require an existing account holding
// CREATE_ORGANIZATIONS or ADMIN.
func CreateAccountHandler(db *sql.DB) gin.HandlerFunc {
	svc := services.NewAccountService(repositories.NewAccountRepository(db))

	return func(c *gin.Context) {
		var req createAccountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := validation.ValidateSlug(req.AccountID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Account ID must be a lowercase slug of 3-40 characters"})
			return
		}

		// Authorize against the account being created, not an existing one.
		proposed := &models.Account{ID: req.AccountID, Type: req.AccountType}
		if !guard.Authorize(c, proposed, authz.ActionCreateAccount) {
			return
		}

		principal := middleware.PrincipalFrom(c)

		var account *models.Account
		var err error
		switch req.AccountType {
		case models.AccountTypeUser:
			account, err = svc.CreateUserAccount(c.Request.Context(), req.AccountID, req.DisplayName, req.Email, principal.IdentityID)
		case models.AccountTypeOrganization:
			account, err = svc.CreateOrganization(c.Request.Context(), req.AccountID, req.DisplayName, req.Email)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown account type"})
			return
		}
		switch {
		case errors.Is(err, services.ErrSlugTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "Account ID is already taken"})
			return
		case errors.Is(err, services.ErrIdentityAlreadyLinked):
			c.JSON(http.StatusConflict, gin.H{"error": "Identity is already linked to an account"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create account"})
			return
		}

		c.JSON(http.StatusCreated, account)
	}
}

// GetAccountHandler returns an account profile.
// Implements: GET /api/v1/accounts/:account
func GetAccountHandler(db *sql.DB) gin.HandlerFunc {
	accountRepo := repositories.NewAccountRepository(db)

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
		if !guard.Authorize(c, account, authz.ActionGetAccountProfile) {
			return
		}
		c.JSON(http.StatusOK, account)
	}
}

type updateProfileRequest struct {
	DisplayName string  `json:"display_name" binding:"required"`
	Description *string `json:"description"`
	Email       *string `json:"email"`
}

// UpdateAccountHandler updates the mutable profile fields of an account.
// Implements: PUT /api/v1/accounts/:account
func UpdateAccountHandler(db *sql.DB) gin.HandlerFunc {
	accountRepo := repositories.NewAccountRepository(db)

	return func(c *gin.Context) {
		var req updateProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		account, err := accountRepo.GetAccountByID(c.Request.Context(), c.Param("account"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		if !guard.Authorize(c, account, authz.ActionPutAccountProfile) {
			return
		}

		account.DisplayName = req.DisplayName
		account.Description = req.Description
		if req.Email != nil {
			account.Email = req.Email
		}
		if err := accountRepo.UpdateAccountProfile(c.Request.Context(), account); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update account"})
			return
		}
		c.JSON(http.StatusOK, account)
	}
}

// GetAccountFlagsHandler returns the capability flags of an account.
// Implements: GET /api/v1/accounts/:account/flags
func GetAccountFlagsHandler(db *sql.DB) gin.HandlerFunc {
	accountRepo := repositories.NewAccountRepository(db)

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
		if !guard.Authorize(c, account, authz.ActionGetAccountFlags) {
			return
		}
		flags := account.Flags
		if flags == nil {
			flags = []models.AccountFlag{}
		}
		c.JSON(http.StatusOK, gin.H{"account_id": account.ID, "flags": flags})
	}
}

type updateFlagsRequest struct {
	Flags []models.AccountFlag `json:"flags"`
}

// UpdateAccountFlagsHandler replaces the flag set of an account. Flag editing
// is never implied by ownership; the predicate admits admins only.
// Implements: PUT /api/v1/accounts/:account/flags
func UpdateAccountFlagsHandler(db *sql.DB) gin.HandlerFunc {
	accountRepo := repositories.NewAccountRepository(db)

	return func(c *gin.Context) {
		var req updateFlagsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := validation.ValidateFlags(req.Flags); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown account flag"})
			return
		}

		account, err := accountRepo.GetAccountByID(c.Request.Context(), c.Param("account"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		if !guard.Authorize(c, account, authz.ActionPutAccountFlags) {
			return
		}

		if err := accountRepo.SetAccountFlags(c.Request.Context(), account.ID, req.Flags); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update flags"})
			return
		}
		account.Flags = req.Flags
		c.JSON(http.StatusOK, gin.H{"account_id": account.ID, "flags": req.Flags})
	}
}

// DisableAccountHandler disables an account. Disabling is the soft delete:
// the slug stays reserved and the row is retained for audit history.
// Implements: DELETE /api/v1/accounts/:account
func DisableAccountHandler(db *sql.DB) gin.HandlerFunc {
	return setDisabledHandler(db, func(*gin.Context) (bool, bool) { return true, true })
}

type setDisabledRequest struct {
	Disabled *bool `json:"disabled" binding:"required"`
}

// SetAccountDisabledHandler sets the disabled bit in either direction. Only
// admins pass the predicate for re-enabling.
// Implements: PUT /api/v1/accounts/:account/disabled
func SetAccountDisabledHandler(db *sql.DB) gin.HandlerFunc {
	return setDisabledHandler(db, func(c *gin.Context) (bool, bool) {
		var req setDisabledRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return false, false
		}
		return *req.Disabled, true
	})
}

func setDisabledHandler(db *sql.DB, target func(*gin.Context) (disabled, ok bool)) gin.HandlerFunc {
	accountRepo := repositories.NewAccountRepository(db)

	return func(c *gin.Context) {
		disabled, ok := target(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		account, err := accountRepo.GetAccountByID(c.Request.Context(), c.Param("account"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		if !guard.Authorize(c, account, authz.ActionDisableAccount) {
			return
		}

		if err := accountRepo.SetAccountDisabled(c.Request.Context(), account.ID, disabled); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update account"})
			return
		}
		account.Disabled = disabled
		c.JSON(http.StatusOK, account)
	}
}
