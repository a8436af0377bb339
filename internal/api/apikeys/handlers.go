// handlers.go implements the API key endpoints under an account. The secret
// half of a key appears in exactly one response: the creation response.
package apikeys

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/datahub-registry/datahub-registry/internal/api/guard"
	"github.com/datahub-registry/datahub-registry/internal/authz"
	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/db/repositories"
	"github.com/datahub-registry/datahub-registry/internal/middleware"
	"github.com/datahub-registry/datahub-registry/internal/services"
	"github.com/datahub-registry/datahub-registry/internal/telemetry"
	"github.com/datahub-registry/datahub-registry/internal/validation"
)

type createKeyRequest struct {
	Name    string    `json:"name" binding:"required"`
	Expires time.Time `json:"expires" binding:"required"`
}

// createKeyResponse is the only representation that carries the secret.
type createKeyResponse struct {
	AccessKeyID     string    `json:"access_key_id"`
	SecretAccessKey string    `json:"secret_access_key"`
	AccountID       string    `json:"account_id"`
	Name            string    `json:"name"`
	Expires         time.Time `json:"expires"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateKeyHandler issues a new API key for an account.
// Implements: POST /api/v1/accounts/:account/apikeys
func CreateKeyHandler(db *sql.DB, cfg *config.Config) gin.HandlerFunc {
	accountRepo := repositories.NewAccountRepository(db)
	svc := services.NewAPIKeyService(repositories.NewAPIKeyRepository(db), cfg.APIKeys)

	return func(c *gin.Context) {
		var req createKeyRequest
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
		if !guard.Authorize(c, &models.APIKey{AccountID: account.ID}, authz.ActionCreateAPIKey) {
			return
		}

		key, err := svc.CreateKey(c.Request.Context(), account.ID, req.Name, req.Expires)
		switch {
		case errors.Is(err, services.ErrKeysDisabled):
			c.JSON(http.StatusForbidden, gin.H{"error": "API key issuance is disabled"})
			return
		case errors.Is(err, validation.ErrExpiryNotFuture):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Expiration must be in the future"})
			return
		case errors.Is(err, services.ErrExpiryTooFar):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Expiration exceeds the maximum key lifetime"})
			return
		case errors.Is(err, services.ErrKeyQuotaExceeded):
			c.JSON(http.StatusConflict, gin.H{"error": "API key quota exceeded"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create API key"})
			return
		}

		telemetry.APIKeysIssuedTotal.Inc()
		c.JSON(http.StatusCreated, createKeyResponse{
			AccessKeyID:     key.AccessKeyID,
			SecretAccessKey: key.SecretAccessKey,
			AccountID:       key.AccountID,
			Name:            key.Name,
			Expires:         key.Expires,
			CreatedAt:       key.CreatedAt,
		})
	}
}

// ListKeysHandler lists an account's API keys, secrets redacted. Each key is
// filtered through the decision engine individually.
// Implements: GET /api/v1/accounts/:account/apikeys
func ListKeysHandler(db *sql.DB) gin.HandlerFunc {
	accountRepo := repositories.NewAccountRepository(db)
	keyRepo := repositories.NewAPIKeyRepository(db)

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
		if !guard.Authorize(c, &models.APIKey{AccountID: account.ID}, authz.ActionGetAPIKey) {
			return
		}

		keys, err := keyRepo.ListAPIKeysByAccount(c.Request.Context(), account.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list API keys"})
			return
		}

		principal := middleware.PrincipalFrom(c)
		visible := make([]*models.APIKey, 0, len(keys))
		for _, key := range keys {
			if guard.Check(principal, key, authz.ActionGetAPIKey) {
				visible = append(visible, key)
			}
		}
		c.JSON(http.StatusOK, gin.H{"api_keys": visible})
	}
}

// GetKeyHandler returns one API key, secret redacted.
// Implements: GET /api/v1/accounts/:account/apikeys/:key
func GetKeyHandler(db *sql.DB) gin.HandlerFunc {
	keyRepo := repositories.NewAPIKeyRepository(db)

	return func(c *gin.Context) {
		key, ok := lookupKey(c, keyRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, key, authz.ActionGetAPIKey) {
			return
		}
		c.JSON(http.StatusOK, key)
	}
}

// RevokeKeyHandler disables an API key. The row is retained so the access key
// ID stays reserved and the revocation is auditable.
// Implements: DELETE /api/v1/accounts/:account/apikeys/:key
func RevokeKeyHandler(db *sql.DB, cfg *config.Config) gin.HandlerFunc {
	keyRepo := repositories.NewAPIKeyRepository(db)
	svc := services.NewAPIKeyService(keyRepo, cfg.APIKeys)

	return func(c *gin.Context) {
		key, ok := lookupKey(c, keyRepo)
		if !ok {
			return
		}
		if !guard.Authorize(c, key, authz.ActionRevokeAPIKey) {
			return
		}

		if err := svc.RevokeKey(c.Request.Context(), key.AccessKeyID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke API key"})
			return
		}
		telemetry.APIKeysRevokedTotal.Inc()
		key.Disabled = true
		c.JSON(http.StatusOK, key)
	}
}

// lookupKey loads the key named by the route and verifies it belongs to the
// account in the route. A key under the wrong account is a 404, not a 401: the
// mismatch must not reveal which account really owns the key.
func lookupKey(c *gin.Context, keyRepo *repositories.APIKeyRepository) (*models.APIKey, bool) {
	key, err := keyRepo.GetAPIKeyByAccessKeyID(c.Request.Context(), c.Param("key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load API key"})
		return nil, false
	}
	if key == nil || key.AccountID != c.Param("account") {
		c.JSON(http.StatusNotFound, gin.H{"error": "API key not found"})
		return nil, false
	}
	return key, true
}
