package apikeys

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datahub-registry/datahub-registry/internal/authz"
	"github.com/datahub-registry/datahub-registry/internal/config"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var (
	accountCols = []string{"id", "account_type", "display_name", "description", "email", "disabled", "flags", "identity_id", "created_at", "updated_at"}
	apiKeyCols  = []string{"access_key_id", "account_id", "name", "secret_access_key", "disabled", "expires", "last_used_at", "expiry_notification_sent_at", "created_at"}
)

func accountRow(id string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(accountCols).
		AddRow(id, "USER", "Display "+id, nil, nil, false, []byte(`[]`), nil, now, now)
}

func keyRow(accessKeyID, accountID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(apiKeyCols).
		AddRow(accessKeyID, accountID, "ci key", "stored-secret", false, now.Add(24*time.Hour), nil, nil, now)
}

func keyConfig() *config.Config {
	return &config.Config{
		APIKeys: config.APIKeyConfig{Enabled: true, MaxPerAccount: 5, MaxExpiryDays: 365},
	}
}

func newRouter(db *sql.DB, cfg *config.Config, principal *authz.Principal) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if principal != nil {
			c.Set(middleware.PrincipalKey, principal)
		}
		c.Next()
	})
	router.POST("/api/v1/accounts/:account/apikeys", CreateKeyHandler(db, cfg))
	router.GET("/api/v1/accounts/:account/apikeys", ListKeysHandler(db))
	router.GET("/api/v1/accounts/:account/apikeys/:key", GetKeyHandler(db))
	router.DELETE("/api/v1/accounts/:account/apikeys/:key", RevokeKeyHandler(db, cfg))
	return router
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func ownerPrincipal(id string) *authz.Principal {
	return &authz.Principal{
		IdentityID: "idp-" + id,
		Account:    &models.Account{ID: id, Type: models.AccountTypeUser},
	}
}

func TestCreateKey_SecretShownOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs("alice").
		WillReturnRows(accountRow("alice"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM api_keys`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(`INSERT INTO api_keys`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	router := newRouter(db, keyConfig(), ownerPrincipal("alice"))
	w := doJSON(router, http.MethodPost, "/api/v1/accounts/alice/apikeys", gin.H{
		"name":    "ci key",
		"expires": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["access_key_id"], "DH")
	assert.Len(t, resp["secret_access_key"], 64)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateKey_AccountNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(accountCols))

	router := newRouter(db, keyConfig(), ownerPrincipal("alice"))
	w := doJSON(router, http.MethodPost, "/api/v1/accounts/ghost/apikeys", gin.H{
		"name":    "ci key",
		"expires": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateKey_StrangerDenied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs("alice").
		WillReturnRows(accountRow("alice"))

	router := newRouter(db, keyConfig(), ownerPrincipal("mallory"))
	w := doJSON(router, http.MethodPost, "/api/v1/accounts/alice/apikeys", gin.H{
		"name":    "ci key",
		"expires": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateKey_PastExpiryIs400(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs("alice").
		WillReturnRows(accountRow("alice"))

	router := newRouter(db, keyConfig(), ownerPrincipal("alice"))
	w := doJSON(router, http.MethodPost, "/api/v1/accounts/alice/apikeys", gin.H{
		"name":    "ci key",
		"expires": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateKey_QuotaExceededIs409(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs("alice").
		WillReturnRows(accountRow("alice"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM api_keys`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	router := newRouter(db, keyConfig(), ownerPrincipal("alice"))
	w := doJSON(router, http.MethodPost, "/api/v1/accounts/alice/apikeys", gin.H{
		"name":    "ci key",
		"expires": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCreateKey_IssuanceDisabledIs403(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs("alice").
		WillReturnRows(accountRow("alice"))

	cfg := keyConfig()
	cfg.APIKeys.Enabled = false
	router := newRouter(db, cfg, ownerPrincipal("alice"))
	w := doJSON(router, http.MethodPost, "/api/v1/accounts/alice/apikeys", gin.H{
		"name":    "ci key",
		"expires": time.Now().Add(48 * time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestListKeys_SecretsRedacted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE id = \$1`).
		WithArgs("alice").
		WillReturnRows(accountRow("alice"))
	mock.ExpectQuery(`SELECT .+ FROM api_keys WHERE account_id = \$1`).
		WithArgs("alice").
		WillReturnRows(keyRow("DHAAAABBBBCCCCDDDDEEEE00", "alice"))

	router := newRouter(db, keyConfig(), ownerPrincipal("alice"))
	w := doJSON(router, http.MethodGet, "/api/v1/accounts/alice/apikeys", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "DHAAAABBBBCCCCDDDDEEEE00")
	assert.NotContains(t, w.Body.String(), "stored-secret")
	assert.NotContains(t, w.Body.String(), "secret_access_key")
}

func TestGetKey_WrongAccountIs404(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// The key exists but belongs to bob; requesting it under alice must 404
	// without revealing the true owner.
	mock.ExpectQuery(`SELECT .+ FROM api_keys WHERE access_key_id = \$1`).
		WithArgs("DHAAAABBBBCCCCDDDDEEEE00").
		WillReturnRows(keyRow("DHAAAABBBBCCCCDDDDEEEE00", "bob"))

	router := newRouter(db, keyConfig(), ownerPrincipal("alice"))
	w := doJSON(router, http.MethodGet, "/api/v1/accounts/alice/apikeys/DHAAAABBBBCCCCDDDDEEEE00", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRevokeKey_OwnerRevokes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM api_keys WHERE access_key_id = \$1`).
		WithArgs("DHAAAABBBBCCCCDDDDEEEE00").
		WillReturnRows(keyRow("DHAAAABBBBCCCCDDDDEEEE00", "alice"))
	mock.ExpectExec(`UPDATE api_keys SET disabled`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := newRouter(db, keyConfig(), ownerPrincipal("alice"))
	w := doJSON(router, http.MethodDelete, "/api/v1/accounts/alice/apikeys/DHAAAABBBBCCCCDDDDEEEE00", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"disabled":true`)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeKey_DataRoleDenied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM api_keys WHERE access_key_id = \$1`).
		WithArgs("DHAAAABBBBCCCCDDDDEEEE00").
		WillReturnRows(keyRow("DHAAAABBBBCCCCDDDDEEEE00", "acme"))

	// READ_DATA on the owning account does not confer key management.
	principal := ownerPrincipal("alice")
	principal.Memberships = []models.Membership{{
		AccountID:           "alice",
		MembershipAccountID: "acme",
		Role:                models.RoleReadData,
		State:               models.MembershipMember,
	}}
	router := newRouter(db, keyConfig(), principal)
	w := doJSON(router, http.MethodDelete, "/api/v1/accounts/acme/apikeys/DHAAAABBBBCCCCDDDDEEEE00", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
