package connections

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
	"github.com/datahub-registry/datahub-registry/internal/crypto"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var connectionCols = []string{"id", "name", "connection_type", "disabled", "required_flag", "allowed_data_modes", "bucket", "prefix", "region", "endpoint", "credentials_ciphertext", "created_at", "updated_at"}

func testCipher(t *testing.T) *crypto.CredentialCipher {
	t.Helper()
	cipher, err := crypto.NewCredentialCipher(bytes.Repeat([]byte("k"), 32))
	require.NoError(t, err)
	return cipher
}

func connectionRow(id string, disabled bool, ciphertext string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(connectionCols).
		AddRow(id, "primary-s3", "S3", disabled, nil, []byte(`[]`), "bucket", "", "us-east-1", "", ciphertext, now, now)
}

func newRouter(db *sql.DB, cipher *crypto.CredentialCipher, principal *authz.Principal) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if principal != nil {
			c.Set(middleware.PrincipalKey, principal)
		}
		c.Next()
	})
	router.POST("/api/v1/connections", CreateConnectionHandler(db, cipher))
	router.GET("/api/v1/connections", ListConnectionsHandler(db))
	router.GET("/api/v1/connections/:id", GetConnectionHandler(db))
	router.PUT("/api/v1/connections/:id", UpdateConnectionHandler(db, cipher))
	router.PUT("/api/v1/connections/:id/disabled", SetConnectionDisabledHandler(db))
	router.DELETE("/api/v1/connections/:id", DeleteConnectionHandler(db, cipher))
	router.GET("/api/v1/connections/:id/credentials", GetCredentialsHandler(db, cipher))
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

func adminPrincipal() *authz.Principal {
	return &authz.Principal{
		IdentityID: "idp-root",
		Account:    &models.Account{ID: "root", Type: models.AccountTypeUser, Flags: []models.AccountFlag{models.FlagAdmin}},
	}
}

func memberPrincipal() *authz.Principal {
	return &authz.Principal{
		IdentityID: "idp-alice",
		Account:    &models.Account{ID: "alice", Type: models.AccountTypeUser},
	}
}

func TestCreateConnection_AdminCreates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO data_connections`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	router := newRouter(db, testCipher(t), adminPrincipal())
	w := doJSON(router, http.MethodPost, "/api/v1/connections", gin.H{
		"name":            "primary-s3",
		"connection_type": "S3",
		"bucket":          "datahub-objects",
		"region":          "us-east-1",
		"credentials": gin.H{
			"aws_access_key_id":     "AKIAEXAMPLE",
			"aws_secret_access_key": "secret",
		},
	})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "AKIAEXAMPLE")
	assert.NotContains(t, w.Body.String(), "credentials_ciphertext")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateConnection_NonAdminDenied(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	router := newRouter(db, testCipher(t), memberPrincipal())
	w := doJSON(router, http.MethodPost, "/api/v1/connections", gin.H{
		"name":            "primary-s3",
		"connection_type": "S3",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateConnection_UnknownTypeIs400(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	router := newRouter(db, testCipher(t), adminPrincipal())
	w := doJSON(router, http.MethodPost, "/api/v1/connections", gin.H{
		"name":            "tape-drive",
		"connection_type": "TAPE",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListConnections_DisabledHiddenFromMembers(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(connectionCols).
		AddRow("conn-1", "primary-s3", "S3", false, nil, []byte(`[]`), "b", "", "", "", "ct", now, now).
		AddRow("conn-2", "retired", "S3", true, nil, []byte(`[]`), "b", "", "", "", "ct", now, now)
	mock.ExpectQuery(`SELECT .+ FROM data_connections ORDER BY name`).
		WillReturnRows(rows)

	router := newRouter(db, testCipher(t), memberPrincipal())
	w := doJSON(router, http.MethodGet, "/api/v1/connections", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "conn-1")
	assert.NotContains(t, w.Body.String(), "conn-2")
}

func TestGetConnection_AnonymousDenied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM data_connections WHERE id = \$1`).
		WithArgs("conn-1").
		WillReturnRows(connectionRow("conn-1", false, "ct"))

	router := newRouter(db, testCipher(t), nil)
	w := doJSON(router, http.MethodGet, "/api/v1/connections/conn-1", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetConnection_MemberSeesRedactedRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM data_connections WHERE id = \$1`).
		WithArgs("conn-1").
		WillReturnRows(connectionRow("conn-1", false, "super-secret-ciphertext"))

	router := newRouter(db, testCipher(t), memberPrincipal())
	w := doJSON(router, http.MethodGet, "/api/v1/connections/conn-1", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connection_id":"conn-1"`)
	assert.NotContains(t, w.Body.String(), "super-secret-ciphertext")
}

func TestUpdateConnection_AdminUpdates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM data_connections WHERE id = \$1`).
		WithArgs("conn-1").
		WillReturnRows(connectionRow("conn-1", false, "ct"))
	mock.ExpectExec(`UPDATE data_connections`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := newRouter(db, testCipher(t), adminPrincipal())
	w := doJSON(router, http.MethodPut, "/api/v1/connections/conn-1", gin.H{
		"name":            "primary-s3",
		"connection_type": "S3",
		"bucket":          "new-bucket",
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "new-bucket")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteConnection_InUseIs409(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM data_connections WHERE id = \$1`).
		WithArgs("conn-1").
		WillReturnRows(connectionRow("conn-1", false, "ct"))
	mock.ExpectQuery(`SELECT .+ FROM data_connections WHERE id = \$1`).
		WithArgs("conn-1").
		WillReturnRows(connectionRow("conn-1", false, "ct"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM repositories`).
		WithArgs("conn-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	router := newRouter(db, testCipher(t), adminPrincipal())
	w := doJSON(router, http.MethodDelete, "/api/v1/connections/conn-1", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteConnection_UnboundDeletes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM data_connections WHERE id = \$1`).
		WithArgs("conn-1").
		WillReturnRows(connectionRow("conn-1", false, "ct"))
	mock.ExpectQuery(`SELECT .+ FROM data_connections WHERE id = \$1`).
		WithArgs("conn-1").
		WillReturnRows(connectionRow("conn-1", false, "ct"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM repositories`).
		WithArgs("conn-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`DELETE FROM data_connections`).
		WithArgs("conn-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := newRouter(db, testCipher(t), adminPrincipal())
	w := doJSON(router, http.MethodDelete, "/api/v1/connections/conn-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCredentials_AdminOpensSealedCredentials(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cipher := testCipher(t)
	ciphertext, err := cipher.SealCredentials(&models.ConnectionCredentials{
		AWSAccessKeyID:     "AKIAEXAMPLE",
		AWSSecretAccessKey: "shh",
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT .+ FROM data_connections WHERE id = \$1`).
		WithArgs("conn-1").
		WillReturnRows(connectionRow("conn-1", false, ciphertext))
	mock.ExpectQuery(`SELECT .+ FROM data_connections WHERE id = \$1`).
		WithArgs("conn-1").
		WillReturnRows(connectionRow("conn-1", false, ciphertext))

	router := newRouter(db, cipher, adminPrincipal())
	w := doJSON(router, http.MethodGet, "/api/v1/connections/conn-1/credentials", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "AKIAEXAMPLE")
}

func TestGetCredentials_MemberDenied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM data_connections WHERE id = \$1`).
		WithArgs("conn-1").
		WillReturnRows(connectionRow("conn-1", false, "ct"))

	router := newRouter(db, testCipher(t), memberPrincipal())
	w := doJSON(router, http.MethodGet, "/api/v1/connections/conn-1/credentials", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSetConnectionDisabled_AdminDisables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT .+ FROM data_connections WHERE id = \$1`).
		WithArgs("conn-1").
		WillReturnRows(connectionRow("conn-1", false, "ct"))
	mock.ExpectExec(`UPDATE data_connections SET disabled`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	router := newRouter(db, testCipher(t), adminPrincipal())
	w := doJSON(router, http.MethodPut, "/api/v1/connections/conn-1/disabled", gin.H{"disabled": true})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"disabled":true`)
}
