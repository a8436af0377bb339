package guard

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/datahub-registry/datahub-registry/internal/authz"
	"github.com/datahub-registry/datahub-registry/internal/db/models"
	"github.com/datahub-registry/datahub-registry/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func adminPrincipal() *authz.Principal {
	return &authz.Principal{
		IdentityID: "idp-admin",
		Account: &models.Account{
			ID:    "root",
			Type:  models.AccountTypeUser,
			Flags: []models.AccountFlag{models.FlagAdmin},
		},
	}
}

func runGuarded(t *testing.T, principal *authz.Principal, resource authz.Resource, action authz.Action) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.GET("/probe", func(c *gin.Context) {
		if principal != nil {
			c.Set(middleware.PrincipalKey, principal)
		}
		if !Authorize(c, resource, action) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestAuthorize_AllowPassesThrough(t *testing.T) {
	conn := &models.DataConnection{ID: "conn-1", Name: "primary"}
	w := runGuarded(t, adminPrincipal(), conn, authz.ActionCreateDataConnection)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthorize_DenyWritesUniform401(t *testing.T) {
	conn := &models.DataConnection{ID: "conn-1", Name: "primary"}
	w := runGuarded(t, nil, conn, authz.ActionCreateDataConnection)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())
}

func TestAuthorize_UnknownActionDenies(t *testing.T) {
	w := runGuarded(t, adminPrincipal(), &models.Account{ID: "root"}, authz.Action("no:such-action"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheck_MatchesEngineDecision(t *testing.T) {
	account := &models.Account{ID: "acct-1", Type: models.AccountTypeUser}
	assert.True(t, Check(adminPrincipal(), account, authz.ActionPutAccountFlags))
	assert.False(t, Check(nil, account, authz.ActionPutAccountFlags))
}

func TestPagination_Defaults(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
	limit, offset := Pagination(c)
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)
}

func TestPagination_BoundsEnforced(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/x?limit=500&offset=-3", nil)
	limit, offset := Pagination(c)
	assert.Equal(t, 20, limit)
	assert.Equal(t, 0, offset)

	c2, _ := gin.CreateTestContext(httptest.NewRecorder())
	c2.Request = httptest.NewRequest(http.MethodGet, "/x?limit=50&offset=10", nil)
	limit, offset = Pagination(c2)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 10, offset)
}
