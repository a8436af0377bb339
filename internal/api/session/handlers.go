// handlers.go implements the session endpoints: the whoami view of the
// resolved principal and, in OIDC mode, the browser login flow that turns a
// verified identity into a local session cookie. In ory mode only the whoami
// endpoint is registered; session establishment happens outside the registry.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datahub-registry/datahub-registry/internal/auth"
	"github.com/datahub-registry/datahub-registry/internal/middleware"
)

// LoginProvider is the slice of the OIDC provider the login handlers need.
type LoginProvider interface {
	GetAuthURL(state string) string
	GetEndSessionEndpoint() string
	ExchangeIdentity(ctx context.Context, code string) (identityID, email string, err error)
}

// SessionHandler reports the caller's resolved principal.
// Implements: GET /api/v1/session
//
// Anonymous callers get {"authenticated": false} with 200, not 401: the
// endpoint answers "who am I", and "nobody" is a valid answer. An identity
// with no linked account comes back with a null account so the frontend can
// route the caller to onboarding.
func SessionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := middleware.PrincipalFrom(c)
		if principal == nil {
			c.JSON(http.StatusOK, gin.H{"authenticated": false})
			return
		}

		resp := gin.H{
			"authenticated": true,
			"identity_id":   principal.IdentityID,
			"account":       principal.Account,
		}
		if principal.Account != nil {
			resp["memberships"] = principal.Memberships
			resp["admin"] = !principal.Account.Disabled && principal.Account.IsAdmin()
		}
		c.JSON(http.StatusOK, resp)
	}
}

// LoginHandler starts the OIDC authorization code flow.
// Implements: GET /api/v1/session/login
func LoginHandler(provider LoginProvider, sessions *auth.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := randomState()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start login"})
			return
		}

		http.SetCookie(c.Writer, sessions.StateCookie(state))
		c.Redirect(http.StatusFound, provider.GetAuthURL(state))
	}
}

// CallbackHandler completes the OIDC authorization code flow and issues the
// local session cookie.
// Implements: GET /api/v1/session/callback
//
// The state query parameter must match the state cookie set by LoginHandler;
// a mismatch is treated as a forged or replayed callback.
func CallbackHandler(provider LoginProvider, sessions *auth.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := c.Query("state")
		cookieState, err := c.Cookie("dhr_oauth_state")
		if err != nil || state == "" || state != cookieState {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid login state"})
			return
		}
		http.SetCookie(c.Writer, sessions.ClearStateCookie())

		code := c.Query("code")
		if code == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing authorization code"})
			return
		}

		identityID, email, err := provider.ExchangeIdentity(c.Request.Context(), code)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "Login failed"})
			return
		}

		token, err := sessions.Issue(identityID, email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to establish session"})
			return
		}

		http.SetCookie(c.Writer, sessions.Cookie(token, sessions.TTL()))
		c.Redirect(http.StatusFound, "/")
	}
}

// LogoutHandler removes the session cookie. When the identity provider
// advertises an end_session_endpoint the browser is redirected there so the
// upstream session ends too; otherwise the handler answers in place.
// Implements: POST /api/v1/session/logout
func LogoutHandler(provider LoginProvider, sessions *auth.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		http.SetCookie(c.Writer, sessions.ClearCookie())

		if endpoint := provider.GetEndSessionEndpoint(); endpoint != "" {
			c.Redirect(http.StatusFound, endpoint)
			return
		}
		c.JSON(http.StatusOK, gin.H{"logged_out": true})
	}
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
