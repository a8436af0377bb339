// principal.go provides the Gin middleware that resolves the caller's
// credentials into an authz.Principal and attaches it to the request context.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/datahub-registry/datahub-registry/internal/auth"
	"github.com/datahub-registry/datahub-registry/internal/authz"
)

// Context keys set by PrincipalMiddleware.
const (
	// PrincipalKey holds the *authz.Principal for the request, when one
	// resolved. Absent for anonymous callers.
	PrincipalKey = "principal"
	// AccountIDKey holds the resolved account ID, when the principal carries
	// an account. Used by the rate limiter and audit middleware.
	AccountIDKey = "account_id"
)

// PrincipalMiddleware resolves the request's Authorization and Cookie headers
// into a principal and stores it in the Gin context. Resolution never denies
// by itself: anonymous callers pass through with no principal set, and the
// authorization engine decides per operation. A resolution *failure* (identity
// provider or database unreachable) aborts with 503: the request must not
// proceed as anonymous when the caller might in fact hold credentials.
//
// Register after SecurityHeadersMiddleware and RateLimitMiddleware, before
// AuditMiddleware and all route handlers:
//
//	router.Use(middleware.PrincipalMiddleware(resolver))
func PrincipalMiddleware(resolver *auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := resolver.Resolve(c.Request.Context(), c.GetHeader("Authorization"), c.GetHeader("Cookie"))
		if err != nil {
			slog.Error("principal resolution failed", "path", c.Request.URL.Path, "error", err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Identity resolution unavailable",
			})
			return
		}

		if principal != nil {
			c.Set(PrincipalKey, principal)
			if principal.Account != nil {
				c.Set(AccountIDKey, principal.Account.ID)
			}
		}

		c.Next()
	}
}

// PrincipalFrom returns the principal resolved for this request, or nil for
// anonymous callers. Handlers pass the result straight to
// authz.IsAuthorized, which treats nil as anonymous.
func PrincipalFrom(c *gin.Context) *authz.Principal {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*authz.Principal)
	return p
}
