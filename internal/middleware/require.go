// require.go implements route-level authorization gates on top of the
// resolved principal.
//
// Fine-grained decisions (which role may touch which resource) live in the
// authz engine and are made inside handlers, where the resource has been
// loaded. The gates here cover the two coarse cases routes can decide without
// a resource: "some enabled account must be calling" and "an admin must be
// calling". Denials are a uniform 401 with no detail, so a denied response
// never reveals whether the obstacle was authentication, role, or existence.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAccount aborts with 401 unless the request resolved to a principal
// backed by an enabled account. Identity-only principals (authenticated with
// the identity provider but not onboarded) are rejected too; the only route
// open to them is account creation, which uses the authz engine directly.
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil || p.Account == nil || p.Account.Disabled {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin aborts with 401 unless the principal's account carries the
// ADMIN flag. Deliberately 401 rather than 403: admin routes must not confirm
// their own existence to non-admins.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil || p.Account == nil || p.Account.Disabled || !p.Account.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
			})
			return
		}
		c.Next()
	}
}
