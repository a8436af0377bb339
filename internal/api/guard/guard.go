// Package guard holds the glue between route handlers and the authorization
// engine. Handlers fetch the resource first and 404 on absence; only then do
// they call Authorize, so a denial can never confirm that a resource exists.
package guard

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/datahub-registry/datahub-registry/internal/authz"
	"github.com/datahub-registry/datahub-registry/internal/middleware"
	"github.com/datahub-registry/datahub-registry/internal/telemetry"
)

// Authorize evaluates the decision engine for the request's principal and, on
// denial, writes the uniform 401 body and aborts the request. Every decision
// is counted per operation so denial spikes show up on the dashboard.
func Authorize(c *gin.Context, resource authz.Resource, action authz.Action) bool {
	principal := middleware.PrincipalFrom(c)
	allowed := authz.IsAuthorized(principal, resource, action)

	decision := "deny"
	if allowed {
		decision = "allow"
	}
	telemetry.AuthzDecisionsTotal.WithLabelValues(string(action), decision).Inc()

	if !allowed {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	}
	return allowed
}

// Check is Authorize without the HTTP side: it evaluates and counts the
// decision but leaves the response to the caller. List handlers use it to
// filter items per principal.
func Check(principal *authz.Principal, resource authz.Resource, action authz.Action) bool {
	allowed := authz.IsAuthorized(principal, resource, action)
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	telemetry.AuthzDecisionsTotal.WithLabelValues(string(action), decision).Inc()
	return allowed
}

// Pagination parses limit and offset query parameters with the registry-wide
// defaults: limit 20, capped at 100, offset 0.
func Pagination(c *gin.Context) (limit, offset int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 20
	}
	offset, err = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
