package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/polly-app/backend/pkg/response"
)

// RequireRole allows only authenticated users holding one of roles. It must
// run after JWT.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		role, ok := c.Get(ContextUserRole)
		if !ok {
			response.Abort(c, http.StatusUnauthorized, "missing user context")
			return
		}
		if _, ok := allowed[role.(string)]; !ok {
			response.Abort(c, http.StatusForbidden, "insufficient permissions")
			return
		}
		c.Next()
	}
}
