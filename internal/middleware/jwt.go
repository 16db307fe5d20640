package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/polly-app/backend/internal/auth"
	"github.com/polly-app/backend/internal/models"
	"github.com/polly-app/backend/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for user role in gin context.
	ContextUserRole = "user_role"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// JWT returns a middleware that requires a valid bearer token and sets the
// user claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Abort(c, http.StatusUnauthorized, "missing authorization header")
			return
		}
		if authenticate(c, jwtService, header) {
			c.Next()
		}
	}
}

// OptionalJWT sets user claims when a bearer token is present. Requests
// without an Authorization header pass through anonymously; a malformed or
// invalid token is still rejected.
func OptionalJWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		if authenticate(c, jwtService, header) {
			c.Next()
		}
	}
}

func authenticate(c *gin.Context, jwtService *auth.JWTService, header string) bool {
	token, ok := bearer(header)
	if !ok {
		response.Abort(c, http.StatusUnauthorized, "invalid authorization header")
		return false
	}
	claims, err := jwtService.Validate(token)
	if err != nil {
		response.Abort(c, http.StatusUnauthorized, "invalid or expired token")
		return false
	}
	setClaims(c, claims)
	return true
}

// OptionalUserID returns the authenticated user's ID, or nil for anonymous
// requests.
func OptionalUserID(c *gin.Context) *uuid.UUID {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return nil
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}

// IsAdmin reports whether the authenticated user has the admin role.
func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextUserRole) == string(models.RoleAdmin)
}

func bearer(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set(ContextUserID, claims.UserID)
	c.Set(ContextUserRole, claims.Role)
	c.Set(ContextUserEmail, claims.Email)
}
