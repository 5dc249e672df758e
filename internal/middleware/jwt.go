package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hostelcast/livesession/internal/auth"
	"github.com/hostelcast/livesession/pkg/response"
)

const (
	// ContextUserID is the key for the caller id in gin context.
	ContextUserID = "user_id"
	// ContextUserRole is the key for the caller role in gin context.
	ContextUserRole = "user_role"
	// ContextUserName is the key for the caller display name in gin context.
	ContextUserName = "user_name"
)

// JWT returns a middleware that validates the bearer token and sets the caller in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserName, claims.Name)
		c.Next()
	}
}

// UserID returns the authenticated caller id, or "".
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

// UserName returns the authenticated caller display name, or "".
func UserName(c *gin.Context) string {
	return c.GetString(ContextUserName)
}
