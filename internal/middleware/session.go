// Package middleware holds the gin middleware of the console API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// Authenticator resolves a session token to an employee.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Employee, error)
}

// SessionToken reads the session token from the cookie, falling back to a
// bearer Authorization header.
func SessionToken(c *gin.Context, cookieName string) string {
	if token, err := c.Cookie(cookieName); err == nil && token != "" {
		return token
	}
	authHeader := c.GetHeader("Authorization")
	if scheme, token, ok := strings.Cut(authHeader, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

// SessionAuth authenticates the request and stores the employee on the
// context. Requests without a valid session are rejected.
func SessionAuth(auth Authenticator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		emp, err := auth.Authenticate(c.Request.Context(), SessionToken(c, cookieName))
		if err != nil {
			shared.SendError(c, err)
			return
		}
		shared.SetEmployee(c, emp)
		c.Next()
	}
}

// RequireAdmin rejects requests whose employee is not a support agent.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		emp, ok := shared.CurrentEmployee(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Authentication required"})
			return
		}
		if !emp.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "Admin access required"})
			return
		}
		c.Next()
	}
}
