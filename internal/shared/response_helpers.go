package shared

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/tg-helpdesk/internal/database"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
)

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case database.IsConnectionError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// SendError writes err as a JSON error body. Internal errors are not
// echoed to the client.
func SendError(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		c.Error(err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

// SendOK writes {"success": true} merged with extra fields.
func SendOK(c *gin.Context, extra gin.H) {
	body := gin.H{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}
