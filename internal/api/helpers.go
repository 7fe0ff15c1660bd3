package api

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// actor returns the authenticated employee. The session middleware runs
// before every handler that calls it.
func actor(c *gin.Context) *models.Employee {
	emp, _ := shared.CurrentEmployee(c)
	return emp
}

// int64Param parses a positive path parameter, writing a 400 on failure.
func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		shared.SendError(c, shared.NewValidationError(name, "must be a positive integer"))
		return 0, false
	}
	return v, true
}

// bindJSON decodes the request body, writing a 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		shared.SendError(c, shared.NewValidationError("body", "%v", err))
		return false
	}
	return true
}
