package shared

import (
	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
)

const employeeKey = "helpdesk.employee"

// SetEmployee stores the authenticated employee on the request context.
func SetEmployee(c *gin.Context, e *models.Employee) {
	c.Set(employeeKey, e)
}

// CurrentEmployee returns the employee stored by SetEmployee.
func CurrentEmployee(c *gin.Context) (*models.Employee, bool) {
	v, ok := c.Get(employeeKey)
	if !ok {
		return nil, false
	}
	e, ok := v.(*models.Employee)
	return e, ok && e != nil
}
