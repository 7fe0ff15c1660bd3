package shared

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
)

func TestStatusFor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{NewValidationError("login", "must look like an email"), http.StatusBadRequest},
		{fmt.Errorf("close: %w", ErrForbidden), http.StatusForbidden},
		{ErrUnauthenticated, http.StatusUnauthorized},
		{fmt.Errorf("ticket 9: %w", repository.ErrNotFound), http.StatusNotFound},
		{repository.ErrConflict, http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
		{fmt.Errorf("list tickets: %w", sql.ErrConnDone), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), fmt.Sprint(tt.err))
	}
}

func TestSendErrorHidesInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	SendError(c, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["error"])
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationError("color", "unknown %q", "orange")
	assert.Equal(t, `color: unknown "orange"`, err.Error())
	assert.True(t, IsValidation(fmt.Errorf("wrap: %w", err)))
	assert.Equal(t, "plain", (&ValidationError{Message: "plain"}).Error())
}

func TestEmployeeContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := CurrentEmployee(c)
	assert.False(t, ok)

	SetEmployee(c, &models.Employee{AccountID: 5, Login: "a@b.c"})
	e, ok := CurrentEmployee(c)
	require.True(t, ok)
	assert.Equal(t, int64(5), e.AccountID)
}
