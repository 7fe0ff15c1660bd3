package middleware

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

type tokenAuth map[string]*models.Employee

func (a tokenAuth) Authenticate(_ context.Context, token string) (*models.Employee, error) {
	if token == "" {
		return nil, shared.ErrUnauthenticated
	}
	emp, ok := a[token]
	if !ok {
		return nil, shared.ErrUnauthenticated
	}
	if !emp.IsAdmin {
		return nil, shared.ErrForbidden
	}
	return emp, nil
}

func newRouter(auth Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Metrics())
	r.GET("/open", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })
	g := r.Group("/api", SessionAuth(auth, "session_token"), RequireAdmin())
	g.GET("/me", func(c *gin.Context) {
		emp, _ := shared.CurrentEmployee(c)
		c.String(http.StatusOK, emp.Login)
	})
	return r
}

func TestRequestID(t *testing.T) {
	r := newRouter(tokenAuth{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/open", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set(RequestIDHeader, "has spaces in it")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Len(t, w.Header().Get(RequestIDHeader), 36, "unusable ids are replaced")
}

func TestSessionAuth(t *testing.T) {
	r := newRouter(tokenAuth{
		"good": {AccountID: 1, Login: "agent@corp.kz", IsAdmin: true},
		"user": {AccountID: 2, Login: "user@corp.kz"},
	})

	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
		body   string
	}{
		{"no token", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"unknown cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "session_token", Value: "bad"})
		}, http.StatusUnauthorized, ""},
		{"valid cookie", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "session_token", Value: "good"})
		}, http.StatusOK, "agent@corp.kz"},
		{"bearer header", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer good")
		}, http.StatusOK, "agent@corp.kz"},
		{"not staff", func(r *http.Request) {
			r.AddCookie(&http.Cookie{Name: "session_token", Value: "user"})
		}, http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}

func TestRequireAdminWithoutSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestErrorLog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestID(), ErrorLog(log.New(&buf, "", 0)))
	r.GET("/fail", func(c *gin.Context) { shared.SendError(c, errors.New("disk on fire")) })

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(RequestIDHeader, "trace-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk on fire")
	assert.Contains(t, buf.String(), "GET /fail [trace-1]: disk on fire")
}
