package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/tg-helpdesk/internal/middleware"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// TelegramAuth handles the Telegram login widget redirect: it verifies
// the signed query, opens a session cookie and sends the browser home.
func (h *Handler) TelegramAuth(c *gin.Context) {
	fields := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	sess, _, err := h.Support.Login(c.Request.Context(), fields)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.CookieName, sess.Token, int(h.Support.SessionTTL().Seconds()), "/", "", h.Secure, true)
	c.Redirect(http.StatusSeeOther, "/")
}

// Logout ends the current session, if any, and clears the cookie.
func (h *Handler) Logout(c *gin.Context) {
	if token := middleware.SessionToken(c, h.CookieName); token != "" {
		if err := h.Support.Logout(c.Request.Context(), token); err != nil {
			shared.SendError(c, err)
			return
		}
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.CookieName, "", -1, "/", "", h.Secure, true)
	shared.SendOK(c, nil)
}

// Me returns the signed-in employee.
func (h *Handler) Me(c *gin.Context) {
	shared.SendOK(c, gin.H{"data": actor(c)})
}
