// Package api exposes the support console over HTTP.
package api

import (
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gotrs-io/tg-helpdesk/internal/middleware"
	"github.com/gotrs-io/tg-helpdesk/internal/outbound"
	"github.com/gotrs-io/tg-helpdesk/internal/services/support"
)

// DeadLetterSource lists outbound jobs that failed delivery.
type DeadLetterSource interface {
	DeadLetters() []outbound.DeadLetter
}

// Deps are the collaborators the router serves.
type Deps struct {
	Support *support.Service
	// WebSocket upgrades authenticated console connections.
	WebSocket http.HandlerFunc
	// Webhook receives Telegram updates when the bot runs in webhook mode.
	Webhook     http.Handler
	WebhookPath string
	DeadLetters DeadLetterSource
	CookieName  string
	Secure      bool
	// AccessLog receives gin's request log; nil disables it.
	AccessLog io.Writer
	ErrorLog  *log.Logger
}

// Handler implements the console endpoints.
type Handler struct {
	Deps
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	if d.CookieName == "" {
		d.CookieName = "session_token"
	}
	h := &Handler{Deps: d}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.Metrics(), middleware.ErrorLog(d.ErrorLog))
	if d.AccessLog != nil {
		r.Use(gin.LoggerWithWriter(d.AccessLog))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if d.Webhook != nil && d.WebhookPath != "" {
		r.POST(d.WebhookPath, gin.WrapH(d.Webhook))
	}

	r.GET("/telegram-auth", h.TelegramAuth)
	r.POST("/logout", h.Logout)
	r.GET("/logout", h.Logout)

	auth := middleware.SessionAuth(d.Support, d.CookieName)
	if d.WebSocket != nil {
		r.GET("/ws", auth, gin.WrapF(d.WebSocket))
	}

	api := r.Group("/api", auth, middleware.RequireAdmin())
	{
		api.GET("/me", h.Me)

		api.GET("/tickets", h.ListTickets)
		api.GET("/tickets/search", h.SearchTickets)
		api.GET("/tickets/:id", h.ViewTicket)
		api.GET("/tickets/:id/quick", h.QuickViewTicket)
		api.GET("/tickets/:id/notes", h.ListNotes)
		api.POST("/tickets/:id/notes", h.AddNote)
		api.POST("/tickets/:id/close", h.CloseTicket)
		api.POST("/tickets/:id/assign", h.AssignTicket)
		api.POST("/tickets/:id/issue-type", h.SetIssueType)
		api.POST("/tickets/:id/notification", h.SetNotification)
		api.POST("/tickets/:id/auto-close", h.SetAutoClose)
		api.POST("/tickets/:id/history", h.FetchHistory)
		api.POST("/tickets/:id/messages", h.Reply)

		api.PUT("/messages/:id", h.EditMessage)
		api.DELETE("/messages/:id", h.DeleteMessage)

		api.GET("/quick-replies", h.ListQuickReplies)
		api.POST("/quick-replies", h.AddQuickReply)
		api.DELETE("/quick-replies/:id", h.DeleteQuickReply)

		api.GET("/restrictions", h.ListRestrictions)
		api.POST("/accounts/:account/mute", h.Mute)
		api.DELETE("/accounts/:account/mute", h.Unmute)
		api.POST("/accounts/:account/ban", h.Ban)
		api.DELETE("/accounts/:account/ban", h.Unban)

		api.GET("/employees", h.ListEmployees)
		api.POST("/employees", h.AddEmployee)
		api.DELETE("/employees/:account", h.DeleteEmployee)
		api.POST("/employees/:account/admin", h.SetAdmin)
		api.GET("/employees/:account/ratings", h.EmployeeRatings)
		api.GET("/ratings", h.Ratings)

		api.GET("/settings", h.ListSettings)
		api.PUT("/settings/:key", h.UpdateSetting)

		api.POST("/cleanup", h.Cleanup)
		api.POST("/sessions/cleanup", h.CleanupSessions)
		api.GET("/outbound/dead-letters", h.DeadLetterList)
	}
	return r
}
