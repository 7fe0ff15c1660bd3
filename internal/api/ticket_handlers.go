package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// ListTickets handles GET /api/tickets?status=open|closed&limit=N.
func (h *Handler) ListTickets(c *gin.Context) {
	f := repository.TicketFilter{Status: models.TicketStatus(c.Query("status"))}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			shared.SendError(c, shared.NewValidationError("limit", "must be a non-negative integer"))
			return
		}
		f.Limit = n
	}
	tickets, err := h.Support.ListTickets(c.Request.Context(), actor(c), f)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	if tickets == nil {
		tickets = []models.TicketSummary{}
	}
	shared.SendOK(c, gin.H{"data": tickets})
}

// SearchTickets handles GET /api/tickets/search?q=text.
func (h *Handler) SearchTickets(c *gin.Context) {
	tickets, err := h.Support.Search(c.Request.Context(), actor(c), c.Query("q"))
	if err != nil {
		shared.SendError(c, err)
		return
	}
	if tickets == nil {
		tickets = []models.TicketSummary{}
	}
	shared.SendOK(c, gin.H{"data": tickets})
}

// ViewTicket handles GET /api/tickets/:id. Viewing an unassigned ticket
// claims it.
func (h *Handler) ViewTicket(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	view, err := h.Support.ViewTicket(c.Request.Context(), actor(c), id)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": view})
}

// QuickViewTicket handles GET /api/tickets/:id/quick, a preview that
// leaves the assignee alone.
func (h *Handler) QuickViewTicket(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	view, err := h.Support.QuickViewTicket(c.Request.Context(), actor(c), id)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": view})
}

func (h *Handler) ListNotes(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	notes, err := h.Support.ListNotes(c.Request.Context(), actor(c), id)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": notes})
}

type noteRequest struct {
	Text string `json:"text" binding:"required"`
}

// AddNote handles POST /api/tickets/:id/notes.
func (h *Handler) AddNote(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req noteRequest
	if !bindJSON(c, &req) {
		return
	}
	n, err := h.Support.AddNote(c.Request.Context(), actor(c), id, req.Text)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": n})
}

func (h *Handler) CloseTicket(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	closed, err := h.Support.CloseTicket(c.Request.Context(), actor(c), id)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"closed": closed})
}

type assignRequest struct {
	// AssignedTo nil unassigns the ticket.
	AssignedTo *int64 `json:"assigned_to"`
}

func (h *Handler) AssignTicket(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req assignRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.Support.AssignTicket(c.Request.Context(), actor(c), id, req.AssignedTo); err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, nil)
}

type issueTypeRequest struct {
	IssueType string `json:"issue_type"`
}

func (h *Handler) SetIssueType(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req issueTypeRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.Support.SetIssueType(c.Request.Context(), actor(c), id, req.IssueType); err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, nil)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handler) SetNotification(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req toggleRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.Support.SetNotification(c.Request.Context(), actor(c), id, *req.Enabled); err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, nil)
}

type autoCloseRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
	// DelayMinutes of 0 uses the configured default.
	DelayMinutes int `json:"delay_minutes"`
}

func (h *Handler) SetAutoClose(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req autoCloseRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.DelayMinutes < 0 {
		shared.SendError(c, shared.NewValidationError("delay_minutes", "must not be negative"))
		return
	}
	deadline, err := h.Support.SetAutoClose(c.Request.Context(), actor(c), id, *req.Enabled,
		time.Duration(req.DelayMinutes)*time.Minute)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"deadline": deadline})
}

// FetchHistory handles POST /api/tickets/:id/history.
func (h *Handler) FetchHistory(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	res, err := h.Support.FetchHistory(c.Request.Context(), actor(c), id)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": res})
}

func (h *Handler) Ratings(c *gin.Context) {
	counts, err := h.Support.RatingCounts(c.Request.Context(), actor(c), nil)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": counts})
}

func (h *Handler) EmployeeRatings(c *gin.Context) {
	account, ok := int64Param(c, "account")
	if !ok {
		return
	}
	counts, err := h.Support.RatingCounts(c.Request.Context(), actor(c), &account)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": counts})
}
