package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/outbound"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

func (h *Handler) ListQuickReplies(c *gin.Context) {
	items, err := h.Support.ListQuickReplies(c.Request.Context(), actor(c))
	if err != nil {
		shared.SendError(c, err)
		return
	}
	if items == nil {
		items = []models.QuickReply{}
	}
	shared.SendOK(c, gin.H{"data": items})
}

func (h *Handler) AddQuickReply(c *gin.Context) {
	var req models.QuickReply
	if !bindJSON(c, &req) {
		return
	}
	req.ID = 0
	q, err := h.Support.AddQuickReply(c.Request.Context(), actor(c), req)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": q})
}

func (h *Handler) DeleteQuickReply(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	if err := h.Support.DeleteQuickReply(c.Request.Context(), actor(c), id); err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, nil)
}

func (h *Handler) ListRestrictions(c *gin.Context) {
	items, err := h.Support.ListRestrictions(c.Request.Context(), actor(c))
	if err != nil {
		shared.SendError(c, err)
		return
	}
	if items == nil {
		items = []models.Restriction{}
	}
	shared.SendOK(c, gin.H{"data": items})
}

type restrictRequest struct {
	// Minutes <= 0 makes a ban permanent; mutes need a positive value.
	Minutes int `json:"minutes"`
}

func (h *Handler) Mute(c *gin.Context) {
	account, ok := int64Param(c, "account")
	if !ok {
		return
	}
	var req restrictRequest
	if !bindJSON(c, &req) {
		return
	}
	r, err := h.Support.Mute(c.Request.Context(), actor(c), account, req.Minutes)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": r})
}

func (h *Handler) Ban(c *gin.Context) {
	account, ok := int64Param(c, "account")
	if !ok {
		return
	}
	var req restrictRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	r, err := h.Support.Ban(c.Request.Context(), actor(c), account, req.Minutes)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": r})
}

func (h *Handler) Unmute(c *gin.Context) {
	account, ok := int64Param(c, "account")
	if !ok {
		return
	}
	if err := h.Support.Unmute(c.Request.Context(), actor(c), account); err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, nil)
}

func (h *Handler) Unban(c *gin.Context) {
	account, ok := int64Param(c, "account")
	if !ok {
		return
	}
	if err := h.Support.Unban(c.Request.Context(), actor(c), account); err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, nil)
}

func (h *Handler) ListEmployees(c *gin.Context) {
	items, err := h.Support.ListEmployees(c.Request.Context(), actor(c))
	if err != nil {
		shared.SendError(c, err)
		return
	}
	if items == nil {
		items = []models.Employee{}
	}
	shared.SendOK(c, gin.H{"data": items})
}

type employeeRequest struct {
	AccountID   int64  `json:"account_id" binding:"required"`
	Login       string `json:"login" binding:"required"`
	DisplayName string `json:"display_name"`
	IsAdmin     bool   `json:"is_admin"`
}

func (h *Handler) AddEmployee(c *gin.Context) {
	var req employeeRequest
	if !bindJSON(c, &req) {
		return
	}
	emp, err := h.Support.AddEmployee(c.Request.Context(), actor(c), models.Employee{
		AccountID:   req.AccountID,
		Login:       req.Login,
		DisplayName: req.DisplayName,
		IsAdmin:     req.IsAdmin,
	})
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": emp})
}

func (h *Handler) DeleteEmployee(c *gin.Context) {
	account, ok := int64Param(c, "account")
	if !ok {
		return
	}
	if err := h.Support.DeleteEmployee(c.Request.Context(), actor(c), account); err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, nil)
}

type adminRequest struct {
	IsAdmin *bool `json:"is_admin" binding:"required"`
}

func (h *Handler) SetAdmin(c *gin.Context) {
	account, ok := int64Param(c, "account")
	if !ok {
		return
	}
	var req adminRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.Support.SetAdmin(c.Request.Context(), actor(c), account, *req.IsAdmin); err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, nil)
}

func (h *Handler) ListSettings(c *gin.Context) {
	settings, err := h.Support.ListSettings(c.Request.Context(), actor(c))
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": settings})
}

type settingRequest struct {
	Value string `json:"value"`
}

func (h *Handler) UpdateSetting(c *gin.Context) {
	var req settingRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.Support.UpdateSetting(c.Request.Context(), actor(c), c.Param("key"), req.Value); err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, nil)
}

// Cleanup handles POST /api/cleanup, deleting closed tickets past retention.
func (h *Handler) Cleanup(c *gin.Context) {
	n, err := h.Support.RunCleanup(c.Request.Context(), actor(c))
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"deleted": n})
}

func (h *Handler) CleanupSessions(c *gin.Context) {
	n, err := h.Support.PurgeSessions(c.Request.Context())
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"deleted": n})
}

type deadLetter struct {
	AccountID int64  `json:"account_id"`
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	Error     string `json:"error"`
	FailedAt  string `json:"failed_at"`
}

// DeadLetterList handles GET /api/outbound/dead-letters.
func (h *Handler) DeadLetterList(c *gin.Context) {
	var items []outbound.DeadLetter
	if h.DeadLetters != nil {
		items = h.DeadLetters.DeadLetters()
	}
	out := make([]deadLetter, 0, len(items))
	for _, d := range items {
		out = append(out, deadLetter{
			AccountID: d.Job.AccountID,
			Kind:      d.Job.Kind(),
			Text:      d.Job.Text,
			Error:     d.Err,
			FailedAt:  d.FailedAt.UTC().Format(time.RFC3339),
		})
	}
	shared.SendOK(c, gin.H{"data": out})
}
