package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/tg-helpdesk/internal/services/support"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// maxUploadBytes bounds a staff attachment.
const maxUploadBytes = 20 << 20

// Reply handles POST /api/tickets/:id/messages as a form with fields
// text, issue_type and an optional file.
func (h *Handler) Reply(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+1<<20)

	in := support.ReplyInput{TicketID: id, Text: c.PostForm("text")}
	if it, ok := c.GetPostForm("issue_type"); ok && it != "" {
		in.IssueType = &it
	}
	fh, err := c.FormFile("file")
	switch {
	case err == nil:
		if fh.Size > maxUploadBytes {
			shared.SendError(c, shared.NewValidationError("file", "larger than %d bytes", maxUploadBytes))
			return
		}
		f, err := fh.Open()
		if err != nil {
			shared.SendError(c, shared.NewValidationError("file", "%v", err))
			return
		}
		defer f.Close()
		in.File = &support.Upload{Name: fh.Filename, ContentType: fh.Header.Get("Content-Type"), Body: f}
	case !errors.Is(err, http.ErrMissingFile) && !errors.Is(err, http.ErrNotMultipart):
		shared.SendError(c, shared.NewValidationError("file", "%v", err))
		return
	}

	msg, err := h.Support.Reply(c.Request.Context(), actor(c), in)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": msg})
}

type editMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handler) EditMessage(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	var req editMessageRequest
	if !bindJSON(c, &req) {
		return
	}
	msg, err := h.Support.EditMessage(c.Request.Context(), actor(c), id, req.Text)
	if err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, gin.H{"data": msg})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	id, ok := int64Param(c, "id")
	if !ok {
		return
	}
	if err := h.Support.DeleteMessage(c.Request.Context(), actor(c), id); err != nil {
		shared.SendError(c, err)
		return
	}
	shared.SendOK(c, nil)
}
