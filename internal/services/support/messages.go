package support

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/outbound"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
	"github.com/gotrs-io/tg-helpdesk/internal/storage"
)

// Upload is a file attached to a staff reply.
type Upload struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// ReplyInput is a staff answer to a ticket.
type ReplyInput struct {
	TicketID  int64
	Text      string
	File      *Upload
	IssueType *string
}

// Reply stores a staff message and queues its delivery to the ticket owner.
func (s *Service) Reply(ctx context.Context, actor *models.Employee, in ReplyInput) (*models.Message, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(in.Text)
	if text == "" && in.File == nil {
		return nil, shared.NewValidationError("text", "text or file is required")
	}
	t, err := s.store.GetTicket(ctx, in.TicketID)
	if err != nil {
		return nil, fmt.Errorf("reply to ticket %d: %w", in.TicketID, err)
	}

	staff := actor.AccountID
	m := &models.Message{
		TicketID:          t.ID,
		AccountID:         t.AccountID,
		EmployeeAccountID: &staff,
		Text:              text,
		IsFromStaff:       true,
		Timestamp:         s.clock.Now(),
	}
	if in.File != nil {
		path, err := s.files.Save(ctx, in.File.Name, in.File.Body)
		if err != nil {
			return nil, fmt.Errorf("store upload: %w", err)
		}
		a := models.Attachment{
			FilePath: path,
			FileName: filepath.Base(path),
			FileType: storage.DetectFileType(in.File.ContentType, in.File.Name),
		}
		m.Attachments = []models.Attachment{a}
		if m.Text == "" {
			m.Text = "[File] " + a.FileName
		}
	}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		for _, a := range m.Attachments {
			_ = s.files.Remove(a.FilePath)
		}
		return nil, fmt.Errorf("insert reply: %w", err)
	}

	if in.IssueType != nil {
		if err := s.engine.SetIssueType(ctx, t.ID, *in.IssueType); err != nil {
			s.logger.Printf("ticket %d: issue type with reply: %v", t.ID, err)
		}
	}

	id := m.ID
	job := outbound.Job{AccountID: t.AccountID, Text: text, MessageID: &id}
	if len(m.Attachments) > 0 {
		job.Attachment = &outbound.AttachmentRef{Path: m.Attachments[0].FilePath, Type: m.Attachments[0].FileType}
	}
	s.enqueue(ctx, job)
	s.broadcastMessage(ctx, m)
	return m, nil
}

func (s *Service) staffMessage(ctx context.Context, messageID int64) (*models.Message, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !m.IsFromStaff {
		return nil, fmt.Errorf("message %d was written by the end user: %w", messageID, shared.ErrForbidden)
	}
	return m, nil
}

// EditMessage changes the text of a staff message and mirrors the edit to
// the end user's chat when the message was delivered.
func (s *Service) EditMessage(ctx context.Context, actor *models.Employee, messageID int64, text string) (*models.Message, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, shared.NewValidationError("text", "must not be empty")
	}
	m, err := s.staffMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateMessageText(ctx, messageID, text, m.Timestamp); err != nil {
		return nil, fmt.Errorf("edit message %d: %w", messageID, err)
	}
	m.Text = text

	if m.ExternalMessageID != nil {
		ext := *m.ExternalMessageID
		s.enqueue(ctx, outbound.Job{
			AccountID:         m.AccountID,
			Text:              text,
			ExternalMessageID: &ext,
			HasAttachment:     m.HasAttachment(),
		})
	}
	s.events.Broadcast(realtime.EventMessageEdited, realtime.MessageEdited{
		TicketID: m.TicketID, MessageID: m.ID, Text: text, Timestamp: m.Timestamp,
	})
	return m, nil
}

// DeleteMessage removes a staff message, its files, and its copy in the
// end user's chat.
func (s *Service) DeleteMessage(ctx context.Context, actor *models.Employee, messageID int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	m, err := s.staffMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	for _, a := range m.Attachments {
		if err := s.files.Remove(a.FilePath); err != nil {
			s.logger.Printf("message %d: remove %s: %v", messageID, a.FilePath, err)
		}
	}
	if m.ExternalMessageID != nil {
		ext := *m.ExternalMessageID
		s.enqueue(ctx, outbound.Job{AccountID: m.AccountID, ExternalMessageID: &ext, Delete: true})
	}
	s.events.Broadcast(realtime.EventMessageDeleted, realtime.MessageDeleted{TicketID: m.TicketID, MessageID: m.ID})
	return nil
}
