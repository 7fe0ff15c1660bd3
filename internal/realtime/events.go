// Package realtime pushes helpdesk events to connected staff consoles.
// Delivery is at most once: nothing is persisted and nothing is acked.
package realtime

import (
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/utils"
)

// Event names understood by the console.
const (
	EventNewMessage          = "new_message"
	EventMessageEdited       = "message_edited"
	EventMessageDeleted      = "message_deleted"
	EventUpdateTickets       = "update_tickets"
	EventTicketAssigned      = "ticket_assigned"
	EventTicketClosed        = "ticket_closed"
	EventIssueTypeUpdated    = "issue_type_updated"
	EventAutoCloseUpdated    = "auto_close_updated"
	EventNotificationUpdated = "notification_updated"
	EventEmployeeRated       = "employee_rated"
	EventNoMoreHistory       = "no_more_history"
	EventQuickReplyAdded     = "quick_reply_added"
	EventQuickReplyDeleted   = "quick_reply_deleted"
	// EventNewNote carries a models.TicketNote.
	EventNewNote = "new_note"
)

// Broadcaster fans an event out to every connected console.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Envelope is the frame written to websocket clients.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// NewMessage is the payload of EventNewMessage.
type NewMessage struct {
	TicketID          int64               `json:"ticket_id"`
	MessageID         int64               `json:"message_id"`
	AccountID         int64               `json:"account_id"`
	EmployeeAccountID *int64              `json:"employee_account_id,omitempty"`
	Login             string              `json:"login,omitempty"`
	Text              string              `json:"text"`
	Preview           string              `json:"preview"`
	IsFromStaff       bool                `json:"is_from_staff"`
	Timestamp         time.Time           `json:"timestamp"`
	Attachments       []models.Attachment `json:"attachments,omitempty"`
	// FromTicketID is set when the message was pulled in from a closed
	// ticket by a history fetch.
	FromTicketID int64 `json:"from_ticket_id,omitempty"`
}

// NewMessageFrom builds the payload for a stored message.
func NewMessageFrom(m *models.Message, login string) NewMessage {
	return NewMessage{
		TicketID:          m.TicketID,
		MessageID:         m.ID,
		AccountID:         m.AccountID,
		EmployeeAccountID: m.EmployeeAccountID,
		Login:             login,
		Text:              m.Text,
		Preview:           utils.SanitizePreview(m.Text, utils.DefaultPreviewLength),
		IsFromStaff:       m.IsFromStaff,
		Timestamp:         m.Timestamp,
		Attachments:       m.Attachments,
	}
}

// MessageEdited is the payload of EventMessageEdited.
type MessageEdited struct {
	TicketID  int64     `json:"ticket_id"`
	MessageID int64     `json:"message_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageDeleted is the payload of EventMessageDeleted.
type MessageDeleted struct {
	TicketID  int64 `json:"ticket_id"`
	MessageID int64 `json:"message_id"`
}

// TicketsUpdated is the payload of EventUpdateTickets.
type TicketsUpdated struct {
	TicketID   int64 `json:"ticket_id"`
	AccountID  int64 `json:"account_id"`
	IsNew      bool  `json:"is_new"`
	IsReopened bool  `json:"is_reopened"`
}

// TicketAssigned is the payload of EventTicketAssigned.
type TicketAssigned struct {
	TicketID      int64  `json:"ticket_id"`
	AssignedTo    *int64 `json:"assigned_to"`
	AssignedLogin string `json:"assigned_login,omitempty"`
}

// TicketClosed is the payload of EventTicketClosed.
type TicketClosed struct {
	TicketID int64     `json:"ticket_id"`
	Reason   string    `json:"reason"`
	ClosedAt time.Time `json:"closed_at"`
}

// IssueTypeUpdated is the payload of EventIssueTypeUpdated.
type IssueTypeUpdated struct {
	TicketID  int64             `json:"ticket_id"`
	IssueType *models.IssueType `json:"issue_type"`
}

// AutoCloseUpdated is the payload of EventAutoCloseUpdated.
type AutoCloseUpdated struct {
	TicketID int64      `json:"ticket_id"`
	Enabled  bool       `json:"enabled"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// NotificationUpdated is the payload of EventNotificationUpdated.
type NotificationUpdated struct {
	TicketID int64 `json:"ticket_id"`
	Enabled  bool  `json:"enabled"`
}

// EmployeeRated is the payload of EventEmployeeRated.
type EmployeeRated struct {
	EmployeeAccountID int64               `json:"employee_account_id"`
	TicketID          int64               `json:"ticket_id"`
	Value             models.RatingValue  `json:"rating"`
	Counts            models.RatingCounts `json:"counts"`
}

// NoMoreHistory is the payload of EventNoMoreHistory.
type NoMoreHistory struct {
	TicketID int64 `json:"ticket_id"`
}

// QuickReplyDeleted is the payload of EventQuickReplyDeleted.
type QuickReplyDeleted struct {
	ID int64 `json:"id"`
}

// Nop discards every event.
type Nop struct{}

func (Nop) Broadcast(string, any) {}
