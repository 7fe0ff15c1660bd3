package models

import "time"

// FileType distinguishes how an attachment is delivered and rendered.
type FileType string

const (
	FileImage    FileType = "image"
	FileDocument FileType = "document"
)

// Message is one chat turn inside a ticket.
type Message struct {
	ID                int64        `json:"message_id" db:"id"`
	TicketID          int64        `json:"ticket_id" db:"ticket_id"`
	AccountID         int64        `json:"account_id" db:"account_id"`
	EmployeeAccountID *int64       `json:"employee_account_id,omitempty" db:"employee_account_id"`
	Text              string       `json:"text" db:"text"`
	IsFromStaff       bool         `json:"is_from_staff" db:"is_from_staff"`
	Timestamp         time.Time    `json:"timestamp" db:"timestamp"`
	ExternalMessageID *int64       `json:"external_message_id,omitempty" db:"external_message_id"`
	Attachments       []Attachment `json:"attachments,omitempty" db:"-"`
}

// HasAttachment reports whether at least one file is bound to the message.
func (m *Message) HasAttachment() bool {
	return m != nil && len(m.Attachments) > 0
}

// Attachment is a stored file belonging to a message.
type Attachment struct {
	ID        int64    `json:"attachment_id" db:"id"`
	MessageID int64    `json:"message_id" db:"message_id"`
	FilePath  string   `json:"file_path" db:"file_path"`
	FileName  string   `json:"file_name" db:"file_name"`
	FileType  FileType `json:"file_type" db:"file_type"`
}
