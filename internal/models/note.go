package models

import (
	"time"
	"unicode/utf8"
)

// NoteTextMax bounds a staff note.
const NoteTextMax = 4000

// TicketNote is an internal staff remark on a ticket. Notes never reach
// the end user.
type TicketNote struct {
	ID              int64     `json:"id" db:"id"`
	TicketID        int64     `json:"ticket_id" db:"ticket_id"`
	AuthorAccountID int64     `json:"author_account_id" db:"author_account_id"`
	AuthorLogin     string    `json:"login" db:"login"`
	Text            string    `json:"text" db:"text"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// NoteTextValid reports whether text fits a note.
func NoteTextValid(text string) bool {
	return text != "" && utf8.RuneCountInString(text) <= NoteTextMax
}
