// Package repository is the helpdesk's persistent store: employees, tickets,
// messages and the auxiliary records around them.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with a unique constraint.
	ErrConflict = errors.New("conflict")
)

// EmployeeStore persists employee identities.
type EmployeeStore interface {
	CreateEmployee(ctx context.Context, e *models.Employee) error
	GetEmployee(ctx context.Context, accountID int64) (*models.Employee, error)
	GetEmployeeByLogin(ctx context.Context, login string) (*models.Employee, error)
	ListEmployees(ctx context.Context) ([]models.Employee, error)
	SetEmployeeAdmin(ctx context.Context, accountID int64, isAdmin bool) error
	DeleteEmployee(ctx context.Context, accountID int64) error
}

// TicketFilter narrows ListTickets.
type TicketFilter struct {
	Status models.TicketStatus // empty means any
	Search string              // substring of any message text
	Limit  int
}

// TicketStore persists tickets and their lifecycle columns.
type TicketStore interface {
	GetTicket(ctx context.Context, id int64) (*models.Ticket, error)
	FindOpenTicket(ctx context.Context, accountID int64) (*models.Ticket, error)
	// FindReopenableTicket returns the most recently closed ticket of the
	// account whose closed_at is at or after since.
	FindReopenableTicket(ctx context.Context, accountID int64, since time.Time) (*models.Ticket, error)
	InsertTicket(ctx context.Context, t *models.Ticket) error
	ReopenTicket(ctx context.Context, id int64) error
	// CloseTicket reports false when the ticket was already closed.
	CloseTicket(ctx context.Context, id int64, at time.Time) (bool, error)
	AssignTicket(ctx context.Context, id int64, accountID *int64) error
	// ClaimTicket assigns only when nobody holds the ticket yet.
	ClaimTicket(ctx context.Context, id int64, accountID int64) (bool, error)
	SetIssueType(ctx context.Context, id int64, it *models.IssueType) error
	SetAutoClose(ctx context.Context, id int64, enabled bool, deadline, armedAt *time.Time) error
	SetNotification(ctx context.Context, id int64, enabled bool) error
	// ConsumeReopenMarker clears recently_reopened and reports whether it was set.
	ConsumeReopenMarker(ctx context.Context, id int64) (bool, error)
	ListTickets(ctx context.Context, f TicketFilter) ([]models.TicketSummary, error)
	ListArmedTickets(ctx context.Context) ([]models.Ticket, error)
	// DeleteClosedTicketsBefore purges closed tickets created before the
	// cutoff and returns how many went plus the attachment paths they owned.
	DeleteClosedTicketsBefore(ctx context.Context, before time.Time) (int64, []string, error)

	FindUnfetchedClosedTicket(ctx context.Context, accountID, currentTicketID int64) (*models.Ticket, error)
	RecordHistoryFetch(ctx context.Context, currentTicketID, fetchedTicketID int64, at time.Time) error
}

// MessageStore persists messages and their attachments.
type MessageStore interface {
	// InsertMessage stores m and every attachment on it, filling in IDs.
	InsertMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id int64) (*models.Message, error)
	FindMessageByExternalID(ctx context.Context, ticketID, accountID, externalID int64) (*models.Message, error)
	UpdateMessageText(ctx context.Context, id int64, text string, at time.Time) error
	SetExternalMessageID(ctx context.Context, id int64, externalID int64) error
	DeleteMessage(ctx context.Context, id int64) error
	// ListMessages returns messages oldest first; limit > 0 keeps only the newest limit.
	ListMessages(ctx context.Context, ticketID int64, limit int) ([]models.Message, error)
	LatestInboundAt(ctx context.Context, ticketID, accountID int64) (*time.Time, error)
}

// RestrictionStore persists mutes and bans.
type RestrictionStore interface {
	SetRestriction(ctx context.Context, r models.Restriction) error
	ClearRestriction(ctx context.Context, accountID int64, kind models.RestrictionKind) error
	// GetRestriction returns the active restriction, deleting it first if it expired.
	GetRestriction(ctx context.Context, accountID int64, kind models.RestrictionKind, now time.Time) (*models.Restriction, error)
	ListRestrictions(ctx context.Context) ([]models.Restriction, error)
	PurgeExpiredRestrictions(ctx context.Context, now time.Time) (int64, error)
}

// SettingStore is a plain key/value table.
type SettingStore interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}

// QuickReplyStore persists canned staff answers.
type QuickReplyStore interface {
	ListQuickReplies(ctx context.Context) ([]models.QuickReply, error)
	CreateQuickReply(ctx context.Context, q *models.QuickReply) error
	DeleteQuickReply(ctx context.Context, id int64) error
}

// RatingStore persists per-ticket ratings.
type RatingStore interface {
	UpsertTicketRating(ctx context.Context, r models.TicketRating) error
	UpsertEmployeeRating(ctx context.Context, r models.EmployeeRating) error
	GetTicketRating(ctx context.Context, ticketID int64) (*models.TicketRating, error)
	DeleteRatingsForTicket(ctx context.Context, ticketID int64) error
	TicketRatingCounts(ctx context.Context) (models.RatingCounts, error)
	EmployeeRatingCounts(ctx context.Context, employeeAccountID int64) (models.RatingCounts, error)
}

// NoteStore persists internal staff notes.
type NoteStore interface {
	// InsertTicketNote fills in n.ID. The author login is resolved on read.
	InsertTicketNote(ctx context.Context, n *models.TicketNote) error
	// ListTicketNotes returns a ticket's notes oldest first.
	ListTicketNotes(ctx context.Context, ticketID int64) ([]models.TicketNote, error)
}

// SessionStore persists console sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s models.Session) error
	GetSession(ctx context.Context, token string) (*models.Session, error)
	TouchSession(ctx context.Context, token string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, token string) error
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Store is the full persistence surface.
type Store interface {
	EmployeeStore
	TicketStore
	MessageStore
	RestrictionStore
	SettingStore
	QuickReplyStore
	RatingStore
	NoteStore
	SessionStore

	// InTx runs fn against a store bound to one transaction. The transaction
	// commits when fn returns nil and rolls back otherwise. Calling InTx on a
	// store already bound to a transaction just runs fn.
	InTx(ctx context.Context, fn func(Store) error) error
}
