// Package lifecycle owns ticket state transitions: create, reopen, close,
// assignment and the per-ticket flags staff toggle from the console.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/clock"
	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/outbound"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

// DefaultReopenWindow is how long after closing a new inbound message
// reopens the same ticket instead of creating one.
const DefaultReopenWindow = time.Hour

// InactivityNotice precedes the rating prompt on automatic closes.
const InactivityNotice = "We have not heard from you for a while, so your request was closed automatically. Write to us again at any time."

// CloseReason records who closed a ticket.
type CloseReason string

const (
	ReasonStaff CloseReason = "staff"
	ReasonAuto  CloseReason = "auto"
)

// AutoClose is the part of the auto-close scheduler the engine drives.
type AutoClose interface {
	Cancel(ticketID int64) bool
	Disarm(ctx context.Context, ticketID int64) error
}

// Outcome describes which ticket an inbound message landed in.
type Outcome struct {
	Ticket     *models.Ticket
	IsNew      bool
	IsReopened bool
}

// Zone resolves the timezone currently configured for staff.
type Zone interface {
	Location(ctx context.Context) (*time.Location, error)
}

// Topic addresses a forum topic of a staff group chat.
type Topic struct {
	ChatID   int64
	ThreadID int64
}

// Engine applies lifecycle rules on top of the store.
type Engine struct {
	store        repository.Store
	autoClose    AutoClose
	out          outbound.Enqueuer
	events       realtime.Broadcaster
	clock        clock.Clock
	reopenWindow time.Duration
	location     *time.Location
	zone         Zone
	consoleURL   string
	topic        Topic
	logger       *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithReopenWindow overrides DefaultReopenWindow.
func WithReopenWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.reopenWindow = d
		}
	}
}

// WithLocation sets the zone used for timestamps in staff notifications.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithZone resolves the notification timezone on every use, so a settings
// change applies without a restart. The WithLocation zone is the fallback
// when the lookup fails.
func WithZone(z Zone) Option {
	return func(e *Engine) {
		e.zone = z
	}
}

// WithConsoleURL adds an "Open ticket" link to staff notifications.
func WithConsoleURL(base string) Option {
	return func(e *Engine) {
		e.consoleURL = base
	}
}

// WithNotificationTopic posts reassignments into a staff forum topic.
func WithNotificationTopic(t Topic) Option {
	return func(e *Engine) {
		e.topic = t
	}
}

// NewEngine wires the engine.
func NewEngine(store repository.Store, autoClose AutoClose, out outbound.Enqueuer, events realtime.Broadcaster, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		autoClose:    autoClose,
		out:          out,
		events:       events,
		clock:        clock.Real(),
		reopenWindow: DefaultReopenWindow,
		location:     time.UTC,
		logger:       log.New(os.Stdout, "[LIFECYCLE] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureForInbound returns the ticket an inbound message at `at` belongs
// to: the open ticket, a ticket closed within the reopen window, or a new
// one. A racing insert from another goroutine surfaces as a conflict and
// is retried once, which then observes the winner's open ticket.
func (e *Engine) EnsureForInbound(ctx context.Context, accountID int64, at time.Time) (Outcome, error) {
	out, err := e.ensure(ctx, accountID, at)
	if errors.Is(err, repository.ErrConflict) {
		e.logger.Printf("account %d: concurrent ticket creation, retrying", accountID)
		out, err = e.ensure(ctx, accountID, at)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("ensure ticket for account %d: %w", accountID, err)
	}

	if out.Ticket.AutoCloseEnabled {
		if err := e.autoClose.Disarm(ctx, out.Ticket.ID); err != nil {
			e.logger.Printf("ticket %d: disarm on inbound: %v", out.Ticket.ID, err)
		} else {
			out.Ticket.AutoCloseEnabled = false
			out.Ticket.AutoCloseDeadline = nil
			out.Ticket.AutoCloseArmedAt = nil
		}
	}
	return out, nil
}

func (e *Engine) ensure(ctx context.Context, accountID int64, at time.Time) (Outcome, error) {
	var out Outcome
	err := e.store.InTx(ctx, func(tx repository.Store) error {
		out = Outcome{}
		open, err := tx.FindOpenTicket(ctx, accountID)
		if err == nil {
			out.Ticket = open
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		recent, err := tx.FindReopenableTicket(ctx, accountID, at.Add(-e.reopenWindow))
		switch {
		case err == nil:
			if err := tx.ReopenTicket(ctx, recent.ID); err != nil {
				return err
			}
			if err := tx.DeleteRatingsForTicket(ctx, recent.ID); err != nil {
				return err
			}
			t, err := tx.GetTicket(ctx, recent.ID)
			if err != nil {
				return err
			}
			out.Ticket, out.IsReopened = t, true
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		t := &models.Ticket{AccountID: accountID, Status: models.TicketOpen, CreatedAt: at}
		if err := tx.InsertTicket(ctx, t); err != nil {
			return err
		}
		out.Ticket, out.IsNew = t, true
		return nil
	})
	return out, err
}

// Acknowledge decides whether the canned acknowledgment goes out for an
// outcome. A reopened ticket consumes its reopen marker instead.
func (e *Engine) Acknowledge(ctx context.Context, out Outcome) (bool, error) {
	switch {
	case out.IsNew:
		return true, nil
	case out.IsReopened:
		consumed, err := e.store.ConsumeReopenMarker(ctx, out.Ticket.ID)
		if err != nil {
			return false, err
		}
		return !consumed, nil
	default:
		return false, nil
	}
}

// Close closes a ticket. It reports false, with no side effects, when the
// ticket was already closed.
func (e *Engine) Close(ctx context.Context, ticketID int64, reason CloseReason) (bool, error) {
	now := e.clock.Now()
	var (
		changed bool
		ticket  *models.Ticket
	)
	err := e.store.InTx(ctx, func(tx repository.Store) error {
		var err error
		changed, err = tx.CloseTicket(ctx, ticketID, now)
		if err != nil || !changed {
			return err
		}
		if err := tx.DeleteRatingsForTicket(ctx, ticketID); err != nil {
			return err
		}
		ticket, err = tx.GetTicket(ctx, ticketID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("close ticket %d: %w", ticketID, err)
	}
	if !changed {
		return false, nil
	}

	e.autoClose.Cancel(ticketID)

	if reason == ReasonAuto {
		e.enqueue(ctx, outbound.Job{AccountID: ticket.AccountID, Text: InactivityNotice})
	}
	id := ticketID
	e.enqueue(ctx, outbound.Job{AccountID: ticket.AccountID, Text: outbound.RatingPrompt, TicketID: &id})

	e.events.Broadcast(realtime.EventTicketClosed, realtime.TicketClosed{
		TicketID: ticketID, Reason: string(reason), ClosedAt: now,
	})
	e.logger.Printf("ticket %d closed (%s)", ticketID, reason)
	return true, nil
}

// CloseAuto is the scheduler's close path.
func (e *Engine) CloseAuto(ctx context.Context, ticketID int64) error {
	_, err := e.Close(ctx, ticketID, ReasonAuto)
	return err
}

// Assign sets or clears the assignee. A named assignee gets a direct
// message with the latest conversation, and the staff topic, when
// configured, hears about every change.
func (e *Engine) Assign(ctx context.Context, ticketID int64, employeeAccountID *int64) error {
	var login string
	if employeeAccountID != nil {
		emp, err := e.store.GetEmployee(ctx, *employeeAccountID)
		if errors.Is(err, repository.ErrNotFound) {
			return shared.NewValidationError("assigned_to", "unknown employee %d", *employeeAccountID)
		}
		if err != nil {
			return err
		}
		login = emp.Login
	}
	if err := e.store.AssignTicket(ctx, ticketID, employeeAccountID); err != nil {
		return fmt.Errorf("assign ticket %d: %w", ticketID, err)
	}
	e.events.Broadcast(realtime.EventTicketAssigned, realtime.TicketAssigned{
		TicketID: ticketID, AssignedTo: employeeAccountID, AssignedLogin: login,
	})
	e.notifyTopic(ctx, ticketID, login)
	if employeeAccountID == nil {
		return nil
	}

	text, err := e.assignmentDigest(ctx, ticketID)
	if err != nil {
		e.logger.Printf("ticket %d: build assignment digest: %v", ticketID, err)
		return nil
	}
	e.enqueue(ctx, outbound.Job{
		AccountID: *employeeAccountID,
		Text:      text,
		Buttons:   outbound.TicketButtons(ticketID, e.consoleURL),
	})
	return nil
}

func (e *Engine) notifyTopic(ctx context.Context, ticketID int64, login string) {
	if e.topic.ChatID == 0 {
		return
	}
	if login == "" {
		login = "nobody"
	}
	var rows [][]transport.Button
	if e.consoleURL != "" {
		rows = [][]transport.Button{{{Text: "Open ticket", URL: outbound.TicketURL(e.consoleURL, ticketID)}}}
	}
	job := outbound.Job{
		AccountID: e.topic.ChatID,
		ThreadID:  e.topic.ThreadID,
		Text:      fmt.Sprintf("Ticket #%d reassigned to %s", ticketID, login),
		Buttons:   rows,
	}
	e.enqueue(ctx, job)
}

// locationFor is the zone staff timestamps are rendered in.
func (e *Engine) locationFor(ctx context.Context) *time.Location {
	if e.zone == nil {
		return e.location
	}
	loc, err := e.zone.Location(ctx)
	if err != nil || loc == nil {
		e.logger.Printf("resolve timezone, using %s: %v", e.location, err)
		return e.location
	}
	return loc
}

const digestSize = 5

func (e *Engine) assignmentDigest(ctx context.Context, ticketID int64) (string, error) {
	msgs, err := e.store.ListMessages(ctx, ticketID, digestSize)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You have been assigned ticket #%d.\n\nRecent messages:\n", ticketID)
	if len(msgs) == 0 {
		b.WriteString("No messages yet.\n")
		return b.String(), nil
	}
	loc := e.locationFor(ctx)
	logins := make(map[int64]string)
	for _, m := range msgs {
		author := m.AccountID
		if m.IsFromStaff && m.EmployeeAccountID != nil {
			author = *m.EmployeeAccountID
		}
		fmt.Fprintf(&b, "[%s] %s: %s", m.Timestamp.In(loc).Format("2006-01-02 15:04:05"), e.loginOf(ctx, logins, author), m.Text)
		for _, a := range m.Attachments {
			fmt.Fprintf(&b, " [File: %s]", a.FileName)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (e *Engine) loginOf(ctx context.Context, cache map[int64]string, accountID int64) string {
	if l, ok := cache[accountID]; ok {
		return l
	}
	l := fmt.Sprintf("#%d", accountID)
	if emp, err := e.store.GetEmployee(ctx, accountID); err == nil {
		l = emp.Login
	}
	cache[accountID] = l
	return l
}

// ClaimOnView assigns the ticket to viewer if nobody holds it. Only the
// winning viewer broadcasts.
func (e *Engine) ClaimOnView(ctx context.Context, ticketID, viewer int64) (bool, error) {
	won, err := e.store.ClaimTicket(ctx, ticketID, viewer)
	if err != nil {
		return false, fmt.Errorf("claim ticket %d: %w", ticketID, err)
	}
	if !won {
		return false, nil
	}
	var login string
	if emp, err := e.store.GetEmployee(ctx, viewer); err == nil {
		login = emp.Login
	}
	e.events.Broadcast(realtime.EventTicketAssigned, realtime.TicketAssigned{
		TicketID: ticketID, AssignedTo: &viewer, AssignedLogin: login,
	})
	return true, nil
}

// SetIssueType accepts tech, org, ins, or n/a to clear.
func (e *Engine) SetIssueType(ctx context.Context, ticketID int64, raw string) error {
	it, err := models.ParseIssueType(raw)
	if err != nil {
		return shared.NewValidationError("issue_type", "%v", err)
	}
	if err := e.store.SetIssueType(ctx, ticketID, it); err != nil {
		return fmt.Errorf("set issue type of ticket %d: %w", ticketID, err)
	}
	e.events.Broadcast(realtime.EventIssueTypeUpdated, realtime.IssueTypeUpdated{TicketID: ticketID, IssueType: it})
	return nil
}

// SetNotification toggles assignee notifications for new inbound messages.
func (e *Engine) SetNotification(ctx context.Context, ticketID int64, enabled bool) error {
	if err := e.store.SetNotification(ctx, ticketID, enabled); err != nil {
		return fmt.Errorf("set notification of ticket %d: %w", ticketID, err)
	}
	e.events.Broadcast(realtime.EventNotificationUpdated, realtime.NotificationUpdated{TicketID: ticketID, Enabled: enabled})
	return nil
}

func (e *Engine) enqueue(ctx context.Context, job outbound.Job) {
	if err := e.out.Enqueue(ctx, job); err != nil {
		e.logger.Printf("enqueue to %d: %v", job.AccountID, err)
	}
}
