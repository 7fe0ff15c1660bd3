package support

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/services/lifecycle"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

func requireAdmin(actor *models.Employee) error {
	if actor == nil || !actor.IsAdmin {
		return shared.ErrForbidden
	}
	return nil
}

// TicketView is everything the console shows for one ticket.
type TicketView struct {
	Ticket   *models.Ticket       `json:"ticket"`
	Login    string               `json:"login"`
	Messages []models.Message     `json:"messages"`
	Notes    []models.TicketNote  `json:"notes"`
	Mute     *models.Restriction  `json:"mute,omitempty"`
	Ban      *models.Restriction  `json:"ban,omitempty"`
	Rating   *models.TicketRating `json:"rating,omitempty"`
	Claimed  bool                 `json:"claimed"`
}

// QuickView is the read-only transcript shown in previews. Opening it
// never claims the ticket.
type QuickView struct {
	Ticket   *models.Ticket   `json:"ticket"`
	Login    string           `json:"login"`
	Messages []models.Message `json:"messages"`
}

// ListTickets returns the console ticket list.
func (s *Service) ListTickets(ctx context.Context, actor *models.Employee, f repository.TicketFilter) ([]models.TicketSummary, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if f.Status != "" && f.Status != models.TicketOpen && f.Status != models.TicketClosed {
		return nil, shared.NewValidationError("status", "must be open or closed")
	}
	return s.store.ListTickets(ctx, f)
}

// Search lists tickets with a message containing query.
func (s *Service) Search(ctx context.Context, actor *models.Employee, query string) ([]models.TicketSummary, error) {
	if query == "" {
		return nil, shared.NewValidationError("query", "must not be empty")
	}
	return s.ListTickets(ctx, actor, repository.TicketFilter{Search: query})
}

// ViewTicket loads a ticket for the console. An unassigned ticket is
// claimed by the viewer.
func (s *Service) ViewTicket(ctx context.Context, actor *models.Employee, ticketID int64) (*TicketView, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("view ticket %d: %w", ticketID, err)
	}
	view := &TicketView{Ticket: t, Login: s.loginOf(ctx, t.AccountID)}

	if t.AssignedTo == nil {
		won, err := s.engine.ClaimOnView(ctx, ticketID, actor.AccountID)
		if err != nil {
			return nil, err
		}
		view.Claimed = won
		if t, err = s.store.GetTicket(ctx, ticketID); err != nil {
			return nil, err
		}
		view.Ticket = t
	}

	if view.Messages, err = s.store.ListMessages(ctx, ticketID, 0); err != nil {
		return nil, fmt.Errorf("list messages of ticket %d: %w", ticketID, err)
	}
	if view.Notes, err = s.store.ListTicketNotes(ctx, ticketID); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if view.Mute, err = s.store.GetRestriction(ctx, t.AccountID, models.RestrictionMute, now); err != nil {
		return nil, err
	}
	if view.Ban, err = s.store.GetRestriction(ctx, t.AccountID, models.RestrictionBan, now); err != nil {
		return nil, err
	}
	if view.Rating, err = s.store.GetTicketRating(ctx, ticketID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return view, nil
}

// QuickViewTicket loads the transcript without touching the assignee.
func (s *Service) QuickViewTicket(ctx context.Context, actor *models.Employee, ticketID int64) (*QuickView, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("view ticket %d: %w", ticketID, err)
	}
	msgs, err := s.store.ListMessages(ctx, ticketID, 0)
	if err != nil {
		return nil, fmt.Errorf("list messages of ticket %d: %w", ticketID, err)
	}
	return &QuickView{Ticket: t, Login: s.loginOf(ctx, t.AccountID), Messages: msgs}, nil
}

// CloseTicket closes a ticket on behalf of staff.
func (s *Service) CloseTicket(ctx context.Context, actor *models.Employee, ticketID int64) (bool, error) {
	if err := requireAdmin(actor); err != nil {
		return false, err
	}
	if _, err := s.store.GetTicket(ctx, ticketID); err != nil {
		return false, fmt.Errorf("close ticket %d: %w", ticketID, err)
	}
	return s.engine.Close(ctx, ticketID, lifecycle.ReasonStaff)
}

// AssignTicket sets or clears the assignee.
func (s *Service) AssignTicket(ctx context.Context, actor *models.Employee, ticketID int64, assignee *int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if _, err := s.store.GetTicket(ctx, ticketID); err != nil {
		return fmt.Errorf("assign ticket %d: %w", ticketID, err)
	}
	return s.engine.Assign(ctx, ticketID, assignee)
}

func (s *Service) SetIssueType(ctx context.Context, actor *models.Employee, ticketID int64, raw string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return s.engine.SetIssueType(ctx, ticketID, raw)
}

func (s *Service) SetNotification(ctx context.Context, actor *models.Employee, ticketID int64, enabled bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return s.engine.SetNotification(ctx, ticketID, enabled)
}

// SetAutoClose arms (delay 0 means the configured default) or disarms the
// ticket's auto-close timer. It returns the deadline when armed.
func (s *Service) SetAutoClose(ctx context.Context, actor *models.Employee, ticketID int64, enabled bool, delay time.Duration) (*time.Time, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !enabled {
		if _, err := s.store.GetTicket(ctx, ticketID); err != nil {
			return nil, fmt.Errorf("disarm ticket %d: %w", ticketID, err)
		}
		return nil, s.autoClose.Disarm(ctx, ticketID)
	}
	if delay <= 0 {
		delay = s.autoCloseDelay
	}
	deadline, err := s.autoClose.Arm(ctx, ticketID, delay)
	if err != nil {
		return nil, err
	}
	return &deadline, nil
}

// RatingCounts returns the aggregate for all tickets, or for one employee
// when employeeAccountID is non-nil.
func (s *Service) RatingCounts(ctx context.Context, actor *models.Employee, employeeAccountID *int64) (models.RatingCounts, error) {
	if err := requireAdmin(actor); err != nil {
		return models.RatingCounts{}, err
	}
	if employeeAccountID != nil {
		return s.store.EmployeeRatingCounts(ctx, *employeeAccountID)
	}
	return s.store.TicketRatingCounts(ctx)
}

// broadcastMessage emits new_message for a stored message.
func (s *Service) broadcastMessage(ctx context.Context, m *models.Message) {
	author := m.AccountID
	if m.EmployeeAccountID != nil {
		author = *m.EmployeeAccountID
	}
	s.events.Broadcast(realtime.EventNewMessage, realtime.NewMessageFrom(m, s.loginOf(ctx, author)))
}
