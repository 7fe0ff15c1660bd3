// Package rating records thumbs up/down verdicts end users give after a
// ticket closes.
package rating

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gotrs-io/tg-helpdesk/internal/clock"
	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// Replies shown to the end user when answering the button press.
const (
	ThanksText      = "Thank you for your feedback!"
	NotRateableText = "This request can no longer be rated."
)

// Service validates and stores ratings.
type Service struct {
	store  repository.Store
	events realtime.Broadcaster
	clock  clock.Clock
	logger *log.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(store repository.Store, events realtime.Broadcaster, opts ...Option) *Service {
	s := &Service{
		store:  store,
		events: events,
		clock:  clock.Real(),
		logger: log.New(os.Stdout, "[RATING] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit records a rating from accountID for a closed ticket they own.
// Pressing again replaces the earlier verdict.
func (s *Service) Submit(ctx context.Context, accountID, ticketID int64, value models.RatingValue) error {
	if _, err := models.ParseRatingValue(string(value)); err != nil {
		return shared.NewValidationError("rating", "%v", err)
	}
	now := s.clock.Now()
	var ticket *models.Ticket
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		t, err := tx.GetTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if t.AccountID != accountID {
			return fmt.Errorf("rate ticket %d: %w", ticketID, shared.ErrForbidden)
		}
		if t.IsOpen() {
			return shared.NewValidationError("ticket", "ticket %d is still open", ticketID)
		}
		if err := tx.UpsertTicketRating(ctx, models.TicketRating{
			TicketID: ticketID, AccountID: accountID, Value: value, CreatedAt: now,
		}); err != nil {
			return err
		}
		if t.AssignedTo != nil {
			if err := tx.UpsertEmployeeRating(ctx, models.EmployeeRating{
				EmployeeAccountID: *t.AssignedTo, TicketID: ticketID, Value: value, CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		ticket = t
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Printf("ticket %d rated %s", ticketID, value)

	if ticket.AssignedTo == nil {
		return nil
	}
	counts, err := s.store.EmployeeRatingCounts(ctx, *ticket.AssignedTo)
	if err != nil {
		s.logger.Printf("employee %d: rating counts: %v", *ticket.AssignedTo, err)
		return nil
	}
	s.events.Broadcast(realtime.EventEmployeeRated, realtime.EmployeeRated{
		EmployeeAccountID: *ticket.AssignedTo, TicketID: ticketID, Value: value, Counts: counts,
	})
	return nil
}

// TicketCounts aggregates every ticket rating.
func (s *Service) TicketCounts(ctx context.Context) (models.RatingCounts, error) {
	return s.store.TicketRatingCounts(ctx)
}

// EmployeeCounts aggregates the ratings credited to one employee.
func (s *Service) EmployeeCounts(ctx context.Context, employeeAccountID int64) (models.RatingCounts, error) {
	return s.store.EmployeeRatingCounts(ctx, employeeAccountID)
}
