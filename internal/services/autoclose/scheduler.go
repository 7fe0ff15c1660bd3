// Package autoclose closes tickets that staff marked for closing once the
// end user has stayed silent for a delay.
package autoclose

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/clock"
	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// DefaultDelay is how long a ticket stays armed before closing.
const DefaultDelay = 24 * time.Hour

const fireTimeout = 30 * time.Second

// Store is the persistence the scheduler needs.
type Store interface {
	GetTicket(ctx context.Context, id int64) (*models.Ticket, error)
	SetAutoClose(ctx context.Context, id int64, enabled bool, deadline, armedAt *time.Time) error
	LatestInboundAt(ctx context.Context, ticketID, accountID int64) (*time.Time, error)
	ListArmedTickets(ctx context.Context) ([]models.Ticket, error)
}

// Closer performs the automatic close of a ticket.
type Closer interface {
	CloseAuto(ctx context.Context, ticketID int64) error
}

type handle struct {
	gen      uint64
	deadline time.Time
	timer    *clock.Timer
}

// Scheduler owns one timer per armed ticket.
type Scheduler struct {
	store  Store
	clock  clock.Clock
	events realtime.Broadcaster
	logger *log.Logger

	mu      sync.Mutex
	closer  Closer
	handles map[int64]*handle
	gen     uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewScheduler creates a scheduler. The closer is attached later with
// SetCloser because the lifecycle engine depends on the scheduler too.
func NewScheduler(store Store, events realtime.Broadcaster, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:   store,
		clock:   clock.Real(),
		events:  events,
		logger:  log.New(os.Stdout, "[AUTOCLOSE] ", log.LstdFlags),
		handles: make(map[int64]*handle),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetCloser attaches the close path invoked when a timer fires.
func (s *Scheduler) SetCloser(c Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closer = c
}

// Arm marks the ticket for closing after delay, replacing any earlier arm.
func (s *Scheduler) Arm(ctx context.Context, ticketID int64, delay time.Duration) (time.Time, error) {
	if delay <= 0 {
		return time.Time{}, shared.NewValidationError("delay", "must be positive")
	}
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return time.Time{}, err
	}
	if !t.IsOpen() {
		return time.Time{}, shared.NewValidationError("ticket", "ticket %d is closed", ticketID)
	}
	now := s.clock.Now()
	deadline := now.Add(delay)
	if err := s.store.SetAutoClose(ctx, ticketID, true, &deadline, &now); err != nil {
		return time.Time{}, fmt.Errorf("arm ticket %d: %w", ticketID, err)
	}
	s.schedule(ticketID, deadline)
	s.logger.Printf("ticket %d armed, closes at %s", ticketID, deadline.Format(time.RFC3339))
	s.events.Broadcast(realtime.EventAutoCloseUpdated, realtime.AutoCloseUpdated{
		TicketID: ticketID, Enabled: true, Deadline: &deadline,
	})
	return deadline, nil
}

// Disarm cancels the timer and clears the stored columns. It is safe to
// call on a ticket that is not armed.
func (s *Scheduler) Disarm(ctx context.Context, ticketID int64) error {
	s.Cancel(ticketID)
	if err := s.store.SetAutoClose(ctx, ticketID, false, nil, nil); err != nil {
		return fmt.Errorf("disarm ticket %d: %w", ticketID, err)
	}
	s.events.Broadcast(realtime.EventAutoCloseUpdated, realtime.AutoCloseUpdated{TicketID: ticketID})
	return nil
}

// Cancel drops the in-memory timer only. Used when the columns are
// cleared by the caller, e.g. by a close.
func (s *Scheduler) Cancel(ticketID int64) bool {
	s.mu.Lock()
	h, ok := s.handles[ticketID]
	delete(s.handles, ticketID)
	s.mu.Unlock()
	if ok {
		h.timer.Stop()
	}
	return ok
}

// Recover re-arms every ticket whose columns say it is armed. Deadlines
// already in the past fire right away.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	tickets, err := s.store.ListArmedTickets(ctx)
	if err != nil {
		return 0, fmt.Errorf("recover auto-close timers: %w", err)
	}
	for _, t := range tickets {
		if t.AutoCloseDeadline == nil {
			continue
		}
		s.schedule(t.ID, *t.AutoCloseDeadline)
	}
	if len(tickets) > 0 {
		s.logger.Printf("recovered %d armed tickets", len(tickets))
	}
	return len(tickets), nil
}

// Armed reports whether a timer is pending for the ticket.
func (s *Scheduler) Armed(ticketID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.handles[ticketID]
	return ok
}

// Pending returns the number of pending timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

func (s *Scheduler) schedule(ticketID int64, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.handles[ticketID]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	h := &handle{gen: gen, deadline: deadline}
	h.timer = s.clock.AfterFunc(deadline.Sub(s.clock.Now()), func() { s.fire(ticketID, gen) })
	s.handles[ticketID] = h
}

func (s *Scheduler) fire(ticketID int64, gen uint64) {
	s.mu.Lock()
	h, ok := s.handles[ticketID]
	if !ok || h.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.handles, ticketID)
	closer := s.closer
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("ticket %d: panic in auto-close: %v", ticketID, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()
	if err := s.closeIfSilent(ctx, ticketID, h.deadline, closer); err != nil {
		s.logger.Printf("ticket %d: auto-close: %v", ticketID, err)
	}
}

func (s *Scheduler) closeIfSilent(ctx context.Context, ticketID int64, deadline time.Time, closer Closer) error {
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if !t.IsOpen() || !t.AutoCloseEnabled || t.AutoCloseDeadline == nil {
		return nil
	}
	if !sameInstant(*t.AutoCloseDeadline, deadline) {
		// Re-armed elsewhere; the newer deadline owns the ticket.
		return nil
	}
	armedAt := deadline
	if t.AutoCloseArmedAt != nil {
		armedAt = *t.AutoCloseArmedAt
	}
	latest, err := s.store.LatestInboundAt(ctx, ticketID, t.AccountID)
	if err != nil {
		return err
	}
	if latest != nil && latest.After(armedAt) {
		s.logger.Printf("ticket %d: end user wrote after arming, not closing", ticketID)
		return s.Disarm(ctx, ticketID)
	}
	if closer == nil {
		return fmt.Errorf("no closer attached")
	}
	s.logger.Printf("ticket %d: closing after inactivity", ticketID)
	return closer.CloseAuto(ctx, ticketID)
}

// sameInstant tolerates the precision loss of database time columns.
func sameInstant(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < time.Millisecond
}
