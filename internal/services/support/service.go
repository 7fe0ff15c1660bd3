// Package support implements the operations staff run from the web
// console: replies, message edits, restrictions, quick replies, history
// fetches, employee administration and console sessions.
package support

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/clock"
	"github.com/gotrs-io/tg-helpdesk/internal/outbound"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/services/lifecycle"
	"github.com/gotrs-io/tg-helpdesk/internal/storage"
)

const (
	DefaultSessionTTL      = 30 * 24 * time.Hour
	DefaultRetentionMonths = 6
	DefaultLoginMaxAge     = 24 * time.Hour
)

// Lifecycle is the part of the lifecycle engine the console drives.
type Lifecycle interface {
	Close(ctx context.Context, ticketID int64, reason lifecycle.CloseReason) (bool, error)
	Assign(ctx context.Context, ticketID int64, employeeAccountID *int64) error
	ClaimOnView(ctx context.Context, ticketID, viewer int64) (bool, error)
	SetIssueType(ctx context.Context, ticketID int64, raw string) error
	SetNotification(ctx context.Context, ticketID int64, enabled bool) error
}

// AutoClose arms and disarms ticket timers.
type AutoClose interface {
	Arm(ctx context.Context, ticketID int64, delay time.Duration) (time.Time, error)
	Disarm(ctx context.Context, ticketID int64) error
}

// Service holds the console operations.
type Service struct {
	store     repository.Store
	engine    Lifecycle
	autoClose AutoClose
	out       outbound.Enqueuer
	events    realtime.Broadcaster
	files     storage.FileStore
	settings  *Settings
	clock     clock.Clock
	logger    *log.Logger

	autoCloseDelay  time.Duration
	sessionTTL      time.Duration
	retentionMonths int
	botToken        string
	loginMaxAge     time.Duration
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

// WithAutoCloseDelay sets the delay used when staff arm auto-close
// without naming one.
func WithAutoCloseDelay(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.autoCloseDelay = d
		}
	}
}

func WithSessionTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// WithRetentionMonths sets how old a closed ticket must be before Cleanup
// removes it.
func WithRetentionMonths(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.retentionMonths = n
		}
	}
}

// WithBotToken enables Telegram login verification.
func WithBotToken(token string) Option {
	return func(s *Service) { s.botToken = token }
}

// NewService wires the console operations.
func NewService(store repository.Store, engine Lifecycle, autoClose AutoClose, out outbound.Enqueuer, events realtime.Broadcaster, files storage.FileStore, opts ...Option) *Service {
	s := &Service{
		store:           store,
		engine:          engine,
		autoClose:       autoClose,
		out:             out,
		events:          events,
		files:           files,
		settings:        NewSettings(store),
		clock:           clock.Real(),
		logger:          log.New(os.Stdout, "[SUPPORT] ", log.LstdFlags),
		autoCloseDelay:  24 * time.Hour,
		sessionTTL:      DefaultSessionTTL,
		retentionMonths: DefaultRetentionMonths,
		loginMaxAge:     DefaultLoginMaxAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings exposes the settings reader.
func (s *Service) Settings() *Settings { return s.settings }

func (s *Service) enqueue(ctx context.Context, job outbound.Job) {
	if err := s.out.Enqueue(ctx, job); err != nil {
		s.logger.Printf("enqueue to %d: %v", job.AccountID, err)
	}
}

func (s *Service) loginOf(ctx context.Context, accountID int64) string {
	if emp, err := s.store.GetEmployee(ctx, accountID); err == nil {
		return emp.Login
	}
	return ""
}
