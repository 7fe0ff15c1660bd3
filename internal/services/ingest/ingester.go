// Package ingest turns inbound Telegram updates into tickets and messages.
package ingest

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/cache"
	"github.com/gotrs-io/tg-helpdesk/internal/clock"
	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/outbound"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/services/calendar"
	"github.com/gotrs-io/tg-helpdesk/internal/services/lifecycle"
	"github.com/gotrs-io/tg-helpdesk/internal/storage"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

// Replies the bot sends on its own.
const (
	StartPrompt       = "Please enter your work login."
	LoginInvalidText  = "The login must be your work email address, for example name@company.kz. Please try again."
	LoginTakenText    = "This login is already taken. Please choose another one."
	RegisteredText    = "Registration complete! Your login: %s"
	WelcomeBackText   = "Welcome, %s! You are already registered."
	NotRegisteredText = "You are not registered. Please use the /start command and enter your login."
	VoiceRejectedText = "Voice messages are not supported. Please describe your problem in text or attach a file."
	MutedText         = "You are temporarily muted by support. Please try again later."
	AssigneeNotice    = "New message in ticket #%d from %s:\n%s"
)

// DefaultMediaGroupWindow is how long an album waits for more items.
const DefaultMediaGroupWindow = time.Second

// Lifecycle is the part of the lifecycle engine ingestion drives.
type Lifecycle interface {
	EnsureForInbound(ctx context.Context, accountID int64, at time.Time) (lifecycle.Outcome, error)
	Acknowledge(ctx context.Context, out lifecycle.Outcome) (bool, error)
}

// Ratings records button-press ratings.
type Ratings interface {
	Submit(ctx context.Context, accountID, ticketID int64, value models.RatingValue) error
}

// History renders a ticket transcript for staff.
type History interface {
	HistoryText(ctx context.Context, ticketID int64) (string, error)
}

// Settings supplies reply texts and the working-hours calendar.
type Settings interface {
	Get(ctx context.Context, key string) (string, error)
	Calendar(ctx context.Context) (*calendar.Calendar, error)
}

// Deps are the collaborators an Ingester needs.
type Deps struct {
	Store     repository.Store
	Lifecycle Lifecycle
	Ratings   Ratings
	History   History
	Settings  Settings
	Transport transport.Transport
	Outbound  outbound.Enqueuer
	Events    realtime.Broadcaster
	Files     storage.FileStore
}

// Ingester processes updates. Handle may be called from several
// goroutines; work for one account is serialized.
type Ingester struct {
	Deps
	dedup       cache.Deduper
	clock       clock.Clock
	logger      *log.Logger
	mediaWindow time.Duration
	consoleURL  string

	locks *keyedMutex

	mu       sync.Mutex
	awaiting map[int64]bool
	groups   map[string]*pendingGroup
	baseCtx  context.Context
	inflight sync.WaitGroup
}

// Option configures an Ingester.
type Option func(*Ingester)

func WithLogger(l *log.Logger) Option {
	return func(in *Ingester) {
		if l != nil {
			in.logger = l
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(in *Ingester) {
		if c != nil {
			in.clock = c
		}
	}
}

// WithDeduper replaces the in-memory update deduplication.
func WithDeduper(d cache.Deduper) Option {
	return func(in *Ingester) {
		if d != nil {
			in.dedup = d
		}
	}
}

// WithMediaGroupWindow sets the album debounce.
func WithMediaGroupWindow(d time.Duration) Option {
	return func(in *Ingester) {
		if d > 0 {
			in.mediaWindow = d
		}
	}
}

// WithConsoleURL adds an "Open ticket" link to assignee notices.
func WithConsoleURL(base string) Option {
	return func(in *Ingester) {
		in.consoleURL = base
	}
}

// NewIngester wires an Ingester.
func NewIngester(deps Deps, opts ...Option) *Ingester {
	in := &Ingester{
		Deps:        deps,
		dedup:       cache.NewLocalDeduper(24 * time.Hour),
		clock:       clock.Real(),
		logger:      log.New(os.Stdout, "[INGEST] ", log.LstdFlags),
		mediaWindow: DefaultMediaGroupWindow,
		locks:       newKeyedMutex(),
		awaiting:    make(map[int64]bool),
		groups:      make(map[string]*pendingGroup),
		baseCtx:     context.Background(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run consumes src until ctx is done, then flushes buffered albums.
func (in *Ingester) Run(ctx context.Context, src transport.Source) {
	// Album flushes may run after ctx is cancelled, during Shutdown.
	in.mu.Lock()
	in.baseCtx = context.WithoutCancel(ctx)
	in.mu.Unlock()

	updates := src.Updates(ctx)
	for {
		select {
		case <-ctx.Done():
			in.Shutdown()
			return
		case u, ok := <-updates:
			if !ok {
				in.Shutdown()
				return
			}
			if err := in.Handle(ctx, u); err != nil {
				in.logger.Printf("update %d from %d: %v", u.ID, u.AccountID, err)
			}
		}
	}
}

// Shutdown flushes every buffered album and waits for in-flight flushes.
func (in *Ingester) Shutdown() {
	in.mu.Lock()
	keys := make([]string, 0, len(in.groups))
	for k := range in.groups {
		keys = append(keys, k)
	}
	in.mu.Unlock()
	for _, k := range keys {
		in.flushGroup(k, 0, true)
	}
	in.inflight.Wait()
}

// Handle processes one update.
func (in *Ingester) Handle(ctx context.Context, u transport.Update) error {
	if u.ID != 0 {
		seen, err := in.dedup.Seen(ctx, "update:"+strconv.FormatInt(u.ID, 10))
		if err != nil {
			in.logger.Printf("dedup check for update %d: %v", u.ID, err)
		} else if seen {
			return nil
		}
	}

	if u.IsCallback() {
		r, err := in.restriction(ctx, u.AccountID)
		if err != nil {
			return err
		}
		if r != nil {
			in.refuseCallback(ctx, u.Callback, r)
			return nil
		}
		return in.handleCallback(ctx, u)
	}

	drop, err := in.throttled(ctx, u.AccountID)
	if err != nil || drop {
		return err
	}

	emp, err := in.registered(ctx, u)
	if err != nil || emp == nil {
		return err
	}

	switch {
	case u.Command == "start":
		in.reply(ctx, u.AccountID, fmt.Sprintf(WelcomeBackText, emp.Login))
		return nil
	case u.Voice:
		in.reply(ctx, u.AccountID, VoiceRejectedText)
		return nil
	case u.Edited:
		return in.handleEdit(ctx, u)
	case u.MediaGroupID != "":
		in.bufferGroup(u)
		return nil
	case u.Text == "" && !u.HasFiles():
		return nil
	}
	return in.ingest(ctx, []transport.Update{u})
}

// throttled applies bans and mutes.
func (in *Ingester) throttled(ctx context.Context, accountID int64) (bool, error) {
	r, err := in.restriction(ctx, accountID)
	if err != nil || r == nil {
		return false, err
	}
	if r.Kind == models.RestrictionMute {
		in.reply(ctx, accountID, MutedText)
	}
	return true, nil
}

// restriction returns the ban in force, else the mute in force, else nil.
func (in *Ingester) restriction(ctx context.Context, accountID int64) (*models.Restriction, error) {
	now := in.clock.Now()
	ban, err := in.Store.GetRestriction(ctx, accountID, models.RestrictionBan, now)
	if err != nil {
		return nil, fmt.Errorf("check ban: %w", err)
	}
	if ban != nil {
		return ban, nil
	}
	mute, err := in.Store.GetRestriction(ctx, accountID, models.RestrictionMute, now)
	if err != nil {
		return nil, fmt.Errorf("check mute: %w", err)
	}
	return mute, nil
}

// refuseCallback stops the client spinner without acting on the press.
// Banned accounts get no explanation.
func (in *Ingester) refuseCallback(ctx context.Context, cb *transport.Callback, r *models.Restriction) {
	text := ""
	if r.Kind == models.RestrictionMute {
		text = MutedText
	}
	if err := in.Transport.AnswerCallback(ctx, cb.ID, text); err != nil {
		in.logger.Printf("answer callback %s: %v", cb.ID, err)
	}
}

func (in *Ingester) reply(ctx context.Context, accountID int64, text string) {
	if err := in.Outbound.Enqueue(ctx, outbound.Job{AccountID: accountID, Text: text}); err != nil {
		in.logger.Printf("enqueue reply to %d: %v", accountID, err)
	}
}
