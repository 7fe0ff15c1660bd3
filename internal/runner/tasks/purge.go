// Package tasks holds the periodic sweeps the runner schedules.
package tasks

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/clock"
	"github.com/gotrs-io/tg-helpdesk/internal/runner"
)

// RestrictionStore is the part of the store the restriction purge needs.
type RestrictionStore interface {
	PurgeExpiredRestrictions(ctx context.Context, now time.Time) (int64, error)
}

// RestrictionPurgeTask deletes mutes and bans past their expiry.
type RestrictionPurgeTask struct {
	store    RestrictionStore
	schedule string
	clock    clock.Clock
	logger   *log.Logger
}

var _ runner.Task = (*RestrictionPurgeTask)(nil)

func NewRestrictionPurgeTask(store RestrictionStore, schedule string, c clock.Clock) *RestrictionPurgeTask {
	if c == nil {
		c = clock.Real()
	}
	return &RestrictionPurgeTask{
		store:    store,
		schedule: schedule,
		clock:    c,
		logger:   log.New(os.Stdout, "[TASK restriction-purge] ", log.LstdFlags),
	}
}

func (t *RestrictionPurgeTask) Name() string           { return "restriction-purge" }
func (t *RestrictionPurgeTask) Schedule() string       { return t.schedule }
func (t *RestrictionPurgeTask) Timeout() time.Duration { return time.Minute }

func (t *RestrictionPurgeTask) Run(ctx context.Context) error {
	n, err := t.store.PurgeExpiredRestrictions(ctx, t.clock.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		t.logger.Printf("purged %d expired restrictions", n)
	}
	return nil
}

// SessionPurger drops expired console sessions.
type SessionPurger interface {
	PurgeSessions(ctx context.Context) (int64, error)
}

// SessionPurgeTask removes expired console sessions.
type SessionPurgeTask struct {
	purger   SessionPurger
	schedule string
	logger   *log.Logger
}

var _ runner.Task = (*SessionPurgeTask)(nil)

func NewSessionPurgeTask(purger SessionPurger, schedule string) *SessionPurgeTask {
	return &SessionPurgeTask{
		purger:   purger,
		schedule: schedule,
		logger:   log.New(os.Stdout, "[TASK session-purge] ", log.LstdFlags),
	}
}

func (t *SessionPurgeTask) Name() string           { return "session-purge" }
func (t *SessionPurgeTask) Schedule() string       { return t.schedule }
func (t *SessionPurgeTask) Timeout() time.Duration { return time.Minute }

func (t *SessionPurgeTask) Run(ctx context.Context) error {
	n, err := t.purger.PurgeSessions(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		t.logger.Printf("purged %d expired sessions", n)
	}
	return nil
}
