package tasks

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/runner"
)

// Cleaner deletes closed tickets past the retention period.
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// CleanupTask enforces ticket retention.
type CleanupTask struct {
	cleaner  Cleaner
	schedule string
	logger   *log.Logger
}

var _ runner.Task = (*CleanupTask)(nil)

func NewCleanupTask(cleaner Cleaner, schedule string) *CleanupTask {
	return &CleanupTask{
		cleaner:  cleaner,
		schedule: schedule,
		logger:   log.New(os.Stdout, "[TASK cleanup] ", log.LstdFlags),
	}
}

func (t *CleanupTask) Name() string           { return "ticket-cleanup" }
func (t *CleanupTask) Schedule() string       { return t.schedule }
func (t *CleanupTask) Timeout() time.Duration { return 10 * time.Minute }

func (t *CleanupTask) Run(ctx context.Context) error {
	n, err := t.cleaner.Cleanup(ctx)
	if err != nil {
		return err
	}
	t.logger.Printf("deleted %d closed tickets past retention", n)
	return nil
}

// Recoverer re-arms auto-close timers from stored ticket state.
type Recoverer interface {
	Recover(ctx context.Context) (int, error)
}

// AutoCloseRecoverTask re-arms auto-close timers whose in-memory handle
// was lost, e.g. after a timer callback failed.
type AutoCloseRecoverTask struct {
	recoverer Recoverer
	schedule  string
	logger    *log.Logger
}

var _ runner.Task = (*AutoCloseRecoverTask)(nil)

func NewAutoCloseRecoverTask(r Recoverer, schedule string) *AutoCloseRecoverTask {
	return &AutoCloseRecoverTask{
		recoverer: r,
		schedule:  schedule,
		logger:    log.New(os.Stdout, "[TASK auto-close] ", log.LstdFlags),
	}
}

func (t *AutoCloseRecoverTask) Name() string           { return "auto-close-recover" }
func (t *AutoCloseRecoverTask) Schedule() string       { return t.schedule }
func (t *AutoCloseRecoverTask) Timeout() time.Duration { return time.Minute }

func (t *AutoCloseRecoverTask) Run(ctx context.Context) error {
	n, err := t.recoverer.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		t.logger.Printf("re-armed %d auto-close timers", n)
	}
	return nil
}
