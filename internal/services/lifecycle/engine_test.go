package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/tg-helpdesk/internal/clock"
	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/outbound"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/services/autoclose"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store  repository.Store
	clock  *clock.FakeClock
	jobs   *outbound.Collector
	events *realtime.Recorder
	sched  *autoclose.Scheduler
	engine *Engine
}

func newFixture(t *testing.T, store repository.Store) *fixture {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	f := &fixture{
		store:  store,
		clock:  clock.Fake(t0),
		jobs:   &outbound.Collector{},
		events: &realtime.Recorder{},
	}
	f.sched = autoclose.NewScheduler(store, f.events, autoclose.WithClock(f.clock), autoclose.WithLogger(quiet))
	f.engine = NewEngine(store, f.sched, f.jobs, f.events, WithClock(f.clock), WithLogger(quiet))
	f.sched.SetCloser(f.engine)
	return f
}

func TestEnsureForInbound_CreatesThenReuses(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()

	first, err := f.engine.EnsureForInbound(ctx, 100, t0)
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.False(t, first.IsReopened)
	assert.Nil(t, first.Ticket.IssueType)

	again, err := f.engine.EnsureForInbound(ctx, 100, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, again.IsNew)
	assert.Equal(t, first.Ticket.ID, again.Ticket.ID)

	ack, err := f.engine.Acknowledge(ctx, first)
	require.NoError(t, err)
	assert.True(t, ack)
	ack, err = f.engine.Acknowledge(ctx, again)
	require.NoError(t, err)
	assert.False(t, ack)
}

func TestEnsureForInbound_ReopenWindow(t *testing.T) {
	tests := []struct {
		name       string
		after      time.Duration
		wantReopen bool
	}{
		{"reopens at +30min", 30 * time.Minute, true},
		{"reopens at exactly one hour", time.Hour, true},
		{"new ticket at +90min", 90 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, repository.NewMemoryStore())
			ctx := context.Background()

			first, err := f.engine.EnsureForInbound(ctx, 100, t0)
			require.NoError(t, err)
			require.NoError(t, f.store.UpsertTicketRating(ctx, models.TicketRating{
				TicketID: first.Ticket.ID, AccountID: 100, Value: models.RatingUp, CreatedAt: t0,
			}))
			changed, err := f.engine.Close(ctx, first.Ticket.ID, ReasonStaff)
			require.NoError(t, err)
			require.True(t, changed)
			require.NoError(t, f.store.UpsertTicketRating(ctx, models.TicketRating{
				TicketID: first.Ticket.ID, AccountID: 100, Value: models.RatingDown, CreatedAt: t0,
			}))

			out, err := f.engine.EnsureForInbound(ctx, 100, t0.Add(tt.after))
			require.NoError(t, err)
			assert.Equal(t, tt.wantReopen, out.IsReopened)
			assert.Equal(t, !tt.wantReopen, out.IsNew)
			assert.True(t, out.Ticket.IsOpen())

			ack, err := f.engine.Acknowledge(ctx, out)
			require.NoError(t, err)
			if tt.wantReopen {
				assert.Equal(t, first.Ticket.ID, out.Ticket.ID)
				assert.False(t, ack, "reopen suppresses the acknowledgment")
				_, err := f.store.GetTicketRating(ctx, first.Ticket.ID)
				assert.ErrorIs(t, err, repository.ErrNotFound, "ratings are purged on reopen")

				again, err := f.engine.EnsureForInbound(ctx, 100, t0.Add(tt.after+time.Minute))
				require.NoError(t, err)
				stored, err := f.store.GetTicket(ctx, again.Ticket.ID)
				require.NoError(t, err)
				assert.False(t, stored.RecentlyReopened, "marker is consumed exactly once")
			} else {
				assert.NotEqual(t, first.Ticket.ID, out.Ticket.ID)
				assert.True(t, ack)
			}
		})
	}
}

func TestEnsureForInbound_SingleOpenTicketUnderConcurrency(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()

	const workers = 16
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.engine.EnsureForInbound(ctx, 55, t0)
			if assert.NoError(t, err) {
				ids[i] = out.Ticket.ID
			}
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	list, err := f.store.ListTickets(ctx, repository.TicketFilter{Status: models.TicketOpen})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// racingStore makes the first ticket insert lose a race against another
// writer that commits its own open ticket.
type racingStore struct {
	*repository.MemoryStore
	raced bool
	lost  bool
}

type racingTx struct {
	repository.Store
	parent *racingStore
}

func (r *racingStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	err := r.MemoryStore.InTx(ctx, func(tx repository.Store) error {
		return fn(&racingTx{Store: tx, parent: r})
	})
	if r.lost {
		r.lost = false
		winner := &models.Ticket{AccountID: 9, Status: models.TicketOpen, CreatedAt: t0}
		if err := r.MemoryStore.InsertTicket(ctx, winner); err != nil {
			return err
		}
	}
	return err
}

func (tx *racingTx) InsertTicket(ctx context.Context, t *models.Ticket) error {
	if !tx.parent.raced {
		tx.parent.raced = true
		tx.parent.lost = true
		return fmt.Errorf("insert ticket: %w", repository.ErrConflict)
	}
	return tx.Store.InsertTicket(ctx, t)
}

func TestEnsureForInbound_RetriesOnceAfterConflict(t *testing.T) {
	store := &racingStore{MemoryStore: repository.NewMemoryStore()}
	f := newFixture(t, store)

	out, err := f.engine.EnsureForInbound(context.Background(), 9, t0)
	require.NoError(t, err)
	assert.False(t, out.IsNew, "the retry observes the winner's ticket")
	assert.Equal(t, int64(9), out.Ticket.AccountID)
}

func TestEnsureForInbound_DisarmsAutoClose(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()

	out, err := f.engine.EnsureForInbound(ctx, 1, t0)
	require.NoError(t, err)
	_, err = f.sched.Arm(ctx, out.Ticket.ID, time.Hour)
	require.NoError(t, err)

	again, err := f.engine.EnsureForInbound(ctx, 1, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, again.Ticket.AutoCloseEnabled)
	assert.False(t, f.sched.Armed(out.Ticket.ID))

	updates := f.events.Find(realtime.EventAutoCloseUpdated)
	require.Len(t, updates, 2)
	assert.False(t, updates[1].(realtime.AutoCloseUpdated).Enabled)

	f.clock.Advance(2 * time.Hour)
	stored, err := f.store.GetTicket(ctx, out.Ticket.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen())
}

func TestClose(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	out, err := f.engine.EnsureForInbound(ctx, 100, t0)
	require.NoError(t, err)
	id := out.Ticket.ID

	changed, err := f.engine.Close(ctx, id, ReasonStaff)
	require.NoError(t, err)
	assert.True(t, changed)

	jobs := f.jobs.For(100)
	require.Len(t, jobs, 1)
	assert.Equal(t, outbound.RatingPrompt, jobs[0].Text)
	require.NotNil(t, jobs[0].TicketID)
	assert.Equal(t, id, *jobs[0].TicketID)
	assert.Equal(t, "rating_prompt", jobs[0].Kind())

	closed := f.events.Find(realtime.EventTicketClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "staff", closed[0].(realtime.TicketClosed).Reason)

	changed, err = f.engine.Close(ctx, id, ReasonStaff)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, f.jobs.Jobs(), 1, "closing twice has no side effects")
	assert.Equal(t, 1, f.events.Count(realtime.EventTicketClosed))

	_, err = f.engine.Close(ctx, 999, ReasonStaff)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestClose_AutoFromScheduler(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	out, err := f.engine.EnsureForInbound(ctx, 100, t0)
	require.NoError(t, err)

	_, err = f.sched.Arm(ctx, out.Ticket.ID, time.Hour)
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	stored, err := f.store.GetTicket(ctx, out.Ticket.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen())

	jobs := f.jobs.For(100)
	require.Len(t, jobs, 2)
	assert.Equal(t, InactivityNotice, jobs[0].Text)
	assert.Equal(t, outbound.RatingPrompt, jobs[1].Text)
}

func TestClose_CancelsPendingTimer(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	out, err := f.engine.EnsureForInbound(ctx, 100, t0)
	require.NoError(t, err)
	_, err = f.sched.Arm(ctx, out.Ticket.ID, time.Hour)
	require.NoError(t, err)

	_, err = f.engine.Close(ctx, out.Ticket.ID, ReasonStaff)
	require.NoError(t, err)
	assert.Zero(t, f.sched.Pending())

	f.clock.Advance(2 * time.Hour)
	assert.Len(t, f.jobs.Jobs(), 1, "no second close from the cancelled timer")
}

func TestAssign(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, f.store.CreateEmployee(ctx, &models.Employee{AccountID: 100, Login: "user@example.com", CreatedAt: t0}))
	require.NoError(t, f.store.CreateEmployee(ctx, &models.Employee{AccountID: 7, Login: "agent@example.com", IsAdmin: true, CreatedAt: t0}))

	out, err := f.engine.EnsureForInbound(ctx, 100, t0)
	require.NoError(t, err)
	require.NoError(t, f.store.InsertMessage(ctx, &models.Message{
		TicketID: out.Ticket.ID, AccountID: 100, Text: "printer on fire", Timestamp: t0,
		Attachments: []models.Attachment{{FilePath: "/tmp/x.jpg", FileName: "x.jpg", FileType: models.FileImage}},
	}))

	unknown := int64(404)
	err = f.engine.Assign(ctx, out.Ticket.ID, &unknown)
	assert.True(t, shared.IsValidation(err))

	agent := int64(7)
	require.NoError(t, f.engine.Assign(ctx, out.Ticket.ID, &agent))

	dm := f.jobs.For(7)
	require.Len(t, dm, 1)
	assert.Contains(t, dm[0].Text, fmt.Sprintf("ticket #%d", out.Ticket.ID))
	assert.Contains(t, dm[0].Text, "[2024-03-04 10:00:00] user@example.com: printer on fire [File: x.jpg]")

	assigned := f.events.Find(realtime.EventTicketAssigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, "agent@example.com", assigned[0].(realtime.TicketAssigned).AssignedLogin)

	require.NoError(t, f.engine.Assign(ctx, out.Ticket.ID, nil))
	stored, err := f.store.GetTicket(ctx, out.Ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AssignedTo)
	assert.Len(t, f.jobs.For(7), 1)
}

func TestAssign_DeliversTicketButtons(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)
	require.NoError(t, store.CreateEmployee(ctx, &models.Employee{AccountID: 7, Login: "agent@example.com", IsAdmin: true, CreatedAt: t0}))

	fake := transport.NewFake()
	queue := outbound.NewQueue(fake, nil, outbound.WithLogger(quiet))
	qctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go queue.Run(qctx)

	events := &realtime.Recorder{}
	sched := autoclose.NewScheduler(store, events, autoclose.WithLogger(quiet))
	engine := NewEngine(store, sched, queue, events,
		WithLogger(quiet),
		WithConsoleURL("https://desk.example.com"),
		WithNotificationTopic(Topic{ChatID: -1001, ThreadID: 3}),
	)
	sched.SetCloser(engine)

	out, err := engine.EnsureForInbound(ctx, 100, t0)
	require.NoError(t, err)
	id := out.Ticket.ID
	agent := int64(7)
	require.NoError(t, engine.Assign(ctx, id, &agent))

	require.Eventually(t, func() bool { return len(fake.Sent()) == 2 }, 2*time.Second, 5*time.Millisecond)

	topic := fake.SentTo(-1001)
	require.Len(t, topic, 1)
	assert.Equal(t, "topic", topic[0].Op)
	assert.Equal(t, int64(3), topic[0].ThreadID)
	assert.Equal(t, fmt.Sprintf("Ticket #%d reassigned to agent@example.com", id), topic[0].Text)
	require.Len(t, topic[0].Buttons, 1)
	assert.Equal(t, fmt.Sprintf("https://desk.example.com/tickets/%d", id), topic[0].Buttons[0][0].URL)

	dm := fake.SentTo(7)
	require.Len(t, dm, 1)
	assert.Equal(t, "buttons", dm[0].Op)
	require.Len(t, dm[0].Buttons, 2)
	assert.Equal(t, fmt.Sprintf("https://desk.example.com/tickets/%d", id), dm[0].Buttons[0][0].URL)
	assert.Equal(t, models.HistoryCallbackData(id), dm[0].Buttons[1][0].Data)

	require.NoError(t, engine.Assign(ctx, id, nil))
	require.Eventually(t, func() bool { return len(fake.SentTo(-1001)) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, fmt.Sprintf("Ticket #%d reassigned to nobody", id), fake.SentTo(-1001)[1].Text)
}

type switchZone struct {
	mu  sync.Mutex
	loc *time.Location
}

func (z *switchZone) set(loc *time.Location) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.loc = loc
}

func (z *switchZone) Location(context.Context) (*time.Location, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.loc, nil
}

func TestAssign_DigestFollowsCurrentZone(t *testing.T) {
	store := repository.NewMemoryStore()
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)
	zone := &switchZone{loc: time.UTC}
	jobs := &outbound.Collector{}
	events := &realtime.Recorder{}
	sched := autoclose.NewScheduler(store, events, autoclose.WithLogger(quiet))
	engine := NewEngine(store, sched, jobs, events, WithLogger(quiet), WithZone(zone))

	require.NoError(t, store.CreateEmployee(ctx, &models.Employee{AccountID: 7, Login: "agent@example.com", IsAdmin: true, CreatedAt: t0}))
	out, err := engine.EnsureForInbound(ctx, 100, t0)
	require.NoError(t, err)
	require.NoError(t, store.InsertMessage(ctx, &models.Message{TicketID: out.Ticket.ID, AccountID: 100, Text: "hello", Timestamp: t0}))

	agent := int64(7)
	require.NoError(t, engine.Assign(ctx, out.Ticket.ID, &agent))
	zone.set(time.FixedZone("UTC+5", 5*60*60))
	require.NoError(t, engine.Assign(ctx, out.Ticket.ID, &agent))

	dm := jobs.For(7)
	require.Len(t, dm, 2)
	assert.Contains(t, dm[0].Text, "[2024-03-04 10:00:00]")
	assert.Contains(t, dm[1].Text, "[2024-03-04 15:00:00]")
}

func TestClaimOnView(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	out, err := f.engine.EnsureForInbound(ctx, 100, t0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wins := make([]bool, 8)
	for i := range wins {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			won, err := f.engine.ClaimOnView(ctx, out.Ticket.ID, int64(10+i))
			assert.NoError(t, err)
			wins[i] = won
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, w := range wins {
		if w {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, f.events.Count(realtime.EventTicketAssigned))
}

func TestSetIssueTypeAndNotification(t *testing.T) {
	f := newFixture(t, repository.NewMemoryStore())
	ctx := context.Background()
	out, err := f.engine.EnsureForInbound(ctx, 100, t0)
	require.NoError(t, err)

	assert.True(t, shared.IsValidation(f.engine.SetIssueType(ctx, out.Ticket.ID, "billing")))
	require.NoError(t, f.engine.SetIssueType(ctx, out.Ticket.ID, "tech"))
	stored, err := f.store.GetTicket(ctx, out.Ticket.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.IssueType)
	assert.Equal(t, models.IssueTech, *stored.IssueType)

	require.NoError(t, f.engine.SetIssueType(ctx, out.Ticket.ID, "n/a"))
	stored, err = f.store.GetTicket(ctx, out.Ticket.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.IssueType)
	assert.Equal(t, 2, f.events.Count(realtime.EventIssueTypeUpdated))

	require.NoError(t, f.engine.SetNotification(ctx, out.Ticket.ID, true))
	assert.ErrorIs(t, f.engine.SetNotification(ctx, 999, true), repository.ErrNotFound)
	assert.Equal(t, 1, f.events.Count(realtime.EventNotificationUpdated))
}
