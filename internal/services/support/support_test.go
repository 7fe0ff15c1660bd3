package support

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
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
	"github.com/gotrs-io/tg-helpdesk/internal/services/calendar"
	"github.com/gotrs-io/tg-helpdesk/internal/services/lifecycle"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
	"github.com/gotrs-io/tg-helpdesk/internal/storage"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

const (
	userID  = int64(100)
	staffID = int64(900)
	token   = "123456:TEST"
)

type fixture struct {
	store  *repository.MemoryStore
	clock  *clock.FakeClock
	jobs   *outbound.Collector
	events *realtime.Recorder
	files  *storage.FilesystemStore
	engine *lifecycle.Engine
	sched  *autoclose.Scheduler
	svc    *Service
	admin  *models.Employee
	user   *models.Employee
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	files, err := storage.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	f := &fixture{
		store:  repository.NewMemoryStore(),
		clock:  clock.Fake(t0),
		jobs:   &outbound.Collector{},
		events: &realtime.Recorder{},
		files:  files,
	}
	f.sched = autoclose.NewScheduler(f.store, f.events, autoclose.WithClock(f.clock), autoclose.WithLogger(quiet))
	f.engine = lifecycle.NewEngine(f.store, f.sched, f.jobs, f.events, lifecycle.WithClock(f.clock), lifecycle.WithLogger(quiet))
	f.sched.SetCloser(f.engine)
	f.svc = NewService(f.store, f.engine, f.sched, f.jobs, f.events, files,
		WithClock(f.clock), WithLogger(quiet), WithBotToken(token))

	ctx := context.Background()
	f.admin = &models.Employee{AccountID: staffID, Login: "agent@corp.kz", IsAdmin: true}
	f.user = &models.Employee{AccountID: userID, Login: "user@corp.kz"}
	require.NoError(t, f.store.CreateEmployee(ctx, f.admin))
	require.NoError(t, f.store.CreateEmployee(ctx, f.user))
	return f
}

func (f *fixture) openTicket(t *testing.T) *models.Ticket {
	t.Helper()
	out, err := f.engine.EnsureForInbound(context.Background(), userID, f.clock.Now())
	require.NoError(t, err)
	return out.Ticket
}

func TestReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.openTicket(t)

	_, err := f.svc.Reply(ctx, f.user, ReplyInput{TicketID: tk.ID, Text: "hi"})
	assert.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.Reply(ctx, f.admin, ReplyInput{TicketID: tk.ID, Text: "   "})
	assert.True(t, shared.IsValidation(err))

	_, err = f.svc.Reply(ctx, f.admin, ReplyInput{TicketID: 999, Text: "hi"})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	it := "tech"
	m, err := f.svc.Reply(ctx, f.admin, ReplyInput{
		TicketID:  tk.ID,
		File:      &Upload{Name: "screen shot.png", ContentType: "image/png", Body: strings.NewReader("png")},
		IssueType: &it,
	})
	require.NoError(t, err)
	assert.True(t, m.IsFromStaff)
	assert.Equal(t, staffID, *m.EmployeeAccountID)
	assert.Equal(t, userID, m.AccountID)
	assert.Equal(t, "[File] screen_shot.png", m.Text)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, models.FileImage, m.Attachments[0].FileType)
	_, err = os.Stat(m.Attachments[0].FilePath)
	require.NoError(t, err)

	jobs := f.jobs.For(userID)
	require.Len(t, jobs, 1)
	assert.Equal(t, "photo", jobs[0].Kind())
	assert.Equal(t, "", jobs[0].Text, "file-only replies go out without a caption")
	assert.Equal(t, m.ID, *jobs[0].MessageID)

	got, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	require.NotNil(t, got.IssueType)
	assert.Equal(t, models.IssueTech, *got.IssueType)
	assert.Equal(t, 1, f.events.Count(realtime.EventNewMessage))
	assert.Equal(t, 1, f.events.Count(realtime.EventIssueTypeUpdated))
}

func TestReplyAttachmentNameMatchesStoredFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.openTicket(t)

	upload := func() *Upload {
		return &Upload{Name: "report.pdf", ContentType: "application/pdf", Body: strings.NewReader("pdf")}
	}
	first, err := f.svc.Reply(ctx, f.admin, ReplyInput{TicketID: tk.ID, File: upload()})
	require.NoError(t, err)
	second, err := f.svc.Reply(ctx, f.admin, ReplyInput{TicketID: tk.ID, File: upload()})
	require.NoError(t, err)

	a1, a2 := first.Attachments[0], second.Attachments[0]
	assert.NotEqual(t, a1.FilePath, a2.FilePath)
	assert.Equal(t, "report.pdf", a1.FileName)
	assert.Equal(t, "report_1.pdf", a2.FileName)
	assert.Equal(t, filepath.Base(a2.FilePath), a2.FileName)
	assert.Equal(t, "[File] report_1.pdf", second.Text)
}

func TestEditAndDeleteStaffMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.openTicket(t)

	inbound := &models.Message{TicketID: tk.ID, AccountID: userID, Text: "help", Timestamp: t0}
	require.NoError(t, f.store.InsertMessage(ctx, inbound))
	_, err := f.svc.EditMessage(ctx, f.admin, inbound.ID, "changed")
	assert.ErrorIs(t, err, shared.ErrForbidden, "end user messages are not editable")

	m, err := f.svc.Reply(ctx, f.admin, ReplyInput{TicketID: tk.ID, Text: "first"})
	require.NoError(t, err)

	// Not delivered yet: edit stays local.
	f.jobs.Reset()
	_, err = f.svc.EditMessage(ctx, f.admin, m.ID, "second")
	require.NoError(t, err)
	assert.Empty(t, f.jobs.Jobs())

	require.NoError(t, f.store.SetExternalMessageID(ctx, m.ID, 555))
	edited, err := f.svc.EditMessage(ctx, f.admin, m.ID, "third")
	require.NoError(t, err)
	assert.Equal(t, "third", edited.Text)
	jobs := f.jobs.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "edit_text", jobs[0].Kind())
	assert.Equal(t, int64(555), *jobs[0].ExternalMessageID)

	stored, err := f.store.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "third", stored.Text)
	assert.Equal(t, 2, f.events.Count(realtime.EventMessageEdited))

	f.jobs.Reset()
	require.NoError(t, f.svc.DeleteMessage(ctx, f.admin, m.ID))
	jobs = f.jobs.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "delete", jobs[0].Kind())
	_, err = f.store.GetMessage(ctx, m.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Equal(t, 1, f.events.Count(realtime.EventMessageDeleted))
}

func TestDeleteMessageRemovesFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.openTicket(t)

	m, err := f.svc.Reply(ctx, f.admin, ReplyInput{
		TicketID: tk.ID, Text: "see attached",
		File: &Upload{Name: "report.pdf", ContentType: "application/pdf", Body: strings.NewReader("%PDF")},
	})
	require.NoError(t, err)
	path := m.Attachments[0].FilePath
	assert.Equal(t, "document", f.jobs.Jobs()[0].Kind())

	require.NoError(t, f.svc.DeleteMessage(ctx, f.admin, m.ID))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestQuickReplies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddQuickReply(ctx, f.admin, models.QuickReply{Title: "Hi", Text: "Hello!", Color: "orange"})
	assert.True(t, shared.IsValidation(err))

	q, err := f.svc.AddQuickReply(ctx, f.admin, models.QuickReply{Title: " Hi ", Text: "Hello!", Color: "blue"})
	require.NoError(t, err)
	assert.Equal(t, "Hi", q.Title)

	list, err := f.svc.ListQuickReplies(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.svc.DeleteQuickReply(ctx, f.admin, q.ID))
	assert.ErrorIs(t, f.svc.DeleteQuickReply(ctx, f.admin, q.ID), repository.ErrNotFound)
	assert.Equal(t, []string{realtime.EventQuickReplyAdded, realtime.EventQuickReplyDeleted}, f.events.Names())
}

func TestRestrictions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Mute(ctx, f.admin, userID, 0)
	assert.True(t, shared.IsValidation(err))

	mute, err := f.svc.Mute(ctx, f.admin, userID, 30)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(30*time.Minute), *mute.Until)

	ban, err := f.svc.Ban(ctx, f.admin, 200, 0)
	require.NoError(t, err)
	assert.Nil(t, ban.Until, "zero minutes bans permanently")

	active, err := f.svc.ListRestrictions(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	f.clock.Advance(time.Hour)
	active, err = f.svc.ListRestrictions(ctx, f.admin)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, models.RestrictionBan, active[0].Kind)

	require.NoError(t, f.svc.Unban(ctx, f.admin, 200))
	active, err = f.svc.ListRestrictions(ctx, f.admin)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = f.svc.Ban(ctx, f.user, 200, 0)
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestFetchHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.openTicket(t)
	require.NoError(t, f.store.InsertMessage(ctx, &models.Message{TicketID: old.ID, AccountID: userID, Text: "old question", Timestamp: t0}))
	_, err := f.engine.Close(ctx, old.ID, lifecycle.ReasonStaff)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	current := f.openTicket(t)
	require.NotEqual(t, old.ID, current.ID)
	f.events.Reset()

	res, err := f.svc.FetchHistory(ctx, f.admin, current.ID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, res.FetchedTicketID)
	assert.Equal(t, 1, res.Messages)

	msgs := f.events.Find(realtime.EventNewMessage)
	require.Len(t, msgs, 1)
	nm := msgs[0].(realtime.NewMessage)
	assert.Equal(t, current.ID, nm.TicketID)
	assert.Equal(t, old.ID, nm.FromTicketID)
	assert.Equal(t, "[Ticket #"+strconv.FormatInt(old.ID, 10)+"] old question", nm.Text)
	assert.Equal(t, "user@corp.kz", nm.Login)

	res, err = f.svc.FetchHistory(ctx, f.admin, current.ID)
	require.NoError(t, err)
	assert.Zero(t, res.FetchedTicketID)
	assert.Equal(t, 1, f.events.Count(realtime.EventNoMoreHistory))

	text, err := f.svc.HistoryText(ctx, old.ID)
	require.NoError(t, err)
	assert.Contains(t, text, "user: old question")
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path, err := f.files.Save(ctx, "log.txt", strings.NewReader("x"))
	require.NoError(t, err)
	old := f.openTicket(t)
	require.NoError(t, f.store.InsertMessage(ctx, &models.Message{
		TicketID: old.ID, AccountID: userID, Text: "log", Timestamp: t0,
		Attachments: []models.Attachment{{FilePath: path, FileName: "log.txt", FileType: models.FileDocument}},
	}))
	_, err = f.engine.Close(ctx, old.ID, lifecycle.ReasonStaff)
	require.NoError(t, err)

	f.clock.Advance(7 * 30 * 24 * time.Hour)
	fresh := f.openTicket(t)

	_, err = f.svc.RunCleanup(ctx, f.user)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	n, err := f.svc.RunCleanup(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = f.store.GetTicket(ctx, old.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.store.GetTicket(ctx, fresh.ID)
	assert.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestViewTicketClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.openTicket(t)

	view, err := f.svc.ViewTicket(ctx, f.admin, tk.ID)
	require.NoError(t, err)
	assert.True(t, view.Claimed)
	assert.Equal(t, staffID, *view.Ticket.AssignedTo)
	assert.Equal(t, "user@corp.kz", view.Login)

	other := &models.Employee{AccountID: 901, Login: "other@corp.kz", IsAdmin: true}
	require.NoError(t, f.store.CreateEmployee(ctx, other))
	view, err = f.svc.ViewTicket(ctx, other, tk.ID)
	require.NoError(t, err)
	assert.False(t, view.Claimed)
	assert.Equal(t, staffID, *view.Ticket.AssignedTo)
	assert.Equal(t, 1, f.events.Count(realtime.EventTicketAssigned))
}

func TestQuickViewDoesNotClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.openTicket(t)
	require.NoError(t, f.store.InsertMessage(ctx, &models.Message{TicketID: tk.ID, AccountID: userID, Text: "help", Timestamp: t0}))

	_, err := f.svc.QuickViewTicket(ctx, f.user, tk.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.QuickViewTicket(ctx, f.admin, 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	view, err := f.svc.QuickViewTicket(ctx, f.admin, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "user@corp.kz", view.Login)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "help", view.Messages[0].Text)
	assert.Nil(t, view.Ticket.AssignedTo)

	stored, err := f.store.GetTicket(ctx, tk.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.AssignedTo, "quick view leaves the ticket unassigned")
	assert.Zero(t, f.events.Count(realtime.EventTicketAssigned))
}

func TestNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.openTicket(t)

	_, err := f.svc.AddNote(ctx, f.user, tk.ID, "sneaky")
	assert.ErrorIs(t, err, shared.ErrForbidden)
	_, err = f.svc.AddNote(ctx, f.admin, tk.ID, "   ")
	assert.True(t, shared.IsValidation(err))
	_, err = f.svc.AddNote(ctx, f.admin, tk.ID, strings.Repeat("x", models.NoteTextMax+1))
	assert.True(t, shared.IsValidation(err))
	_, err = f.svc.AddNote(ctx, f.admin, 999, "lost")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	n, err := f.svc.AddNote(ctx, f.admin, tk.ID, "  escalated to network team  ")
	require.NoError(t, err)
	assert.Equal(t, "escalated to network team", n.Text)
	assert.Equal(t, "agent@corp.kz", n.AuthorLogin)
	assert.Equal(t, t0, n.CreatedAt)

	events := f.events.Find(realtime.EventNewNote)
	require.Len(t, events, 1)
	assert.Equal(t, tk.ID, events[0].(models.TicketNote).TicketID)

	notes, err := f.svc.ListNotes(ctx, f.admin, tk.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "agent@corp.kz", notes[0].AuthorLogin)

	view, err := f.svc.ViewTicket(ctx, f.admin, tk.ID)
	require.NoError(t, err)
	require.Len(t, view.Notes, 1)
	assert.Equal(t, n.ID, view.Notes[0].ID)
	assert.Empty(t, f.jobs.For(userID), "notes never reach the end user")
}

func TestSetAutoClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tk := f.openTicket(t)

	deadline, err := f.svc.SetAutoClose(ctx, f.admin, tk.ID, true, 0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(24*time.Hour), *deadline)
	assert.True(t, f.sched.Armed(tk.ID))

	_, err = f.svc.SetAutoClose(ctx, f.admin, tk.ID, false, 0)
	require.NoError(t, err)
	assert.False(t, f.sched.Armed(tk.ID))
}

func TestEmployees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddEmployee(ctx, f.admin, models.Employee{AccountID: 5, Login: "not a login"})
	assert.True(t, shared.IsValidation(err))

	e, err := f.svc.AddEmployee(ctx, f.admin, models.Employee{AccountID: 5, Login: "new+support@corp.kz"})
	require.NoError(t, err)
	assert.Equal(t, t0, e.CreatedAt)

	_, err = f.svc.AddEmployee(ctx, f.admin, models.Employee{AccountID: 6, Login: "new+support@corp.kz"})
	assert.ErrorIs(t, err, repository.ErrConflict)

	require.NoError(t, f.svc.SetAdmin(ctx, f.admin, 5, true))
	got, err := f.store.GetEmployee(ctx, 5)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)

	assert.True(t, shared.IsValidation(f.svc.DeleteEmployee(ctx, f.admin, staffID)))
	require.NoError(t, f.svc.DeleteEmployee(ctx, f.admin, 5))
	list, err := f.svc.ListEmployees(ctx, f.admin)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	st := f.svc.Settings()

	v, err := st.Get(ctx, KeyAckText)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings[KeyAckText], v)

	assert.True(t, shared.IsValidation(f.svc.UpdateSetting(ctx, f.admin, "nope", "x")))
	assert.True(t, shared.IsValidation(f.svc.UpdateSetting(ctx, f.admin, calendar.KeyWorkingHours, "20-10")))
	assert.True(t, shared.IsValidation(f.svc.UpdateSetting(ctx, f.admin, calendar.KeyTimezone, "Mars/Olympus")))
	require.NoError(t, f.svc.UpdateSetting(ctx, f.admin, calendar.KeyWorkingHours, "9-18"))
	require.NoError(t, f.svc.UpdateSetting(ctx, f.admin, KeyAckText, "Got it"))

	all, err := f.svc.ListSettings(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, "9-18", all[calendar.KeyWorkingHours])
	assert.Equal(t, "Got it", all[KeyAckText])
	assert.Equal(t, calendar.DefaultTimezone, all[calendar.KeyTimezone])
	assert.Contains(t, Keys(), KeyHolidayNotice)
}

func sign(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var lines []string
	for _, k := range keys {
		lines = append(lines, k+"="+fields[k])
	}
	secret := sha256.Sum256([]byte(token))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

func loginFields(accountID int64, at time.Time) map[string]string {
	fields := map[string]string{
		"id":         strconv.FormatInt(accountID, 10),
		"first_name": "Aigerim",
		"auth_date":  strconv.FormatInt(at.Unix(), 10),
	}
	fields["hash"] = sign(fields)
	return fields
}

func TestVerifyTelegramLogin(t *testing.T) {
	fields := loginFields(staffID, t0)
	id, err := VerifyTelegramLogin(token, fields, t0.Add(time.Minute), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, staffID, id)

	fields["last_name"] = ""
	_, err = VerifyTelegramLogin(token, fields, t0, time.Hour)
	assert.NoError(t, err, "empty fields are not signed")

	tampered := loginFields(staffID, t0)
	tampered["id"] = "1"
	_, err = VerifyTelegramLogin(token, tampered, t0, time.Hour)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = VerifyTelegramLogin(token, loginFields(staffID, t0), t0.Add(2*time.Hour), time.Hour)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = VerifyTelegramLogin("other:token", loginFields(staffID, t0), t0, time.Hour)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Login(ctx, loginFields(userID, t0))
	assert.ErrorIs(t, err, shared.ErrForbidden, "end users cannot open the console")

	sess, emp, err := f.svc.Login(ctx, loginFields(staffID, t0))
	require.NoError(t, err)
	assert.Equal(t, staffID, emp.AccountID)
	assert.Equal(t, t0.Add(DefaultSessionTTL), sess.ExpiresAt)

	f.clock.Advance(29 * 24 * time.Hour)
	got, err := f.svc.Authenticate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "agent@corp.kz", got.Login)

	// Sliding expiry: 29 more days are fine because the last request
	// pushed the deadline forward.
	f.clock.Advance(29 * 24 * time.Hour)
	_, err = f.svc.Authenticate(ctx, sess.Token)
	require.NoError(t, err)

	f.clock.Advance(31 * 24 * time.Hour)
	_, err = f.svc.Authenticate(ctx, sess.Token)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = f.svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)

	other, err := f.svc.OpenSession(ctx, staffID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Logout(ctx, other.Token))
	_, err = f.svc.Authenticate(ctx, other.Token)
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}
