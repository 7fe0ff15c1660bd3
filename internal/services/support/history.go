package support

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// HistoryResult reports what a history fetch pulled in. FetchedTicketID is
// zero when there was nothing left.
type HistoryResult struct {
	FetchedTicketID int64 `json:"fetched_ticket_id,omitempty"`
	Messages        int   `json:"messages_count"`
}

// FetchHistory pulls the newest closed ticket of the same account that
// has not been shown in this open ticket yet and replays its messages to
// the consoles, each prefixed with its ticket number.
func (s *Service) FetchHistory(ctx context.Context, actor *models.Employee, ticketID int64) (HistoryResult, error) {
	if err := requireAdmin(actor); err != nil {
		return HistoryResult{}, err
	}
	t, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("fetch history for ticket %d: %w", ticketID, err)
	}
	if !t.IsOpen() {
		return HistoryResult{}, shared.NewValidationError("ticket_id", "ticket %d is closed", ticketID)
	}

	prev, err := s.store.FindUnfetchedClosedTicket(ctx, t.AccountID, t.ID)
	if errors.Is(err, repository.ErrNotFound) {
		s.events.Broadcast(realtime.EventNoMoreHistory, realtime.NoMoreHistory{TicketID: t.ID})
		return HistoryResult{}, nil
	}
	if err != nil {
		return HistoryResult{}, fmt.Errorf("fetch history for ticket %d: %w", ticketID, err)
	}

	msgs, err := s.store.ListMessages(ctx, prev.ID, 0)
	if err != nil {
		return HistoryResult{}, fmt.Errorf("list messages of ticket %d: %w", prev.ID, err)
	}
	if err := s.store.RecordHistoryFetch(ctx, t.ID, prev.ID, s.clock.Now()); err != nil {
		return HistoryResult{}, fmt.Errorf("record history fetch: %w", err)
	}

	logins := make(map[int64]string)
	for i := range msgs {
		m := msgs[i]
		author := m.AccountID
		if m.EmployeeAccountID != nil {
			author = *m.EmployeeAccountID
		}
		login, ok := logins[author]
		if !ok {
			login = s.loginOf(ctx, author)
			logins[author] = login
		}
		m.Text = fmt.Sprintf("[Ticket #%d] %s", prev.ID, m.Text)
		payload := realtime.NewMessageFrom(&m, login)
		payload.TicketID = t.ID
		payload.FromTicketID = prev.ID
		s.events.Broadcast(realtime.EventNewMessage, payload)
	}
	return HistoryResult{FetchedTicketID: prev.ID, Messages: len(msgs)}, nil
}

// HistoryText renders a ticket as plain text for a staff member's own
// chat.
func (s *Service) HistoryText(ctx context.Context, ticketID int64) (string, error) {
	msgs, err := s.store.ListMessages(ctx, ticketID, 0)
	if err != nil {
		return "", err
	}
	loc := s.location(ctx)
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket #%d history:\n", ticketID)
	if len(msgs) == 0 {
		b.WriteString("No messages.\n")
	}
	for _, m := range msgs {
		who := "user"
		if m.IsFromStaff {
			who = "support"
		}
		fmt.Fprintf(&b, "[%s] %s: %s", m.Timestamp.In(loc).Format("2006-01-02 15:04"), who, m.Text)
		for _, a := range m.Attachments {
			fmt.Fprintf(&b, " [File: %s]", a.FileName)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}
