package support

import (
	"context"
	"fmt"
	"strings"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// AddNote records an internal remark on a ticket and pushes it to every
// console. The end user is never told.
func (s *Service) AddNote(ctx context.Context, actor *models.Employee, ticketID int64, text string) (*models.TicketNote, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if !models.NoteTextValid(text) {
		return nil, shared.NewValidationError("text", "must be 1-%d characters", models.NoteTextMax)
	}
	if _, err := s.store.GetTicket(ctx, ticketID); err != nil {
		return nil, fmt.Errorf("note on ticket %d: %w", ticketID, err)
	}
	n := &models.TicketNote{
		TicketID:        ticketID,
		AuthorAccountID: actor.AccountID,
		Text:            text,
		CreatedAt:       s.clock.Now(),
	}
	if err := s.store.InsertTicketNote(ctx, n); err != nil {
		return nil, err
	}
	n.AuthorLogin = actor.Login
	s.events.Broadcast(realtime.EventNewNote, *n)
	return n, nil
}

func (s *Service) ListNotes(ctx context.Context, actor *models.Employee, ticketID int64) ([]models.TicketNote, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTicket(ctx, ticketID); err != nil {
		return nil, fmt.Errorf("notes of ticket %d: %w", ticketID, err)
	}
	return s.store.ListTicketNotes(ctx, ticketID)
}
