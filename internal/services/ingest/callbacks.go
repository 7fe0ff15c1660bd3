package ingest

import (
	"context"
	"errors"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/services/rating"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

func (in *Ingester) handleCallback(ctx context.Context, u transport.Update) error {
	cb := u.Callback
	answer := ""
	defer func() {
		if err := in.Transport.AnswerCallback(ctx, cb.ID, answer); err != nil {
			in.logger.Printf("answer callback %s: %v", cb.ID, err)
		}
	}()

	if ticketID, value, ok := models.ParseRatingCallback(cb.Data); ok {
		err := in.Ratings.Submit(ctx, u.AccountID, ticketID, value)
		switch {
		case err == nil:
			answer = rating.ThanksText
		case shared.IsValidation(err), errors.Is(err, shared.ErrForbidden), errors.Is(err, repository.ErrNotFound):
			answer = rating.NotRateableText
		default:
			return err
		}
		return nil
	}

	if ticketID, ok := models.ParseHistoryCallback(cb.Data); ok {
		emp, err := in.Store.GetEmployee(ctx, u.AccountID)
		if err != nil || !emp.IsAdmin {
			answer = "Only support staff can do this."
			return nil
		}
		text, err := in.History.HistoryText(ctx, ticketID)
		if err != nil {
			return err
		}
		for _, part := range splitText(text, maxMessageRunes) {
			in.reply(ctx, u.AccountID, part)
		}
		return nil
	}

	in.logger.Printf("unknown callback %q from %d", cb.Data, u.AccountID)
	return nil
}

// maxMessageRunes stays under Telegram's 4096 character limit.
const maxMessageRunes = 4000

// splitText cuts text into chunks of at most max runes, preferring line
// breaks.
func splitText(text string, max int) []string {
	var parts []string
	runes := []rune(text)
	for len(runes) > max {
		cut := max
		for i := max; i > max/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
