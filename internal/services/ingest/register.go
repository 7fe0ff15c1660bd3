package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/services/support"
	"github.com/gotrs-io/tg-helpdesk/internal/transport"
)

// registered returns the sender's employee record. For unknown senders it
// runs the /start registration dialogue and returns nil.
func (in *Ingester) registered(ctx context.Context, u transport.Update) (*models.Employee, error) {
	emp, err := in.Store.GetEmployee(ctx, u.AccountID)
	if err == nil {
		in.mu.Lock()
		delete(in.awaiting, u.AccountID)
		in.mu.Unlock()
		return emp, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("look up account %d: %w", u.AccountID, err)
	}

	if u.Command == "start" {
		in.mu.Lock()
		in.awaiting[u.AccountID] = true
		in.mu.Unlock()
		in.reply(ctx, u.AccountID, StartPrompt)
		return nil, nil
	}

	in.mu.Lock()
	waiting := in.awaiting[u.AccountID]
	in.mu.Unlock()
	if !waiting || u.Edited || u.Command != "" {
		in.reply(ctx, u.AccountID, NotRegisteredText)
		return nil, nil
	}
	return nil, in.register(ctx, u.AccountID, u.Text)
}

// SelfRegistrationAllowed reports whether an end user may claim login.
// '+' addresses are reserved for accounts staff create.
func SelfRegistrationAllowed(login string) bool {
	return support.ValidLogin(login) && !strings.Contains(login, "+")
}

func (in *Ingester) register(ctx context.Context, accountID int64, raw string) error {
	login := strings.TrimSpace(raw)
	if !SelfRegistrationAllowed(login) {
		in.reply(ctx, accountID, LoginInvalidText)
		return nil
	}
	_, err := in.Store.GetEmployeeByLogin(ctx, login)
	if err == nil {
		in.reply(ctx, accountID, LoginTakenText)
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("check login %q: %w", login, err)
	}

	emp := &models.Employee{AccountID: accountID, Login: login, CreatedAt: in.clock.Now()}
	if err := in.Store.CreateEmployee(ctx, emp); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			in.reply(ctx, accountID, LoginTakenText)
			return nil
		}
		return fmt.Errorf("register %d: %w", accountID, err)
	}
	in.mu.Lock()
	delete(in.awaiting, accountID)
	in.mu.Unlock()
	in.logger.Printf("account %d registered as %s", accountID, login)
	in.reply(ctx, accountID, fmt.Sprintf(RegisteredText, login))
	return nil
}
