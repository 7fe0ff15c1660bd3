package support

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/realtime"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// Quick replies

func (s *Service) ListQuickReplies(ctx context.Context, actor *models.Employee) ([]models.QuickReply, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.ListQuickReplies(ctx)
}

func (s *Service) AddQuickReply(ctx context.Context, actor *models.Employee, q models.QuickReply) (*models.QuickReply, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	q.Title = strings.TrimSpace(q.Title)
	q.Text = strings.TrimSpace(q.Text)
	if err := q.Validate(); err != nil {
		return nil, shared.NewValidationError("quick_reply", "%v", err)
	}
	if err := s.store.CreateQuickReply(ctx, &q); err != nil {
		return nil, fmt.Errorf("add quick reply: %w", err)
	}
	s.events.Broadcast(realtime.EventQuickReplyAdded, q)
	return &q, nil
}

func (s *Service) DeleteQuickReply(ctx context.Context, actor *models.Employee, id int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.store.DeleteQuickReply(ctx, id); err != nil {
		return fmt.Errorf("delete quick reply: %w", err)
	}
	s.events.Broadcast(realtime.EventQuickReplyDeleted, realtime.QuickReplyDeleted{ID: id})
	return nil
}

// Restrictions

// Mute silences an account for minutes. Muted accounts get a notice
// instead of a ticket.
func (s *Service) Mute(ctx context.Context, actor *models.Employee, accountID int64, minutes int) (*models.Restriction, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if minutes <= 0 {
		return nil, shared.NewValidationError("minutes", "must be positive")
	}
	until := s.clock.Now().Add(time.Duration(minutes) * time.Minute)
	r := models.Restriction{AccountID: accountID, Kind: models.RestrictionMute, Until: &until}
	if err := s.store.SetRestriction(ctx, r); err != nil {
		return nil, fmt.Errorf("mute %d: %w", accountID, err)
	}
	s.logger.Printf("account %d muted until %s by %s", accountID, until.Format(time.RFC3339), actor.Login)
	return &r, nil
}

// Ban drops everything from an account. minutes <= 0 bans permanently.
func (s *Service) Ban(ctx context.Context, actor *models.Employee, accountID int64, minutes int) (*models.Restriction, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	r := models.Restriction{AccountID: accountID, Kind: models.RestrictionBan}
	if minutes > 0 {
		until := s.clock.Now().Add(time.Duration(minutes) * time.Minute)
		r.Until = &until
	}
	if err := s.store.SetRestriction(ctx, r); err != nil {
		return nil, fmt.Errorf("ban %d: %w", accountID, err)
	}
	s.logger.Printf("account %d banned by %s", accountID, actor.Login)
	return &r, nil
}

func (s *Service) Unmute(ctx context.Context, actor *models.Employee, accountID int64) error {
	return s.lift(ctx, actor, accountID, models.RestrictionMute)
}

func (s *Service) Unban(ctx context.Context, actor *models.Employee, accountID int64) error {
	return s.lift(ctx, actor, accountID, models.RestrictionBan)
}

func (s *Service) lift(ctx context.Context, actor *models.Employee, accountID int64, kind models.RestrictionKind) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.store.ClearRestriction(ctx, accountID, kind); err != nil {
		return fmt.Errorf("lift %s of %d: %w", kind, accountID, err)
	}
	return nil
}

// ListRestrictions returns the restrictions still in force.
func (s *Service) ListRestrictions(ctx context.Context, actor *models.Employee) ([]models.Restriction, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	all, err := s.store.ListRestrictions(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	active := all[:0]
	for _, r := range all {
		if r.Active(now) {
			active = append(active, r)
		}
	}
	return active, nil
}

// Employees

var loginPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// ValidLogin reports whether login looks like a work email address.
func ValidLogin(login string) bool {
	return loginPattern.MatchString(login)
}

func (s *Service) ListEmployees(ctx context.Context, actor *models.Employee) ([]models.Employee, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.store.ListEmployees(ctx)
}

// AddEmployee registers an account. Staff may use logins with '+', which
// self-registration rejects.
func (s *Service) AddEmployee(ctx context.Context, actor *models.Employee, e models.Employee) (*models.Employee, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	e.Login = strings.TrimSpace(e.Login)
	if !ValidLogin(e.Login) {
		return nil, shared.NewValidationError("login", "%q is not a valid login", e.Login)
	}
	if e.AccountID <= 0 {
		return nil, shared.NewValidationError("account_id", "must be positive")
	}
	e.CreatedAt = s.clock.Now()
	if err := s.store.CreateEmployee(ctx, &e); err != nil {
		return nil, fmt.Errorf("add employee: %w", err)
	}
	s.logger.Printf("employee %s (%d) added by %s", e.Login, e.AccountID, actor.Login)
	return &e, nil
}

// DeleteEmployee removes an account. Admins cannot delete themselves.
func (s *Service) DeleteEmployee(ctx context.Context, actor *models.Employee, accountID int64) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if accountID == actor.AccountID {
		return shared.NewValidationError("account_id", "cannot delete yourself")
	}
	if err := s.store.DeleteEmployee(ctx, accountID); err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	return nil
}

func (s *Service) SetAdmin(ctx context.Context, actor *models.Employee, accountID int64, isAdmin bool) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if accountID == actor.AccountID && !isAdmin {
		return shared.NewValidationError("account_id", "cannot demote yourself")
	}
	if err := s.store.SetEmployeeAdmin(ctx, accountID, isAdmin); err != nil {
		return fmt.Errorf("set admin flag: %w", err)
	}
	return nil
}

// Settings

func (s *Service) ListSettings(ctx context.Context, actor *models.Employee) (map[string]string, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.settings.All(ctx)
}

func (s *Service) UpdateSetting(ctx context.Context, actor *models.Employee, key, value string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	return s.settings.Set(ctx, key, value)
}
