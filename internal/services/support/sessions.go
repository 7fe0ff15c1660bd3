package support

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
	"github.com/gotrs-io/tg-helpdesk/internal/repository"
	"github.com/gotrs-io/tg-helpdesk/internal/shared"
)

// TelegramLoginHash signs widget fields the way Telegram does: every
// non-empty field except hash, sorted by key, joined as key=value lines and
// MACed with SHA256 of the bot token.
func TelegramLoginHash(botToken string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k, v := range fields {
		if k != "hash" && v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + fields[k]
	}

	secret := sha256.Sum256([]byte(botToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyTelegramLogin checks the signature of Telegram login widget data
// and returns the signed account id.
func VerifyTelegramLogin(botToken string, fields map[string]string, now time.Time, maxAge time.Duration) (int64, error) {
	if botToken == "" {
		return 0, errors.New("telegram login is not configured")
	}
	received := fields["hash"]
	if received == "" {
		return 0, fmt.Errorf("missing hash: %w", shared.ErrUnauthenticated)
	}

	expected := TelegramLoginHash(botToken, fields)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(received))) {
		return 0, fmt.Errorf("bad signature: %w", shared.ErrUnauthenticated)
	}

	if maxAge > 0 {
		ts, err := strconv.ParseInt(fields["auth_date"], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad auth_date: %w", shared.ErrUnauthenticated)
		}
		if now.Sub(time.Unix(ts, 0)) > maxAge {
			return 0, fmt.Errorf("login data expired: %w", shared.ErrUnauthenticated)
		}
	}

	id, err := strconv.ParseInt(fields["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("bad id: %w", shared.ErrUnauthenticated)
	}
	return id, nil
}

// Login verifies widget data and opens a session for an admin account.
func (s *Service) Login(ctx context.Context, fields map[string]string) (*models.Session, *models.Employee, error) {
	accountID, err := VerifyTelegramLogin(s.botToken, fields, s.clock.Now(), s.loginMaxAge)
	if err != nil {
		return nil, nil, err
	}
	emp, err := s.store.GetEmployee(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("account %d is not registered: %w", accountID, shared.ErrForbidden)
	}
	if err != nil {
		return nil, nil, err
	}
	if !emp.IsAdmin {
		return nil, nil, fmt.Errorf("account %d is not staff: %w", accountID, shared.ErrForbidden)
	}
	return s.openSession(ctx, emp)
}

// OpenSession creates a session for an employee without widget data. The
// CLI uses it to hand out console access.
func (s *Service) OpenSession(ctx context.Context, accountID int64) (*models.Session, error) {
	emp, err := s.store.GetEmployee(ctx, accountID)
	if err != nil {
		return nil, err
	}
	sess, _, err := s.openSession(ctx, emp)
	return sess, err
}

func (s *Service) openSession(ctx context.Context, emp *models.Employee) (*models.Session, *models.Employee, error) {
	sess := models.Session{
		Token:     strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", ""),
		AccountID: emp.AccountID,
		ExpiresAt: s.clock.Now().Add(s.sessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}
	return &sess, emp, nil
}

// Authenticate resolves a session token to an admin employee and slides
// the expiry forward.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Employee, error) {
	if token == "" {
		return nil, shared.ErrUnauthenticated
	}
	sess, err := s.store.GetSession(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, shared.ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if sess.Expired(now) {
		if err := s.store.DeleteSession(ctx, token); err != nil {
			s.logger.Printf("delete expired session: %v", err)
		}
		return nil, fmt.Errorf("session expired: %w", shared.ErrUnauthenticated)
	}
	emp, err := s.store.GetEmployee(ctx, sess.AccountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("account %d is gone: %w", sess.AccountID, shared.ErrForbidden)
	}
	if err != nil {
		return nil, err
	}
	if !emp.IsAdmin {
		return nil, shared.ErrForbidden
	}
	if err := s.store.TouchSession(ctx, token, now.Add(s.sessionTTL)); err != nil {
		return nil, err
	}
	return emp, nil
}

// Logout ends a session. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.store.DeleteSession(ctx, token); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return nil
}

// PurgeSessions removes expired sessions.
func (s *Service) PurgeSessions(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredSessions(ctx, s.clock.Now())
}

// SessionTTL is the sliding session lifetime.
func (s *Service) SessionTTL() time.Duration { return s.sessionTTL }
