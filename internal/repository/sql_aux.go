package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
)

// Restrictions

func (s *SQLStore) SetRestriction(ctx context.Context, r models.Restriction) error {
	query := s.upsert("restrictions", []string{"account_id", "kind", "until_time"},
		[]string{"account_id", "kind"}, []string{"until_time"})
	if _, err := s.exec(ctx, query, r.AccountID, r.Kind, utcPtr(r.Until)); err != nil {
		return fmt.Errorf("set %s for %d: %w", r.Kind, r.AccountID, err)
	}
	return nil
}

func (s *SQLStore) ClearRestriction(ctx context.Context, accountID int64, kind models.RestrictionKind) error {
	if _, err := s.exec(ctx, `DELETE FROM restrictions WHERE account_id = ? AND kind = ?`, accountID, kind); err != nil {
		return fmt.Errorf("clear %s for %d: %w", kind, accountID, err)
	}
	return nil
}

// GetRestriction returns nil when the account is not restricted.
func (s *SQLStore) GetRestriction(ctx context.Context, accountID int64, kind models.RestrictionKind, now time.Time) (*models.Restriction, error) {
	var rs []models.Restriction
	if err := s.selectRows(ctx, &rs,
		`SELECT account_id, kind, until_time FROM restrictions WHERE account_id = ? AND kind = ?`,
		accountID, kind); err != nil {
		return nil, fmt.Errorf("get %s for %d: %w", kind, accountID, err)
	}
	if len(rs) == 0 {
		return nil, nil
	}
	r := rs[0]
	if !r.Active(now) {
		if err := s.ClearRestriction(ctx, accountID, kind); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &r, nil
}

func (s *SQLStore) ListRestrictions(ctx context.Context) ([]models.Restriction, error) {
	var rs []models.Restriction
	if err := s.selectRows(ctx, &rs, `SELECT account_id, kind, until_time FROM restrictions ORDER BY account_id, kind`); err != nil {
		return nil, fmt.Errorf("list restrictions: %w", err)
	}
	return rs, nil
}

func (s *SQLStore) PurgeExpiredRestrictions(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.execAffected(ctx, `DELETE FROM restrictions WHERE until_time IS NOT NULL AND until_time <= ?`, utc(now))
	if err != nil {
		return 0, fmt.Errorf("purge restrictions: %w", err)
	}
	return n, nil
}

// Settings

func (s *SQLStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var vals []string
	if err := s.selectRows(ctx, &vals, `SELECT value FROM settings WHERE name = ?`, key); err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	if len(vals) == 0 {
		return "", false, nil
	}
	return vals[0], true, nil
}

func (s *SQLStore) SetSetting(ctx context.Context, key, value string) error {
	query := s.upsert("settings", []string{"name", "value"}, []string{"name"}, []string{"value"})
	if _, err := s.exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) ListSettings(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Name  string `db:"name"`
		Value string `db:"value"`
	}
	if err := s.selectRows(ctx, &rows, `SELECT name, value FROM settings`); err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Value
	}
	return out, nil
}

// Quick replies

func (s *SQLStore) ListQuickReplies(ctx context.Context) ([]models.QuickReply, error) {
	var out []models.QuickReply
	if err := s.selectRows(ctx, &out, `SELECT id, title, text, color FROM quick_replies ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list quick replies: %w", err)
	}
	return out, nil
}

func (s *SQLStore) CreateQuickReply(ctx context.Context, q *models.QuickReply) error {
	id, err := s.insert(ctx, `INSERT INTO quick_replies (title, text, color) VALUES (?, ?, ?)`, q.Title, q.Text, q.Color)
	if err != nil {
		return fmt.Errorf("create quick reply: %w", err)
	}
	q.ID = id
	return nil
}

func (s *SQLStore) DeleteQuickReply(ctx context.Context, id int64) error {
	return s.execOne(ctx, "quick reply", id, `DELETE FROM quick_replies WHERE id = ?`, id)
}

// Notes

func (s *SQLStore) InsertTicketNote(ctx context.Context, n *models.TicketNote) error {
	id, err := s.insert(ctx,
		`INSERT INTO ticket_notes (ticket_id, author_account_id, text, created_at) VALUES (?, ?, ?, ?)`,
		n.TicketID, n.AuthorAccountID, n.Text, utc(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert note on ticket %d: %w", n.TicketID, err)
	}
	n.ID = id
	return nil
}

func (s *SQLStore) ListTicketNotes(ctx context.Context, ticketID int64) ([]models.TicketNote, error) {
	notes := []models.TicketNote{}
	if err := s.selectRows(ctx, &notes,
		`SELECT n.id, n.ticket_id, n.author_account_id, COALESCE(e.login, '') AS login, n.text, n.created_at
		FROM ticket_notes n LEFT JOIN employees e ON e.account_id = n.author_account_id
		WHERE n.ticket_id = ? ORDER BY n.created_at, n.id`, ticketID); err != nil {
		return nil, fmt.Errorf("list notes of ticket %d: %w", ticketID, err)
	}
	return notes, nil
}

// Ratings

func (s *SQLStore) UpsertTicketRating(ctx context.Context, r models.TicketRating) error {
	query := s.upsert("ticket_ratings", []string{"ticket_id", "account_id", "rating", "created_at"},
		[]string{"ticket_id"}, []string{"account_id", "rating", "created_at"})
	if _, err := s.exec(ctx, query, r.TicketID, r.AccountID, r.Value, utc(r.CreatedAt)); err != nil {
		return fmt.Errorf("rate ticket %d: %w", r.TicketID, err)
	}
	return nil
}

func (s *SQLStore) UpsertEmployeeRating(ctx context.Context, r models.EmployeeRating) error {
	query := s.upsert("employee_ratings", []string{"employee_account_id", "ticket_id", "rating", "created_at"},
		[]string{"employee_account_id", "ticket_id"}, []string{"rating", "created_at"})
	if _, err := s.exec(ctx, query, r.EmployeeAccountID, r.TicketID, r.Value, utc(r.CreatedAt)); err != nil {
		return fmt.Errorf("rate employee %d: %w", r.EmployeeAccountID, err)
	}
	return nil
}

func (s *SQLStore) GetTicketRating(ctx context.Context, ticketID int64) (*models.TicketRating, error) {
	var r models.TicketRating
	if err := s.get(ctx, &r, `SELECT ticket_id, account_id, rating, created_at FROM ticket_ratings WHERE ticket_id = ?`, ticketID); err != nil {
		return nil, notFound(err, "rating for ticket", ticketID)
	}
	return &r, nil
}

func (s *SQLStore) DeleteRatingsForTicket(ctx context.Context, ticketID int64) error {
	if _, err := s.exec(ctx, `DELETE FROM ticket_ratings WHERE ticket_id = ?`, ticketID); err != nil {
		return fmt.Errorf("purge ticket ratings %d: %w", ticketID, err)
	}
	if _, err := s.exec(ctx, `DELETE FROM employee_ratings WHERE ticket_id = ?`, ticketID); err != nil {
		return fmt.Errorf("purge employee ratings %d: %w", ticketID, err)
	}
	return nil
}

const countsSelect = `SELECT
	COALESCE(SUM(CASE WHEN rating = 'up' THEN 1 ELSE 0 END), 0) AS thumbs_up,
	COALESCE(SUM(CASE WHEN rating = 'down' THEN 1 ELSE 0 END), 0) AS thumbs_down`

func (s *SQLStore) TicketRatingCounts(ctx context.Context) (models.RatingCounts, error) {
	var c models.RatingCounts
	if err := s.get(ctx, &c, countsSelect+` FROM ticket_ratings`); err != nil {
		return c, fmt.Errorf("ticket rating counts: %w", err)
	}
	return c, nil
}

func (s *SQLStore) EmployeeRatingCounts(ctx context.Context, employeeAccountID int64) (models.RatingCounts, error) {
	var c models.RatingCounts
	if err := s.get(ctx, &c, countsSelect+` FROM employee_ratings WHERE employee_account_id = ?`, employeeAccountID); err != nil {
		return c, fmt.Errorf("employee rating counts %d: %w", employeeAccountID, err)
	}
	return c, nil
}

// Sessions

func (s *SQLStore) CreateSession(ctx context.Context, sess models.Session) error {
	if _, err := s.exec(ctx, `INSERT INTO sessions (token, account_id, expires_at) VALUES (?, ?, ?)`,
		sess.Token, sess.AccountID, utc(sess.ExpiresAt)); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, token string) (*models.Session, error) {
	var sess models.Session
	if err := s.get(ctx, &sess, `SELECT token, account_id, expires_at FROM sessions WHERE token = ?`, token); err != nil {
		return nil, notFound(err, "session", "")
	}
	return &sess, nil
}

func (s *SQLStore) TouchSession(ctx context.Context, token string, expiresAt time.Time) error {
	return s.execOne(ctx, "session", "", `UPDATE sessions SET expires_at = ? WHERE token = ?`, utc(expiresAt), token)
}

func (s *SQLStore) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.exec(ctx, `DELETE FROM sessions WHERE token = ?`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLStore) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.execAffected(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, utc(now))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return n, nil
}
