package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
)

const ticketColumns = `id, account_id, status, assigned_to, created_at, closed_at, issue_type,
	auto_close_enabled, auto_close_deadline, auto_close_armed_at, notification_enabled, recently_reopened`

func (s *SQLStore) getTicket(ctx context.Context, what interface{}, query string, args ...interface{}) (*models.Ticket, error) {
	var t models.Ticket
	if err := s.get(ctx, &t, `SELECT `+ticketColumns+` FROM tickets `+query, args...); err != nil {
		return nil, notFound(err, "ticket", what)
	}
	return &t, nil
}

func (s *SQLStore) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	return s.getTicket(ctx, id, `WHERE id = ?`, id)
}

func (s *SQLStore) FindOpenTicket(ctx context.Context, accountID int64) (*models.Ticket, error) {
	return s.getTicket(ctx, fmt.Sprintf("open for account %d", accountID),
		`WHERE account_id = ? AND status = ?`, accountID, models.TicketOpen)
}

func (s *SQLStore) FindReopenableTicket(ctx context.Context, accountID int64, since time.Time) (*models.Ticket, error) {
	return s.getTicket(ctx, fmt.Sprintf("reopenable for account %d", accountID),
		`WHERE account_id = ? AND status = ? AND closed_at IS NOT NULL AND closed_at >= ?
		ORDER BY closed_at DESC, id DESC LIMIT 1`,
		accountID, models.TicketClosed, utc(since))
}

// InsertTicket implements TicketStore. A second open ticket for the same
// account is rejected by the unique index with ErrConflict.
func (s *SQLStore) InsertTicket(ctx context.Context, t *models.Ticket) error {
	if t.Status == "" {
		t.Status = models.TicketOpen
	}
	var issue *string
	if t.IssueType != nil {
		v := string(*t.IssueType)
		issue = &v
	}
	id, err := s.insert(ctx,
		`INSERT INTO tickets (account_id, status, assigned_to, created_at, closed_at, issue_type,
			auto_close_enabled, notification_enabled, recently_reopened)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.AccountID, t.Status, t.AssignedTo, utc(t.CreatedAt), utcPtr(t.ClosedAt), issue,
		false, t.NotificationEnabled, false)
	if err != nil {
		return fmt.Errorf("insert ticket for account %d: %w", t.AccountID, err)
	}
	t.ID = id
	return nil
}

func (s *SQLStore) ReopenTicket(ctx context.Context, id int64) error {
	return s.execOne(ctx, "closed ticket", id,
		`UPDATE tickets SET status = ?, closed_at = NULL, recently_reopened = ? WHERE id = ? AND status = ?`,
		models.TicketOpen, true, id, models.TicketClosed)
}

func (s *SQLStore) CloseTicket(ctx context.Context, id int64, at time.Time) (bool, error) {
	n, err := s.execAffected(ctx,
		`UPDATE tickets SET status = ?, closed_at = ?, recently_reopened = ?,
			auto_close_enabled = ?, auto_close_deadline = NULL, auto_close_armed_at = NULL
		WHERE id = ? AND status = ?`,
		models.TicketClosed, utc(at), false, false, id, models.TicketOpen)
	if err != nil {
		return false, fmt.Errorf("close ticket %d: %w", id, err)
	}
	if n == 0 {
		if _, err := s.GetTicket(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLStore) AssignTicket(ctx context.Context, id int64, accountID *int64) error {
	return s.execOne(ctx, "ticket", id, `UPDATE tickets SET assigned_to = ? WHERE id = ?`, accountID, id)
}

func (s *SQLStore) ClaimTicket(ctx context.Context, id int64, accountID int64) (bool, error) {
	n, err := s.execAffected(ctx,
		`UPDATE tickets SET assigned_to = ? WHERE id = ? AND assigned_to IS NULL`, accountID, id)
	if err != nil {
		return false, fmt.Errorf("claim ticket %d: %w", id, err)
	}
	if n == 0 {
		if _, err := s.GetTicket(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *SQLStore) SetIssueType(ctx context.Context, id int64, it *models.IssueType) error {
	var v *string
	if it != nil {
		str := string(*it)
		v = &str
	}
	return s.execOne(ctx, "ticket", id, `UPDATE tickets SET issue_type = ? WHERE id = ?`, v, id)
}

func (s *SQLStore) SetAutoClose(ctx context.Context, id int64, enabled bool, deadline, armedAt *time.Time) error {
	return s.execOne(ctx, "ticket", id,
		`UPDATE tickets SET auto_close_enabled = ?, auto_close_deadline = ?, auto_close_armed_at = ? WHERE id = ?`,
		enabled, utcPtr(deadline), utcPtr(armedAt), id)
}

func (s *SQLStore) SetNotification(ctx context.Context, id int64, enabled bool) error {
	return s.execOne(ctx, "ticket", id, `UPDATE tickets SET notification_enabled = ? WHERE id = ?`, enabled, id)
}

func (s *SQLStore) ConsumeReopenMarker(ctx context.Context, id int64) (bool, error) {
	n, err := s.execAffected(ctx,
		`UPDATE tickets SET recently_reopened = ? WHERE id = ? AND recently_reopened = ?`, false, id, true)
	if err != nil {
		return false, fmt.Errorf("consume reopen marker %d: %w", id, err)
	}
	return n > 0, nil
}

// ListTickets returns console rows ordered by latest activity.
func (s *SQLStore) ListTickets(ctx context.Context, f TicketFilter) ([]models.TicketSummary, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, f.Status)
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		where = append(where, "EXISTS (SELECT 1 FROM messages s WHERE s.ticket_id = t.id AND LOWER(s.text) LIKE ?)")
		args = append(args, "%"+strings.ToLower(q)+"%")
	}
	query := `SELECT t.id AS ticket_id, t.account_id, COALESCE(u.login, '') AS login, t.status,
			t.issue_type, t.assigned_to, a.login AS assigned_login,
			m.text AS last_message, m.timestamp AS last_message_timestamp
		FROM tickets t
		LEFT JOIN employees u ON u.account_id = t.account_id
		LEFT JOIN employees a ON a.account_id = t.assigned_to
		LEFT JOIN messages m ON m.id = (SELECT MAX(id) FROM messages WHERE ticket_id = t.id)`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY COALESCE(m.timestamp, t.created_at) DESC, t.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	var out []models.TicketSummary
	if err := s.selectRows(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return out, nil
}

func (s *SQLStore) ListArmedTickets(ctx context.Context) ([]models.Ticket, error) {
	var out []models.Ticket
	err := s.selectRows(ctx, &out,
		`SELECT `+ticketColumns+` FROM tickets WHERE status = ? AND auto_close_enabled = ? AND auto_close_deadline IS NOT NULL ORDER BY auto_close_deadline`,
		models.TicketOpen, true)
	if err != nil {
		return nil, fmt.Errorf("list armed tickets: %w", err)
	}
	return out, nil
}

// DeleteClosedTicketsBefore removes closed tickets created before the cutoff
// together with their messages, attachments and ratings. It returns the number
// of tickets removed and the attachment files that are now orphaned.
func (s *SQLStore) DeleteClosedTicketsBefore(ctx context.Context, before time.Time) (int64, []string, error) {
	var (
		deleted int64
		files   []string
	)
	err := s.InTx(ctx, func(st Store) error {
		tx := st.(*SQLStore)
		cutoff := utc(before)
		scope := `SELECT id FROM tickets WHERE status = ? AND created_at < ?`
		if err := tx.selectRows(ctx, &files,
			`SELECT a.file_path FROM attachments a JOIN messages m ON m.id = a.message_id
			WHERE m.ticket_id IN (`+scope+`)`, models.TicketClosed, cutoff); err != nil {
			return fmt.Errorf("collect attachments: %w", err)
		}
		stmts := []string{
			`DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE ticket_id IN (` + scope + `))`,
			`DELETE FROM messages WHERE ticket_id IN (` + scope + `)`,
			`DELETE FROM ticket_ratings WHERE ticket_id IN (` + scope + `)`,
			`DELETE FROM employee_ratings WHERE ticket_id IN (` + scope + `)`,
			`DELETE FROM history_fetched WHERE current_ticket_id IN (` + scope + `) OR fetched_ticket_id IN (` + scope + `)`,
			`DELETE FROM ticket_notes WHERE ticket_id IN (` + scope + `)`,
		}
		for _, stmt := range stmts {
			args := []interface{}{models.TicketClosed, cutoff}
			if strings.Count(stmt, "?") == 4 {
				args = append(args, models.TicketClosed, cutoff)
			}
			if _, err := tx.exec(ctx, stmt, args...); err != nil {
				return fmt.Errorf("cleanup: %w", err)
			}
		}
		n, err := tx.execAffected(ctx, `DELETE FROM tickets WHERE status = ? AND created_at < ?`, models.TicketClosed, cutoff)
		if err != nil {
			return fmt.Errorf("delete tickets: %w", err)
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return deleted, files, nil
}

func (s *SQLStore) FindUnfetchedClosedTicket(ctx context.Context, accountID, currentTicketID int64) (*models.Ticket, error) {
	return s.getTicket(ctx, fmt.Sprintf("history for %d", currentTicketID),
		`WHERE account_id = ? AND status = ? AND id <> ?
			AND NOT EXISTS (SELECT 1 FROM history_fetched h WHERE h.current_ticket_id = ? AND h.fetched_ticket_id = tickets.id)
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		accountID, models.TicketClosed, currentTicketID, currentTicketID)
}

func (s *SQLStore) RecordHistoryFetch(ctx context.Context, currentTicketID, fetchedTicketID int64, at time.Time) error {
	_, err := s.exec(ctx,
		`INSERT INTO history_fetched (current_ticket_id, fetched_ticket_id, fetched_at) VALUES (?, ?, ?)`,
		currentTicketID, fetchedTicketID, utc(at))
	if err != nil {
		return fmt.Errorf("record history fetch %d<-%d: %w", currentTicketID, fetchedTicketID, err)
	}
	return nil
}
