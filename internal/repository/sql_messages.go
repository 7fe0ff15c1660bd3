package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
)

const messageColumns = "id, ticket_id, account_id, employee_account_id, text, is_from_staff, timestamp, external_message_id"

// InsertMessage implements MessageStore.
func (s *SQLStore) InsertMessage(ctx context.Context, m *models.Message) error {
	return s.InTx(ctx, func(st Store) error {
		tx := st.(*SQLStore)
		id, err := tx.insert(ctx,
			`INSERT INTO messages (ticket_id, account_id, employee_account_id, text, is_from_staff, timestamp, external_message_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.TicketID, m.AccountID, m.EmployeeAccountID, m.Text, m.IsFromStaff, utc(m.Timestamp), m.ExternalMessageID)
		if err != nil {
			return fmt.Errorf("insert message for ticket %d: %w", m.TicketID, err)
		}
		m.ID = id
		for i := range m.Attachments {
			a := &m.Attachments[i]
			a.MessageID = id
			aid, err := tx.insert(ctx,
				`INSERT INTO attachments (message_id, file_path, file_name, file_type) VALUES (?, ?, ?, ?)`,
				id, a.FilePath, a.FileName, a.FileType)
			if err != nil {
				return fmt.Errorf("insert attachment %s: %w", a.FileName, err)
			}
			a.ID = aid
		}
		return nil
	})
}

func (s *SQLStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	var m models.Message
	if err := s.get(ctx, &m, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "message", id)
	}
	msgs := []models.Message{m}
	if err := s.attach(ctx, msgs); err != nil {
		return nil, err
	}
	return &msgs[0], nil
}

func (s *SQLStore) FindMessageByExternalID(ctx context.Context, ticketID, accountID, externalID int64) (*models.Message, error) {
	var m models.Message
	err := s.get(ctx, &m,
		`SELECT `+messageColumns+` FROM messages
		WHERE ticket_id = ? AND account_id = ? AND external_message_id = ? AND is_from_staff = ?
		ORDER BY id LIMIT 1`,
		ticketID, accountID, externalID, false)
	if err != nil {
		return nil, notFound(err, "message with external id", externalID)
	}
	return &m, nil
}

func (s *SQLStore) UpdateMessageText(ctx context.Context, id int64, text string, at time.Time) error {
	return s.execOne(ctx, "message", id, `UPDATE messages SET text = ?, timestamp = ? WHERE id = ?`, text, utc(at), id)
}

func (s *SQLStore) SetExternalMessageID(ctx context.Context, id int64, externalID int64) error {
	return s.execOne(ctx, "message", id, `UPDATE messages SET external_message_id = ? WHERE id = ?`, externalID, id)
}

func (s *SQLStore) DeleteMessage(ctx context.Context, id int64) error {
	return s.InTx(ctx, func(st Store) error {
		tx := st.(*SQLStore)
		if _, err := tx.exec(ctx, `DELETE FROM attachments WHERE message_id = ?`, id); err != nil {
			return fmt.Errorf("delete attachments of %d: %w", id, err)
		}
		return tx.execOne(ctx, "message", id, `DELETE FROM messages WHERE id = ?`, id)
	})
}

func (s *SQLStore) ListMessages(ctx context.Context, ticketID int64, limit int) ([]models.Message, error) {
	var out []models.Message
	var err error
	if limit > 0 {
		err = s.selectRows(ctx, &out,
			`SELECT `+messageColumns+` FROM messages WHERE ticket_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
			ticketID, limit)
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	} else {
		err = s.selectRows(ctx, &out,
			`SELECT `+messageColumns+` FROM messages WHERE ticket_id = ? ORDER BY timestamp, id`, ticketID)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages of ticket %d: %w", ticketID, err)
	}
	if err := s.attach(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) LatestInboundAt(ctx context.Context, ticketID, accountID int64) (*time.Time, error) {
	var ts []time.Time
	err := s.selectRows(ctx, &ts,
		`SELECT timestamp FROM messages WHERE ticket_id = ? AND account_id = ? AND is_from_staff = ?
		ORDER BY timestamp DESC LIMIT 1`,
		ticketID, accountID, false)
	if err != nil {
		return nil, fmt.Errorf("latest inbound of ticket %d: %w", ticketID, err)
	}
	if len(ts) == 0 {
		return nil, nil
	}
	return &ts[0], nil
}

// attach loads the attachments of msgs in one query.
func (s *SQLStore) attach(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]int64, len(msgs))
	index := make(map[int64]int, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		index[m.ID] = i
	}
	query, args, err := sqlx.In(
		`SELECT id, message_id, file_path, file_name, file_type FROM attachments WHERE message_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return fmt.Errorf("build attachment query: %w", err)
	}
	var atts []models.Attachment
	if err := s.selectRows(ctx, &atts, query, args...); err != nil {
		return fmt.Errorf("load attachments: %w", err)
	}
	for _, a := range atts {
		i := index[a.MessageID]
		msgs[i].Attachments = append(msgs[i].Attachments, a)
	}
	return nil
}
