package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
)

// Messages

func (s *MemoryStore) InsertMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.tickets[m.TicketID]; !ok {
		return fmt.Errorf("insert message: ticket %d: %w", m.TicketID, ErrNotFound)
	}
	s.st.nextMessage++
	m.ID = s.st.nextMessage
	for i := range m.Attachments {
		s.st.nextAttachment++
		m.Attachments[i].ID = s.st.nextAttachment
		m.Attachments[i].MessageID = m.ID
	}
	s.st.messages[m.ID] = cloneMessage(m)
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return cloneMessage(m), nil
}

func (s *MemoryStore) FindMessageByExternalID(ctx context.Context, ticketID, accountID, externalID int64) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Message
	for _, m := range s.st.messages {
		if m.TicketID != ticketID || m.AccountID != accountID || m.IsFromStaff || m.ExternalMessageID == nil || *m.ExternalMessageID != externalID {
			continue
		}
		if found == nil || m.ID < found.ID {
			found = m
		}
	}
	if found == nil {
		return nil, fmt.Errorf("message with external id %d: %w", externalID, ErrNotFound)
	}
	return cloneMessage(found), nil
}

func (s *MemoryStore) UpdateMessageText(ctx context.Context, id int64, text string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.messages[id]
	if !ok {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	m.Text = text
	m.Timestamp = at
	return nil
}

func (s *MemoryStore) SetExternalMessageID(ctx context.Context, id int64, externalID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.st.messages[id]
	if !ok {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	m.ExternalMessageID = &externalID
	return nil
}

func (s *MemoryStore) DeleteMessage(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.messages[id]; !ok {
		return fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	delete(s.st.messages, id)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, ticketID int64, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Message
	for _, m := range s.st.messages {
		if m.TicketID == ticketID {
			out = append(out, *cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) LatestInboundAt(ctx context.Context, ticketID, accountID int64) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for _, m := range s.st.messages {
		if m.TicketID != ticketID || m.AccountID != accountID || m.IsFromStaff {
			continue
		}
		if latest == nil || m.Timestamp.After(*latest) {
			ts := m.Timestamp
			latest = &ts
		}
	}
	return latest, nil
}

// Restrictions

func (s *MemoryStore) SetRestriction(ctx context.Context, r models.Restriction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Until = cloneTimePtr(r.Until)
	s.st.restrictions[restrictionKey{r.AccountID, r.Kind}] = r
	return nil
}

func (s *MemoryStore) ClearRestriction(ctx context.Context, accountID int64, kind models.RestrictionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.restrictions, restrictionKey{accountID, kind})
	return nil
}

func (s *MemoryStore) GetRestriction(ctx context.Context, accountID int64, kind models.RestrictionKind, now time.Time) (*models.Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := restrictionKey{accountID, kind}
	r, ok := s.st.restrictions[k]
	if !ok {
		return nil, nil
	}
	if !r.Active(now) {
		delete(s.st.restrictions, k)
		return nil, nil
	}
	return &r, nil
}

func (s *MemoryStore) ListRestrictions(ctx context.Context) ([]models.Restriction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Restriction, 0, len(s.st.restrictions))
	for _, r := range s.st.restrictions {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID < out[j].AccountID
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

func (s *MemoryStore) PurgeExpiredRestrictions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, r := range s.st.restrictions {
		if r.Until != nil && !now.Before(*r.Until) {
			delete(s.st.restrictions, k)
			n++
		}
	}
	return n, nil
}

// Settings

func (s *MemoryStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.st.settings[key]
	return v, ok, nil
}

func (s *MemoryStore) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.settings[key] = value
	return nil
}

func (s *MemoryStore) ListSettings(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.st.settings))
	for k, v := range s.st.settings {
		out[k] = v
	}
	return out, nil
}

// Quick replies

func (s *MemoryStore) ListQuickReplies(ctx context.Context) ([]models.QuickReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.QuickReply, 0, len(s.st.quickReplies))
	for _, q := range s.st.quickReplies {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateQuickReply(ctx context.Context, q *models.QuickReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nextQuickReply++
	q.ID = s.st.nextQuickReply
	s.st.quickReplies[q.ID] = *q
	return nil
}

func (s *MemoryStore) DeleteQuickReply(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.quickReplies[id]; !ok {
		return fmt.Errorf("quick reply %d: %w", id, ErrNotFound)
	}
	delete(s.st.quickReplies, id)
	return nil
}

// Ratings

func (s *MemoryStore) UpsertTicketRating(ctx context.Context, r models.TicketRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.tickets[r.TicketID]; !ok {
		return fmt.Errorf("rate ticket %d: %w", r.TicketID, ErrNotFound)
	}
	s.st.ticketRatings[r.TicketID] = r
	return nil
}

func (s *MemoryStore) UpsertEmployeeRating(ctx context.Context, r models.EmployeeRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.employeeRatings[employeeRatingKey{r.EmployeeAccountID, r.TicketID}] = r
	return nil
}

func (s *MemoryStore) GetTicketRating(ctx context.Context, ticketID int64) (*models.TicketRating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.st.ticketRatings[ticketID]
	if !ok {
		return nil, fmt.Errorf("rating for ticket %d: %w", ticketID, ErrNotFound)
	}
	return &r, nil
}

func (s *MemoryStore) DeleteRatingsForTicket(ctx context.Context, ticketID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.ticketRatings, ticketID)
	for k := range s.st.employeeRatings {
		if k.ticket == ticketID {
			delete(s.st.employeeRatings, k)
		}
	}
	return nil
}

func count(c *models.RatingCounts, v models.RatingValue) {
	switch v {
	case models.RatingUp:
		c.ThumbsUp++
	case models.RatingDown:
		c.ThumbsDown++
	}
}

func (s *MemoryStore) TicketRatingCounts(ctx context.Context) (models.RatingCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c models.RatingCounts
	for _, r := range s.st.ticketRatings {
		count(&c, r.Value)
	}
	return c, nil
}

func (s *MemoryStore) EmployeeRatingCounts(ctx context.Context, employeeAccountID int64) (models.RatingCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c models.RatingCounts
	for k, r := range s.st.employeeRatings {
		if k.employee == employeeAccountID {
			count(&c, r.Value)
		}
	}
	return c, nil
}

// Sessions

func (s *MemoryStore) CreateSession(ctx context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.sessions[sess.Token]; ok {
		return fmt.Errorf("create session: %w", ErrConflict)
	}
	s.st.sessions[sess.Token] = sess
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, token string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.st.sessions[token]
	if !ok {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	return &sess, nil
}

func (s *MemoryStore) TouchSession(ctx context.Context, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.st.sessions[token]
	if !ok {
		return fmt.Errorf("session: %w", ErrNotFound)
	}
	sess.ExpiresAt = expiresAt
	s.st.sessions[token] = sess
	return nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.st.sessions, token)
	return nil
}

func (s *MemoryStore) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, sess := range s.st.sessions {
		if sess.Expired(now) {
			delete(s.st.sessions, k)
			n++
		}
	}
	return n, nil
}

// Notes

func (s *MemoryStore) InsertTicketNote(ctx context.Context, n *models.TicketNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.tickets[n.TicketID]; !ok {
		return fmt.Errorf("insert note on ticket %d: %w", n.TicketID, ErrNotFound)
	}
	s.st.nextNote++
	n.ID = s.st.nextNote
	stored := *n
	stored.AuthorLogin = ""
	s.st.notes[n.ID] = stored
	return nil
}

func (s *MemoryStore) ListTicketNotes(ctx context.Context, ticketID int64) ([]models.TicketNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notes := []models.TicketNote{}
	for _, n := range s.st.notes {
		if n.TicketID != ticketID {
			continue
		}
		if e, ok := s.st.employees[n.AuthorAccountID]; ok {
			n.AuthorLogin = e.Login
		}
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool {
		if !notes[i].CreatedAt.Equal(notes[j].CreatedAt) {
			return notes[i].CreatedAt.Before(notes[j].CreatedAt)
		}
		return notes[i].ID < notes[j].ID
	})
	return notes, nil
}
