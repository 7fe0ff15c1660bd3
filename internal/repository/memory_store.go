package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gotrs-io/tg-helpdesk/internal/models"
)

type restrictionKey struct {
	accountID int64
	kind      models.RestrictionKind
}

type employeeRatingKey struct {
	employee int64
	ticket   int64
}

type historyKey struct {
	current int64
	fetched int64
}

type memoryState struct {
	employees       map[int64]models.Employee
	tickets         map[int64]*models.Ticket
	messages        map[int64]*models.Message
	restrictions    map[restrictionKey]models.Restriction
	settings        map[string]string
	quickReplies    map[int64]models.QuickReply
	ticketRatings   map[int64]models.TicketRating
	employeeRatings map[employeeRatingKey]models.EmployeeRating
	sessions        map[string]models.Session
	history         map[historyKey]time.Time
	notes           map[int64]models.TicketNote

	nextEmployee, nextTicket, nextMessage, nextAttachment, nextQuickReply, nextNote int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		employees:       make(map[int64]models.Employee),
		tickets:         make(map[int64]*models.Ticket),
		messages:        make(map[int64]*models.Message),
		restrictions:    make(map[restrictionKey]models.Restriction),
		settings:        make(map[string]string),
		quickReplies:    make(map[int64]models.QuickReply),
		ticketRatings:   make(map[int64]models.TicketRating),
		employeeRatings: make(map[employeeRatingKey]models.EmployeeRating),
		sessions:        make(map[string]models.Session),
		history:         make(map[historyKey]time.Time),
		notes:           make(map[int64]models.TicketNote),
	}
}

func (st *memoryState) clone() *memoryState {
	c := newMemoryState()
	for k, v := range st.employees {
		c.employees[k] = v
	}
	for k, v := range st.tickets {
		c.tickets[k] = v.Clone()
	}
	for k, v := range st.messages {
		c.messages[k] = cloneMessage(v)
	}
	for k, v := range st.restrictions {
		c.restrictions[k] = v
	}
	for k, v := range st.settings {
		c.settings[k] = v
	}
	for k, v := range st.quickReplies {
		c.quickReplies[k] = v
	}
	for k, v := range st.ticketRatings {
		c.ticketRatings[k] = v
	}
	for k, v := range st.employeeRatings {
		c.employeeRatings[k] = v
	}
	for k, v := range st.sessions {
		c.sessions[k] = v
	}
	for k, v := range st.history {
		c.history[k] = v
	}
	for k, v := range st.notes {
		c.notes[k] = v
	}
	c.nextEmployee, c.nextTicket, c.nextMessage = st.nextEmployee, st.nextTicket, st.nextMessage
	c.nextAttachment, c.nextQuickReply, c.nextNote = st.nextAttachment, st.nextQuickReply, st.nextNote
	return c
}

func cloneMessage(m *models.Message) *models.Message {
	c := *m
	if m.EmployeeAccountID != nil {
		v := *m.EmployeeAccountID
		c.EmployeeAccountID = &v
	}
	if m.ExternalMessageID != nil {
		v := *m.ExternalMessageID
		c.ExternalMessageID = &v
	}
	c.Attachments = append([]models.Attachment(nil), m.Attachments...)
	return &c
}

// MemoryStore implements Store in process memory. It enforces the same
// uniqueness rules as the SQL schema and is used by tests and the
// in-memory storage mode.
type MemoryStore struct {
	mu   sync.Mutex
	txMu sync.Mutex
	st   *memoryState
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemoryState()}
}

// memoryTx is the view handed to InTx callbacks; it shares state with the
// parent but never re-enters the transaction lock.
type memoryTx struct {
	*MemoryStore
}

func (t memoryTx) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

// InTx serializes transactions and restores a snapshot when fn fails. Writes
// made outside InTx while a transaction is running are lost on rollback.
func (s *MemoryStore) InTx(ctx context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(memoryTx{s}); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Employees

func (s *MemoryStore) CreateEmployee(ctx context.Context, e *models.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ex := range s.st.employees {
		if ex.AccountID == e.AccountID || ex.Login == e.Login {
			return fmt.Errorf("create employee %s: %w", e.Login, ErrConflict)
		}
	}
	s.st.nextEmployee++
	e.ID = s.st.nextEmployee
	s.st.employees[e.AccountID] = *e
	return nil
}

func (s *MemoryStore) GetEmployee(ctx context.Context, accountID int64) (*models.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.employees[accountID]
	if !ok {
		return nil, fmt.Errorf("employee %d: %w", accountID, ErrNotFound)
	}
	return &e, nil
}

func (s *MemoryStore) GetEmployeeByLogin(ctx context.Context, login string) (*models.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.st.employees {
		if e.Login == login {
			e := e
			return &e, nil
		}
	}
	return nil, fmt.Errorf("employee %s: %w", login, ErrNotFound)
}

func (s *MemoryStore) ListEmployees(ctx context.Context) ([]models.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Employee, 0, len(s.st.employees))
	for _, e := range s.st.employees {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out, nil
}

func (s *MemoryStore) SetEmployeeAdmin(ctx context.Context, accountID int64, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.employees[accountID]
	if !ok {
		return fmt.Errorf("employee %d: %w", accountID, ErrNotFound)
	}
	e.IsAdmin = isAdmin
	s.st.employees[accountID] = e
	return nil
}

func (s *MemoryStore) DeleteEmployee(ctx context.Context, accountID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.employees[accountID]; !ok {
		return fmt.Errorf("employee %d: %w", accountID, ErrNotFound)
	}
	delete(s.st.employees, accountID)
	for _, t := range s.st.tickets {
		if t.AssignedTo != nil && *t.AssignedTo == accountID {
			t.AssignedTo = nil
		}
	}
	return nil
}

// Tickets

func (s *MemoryStore) ticket(id int64) (*models.Ticket, error) {
	t, ok := s.st.tickets[id]
	if !ok {
		return nil, fmt.Errorf("ticket %d: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *MemoryStore) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.ticket(id)
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (s *MemoryStore) openTicket(accountID int64) *models.Ticket {
	for _, t := range s.st.tickets {
		if t.AccountID == accountID && t.Status == models.TicketOpen {
			return t
		}
	}
	return nil
}

func (s *MemoryStore) FindOpenTicket(ctx context.Context, accountID int64) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.openTicket(accountID); t != nil {
		return t.Clone(), nil
	}
	return nil, fmt.Errorf("open ticket for account %d: %w", accountID, ErrNotFound)
}

func (s *MemoryStore) FindReopenableTicket(ctx context.Context, accountID int64, since time.Time) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Ticket
	for _, t := range s.st.tickets {
		if t.AccountID != accountID || t.Status != models.TicketClosed || t.ClosedAt == nil || t.ClosedAt.Before(since) {
			continue
		}
		if best == nil || t.ClosedAt.After(*best.ClosedAt) || (t.ClosedAt.Equal(*best.ClosedAt) && t.ID > best.ID) {
			best = t
		}
	}
	if best == nil {
		return nil, fmt.Errorf("reopenable ticket for account %d: %w", accountID, ErrNotFound)
	}
	return best.Clone(), nil
}

func (s *MemoryStore) InsertTicket(ctx context.Context, t *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Status == "" {
		t.Status = models.TicketOpen
	}
	if t.Status == models.TicketOpen && s.openTicket(t.AccountID) != nil {
		return fmt.Errorf("insert ticket for account %d: %w", t.AccountID, ErrConflict)
	}
	s.st.nextTicket++
	t.ID = s.st.nextTicket
	t.AutoCloseEnabled = false
	t.AutoCloseDeadline = nil
	t.AutoCloseArmedAt = nil
	t.RecentlyReopened = false
	s.st.tickets[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) ReopenTicket(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tickets[id]
	if !ok || t.Status != models.TicketClosed {
		return fmt.Errorf("closed ticket %d: %w", id, ErrNotFound)
	}
	if s.openTicket(t.AccountID) != nil {
		return fmt.Errorf("reopen ticket %d: %w", id, ErrConflict)
	}
	t.Status = models.TicketOpen
	t.ClosedAt = nil
	t.RecentlyReopened = true
	return nil
}

func (s *MemoryStore) CloseTicket(ctx context.Context, id int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.ticket(id)
	if err != nil {
		return false, err
	}
	if t.Status == models.TicketClosed {
		return false, nil
	}
	t.Status = models.TicketClosed
	t.ClosedAt = &at
	t.RecentlyReopened = false
	t.AutoCloseEnabled = false
	t.AutoCloseDeadline = nil
	t.AutoCloseArmedAt = nil
	return true, nil
}

func (s *MemoryStore) AssignTicket(ctx context.Context, id int64, accountID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.ticket(id)
	if err != nil {
		return err
	}
	t.AssignedTo = cloneID(accountID)
	return nil
}

func (s *MemoryStore) ClaimTicket(ctx context.Context, id int64, accountID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.ticket(id)
	if err != nil {
		return false, err
	}
	if t.AssignedTo != nil {
		return false, nil
	}
	t.AssignedTo = &accountID
	return true, nil
}

func (s *MemoryStore) SetIssueType(ctx context.Context, id int64, it *models.IssueType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.ticket(id)
	if err != nil {
		return err
	}
	if it == nil {
		t.IssueType = nil
	} else {
		v := *it
		t.IssueType = &v
	}
	return nil
}

func (s *MemoryStore) SetAutoClose(ctx context.Context, id int64, enabled bool, deadline, armedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.ticket(id)
	if err != nil {
		return err
	}
	t.AutoCloseEnabled = enabled
	t.AutoCloseDeadline = cloneTimePtr(deadline)
	t.AutoCloseArmedAt = cloneTimePtr(armedAt)
	return nil
}

func (s *MemoryStore) SetNotification(ctx context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.ticket(id)
	if err != nil {
		return err
	}
	t.NotificationEnabled = enabled
	return nil
}

func (s *MemoryStore) ConsumeReopenMarker(ctx context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.st.tickets[id]
	if !ok || !t.RecentlyReopened {
		return false, nil
	}
	t.RecentlyReopened = false
	return true, nil
}

func (s *MemoryStore) ListTickets(ctx context.Context, f TicketFilter) ([]models.TicketSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	search := strings.ToLower(strings.TrimSpace(f.Search))
	lastByTicket := make(map[int64]*models.Message)
	matched := make(map[int64]bool)
	for _, m := range s.st.messages {
		if cur := lastByTicket[m.TicketID]; cur == nil || m.ID > cur.ID {
			lastByTicket[m.TicketID] = m
		}
		if search != "" && strings.Contains(strings.ToLower(m.Text), search) {
			matched[m.TicketID] = true
		}
	}
	var out []models.TicketSummary
	activity := make(map[int64]time.Time)
	for _, t := range s.st.tickets {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if search != "" && !matched[t.ID] {
			continue
		}
		row := models.TicketSummary{
			TicketID:   t.ID,
			AccountID:  t.AccountID,
			Status:     string(t.Status),
			AssignedTo: cloneID(t.AssignedTo),
		}
		if e, ok := s.st.employees[t.AccountID]; ok {
			row.Login = e.Login
		}
		if t.AssignedTo != nil {
			if e, ok := s.st.employees[*t.AssignedTo]; ok {
				login := e.Login
				row.AssignedLogin = &login
			}
		}
		if t.IssueType != nil {
			v := string(*t.IssueType)
			row.IssueType = &v
		}
		activity[t.ID] = t.CreatedAt
		if m := lastByTicket[t.ID]; m != nil {
			text, ts := m.Text, m.Timestamp
			row.LastMessage = &text
			row.LastMessageTimestamp = &ts
			activity[t.ID] = ts
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := activity[out[i].TicketID], activity[out[j].TicketID]
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].TicketID > out[j].TicketID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListArmedTickets(ctx context.Context) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.st.tickets {
		if t.Status == models.TicketOpen && t.AutoCloseEnabled && t.AutoCloseDeadline != nil {
			out = append(out, *t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AutoCloseDeadline.Before(*out[j].AutoCloseDeadline) })
	return out, nil
}

func (s *MemoryStore) DeleteClosedTicketsBefore(ctx context.Context, before time.Time) (int64, []string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		n     int64
		files []string
	)
	for id, t := range s.st.tickets {
		if t.Status != models.TicketClosed || !t.CreatedAt.Before(before) {
			continue
		}
		for mid, m := range s.st.messages {
			if m.TicketID != id {
				continue
			}
			for _, a := range m.Attachments {
				files = append(files, a.FilePath)
			}
			delete(s.st.messages, mid)
		}
		delete(s.st.ticketRatings, id)
		for k := range s.st.employeeRatings {
			if k.ticket == id {
				delete(s.st.employeeRatings, k)
			}
		}
		for k := range s.st.history {
			if k.current == id || k.fetched == id {
				delete(s.st.history, k)
			}
		}
		for nid, note := range s.st.notes {
			if note.TicketID == id {
				delete(s.st.notes, nid)
			}
		}
		delete(s.st.tickets, id)
		n++
	}
	sort.Strings(files)
	return n, files, nil
}

func (s *MemoryStore) FindUnfetchedClosedTicket(ctx context.Context, accountID, currentTicketID int64) (*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Ticket
	for _, t := range s.st.tickets {
		if t.AccountID != accountID || t.Status != models.TicketClosed || t.ID == currentTicketID {
			continue
		}
		if _, seen := s.st.history[historyKey{currentTicketID, t.ID}]; seen {
			continue
		}
		if best == nil || createdAfter(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil, fmt.Errorf("history for %d: %w", currentTicketID, ErrNotFound)
	}
	return best.Clone(), nil
}

func createdAfter(a, b *models.Ticket) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (s *MemoryStore) RecordHistoryFetch(ctx context.Context, currentTicketID, fetchedTicketID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := historyKey{currentTicketID, fetchedTicketID}
	if _, ok := s.st.history[k]; ok {
		return fmt.Errorf("record history fetch %d<-%d: %w", currentTicketID, fetchedTicketID, ErrConflict)
	}
	s.st.history[k] = at
	return nil
}

func cloneID(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTimePtr(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
