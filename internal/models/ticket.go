package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketOpen   TicketStatus = "open"
	TicketClosed TicketStatus = "closed"
)

// IssueType classifies a ticket. A nil *IssueType means "none".
type IssueType string

const (
	IssueTech      IssueType = "tech"
	IssueOrg       IssueType = "org"
	IssueInsurance IssueType = "ins"
)

// ParseIssueType maps a console value to an issue type. "n/a" and "" clear it.
func ParseIssueType(v string) (*IssueType, error) {
	switch v {
	case "", "n/a", "none":
		return nil, nil
	case string(IssueTech), string(IssueOrg), string(IssueInsurance):
		it := IssueType(v)
		return &it, nil
	}
	return nil, fmt.Errorf("invalid issue type %q", v)
}

// Ticket is one support case owned by one end-user account.
type Ticket struct {
	ID                  int64        `json:"ticket_id" db:"id"`
	AccountID           int64        `json:"account_id" db:"account_id"`
	Status              TicketStatus `json:"status" db:"status"`
	AssignedTo          *int64       `json:"assigned_to,omitempty" db:"assigned_to"`
	CreatedAt           time.Time    `json:"created_at" db:"created_at"`
	ClosedAt            *time.Time   `json:"closed_at,omitempty" db:"closed_at"`
	IssueType           *IssueType   `json:"issue_type,omitempty" db:"issue_type"`
	AutoCloseEnabled    bool         `json:"auto_close_enabled" db:"auto_close_enabled"`
	AutoCloseDeadline   *time.Time   `json:"auto_close_deadline,omitempty" db:"auto_close_deadline"`
	AutoCloseArmedAt    *time.Time   `json:"-" db:"auto_close_armed_at"`
	NotificationEnabled bool         `json:"notification_enabled" db:"notification_enabled"`
	RecentlyReopened    bool         `json:"-" db:"recently_reopened"`
}

// IsOpen reports whether the ticket is in the open state.
func (t *Ticket) IsOpen() bool {
	return t != nil && t.Status == TicketOpen
}

// Clone returns a copy that shares no pointers with t.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.AssignedTo = cloneInt64(t.AssignedTo)
	c.ClosedAt = cloneTime(t.ClosedAt)
	c.AutoCloseDeadline = cloneTime(t.AutoCloseDeadline)
	c.AutoCloseArmedAt = cloneTime(t.AutoCloseArmedAt)
	if t.IssueType != nil {
		it := *t.IssueType
		c.IssueType = &it
	}
	return &c
}

// TicketSummary is a row of the console ticket list.
type TicketSummary struct {
	TicketID             int64      `json:"id" db:"ticket_id"`
	AccountID            int64      `json:"account_id" db:"account_id"`
	Login                string     `json:"login" db:"login"`
	Status               string     `json:"status" db:"status"`
	IssueType            *string    `json:"issue_type,omitempty" db:"issue_type"`
	AssignedTo           *int64     `json:"assigned_to,omitempty" db:"assigned_to"`
	AssignedLogin        *string    `json:"assigned_login,omitempty" db:"assigned_login"`
	LastMessage          *string    `json:"last_message,omitempty" db:"last_message"`
	LastMessageTimestamp *time.Time `json:"last_message_timestamp,omitempty" db:"last_message_timestamp"`
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

const historyCallbackPrefix = "history_"

// HistoryCallbackData is the payload of the staff button that sends a
// ticket transcript into the chat it was pressed in.
func HistoryCallbackData(ticketID int64) string {
	return historyCallbackPrefix + strconv.FormatInt(ticketID, 10)
}

// ParseHistoryCallback decodes a payload built by HistoryCallbackData.
func ParseHistoryCallback(data string) (int64, bool) {
	rest, ok := strings.CutPrefix(data, historyCallbackPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
