package models

import "time"

// Employee maps a Telegram account to a console identity. Every registered
// end user is an employee row; IsAdmin marks support agents.
type Employee struct {
	ID          int64     `json:"id" db:"id"`
	AccountID   int64     `json:"account_id" db:"account_id"`
	Login       string    `json:"login" db:"login"`
	IsAdmin     bool      `json:"is_admin" db:"is_admin"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Session is a console login bound to an employee account.
type Session struct {
	Token     string    `json:"-" db:"token"`
	AccountID int64     `json:"account_id" db:"account_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
