package models

import "time"

// RestrictionKind is either a mute or a ban.
type RestrictionKind string

const (
	RestrictionMute RestrictionKind = "mute"
	RestrictionBan  RestrictionKind = "ban"
)

// Restriction throttles an account. Until == nil means permanent.
type Restriction struct {
	AccountID int64           `json:"account_id" db:"account_id"`
	Kind      RestrictionKind `json:"kind" db:"kind"`
	Until     *time.Time      `json:"until,omitempty" db:"until_time"`
}

// Active reports whether the restriction still applies at now.
func (r *Restriction) Active(now time.Time) bool {
	if r == nil {
		return false
	}
	return r.Until == nil || now.Before(*r.Until)
}
