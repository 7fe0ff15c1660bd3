package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RatingValue is the thumbs up/down an end user gives after a ticket closes.
type RatingValue string

const (
	RatingUp   RatingValue = "up"
	RatingDown RatingValue = "down"
)

// ParseRatingValue validates a rating value from a callback payload.
func ParseRatingValue(v string) (RatingValue, error) {
	switch RatingValue(v) {
	case RatingUp, RatingDown:
		return RatingValue(v), nil
	}
	return "", fmt.Errorf("invalid rating %q", v)
}

// RatingCallbackData encodes a rating button payload, rate_<ticket>_<value>.
func RatingCallbackData(ticketID int64, v RatingValue) string {
	return "rate_" + strconv.FormatInt(ticketID, 10) + "_" + string(v)
}

// ParseRatingCallback decodes a payload built by RatingCallbackData.
func ParseRatingCallback(data string) (int64, RatingValue, bool) {
	rest, ok := strings.CutPrefix(data, "rate_")
	if !ok {
		return 0, "", false
	}
	idPart, valuePart, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	v, err := ParseRatingValue(valuePart)
	if err != nil {
		return 0, "", false
	}
	return id, v, true
}

// TicketRating is the end user's verdict on one ticket lifetime.
type TicketRating struct {
	TicketID  int64       `json:"ticket_id" db:"ticket_id"`
	AccountID int64       `json:"account_id" db:"account_id"`
	Value     RatingValue `json:"rating" db:"rating"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// EmployeeRating credits the verdict to the assigned employee.
type EmployeeRating struct {
	EmployeeAccountID int64       `json:"employee_account_id" db:"employee_account_id"`
	TicketID          int64       `json:"ticket_id" db:"ticket_id"`
	Value             RatingValue `json:"rating" db:"rating"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

// RatingCounts aggregates thumbs for a ticket or an employee.
type RatingCounts struct {
	ThumbsUp   int `json:"thumbs_up" db:"thumbs_up"`
	ThumbsDown int `json:"thumbs_down" db:"thumbs_down"`
}
