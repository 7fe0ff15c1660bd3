package models

import (
	"fmt"
	"unicode/utf8"
)

const (
	QuickReplyTitleMax = 50
	QuickReplyTextMax  = 1000
)

// QuickReplyColors lists the accepted button colors.
var QuickReplyColors = []string{"blue", "green", "red", "purple", "gray"}

// QuickReply is a canned text the console offers as a one-click answer.
type QuickReply struct {
	ID    int64  `json:"id" db:"id"`
	Title string `json:"title" db:"title"`
	Text  string `json:"text" db:"text"`
	Color string `json:"color" db:"color"`
}

// Validate checks color and length limits.
func (q *QuickReply) Validate() error {
	valid := false
	for _, c := range QuickReplyColors {
		if q.Color == c {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid color %q", q.Color)
	}
	if q.Title == "" || q.Text == "" {
		return fmt.Errorf("title and text are required")
	}
	if utf8.RuneCountInString(q.Title) > QuickReplyTitleMax || utf8.RuneCountInString(q.Text) > QuickReplyTextMax {
		return fmt.Errorf("title or text too long")
	}
	return nil
}
