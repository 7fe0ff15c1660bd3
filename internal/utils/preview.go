// Package utils holds small text helpers shared by the services.
package utils

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultPreviewLength is the rune limit used for ticket list previews.
const DefaultPreviewLength = 100

var strict = bluemonday.StrictPolicy()

// StripHTML removes all markup and returns plain text.
func StripHTML(s string) string {
	return html.UnescapeString(strict.Sanitize(s))
}

// SanitizePreview turns message text into a single line of at most max
// runes with markup removed. Truncated previews end with an ellipsis.
func SanitizePreview(s string, max int) string {
	if max <= 0 {
		max = DefaultPreviewLength
	}
	plain := strings.Join(strings.Fields(StripHTML(s)), " ")
	if utf8.RuneCountInString(plain) <= max {
		return plain
	}
	runes := []rune(plain)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}
