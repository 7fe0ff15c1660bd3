package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "hello world", StripHTML("<b>hello</b> <script>x</script>world"))
	assert.Equal(t, "a & b", StripHTML("a & b"))
}

func TestSanitizePreview(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"plain", "help me", 10, "help me"},
		{"whitespace collapsed", "line one\n\n  line two", 50, "line one line two"},
		{"markup removed", "<i>урок</i> не грузится", 50, "урок не грузится"},
		{"truncated", "abcdefghij", 5, "abcd…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizePreview(tt.in, tt.max))
		})
	}

	long := SanitizePreview(strings.Repeat("я", 300), 0)
	assert.Equal(t, DefaultPreviewLength, utf8.RuneCountInString(long))
}
