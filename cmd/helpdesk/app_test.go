package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsoleURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://desk.example.com/", "https://desk.example.com"},
		{"https://desk.example.com/support", "https://desk.example.com/support"},
		{"http://localhost:8080", ""},
		{"http://127.0.0.1:8080", ""},
		{"http://[::1]:8080", ""},
		{"", ""},
		{"not a url", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, consoleURL(tt.base), tt.base)
	}
}
