package ui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 8, "hello..."},
		{"runes", "äöüäöüäöü", 6, "äöü..."},
		{"tiny limit", "hello", 2, "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Truncate(tt.input, tt.n))
		})
	}
}

func TestHorizontalRule(t *testing.T) {
	assert.Contains(t, HorizontalRule(3), "───")
	assert.NotContains(t, HorizontalRule(0), "─")
	assert.NotContains(t, HorizontalRule(-1), "─")
}

func TestHighlightMarkdown(t *testing.T) {
	assert.Equal(t, "plain text", HighlightMarkdown("plain text", "txt"))
	assert.Contains(t, HighlightMarkdown("# Title", "md"), "Title")
}

func TestFormatters(t *testing.T) {
	assert.Contains(t, FormatDistance(0.1234), "0.123")
	assert.Contains(t, FormatChunkRef("doc_a", 2), "doc_a #2")
}
