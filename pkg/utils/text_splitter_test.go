package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSplitText(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		chunkSize int
		overlap   int
		want      []string
	}{
		{name: "short text is one chunk", text: "cotton in Chad", chunkSize: 100, want: []string{"cotton in Chad"}},
		{name: "disabled", text: "cotton in Chad", chunkSize: 0, want: []string{"cotton in Chad"}},
		{name: "breaks at whitespace", text: "aaaa bbbb cccc", chunkSize: 8, want: []string{"aaaa ", "bbbb ", "cccc"}},
		{name: "hard cut without whitespace", text: "abcdefghij", chunkSize: 4, want: []string{"abcd", "efgh", "ij"}},
		{name: "overlap", text: "abcdefghij", chunkSize: 4, overlap: 1, want: []string{"abcd", "defg", "ghij"}},
		{name: "overlap too large is ignored", text: "abcdefgh", chunkSize: 4, overlap: 4, want: []string{"abcd", "efgh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitText(tt.text, tt.chunkSize, tt.overlap))
		})
	}
}

func TestSplitText_CountsRunes(t *testing.T) {
	text := strings.Repeat("é", 10)
	chunks := SplitText(text, 4, 0)

	assert.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 4)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}
