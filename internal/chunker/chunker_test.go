package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/docrag/internal/store"
)

const threeSentences = "One two three. Four five six. Seven eight nine."

func mustChunker(t *testing.T, opts ...Option) *Chunker {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	return c
}

func TestNewDefaults(t *testing.T) {
	c := mustChunker(t)
	assert.Equal(t, DefaultMaxChunkSize, c.MaxChunkSize())
	assert.Equal(t, DefaultOverlap, c.Overlap())
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "zero size", opts: []Option{WithMaxChunkSize(0), WithOverlap(0)}},
		{name: "negative overlap", opts: []Option{WithMaxChunkSize(10), WithOverlap(-1)}},
		{name: "overlap equals size", opts: []Option{WithMaxChunkSize(10), WithOverlap(10)}},
		{name: "overlap exceeds size", opts: []Option{WithMaxChunkSize(10), WithOverlap(20)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.opts...)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, ErrInvalidOptions)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}
}

func TestChunk(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{
			name: "empty",
			text: "",
			size: 100,
			want: nil,
		},
		{
			name: "whitespace only",
			text: "  \n\t ",
			size: 100,
			want: nil,
		},
		{
			name: "fits in one chunk",
			text: threeSentences,
			size: 100,
			want: []string{threeSentences},
		},
		{
			name: "no overlap",
			text: threeSentences,
			size: 30,
			want: []string{"One two three. Four five six.", "Seven eight nine."},
		},
		{
			name:    "overlap carries whole sentences",
			text:    threeSentences,
			size:    30,
			overlap: 15,
			want:    []string{"One two three. Four five six.", "Four five six. Seven eight nine."},
		},
		{
			name:    "overlap too small for any sentence",
			text:    threeSentences,
			size:    30,
			overlap: 13,
			want:    []string{"One two three. Four five six.", "Seven eight nine."},
		},
		{
			name: "oversized sentence stands alone",
			text: "Short one. This sentence is much longer than ten. End.",
			size: 10,
			want: []string{"Short one.", "This sentence is much longer than ten.", "End."},
		},
		{
			name: "no terminal punctuation",
			text: "just a fragment without an ending",
			size: 10,
			want: []string{"just a fragment without an ending"},
		},
		{
			name: "length counts code points",
			text: "éé. ab.",
			size: 7,
			want: []string{"éé. ab."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustChunker(t, WithMaxChunkSize(tt.size), WithOverlap(tt.overlap))
			assert.Equal(t, tt.want, c.Chunk(tt.text))
		})
	}
}

func TestChunkNeverSplitsSentences(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog. ")
	}
	c := mustChunker(t, WithMaxChunkSize(200), WithOverlap(50))

	chunks := c.Chunk(b.String())
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.True(t, strings.HasPrefix(chunk, "The quick"), chunk)
		assert.True(t, strings.HasSuffix(chunk, "lazy dog."), chunk)
	}
}

func TestWithSplitter(t *testing.T) {
	pipes := func(text string) []string { return strings.Split(text, "|") }
	c := mustChunker(t, WithMaxChunkSize(3), WithOverlap(0), WithSplitter(pipes))

	assert.Equal(t, []string{"a b", "c"}, c.Chunk("a|b| |c"))
}

func TestRegexSplitter(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{text: "Hi there! How are you? Fine.", want: []string{"Hi there!", "How are you?", "Fine."}},
		{text: "Pi is 3.14 roughly. Yes", want: []string{"Pi is 3.14 roughly.", "Yes"}},
		{text: "Line one.\nLine two.", want: []string{"Line one.", "Line two."}},
		{text: "", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, RegexSplitter(tt.text))
		})
	}
}

func TestSplitterByName(t *testing.T) {
	fn, err := SplitterByName("")
	require.NoError(t, err)
	assert.Equal(t, []string{"A.", "B."}, fn("A. B."))

	punkt, err := SplitterByName("punkt")
	require.NoError(t, err)
	require.NotNil(t, punkt)

	c := mustChunker(t, WithSplitter(punkt))
	assert.Equal(t, []string{"Hello world. Goodbye world."}, c.Chunk("Hello world. Goodbye world."))

	_, err = SplitterByName("spacy")
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
