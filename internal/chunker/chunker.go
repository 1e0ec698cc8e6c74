// Package chunker splits document text into overlapping, sentence-aligned
// chunks sized for embedding.
package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nickcecere/docrag/internal/store"
)

// Defaults used when no option overrides them.
const (
	DefaultMaxChunkSize = 1000
	DefaultOverlap      = 100
)

// ErrInvalidOptions reports an unusable size/overlap combination.
var ErrInvalidOptions = fmt.Errorf("%w: invalid chunker options", store.ErrValidation)

// Chunker groups sentences into chunks of at most MaxChunkSize code points.
// A single sentence longer than that becomes its own chunk; sentences are
// never split.
type Chunker struct {
	maxChunkSize int
	overlap      int
	split        SplitFunc
}

// Option configures a Chunker.
type Option func(*Chunker)

func WithMaxChunkSize(n int) Option {
	return func(c *Chunker) { c.maxChunkSize = n }
}

func WithOverlap(n int) Option {
	return func(c *Chunker) { c.overlap = n }
}

// WithSplitter replaces the sentence splitter. A nil splitter keeps the default.
func WithSplitter(fn SplitFunc) Option {
	return func(c *Chunker) {
		if fn != nil {
			c.split = fn
		}
	}
}

// New validates the options and returns a Chunker.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		maxChunkSize: DefaultMaxChunkSize,
		overlap:      DefaultOverlap,
		split:        RegexSplitter,
	}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case c.maxChunkSize <= 0:
		return nil, fmt.Errorf("%w: max chunk size must be positive, got %d", ErrInvalidOptions, c.maxChunkSize)
	case c.overlap < 0:
		return nil, fmt.Errorf("%w: overlap must not be negative, got %d", ErrInvalidOptions, c.overlap)
	case c.overlap >= c.maxChunkSize:
		return nil, fmt.Errorf("%w: overlap %d must be smaller than max chunk size %d", ErrInvalidOptions, c.overlap, c.maxChunkSize)
	}
	return c, nil
}

// MaxChunkSize returns the configured chunk size limit.
func (c *Chunker) MaxChunkSize() int { return c.maxChunkSize }

// Overlap returns the configured overlap budget.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text into ordered chunks. Whitespace-only text yields none.
func (c *Chunker) Chunk(text string) []string {
	sentences := c.sentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current string
	var currentSentences []string

	for _, sentence := range sentences {
		if current == "" || runeLen(current)+runeLen(sentence) <= c.maxChunkSize {
			if current == "" {
				current = sentence
			} else {
				current += " " + sentence
			}
			currentSentences = append(currentSentences, sentence)
			continue
		}

		chunks = append(chunks, strings.TrimSpace(current))

		// Carry whole trailing sentences forward while they fit the overlap.
		overlapText := ""
		start := len(currentSentences)
		for i := len(currentSentences) - 1; i >= 0; i-- {
			prev := currentSentences[i]
			if runeLen(overlapText)+runeLen(prev) > c.overlap {
				break
			}
			overlapText = prev + " " + overlapText
			start = i
		}

		current = overlapText + sentence
		currentSentences = append(append([]string(nil), currentSentences[start:]...), sentence)
	}

	if current != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}
	return chunks
}

// sentences runs the splitter and drops blank sentences.
func (c *Chunker) sentences(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for _, s := range c.split(text) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
