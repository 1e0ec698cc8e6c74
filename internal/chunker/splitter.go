package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/neurosnap/sentences/english"
)

// SplitFunc breaks text into sentences. Returned sentences may carry
// surrounding whitespace; the chunker trims them.
type SplitFunc func(text string) []string

// sentenceEnd matches terminal punctuation followed by whitespace.
var sentenceEnd = regexp.MustCompile(`[.!?]\s+`)

// RegexSplitter cuts after '.', '!' or '?' when whitespace follows.
func RegexSplitter(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		out = append(out, text[start:loc[0]+1])
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

var (
	punktOnce  sync.Once
	punktSplit SplitFunc
)

// PunktSplitter returns a splitter backed by the Punkt English model, which
// handles abbreviations and initials the regex splitter breaks on. It falls
// back to RegexSplitter if the model cannot be loaded.
func PunktSplitter() SplitFunc {
	punktOnce.Do(func() {
		tokenizer, err := english.NewSentenceTokenizer(nil)
		if err != nil {
			log.Warn("Failed to load sentence tokenizer, using regex splitter", "err", err)
			punktSplit = RegexSplitter
			return
		}
		punktSplit = func(text string) []string {
			sents := tokenizer.Tokenize(text)
			out := make([]string, len(sents))
			for i, s := range sents {
				out[i] = s.Text
			}
			return out
		}
	})
	return punktSplit
}

// SplitterByName resolves a configured splitter name.
func SplitterByName(name string) (SplitFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "regex":
		return RegexSplitter, nil
	case "punkt":
		return PunktSplitter(), nil
	default:
		return nil, fmt.Errorf("%w: unknown sentence splitter %q", ErrInvalidOptions, name)
	}
}
