package llm

import (
	"context"
	"fmt"

	"github.com/nickcecere/docrag/internal/rag"
	"github.com/nickcecere/docrag/internal/store"
)

// NoContextAnswer is returned without calling the model when retrieval
// found nothing.
const NoContextAnswer = "I couldn't find any relevant documents to answer your question. Try rephrasing it or ingesting more documents."

// QAService generates answers to questions using retrieved chunks as context.
type QAService struct {
	llm Service
}

// QAOptions configures the Q&A generation.
type QAOptions struct {
	// Temperature controls creativity (0-1).
	Temperature float64

	// MaxTokens limits the response length.
	MaxTokens int

	// Stream enables streaming responses.
	Stream bool

	// MaxContextChunks limits how many retrieved chunks to include.
	MaxContextChunks int

	// SystemPrompt replaces the default instructions when set.
	SystemPrompt string
}

// DefaultQAOptions returns sensible defaults.
func DefaultQAOptions() QAOptions {
	return QAOptions{
		Temperature:      0.3, // Lower for more focused answers
		MaxTokens:        2048,
		Stream:           false,
		MaxContextChunks: 5,
	}
}

// QAResult contains the answer and its sources.
type QAResult struct {
	Answer  string         `json:"answer"`
	Sources []store.Result `json:"sources"`
}

// NewQAService creates a new Q&A service.
func NewQAService(llm Service) *QAService {
	return &QAService{llm: llm}
}

// Answer generates an answer to the question using results as context.
func (qa *QAService) Answer(ctx context.Context, question string, results []store.Result, opts QAOptions) (*QAResult, error) {
	if len(results) == 0 {
		return &QAResult{Answer: NoContextAnswer}, nil
	}

	sources := limitSources(results, opts.MaxContextChunks)

	answer, err := qa.llm.Complete(ctx, BuildMessages(question, sources, opts.SystemPrompt), CompletionOptions{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	return &QAResult{
		Answer:  answer,
		Sources: sources,
	}, nil
}

// AnswerStream generates a streaming answer. The returned sources are the
// chunks actually sent to the model.
func (qa *QAService) AnswerStream(ctx context.Context, question string, results []store.Result, opts QAOptions) (<-chan string, <-chan error, []store.Result) {
	if len(results) == 0 {
		contentCh := make(chan string, 1)
		errCh := make(chan error)
		contentCh <- NoContextAnswer
		close(contentCh)
		close(errCh)
		return contentCh, errCh, nil
	}

	sources := limitSources(results, opts.MaxContextChunks)

	contentCh, errCh := qa.llm.CompleteStream(ctx, BuildMessages(question, sources, opts.SystemPrompt), CompletionOptions{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      true,
	})

	return contentCh, errCh, sources
}

// BuildMessages renders the system prompt and a user turn carrying the
// formatted context followed by the question.
func BuildMessages(question string, results []store.Result, system string) []Message {
	if system == "" {
		system = systemPrompt
	}

	return []Message{
		{
			Role:    RoleSystem,
			Content: system,
		},
		{
			Role:    RoleUser,
			Content: fmt.Sprintf("Context: %s\n\nQuestion: %s", rag.FormatContext(results), question),
		},
	}
}

func limitSources(results []store.Result, limit int) []store.Result {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}

// System prompt for Q&A.
const systemPrompt = `You are a helpful assistant that answers questions using the user's documents.

Your role is to:
1. Read the provided document context carefully
2. Answer the question using only that context
3. Name the document a fact comes from when it matters
4. Be concise but thorough
5. If the context doesn't contain the answer, say so instead of guessing

Each context block starts with a [Document: title] header.

Format your answer in markdown when appropriate.`
