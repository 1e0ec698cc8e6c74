// Package llm generates answers grounded in retrieved document context.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/docrag/internal/config"
)

// Provider names a chat backend.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Chat roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported LLM provider")
	ErrMissingAPIKey       = errors.New("API key is required")
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions configures the completion request.
type CompletionOptions struct {
	// Temperature controls randomness (0-1).
	Temperature float64

	// MaxTokens limits the response length. Zero leaves it to the provider,
	// except Anthropic which requires one.
	MaxTokens int

	Stream bool
}

// DefaultCompletionOptions favors grounded, low-variance answers.
func DefaultCompletionOptions() CompletionOptions {
	return CompletionOptions{
		Temperature: 0.2,
		MaxTokens:   2048,
	}
}

// Service is a chat model that answers from supplied messages.
type Service interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)

	// CompleteStream sends content pieces until the reply ends. The error
	// channel yields at most one error and is closed after the content
	// channel.
	CompleteStream(ctx context.Context, messages []Message, opts CompletionOptions) (<-chan string, <-chan error)

	Provider() Provider
	ModelName() string
}

// NewService creates the chat service selected by cfg.LLM.Provider.
func NewService(cfg *config.Config) (Service, error) {
	var (
		svc Service
		err error
	)
	switch Provider(cfg.LLM.Provider) {
	case ProviderOllama:
		svc, err = NewOllamaService(cfg.LLM.Ollama.URL, cfg.LLM.Ollama.Model)
	case ProviderOpenAI:
		svc, err = NewOpenAIService(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.Model, cfg.LLM.OpenAI.BaseURL)
	case ProviderAnthropic:
		svc, err = NewAnthropicService(cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.Model)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}

	log.Debug("Created LLM service", "provider", svc.Provider(), "model", svc.ModelName())
	return svc, nil
}

// send delivers a content piece unless ctx ends first.
func send(ctx context.Context, ch chan<- string, s string) bool {
	select {
	case ch <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
