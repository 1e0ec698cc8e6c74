package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/charmbracelet/log"
)

// AnthropicService implements the LLM service using Anthropic Claude.
type AnthropicService struct {
	client anthropic.Client
	model  string
}

// NewAnthropicService creates a new Anthropic LLM service. Extra request
// options are passed to the client.
func NewAnthropicService(apiKey, model string, extra ...option.RequestOption) (*AnthropicService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic: %w", ErrMissingAPIKey)
	}

	opts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, extra...)

	return &AnthropicService{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// params converts messages. System messages move to the system field, which
// the Messages API keeps separate from the turn list.
func (s *AnthropicService) params(messages []Message, opts CompletionOptions) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	var turns []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int64(DefaultCompletionOptions().MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: maxTokens,
		Messages:  turns,
		System:    system,
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	return params
}

// Complete generates a completion for the given messages.
func (s *AnthropicService) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	log.Debug("Requesting completion from Anthropic", "model", s.model)

	resp, err := s.client.Messages.New(ctx, s.params(messages, opts))
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no content in response")
	}

	return sb.String(), nil
}

// CompleteStream generates a streaming completion.
func (s *AnthropicService) CompleteStream(ctx context.Context, messages []Message, opts CompletionOptions) (<-chan string, <-chan error) {
	contentCh := make(chan string, 100)
	errCh := make(chan error, 1)

	go func() {
		defer close(contentCh)
		defer close(errCh)

		stream := s.client.Messages.NewStreaming(ctx, s.params(messages, opts))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
					if !send(ctx, contentCh, event.Delta.Text) {
						errCh <- ctx.Err()
						return
					}
				}
			case "message_stop":
				return
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- fmt.Errorf("failed to stream completion: %w", err)
		}
	}()

	return contentCh, errCh
}

// Provider returns the provider name.
func (s *AnthropicService) Provider() Provider {
	return ProviderAnthropic
}

// ModelName returns the model name.
func (s *AnthropicService) ModelName() string {
	return s.model
}
