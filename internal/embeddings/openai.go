package embeddings

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultOpenAIDimensions = 1536

// OpenAIService embeds text with the OpenAI embeddings API or a compatible
// server at baseURL.
type OpenAIService struct {
	client     openai.Client
	model      string
	dimensions atomic.Int64

	// requestDims asks the API for shortened vectors when set.
	requestDims int
}

// NewOpenAIService creates an OpenAI embedding service. A non-zero
// dimensions requests vectors of that length.
func NewOpenAIService(apiKey, model, baseURL string, dimensions int, extra ...option.RequestOption) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI: %w", ErrMissingAPIKey)
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, extra...)

	s := &OpenAIService{
		client:      openai.NewClient(opts...),
		model:       model,
		requestDims: dimensions,
	}

	switch {
	case dimensions > 0:
	case GetModelDimensions(model) > 0:
		dimensions = GetModelDimensions(model)
	default:
		dimensions = defaultOpenAIDimensions
		log.Debug("Unknown model dimensions, defaulting", "model", model, "dimensions", dimensions)
	}
	s.dimensions.Store(int64(dimensions))
	return s, nil
}

func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	return single(s.embed(ctx, []string{text}))
}

// EmbedQuery is Embed; OpenAI models take no task prefix.
func (s *OpenAIService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.Embed(ctx, text)
}

func (s *OpenAIService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return s.embed(ctx, texts)
}

func (s *OpenAIService) Dimensions() int    { return int(s.dimensions.Load()) }
func (s *OpenAIService) Provider() Provider { return ProviderOpenAI }
func (s *OpenAIService) ModelName() string  { return s.model }

func (s *OpenAIService) embed(ctx context.Context, texts []string) ([][]float32, error) {
	log.Debug("Requesting embeddings from OpenAI", "model", s.model, "count", len(texts))

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(s.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if s.requestDims > 0 {
		params.Dimensions = openai.Int(int64(s.requestDims))
	}

	resp, err := s.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if err := checkCount(len(resp.Data), len(texts)); err != nil {
		return nil, err
	}

	// Data carries its input index; order is not guaranteed.
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(vecs) {
			return nil, fmt.Errorf("embedding index %d out of range", i)
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vecs[i] = vec
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}

	s.dimensions.Store(int64(len(vecs[0])))
	return vecs, nil
}
