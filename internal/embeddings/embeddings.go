// Package embeddings turns chunk and query text into vectors.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/nickcecere/docrag/internal/config"
)

// Provider names an embedding backend.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
	ErrMissingAPIKey       = errors.New("API key is required")
	ErrNoEmbedding         = errors.New("no embedding returned")
)

// Service embeds documents and queries. EmbedBatch returns one vector per
// input, in input order.
type Service interface {
	// Embed embeds chunk text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery embeds a search query. Some models expect a different task
	// prefix for queries than for documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the vector length. It tracks the last response, so it
	// may change after the first call for models not in the table.
	Dimensions() int

	Provider() Provider
	ModelName() string
}

// Vector lengths of common embedding models.
var modelDimensions = map[string]int{
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"snowflake-arctic-embed": 1024,
	"bge-m3":                 1024,

	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// GetModelDimensions returns the known dimensions for a model, or 0 if unknown.
func GetModelDimensions(model string) int {
	return modelDimensions[model]
}

// NewService creates the embedding service selected by
// cfg.Embeddings.Provider. With embeddings.batch_size set, batches are sent
// in requests of at most that many texts.
func NewService(cfg *config.Config) (Service, error) {
	var (
		svc Service
		err error
	)
	switch Provider(cfg.Embeddings.Provider) {
	case ProviderOllama:
		svc, err = NewOllamaService(cfg.Embeddings.Ollama.URL, cfg.Embeddings.Ollama.Model)
	case ProviderOpenAI:
		e := cfg.Embeddings.OpenAI
		svc, err = NewOpenAIService(e.APIKey, e.Model, e.BaseURL, e.Dimensions)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Embeddings.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Embeddings.BatchSize > 0 {
		return NewBatched(svc, cfg.Embeddings.BatchSize), nil
	}
	return svc, nil
}

// single unwraps a one-text batch.
func single(vecs [][]float32, err error) ([]float32, error) {
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, ErrNoEmbedding
	}
	return vecs[0], nil
}

// checkCount guards against providers that silently drop inputs.
func checkCount(got, want int) error {
	if got != want {
		return fmt.Errorf("provider returned %d embeddings for %d inputs", got, want)
	}
	return nil
}
