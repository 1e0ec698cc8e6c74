package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)

	// Embeddings defaults
	assert.Equal(t, DefaultEmbeddingProvider, cfg.Embeddings.Provider)
	assert.Equal(t, DefaultEmbeddingBatchSize, cfg.Embeddings.BatchSize)
	assert.Equal(t, DefaultOllamaURL, cfg.Embeddings.Ollama.URL)
	assert.Equal(t, DefaultOllamaEmbedModel, cfg.Embeddings.Ollama.Model)

	// Store defaults
	assert.Equal(t, "sqlite", cfg.Database.Backend)
	assert.Equal(t, "rag_collection", cfg.Collection.Name)
	assert.Equal(t, "cosine", cfg.Collection.Distance)
	assert.Zero(t, cfg.Collection.Dimensions)

	// Chunking and retrieval defaults
	assert.Equal(t, 1000, cfg.Chunking.MaxChunkSize)
	assert.Equal(t, 100, cfg.Chunking.Overlap)
	assert.Equal(t, "regex", cfg.Chunking.Splitter)
	assert.Equal(t, 3, cfg.Retrieval.NumChunks)
	assert.Equal(t, 0.7, cfg.Retrieval.Threshold)

	assert.Contains(t, cfg.Ingest.Extensions, ".pdf")
	assert.Contains(t, cfg.Ignore, ".git/")

	assert.NoError(t, cfg.Validate())
}

func TestDefaultPaths(t *testing.T) {
	assert.Contains(t, DefaultConfigDir(), "docrag")
	assert.Contains(t, DefaultDataDir(), "docrag")
	assert.Contains(t, DefaultDatabasePath(), "docrag.db")
	assert.Contains(t, GlobalConfigPath(), "config.yaml")
}

func TestLoadWithConfigFile(t *testing.T) {
	viper.Reset()
	cfg = nil

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
embeddings:
  provider: openai
  batch_size: 16
  openai:
    model: text-embedding-3-large
    base_url: https://custom-api.example.com
database:
  backend: postgres
  dsn: postgres://rag@localhost/rag
collection:
  name: handbook
  dimensions: 3072
  distance: l2
chunking:
  max_chunk_size: 800
  overlap: 80
  splitter: punkt
retrieval:
  num_chunks: 5
  threshold: 0.4
llm:
  provider: anthropic
server:
  addr: ":9000"
ignore:
  - "drafts/"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))
	require.NoError(t, Load(configPath))

	loaded := Get()
	assert.Equal(t, "openai", loaded.Embeddings.Provider)
	assert.Equal(t, 16, loaded.Embeddings.BatchSize)
	assert.Equal(t, "https://custom-api.example.com", loaded.Embeddings.OpenAI.BaseURL)
	assert.Equal(t, "postgres", loaded.Database.Backend)
	assert.Equal(t, "postgres://rag@localhost/rag", loaded.Database.DSN)
	assert.Equal(t, "handbook", loaded.Collection.Name)
	assert.Equal(t, 3072, loaded.Collection.Dimensions)
	assert.Equal(t, "l2", loaded.Collection.Distance)
	assert.Equal(t, 800, loaded.Chunking.MaxChunkSize)
	assert.Equal(t, 80, loaded.Chunking.Overlap)
	assert.Equal(t, "punkt", loaded.Chunking.Splitter)
	assert.Equal(t, 5, loaded.Retrieval.NumChunks)
	assert.Equal(t, 0.4, loaded.Retrieval.Threshold)
	assert.Equal(t, "anthropic", loaded.LLM.Provider)
	assert.Equal(t, ":9000", loaded.Server.Addr)
	assert.Equal(t, []string{"drafts/"}, loaded.Ignore)

	// Untouched sections keep their defaults
	assert.Equal(t, DefaultMaxFileCount, loaded.Ingest.MaxFileCount)
	assert.Equal(t, DefaultAnthropicModel, loaded.LLM.Anthropic.Model)

	assert.NoError(t, loaded.Validate())
}

func TestLoadInMemoryPath(t *testing.T) {
	viper.Reset()
	cfg = nil

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("database:\n  path: \"\"\n"), 0644))
	require.NoError(t, Load(configPath))

	assert.Empty(t, Get().Database.Path)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	viper.Reset()
	cfg = nil

	t.Setenv("DOCRAG_EMBEDDINGS_PROVIDER", "openai")
	t.Setenv("DOCRAG_RETRIEVAL_NUM_CHUNKS", "7")
	t.Setenv("DOCRAG_LLM_PROVIDER", "anthropic")
	t.Setenv("OPENAI_API_KEY", "test-api-key")
	t.Setenv("ANTHROPIC_API_KEY", "test-anthropic-key")

	require.NoError(t, Load(""))

	loaded := Get()
	assert.Equal(t, "openai", loaded.Embeddings.Provider)
	assert.Equal(t, 7, loaded.Retrieval.NumChunks)
	assert.Equal(t, "anthropic", loaded.LLM.Provider)
	assert.Equal(t, "test-api-key", loaded.Embeddings.OpenAI.APIKey)
	assert.Equal(t, "test-api-key", loaded.LLM.OpenAI.APIKey)
	assert.Equal(t, "test-anthropic-key", loaded.LLM.Anthropic.APIKey)
}

func TestLoadMissingConfigFile(t *testing.T) {
	viper.Reset()
	cfg = nil

	require.NoError(t, Load(""))

	loaded := Get()
	assert.Equal(t, DefaultEmbeddingProvider, loaded.Embeddings.Provider)
	assert.Equal(t, DefaultMaxChunkSize, loaded.Chunking.MaxChunkSize)
}

func TestGet(t *testing.T) {
	cfg = nil

	c1 := Get()
	assert.NotNil(t, c1)
	assert.Same(t, c1, Get())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "overlap equals size", mutate: func(c *Config) { c.Chunking.Overlap = c.Chunking.MaxChunkSize }, wantErr: "chunking.overlap"},
		{name: "negative overlap", mutate: func(c *Config) { c.Chunking.Overlap = -1 }, wantErr: "chunking.overlap"},
		{name: "zero size", mutate: func(c *Config) { c.Chunking.MaxChunkSize = 0 }, wantErr: "chunking.max_chunk_size"},
		{name: "splitter", mutate: func(c *Config) { c.Chunking.Splitter = "nltk" }, wantErr: "chunking.splitter"},
		{name: "distance", mutate: func(c *Config) { c.Collection.Distance = "hamming" }, wantErr: "collection.distance"},
		{name: "backend", mutate: func(c *Config) { c.Database.Backend = "chroma" }, wantErr: "database.backend"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Backend = "postgres" }, wantErr: "database.dsn"},
		{name: "embedding provider", mutate: func(c *Config) { c.Embeddings.Provider = "cohere" }, wantErr: "embeddings.provider"},
		{name: "llm provider", mutate: func(c *Config) { c.LLM.Provider = "gemini" }, wantErr: "llm.provider"},
		{name: "threshold", mutate: func(c *Config) { c.Retrieval.Threshold = 0 }, wantErr: "retrieval.threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
