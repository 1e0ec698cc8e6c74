// Package config handles configuration loading and validation for docrag.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

// Config represents the complete docrag configuration.
type Config struct {
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Collection CollectionConfig `mapstructure:"collection"`
	Chunking   ChunkingConfig   `mapstructure:"chunking"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Server     ServerConfig     `mapstructure:"server"`
	Ignore     []string         `mapstructure:"ignore"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Provider  string            `mapstructure:"provider"`
	BatchSize int               `mapstructure:"batch_size"`
	Ollama    OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI    OpenAIEmbedConfig `mapstructure:"openai"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures OpenAI embeddings.
type OpenAIEmbedConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// DatabaseConfig selects and locates the vector store.
type DatabaseConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `mapstructure:"backend"`

	// Path is the SQLite file. Empty keeps the index in memory.
	Path string `mapstructure:"path"`

	// DSN is the Postgres connection string.
	DSN string `mapstructure:"dsn"`
}

// CollectionConfig configures the active collection.
type CollectionConfig struct {
	Name string `mapstructure:"name"`

	// Dimensions of 0 means "use the embedding model's dimensions".
	Dimensions int    `mapstructure:"dimensions"`
	Distance   string `mapstructure:"distance"`
}

// ChunkingConfig configures the sentence chunker.
type ChunkingConfig struct {
	MaxChunkSize int    `mapstructure:"max_chunk_size"`
	Overlap      int    `mapstructure:"overlap"`
	Splitter     string `mapstructure:"splitter"`
}

// RetrievalConfig configures context retrieval.
type RetrievalConfig struct {
	NumChunks int     `mapstructure:"num_chunks"`
	Threshold float64 `mapstructure:"threshold"`
}

// IngestConfig limits what the ingest and watch commands pick up.
type IngestConfig struct {
	MaxFileSize  int      `mapstructure:"max_file_size"`
	MaxFileCount int      `mapstructure:"max_file_count"`
	Extensions   []string `mapstructure:"extensions"`
}

// LLMConfig configures the LLM service for answers.
type LLMConfig struct {
	Provider  string          `mapstructure:"provider"`
	Ollama    OllamaLLMConfig `mapstructure:"ollama"`
	OpenAI    OpenAILLMConfig `mapstructure:"openai"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// OllamaLLMConfig configures Ollama LLM.
type OllamaLLMConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAILLMConfig configures OpenAI LLM.
type OpenAILLMConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// AnthropicConfig configures Anthropic LLM.
type AnthropicConfig struct {
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider:  DefaultEmbeddingProvider,
			BatchSize: DefaultEmbeddingBatchSize,
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model: DefaultOpenAIEmbedModel,
			},
		},
		Database: DatabaseConfig{
			Backend: DefaultBackend,
			Path:    DefaultDatabasePath(),
		},
		Collection: CollectionConfig{
			Name:     DefaultCollectionName,
			Distance: DefaultDistance,
		},
		Chunking: ChunkingConfig{
			MaxChunkSize: DefaultMaxChunkSize,
			Overlap:      DefaultChunkOverlap,
			Splitter:     DefaultSplitter,
		},
		Retrieval: RetrievalConfig{
			NumChunks: DefaultNumChunks,
			Threshold: DefaultThreshold,
		},
		Ingest: IngestConfig{
			MaxFileSize:  DefaultMaxFileSize,
			MaxFileCount: DefaultMaxFileCount,
			Extensions:   DefaultExtensions(),
		},
		LLM: LLMConfig{
			Provider: DefaultLLMProvider,
			Ollama: OllamaLLMConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaLLMModel,
			},
			OpenAI: OpenAILLMConfig{
				Model: DefaultOpenAILLMModel,
			},
			Anthropic: AnthropicConfig{
				Model: DefaultAnthropicModel,
			},
		},
		Server: ServerConfig{
			Addr: DefaultServerAddr,
		},
		Ignore: DefaultIgnorePatterns(),
	}
}

// Load reads configuration from file and environment variables.
func Load(configFile string) error {
	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")

		// A project .docragrc.yaml wins over the global config
		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	viper.SetEnvPrefix("DOCRAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	loadAPIKeysFromEnv()

	return nil
}

// setDefaults sets default values in viper.
func setDefaults() {
	// Embeddings
	viper.SetDefault("embeddings.provider", DefaultEmbeddingProvider)
	viper.SetDefault("embeddings.batch_size", DefaultEmbeddingBatchSize)
	viper.SetDefault("embeddings.ollama.url", DefaultOllamaURL)
	viper.SetDefault("embeddings.ollama.model", DefaultOllamaEmbedModel)
	viper.SetDefault("embeddings.openai.model", DefaultOpenAIEmbedModel)

	// Database
	viper.SetDefault("database.backend", DefaultBackend)
	viper.SetDefault("database.path", DefaultDatabasePath())
	viper.SetDefault("database.dsn", "")

	// Collection
	viper.SetDefault("collection.name", DefaultCollectionName)
	viper.SetDefault("collection.dimensions", 0)
	viper.SetDefault("collection.distance", DefaultDistance)

	// Chunking
	viper.SetDefault("chunking.max_chunk_size", DefaultMaxChunkSize)
	viper.SetDefault("chunking.overlap", DefaultChunkOverlap)
	viper.SetDefault("chunking.splitter", DefaultSplitter)

	// Retrieval
	viper.SetDefault("retrieval.num_chunks", DefaultNumChunks)
	viper.SetDefault("retrieval.threshold", DefaultThreshold)

	// Ingest
	viper.SetDefault("ingest.max_file_size", DefaultMaxFileSize)
	viper.SetDefault("ingest.max_file_count", DefaultMaxFileCount)
	viper.SetDefault("ingest.extensions", DefaultExtensions())

	// LLM
	viper.SetDefault("llm.provider", DefaultLLMProvider)
	viper.SetDefault("llm.ollama.url", DefaultOllamaURL)
	viper.SetDefault("llm.ollama.model", DefaultOllamaLLMModel)
	viper.SetDefault("llm.openai.model", DefaultOpenAILLMModel)
	viper.SetDefault("llm.anthropic.model", DefaultAnthropicModel)

	// Server
	viper.SetDefault("server.addr", DefaultServerAddr)

	viper.SetDefault("ignore", DefaultIgnorePatterns())
}

// findRCFile searches for .docragrc.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, ".docragrc.yaml")
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// loadAPIKeysFromEnv loads API keys from environment variables if not already set.
func loadAPIKeysFromEnv() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if cfg.Embeddings.OpenAI.APIKey == "" {
			cfg.Embeddings.OpenAI.APIKey = key
		}
		if cfg.LLM.OpenAI.APIKey == "" {
			cfg.LLM.OpenAI.APIKey = key
		}
	}

	if cfg.LLM.Anthropic.APIKey == "" {
		cfg.LLM.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Validate checks values that would otherwise fail deep inside a command.
func (c *Config) Validate() error {
	var errs []error

	switch c.Embeddings.Provider {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("embeddings.provider: unsupported provider %q", c.Embeddings.Provider))
	}

	switch c.Database.Backend {
	case "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn: required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.backend: unsupported backend %q", c.Database.Backend))
	}

	if c.Collection.Dimensions < 0 {
		errs = append(errs, errors.New("collection.dimensions: must not be negative"))
	}
	switch strings.ToLower(c.Collection.Distance) {
	case "", "cosine", "l2", "euclidean", "ip", "inner_product", "dot":
	default:
		errs = append(errs, fmt.Errorf("collection.distance: unsupported distance %q", c.Collection.Distance))
	}

	if c.Chunking.MaxChunkSize <= 0 {
		errs = append(errs, errors.New("chunking.max_chunk_size: must be positive"))
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxChunkSize {
		errs = append(errs, fmt.Errorf("chunking.overlap: must be in [0, %d)", c.Chunking.MaxChunkSize))
	}
	switch c.Chunking.Splitter {
	case "", "regex", "punkt":
	default:
		errs = append(errs, fmt.Errorf("chunking.splitter: unsupported splitter %q", c.Chunking.Splitter))
	}

	if c.Retrieval.NumChunks <= 0 {
		errs = append(errs, errors.New("retrieval.num_chunks: must be positive"))
	}
	if c.Retrieval.Threshold <= 0 {
		errs = append(errs, errors.New("retrieval.threshold: must be positive"))
	}

	switch c.LLM.Provider {
	case "ollama", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider: unsupported provider %q", c.LLM.Provider))
	}

	return errors.Join(errs...)
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
