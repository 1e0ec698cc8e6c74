package config

import (
	"os"
	"path/filepath"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultEmbeddingProvider  = "ollama"
	DefaultEmbeddingBatchSize = 64
	DefaultOllamaURL          = "http://localhost:11434"
	DefaultOllamaEmbedModel   = "nomic-embed-text"
	DefaultOpenAIEmbedModel   = "text-embedding-3-small"

	// LLM defaults
	DefaultLLMProvider    = "ollama"
	DefaultOllamaLLMModel = "llama3"
	DefaultOpenAILLMModel = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"

	// Store defaults
	DefaultBackend        = "sqlite"
	DefaultCollectionName = "rag_collection"
	DefaultDistance       = "cosine"
	DefaultDBFileName     = "docrag.db"

	// Chunking defaults (characters)
	DefaultMaxChunkSize = 1000
	DefaultChunkOverlap = 100
	DefaultSplitter     = "regex"

	// Retrieval defaults
	DefaultNumChunks = 3
	DefaultThreshold = 0.7

	// Ingest defaults
	DefaultMaxFileSize  = 20 << 20 // 20MB
	DefaultMaxFileCount = 10000

	DefaultServerAddr = "127.0.0.1:8080"
)

// DefaultExtensions returns the file extensions ingest accepts.
func DefaultExtensions() []string {
	return []string{".txt", ".md", ".markdown", ".pdf", ".docx"}
}

// DefaultIgnorePatterns returns the default list of file patterns to ignore.
func DefaultIgnorePatterns() []string {
	return []string{
		// Version control
		".git/",
		".svn/",
		".hg/",

		// Dependencies and build output
		"node_modules/",
		"vendor/",
		".venv/",
		"dist/",
		"build/",

		// Editor and OS files
		".idea/",
		".vscode/",
		"*.swp",
		"*~",
		`~\$*`,
		".DS_Store",
		"Thumbs.db",

		// Secrets
		".env",
		".env.*",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/docrag"
	}
	return filepath.Join(home, ".config", "docrag")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/docrag"
	}
	return filepath.Join(home, ".local", "share", "docrag")
}

// DefaultDatabasePath returns the default database file path.
func DefaultDatabasePath() string {
	return filepath.Join(DefaultDataDir(), DefaultDBFileName)
}
