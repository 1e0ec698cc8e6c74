package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Display current configuration settings and config file locations.

Examples:
  # Show current configuration
  docrag config

  # Show config file paths
  docrag config --path`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg := config.Get()

	if configShowPath {
		fmt.Fprintln(out, ui.SectionTitle.Render("Configuration Paths"))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Global config: %s\n", config.GlobalConfigPath())
		fmt.Fprintf(out, "Local config:  .docragrc.yaml (searched from cwd upward)\n")
		fmt.Fprintf(out, "Active config: %s\n", config.ConfigFilePath())
		fmt.Fprintf(out, "Database:      %s\n", cfg.Database.Path)
		return nil
	}

	fmt.Fprintln(out, ui.SectionTitle.Render("Current Configuration"))
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Embeddings:"))
	fmt.Fprintf(out, "  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Fprintf(out, "  Batch Size: %d\n", cfg.Embeddings.BatchSize)
	fmt.Fprintf(out, "  Ollama URL: %s\n", cfg.Embeddings.Ollama.URL)
	fmt.Fprintf(out, "  Ollama Model: %s\n", cfg.Embeddings.Ollama.Model)
	fmt.Fprintf(out, "  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	if cfg.Embeddings.OpenAI.BaseURL != "" {
		fmt.Fprintf(out, "  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Database:"))
	fmt.Fprintf(out, "  Backend: %s\n", cfg.Database.Backend)
	fmt.Fprintf(out, "  Path: %s\n", cfg.Database.Path)
	if cfg.Database.DSN != "" {
		fmt.Fprintln(out, "  DSN: (set)")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Collection:"))
	fmt.Fprintf(out, "  Name: %s\n", cfg.Collection.Name)
	if cfg.Collection.Dimensions > 0 {
		fmt.Fprintf(out, "  Dimensions: %d\n", cfg.Collection.Dimensions)
	} else {
		fmt.Fprintln(out, "  Dimensions: (from embedding model)")
	}
	fmt.Fprintf(out, "  Distance: %s\n", cfg.Collection.Distance)
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Chunking:"))
	fmt.Fprintf(out, "  Max Chunk Size: %d\n", cfg.Chunking.MaxChunkSize)
	fmt.Fprintf(out, "  Overlap: %d\n", cfg.Chunking.Overlap)
	fmt.Fprintf(out, "  Splitter: %s\n", cfg.Chunking.Splitter)
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Retrieval:"))
	fmt.Fprintf(out, "  Chunks: %d\n", cfg.Retrieval.NumChunks)
	fmt.Fprintf(out, "  Threshold: %g\n", cfg.Retrieval.Threshold)
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Ingest:"))
	fmt.Fprintf(out, "  Max File Size: %s\n", formatBytes(int64(cfg.Ingest.MaxFileSize)))
	fmt.Fprintf(out, "  Max File Count: %d\n", cfg.Ingest.MaxFileCount)
	fmt.Fprintf(out, "  Extensions: %s\n", strings.Join(cfg.Ingest.Extensions, ", "))
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("LLM:"))
	fmt.Fprintf(out, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(out, "  Ollama URL: %s\n", cfg.LLM.Ollama.URL)
	fmt.Fprintf(out, "  Ollama Model: %s\n", cfg.LLM.Ollama.Model)
	fmt.Fprintf(out, "  OpenAI Model: %s\n", cfg.LLM.OpenAI.Model)
	fmt.Fprintf(out, "  Anthropic Model: %s\n", cfg.LLM.Anthropic.Model)
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Server:"))
	fmt.Fprintf(out, "  Address: %s\n", cfg.Server.Addr)
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Ignore Patterns:"))
	fmt.Fprintf(out, "  %d patterns configured\n", len(cfg.Ignore))

	return nil
}
