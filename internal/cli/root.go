// Package cli implements the command-line interface for docrag.
package cli

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/ui"
)

var (
	// Version information set at build time
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile    string
	debug      bool
	collection string
)

// SetVersionInfo sets the version information from build flags.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docrag [question]",
	Short: "Document retrieval for RAG",
	Long: `docrag ingests PDF, DOCX, text and Markdown documents, splits them into
overlapping sentence chunks, embeds them locally (Ollama) or in the cloud
(OpenAI), and stores the vectors in SQLite or Postgres.

Retrieved chunks can be printed, served over HTTP or MCP, or handed to an LLM
to answer questions.

Examples:
  # Ingest a folder of documents
  docrag ingest ./handbook

  # Find relevant passages
  docrag "what is the parental leave policy"

  # Answer a question from the documents
  docrag "what is the parental leave policy" -a`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no args, show help
		if len(args) == 0 {
			return cmd.Help()
		}

		// Otherwise, run search command
		return runSearch(cmd, args)
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ui.SetDebug(debug)
		if debug {
			log.Debug("Debug logging enabled")
		}

		// Load configuration
		if err := config.Load(cfgFile); err != nil {
			log.Warn("Failed to load config", "error", err)
		}
		if collection != "" {
			config.Get().Collection.Name = collection
		}

		return nil
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Initialize UI styles and logger
	ui.InitLogger()

	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/docrag/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&collection, "collection", "", "collection to use (default from config)")

	// Bind flags to viper
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	// Add subcommands
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(chunksCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(collectionsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
}

// versionCmd shows version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "docrag %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

// runSearch is a convenience wrapper that delegates to the search command
func runSearch(cmd *cobra.Command, args []string) error {
	// Copy flags to module-level variables used by searchCmd
	if answer, _ := cmd.Flags().GetBool("answer"); answer {
		searchAnswer = true
	}
	if content, _ := cmd.Flags().GetBool("content"); content {
		searchContent = true
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		searchLimit = limit
	}

	// Call the search handler directly instead of executing the command
	return runSearchCmd(cmd, args)
}

func init() {
	// Add search flags to root command for convenience
	rootCmd.Flags().BoolP("answer", "a", false, "generate an answer using the LLM")
	rootCmd.Flags().BoolP("content", "c", false, "show chunk text in results")
	rootCmd.Flags().IntP("limit", "m", 0, "maximum number of chunks (default from config)")
}
