package cli

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/mcp"
	"github.com/nickcecere/docrag/internal/ui"
	"github.com/nickcecere/docrag/internal/watcher"
)

var (
	mcpNoWatch bool
)

// mcpCmd represents the MCP server command.
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI agent integration",
	Long: `Start a Model Context Protocol (MCP) server over stdin/stdout.

Tools:
  - docrag_search: retrieve chunks relevant to a query
  - docrag_ingest: ingest a file or folder
  - docrag_remove: remove a document
  - docrag_status: index statistics

By default, the server also watches the current directory and keeps its
documents ingested. Use --no-watch to disable this.

This command is typically launched by an MCP client and not run directly.`,
	Args: cobra.NoArgs,
	RunE: runMcpCmd,
}

func init() {
	mcpCmd.Flags().BoolVar(&mcpNoWatch, "no-watch", false, "disable background file watching")
}

func runMcpCmd(cmd *cobra.Command, args []string) error {
	// stdout carries the protocol
	ui.SetOutput(os.Stderr)

	ctx, cancel := signalContext(func() { log.Info("Received signal, shutting down") })
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.rag.Persist(context.Background())

	idx := indexer.New(a.rag, a.cfg)

	if !mcpNoWatch {
		go startBackgroundWatcher(ctx, a, idx)
	}

	server, err := mcp.NewServer(a.rag, idx, a.cfg)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}

// startBackgroundWatcher watches the current directory until ctx ends.
func startBackgroundWatcher(ctx context.Context, a *app, idx *indexer.Indexer) {
	// Let the client finish initializing first
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
	}

	cwd, err := os.Getwd()
	if err != nil {
		log.Error("Failed to get working directory", "error", err)
		return
	}

	walker, err := idx.NewWalker(cwd, nil, nil)
	if err != nil {
		log.Error("Failed to create walker", "error", err)
		return
	}

	log.Info("Starting background file watcher", "path", cwd)

	w, err := watcher.New(walker, idx, cwd,
		watcher.WithDebounceTime(1*time.Second),
		watcher.WithEventCallback(func(event, path string) {
			log.Debug("Background watcher event", "event", event, "path", path)
			if event != watcher.EventError {
				a.rag.Persist(ctx)
			}
		}),
	)
	if err != nil {
		log.Error("Failed to create watcher", "error", err)
		return
	}

	// Blocks until ctx is cancelled
	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		log.Error("Watcher error", "error", err)
	}
}
