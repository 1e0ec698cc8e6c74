package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/ui"
	"github.com/nickcecere/docrag/internal/watcher"
)

var (
	watchNoInitial bool
)

// watchCmd represents the watch command.
var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch a folder and keep its documents ingested",
	Long: `Watch a directory for document changes and re-ingest modified files.

This command first ingests the directory (unless --no-initial is specified),
then watches for changes. Changed files are re-ingested under the same
document ID and deleted files are removed from the collection.

Examples:
  # Watch current directory
  docrag watch

  # Watch a specific directory
  docrag watch ./handbook

  # Skip initial sync (assumes already ingested)
  docrag watch --no-initial`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatchCmd,
}

func init() {
	watchCmd.Flags().BoolVar(&watchNoInitial, "no-initial", false, "skip initial ingest")
}

func runWatchCmd(cmd *cobra.Command, args []string) error {
	path := "."
	if len(args) > 0 {
		path = args[0]
	}
	out := cmd.OutOrStdout()

	// Resolve absolute path
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Check path exists and is a directory
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	ctx, cancel := signalContext(func() { fmt.Fprintln(out, "\nShutting down...") })
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	idx := indexer.New(a.rag, a.cfg)

	// Perform initial sync unless --no-initial is set
	if !watchNoInitial {
		fmt.Fprintln(out, ui.Header.Render("Initial Ingest"))
		fmt.Fprintf(out, "Path: %s\n", absPath)
		fmt.Fprintf(out, "Provider: %s (%s)\n\n", a.emb.Provider(), a.emb.ModelName())

		stopSpinner := make(chan struct{})
		spinnerDone := make(chan struct{})
		go showSpinner(out, "Ingesting documents", stopSpinner, spinnerDone)

		_, err = idx.Index(ctx, indexer.IndexOptions{Path: absPath})

		close(stopSpinner)
		<-spinnerDone

		if err != nil {
			if ctx.Err() != nil {
				return nil // User cancelled
			}
			return fmt.Errorf("initial ingest failed: %w", err)
		}
		a.rag.Persist(ctx)

		p := idx.Progress()
		fmt.Fprintf(out, "Initial ingest complete: %d created, %d updated, %d chunks\n\n",
			p.Created, p.Updated, p.Chunks)
	}

	walker, err := idx.NewWalker(absPath, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create walker: %w", err)
	}

	w, err := watcher.New(walker, idx, absPath,
		watcher.WithDebounceTime(500*time.Millisecond),
		watcher.WithEventCallback(func(event, path string) {
			switch event {
			case watcher.EventIngest:
				fmt.Fprintf(out, "%s %s\n", ui.Success.Render("ingested"), path)
				a.rag.Persist(ctx)
			case watcher.EventRemove:
				fmt.Fprintf(out, "%s %s\n", ui.Warning.Render("removed"), path)
				a.rag.Persist(ctx)
			default:
				log.Debug("File event", "event", event, "path", path)
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Start watching
	fmt.Fprintln(out, ui.Header.Render("Watching for Changes"))
	fmt.Fprintf(out, "Directory: %s\n", absPath)
	fmt.Fprintln(out, "Press Ctrl+C to stop.")
	fmt.Fprintln(out)

	if err := w.Start(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
