package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/fs"
	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/ui"
)

var (
	ingestForce      bool
	ingestDryRun     bool
	ingestID         string
	ingestTitle      string
	ingestExtensions []string
	ingestIgnore     []string
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <path>",
	Short: "Ingest documents into the index",
	Long: `Ingest a document, or every supported document under a directory.

This command will:
1. Discover PDF, DOCX, text and Markdown files (honouring .gitignore)
2. Extract their text and split it into sentence chunks
3. Generate embeddings for each chunk
4. Store chunks and embeddings in the active collection

Files whose content has not changed since the last ingest are skipped.
Changed files replace their previous chunks.

Examples:
  # Ingest a directory
  docrag ingest ./handbook

  # Ingest one file under a chosen ID and title
  docrag ingest report.pdf --id doc_q3 --title "Q3 Report"

  # Re-ingest everything
  docrag ingest ./handbook --force

  # Preview what would be ingested
  docrag ingest ./handbook --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestForce, "force", "f", false, "re-ingest unchanged files")
	ingestCmd.Flags().BoolVarP(&ingestDryRun, "dry-run", "d", false, "preview without ingesting")
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "document ID (single file only)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (single file only)")
	ingestCmd.Flags().StringSliceVarP(&ingestExtensions, "ext", "e", nil, "file extensions to include (e.g., .pdf, .md)")
	ingestCmd.Flags().StringSliceVarP(&ingestIgnore, "ignore", "i", nil, "additional patterns to ignore")
}

func runIngest(cmd *cobra.Command, args []string) error {
	absPath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	cfg := config.Get()
	out := cmd.OutOrStdout()

	log.Debug("Starting ingest",
		"path", absPath,
		"collection", cfg.Collection.Name,
		"force", ingestForce,
		"dry-run", ingestDryRun,
	)

	// Dry run mode - just show what would be ingested
	if ingestDryRun {
		return runDryRun(out, absPath, cfg)
	}

	ctx, cancel := signalContext(func() { fmt.Fprintln(out, "\nInterrupted, cleaning up...") })
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	idx := indexer.New(a.rag, cfg)

	fmt.Fprintln(out, ui.Header.Render("Ingesting into "+a.index.ActiveCollection().Name))
	fmt.Fprintf(out, "Path: %s\n", absPath)
	fmt.Fprintf(out, "Provider: %s (%s)\n\n", a.emb.Provider(), a.emb.ModelName())

	startTime := time.Now()
	lastUpdate := time.Now()

	opts := indexer.IndexOptions{
		Path:           absPath,
		Extensions:     ingestExtensions,
		IgnorePatterns: ingestIgnore,
		Force:          ingestForce,
		DocumentID:     ingestID,
		Title:          ingestTitle,
		OnProgress: func(p indexer.Progress) {
			// Throttle updates to every 100ms
			if time.Since(lastUpdate) < 100*time.Millisecond {
				return
			}
			lastUpdate = time.Now()

			fmt.Fprintf(out, "\r\033[K")
			if p.TotalFiles > 0 {
				pct := float64(p.ProcessedFiles) / float64(p.TotalFiles) * 100
				fmt.Fprintf(out, "Progress: %d/%d files (%.0f%%) | Chunks: %d | %s",
					p.ProcessedFiles, p.TotalFiles, pct, p.Chunks,
					truncatePath(p.CurrentFile, 40))
			}
		},
	}

	results, err := idx.Index(ctx, opts)

	// Clear progress line
	fmt.Fprintf(out, "\r\033[K")

	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(out, ui.Warning.Render("Ingest cancelled"))
			return nil
		}
		return fmt.Errorf("ingest failed: %w", err)
	}

	printIngestSummary(out, results, idx.Progress(), time.Since(startTime))

	if !a.rag.Persist(ctx) {
		log.Debug("Index not persisted")
	}
	return nil
}

// printIngestSummary lists failures and prints the run totals.
func printIngestSummary(out io.Writer, results []indexer.FileResult, p indexer.Progress, elapsed time.Duration) {
	var unchanged int
	for _, r := range results {
		switch r.Action {
		case indexer.ActionUnchanged:
			unchanged++
		case indexer.ActionFailed:
			fmt.Fprintf(out, "%s %s: %s\n", ui.Error.Render("failed"), r.Path, r.Error)
		case indexer.ActionCreated, indexer.ActionUpdated:
			log.Debug("Ingested", "path", r.Path, "document", r.DocumentID, "chunks", r.Chunks)
		}
	}

	if p.Errors > 0 {
		fmt.Fprintln(out, ui.Warning.Render("Ingest finished with errors"))
	} else {
		fmt.Fprintln(out, ui.Success.Render("Ingest complete!"))
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Created:   %d\n", p.Created)
	fmt.Fprintf(out, "  Updated:   %d\n", p.Updated)
	fmt.Fprintf(out, "  Unchanged: %d\n", unchanged)
	fmt.Fprintf(out, "  Failed:    %d\n", p.Errors)
	fmt.Fprintf(out, "  Chunks:    %d\n", p.Chunks)
	fmt.Fprintf(out, "  Duration:  %s\n", elapsed.Round(time.Millisecond))
}

// runDryRun shows what would be ingested without extracting or embedding.
func runDryRun(out io.Writer, path string, cfg *config.Config) error {
	fmt.Fprintln(out, ui.Header.Render("Dry Run - Preview"))
	fmt.Fprintf(out, "Path: %s\n\n", path)

	walker, err := indexer.New(nil, cfg).NewWalker(path, ingestExtensions, ingestIgnore)
	if err != nil {
		return fmt.Errorf("failed to create file walker: %w", err)
	}

	var files []fs.FileInfo
	err = walker.Walk(func(fi fs.FileInfo) error {
		files = append(files, fi)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	stats := walker.Stats()

	// Show files by type
	byType := make(map[string]int)
	var totalSize int64
	for _, f := range files {
		byType[f.FileType]++
		totalSize += f.Size
	}

	fmt.Fprintln(out, "Documents to ingest:")
	for _, t := range []string{"pdf", "docx", "md", "txt"} {
		if n := byType[t]; n > 0 {
			fmt.Fprintf(out, "  %-6s %d\n", t+":", n)
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Total files:   %d\n", len(files))
	fmt.Fprintf(out, "Total size:    %s\n", formatBytes(totalSize))
	fmt.Fprintf(out, "Skipped:       %d files, %d directories\n", stats.FilesSkipped, stats.DirsSkipped)

	if len(files) > 0 {
		fmt.Fprintln(out, "\nFirst 10 files:")
		for i, f := range files {
			if i >= 10 {
				fmt.Fprintf(out, "  ... and %d more\n", len(files)-10)
				break
			}
			fmt.Fprintf(out, "  %s (%s) %s\n", f.RelPath, formatBytes(f.Size), ui.Dim.Render(f.DocumentID()))
		}
	}

	return nil
}

// truncatePath shortens a path for display.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return "..." + path[len(path)-maxLen+3:]
}

// formatBytes formats bytes as human-readable string.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
