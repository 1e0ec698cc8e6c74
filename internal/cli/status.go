package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/store"
	"github.com/nickcecere/docrag/internal/ui"
)

var statusJSON bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index status and statistics",
	Long: `Display information about the vector index including:
- The active collection and its document and chunk counts
- Chunk counts for every collection
- The backend and configuration in use

Examples:
  docrag status
  docrag status --collection handbook
  docrag status --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output statistics as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	stats := a.rag.Statistics(ctx)
	log.Debug("Showing status", "collection", stats.VectorStore.Collection)

	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	active := a.index.ActiveCollection()

	fmt.Fprintln(out, ui.Header.Render("Index Status"))
	fmt.Fprintln(out)

	fmt.Fprintf(out, "%s %s\n", ui.Highlight.Render("Collection:"), ui.Bold.Render(active.Name))
	fmt.Fprintf(out, "  %s %d documents, %d chunks\n", ui.Dim.Render("Indexed:"),
		stats.VectorStore.DocumentCount, stats.VectorStore.ChunkCount)
	fmt.Fprintf(out, "  %s %d\n", ui.Dim.Render("Dimensions:"), active.Dimensions)
	fmt.Fprintf(out, "  %s %s\n", ui.Dim.Render("Distance:"), active.Distance)
	if !active.CreatedAt.IsZero() {
		fmt.Fprintf(out, "  %s %s\n", ui.Dim.Render("Created:"), active.CreatedAt.Local().Format("Jan 2, 2006 at 15:04"))
	}
	fmt.Fprintf(out, "  %s %s\n", ui.Dim.Render("Health:"), healthStatus(stats.VectorStore))

	if len(stats.VectorStore.Collections) > 1 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, ui.Dim.Render("All collections:"))
		names := make([]string, 0, len(stats.VectorStore.Collections))
		for name := range stats.VectorStore.Collections {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			cs := stats.VectorStore.Collections[name]
			fmt.Fprintf(out, "  %-24s %d documents, %d chunks\n", name, cs.Documents, cs.Count)
		}
	}

	// Show config info
	fmt.Fprintln(out)
	fmt.Fprintln(out, ui.Dim.Render("Configuration:"))
	fmt.Fprintf(out, "  Backend: %s\n", a.cfg.Database.Backend)
	if store.Backend(a.cfg.Database.Backend) == store.BackendPostgres {
		fmt.Fprintln(out, "  DSN: (set)")
	} else {
		fmt.Fprintf(out, "  Database: %s\n", a.cfg.Database.Path)
	}
	fmt.Fprintf(out, "  Embedding Provider: %s\n", a.cfg.Embeddings.Provider)

	return nil
}

// healthStatus returns a health indicator based on stats.
func healthStatus(stats store.Stats) string {
	if stats.DocumentCount == 0 {
		return ui.Warning.Render("empty (no documents ingested)")
	}
	if stats.ChunkCount == 0 {
		return ui.Warning.Render("no chunks (re-ingest may be needed)")
	}
	return ui.Success.Render("healthy")
}
