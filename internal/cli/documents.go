package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/store"
	"github.com/nickcecere/docrag/internal/ui"
)

var chunksJSON bool

var chunksCmd = &cobra.Command{
	Use:   "chunks <document-id>",
	Short: "List the stored chunks of a document",
	Long: `List every chunk stored for a document in the active collection, in
chunk order.

Examples:
  docrag chunks doc_1a2b3c4d5e6f7a8b
  docrag chunks doc_1a2b3c4d5e6f7a8b --json`,
	Args: cobra.ExactArgs(1),
	RunE: runChunks,
}

var removeCmd = &cobra.Command{
	Use:     "remove <document-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a document and its chunks",
	Args:    cobra.ExactArgs(1),
	RunE:    runRemove,
}

func init() {
	chunksCmd.Flags().BoolVar(&chunksJSON, "json", false, "output chunks as JSON")
}

func runChunks(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	chunks := a.index.DocumentChunks(ctx, args[0])
	if chunksJSON {
		return outputJSON(out, chunks)
	}
	if len(chunks) == 0 {
		fmt.Fprintf(out, "No chunks found for %s\n", args[0])
		return nil
	}

	fmt.Fprintf(out, "%s %s\n\n", ui.DocTitle.Render(resultTitle(chunks[0])), ui.Dim.Render(fmt.Sprintf("(%d chunks)", len(chunks))))
	for _, c := range chunks {
		index, _ := c.Metadata.Get(store.KeyChunkIndex)
		n, _ := index.AsInt()
		fmt.Fprintln(out, ui.FormatChunkRef(c.DocumentID(), n)+" "+ui.Dim.Render(c.ID))
		fmt.Fprintln(out, ui.ResultContent.Render(ui.Truncate(c.Text, 300)))
		fmt.Fprintln(out)
	}
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.rag.RemoveDocument(ctx, args[0]) {
		fmt.Fprintf(out, "%s %s\n", ui.Warning.Render("Not found:"), args[0])
		return nil
	}
	a.rag.Persist(ctx)
	fmt.Fprintf(out, "%s %s\n", ui.Success.Render("Removed"), args[0])
	return nil
}
