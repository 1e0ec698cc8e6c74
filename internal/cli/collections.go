package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/store"
	"github.com/nickcecere/docrag/internal/ui"
)

var (
	collectionDimensions int
	collectionDistance   string
)

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	Aliases: []string{"collection"},
	Short:   "List or create collections",
	Long: `Collections are independent sets of chunks in one index. Each has a
fixed embedding dimension and distance function. Use --collection on any
command to work in a collection other than the configured one.

Examples:
  docrag collections
  docrag collections create handbook --dimensions 768 --distance cosine`,
	Args: cobra.NoArgs,
	RunE: runCollectionsList,
}

var collectionsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionsCreate,
}

func init() {
	collectionsCreateCmd.Flags().IntVar(&collectionDimensions, "dimensions", 0, "embedding dimensions (default: the active collection's)")
	collectionsCreateCmd.Flags().StringVar(&collectionDistance, "distance", "", "distance function: cosine, l2 or ip")
	collectionsCmd.AddCommand(collectionsCreateCmd)
}

func runCollectionsList(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	active := a.index.ActiveCollection().Name
	stats := a.index.Stats(ctx)

	fmt.Fprintln(out, ui.Header.Render("Collections"))
	fmt.Fprintln(out)
	for _, name := range a.index.ListCollections(ctx) {
		marker := "  "
		if name == active {
			marker = ui.Highlight.Render("* ")
		}
		cs := stats.Collections[name]
		fmt.Fprintf(out, "%s%-24s %s\n", marker, name,
			ui.Dim.Render(fmt.Sprintf("%d chunks, %d dims, %s", cs.Count, cs.Dimensions, cs.Distance)))
	}
	return nil
}

func runCollectionsCreate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	var distance store.Distance
	if collectionDistance != "" {
		if distance, err = store.ParseDistance(collectionDistance); err != nil {
			return err
		}
	}

	c, err := a.index.CreateCollection(ctx, args[0], store.CollectionOptions{
		Dimensions: collectionDimensions,
		Distance:   distance,
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	a.index.Persist(ctx)

	fmt.Fprintf(out, "%s %s %s\n", ui.Success.Render("Created"), ui.Bold.Render(c.Name),
		ui.Dim.Render(fmt.Sprintf("(%d dims, %s)", c.Dimensions, c.Distance)))
	return nil
}
