package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/llm"
	"github.com/nickcecere/docrag/internal/rag"
	"github.com/nickcecere/docrag/internal/store"
	"github.com/nickcecere/docrag/internal/ui"
)

var (
	searchAnswer    bool
	searchContent   bool
	searchLimit     int
	searchThreshold float64
	searchDocs      []string
	searchJSON      bool
)

// searchCmd represents the search command
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find document chunks relevant to a query",
	Long: `Search the active collection for chunks relevant to a query.

Only chunks within the distance threshold are returned, closest first. When
nothing qualifies, no context is reported.

Examples:
  # Basic search
  docrag search "parental leave"

  # Show chunk text
  docrag search "parental leave" -c

  # Answer the question with the LLM
  docrag search "how long is parental leave?" -a

  # Only search two documents, with a looser threshold
  docrag search "expenses" --doc doc_a --doc doc_b --threshold 0.9`,
	Args: cobra.ExactArgs(1),
	RunE: runSearchCmd,
}

func init() {
	searchCmd.Flags().BoolVarP(&searchAnswer, "answer", "a", false, "generate an answer using the LLM")
	searchCmd.Flags().BoolVarP(&searchContent, "content", "c", false, "show chunk text in results")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "m", 0, "maximum number of chunks (default from config)")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "maximum distance for a relevant chunk (default from config)")
	searchCmd.Flags().StringArrayVar(&searchDocs, "doc", nil, "restrict to a document ID (repeatable)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
}

// contextOptions fills unset flags from the config. An explicit --threshold
// is passed through even when it is zero or negative.
func contextOptions(cmd *cobra.Command, cfg *config.Config) rag.ContextOptions {
	opts := rag.ContextOptions{
		DocumentIDs: searchDocs,
		NumChunks:   searchLimit,
		Threshold:   rag.Threshold(cfg.Retrieval.Threshold),
	}
	if opts.NumChunks <= 0 {
		opts.NumChunks = cfg.Retrieval.NumChunks
	}
	if cmd.Flags().Changed("threshold") {
		opts.Threshold = rag.Threshold(searchThreshold)
	}
	return opts
}

func runSearchCmd(cmd *cobra.Command, args []string) error {
	query := args[0]
	out := cmd.OutOrStdout()

	ctx, cancel := signalContext(func() { fmt.Fprintln(out, "\nInterrupted") })
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := contextOptions(cmd, a.cfg)
	log.Debug("Starting search",
		"query", query,
		"num_chunks", opts.NumChunks,
		"threshold", *opts.Threshold,
		"documents", opts.DocumentIDs,
	)

	results := a.rag.GetRelevantContext(ctx, query, opts)
	if ctx.Err() != nil {
		return nil
	}

	if searchJSON {
		return outputJSON(out, results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No relevant context found.")
		return nil
	}

	// Q&A mode with LLM
	if searchAnswer {
		return runQA(ctx, out, query, results, a.cfg)
	}

	displayResults(out, results, searchContent)
	return nil
}

// displayResults formats and displays search results.
func displayResults(out io.Writer, results []store.Result, showContent bool) {
	fmt.Fprintf(out, "Found %d relevant chunks:\n\n", len(results))

	for i, r := range results {
		title := resultTitle(r)
		index, _ := r.Metadata.Get(store.KeyChunkIndex)
		chunkIndex, _ := index.AsInt()

		header := fmt.Sprintf("%s %s %s",
			ui.Highlight.Render(fmt.Sprintf("[%d]", i+1)),
			ui.DocTitle.Render(title),
			ui.FormatChunkRef(r.DocumentID(), chunkIndex),
		)
		if r.Distance != nil {
			header += " " + ui.FormatDistance(*r.Distance)
		}
		fmt.Fprintln(out, header)

		if showContent {
			text := ui.Truncate(r.Text, 600)
			fileType := r.Metadata.GetString(store.DocumentPrefix + "file_type")
			fmt.Fprintln(out, ui.ResultContent.Render(ui.HighlightMarkdown(text, fileType)))
		}
		fmt.Fprintln(out)
	}
}

// resultTitle is the document title, falling back to the source and the ID.
func resultTitle(r store.Result) string {
	for _, key := range []string{indexer.MetaTitle, indexer.MetaSource} {
		if v := r.Metadata.GetString(store.DocumentPrefix + key); v != "" {
			return v
		}
	}
	return r.DocumentID()
}

// outputJSON outputs results as JSON.
func outputJSON(out io.Writer, results []store.Result) error {
	if results == nil {
		results = []store.Result{}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

// runQA generates an answer using the LLM with search results as context.
func runQA(ctx context.Context, out io.Writer, query string, results []store.Result, cfg *config.Config) error {
	llmService, err := llm.NewService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create LLM service: %w", err)
	}

	qaService := llm.NewQAService(llmService)

	// Start spinner while generating (no Answer header yet)
	stopSpinner := make(chan struct{})
	spinnerDone := make(chan struct{})
	go showSpinner(out, "Generating answer", stopSpinner, spinnerDone)

	opts := llm.DefaultQAOptions()
	opts.Stream = true // Still use stream internally for the channel API

	contentCh, errCh, sources := qaService.AnswerStream(ctx, query, results, opts)

	// Collect all content silently
	var contentBuilder strings.Builder
	for content := range contentCh {
		contentBuilder.WriteString(content)
	}

	close(stopSpinner)
	<-spinnerDone

	if err := <-errCh; err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("answer generation failed: %w", err)
	}

	fmt.Fprintln(out, ui.Header.Render("Answer"))
	fmt.Fprintln(out)

	rendered, err := ui.RenderMarkdown(contentBuilder.String(), 100)
	if err != nil {
		// Fallback to raw output if rendering fails
		fmt.Fprintln(out, contentBuilder.String())
	} else {
		fmt.Fprint(out, rendered)
	}

	if len(sources) > 0 {
		fmt.Fprintln(out, ui.Dim.Render("Sources:"))
		for i, s := range sources {
			fmt.Fprintf(out, "  [%d] %s (%s)\n", i+1, resultTitle(s), s.ID)
		}
	}

	return nil
}

// showSpinner displays an animated spinner until stopCh is closed.
func showSpinner(out io.Writer, message string, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	defer close(doneCh)

	i := 0
	for {
		select {
		case <-stopCh:
			// Clear spinner line
			fmt.Fprint(out, "\r\033[2K")
			return
		case <-ticker.C:
			fmt.Fprintf(out, "\r%s %s", ui.Highlight.Render(frames[i]), message)
			i = (i + 1) % len(frames)
		}
	}
}
