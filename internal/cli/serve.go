package cli

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/nickcecere/docrag/internal/llm"
	"github.com/nickcecere/docrag/internal/server"
	"github.com/nickcecere/docrag/internal/ui"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the index over HTTP",
	Long: `Start an HTTP JSON API over the active collection.

Endpoints:
  POST   /documents              ingest a document (JSON or multipart upload)
  PUT    /documents/{id}         replace a document's chunks
  DELETE /documents/{id}         remove a document
  GET    /documents/{id}/chunks  list a document's chunks
  POST   /search                 retrieve relevant chunks
  POST   /query                  answer a question with the LLM
  GET    /stats                  index statistics
  GET    /collections            list collections
  POST   /collections            create or switch collections
  POST   /persist                flush the index to disk

Examples:
  docrag serve
  docrag serve --addr :9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	ctx, cancel := signalContext(func() { fmt.Fprintln(out, "\nShutting down...") })
	defer cancel()

	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	// Question answering is optional; retrieval works without an LLM.
	var qa *llm.QAService
	if svc, err := llm.NewService(a.cfg); err != nil {
		log.Warn("LLM unavailable, /query disabled", "error", err)
	} else {
		qa = llm.NewQAService(svc)
	}

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	fmt.Fprintln(out, ui.Header.Render("Serving "+a.index.ActiveCollection().Name))
	fmt.Fprintf(out, "Listening on http://%s\n", addr)
	fmt.Fprintln(out, "Press Ctrl+C to stop.")

	srv := server.New(a.rag, qa, a.cfg)
	err = srv.ListenAndServe(ctx, addr)
	a.rag.Persist(ctx)
	return err
}
