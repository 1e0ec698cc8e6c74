package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/docrag/internal/chunker"
	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/embeddings"
	"github.com/nickcecere/docrag/internal/rag"
	"github.com/nickcecere/docrag/internal/store"
)

// app holds the services a command works with.
type app struct {
	cfg   *config.Config
	index store.Index
	emb   embeddings.Service
	rag   *rag.Service
}

// openApp validates the config and opens the index on the active
// collection. The embedding service is only created when withEmbedder is
// set, so read-only commands work without a provider.
func openApp(ctx context.Context, withEmbedder bool) (*app, error) {
	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg}

	dims := cfg.Collection.Dimensions
	if withEmbedder {
		emb, err := embeddings.NewService(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding service: %w", err)
		}
		a.emb = emb
		if dims == 0 {
			dims = emb.Dimensions()
		}
	}

	distance, err := store.ParseDistance(cfg.Collection.Distance)
	if err != nil {
		return nil, err
	}

	index, err := store.Open(ctx, store.Options{
		Backend:    store.Backend(cfg.Database.Backend),
		Path:       cfg.Database.Path,
		DSN:        cfg.Database.DSN,
		Collection: cfg.Collection.Name,
		Dimensions: dims,
		Distance:   distance,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	a.index = index

	split, err := chunker.SplitterByName(cfg.Chunking.Splitter)
	if err != nil {
		index.Close()
		return nil, err
	}
	ch, err := chunker.New(
		chunker.WithMaxChunkSize(cfg.Chunking.MaxChunkSize),
		chunker.WithOverlap(cfg.Chunking.Overlap),
		chunker.WithSplitter(split),
	)
	if err != nil {
		index.Close()
		return nil, err
	}

	// A nil interface keeps rag from calling a missing embedder.
	var embedder rag.Embedder
	if a.emb != nil {
		embedder = a.emb
	}
	a.rag = rag.New(index, embedder, rag.WithChunker(ch))

	log.Debug("Opened index",
		"backend", cfg.Database.Backend,
		"collection", index.ActiveCollection().Name,
		"dimensions", index.ActiveCollection().Dimensions,
	)
	return a, nil
}

func (a *app) Close() {
	if err := a.index.Close(); err != nil {
		log.Warn("Failed to close index", "error", err)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(onSignal func()) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			if onSignal != nil {
				onSignal()
			}
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
