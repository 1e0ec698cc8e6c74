// Package indexer keeps files on disk in sync with the document index.
package indexer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/extract"
	"github.com/nickcecere/docrag/internal/fs"
	"github.com/nickcecere/docrag/internal/rag"
	"github.com/nickcecere/docrag/internal/store"
)

// Document metadata keys written by the indexer. The index stores them
// with the doc_ prefix.
const (
	MetaTitle       = "title"
	MetaSource      = "source"
	MetaContentHash = "content_hash"
	MetaFileSize    = "file_size"
)

// Action describes what happened to one file.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
	ActionFailed    Action = "failed"
)

// Indexer ingests files through a rag.Service.
type Indexer struct {
	rag *rag.Service
	cfg *config.Config

	// Progress tracking
	progress Progress
	mu       sync.Mutex
}

// Progress tracks indexing progress.
type Progress struct {
	TotalFiles     int
	ProcessedFiles int
	SkippedFiles   int
	Created        int
	Updated        int
	Chunks         int
	Errors         int
	StartTime      time.Time
	CurrentFile    string
}

// ProgressFunc is called to report progress during indexing.
type ProgressFunc func(Progress)

// IndexOptions configures the indexing process.
type IndexOptions struct {
	// Path is the file or directory to index.
	Path string

	// Extensions limits to specific file extensions.
	Extensions []string

	// IgnorePatterns are additional patterns to ignore.
	IgnorePatterns []string

	// Force re-indexes files even if unchanged.
	Force bool

	// DryRun reports what would change without writing.
	DryRun bool

	// DocumentID overrides the path-derived ID. Only valid for a single file.
	DocumentID string

	// Title overrides the file-name title. Only valid for a single file.
	Title string

	// OnProgress is called to report progress.
	OnProgress ProgressFunc
}

// FileResult is the outcome for one file.
type FileResult struct {
	Path       string `json:"path"`
	DocumentID string `json:"document_id"`
	Action     Action `json:"action"`
	Chunks     int    `json:"chunks"`
	Error      string `json:"error,omitempty"`
}

// New creates a new Indexer.
func New(svc *rag.Service, cfg *config.Config) *Indexer {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Indexer{rag: svc, cfg: cfg}
}

// NewWalker builds the file walker for root from the ingest configuration.
func (idx *Indexer) NewWalker(root string, extensions, ignore []string) (*fs.FileWalker, error) {
	opts := fs.DefaultWalkOptions()
	opts.Root = root
	opts.IgnorePatterns = append(append([]string{}, idx.cfg.Ignore...), ignore...)

	if idx.cfg.Ingest.MaxFileSize > 0 {
		opts.MaxFileSize = int64(idx.cfg.Ingest.MaxFileSize)
	}
	if idx.cfg.Ingest.MaxFileCount > 0 {
		opts.MaxFileCount = idx.cfg.Ingest.MaxFileCount
	}
	switch {
	case len(extensions) > 0:
		opts.Extensions = extensions
	case len(idx.cfg.Ingest.Extensions) > 0:
		opts.Extensions = idx.cfg.Ingest.Extensions
	}

	return fs.NewFileWalker(opts)
}

// Index ingests every document under opts.Path. Per-file failures are
// recorded in the results and do not stop the run.
func (idx *Indexer) Index(ctx context.Context, opts IndexOptions) ([]FileResult, error) {
	walker, err := idx.NewWalker(opts.Path, opts.Extensions, opts.IgnorePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create file walker: %w", err)
	}

	// First pass: collect files and count
	var files []fs.FileInfo
	err = walker.Walk(func(fi fs.FileInfo) error {
		files = append(files, fi)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	if (opts.DocumentID != "" || opts.Title != "") && len(files) > 1 {
		return nil, fmt.Errorf("%w: --id and --title need a single file, found %d", store.ErrValidation, len(files))
	}

	idx.mu.Lock()
	idx.progress = Progress{
		StartTime:    time.Now(),
		TotalFiles:   len(files),
		SkippedFiles: walker.Stats().FilesSkipped,
	}
	idx.mu.Unlock()

	log.Info("Found documents to ingest", "count", len(files))

	results := make([]FileResult, 0, len(files))
	for _, fi := range files {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		idx.mu.Lock()
		idx.progress.CurrentFile = fi.RelPath
		idx.mu.Unlock()

		res, err := idx.IndexFile(ctx, fi, opts)
		if err != nil {
			log.Warn("Failed to ingest file", "path", fi.RelPath, "error", err)
		}
		results = append(results, res)

		idx.mu.Lock()
		idx.progress.ProcessedFiles++
		switch res.Action {
		case ActionCreated:
			idx.progress.Created++
			idx.progress.Chunks += res.Chunks
		case ActionUpdated:
			idx.progress.Updated++
			idx.progress.Chunks += res.Chunks
		case ActionFailed:
			idx.progress.Errors++
		}
		if opts.OnProgress != nil {
			opts.OnProgress(idx.progress)
		}
		idx.mu.Unlock()
	}

	p := idx.Progress()
	log.Info("Ingest complete",
		"created", p.Created,
		"updated", p.Updated,
		"chunks", p.Chunks,
		"errors", p.Errors,
		"duration", time.Since(p.StartTime).Round(time.Millisecond),
	)

	return results, nil
}

// IndexFile ingests one walked file. Unchanged files are skipped unless
// opts.Force is set; known documents are replaced in place.
func (idx *Indexer) IndexFile(ctx context.Context, fi fs.FileInfo, opts IndexOptions) (FileResult, error) {
	docID := opts.DocumentID
	if docID == "" {
		docID = fi.DocumentID()
	}
	res := FileResult{Path: fi.Path, DocumentID: docID}

	fail := func(err error) (FileResult, error) {
		res.Action = ActionFailed
		res.Error = err.Error()
		return res, err
	}

	existing := idx.rag.Index().DocumentChunks(ctx, docID)
	if len(existing) > 0 && !opts.Force {
		if existing[0].Metadata.GetString(store.DocumentPrefix+MetaContentHash) == fi.Hash {
			log.Debug("File unchanged, skipping", "path", fi.RelPath)
			res.Action = ActionUnchanged
			res.Chunks = len(existing)
			return res, nil
		}
	}

	doc, err := extract.File(fi.Path)
	if err != nil {
		return fail(err)
	}

	title := opts.Title
	if title == "" {
		title = TitleFromPath(fi.Path)
	}

	parsed := rag.ParsedDocument{
		Text:     doc.Text,
		Chunks:   idx.rag.Chunker().Chunk(doc.Text),
		FileType: doc.FileType,
		Metadata: store.NewMetadata(
			MetaTitle, title,
			MetaSource, fi.Path,
			MetaContentHash, fi.Hash,
			MetaFileSize, fi.Size,
		),
	}
	res.Chunks = max(len(parsed.Chunks), 1)

	if len(existing) > 0 {
		res.Action = ActionUpdated
	} else {
		res.Action = ActionCreated
	}
	if opts.DryRun {
		return res, nil
	}

	if len(existing) > 0 {
		ids, err := idx.rag.Reingest(ctx, docID, parsed)
		if err != nil {
			return fail(err)
		}
		res.Chunks = len(ids)
	} else {
		id, err := idx.rag.Ingest(ctx, parsed, docID)
		if err != nil {
			return fail(err)
		}
		res.DocumentID = id
	}

	log.Debug("Ingested file", "path", fi.RelPath, "document", res.DocumentID, "action", res.Action, "chunks", res.Chunks)
	return res, nil
}

// IndexPath ingests a single file by path, always re-reading it. This is
// used by the watcher for incremental updates.
func (idx *Indexer) IndexPath(ctx context.Context, path string) (FileResult, error) {
	walker, err := idx.NewWalker(path, nil, nil)
	if err != nil {
		return FileResult{Path: path, Action: ActionFailed, Error: err.Error()}, err
	}

	var found *fs.FileInfo
	if err := walker.Walk(func(fi fs.FileInfo) error {
		found = &fi
		return nil
	}); err != nil {
		return FileResult{Path: path, Action: ActionFailed, Error: err.Error()}, err
	}
	if found == nil {
		err := fmt.Errorf("%w: %s is not an ingestible document", store.ErrValidation, path)
		return FileResult{Path: path, Action: ActionFailed, Error: err.Error()}, err
	}

	return idx.IndexFile(ctx, *found, IndexOptions{})
}

// RemovePath removes the document ingested from path.
func (idx *Indexer) RemovePath(ctx context.Context, path string) bool {
	return idx.rag.RemoveDocument(ctx, fs.DocumentIDForPath(path))
}

// Progress returns the current indexing progress.
func (idx *Indexer) Progress() Progress {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.progress
}

// TitleFromPath derives a display title from a file name.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
