// Package watcher keeps a directory of documents in sync with the index.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/nickcecere/docrag/internal/fs"
	"github.com/nickcecere/docrag/internal/indexer"
)

// Event names passed to the callback.
const (
	EventIngest = "ingest"
	EventRemove = "remove"
	EventError  = "error"
)

// Syncer applies file changes to the index. *indexer.Indexer implements it.
type Syncer interface {
	IndexPath(ctx context.Context, path string) (indexer.FileResult, error)
	RemovePath(ctx context.Context, path string) bool
}

// Watcher watches for file changes and re-ingests or removes documents.
type Watcher struct {
	root   string
	walker *fs.FileWalker
	syncer Syncer

	// debounce holds pending file events to batch process
	debounce     map[string]fsnotify.Op
	debounceMu   sync.Mutex
	debounceTime time.Duration

	// callback for status updates
	onEvent func(event string, path string)
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounceTime sets the debounce duration for batching events.
func WithDebounceTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceTime = d
	}
}

// WithEventCallback sets a callback for file events.
func WithEventCallback(fn func(event string, path string)) Option {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// New creates a watcher for the directory the walker was built for. The
// walker decides which paths are documents.
func New(walker *fs.FileWalker, syncer Syncer, root string, opts ...Option) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("watch root does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root is not a directory: %s", absRoot)
	}

	w := &Watcher{
		root:         absRoot,
		walker:       walker,
		syncer:       syncer,
		debounce:     make(map[string]fsnotify.Op),
		debounceTime: 500 * time.Millisecond,
		onEvent:      func(string, string) {}, // noop default
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start begins watching for file changes. Blocks until context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Add all directories recursively
	if err := w.addDirectories(watcher, w.root); err != nil {
		return err
	}

	log.Info("Watching for document changes", "root", w.root)

	// Start debounce processor
	go w.processDebounced(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, watcher)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

// addDirectories recursively adds every directory the walker would descend
// into.
func (w *Watcher) addDirectories(watcher *fsnotify.Watcher, from string) error {
	return filepath.WalkDir(from, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if !d.IsDir() {
			return nil
		}

		if path != w.root && !w.watchable(path) {
			return filepath.SkipDir
		}

		if err := watcher.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) watchable(dir string) bool {
	return w.walker.MatchesDir(dir)
}

// handleEvent processes a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event, watcher *fsnotify.Watcher) {
	path := event.Name

	// For new directories, add to watcher. Files copied in with the
	// directory produce no events of their own, so queue them too.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if w.watchable(path) {
				w.addDirectories(watcher, path)
				w.queueTree(path)
				log.Debug("Added directory to watch", "path", path)
			}
			return
		}
	}

	w.queue(path, event.Op)
}

// queue adds a document path to the debounce set.
func (w *Watcher) queue(path string, op fsnotify.Op) {
	if !w.walker.Matches(path) {
		return
	}

	w.debounceMu.Lock()
	w.debounce[path] = op
	w.debounceMu.Unlock()
}

func (w *Watcher) queueTree(dir string) {
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			w.queue(path, fsnotify.Create)
		}
		return nil
	})
}

// Pending returns the number of queued paths.
func (w *Watcher) Pending() int {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()
	return len(w.debounce)
}

// processDebounced processes debounced file events periodically.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flushDebounced(ctx)
		}
	}
}

// flushDebounced processes all pending debounced events. The file's current
// state decides the action, since a burst of events may end in either.
func (w *Watcher) flushDebounced(ctx context.Context) {
	w.debounceMu.Lock()
	if len(w.debounce) == 0 {
		w.debounceMu.Unlock()
		return
	}

	// Swap out the map
	events := w.debounce
	w.debounce = make(map[string]fsnotify.Op)
	w.debounceMu.Unlock()

	for path, op := range events {
		select {
		case <-ctx.Done():
			return
		default:
		}

		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			relPath = path
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			// Deleted or renamed away
			if w.syncer.RemovePath(ctx, path) {
				w.onEvent(EventRemove, relPath)
				log.Info("Removed from index", "file", relPath)
			} else {
				w.onEvent(EventError, relPath)
			}
			continue
		}

		res, err := w.syncer.IndexPath(ctx, path)
		if err != nil {
			log.Error("Failed to ingest", "path", relPath, "op", op, "error", err)
			w.onEvent(EventError, relPath)
			continue
		}
		if res.Action == indexer.ActionUnchanged {
			log.Debug("Document unchanged", "file", relPath)
			continue
		}
		w.onEvent(EventIngest, relPath)
		log.Info("Ingested", "file", relPath, "action", res.Action, "chunks", res.Chunks)
	}
}
