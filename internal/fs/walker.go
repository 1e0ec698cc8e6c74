package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/nickcecere/docrag/internal/extract"
)

// Editor, office lock and OS files are never documents.
var builtinIgnores = []string{
	`~\$*`,
	".~lock.*#",
	"*.tmp",
	"*.swp",
	"*~",
	".DS_Store",
	"Thumbs.db",
}

// sniffSize is how much of a text file is read to rule out binary content.
const sniffSize = 8 << 10

// FileWalker finds the documents under a root. It is not safe for
// concurrent Walk calls.
type FileWalker struct {
	opts   WalkOptions
	ignore []*gitignore.GitIgnore
	exts   map[string]struct{}
	stats  WalkStats

	// single is set when Root names a file rather than a directory.
	single bool
}

// NewFileWalker creates a new file walker. Root may be a directory or a
// single file; a single file bypasses the hidden and ignore rules.
func NewFileWalker(opts WalkOptions) (*FileWalker, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	opts.Root = root

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path does not exist: %w", err)
	}

	w := &FileWalker{
		opts:   opts,
		exts:   extensionSet(opts.Extensions),
		single: !info.IsDir(),
	}
	if !w.single {
		w.ignore = w.loadIgnores()
	}
	return w, nil
}

// extensionSet normalizes extensions to lower case with a leading dot. A nil
// set allows every supported type.
func extensionSet(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}

// loadIgnores compiles the configured patterns and, when enabled, the root
// .gitignore. A broken .gitignore is logged and skipped.
func (w *FileWalker) loadIgnores() []*gitignore.GitIgnore {
	patterns := append(append([]string{}, w.opts.IgnorePatterns...), builtinIgnores...)
	matchers := []*gitignore.GitIgnore{gitignore.CompileIgnoreLines(patterns...)}

	if !w.opts.UseGitignore {
		return matchers
	}
	path := filepath.Join(w.opts.Root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return matchers
	}
	gi, err := gitignore.CompileIgnoreFile(path)
	if err != nil {
		log.Warn("Failed to parse .gitignore", "path", path, "error", err)
		return matchers
	}
	return append(matchers, gi)
}

func (w *FileWalker) ignored(relPath string) bool {
	for _, gi := range w.ignore {
		if gi.MatchesPath(relPath) {
			return true
		}
	}
	return false
}

func (w *FileWalker) hidden(name string) bool {
	return !w.opts.IncludeHidden && strings.HasPrefix(name, ".")
}

// dirAllowed reports whether the walk descends into a directory. .git is
// never walked, even with hidden entries included.
func (w *FileWalker) dirAllowed(name, relPath string) bool {
	return name != ".git" && !w.hidden(name) && !w.ignored(relPath+"/")
}

func (w *FileWalker) fileAllowed(name, relPath string) bool {
	return !w.hidden(name) && !w.ignored(relPath)
}

// fileType maps path onto an extractor type, honoring the extension filter.
func (w *FileWalker) fileType(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if w.exts != nil {
		if _, ok := w.exts[ext]; !ok {
			return "", false
		}
	}
	return extract.DetectType(ext)
}

// relative returns path relative to the root, or false when it lies outside.
func (w *FileWalker) relative(path string) (string, bool) {
	rel, err := filepath.Rel(w.opts.Root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// Walk calls fn for each document under the root. The walk stops at the
// first error from fn; unreadable entries are skipped.
func (w *FileWalker) Walk(fn func(FileInfo) error) error {
	w.stats = WalkStats{}

	if w.single {
		info, err := os.Stat(w.opts.Root)
		if err != nil {
			return fmt.Errorf("failed to stat file: %w", err)
		}
		return w.visit(w.opts.Root, filepath.Base(w.opts.Root), info, fn)
	}

	return filepath.WalkDir(w.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Debug("Error accessing path", "path", path, "error", err)
			return nil
		}
		if path == w.opts.Root {
			return nil
		}

		relPath, _ := w.relative(path)
		if d.IsDir() {
			if !w.dirAllowed(d.Name(), relPath) {
				w.stats.DirsSkipped++
				return filepath.SkipDir
			}
			return nil
		}

		if w.opts.MaxFileCount > 0 && w.stats.FilesFound >= w.opts.MaxFileCount {
			return filepath.SkipAll
		}
		if !w.fileAllowed(d.Name(), relPath) {
			w.skip(relPath, "ignored", 0)
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Debug("Failed to get file info", "path", path, "error", err)
			return nil
		}
		return w.visit(path, relPath, info, fn)
	})
}

func (w *FileWalker) visit(path, relPath string, info os.FileInfo, fn func(FileInfo) error) error {
	fi, err := w.inspect(path, relPath, info)
	if err != nil {
		return nil
	}
	w.stats.FilesFound++
	w.stats.TotalBytes += fi.Size
	return fn(fi)
}

var errSkipped = errors.New("skipped")

// inspect applies the size, type and content checks to one file.
func (w *FileWalker) inspect(path, relPath string, info os.FileInfo) (FileInfo, error) {
	size := info.Size()
	if !info.Mode().IsRegular() {
		return FileInfo{}, w.skip(relPath, "not a regular file", 0)
	}
	if w.opts.MaxFileSize > 0 && size > w.opts.MaxFileSize {
		return FileInfo{}, w.skip(relPath, "too large", size)
	}

	fileType, ok := w.fileType(path)
	if !ok {
		return FileInfo{}, w.skip(relPath, "unsupported type", 0)
	}

	// PDF and DOCX are binary by nature; only text types are sniffed.
	if fileType == extract.TypeText || fileType == extract.TypeMarkdown {
		if binary, err := isBinaryFile(path); err != nil || binary {
			return FileInfo{}, w.skip(relPath, "binary content", 0)
		}
	}

	hash, err := hashFile(path)
	if err != nil {
		return FileInfo{}, w.skip(relPath, "unreadable", 0)
	}

	return FileInfo{
		Path:     path,
		RelPath:  relPath,
		Size:     size,
		ModTime:  info.ModTime(),
		Hash:     hash,
		FileType: fileType,
	}, nil
}

func (w *FileWalker) skip(relPath, reason string, size int64) error {
	log.Debug("Skipping file", "path", relPath, "reason", reason)
	w.stats.FilesSkipped++
	w.stats.SkippedBytes += size
	return errSkipped
}

// Stats returns the statistics of the last walk.
func (w *FileWalker) Stats() WalkStats {
	return w.stats
}

// Matches reports whether path (absolute) would be yielded by a walk of the
// root, ignoring size and content checks.
func (w *FileWalker) Matches(path string) bool {
	if w.single {
		return path == w.opts.Root
	}

	relPath, ok := w.relative(path)
	if !ok || relPath == "." {
		return false
	}
	if !w.MatchesDir(filepath.Dir(path)) || !w.fileAllowed(filepath.Base(path), relPath) {
		return false
	}
	_, ok = w.fileType(path)
	return ok
}

// MatchesDir reports whether a walk of the root would descend into dir.
func (w *FileWalker) MatchesDir(dir string) bool {
	if w.single {
		return false
	}

	relPath, ok := w.relative(dir)
	if !ok {
		return false
	}
	if relPath == "." {
		return true
	}

	parts := strings.Split(relPath, string(filepath.Separator))
	for i, part := range parts {
		if !w.dirAllowed(part, filepath.Join(parts[:i+1]...)) {
			return false
		}
	}
	return true
}

// hashFile computes the xxhash of a file's contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// HashContent computes the xxhash of content bytes.
func HashContent(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// DocumentIDForPath derives a stable document ID from a file path, so
// re-ingesting or watching the same file updates one document.
func DocumentIDForPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "doc_" + HashContent([]byte(filepath.ToSlash(path)))
}

func isBinaryFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, sniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return false, err
	}
	return isBinaryContent(buf[:n]), nil
}

// isBinaryContent treats any NUL byte, or more than 30% control
// characters, as binary.
func isBinaryContent(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	control := 0
	for _, b := range content {
		switch {
		case b == 0:
			return true
		case b < 32 && b != '\t' && b != '\n' && b != '\r':
			control++
		}
	}
	return float64(control)/float64(len(content)) > 0.3
}
