// Package fs finds the documents under a path for ingestion.
package fs

import (
	"time"

	"github.com/nickcecere/docrag/internal/extract"
)

// FileInfo describes one document file found by a walk.
type FileInfo struct {
	Path     string    // Absolute path to the file
	RelPath  string    // Path relative to the root
	Size     int64     // File size in bytes
	ModTime  time.Time // Last modification time
	Hash     string    // xxhash of file contents
	FileType string    // extract type: pdf, docx, txt or md
}

// DocumentID returns the stable document ID for this file.
func (f FileInfo) DocumentID() string {
	return DocumentIDForPath(f.Path)
}

// WalkOptions configures the file walker.
type WalkOptions struct {
	// Root is the directory (or single file) to start walking from.
	Root string

	// MaxFileSize is the maximum file size to process (in bytes).
	MaxFileSize int64

	// MaxFileCount is the maximum number of files to process.
	MaxFileCount int

	// IgnorePatterns are additional patterns to ignore (gitignore syntax).
	IgnorePatterns []string

	// IncludeHidden includes hidden files and directories.
	IncludeHidden bool

	// UseGitignore respects .gitignore files.
	UseGitignore bool

	// Extensions limits to specific file extensions (e.g., ".pdf", ".md").
	// Empty means every type the extractor supports.
	Extensions []string
}

// DefaultWalkOptions returns the limits used when the configuration leaves
// them unset.
func DefaultWalkOptions() WalkOptions {
	return WalkOptions{
		MaxFileSize:  20 * 1024 * 1024, // 20MB
		MaxFileCount: 10000,
		UseGitignore: true,
		Extensions:   extract.SupportedExtensions(),
	}
}

// WalkStats counts what the last walk found and skipped.
type WalkStats struct {
	FilesFound   int   // Total files found
	FilesSkipped int   // Files skipped due to size/pattern/etc
	DirsSkipped  int   // Directories skipped
	TotalBytes   int64 // Total bytes of files found
	SkippedBytes int64 // Total bytes of skipped files
}
