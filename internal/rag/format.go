package rag

import (
	"strings"

	"github.com/nickcecere/docrag/internal/store"
)

// DocumentIDFromChunkID strips the "_chunk_N" suffix from a chunk ID. IDs
// without the suffix are returned unchanged.
func DocumentIDFromChunkID(chunkID string) string {
	i := strings.LastIndex(chunkID, "_chunk_")
	if i < 0 {
		return chunkID
	}
	suffix := chunkID[i+len("_chunk_"):]
	if suffix == "" {
		return chunkID
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return chunkID
		}
	}
	return chunkID[:i]
}

// FormatContext renders results as "[Document: title]" blocks for a prompt.
func FormatContext(results []store.Result) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		title := r.Metadata.GetString(store.DocumentPrefix + "title")
		if title == "" {
			title = r.Metadata.GetString("title")
		}
		if title == "" {
			title = "Unknown"
		}
		blocks = append(blocks, "[Document: "+title+"]\n"+strings.TrimSpace(r.Text))
	}
	return strings.Join(blocks, "\n\n")
}
