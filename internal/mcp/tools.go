package mcp

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/rag"
	"github.com/nickcecere/docrag/internal/store"
)

// Tool names.
const (
	ToolSearch = "docrag_search"
	ToolIngest = "docrag_ingest"
	ToolRemove = "docrag_remove"
	ToolStatus = "docrag_status"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query       string   `json:"query" jsonschema:"the question or topic to find context for"`
	NumChunks   int      `json:"num_chunks,omitempty" jsonschema:"maximum number of chunks to return (default from config)"`
	Threshold   *float64 `json:"threshold,omitempty" jsonschema:"maximum distance for a chunk to count as relevant (default from config)"`
	DocumentIDs []string `json:"document_ids,omitempty" jsonschema:"restrict the search to these documents"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []ChunkOutput `json:"results"`
	Count   int           `json:"count"`

	// Context is the results rendered as prompt-ready document blocks.
	Context string `json:"context"`
}

// ChunkOutput is one retrieved chunk.
type ChunkOutput struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Title      string         `json:"title,omitempty"`
	Text       string         `json:"text"`
	Distance   float64        `json:"distance"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IngestInput is the input schema for the ingest tool.
type IngestInput struct {
	Path  string `json:"path" jsonschema:"file or directory to ingest"`
	Force bool   `json:"force,omitempty" jsonschema:"re-ingest files even when their content is unchanged"`
}

// IngestOutput is the output schema for the ingest tool.
type IngestOutput struct {
	Files     []indexer.FileResult `json:"files"`
	Created   int                  `json:"created"`
	Updated   int                  `json:"updated"`
	Unchanged int                  `json:"unchanged"`
	Failed    int                  `json:"failed"`
}

// RemoveInput is the input schema for the remove tool.
type RemoveInput struct {
	DocumentID string `json:"document_id" jsonschema:"the document to remove"`
}

// RemoveOutput is the output schema for the remove tool.
type RemoveOutput struct {
	DocumentID string `json:"document_id"`
	Removed    bool   `json:"removed"`
}

// StatusInput takes no arguments.
type StatusInput struct{}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolSearch,
		Description: "Find passages from ingested documents that are relevant to a question. Returns the chunks and a prompt-ready context block.",
	}, s.handleSearch)

	if s.indexer != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        ToolIngest,
			Description: "Ingest a PDF, DOCX, TXT or Markdown file, or every such file in a directory. Unchanged files are skipped.",
		}, s.handleIngest)
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolRemove,
		Description: "Remove a document and all of its chunks from the index.",
	}, s.handleRemove)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolStatus,
		Description: "Report document and chunk counts for the index and its collections.",
	}, s.handleStatus)
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, errors.New("query is required")
	}

	opts := rag.ContextOptions{
		DocumentIDs: input.DocumentIDs,
		NumChunks:   input.NumChunks,
		Threshold:   input.Threshold,
	}
	if opts.NumChunks <= 0 {
		opts.NumChunks = s.cfg.Retrieval.NumChunks
	}
	if opts.Threshold == nil {
		opts.Threshold = rag.Threshold(s.cfg.Retrieval.Threshold)
	}

	log.Debug("MCP search", "query", input.Query, "num_chunks", opts.NumChunks)
	results := s.rag.GetRelevantContext(ctx, input.Query, opts)

	output := SearchOutput{
		Results: make([]ChunkOutput, len(results)),
		Count:   len(results),
		Context: rag.FormatContext(results),
	}
	for i, r := range results {
		output.Results[i] = chunkOutput(r)
	}
	return nil, output, nil
}

func chunkOutput(r store.Result) ChunkOutput {
	out := ChunkOutput{
		ChunkID:    r.ID,
		DocumentID: r.DocumentID(),
		Title:      r.Metadata.GetString(store.DocumentPrefix + indexer.MetaTitle),
		Text:       r.Text,
		Metadata:   r.Metadata.Map(),
	}
	if r.Distance != nil {
		out.Distance = *r.Distance
	}
	return out
}

func (s *Server) handleIngest(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (*mcp.CallToolResult, IngestOutput, error) {
	if strings.TrimSpace(input.Path) == "" {
		return nil, IngestOutput{}, errors.New("path is required")
	}
	absPath, err := filepath.Abs(input.Path)
	if err != nil {
		return nil, IngestOutput{}, fmt.Errorf("failed to resolve path: %w", err)
	}

	results, err := s.indexer.Index(ctx, indexer.IndexOptions{Path: absPath, Force: input.Force})
	if err != nil {
		return nil, IngestOutput{}, fmt.Errorf("ingest failed: %w", err)
	}

	output := IngestOutput{Files: results}
	if output.Files == nil {
		output.Files = []indexer.FileResult{}
	}
	for _, r := range results {
		switch r.Action {
		case indexer.ActionCreated:
			output.Created++
		case indexer.ActionUpdated:
			output.Updated++
		case indexer.ActionUnchanged:
			output.Unchanged++
		case indexer.ActionFailed:
			output.Failed++
		}
	}
	return nil, output, nil
}

func (s *Server) handleRemove(ctx context.Context, _ *mcp.CallToolRequest, input RemoveInput) (*mcp.CallToolResult, RemoveOutput, error) {
	if strings.TrimSpace(input.DocumentID) == "" {
		return nil, RemoveOutput{}, errors.New("document_id is required")
	}
	removed := s.rag.RemoveDocument(ctx, input.DocumentID)
	return nil, RemoveOutput{DocumentID: input.DocumentID, Removed: removed}, nil
}

func (s *Server) handleStatus(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, rag.Statistics, error) {
	return nil, s.rag.Statistics(ctx), nil
}
