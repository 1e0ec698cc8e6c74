// Package mcp serves document search to AI tools over the Model Context
// Protocol.
package mcp

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/rag"
)

const (
	// ServerName is the name of this MCP server.
	ServerName = "docrag"

	// ServerVersion is the version of this server.
	ServerVersion = "1.0.0"
)

// ErrMissingService is returned when NewServer is given no retrieval service.
var ErrMissingService = errors.New("rag service is required")

// Server is the MCP server for docrag.
type Server struct {
	rag     *rag.Service
	indexer *indexer.Indexer
	cfg     *config.Config
	server  *mcp.Server
}

// NewServer creates a new MCP server. idx may be nil, which leaves out the
// ingest tool.
func NewServer(svc *rag.Service, idx *indexer.Indexer, cfg *config.Config) (*Server, error) {
	if svc == nil {
		return nil, ErrMissingService
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	s := &Server{
		rag:     svc,
		indexer: idx,
		cfg:     cfg,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		}, nil),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log.Debug("MCP server starting", "name", ServerName, "version", ServerVersion)
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves a single session over t. It is used by tests with
// in-memory transports.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}
