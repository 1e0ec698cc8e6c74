package rag

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// Ingest chunks doc.Text (unless doc is pre-chunked), embeds the chunks and
// stores them. It returns the document ID.
func (s *Service) Ingest(ctx context.Context, doc ParsedDocument, documentID string) (string, error) {
	doc, embeddings, err := s.prepare(ctx, doc)
	if err != nil {
		return "", err
	}
	return s.ProcessDocument(ctx, doc, embeddings, documentID)
}

// Reingest is Ingest for an existing document: its chunks are replaced.
func (s *Service) Reingest(ctx context.Context, documentID string, doc ParsedDocument) ([]string, error) {
	doc, embeddings, err := s.prepare(ctx, doc)
	if err != nil {
		return nil, err
	}
	return s.UpdateDocument(ctx, documentID, doc, embeddings)
}

func (s *Service) prepare(ctx context.Context, doc ParsedDocument) (ParsedDocument, [][]float32, error) {
	if s.embedder == nil {
		return doc, nil, fmt.Errorf("no embedder configured")
	}
	if len(doc.Chunks) == 0 {
		doc.Chunks = s.chunker.Chunk(doc.Text)
	}
	texts := chunkTexts(doc)

	log.Debug("Embedding chunks", "count", len(texts))
	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return doc, nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	return doc, embeddings, nil
}
