package embeddings

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
)

// Batched wraps a Service and splits EmbedBatch into fixed-size requests.
type Batched struct {
	Service
	size int
}

// NewBatched wraps svc. A size below 1 is treated as 1.
func NewBatched(svc Service, size int) *Batched {
	if size < 1 {
		size = 1
	}
	return &Batched{Service: svc, size: size}
}

// EmbedBatch embeds texts in order, size at a time.
func (b *Batched) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += b.size {
		end := min(start+b.size, len(texts))

		log.Debug("Embedding batch", "from", start, "to", end, "total", len(texts))
		vecs, err := b.Service.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		if err := checkCount(len(vecs), end-start); err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}
