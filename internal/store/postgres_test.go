package store

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupPostgresIndex connects to DOCRAG_TEST_POSTGRES_DSN and activates a
// collection unique to the test.
func setupPostgresIndex(t *testing.T) *PostgresIndex {
	t.Helper()

	dsn := os.Getenv("DOCRAG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOCRAG_TEST_POSTGRES_DSN not set")
	}

	name := "test_" + strings.TrimPrefix(NewDocumentID(), "doc_")
	idx, err := OpenPostgres(context.Background(), Options{DSN: dsn, Collection: name, Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() {
		idx.pool.Exec(context.Background(), "DELETE FROM rag_collections WHERE name LIKE $1", name+"%")
		idx.Close()
	})
	return idx
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrStoreInit)
}

func TestPostgresRoundTrip(t *testing.T) {
	idx := setupPostgresIndex(t)
	seedDocuments(t, idx)
	ctx := context.Background()

	results := idx.Search(ctx, []float32{1, 0.1, 0}, SearchOptions{K: 3})
	require.Len(t, results, 3)
	assert.Equal(t, "alpha", results[0].Text)
	assert.Equal(t, []string{"doc_title", "document_id", "chunk_index", "lang", "draft"}, results[0].Metadata.Keys())

	filtered := idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{K: 10, Filter: Where(Eq("lang", StringValue("en")))})
	assert.Equal(t, []string{"alpha", "gamma"}, texts(filtered))

	byDoc := idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{K: 10, Filter: Where(DocumentIn("doc_two"))})
	assert.Equal(t, []string{"gamma"}, texts(byDoc))

	chunks := idx.DocumentChunks(ctx, "doc_one")
	require.Len(t, chunks, 2)
	assert.Equal(t, []float32{0, 1, 0}, chunks[1].Embedding)
}

func TestPostgresUpdateAndDelete(t *testing.T) {
	idx := setupPostgresIndex(t)
	seedDocuments(t, idx)
	ctx := context.Background()

	ids, err := idx.Update(ctx, "doc_one", []ChunkInput{{Text: "only"}}, [][]float32{{1, 0, 0}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_one_chunk_0"}, ids)
	assert.Len(t, idx.DocumentChunks(ctx, "doc_one"), 1)

	assert.True(t, idx.Delete(ctx, "doc_one"))
	assert.Empty(t, idx.DocumentChunks(ctx, "doc_one"))

	stats := idx.Stats(ctx)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, 1, stats.ChunkCount)
	assert.True(t, idx.Persist(ctx))
}

func TestPostgresInnerProduct(t *testing.T) {
	idx := setupPostgresIndex(t)
	ctx := context.Background()

	name := idx.ActiveCollection().Name + "_ip"
	_, err := idx.CreateCollection(ctx, name, CollectionOptions{Dimensions: 2, Distance: DistanceInnerProduct})
	require.NoError(t, err)
	require.NoError(t, idx.UseCollection(ctx, name))

	_, err = idx.Add(ctx, []ChunkInput{{Text: "half"}, {Text: "full"}}, [][]float32{{0.5, 0}, {1, 0}}, "doc_dot", nil)
	require.NoError(t, err)

	results := idx.Search(ctx, []float32{1, 0}, SearchOptions{K: 2})
	require.Len(t, results, 2)
	assert.Equal(t, "full", results[0].Text)
	assert.InDelta(t, 0, *results[0].Distance, 1e-6)
	assert.InDelta(t, 0.5, *results[1].Distance, 1e-6)
}
