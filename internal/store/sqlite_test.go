package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()

	idx, err := OpenSQLite(context.Background(), Options{Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func seedDocuments(t *testing.T, idx Index) {
	t.Helper()
	ctx := context.Background()

	_, err := idx.Add(ctx,
		[]ChunkInput{
			{Text: "alpha", Metadata: NewMetadata("lang", "en", "draft", true)},
			{Text: "beta", Metadata: NewMetadata("lang", "de", "draft", false)},
		},
		[][]float32{{1, 0, 0}, {0, 1, 0}},
		"doc_one",
		NewMetadata("title", "One"),
	)
	require.NoError(t, err)

	_, err = idx.Add(ctx,
		[]ChunkInput{{Text: "gamma", Metadata: NewMetadata("lang", "en")}},
		[][]float32{{0, 0, 1}},
		"doc_two",
		NewMetadata("title", "Two"),
	)
	require.NoError(t, err)
}

func texts(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Text
	}
	return out
}

func TestOpenSQLiteDefaults(t *testing.T) {
	idx, err := OpenSQLite(context.Background(), Options{})
	require.NoError(t, err)
	defer idx.Close()

	coll := idx.ActiveCollection()
	assert.Equal(t, DefaultCollection, coll.Name)
	assert.Equal(t, DefaultDimensions, coll.Dimensions)
	assert.Equal(t, DistanceCosine, coll.Distance)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "mongo"})
	assert.ErrorIs(t, err, ErrStoreInit)
}

func TestAddAssignsChunkIDsAndMetadata(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	ids, err := idx.Add(ctx,
		[]ChunkInput{
			{Text: "first"},
			{Text: "second", Metadata: NewMetadata("page", 2)},
		},
		[][]float32{{1, 0, 0}, {0, 1, 0}},
		"doc_abc",
		NewMetadata("title", "Report", "file_type", "pdf"),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_abc_chunk_0", "doc_abc_chunk_1"}, ids)

	chunks := idx.DocumentChunks(ctx, "doc_abc")
	require.Len(t, chunks, 2)
	assert.Equal(t, "first", chunks[0].Text)
	assert.Equal(t, []float32{0, 1, 0}, chunks[1].Embedding)
	assert.Equal(t,
		[]string{"doc_title", "doc_file_type", "document_id", "chunk_index", "page"},
		chunks[1].Metadata.Keys())
	assert.Equal(t, "doc_abc", chunks[1].DocumentID())

	ci, ok := chunks[1].Metadata.Get(KeyChunkIndex)
	require.True(t, ok)
	assert.Equal(t, IntValue(1), ci)
}

func TestAddGeneratesDocumentID(t *testing.T) {
	idx := setupTestIndex(t)

	ids, err := idx.Add(context.Background(),
		[]ChunkInput{{Text: "x"}}, [][]float32{{1, 0, 0}}, "", nil)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Regexp(t, regexp.MustCompile(`^doc_[0-9a-f]{32}_chunk_0$`), ids[0])
}

func TestAddEmptyInput(t *testing.T) {
	idx := setupTestIndex(t)

	ids, err := idx.Add(context.Background(), nil, nil, "doc_empty", nil)
	assert.NoError(t, err)
	assert.Nil(t, ids)
}

func TestAddValidation(t *testing.T) {
	tests := []struct {
		name       string
		chunks     []ChunkInput
		embeddings [][]float32
		docMeta    Metadata
	}{
		{
			name:       "count mismatch",
			chunks:     []ChunkInput{{Text: "a"}, {Text: "b"}},
			embeddings: [][]float32{{1, 0, 0}},
		},
		{
			name:       "dimension mismatch",
			chunks:     []ChunkInput{{Text: "a"}},
			embeddings: [][]float32{{1, 0}},
		},
		{
			name:       "reserved chunk key",
			chunks:     []ChunkInput{{Text: "a", Metadata: NewMetadata("document_id", "other")}},
			embeddings: [][]float32{{1, 0, 0}},
		},
		{
			name:       "bad document key",
			chunks:     []ChunkInput{{Text: "a"}},
			embeddings: [][]float32{{1, 0, 0}},
			docMeta:    NewMetadata(`ti"tle`, "x"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := setupTestIndex(t)
			ctx := context.Background()

			_, err := idx.Add(ctx, tt.chunks, tt.embeddings, "doc_bad", tt.docMeta)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, idx.DocumentChunks(ctx, "doc_bad"))
		})
	}
}

func TestSearchOrdersByDistance(t *testing.T) {
	idx := setupTestIndex(t)
	seedDocuments(t, idx)

	results := idx.Search(context.Background(), []float32{1, 0.1, 0}, SearchOptions{K: 3})
	require.Len(t, results, 3)
	assert.Equal(t, "alpha", results[0].Text)
	assert.Equal(t, "beta", results[1].Text)

	for i := 1; i < len(results); i++ {
		require.NotNil(t, results[i].Distance)
		assert.LessOrEqual(t, *results[i-1].Distance, *results[i].Distance)
	}
	assert.Nil(t, results[0].Embedding)
}

func TestSearchLimitsToK(t *testing.T) {
	idx := setupTestIndex(t)
	seedDocuments(t, idx)

	results := idx.Search(context.Background(), []float32{1, 0, 0}, SearchOptions{K: 1})
	require.Len(t, results, 1)
	assert.Equal(t, "alpha", results[0].Text)
	assert.InDelta(t, 0, *results[0].Distance, 1e-6)
}

func TestSearchFilters(t *testing.T) {
	idx := setupTestIndex(t)
	seedDocuments(t, idx)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "document id", filter: Where(Eq(KeyDocumentID, StringValue("doc_two"))), want: []string{"gamma"}},
		{name: "document in", filter: Where(DocumentIn("doc_one")), want: []string{"alpha", "beta"}},
		{name: "custom key", filter: Where(Eq("lang", StringValue("en"))), want: []string{"alpha", "gamma"}},
		{name: "bool key", filter: Where(Eq("draft", BoolValue(false))), want: []string{"beta"}},
		{name: "chunk index", filter: Where(Eq(KeyChunkIndex, IntValue(1))), want: []string{"beta"}},
		{name: "document prefix", filter: Where(Eq("doc_title", StringValue("Two"))), want: []string{"gamma"}},
		{name: "conjunction", filter: Where(DocumentIn("doc_one"), Eq("lang", StringValue("en"))), want: []string{"alpha"}},
		{name: "empty in", filter: Where(In("lang")), want: nil},
		{name: "no match", filter: Where(Eq("lang", StringValue("fr"))), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := idx.Search(context.Background(), []float32{1, 0.2, 0.1}, SearchOptions{K: 10, Filter: tt.filter})
			if tt.want == nil {
				assert.Empty(t, results)
				return
			}
			assert.Equal(t, tt.want, texts(results))
		})
	}
}

func TestSearchOptions(t *testing.T) {
	idx := setupTestIndex(t)
	seedDocuments(t, idx)
	ctx := context.Background()

	results := idx.Search(ctx, []float32{0, 0, 1}, SearchOptions{K: 1, IncludeEmbeddings: true, OmitDistances: true})
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Distance)
	assert.Equal(t, []float32{0, 0, 1}, results[0].Embedding)
}

func TestSearchDegradesToEmpty(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	assert.Empty(t, idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{K: 3}), "empty store")

	seedDocuments(t, idx)
	assert.Empty(t, idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{K: 0}), "k zero")
	assert.Empty(t, idx.Search(ctx, []float32{1, 0}, SearchOptions{K: 3}), "wrong dimension")
	assert.Empty(t, idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{
		K:      3,
		Filter: Filter{{Key: "lang", Op: OpEq}},
	}), "invalid filter")
}

func TestSearchZeroQuerySkipsMissingDistances(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	idx := setupTestIndex(t)
	seedDocuments(t, idx)

	assert.Empty(t, idx.Search(context.Background(), []float32{0, 0, 0}, SearchOptions{K: 3}))
	assert.Contains(t, buf.String(), "Skipped search results without a distance")
	assert.NotContains(t, buf.String(), "Search failed")
}

func TestDeleteRemovesAllChunks(t *testing.T) {
	idx := setupTestIndex(t)
	seedDocuments(t, idx)
	ctx := context.Background()

	assert.True(t, idx.Delete(ctx, "doc_one"))
	assert.Empty(t, idx.DocumentChunks(ctx, "doc_one"))
	assert.Empty(t, idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{K: 10, Filter: Where(DocumentIn("doc_one"))}))

	results := idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{K: 10})
	assert.Equal(t, []string{"gamma"}, texts(results))

	// Deleting again is still a success.
	assert.True(t, idx.Delete(ctx, "doc_one"))
	assert.True(t, idx.Delete(ctx, "doc_missing"))
}

func TestUpdateReplacesChunkSet(t *testing.T) {
	idx := setupTestIndex(t)
	seedDocuments(t, idx)
	ctx := context.Background()

	ids, err := idx.Update(ctx, "doc_one",
		[]ChunkInput{{Text: "replacement"}},
		[][]float32{{0, 1, 0}},
		NewMetadata("title", "One v2"),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_one_chunk_0"}, ids)

	chunks := idx.DocumentChunks(ctx, "doc_one")
	require.Len(t, chunks, 1)
	assert.Equal(t, "replacement", chunks[0].Text)
	assert.Equal(t, "One v2", chunks[0].Metadata.GetString("doc_title"))

	stats := idx.Stats(ctx)
	assert.Equal(t, 2, stats.DocumentCount)
	assert.Equal(t, 2, stats.ChunkCount)
}

func TestUpdateValidationKeepsOldChunks(t *testing.T) {
	idx := setupTestIndex(t)
	seedDocuments(t, idx)
	ctx := context.Background()

	_, err := idx.Update(ctx, "doc_one", []ChunkInput{{Text: "x"}}, nil, nil)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Len(t, idx.DocumentChunks(ctx, "doc_one"), 2)

	_, err = idx.Update(ctx, "", []ChunkInput{{Text: "x"}}, [][]float32{{1, 0, 0}}, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdateUnknownDocumentInserts(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	ids, err := idx.Update(ctx, "doc_new", []ChunkInput{{Text: "fresh"}}, [][]float32{{1, 0, 0}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_new_chunk_0"}, ids)
	assert.Len(t, idx.DocumentChunks(ctx, "doc_new"), 1)
}

func TestStats(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	stats := idx.Stats(ctx)
	assert.Equal(t, DefaultCollection, stats.Collection)
	assert.Equal(t, 0, stats.DocumentCount)
	assert.Equal(t, 0, stats.ChunkCount)

	seedDocuments(t, idx)

	stats = idx.Stats(ctx)
	assert.Equal(t, 2, stats.DocumentCount)
	assert.Equal(t, 3, stats.ChunkCount)
	require.Contains(t, stats.Collections, DefaultCollection)
	assert.Equal(t, CollectionStats{Count: 3, Documents: 2, Dimensions: 3, Distance: DistanceCosine},
		stats.Collections[DefaultCollection])
}

func TestCollections(t *testing.T) {
	idx := setupTestIndex(t)
	seedDocuments(t, idx)
	ctx := context.Background()

	coll, err := idx.CreateCollection(ctx, "small", CollectionOptions{Dimensions: 2, Distance: DistanceL2})
	require.NoError(t, err)
	assert.Equal(t, "small", coll.Name)
	assert.Equal(t, 2, coll.Dimensions)
	assert.Equal(t, DistanceL2, coll.Distance)

	again, err := idx.CreateCollection(ctx, "small", CollectionOptions{Dimensions: 5})
	require.NoError(t, err)
	assert.Equal(t, coll.ID, again.ID)
	assert.Equal(t, 2, again.Dimensions)

	assert.Equal(t, []string{"rag_collection", "small"}, idx.ListCollections(ctx))

	require.NoError(t, idx.UseCollection(ctx, "small"))
	assert.Equal(t, "small", idx.ActiveCollection().Name)
	assert.Empty(t, idx.Search(ctx, []float32{1, 0}, SearchOptions{K: 5}))

	_, err = idx.Add(ctx, []ChunkInput{{Text: "near"}, {Text: "far"}}, [][]float32{{1, 0}, {4, 0}}, "doc_small", nil)
	require.NoError(t, err)

	results := idx.Search(ctx, []float32{1, 0}, SearchOptions{K: 5})
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].Text)
	assert.InDelta(t, 0, *results[0].Distance, 1e-6)
	assert.InDelta(t, 3, *results[1].Distance, 1e-6)

	stats := idx.Stats(ctx)
	assert.Equal(t, "small", stats.Collection)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, 3, stats.Collections[DefaultCollection].Count)

	require.NoError(t, idx.UseCollection(ctx, DefaultCollection))
	assert.Len(t, idx.Search(ctx, []float32{1, 0, 0}, SearchOptions{K: 10}), 3)
}

func TestCollectionValidation(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	_, err := idx.CreateCollection(ctx, " ", CollectionOptions{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = idx.CreateCollection(ctx, "weird", CollectionOptions{Distance: "hamming"})
	assert.ErrorIs(t, err, ErrValidation)

	assert.ErrorIs(t, idx.UseCollection(ctx, ""), ErrValidation)
}

func TestUseCollectionCreatesMissing(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.UseCollection(ctx, "fresh"))
	coll := idx.ActiveCollection()
	assert.Equal(t, "fresh", coll.Name)
	assert.Equal(t, 3, coll.Dimensions)
	assert.Contains(t, idx.ListCollections(ctx), "fresh")
}

func TestInnerProductCollection(t *testing.T) {
	idx := setupTestIndex(t)
	ctx := context.Background()

	_, err := idx.CreateCollection(ctx, "dot", CollectionOptions{Dimensions: 2, Distance: DistanceInnerProduct})
	require.NoError(t, err)
	require.NoError(t, idx.UseCollection(ctx, "dot"))

	_, err = idx.Add(ctx,
		[]ChunkInput{{Text: "half"}, {Text: "full"}, {Text: "other"}},
		[][]float32{{0.5, 0}, {1, 0}, {0, 1}},
		"doc_dot", nil)
	require.NoError(t, err)

	results := idx.Search(ctx, []float32{1, 0}, SearchOptions{K: 2})
	require.Len(t, results, 2)
	assert.Equal(t, []string{"full", "half"}, texts(results))
	assert.InDelta(t, 0, *results[0].Distance, 1e-6)
	assert.InDelta(t, 0.5, *results[1].Distance, 1e-6)

	filtered := idx.Search(ctx, []float32{1, 0}, SearchOptions{K: 5, Filter: Where(Eq(KeyChunkIndex, IntValue(2)))})
	assert.Equal(t, []string{"other"}, texts(filtered))
}

func TestPersist(t *testing.T) {
	ctx := context.Background()

	mem := setupTestIndex(t)
	assert.False(t, mem.Persist(ctx))

	path := filepath.Join(t.TempDir(), "nested", "index.db")
	idx, err := OpenSQLite(ctx, Options{Path: path, Dimensions: 3})
	require.NoError(t, err)
	seedDocuments(t, idx)
	assert.True(t, idx.Persist(ctx))
	require.NoError(t, idx.Close())

	reopened, err := OpenSQLite(ctx, Options{Path: path, Dimensions: 3})
	require.NoError(t, err)
	defer reopened.Close()

	assert.Len(t, reopened.DocumentChunks(ctx, "doc_one"), 2)
	assert.Equal(t, 3, reopened.Stats(ctx).ChunkCount)
}
