package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/nickcecere/docrag/internal/config"
	"github.com/nickcecere/docrag/internal/llm"
	"github.com/nickcecere/docrag/internal/rag"
	"github.com/nickcecere/docrag/internal/store"
)

// mockEmbedder puts everything on the x axis except text mentioning
// "weather", which goes to y.
type mockEmbedder struct{}

func (mockEmbedder) vector(text string) []float32 {
	if strings.Contains(text, "weather") {
		return []float32{0, 1, 0}
	}
	return []float32{1, 0, 0}
}

func (m mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return m.vector(text), nil
}

func (m mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

type mockLLM struct {
	messages []llm.Message
}

func (m *mockLLM) Complete(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (string, error) {
	m.messages = messages
	return "Revenue grew 12%.", nil
}

func (m *mockLLM) CompleteStream(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (<-chan string, <-chan error) {
	contentCh := make(chan string, 1)
	errCh := make(chan error)
	contentCh <- "Revenue grew 12%."
	close(contentCh)
	close(errCh)
	return contentCh, errCh
}

func (m *mockLLM) Provider() llm.Provider { return llm.ProviderOllama }
func (m *mockLLM) ModelName() string      { return "mock" }

func setupServer(t *testing.T, model llm.Service) *Server {
	t.Helper()

	idx, err := store.OpenSQLite(context.Background(), store.Options{Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	var qa *llm.QAService
	if model != nil {
		qa = llm.NewQAService(model)
	}
	return New(rag.New(idx, mockEmbedder{}), qa, config.DefaultConfig())
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, s *Server, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := setupServer(t, nil)

	rec := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
}

func TestDocumentLifecycle(t *testing.T) {
	s := setupServer(t, nil)

	rec := do(t, s, http.MethodPost, "/documents", map[string]any{
		"id":       "doc_report",
		"title":    "Q3 Report",
		"text":     "Revenue grew 12% in Q3.",
		"metadata": map[string]any{"year": 2024},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "doc_report", gjson.Get(rec.Body.String(), "document_id").String())
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "chunks").Int())

	rec = do(t, s, http.MethodGet, "/documents/doc_report/chunks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, int64(1), gjson.Get(body, "count").Int())
	assert.Equal(t, "doc_report_chunk_0", gjson.Get(body, "chunks.0.id").String())
	assert.Equal(t, "Q3 Report", gjson.Get(body, "chunks.0.metadata.doc_title").String())
	assert.Equal(t, int64(2024), gjson.Get(body, "chunks.0.metadata.doc_year").Int())
	assert.Equal(t, "txt", gjson.Get(body, "chunks.0.metadata.doc_file_type").String())

	rec = do(t, s, http.MethodPost, "/search", map[string]any{"query": "How much did revenue grow?"})
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.Equal(t, int64(1), gjson.Get(body, "count").Int())
	assert.Equal(t, "[Document: Q3 Report]\nRevenue grew 12% in Q3.", gjson.Get(body, "context").String())

	rec = do(t, s, http.MethodPut, "/documents/doc_report", map[string]any{
		"title":  "Q3 Report",
		"chunks": []string{"Revenue grew 12% in Q3.", "Costs were flat."},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []any{"doc_report_chunk_0", "doc_report_chunk_1"}, gjson.Get(rec.Body.String(), "chunk_ids").Value())

	rec = do(t, s, http.MethodGet, "/documents/doc_report/chunks", nil)
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "count").Int())

	rec = do(t, s, http.MethodDelete, "/documents/doc_report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "removed").Bool())

	rec = do(t, s, http.MethodGet, "/documents/doc_report/chunks", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSearchFiltersByThresholdAndDocument(t *testing.T) {
	s := setupServer(t, nil)

	for id, text := range map[string]string{
		"doc_a": "Revenue grew.",
		"doc_b": "Revenue fell.",
		"doc_c": "The weather was mild.",
	} {
		rec := do(t, s, http.MethodPost, "/documents", map[string]any{"id": id, "text": text})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := do(t, s, http.MethodPost, "/search", map[string]any{"query": "revenue", "num_chunks": 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "count").Int(), "orthogonal chunk is past the threshold")

	rec = do(t, s, http.MethodPost, "/search", map[string]any{"query": "revenue", "num_chunks": 5, "threshold": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "count").Int(), "zero threshold keeps exact matches")

	rec = do(t, s, http.MethodPost, "/search", map[string]any{"query": "revenue", "num_chunks": 5, "threshold": -1})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), gjson.Get(rec.Body.String(), "count").Int())

	rec = do(t, s, http.MethodPost, "/search", map[string]any{
		"query":        "revenue",
		"num_chunks":   5,
		"document_ids": []string{"doc_b"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, int64(1), gjson.Get(body, "count").Int())
	assert.Equal(t, "doc_b", gjson.Get(body, "results.0.metadata.document_id").String())

	rec = do(t, s, http.MethodPost, "/search", map[string]any{"query": "weather report", "document_ids": []string{"doc_a"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), gjson.Get(rec.Body.String(), "count").Int())
	assert.True(t, gjson.Get(rec.Body.String(), "results").IsArray())
}

func TestCreateDocumentUpload(t *testing.T) {
	s := setupServer(t, nil)

	rec := upload(t, s, "meeting-notes.md", []byte("# Notes\n\nShip   the\nrelease."), map[string]string{"id": "doc_notes"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "doc_notes", gjson.Get(rec.Body.String(), "document_id").String())

	rec = do(t, s, http.MethodGet, "/documents/doc_notes/chunks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Equal(t, "meeting-notes", gjson.Get(body, "chunks.0.metadata.doc_title").String())
	assert.Equal(t, "meeting-notes.md", gjson.Get(body, "chunks.0.metadata.doc_source").String())
	assert.Equal(t, "md", gjson.Get(body, "chunks.0.metadata.doc_file_type").String())
	assert.Equal(t, "# Notes Ship the release.", gjson.Get(body, "chunks.0.text").String())

	rec = do(t, s, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body = rec.Body.String()
	assert.Equal(t, int64(1), gjson.Get(body, "processed_documents").Int())
	assert.Equal(t, int64(1), gjson.Get(body, "vector_store.document_count").Int())
}

func TestCreateDocumentUploadErrors(t *testing.T) {
	s := setupServer(t, nil)

	rec := upload(t, s, "photo.png", []byte("\x89PNG"), nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = upload(t, s, "broken.pdf", []byte("not a pdf"), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = upload(t, s, "notes.txt", []byte("hello"), map[string]string{"metadata": "[1,2]"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	s := setupServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"malformed document", http.MethodPost, "/documents", "{", http.StatusBadRequest},
		{"empty document", http.MethodPost, "/documents", map[string]any{"text": "  "}, http.StatusBadRequest},
		{"nested metadata", http.MethodPost, "/documents", `{"text":"x","metadata":{"a":{"b":1}}}`, http.StatusBadRequest},
		{"empty query", http.MethodPost, "/search", map[string]any{"query": ""}, http.StatusBadRequest},
		{"malformed search", http.MethodPost, "/search", "nope", http.StatusBadRequest},
		{"no llm", http.MethodPost, "/query", map[string]any{"question": "why?"}, http.StatusServiceUnavailable},
		{"unknown route", http.MethodGet, "/nope", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestDimensionMismatchIsBadRequest(t *testing.T) {
	idx, err := store.OpenSQLite(context.Background(), store.Options{Dimensions: 4})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	s := New(rag.New(idx, mockEmbedder{}), nil, nil)

	rec := do(t, s, http.MethodPost, "/documents", map[string]any{"text": "three dims"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, gjson.Get(rec.Body.String(), "error").String(), "dimension")
}

func TestQuery(t *testing.T) {
	model := &mockLLM{}
	s := setupServer(t, model)

	rec := do(t, s, http.MethodPost, "/documents", map[string]any{
		"id":    "doc_report",
		"title": "Q3 Report",
		"text":  "Revenue grew 12% in Q3.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, s, http.MethodPost, "/query", map[string]any{"question": "How much did revenue grow?"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Equal(t, "Revenue grew 12%.", gjson.Get(body, "answer").String())
	assert.Equal(t, int64(1), gjson.Get(body, "sources.#").Int())

	require.Len(t, model.messages, 2)
	assert.Equal(t, "Context: [Document: Q3 Report]\nRevenue grew 12% in Q3.\n\nQuestion: How much did revenue grow?", model.messages[1].Content)

	model.messages = nil
	rec = do(t, s, http.MethodPost, "/query", map[string]any{"question": "What about the weather?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, llm.NoContextAnswer, gjson.Get(rec.Body.String(), "answer").String())
	assert.Nil(t, model.messages, "model is not called without context")
}

func TestCollections(t *testing.T) {
	s := setupServer(t, nil)

	rec := do(t, s, http.MethodPost, "/collections", map[string]any{"name": "legal", "dimensions": 3, "distance": "l2"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "legal", gjson.Get(rec.Body.String(), "name").String())
	assert.Equal(t, "l2", gjson.Get(rec.Body.String(), "distance").String())

	rec = do(t, s, http.MethodGet, "/collections", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"legal", store.DefaultCollection}, gjson.Get(rec.Body.String(), "collections").Value())
	assert.Equal(t, store.DefaultCollection, gjson.Get(rec.Body.String(), "active").String())

	rec = do(t, s, http.MethodPost, "/collections", map[string]any{"name": "hr", "dimensions": 3, "use": true})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = do(t, s, http.MethodGet, "/collections", nil)
	assert.Equal(t, "hr", gjson.Get(rec.Body.String(), "active").String())

	rec = do(t, s, http.MethodPost, "/collections", map[string]any{"name": "bad", "distance": "manhattan"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/collections", map[string]any{"name": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPersistInMemory(t *testing.T) {
	s := setupServer(t, nil)

	rec := do(t, s, http.MethodPost, "/persist", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, gjson.Get(rec.Body.String(), "persisted").Bool())
}

func TestListenAndServeStops(t *testing.T) {
	s := setupServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	assert.NoError(t, <-done)
}
