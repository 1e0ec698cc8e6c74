package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nickcecere/docrag/internal/extract"
	"github.com/nickcecere/docrag/internal/indexer"
	"github.com/nickcecere/docrag/internal/llm"
	"github.com/nickcecere/docrag/internal/rag"
	"github.com/nickcecere/docrag/internal/store"
)

const defaultUploadLimit = 32 << 20

// documentRequest is the JSON form of an upload. Text is chunked unless
// Chunks is given.
type documentRequest struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Text     string         `json:"text"`
	Chunks   []string       `json:"chunks"`
	FileType string         `json:"file_type"`
	Metadata store.Metadata `json:"metadata"`
}

type documentResponse struct {
	DocumentID string   `json:"document_id"`
	ChunkIDs   []string `json:"chunk_ids,omitempty"`
	Chunks     int      `json:"chunks"`
}

type searchRequest struct {
	Query       string   `json:"query"`
	NumChunks   int      `json:"num_chunks"`
	Threshold   *float64 `json:"threshold"`
	DocumentIDs []string `json:"document_ids"`
}

type searchResponse struct {
	Results []store.Result `json:"results"`
	Count   int            `json:"count"`
	Context string         `json:"context"`
}

type queryRequest struct {
	searchRequest
	Question     string  `json:"question"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	SystemPrompt string  `json:"system_prompt"`
}

type collectionRequest struct {
	Name       string         `json:"name"`
	Dimensions int            `json:"dimensions"`
	Distance   string         `json:"distance"`
	Metadata   store.Metadata `json:"metadata"`
	Use        bool           `json:"use"`
}

func (s *Server) createDocument(w http.ResponseWriter, r *http.Request) {
	id, doc, ok := s.parseDocument(w, r)
	if !ok {
		return
	}

	docID, err := s.rag.Ingest(r.Context(), doc, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	chunks := s.rag.Index().DocumentChunks(r.Context(), docID)
	writeJSON(w, http.StatusCreated, documentResponse{DocumentID: docID, Chunks: len(chunks)})
}

func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, doc, ok := s.parseDocument(w, r)
	if !ok {
		return
	}

	ids, err := s.rag.Reingest(r.Context(), id, doc)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentResponse{DocumentID: id, ChunkIDs: ids, Chunks: len(ids)})
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.rag.RemoveDocument(r.Context(), id) {
		writeError(w, http.StatusInternalServerError, "failed to remove document")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "removed": true})
}

func (s *Server) documentChunks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	chunks := s.rag.Index().DocumentChunks(r.Context(), id)
	if len(chunks) == 0 {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "chunks": chunks, "count": len(chunks)})
}

// parseDocument reads either a multipart upload (field "file") or a JSON
// body. It writes the error response itself when it returns false.
func (s *Server) parseDocument(w http.ResponseWriter, r *http.Request) (string, rag.ParsedDocument, bool) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return s.parseUpload(w, r)
	}

	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return "", rag.ParsedDocument{}, false
	}
	if strings.TrimSpace(req.Text) == "" && len(req.Chunks) == 0 {
		writeError(w, http.StatusBadRequest, "text or chunks required")
		return "", rag.ParsedDocument{}, false
	}

	md := req.Metadata.Clone()
	if req.Title != "" {
		md.Set(indexer.MetaTitle, store.StringValue(req.Title))
	}
	fileType := req.FileType
	if fileType == "" {
		fileType = extract.TypeText
	}
	return req.ID, rag.ParsedDocument{
		Text:     req.Text,
		Chunks:   req.Chunks,
		FileType: fileType,
		Metadata: md,
	}, true
}

func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (string, rag.ParsedDocument, bool) {
	limit := int64(s.cfg.Ingest.MaxFileSize)
	if limit <= 0 {
		limit = defaultUploadLimit
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return "", rag.ParsedDocument{}, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file required")
		return "", rag.ParsedDocument{}, false
	}
	defer file.Close()

	if header.Size > limit {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", limit))
		return "", rag.ParsedDocument{}, false
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return "", rag.ParsedDocument{}, false
	}

	// The part's content type wins over the file name when it is specific.
	nameOrType := header.Filename
	if ct := header.Header.Get("Content-Type"); ct != "" {
		if _, ok := extract.DetectType(ct); ok {
			nameOrType = ct
		}
	}

	parsed, err := extract.Bytes(data, nameOrType)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupported) {
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
		} else {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return "", rag.ParsedDocument{}, false
	}

	var md store.Metadata
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &md); err != nil {
			writeError(w, http.StatusBadRequest, "invalid metadata: "+err.Error())
			return "", rag.ParsedDocument{}, false
		}
	}
	title := r.FormValue("title")
	if title == "" {
		title = indexer.TitleFromPath(header.Filename)
	}
	md.Set(indexer.MetaTitle, store.StringValue(title))
	md.Set(indexer.MetaSource, store.StringValue(header.Filename))
	md.Set(indexer.MetaFileSize, store.IntValue(int64(len(data))))

	return r.FormValue("id"), rag.ParsedDocument{
		Text:     parsed.Text,
		FileType: parsed.FileType,
		Metadata: md,
	}, true
}

func (s *Server) contextOptions(req searchRequest) rag.ContextOptions {
	opts := rag.ContextOptions{
		DocumentIDs: req.DocumentIDs,
		NumChunks:   req.NumChunks,
		Threshold:   req.Threshold,
	}
	if opts.NumChunks <= 0 {
		opts.NumChunks = s.cfg.Retrieval.NumChunks
	}
	if opts.Threshold == nil {
		opts.Threshold = rag.Threshold(s.cfg.Retrieval.Threshold)
	}
	return opts
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}

	results := s.rag.GetRelevantContext(r.Context(), req.Query, s.contextOptions(req))
	if results == nil {
		results = []store.Result{}
	}
	writeJSON(w, http.StatusOK, searchResponse{
		Results: results,
		Count:   len(results),
		Context: rag.FormatContext(results),
	})
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	if s.qa == nil {
		writeError(w, http.StatusServiceUnavailable, "no LLM configured")
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	question := req.Question
	if question == "" {
		question = req.Query
	}
	if strings.TrimSpace(question) == "" {
		writeError(w, http.StatusBadRequest, "question required")
		return
	}

	results := s.rag.GetRelevantContext(r.Context(), question, s.contextOptions(req.searchRequest))

	opts := llm.DefaultQAOptions()
	if req.Temperature > 0 {
		opts.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts.MaxTokens = req.MaxTokens
	}
	opts.SystemPrompt = req.SystemPrompt

	res, err := s.qa.Answer(r.Context(), question, results, opts)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if res.Sources == nil {
		res.Sources = []store.Result{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.rag.Statistics(r.Context()))
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	idx := s.rag.Index()
	names := idx.ListCollections(r.Context())
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"collections": names,
		"active":      idx.ActiveCollection().Name,
	})
}

func (s *Server) createCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	idx := s.rag.Index()
	col, err := idx.CreateCollection(r.Context(), req.Name, store.CollectionOptions{
		Dimensions: req.Dimensions,
		Distance:   store.Distance(req.Distance),
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	if req.Use {
		if err := idx.UseCollection(r.Context(), col.Name); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, col)
}

func (s *Server) persist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"persisted": s.rag.Persist(r.Context())})
}
