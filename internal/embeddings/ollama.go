package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
)

const (
	defaultOllamaURL        = "http://localhost:11434"
	defaultOllamaDimensions = 768
)

// Some models are trained with instruction prefixes and retrieve noticeably
// worse without them.
var taskPrefixes = map[string]struct {
	document string
	query    string
}{
	"nomic-embed-text": {
		document: "search_document: ",
		query:    "search_query: ",
	},
	"mxbai-embed-large": {
		query: "Represent this sentence for searching relevant passages: ",
	},
}

// OllamaService embeds text with a local Ollama server.
type OllamaService struct {
	baseURL    string
	model      string
	client     *http.Client
	dimensions atomic.Int64
}

type ollamaEmbedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate,omitempty"`
}

// NewOllamaService creates an Ollama embedding service. An empty baseURL
// means the local default.
func NewOllamaService(baseURL, model string) (*OllamaService, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}

	s := &OllamaService{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}

	dims := GetModelDimensions(model)
	if dims == 0 {
		dims = defaultOllamaDimensions
		log.Debug("Unknown model dimensions, defaulting", "model", model, "dimensions", dims)
	}
	s.dimensions.Store(int64(dims))
	return s, nil
}

func (s *OllamaService) Embed(ctx context.Context, text string) ([]float32, error) {
	return single(s.embed(ctx, []string{s.applyPrefix(text, false)}))
}

func (s *OllamaService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return single(s.embed(ctx, []string{s.applyPrefix(text, true)}))
}

func (s *OllamaService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = s.applyPrefix(text, false)
	}
	return s.embed(ctx, inputs)
}

func (s *OllamaService) Dimensions() int { return int(s.dimensions.Load()) }
func (s *OllamaService) Provider() Provider { return ProviderOllama }
func (s *OllamaService) ModelName() string { return s.model }

// applyPrefix adds the model's task prefix, if it has one.
func (s *OllamaService) applyPrefix(text string, isQuery bool) string {
	p, ok := taskPrefixes[s.model]
	switch {
	case !ok:
		return text
	case isQuery:
		return p.query + text
	default:
		return p.document + text
	}
}

// embed posts inputs to /api/embed.
func (s *OllamaService) embed(ctx context.Context, inputs []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{Model: s.model, Input: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug("Requesting embeddings from Ollama", "model", s.model, "count", len(inputs))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if e := gjson.GetBytes(body, "error"); e.Exists() {
			msg = e.String()
		}
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, msg)
	}

	vecs, err := parseOllamaEmbeddings(body)
	if err != nil {
		return nil, err
	}
	if err := checkCount(len(vecs), len(inputs)); err != nil {
		return nil, err
	}
	if n := len(vecs[0]); n > 0 {
		s.dimensions.Store(int64(n))
	}
	return vecs, nil
}

// parseOllamaEmbeddings reads {"embeddings": [[...], ...]} without
// materialising the rest of the response.
func parseOllamaEmbeddings(body []byte) ([][]float32, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("failed to decode response: invalid JSON")
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() {
		return nil, fmt.Errorf("ollama error: %s", e.String())
	}

	field := gjson.GetBytes(body, "embeddings")
	if !field.IsArray() {
		return nil, fmt.Errorf("failed to decode response: missing embeddings")
	}

	rows := field.Array()
	vecs := make([][]float32, 0, len(rows))
	for _, row := range rows {
		values := row.Array()
		vec := make([]float32, len(values))
		for i, v := range values {
			vec[i] = float32(v.Float())
		}
		vecs = append(vecs, vec)
	}
	return vecs, nil
}
