package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
)

// Ollama defaults
const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	Host       string
	Model      string
	Dimensions int // 0 = auto-detect from the first embedding
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int

	// SkipHealthCheck skips model discovery at construction (for tests).
	SkipHealthCheck bool
}

// ollamaEmbedRequest is the request body for /api/embed.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the response body for /api/embed.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaTagsResponse is the response body for /api/tags.
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
type OllamaEmbedder struct {
	http   *httpProvider
	config OllamaConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. Unless SkipHealthCheck is
// set it verifies the model is pulled and detects its width.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}

	e := &OllamaEmbedder{
		http:   newHTTPProvider("ollama", cfg.Timeout, cfg.MaxRetries),
		config: cfg,
		dims:   cfg.Dimensions,
	}

	if cfg.SkipHealthCheck {
		return e, nil
	}

	if !e.hasModel(ctx) {
		e.http.close()
		return nil, shelferrors.New(shelferrors.ErrCodeEmbedderUnavailable,
			fmt.Sprintf("ollama model %q is not available at %s", cfg.Model, cfg.Host), nil).
			WithSuggestion(fmt.Sprintf("run 'ollama pull %s' or set embeddings.provider to static", cfg.Model))
	}
	if e.dims == 0 {
		vec, err := e.embed(ctx, []string{"dimension detection"})
		if err != nil {
			e.http.close()
			return nil, err
		}
		e.dims = len(vec[0])
	}
	return e, nil
}

// hasModel reports whether the configured model is listed by /api/tags.
// "nomic-embed-text" matches "nomic-embed-text:latest".
func (e *OllamaEmbedder) hasModel(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, e.http.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.http.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	want := strings.ToLower(e.config.Model)
	wantBase := strings.Split(want, ":")[0]
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		if name == want || strings.Split(name, ":")[0] == wantBase {
			return true
		}
	}
	return false
}

// Embed generates embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, BatchSize texts per request.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return embedInBatches(ctx, texts, e.config.BatchSize, e.Dimensions(), e.embed)
}

func (e *OllamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var resp ollamaEmbedResponse
	req := ollamaEmbedRequest{Model: e.config.Model, Input: texts}
	if err := e.http.postJSON(ctx, e.config.Host+"/api/embed", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, shelferrors.Newf(shelferrors.ErrCodeEmbedderRejected,
			"ollama returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if len(emb) == 0 {
			return nil, shelferrors.Newf(shelferrors.ErrCodeEmbedderRejected, "ollama returned an empty embedding")
		}
		out[i] = normalizeVector(toFloat32(emb))
	}
	return out, nil
}

func (e *OllamaEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return "ollama:" + e.config.Model
}

// Available checks that Ollama is running and the model is pulled.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.checkOpen() != nil {
		return false
	}
	return e.hasModel(ctx)
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.http.close()
	return nil
}
