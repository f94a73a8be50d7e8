package embed

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
)

// OpenAI defaults
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "text-embedding-3-small"

	// EnvOpenAIKey holds the API key. Keys are never read from config files.
	EnvOpenAIKey = "OPENAI_API_KEY"
)

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	BaseURL    string
	Model      string
	APIKey     string
	Dimensions int // 0 = model default
	BatchSize  int
	Timeout    time.Duration
	MaxRetries int
}

type openAIRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// OpenAIEmbedder calls POST {BaseURL}/embeddings.
type OpenAIEmbedder struct {
	http   *httpProvider
	config OpenAIConfig

	mu     sync.RWMutex
	dims   int
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI-compatible embedder. The API key falls
// back to $OPENAI_API_KEY.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvOpenAIKey)
	}
	if cfg.APIKey == "" {
		return nil, shelferrors.ConfigError("openai embeddings need an API key", nil).
			WithSuggestion("export " + EnvOpenAIKey)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}

	p := newHTTPProvider("openai", cfg.Timeout, cfg.MaxRetries)
	p.headers["Authorization"] = "Bearer " + cfg.APIKey

	return &OpenAIEmbedder{http: p, config: cfg, dims: cfg.Dimensions}, nil
}

// Embed generates embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts as array input, BatchSize texts per request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	return embedInBatches(ctx, texts, e.config.BatchSize, e.Dimensions(), e.embed)
}

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	var resp openAIResponse
	req := openAIRequest{Model: e.config.Model, Input: texts, Dimensions: e.config.Dimensions}
	if err := e.http.postJSON(ctx, e.config.BaseURL+"/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, shelferrors.Newf(shelferrors.ErrCodeEmbedderRejected,
			"openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	// The API documents data as ordered by index but says nothing binding.
	sort.SliceStable(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, shelferrors.Newf(shelferrors.ErrCodeEmbedderRejected, "openai returned an empty embedding")
		}
		out[i] = normalizeVector(toFloat32(d.Embedding))
	}

	e.mu.Lock()
	if e.dims == 0 {
		e.dims = len(out[0])
	}
	e.mu.Unlock()
	return out, nil
}

func (e *OpenAIEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// Dimensions returns the embedding width, known after the first call when
// not configured.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return "openai:" + e.config.Model
}

// Available reports whether the embedder is open and has a key.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	return e.checkOpen() == nil && e.config.APIKey != ""
}

// Close releases idle connections.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.http.close()
	return nil
}
