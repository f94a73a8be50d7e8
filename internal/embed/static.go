package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// StaticEmbedder generates embeddings by feature hashing words and character
// trigrams. No network, no model download, fully deterministic. Semantic
// quality is low; it exists for offline use and tests.
type StaticEmbedder struct {
	dims int

	mu     sync.RWMutex
	closed bool
}

// englishStopWords are dropped before hashing words.
var englishStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "to": true, "was": true, "were": true,
	"will": true, "with": true, "this": true, "which": true, "but": true, "not": true,
}

// Weights for vector generation
const (
	wordWeight  = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// NewStaticEmbedder creates a static embedder of the given width
// (StaticDimensions when dims <= 0).
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed generates embedding for a single text.
func (e *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, e.dims), nil
	}
	return normalizeVector(e.generateVector(trimmed)), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, e.dims)

	for _, w := range words(text) {
		if englishStopWords[w] {
			continue
		}
		vector[hashToIndex(w, e.dims)] += wordWeight
	}

	letters := lettersOnly(text)
	for i := 0; i+ngramSize <= len(letters); i++ {
		vector[hashToIndex(string(letters[i:i+ngramSize]), e.dims)] += ngramWeight
	}
	return vector
}

// words lowercases text and splits it on anything that is not a letter or digit.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func lettersOnly(text string) []rune {
	var out []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

// hashToIndex uses FNV-64 to map a string to an index.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}

func (e *StaticEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// Dimensions returns the embedding dimension.
func (e *StaticEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *StaticEmbedder) ModelName() string {
	return fmt.Sprintf("static-%d", e.dims)
}

// Available reports whether the embedder is open.
func (e *StaticEmbedder) Available(_ context.Context) bool {
	return e.checkOpen() == nil
}

// Close releases resources.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
