package embed

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// PacedEmbedder spaces provider calls at least delay apart. It wraps the
// provider below the cache, so cache hits are never delayed.
type PacedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewPacedEmbedder wraps inner. A non-positive delay disables pacing.
func NewPacedEmbedder(inner Embedder, delay time.Duration) *PacedEmbedder {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &PacedEmbedder{inner: inner, limiter: rate.NewLimiter(limit, 1)}
}

// Embed waits for a slot, then embeds text.
func (p *PacedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Embed(ctx, text)
}

// EmbedBatch waits for a slot, then embeds texts in one call.
func (p *PacedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.EmbedBatch(ctx, texts)
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (p *PacedEmbedder) Dimensions() int { return p.inner.Dimensions() }

// ModelName returns the model identifier (passthrough to inner).
func (p *PacedEmbedder) ModelName() string { return p.inner.ModelName() }

// Available checks if the embedder is ready (passthrough to inner).
func (p *PacedEmbedder) Available(ctx context.Context) bool { return p.inner.Available(ctx) }

// Close closes the inner embedder.
func (p *PacedEmbedder) Close() error { return p.inner.Close() }
