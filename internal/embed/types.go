// Package embed turns text into vectors. Providers are explicit objects built
// once by the caller, passed to the indexer and the retrieval engine, and
// closed by the caller.
package embed

import (
	"context"
	"math"
	"time"
)

// Provider request limits.
const (
	MaxBatchSize      = 256
	DefaultBatchSize  = 16
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 3
)

// StaticDimensions is the default width of the static embedder.
const StaticDimensions = 256

// Embedder maps text to unit vectors of a fixed width. ModelName is stamped
// into every topic index so a model change is detectable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	// Available probes the provider without embedding anything.
	Available(ctx context.Context) bool
	Close() error
}

// normalizeVector returns v scaled to unit length; zero vectors pass through.
func normalizeVector(v []float32) []float32 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	if sq == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
