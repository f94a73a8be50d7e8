// Package search answers similarity queries against one topic index at a
// time. Topic indices are loaded on first use and kept for the process
// lifetime.
package search

import (
	"context"
	"time"

	"github.com/Aman-CERP/shelf/internal/manifest"
)

// Query limits.
const (
	// DefaultK is used when neither the request nor the config sets K.
	DefaultK = 5

	// MaxK caps K when the config does not.
	MaxK = 50

	// BookOverfetch multiplies K when results are filtered to one book.
	BookOverfetch = 4

	// MinTokenLength is the shortest query token used to infer a topic.
	MinTokenLength = 3
)

// ManifestSource provides the current manifest. *manifest.Store satisfies it.
type ManifestSource interface {
	Load() (*manifest.Manifest, error)
}

// Waiter blocks until background warm-up has finished.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Request is one retrieval query.
type Request struct {
	Query string `json:"query"`

	// Topic is a topic id or a label substring. Empty lets the engine pick.
	Topic string `json:"topic,omitempty"`

	// Book is a book id or a title substring. Results are restricted to it.
	Book string `json:"book,omitempty"`

	// K is the number of results. Zero means the configured default.
	K int `json:"k,omitempty"`
}

// Resolution records how the queried topic was chosen.
type Resolution string

const (
	ResolvedExplicit Resolution = "explicit"
	ResolvedBook     Resolution = "book"
	ResolvedInferred Resolution = "inferred"
	ResolvedDefault  Resolution = "default"
	ResolvedFallback Resolution = "fallback"
)

// Result is one matching chunk.
type Result struct {
	Text       string  `json:"text"`
	BookID     string  `json:"book_id"`
	BookTitle  string  `json:"book_title"`
	Author     string  `json:"author,omitempty"`
	Topic      string  `json:"topic"`
	TopicLabel string  `json:"topic_label"`
	Filename   string  `json:"filename"`
	Location   string  `json:"location,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float32 `json:"similarity"`
	Distance   float32 `json:"distance"`
}

// Response carries the results of one query, ordered by distance.
type Response struct {
	Query      string        `json:"query"`
	Topic      string        `json:"topic"`
	TopicLabel string        `json:"topic_label"`
	Resolution Resolution    `json:"resolution"`
	Results    []Result      `json:"results"`
	Took       time.Duration `json:"took_ns"`
}

// EngineConfig holds the retrieval settings.
type EngineConfig struct {
	DefaultTopic string
	TopK         int
	MaxK         int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.MaxK <= 0 {
		c.MaxK = MaxK
	}
	if c.TopK <= 0 {
		c.TopK = DefaultK
	}
	if c.TopK > c.MaxK {
		c.TopK = c.MaxK
	}
	return c
}

// clampK applies the default and bounds K to [1, MaxK].
func (c EngineConfig) clampK(k int) int {
	switch {
	case k <= 0:
		return c.TopK
	case k > c.MaxK:
		return c.MaxK
	default:
		return k
	}
}
