package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/shelf/internal/embed"
	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Engine answers queries against one topic index per query.
type Engine struct {
	manifests ManifestSource
	loader    *Loader
	embedder  embed.Embedder
	config    EngineConfig
	warmup    Waiter
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithWarmup makes Query wait for background warm-up before its first use of
// the embedder.
func WithWarmup(w Waiter) EngineOption {
	return func(e *Engine) {
		e.warmup = w
	}
}

// NewEngine creates an engine. The embedder must be the one the indices were
// built with.
func NewEngine(manifests ManifestSource, loader *Loader, embedder embed.Embedder, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if manifests == nil {
		return nil, fmt.Errorf("%w: manifest source is required", ErrNilDependency)
	}
	if loader == nil {
		return nil, fmt.Errorf("%w: loader is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	e := &Engine{
		manifests: manifests,
		loader:    loader,
		embedder:  embedder,
		config:    config.withDefaults(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Loader returns the engine's topic loader.
func (e *Engine) Loader() *Loader {
	return e.loader
}

// Query resolves the request's topic, embeds the query and returns the
// nearest chunks of that topic.
func (e *Engine) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, shelferrors.New(shelferrors.ErrCodeInvalidQuery, "query must not be empty", nil)
	}
	k := e.config.clampK(req.K)

	if e.warmup != nil {
		if err := e.warmup.Wait(ctx); err != nil {
			return nil, err
		}
	}

	m, err := e.manifests.Load()
	if err != nil {
		return nil, err
	}
	r, err := resolveTopic(m, req, e.config.DefaultTopic)
	if err != nil {
		return nil, err
	}
	if r.topic.IndexedBooks() == 0 {
		return nil, shelferrors.Newf(shelferrors.ErrCodeNoIndexedTopic, "topic %s has not been indexed", r.topic.ID).
			WithSuggestion("run 'shelf index --topic " + r.topic.ID + "'")
	}

	var (
		vec []float32
		idx *store.TopicIndex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var embedErr error
		vec, embedErr = e.embedder.Embed(gctx, req.Query)
		return embedErr
	})
	g.Go(func() error {
		var loadErr error
		idx, loadErr = e.loader.Get(gctx, r.topic.ID)
		return loadErr
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := e.checkCompatible(r.topic.ID, idx, vec); err != nil {
		return nil, err
	}

	fetch := k
	if r.book != nil {
		fetch = k * BookOverfetch
	}
	hits, err := idx.Search(vec, fetch)
	if err != nil {
		return nil, shelferrors.Wrap(shelferrors.ErrCodeIndexFailed, err)
	}

	results := make([]Result, 0, k)
	for _, h := range hits {
		if h.Position < 0 || h.Position >= len(idx.Chunks) {
			continue
		}
		c := idx.Chunks[h.Position]
		if r.book != nil && c.BookID != r.book.ID {
			continue
		}
		results = append(results, Result{
			Text:       c.Text,
			BookID:     c.BookID,
			BookTitle:  c.BookTitle,
			Author:     c.Author,
			Topic:      c.TopicID,
			TopicLabel: c.TopicLabel,
			Filename:   c.Filename,
			Location:   c.Location(),
			ChunkIndex: c.Index,
			Similarity: h.Score,
			Distance:   h.Distance,
		})
		if len(results) == k {
			break
		}
	}

	took := time.Since(start)
	slog.Debug("query_complete",
		slog.String("topic", r.topic.ID),
		slog.String("resolution", string(r.how)),
		slog.Int("k", k),
		slog.Int("results", len(results)),
		slog.Duration("duration", took))

	return &Response{
		Query:      req.Query,
		Topic:      r.topic.ID,
		TopicLabel: r.topic.Label,
		Resolution: r.how,
		Results:    results,
		Took:       took,
	}, nil
}

// checkCompatible refuses to search an index built by another model or
// with vectors of another width.
func (e *Engine) checkCompatible(topicID string, idx *store.TopicIndex, vec []float32) error {
	stamp := idx.Stamp()
	if stamp.Model != e.embedder.ModelName() || stamp.Dimensions != len(vec) {
		return shelferrors.Newf(shelferrors.ErrCodeModelMismatch,
			"topic %s was indexed with %s (%d dims), the query embedder is %s (%d dims)",
			topicID, stamp.Model, stamp.Dimensions, e.embedder.ModelName(), len(vec)).
			WithDetail("topic", topicID).
			WithSuggestion("run 'shelf index --full --topic " + topicID + "' or switch the embedding provider back")
	}
	return nil
}
