package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/shelf/internal/embed"
	"github.com/Aman-CERP/shelf/internal/store"
)

// DefaultEmbedTimeout bounds the embedder warm-up call.
const DefaultEmbedTimeout = 2 * time.Minute

// TopicLoader loads a topic index. *search.Loader satisfies it.
type TopicLoader interface {
	Get(ctx context.Context, topicID string) (*store.TopicIndex, error)
}

// WarmerConfig configures the Warmer.
type WarmerConfig struct {
	// Topics are preloaded in order after the embedder is warm.
	Topics []string

	// EmbedTimeout bounds the embedder warm-up call.
	EmbedTimeout time.Duration
}

// Warmer warms the embedder and preloads topics in one background goroutine.
// Failures are recorded in Progress and never stop the server.
type Warmer struct {
	config   WarmerConfig
	embedder embed.Embedder
	loader   TopicLoader
	progress *Progress

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
	running bool
}

// NewWarmer creates a warmer. loader may be nil when nothing is preloaded.
func NewWarmer(cfg WarmerConfig, embedder embed.Embedder, loader TopicLoader) *Warmer {
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	return &Warmer{
		config:   cfg,
		embedder: embedder,
		loader:   loader,
		progress: NewProgress(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the progress tracker for this warmer.
func (w *Warmer) Progress() *Progress {
	return w.progress
}

// IsRunning returns true if the warm-up is in progress.
func (w *Warmer) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start begins the warm-up in a background goroutine and returns at once.
// Calling Start again has no effect.
func (w *Warmer) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.running = true
	w.mu.Unlock()

	go w.run(ctx)
}

func (w *Warmer) run(ctx context.Context) {
	defer close(w.doneCh)
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	w.warmEmbedder(ctx)
	w.preload(ctx)
	w.progress.Finish()

	snap := w.progress.Snapshot()
	slog.Info("warmup_complete",
		slog.String("status", snap.Status),
		slog.Bool("embedder_ready", snap.EmbedderReady),
		slog.Int("topics_loaded", snap.TopicsLoaded),
		slog.Duration("duration", time.Since(start)))
}

func (w *Warmer) warmEmbedder(ctx context.Context) {
	w.progress.SetStage(StageEmbedder)
	if w.embedder == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, w.config.EmbedTimeout)
	defer cancel()

	model := w.embedder.ModelName()
	if !w.embedder.Available(ctx) {
		w.fail(fmt.Sprintf("embedder %s is not available", model))
		return
	}
	if _, err := w.embedder.Embed(ctx, "warm-up"); err != nil {
		w.fail(fmt.Sprintf("embedder %s failed to warm up: %v", model, err))
		return
	}
	w.progress.SetEmbedderReady()
	slog.Debug("embedder_warm", slog.String("model", model))
}

func (w *Warmer) preload(ctx context.Context) {
	w.progress.SetStage(StageTopics)
	if w.loader == nil {
		return
	}
	w.progress.SetTopicsTotal(len(w.config.Topics))
	for _, id := range w.config.Topics {
		if ctx.Err() != nil {
			w.fail("preload cancelled")
			return
		}
		if _, err := w.loader.Get(ctx, id); err != nil {
			w.fail(fmt.Sprintf("failed to preload topic %s: %v", id, err))
			continue
		}
		w.progress.TopicLoaded()
	}
}

func (w *Warmer) fail(message string) {
	slog.Warn("warmup_failed", slog.String("error", message))
	w.progress.AddError(message)
}

// Stop cancels the warm-up and waits for the worker to exit.
func (w *Warmer) Stop() {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return
	}
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.doneCh
}

// Wait blocks until the warm-up has finished or ctx is done. It returns
// at once when the warmer was never started.
func (w *Warmer) Wait(ctx context.Context) error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the warm-up has finished.
func (w *Warmer) Done() <-chan struct{} {
	return w.doneCh
}
