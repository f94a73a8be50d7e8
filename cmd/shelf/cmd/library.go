package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/shelf/internal/config"
	"github.com/Aman-CERP/shelf/internal/embed"
	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/scanner"
	"github.com/Aman-CERP/shelf/internal/search"
	"github.com/Aman-CERP/shelf/internal/store"
)

// embedderInitTimeout bounds provider probing at startup.
const embedderInitTimeout = 15 * time.Second

// signalContext cancels on Ctrl+C or SIGTERM so long runs stop between books.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig resolves the library root from --library or the working
// directory and loads its configuration.
func loadConfig() (*config.Config, error) {
	dir, err := libraryRoot()
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, shelferrors.New(shelferrors.ErrCodeLibraryMissing,
			fmt.Sprintf("library not found: %s", dir), err).
			WithSuggestion("pass --library <path> or run shelf inside the library")
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, shelferrors.ConfigError("failed to load configuration", err)
	}
	return cfg, nil
}

// scanOptions returns the scanner settings of a library.
func scanOptions(cfg *config.Config) scanner.Options {
	return scanner.Options{
		Extensions: cfg.Library.Extensions,
		DataDir:    filepath.Base(cfg.DataPath()),
	}
}

// engineConfig returns the retrieval settings of a library.
func engineConfig(cfg *config.Config) search.EngineConfig {
	return search.EngineConfig{
		DefaultTopic: cfg.Retrieval.DefaultTopic,
		TopK:         cfg.Retrieval.TopK,
		MaxK:         cfg.Retrieval.MaxK,
	}
}

// manifestStore returns the manifest store of a library.
func manifestStore(cfg *config.Config) *manifest.Store {
	return manifest.NewStore(cfg.DataPath())
}

// requireManifest fails with a hint when the library has never been indexed.
func requireManifest(cfg *config.Config) (*manifest.Store, error) {
	s := manifestStore(cfg)
	if !s.Exists() {
		return nil, shelferrors.New(shelferrors.ErrCodeFileNotFound,
			fmt.Sprintf("no manifest in %s", cfg.DataPath()), nil).
			WithSuggestion("run 'shelf index' first")
	}
	return s, nil
}

// openEmbedder connects to the configured provider.
func openEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	initCtx, cancel := context.WithTimeout(ctx, embedderInitTimeout)
	defer cancel()

	e, err := embed.NewEmbedder(initCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder initialization failed: %w", err)
	}
	return e, nil
}

// openCache opens the persistent embedding cache in the data directory.
func openCache(cfg *config.Config) (*store.EmbeddingCache, error) {
	if err := os.MkdirAll(cfg.DataPath(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	c, err := store.OpenEmbeddingCache(filepath.Join(cfg.DataPath(), store.CacheFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	return c, nil
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
