package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/shelf/internal/async"
	"github.com/Aman-CERP/shelf/internal/config"
	"github.com/Aman-CERP/shelf/internal/embed"
	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/index"
	"github.com/Aman-CERP/shelf/internal/logging"
	"github.com/Aman-CERP/shelf/internal/mcp"
	"github.com/Aman-CERP/shelf/internal/search"
	"github.com/Aman-CERP/shelf/internal/watcher"
)

func newServeCmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start MCP server over stdio",
		Long: `Start the Model Context Protocol server for AI clients.

The server speaks JSON-RPC on stdin/stdout and exposes the tools
query_library, list_topics, list_books and index_status plus one
resource per topic. Logs go to ~/.shelf/logs/ only; stdout is reserved
for the protocol.

Startup does not wait for the embedder or any topic index. A background
warm-up probes the embedder and preloads retrieval.preload topics; a
query arriving earlier waits for it. With --watch, topics are reindexed
as their books change and served fresh on the next query.`,
		Example: `  # Claude Desktop / Claude Code entry
  shelf serve --library ~/Books

  # Keep the index current while serving
  shelf serve --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return runServe(ctx, watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Reindex changed topics in the background")

	return cmd
}

func runServe(ctx context.Context, watch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Nothing but JSON-RPC may reach stdout, so --debug does not tee to stderr here.
	level := cfg.Server.LogLevel
	if debugMode {
		level = "debug"
	}
	_ = stopLogging(nil, nil)
	if cleanup, err := logging.Install(logging.ServeConfig(level)); err == nil {
		loggingCleanup = cleanup
	}

	manifests := manifestStore(cfg)
	embedder, err := openEmbedder(ctx, cfg)
	if err != nil {
		slog.Error("serve_embedder_failed", slog.String("error", err.Error()))
		return err
	}
	defer func() { _ = embedder.Close() }()

	loader := search.NewLoader(cfg.DataPath(), cfg.Index.M, cfg.Index.EfSearch)
	warmer := async.NewWarmer(async.WarmerConfig{
		Topics:       cfg.Retrieval.Preload,
		EmbedTimeout: cfg.EmbedTimeout(),
	}, embedder, loader)

	engine, err := search.NewEngine(manifests, loader, embedder, engineConfig(cfg), search.WithWarmup(warmer))
	if err != nil {
		return err
	}
	srv, err := mcp.NewServer(engine, manifests, embedder, cfg)
	if err != nil {
		return shelferrors.New(shelferrors.ErrCodeInternal, "failed to create MCP server", err)
	}
	srv.SetTopicCache(loader)
	srv.SetWarmupProgress(warmer.Progress())

	if err := srv.RegisterResources(ctx); err != nil {
		slog.Warn("serve_resources_failed", slog.String("error", err.Error()))
	}

	warmer.Start(ctx)
	defer warmer.Stop()

	if watch {
		stopWatch, err := startBackgroundWatch(ctx, cfg, embedder, loader)
		if err != nil {
			return err
		}
		defer stopWatch()
	}

	slog.Info("serve_started",
		slog.String("library", cfg.Library.Root),
		slog.String("model", embedder.ModelName()),
		slog.Bool("watch", watch))
	return srv.Serve(ctx)
}

// startBackgroundWatch reindexes changed topics while the server runs and
// drops their cached indices so the next query loads the new ones.
func startBackgroundWatch(ctx context.Context, cfg *config.Config, embedder embed.Embedder, loader *search.Loader) (func(), error) {
	debounce, err := watcher.ParseDebounce(cfg.Watch.Debounce)
	if err != nil {
		return nil, shelferrors.ConfigError("invalid watch.debounce", err)
	}
	cache, err := openCache(cfg)
	if err != nil {
		return nil, err
	}
	runner, err := index.NewRunner(index.RunnerDependencies{
		Config:   cfg,
		Embedder: embedder,
		Cache:    cache,
	})
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("failed to create index runner: %w", err)
	}
	w, err := watcher.New(watchOptions(cfg, debounce))
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	rx := newReindexer(runner, nil, func(change watcher.TopicChange, report *index.Report, err error) {
		if err != nil {
			slog.Warn("serve_reindex_failed", slog.String("topic", change.Topic), slog.String("error", err.Error()))
			return
		}
		if changed := report.ChangedTopics(); len(changed) > 0 {
			loader.Invalidate(changed...)
			slog.Info("serve_reindex_complete", slog.Any("topics", changed), slog.Duration("duration", report.Duration))
		}
	})

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := watchLibrary(watchCtx, w, cfg.Library.Root, rx); err != nil {
			slog.Error("serve_watch_stopped", slog.String("error", err.Error()))
		}
	}()

	return func() {
		cancel()
		<-done
		_ = w.Stop()
		_ = cache.Close()
	}, nil
}
