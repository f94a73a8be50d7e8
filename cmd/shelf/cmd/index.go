package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/index"
	"github.com/Aman-CERP/shelf/internal/store"
	"github.com/Aman-CERP/shelf/internal/ui"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	topics []string
	full   bool
	force  bool
	dryRun bool
	noTUI  bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed the books that changed since the last run",
		Long: `Scan the library, compare it with the manifest and bring every topic
index up to date. Only new and modified books are extracted and embedded;
deleted books are dropped from their topic. Unchanged topics are skipped
without being opened.

A book that fails to extract or embed stays unindexed and is retried on
the next run. Folders holding both books and subfolders are skipped with
a warning; run 'shelf validate' to list them.`,
		Example: `  # Index everything that changed
  shelf index

  # Only two topics
  shelf index --topic history --topic philosophy/stoics

  # Show what would be embedded
  shelf index --dry-run

  # Rebuild every index from scratch (cached vectors are reused)
  shelf index --full`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return runIndex(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.topics, "topic", "t", nil, "Restrict to a topic id, folder path or label (repeatable)")
	cmd.Flags().BoolVar(&opts.full, "full", false, "Ignore existing indices and rebuild the selected topics")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Re-embed every book, bypassing change detection and the embedding cache")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report what would change without writing anything")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, opts indexOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	uiCfg := ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.noTUI),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithLibraryPath(cfg.Library.Root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: fmt.Sprintf("Connecting to %s embedder...", cfg.Embeddings.Provider),
	})
	embedder, err := openEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	// A dry run must not create the cache file.
	var cache *store.EmbeddingCache
	if !opts.dryRun {
		if cache, err = openCache(cfg); err != nil {
			return err
		}
		defer func() { _ = cache.Close() }()
	}

	runner, err := index.NewRunner(index.RunnerDependencies{
		Config:   cfg,
		Embedder: embedder,
		Renderer: renderer,
		Cache:    cache,
	})
	if err != nil {
		return fmt.Errorf("failed to create index runner: %w", err)
	}

	report, err := runner.Run(ctx, index.Options{
		Topics: opts.topics,
		Force:  opts.force,
		Full:   opts.full,
		DryRun: opts.dryRun,
	})
	if err != nil {
		return err
	}
	if n := len(report.Failures); n > 0 {
		return shelferrors.Newf(shelferrors.ErrCodeIndexFailed, "%d book(s) could not be indexed", n).
			WithSuggestion("they stay unindexed and are retried on the next run; see the log for details")
	}
	return nil
}
