package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/shelf/internal/config"
	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/index"
	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/output"
	"github.com/Aman-CERP/shelf/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var topics []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Reindex topics as their books change",
		Long: `Bring the index up to date, then watch the library and reindex a topic
once its folder has been quiet for watch.debounce (default 5s).

Only the topic whose files changed is reindexed. Creating or removing a
folder triggers a run over every topic so the layout is re-read. Runs
never overlap; changes arriving during a run are handled after it.`,
		Example: `  shelf watch
  shelf watch --topic history`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return runWatch(ctx, cmd, topics)
		},
	}

	cmd.Flags().StringSliceVarP(&topics, "topic", "t", nil, "Only reindex these topics (repeatable)")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, topics []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	debounce, err := watcher.ParseDebounce(cfg.Watch.Debounce)
	if err != nil {
		return shelferrors.ConfigError("invalid watch.debounce", err)
	}

	embedder, err := openEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	cache, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = cache.Close() }()

	runner, err := index.NewRunner(index.RunnerDependencies{
		Config:   cfg,
		Embedder: embedder,
		Cache:    cache,
	})
	if err != nil {
		return fmt.Errorf("failed to create index runner: %w", err)
	}

	out := output.New(cmd.OutOrStdout())
	out.Header("Watching " + cfg.Library.Root)

	report, err := runner.Run(ctx, index.Options{Topics: topics})
	if err != nil {
		return err
	}
	out.Success("Initial run: " + reportLine(report))

	w, err := watcher.New(watchOptions(cfg, debounce))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	rx := newReindexer(runner, topics, func(change watcher.TopicChange, report *index.Report, err error) {
		if err != nil {
			out.Errorf("%s: %v", change.Topic, err)
			return
		}
		for _, f := range report.Failures {
			out.Warningf("%s/%s: %v", f.Topic, f.Filename, f.Err)
		}
		out.Successf("%s: %s", change.Topic, reportLine(report))
	})

	return watchLibrary(ctx, w, cfg.Library.Root, rx)
}

// watchOptions returns the watcher settings of a library.
func watchOptions(cfg *config.Config, debounce time.Duration) watcher.Options {
	scan := scanOptions(cfg)
	return watcher.Options{
		Debounce:   debounce,
		Extensions: scan.Extensions,
		DataDir:    scan.DataDir,
	}
}

// reindexer runs one selective index pass per settled topic change.
type reindexer struct {
	runner *index.Runner
	scope  []string        // nil means every topic
	allow  map[string]bool // nil means every topic
	onRun  func(change watcher.TopicChange, report *index.Report, err error)
}

func newReindexer(runner *index.Runner, scope []string, onRun func(watcher.TopicChange, *index.Report, error)) *reindexer {
	rx := &reindexer{runner: runner, scope: scope, onRun: onRun}
	if len(scope) > 0 {
		rx.allow = make(map[string]bool, len(scope)*2)
		for _, name := range scope {
			rx.allow[name] = true
			rx.allow[manifest.TopicID(name)] = true
		}
	}
	return rx
}

// handle reindexes the topic of change. A folder created or removed can
// shift which folders are topics, so it re-reads the whole scope.
func (rx *reindexer) handle(ctx context.Context, change watcher.TopicChange) {
	opts := index.Options{Topics: rx.scope}
	if !structural(change) {
		if rx.allow != nil && !rx.allow[change.Topic] {
			slog.Debug("watch_change_ignored", slog.String("topic", change.Topic))
			return
		}
		opts.Topics = []string{change.Topic}
	}

	slog.Info("watch_reindex",
		slog.String("topic", change.Topic),
		slog.Int("events", len(change.Events)),
		slog.Bool("structural", structural(change)))

	report, err := rx.runner.Run(ctx, opts)
	if shelferrors.HasCode(err, shelferrors.ErrCodeTopicNotFound) {
		// The folder is not a topic yet or anymore.
		report, err = rx.runner.Run(ctx, index.Options{Topics: rx.scope})
	}
	if ctx.Err() != nil {
		return
	}
	if rx.onRun != nil {
		rx.onRun(change, report, err)
	}
}

func structural(change watcher.TopicChange) bool {
	for _, ev := range change.Events {
		if ev.IsDir {
			return true
		}
	}
	return false
}

// watchLibrary starts w on root and hands every topic change to rx until
// ctx is done. Changes are handled one at a time.
func watchLibrary(ctx context.Context, w *watcher.Watcher, root string, rx *reindexer) error {
	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx, root) }()

	errs := w.Errors()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return watchEnded(ctx, err)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		case change, ok := <-w.Changes():
			if !ok {
				return watchEnded(ctx, <-errCh)
			}
			rx.handle(ctx, change)
		}
	}
}

func watchEnded(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("watcher stopped: %w", err)
}

// reportLine summarizes an index run in one line.
func reportLine(r *index.Report) string {
	changed := r.ChangedTopics()
	if len(changed) == 0 {
		return "no changes"
	}
	return fmt.Sprintf("%s (%d new, %d modified, %d deleted in %s)",
		strings.Join(changed, ", "),
		r.Delta.New, r.Delta.Modified, r.Delta.Deleted,
		r.Duration.Round(time.Millisecond))
}
