package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/shelf/internal/config"
	"github.com/Aman-CERP/shelf/internal/delta"
	"github.com/Aman-CERP/shelf/internal/embed"
	"github.com/Aman-CERP/shelf/internal/index"
	"github.com/Aman-CERP/shelf/internal/scanner"
	"github.com/Aman-CERP/shelf/internal/store"
	"github.com/Aman-CERP/shelf/internal/ui"
)

// statusProbeTimeout bounds the embedder availability check.
const statusProbeTimeout = 5 * time.Second

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the library index including:
  - Books and chunks per topic
  - Last indexing time, and topics with changes since
  - Storage sizes of the topic indices
  - Embedder model and availability`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	info, err := collectStatus(ctx, cfg)
	if err != nil {
		return err
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, cfg *config.Config) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		Library:       cfg.Library.Root,
		Topics:        []ui.TopicStatus{},
		EmbedderModel: cfg.Embeddings.Model,
	}
	info.EmbedderStatus = embedderStatus(ctx, cfg, &info.EmbedderModel)

	s := manifestStore(cfg)
	if !s.Exists() {
		return info, nil
	}
	m, err := s.Load()
	if err != nil {
		return info, err
	}
	info.Manifest = true

	var changes *delta.Result
	snap, err := scanner.Scan(ctx, cfg.Library.Root, scanOptions(cfg))
	if err != nil {
		slog.Warn("status scan failed", slog.String("error", err.Error()))
	} else {
		changes = delta.Detect(snap, m)
		c := changes.Counts()
		info.Pending = c.New + c.Modified + c.Deleted
	}

	dataDir := cfg.DataPath()
	for _, t := range m.Topics {
		ts := ui.TopicStatus{
			ID:          t.ID,
			Label:       t.Label,
			Books:       len(t.Books),
			Indexed:     t.IndexedBooks(),
			LastIndexed: t.LastIndexedAt,
		}
		dir := store.Dir(dataDir, t.ID)
		if stamp, err := store.ReadStamp(dir); err == nil {
			ts.Chunks = stamp.Count
			ts.Model = stamp.Model
		}
		ts.IndexSize = dirSize(dir)
		info.TotalSize += ts.IndexSize
		if changes != nil {
			ts.Stale = !changes.ForTopic(t.ID).Empty()
		}
		info.Topics = append(info.Topics, ts)
	}
	checker := index.NewConsistencyChecker(dataDir, cfg.Index.M, cfg.Index.EfSearch)
	for _, id := range checker.QuickCheck(m) {
		for i := range info.Topics {
			if info.Topics[i].ID == id {
				info.Topics[i].Stale = true
			}
		}
	}

	cachePath := filepath.Join(dataDir, store.CacheFile)
	if fileExists(cachePath) {
		info.TotalSize += fileSize(cachePath)
		if c, err := store.OpenEmbeddingCache(cachePath); err == nil {
			info.CachedVectors, _ = c.Count(ctx)
			_ = c.Close()
		}
	}
	return info, nil
}

// embedderStatus probes the configured provider. It reports "error" when no
// embedder can be created and "offline" when the provider does not answer.
func embedderStatus(ctx context.Context, cfg *config.Config, model *string) string {
	probeCtx, cancel := context.WithTimeout(ctx, statusProbeTimeout)
	defer cancel()

	e, err := embed.NewEmbedder(probeCtx, cfg)
	if err != nil {
		slog.Debug("status embedder unavailable", slog.String("error", err.Error()))
		return "error"
	}
	defer func() { _ = e.Close() }()

	*model = e.ModelName()
	if !e.Available(probeCtx) {
		return "offline"
	}
	return "ready"
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// dirSize returns the total size of all files under path.
func dirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}
