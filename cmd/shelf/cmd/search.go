package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/shelf/internal/mcp"
	"github.com/Aman-CERP/shelf/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	topic  string
	book   string
	k      int
	format string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the library",
		Long: `Search one topic of the library by meaning.

Only one topic index is loaded per query. Without --topic the topic is
inferred from the query words matching topic labels and tags, then
falls back to retrieval.default_topic and finally to the first indexed
topic. --book restricts results to one book and implies its topic.`,
		Example: `  shelf search "the discipline of desire"
  shelf search "causes of the punic wars" --topic history -k 10
  shelf search "impermanence" --book meditations --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.topic, "topic", "t", "", "Topic id or label")
	cmd.Flags().StringVarP(&opts.book, "book", "b", "", "Book id or title")
	cmd.Flags().IntVarP(&opts.k, "top-k", "k", 0, "Number of passages (default retrieval.top_k)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("invalid format %q: use text or json", opts.format)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	manifests, err := requireManifest(cfg)
	if err != nil {
		return err
	}

	embedder, err := openEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	loader := search.NewLoader(cfg.DataPath(), cfg.Index.M, cfg.Index.EfSearch)
	engine, err := search.NewEngine(manifests, loader, embedder, engineConfig(cfg))
	if err != nil {
		return err
	}

	slog.Info("search_started", slog.String("query", query), slog.String("topic", opts.topic), slog.Int("k", opts.k))
	resp, err := engine.Query(ctx, search.Request{
		Query: query,
		Topic: opts.topic,
		Book:  opts.book,
		K:     opts.k,
	})
	if err != nil {
		return err
	}
	slog.Info("search_complete",
		slog.String("topic", resp.Topic),
		slog.String("resolution", string(resp.Resolution)),
		slog.Int("results", len(resp.Results)),
		slog.Duration("took", resp.Took))

	if opts.format == "json" {
		return writeJSON(cmd.OutOrStdout(), mcp.ToQueryOutput(resp))
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), mcp.FormatQueryResults(mcp.ToQueryOutput(resp)))
	return err
}
