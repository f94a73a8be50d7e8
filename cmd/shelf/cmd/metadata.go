package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/shelf/internal/catalog"
	"github.com/Aman-CERP/shelf/internal/output"
)

func newMetadataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Manage the library manifest",
	}
	cmd.AddCommand(newMetadataGenerateCmd())
	return cmd
}

// generateOptions holds CLI flags for metadata generate.
type generateOptions struct {
	dryRun     bool
	jsonOutput bool
}

func newMetadataGenerateCmd() *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Build the manifest from the library files",
		Long: `Scan the library and write a manifest with one topic per leaf folder
and one record per book. Titles, authors and years come from the book
files where they carry them, otherwise from the filename. Tags are drawn
from the first pages of each book.

Existing book ids and indexing timestamps are kept, so regenerating does
not force a reindex of unchanged books.`,
		Example: `  shelf metadata generate
  shelf metadata generate --dry-run --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			return runGenerate(ctx, cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the result without writing the manifest")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the report as JSON")

	return cmd
}

func runGenerate(ctx context.Context, cmd *cobra.Command, opts generateOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s := manifestStore(cfg)
	current, err := s.Load()
	if err != nil {
		return err
	}

	gen, err := catalog.NewGenerator(nil, catalog.GenerateOptions{Scan: scanOptions(cfg)})
	if err != nil {
		return err
	}
	m, report, err := gen.Generate(ctx, cfg.Library.Root, current)
	if err != nil {
		return err
	}

	if !opts.dryRun {
		if err := s.Replace(ctx, m); err != nil {
			return err
		}
		slog.Info("manifest_generated",
			slog.String("path", s.Path()),
			slog.Int("topics", report.Topics),
			slog.Int("books", report.Books))
	}

	if opts.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), report)
	}

	out := output.New(cmd.OutOrStdout())
	out.Header("Manifest: " + s.Path())
	out.Field("Topics", report.Topics)
	out.Field("Books", report.Books)
	out.Newline()
	out.List("Added topics", report.AddedTopics)
	out.List("Dropped topics", report.DroppedTopics)
	out.List("Added books", report.AddedBooks)
	out.List("Dropped books", report.DroppedBooks)
	for _, v := range report.Skipped {
		out.Warningf("%s skipped: %s", v.Path, violationSummary(v))
	}
	for _, d := range report.Duplicates {
		out.Warningf("%s skipped: %s", d.TopicID, duplicateSummary(d))
	}
	for _, f := range report.Failures {
		out.Warningf("%s: %s", f.Path, f.Error)
	}

	if opts.dryRun {
		out.Status("→", "Dry run; nothing written")
	} else {
		out.Success("Manifest written")
	}
	return nil
}
