package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/shelf/internal/catalog"
	"github.com/Aman-CERP/shelf/internal/output"
)

// migrateOptions holds CLI flags for migrate.
type migrateOptions struct {
	source     string
	dryRun     bool
	force      bool
	jsonOutput bool
}

func newMigrateCmd() *cobra.Command {
	var opts migrateOptions

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Convert a version 1 manifest to the current schema",
		Long: `Convert a legacy metadata.json (schema 1) into the current manifest.

Topics are matched to their folders, books missing on disk are dropped
and books found on disk are added. Topics that already have an index keep
their timestamps; every other topic is embedded on the next index run.
The legacy file is kept next to the original with a .v1.backup suffix.

Migration refuses while any folder holds both books and subfolders.`,
		Example: `  shelf migrate --dry-run
  shelf migrate --source ~/Books/old/metadata.json --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.source, "source", "", "Legacy manifest file (default: searched in the library)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report the conversion without writing anything")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Replace an existing current-schema manifest")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output the report as JSON")

	return cmd
}

func runMigrate(ctx context.Context, cmd *cobra.Command, opts migrateOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	_, report, err := catalog.NewMigrator(cfg.DataPath()).Migrate(ctx, cfg.Library.Root, catalog.MigrateOptions{
		Source: opts.source,
		Scan:   scanOptions(cfg),
		DryRun: opts.dryRun,
		Force:  opts.force,
	})
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		return writeJSON(cmd.OutOrStdout(), report)
	}

	out := output.New(cmd.OutOrStdout())
	out.Header("Migrating " + report.Source)
	out.Field("Topics", report.Topics)
	out.Field("Books", report.Books)
	out.Newline()
	out.List("Topics without a folder (dropped)", report.Missing)
	out.List("Group folders (not topics)", report.Parents)
	out.List("Books missing on disk (dropped)", report.DroppedBooks)
	out.List("Books found on disk (added)", report.AddedBooks)

	if report.DryRun {
		out.Status("→", "Dry run; nothing written")
		return nil
	}
	if report.Backup != "" {
		out.Field("Backup", report.Backup)
	}
	out.Successf("Manifest written to %s", report.Target)
	out.Status("→", "Run 'shelf index' to embed new and unindexed books")
	return nil
}
