// Package cmd provides the CLI commands for shelf.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/shelf/internal/logging"
	"github.com/Aman-CERP/shelf/pkg/version"
)

// Persistent flags
var (
	libraryPath    string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the shelf CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shelf",
		Short: "Incremental indexing and topic-partitioned search for a book library",
		Long: `shelf indexes a folder tree of ebooks (PDF, EPUB, HTML, text) and
answers semantic queries over it, locally or through an MCP server.

Every leaf folder of the library is a topic with its own vector index.
Indexing is incremental: only books that were added, changed or removed
since the last run are re-embedded, and only their topics are rewritten.

Typical flow:
  shelf validate          check the folder layout
  shelf metadata generate build the manifest from the files
  shelf index             embed what changed
  shelf search "..."      query from the terminal
  shelf serve             answer MCP clients over stdio`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("shelf version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&libraryPath, "library", "L", "",
		"Library root (default: nearest directory with .shelf.yaml or .shelf, else the current directory)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to stderr and ~/.shelf/logs/")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newDetectCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTopicsCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newMetadataCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging sends slog output to the rotating log file, and to stderr
// as well with --debug. Commands print their own results to stdout.
func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig()
	}
	cleanup, err := logging.Install(cfg)
	if err != nil {
		// Not critical for the CLI; slog keeps its default handler.
		slog.Warn("failed to set up file logging", slog.String("error", err.Error()))
		return nil
	}
	loggingCleanup = cleanup
	slog.Debug("debug logging enabled", slog.String("log_file", cfg.FilePath), slog.String("version", version.Version))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
