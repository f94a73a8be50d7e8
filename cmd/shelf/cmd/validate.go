package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/shelf/internal/catalog"
	"github.com/Aman-CERP/shelf/internal/output"
)

func newValidateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that every folder holds either books or subfolders",
		Long: `Walk the library and check the folder layout. A folder that holds
books is a topic and must not contain subfolders; a folder with
subfolders groups topics and must not contain books. Two topic folders
must not share a topic id (AI/policy and "AI policy" both become
ai_policy). Offending folders
are skipped by 'shelf index' and refused by 'shelf migrate'.

Exits with an error when any folder breaks the rule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			layout, err := catalog.Validate(cmd.Context(), cfg.Library.Root, scanOptions(cfg))
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), layout); err != nil {
					return err
				}
				return layout.Err()
			}

			out := output.New(cmd.OutOrStdout())
			out.Header("Library: " + layout.Root)
			out.Field("Topics", layout.Leaves)
			out.Field("Groups", layout.Parents)
			out.Field("Empty", layout.Empty)
			out.Field("Books", layout.Books)
			out.Newline()
			out.List("Ignored files at the root", layout.LooseFiles)

			if layout.OK() {
				out.Success("Layout is valid")
				return nil
			}
			for _, v := range layout.Violations {
				out.Errorf("%s: %s", v.Path, violationSummary(v))
			}
			for _, d := range layout.Duplicates {
				out.Errorf("%s: %s", d.TopicID, duplicateSummary(d))
			}
			out.Newline()
			return layout.Err()
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func violationSummary(v catalog.Violation) string {
	return fmt.Sprintf("%d book(s) next to subfolders %s", len(v.Books), strings.Join(v.Subfolders, ", "))
}

func duplicateSummary(d catalog.Duplicate) string {
	return fmt.Sprintf("topic id shared by %s", strings.Join(d.Paths, ", "))
}
