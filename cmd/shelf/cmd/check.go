package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/index"
	"github.com/Aman-CERP/shelf/internal/output"
)

func newCheckCmd() *cobra.Command {
	var repair bool
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify topic indices against the manifest",
		Long: `Load every topic index and compare it with the manifest: missing or
unreadable indices, chunk counts that disagree, chunks of books the
manifest no longer lists, indices built by another model, and index
folders of topics that no longer exist.

--repair deletes orphan index folders. Other issues need the topic
rebuilt with 'shelf index --full --topic <id>'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := requireManifest(cfg)
			if err != nil {
				return err
			}
			m, err := s.Load()
			if err != nil {
				return err
			}

			checker := index.NewConsistencyChecker(cfg.DataPath(), cfg.Index.M, cfg.Index.EfSearch)
			result, err := checker.Check(cmd.Context(), m)
			if err != nil {
				return err
			}
			slog.Info("consistency_check",
				slog.Int("topics", result.Checked),
				slog.Int("issues", len(result.Inconsistencies)))

			if repair && !result.OK() {
				if err := checker.Repair(cmd.Context(), result.Inconsistencies); err != nil {
					return err
				}
			}
			rebuild := topicsToRebuild(result.Inconsistencies)

			if jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				return checkErr(result, rebuild, repair)
			}

			out := output.New(cmd.OutOrStdout())
			out.Header("Index check: " + cfg.Library.Root)
			out.Field("Topics", result.Checked)
			out.Field("Issues", len(result.Inconsistencies))
			out.Newline()
			for _, issue := range result.Inconsistencies {
				where := issue.Topic
				if issue.Book != "" {
					where += "/" + issue.Book
				}
				if repair && issue.Type == index.InconsistencyOrphanIndex {
					out.Successf("%s: removed orphan index", where)
					continue
				}
				out.Errorf("%s: %s: %s", where, issue.Type, issue.Details)
			}
			if result.OK() {
				out.Success("Indices match the manifest")
				return nil
			}
			for _, id := range rebuild {
				out.Warningf("rebuild with: shelf index --full --topic %s", id)
			}
			return checkErr(result, rebuild, repair)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Delete orphan index folders")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// topicsToRebuild lists topics with issues that deleting cannot fix.
func topicsToRebuild(issues []index.Inconsistency) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, issue := range issues {
		if issue.Type == index.InconsistencyOrphanIndex || seen[issue.Topic] {
			continue
		}
		seen[issue.Topic] = true
		ids = append(ids, issue.Topic)
	}
	return ids
}

// checkErr fails while any issue remains after the optional repair.
func checkErr(result *index.CheckResult, rebuild []string, repaired bool) error {
	remaining := len(rebuild)
	if !repaired {
		remaining = len(result.Inconsistencies)
	}
	if remaining == 0 {
		return nil
	}
	return shelferrors.New(shelferrors.ErrCodeIndexCorrupt,
		fmt.Sprintf("%d index issues remain", remaining), nil).
		WithSuggestion("run 'shelf check --repair', then 'shelf index --full' for the listed topics")
}
