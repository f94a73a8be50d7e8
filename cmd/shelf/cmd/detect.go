package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/shelf/internal/delta"
	"github.com/Aman-CERP/shelf/internal/output"
	"github.com/Aman-CERP/shelf/internal/scanner"
)

// detectOutput is the JSON shape of 'shelf detect'.
type detectOutput struct {
	Library    string       `json:"library"`
	Counts     delta.Counts `json:"counts"`
	New        []string     `json:"new"`
	Modified   []string     `json:"modified"`
	Deleted    []string     `json:"deleted"`
	Topics     []string     `json:"changed_topics"`
	Violations []string     `json:"layout_violations"`
	Duplicates []string     `json:"duplicate_topic_ids,omitempty"`
}

func newDetectCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Show which books changed since the last index run",
		Long: `Compare the library with the manifest and list new, modified and
deleted books. Nothing is written; 'shelf index' acts on the same result.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDetect(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDetect(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	snap, err := scanner.Scan(ctx, cfg.Library.Root, scanOptions(cfg))
	if err != nil {
		return fmt.Errorf("failed to scan library: %w", err)
	}
	m, err := manifestStore(cfg).Load()
	if err != nil {
		return err
	}
	res := delta.Detect(snap, m)

	result := detectOutput{
		Library:    snap.Root,
		Counts:     res.Counts(),
		New:        refKeys(res.New),
		Modified:   refKeys(res.Modified),
		Deleted:    refKeys(res.Deleted),
		Topics:     res.ChangedTopics(),
		Violations: []string{},
	}
	for _, f := range snap.Violations() {
		result.Violations = append(result.Violations, f.RelPath)
	}
	for _, group := range snap.Duplicates() {
		for _, f := range group {
			result.Duplicates = append(result.Duplicates, f.RelPath)
		}
	}
	sort.Strings(result.Duplicates)

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), result)
	}

	out := output.New(cmd.OutOrStdout())
	out.Header("Library: " + result.Library)
	out.Field("New", result.Counts.New)
	out.Field("Modified", result.Counts.Modified)
	out.Field("Deleted", result.Counts.Deleted)
	out.Field("Unchanged", result.Counts.Unchanged)
	out.Newline()
	out.List("New", result.New)
	out.List("Modified", result.Modified)
	out.List("Deleted", result.Deleted)
	for _, v := range result.Violations {
		out.Warningf("%s holds books and subfolders and is skipped", v)
	}
	for _, p := range result.Duplicates {
		out.Warningf("%s shares its topic id with another folder and is skipped", p)
	}

	if res.Empty() {
		out.Success("Index is up to date")
	} else {
		out.Statusf("→", "%d topic(s) need indexing; run 'shelf index'", len(result.Topics))
	}
	return nil
}

// refKeys returns the topic-relative paths of refs, never nil.
func refKeys(refs []delta.BookRef) []string {
	keys := make([]string, 0, len(refs))
	for _, r := range refs {
		keys = append(keys, r.Key())
	}
	return keys
}
