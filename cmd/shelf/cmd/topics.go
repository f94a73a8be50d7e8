package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/output"
)

func newTopicsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "topics [topic]",
		Short: "List topics, or the books of one topic",
		Long: `List the topics recorded in the manifest with their book counts.
Given a topic id, folder path or label, list that topic's books instead.`,
		Example: `  shelf topics
  shelf topics philosophy/stoics
  shelf topics --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if len(args) == 0 {
				return printTopics(cmd, m, jsonOutput)
			}
			t := m.FindTopic(args[0])
			if t == nil {
				return shelferrors.Newf(shelferrors.ErrCodeTopicNotFound, "topic not found: %s", args[0]).
					WithSuggestion("run 'shelf topics' to list topic ids")
			}
			return printBooks(cmd, t, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printTopics(cmd *cobra.Command, m *manifest.Manifest, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), m.Topics)
	}

	out := output.New(cmd.OutOrStdout())
	if len(m.Topics) == 0 {
		out.Warning("No topics; run 'shelf index' or 'shelf metadata generate'")
		return nil
	}

	rows := make([][]string, 0, len(m.Topics))
	for _, t := range m.Topics {
		rows = append(rows, []string{
			t.ID,
			t.Label,
			strconv.Itoa(len(t.Books)),
			fmt.Sprintf("%d/%d", t.IndexedBooks(), len(t.Books)),
			strconv.Itoa(topicChunks(t)),
		})
	}
	out.Table([]string{"ID", "LABEL", "BOOKS", "INDEXED", "CHUNKS"}, rows)
	out.Newline()
	out.Statusf("", "%d topics, %d books", len(m.Topics), m.BookCount())
	return nil
}

func printBooks(cmd *cobra.Command, t *manifest.Topic, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), t)
	}

	out := output.New(cmd.OutOrStdout())
	out.Header(t.Label)
	out.Field("ID", t.ID)
	out.Field("Path", t.Path)
	if len(t.Tags) > 0 {
		out.Field("Tags", strings.Join(t.Tags, ", "))
	}
	out.Newline()

	rows := make([][]string, 0, len(t.Books))
	for _, b := range t.Books {
		year := ""
		if b.Year != nil {
			year = strconv.Itoa(*b.Year)
		}
		indexed := "no"
		if b.LastIndexedAt != nil {
			indexed = "yes"
		}
		rows = append(rows, []string{b.ID, b.Title, b.Author, year, indexed})
	}
	out.Table([]string{"ID", "TITLE", "AUTHOR", "YEAR", "INDEXED"}, rows)
	return nil
}

func topicChunks(t *manifest.Topic) int {
	n := 0
	for _, b := range t.Books {
		n += b.Chunks
	}
	return n
}
