package mcp

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/shelf/internal/search"
)

// FormatQueryResults formats query results as markdown with citations.
func FormatQueryResults(out QueryOutput) string {
	if len(out.Results) == 0 {
		return fmt.Sprintf("No passages found for \"%s\" in %s", out.Query, topicName(out.TopicLabel, out.Topic))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## Passages for \"%s\"\n\n", out.Query)
	fmt.Fprintf(&sb, "Topic: **%s** (%s)\n\n", topicName(out.TopicLabel, out.Topic), out.Resolution)
	fmt.Fprintf(&sb, "Found %d passage", len(out.Results))
	if len(out.Results) != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")

	for i, r := range out.Results {
		formatPassage(&sb, i+1, r)
	}
	return sb.String()
}

// formatPassage formats a single passage as a quoted block under its citation.
func formatPassage(sb *strings.Builder, num int, r PassageOutput) {
	fmt.Fprintf(sb, "### %d. %s", num, r.BookTitle)
	if r.Author != "" {
		fmt.Fprintf(sb, " by %s", r.Author)
	}
	if r.Location != "" {
		fmt.Fprintf(sb, ", %s", r.Location)
	}
	fmt.Fprintf(sb, " (similarity: %.2f)\n\n", r.Similarity)

	for _, line := range strings.Split(strings.TrimSpace(r.Text), "\n") {
		sb.WriteString("> ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

// FormatTopics formats the topic list as markdown.
func FormatTopics(out ListTopicsOutput) string {
	if len(out.Topics) == 0 {
		return "No topics yet. Run 'shelf metadata generate' or 'shelf index'."
	}
	var sb strings.Builder
	sb.WriteString("## Topics\n\n")
	for _, t := range out.Topics {
		fmt.Fprintf(&sb, "- **%s** (`%s`): %d books, %d indexed", t.Label, t.ID, t.BookCount, t.IndexedBooks)
		if t.Description != "" {
			fmt.Fprintf(&sb, " (%s)", t.Description)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatBooks formats a book list as markdown.
func FormatBooks(out ListBooksOutput) string {
	if len(out.Books) == 0 {
		return "No books found."
	}
	var sb strings.Builder
	sb.WriteString("## Books\n\n")
	for _, b := range out.Books {
		fmt.Fprintf(&sb, "- **%s**", b.Title)
		if b.Author != "" {
			fmt.Fprintf(&sb, " by %s", b.Author)
		}
		if b.Year != nil {
			fmt.Fprintf(&sb, " (%d)", *b.Year)
		}
		fmt.Fprintf(&sb, " `%s` in %s", b.ID, b.TopicLabel)
		if !b.Indexed {
			sb.WriteString(", not indexed")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ToQueryOutput converts an engine response to the tool output.
func ToQueryOutput(resp *search.Response) QueryOutput {
	out := QueryOutput{
		Query:      resp.Query,
		Topic:      resp.Topic,
		TopicLabel: resp.TopicLabel,
		Resolution: string(resp.Resolution),
		Results:    make([]PassageOutput, 0, len(resp.Results)),
	}
	for _, r := range resp.Results {
		out.Results = append(out.Results, PassageOutput{
			Text:       r.Text,
			BookID:     r.BookID,
			BookTitle:  r.BookTitle,
			Author:     r.Author,
			Topic:      r.Topic,
			Location:   r.Location,
			Similarity: r.Similarity,
			Distance:   r.Distance,
		})
	}
	return out
}

func topicName(label, id string) string {
	if label != "" {
		return label
	}
	return id
}
