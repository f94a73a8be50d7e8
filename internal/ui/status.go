package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// TopicStatus describes the index state of one topic.
type TopicStatus struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Books       int        `json:"books"`
	Indexed     int        `json:"indexed_books"`
	Chunks      int        `json:"chunks"`
	IndexSize   int64      `json:"index_size"`
	LastIndexed *time.Time `json:"last_indexed_at"`
	Stale       bool       `json:"stale"`
	Model       string     `json:"model,omitempty"`
}

// StatusInfo contains library health information.
type StatusInfo struct {
	Library   string        `json:"library"`
	Manifest  bool          `json:"manifest"`
	Topics    []TopicStatus `json:"topics"`
	Pending   int           `json:"pending_changes"`
	TotalSize int64         `json:"total_size"`

	EmbedderModel  string `json:"embedder_model"`
	EmbedderStatus string `json:"embedder_status"` // "ready", "offline", "error"
	CachedVectors  int    `json:"cached_vectors"`
}

// StatusRenderer displays library status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays status info to terminal.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Library: "+info.Library))

	if !info.Manifest {
		_, _ = fmt.Fprintln(r.out, "  Not indexed yet. Run 'shelf index'.")
		return nil
	}

	_, _ = fmt.Fprintf(r.out, "  %-24s %6s %8s %8s %10s  %s\n", "TOPIC", "BOOKS", "INDEXED", "CHUNKS", "SIZE", "LAST INDEXED")
	_, _ = fmt.Fprintf(r.out, "  %s\n", r.styles.Border.Render(strings.Repeat("─", 78)))
	for _, t := range info.Topics {
		last := "never"
		if t.LastIndexed != nil {
			last = formatTime(*t.LastIndexed)
		}
		if t.Stale {
			last = r.styles.Warning.Render(last + " (stale)")
		}
		_, _ = fmt.Fprintf(r.out, "  %-24s %6d %8d %8d %10s  %s\n",
			truncate(t.ID, 24), t.Books, t.Indexed, t.Chunks, FormatBytes(t.IndexSize), last)
	}
	_, _ = fmt.Fprintln(r.out)

	if info.Pending > 0 {
		_, _ = fmt.Fprintf(r.out, "  %s\n", r.styles.Warning.Render(fmt.Sprintf("%d books changed since last index", info.Pending)))
	}
	_, _ = fmt.Fprintf(r.out, "  Storage:  %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintf(r.out, "  Embedder: %s (%s)\n", info.EmbedderModel, r.renderStatus(info.EmbedderStatus))
	if info.CachedVectors > 0 {
		_, _ = fmt.Fprintf(r.out, "  Cache:    %d embeddings\n", info.CachedVectors)
	}
	return nil
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// renderStatus formats a status string with color.
func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready":
		return r.styles.Success.Render(status)
	case "offline":
		return r.styles.Warning.Render(status)
	case "error":
		return r.styles.Error.Render(status)
	default:
		return status
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// formatTime describes t relative to now, falling back to a date after a week.
func formatTime(t time.Time) string {
	ago := time.Since(t)
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case ago < time.Minute:
		return "just now"
	case ago < time.Hour:
		return plural(int(ago.Minutes()), "minute")
	case ago < 24*time.Hour:
		return plural(int(ago.Hours()), "hour")
	case ago < 7*24*time.Hour:
		return plural(int(ago.Hours()/24), "day")
	default:
		return t.Local().Format("2006-01-02 15:04")
	}
}

// FormatBytes renders n in binary units with one decimal.
func FormatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v := float64(n) / 1024
	for _, unit := range []string{"KB", "MB"} {
		if v < 1024 {
			return fmt.Sprintf("%.1f %s", v, unit)
		}
		v /= 1024
	}
	return fmt.Sprintf("%.1f GB", v)
}
