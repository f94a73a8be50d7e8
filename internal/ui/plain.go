package ui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, for CI logs and pipes.
type PlainRenderer struct {
	mu    sync.Mutex
	out   io.Writer
	board *Board
	topic string
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, board: NewBoard()}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.board.Apply(event)

	if event.Topic != "" && event.Topic != r.topic {
		r.topic = event.Topic
		r.printf("== %s\n", event.Topic)
	}

	what := event.Message
	if what == "" {
		what = event.CurrentFile
	}
	indent := ""
	if event.Topic != "" {
		indent = "  "
	}
	switch {
	case event.Total > 0:
		r.printf("%s%-5s %d/%d %s\n", indent, event.Stage.Icon(), event.Current, event.Total, what)
	case what != "":
		r.printf("%s%-5s %s\n", indent, event.Stage.Icon(), what)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.board.Fail(event)
	level := "error"
	if event.IsWarn {
		level = "warning"
	}
	r.printf("%s: %s\n", level, describe(event))
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	verb := "Reindexed"
	if stats.DryRun {
		verb = "Would reindex"
	}
	r.printf("%s %d topics (%d unchanged): %d books, %d chunks, %d removed in %s\n",
		verb, stats.Topics, stats.Skipped, stats.Books, stats.Chunks, stats.Removed,
		stats.Duration.Round(100*time.Millisecond))
	if stats.Errors > 0 || stats.Warnings > 0 {
		r.printf("%d errors, %d warnings\n", stats.Errors, stats.Warnings)
	}
	for _, t := range r.board.Snapshot().Topics {
		if t.Failed > 0 {
			r.printf("  %s: %d of %d books failed\n", t.ID, t.Failed, t.Books)
		}
	}

	if st := stats.Stages; st.Embed > 0 && stats.Chunks > 0 {
		parts := []string{
			"scan " + st.Scan.Round(time.Millisecond).String(),
			"extract " + st.Extract.Round(time.Millisecond).String(),
			fmt.Sprintf("embed %s (%.1f chunks/s)", st.Embed.Round(time.Millisecond), float64(stats.Chunks)/st.Embed.Seconds()),
			"save " + st.Save.Round(time.Millisecond).String(),
		}
		r.printf("Stages: %s\n", strings.Join(parts, ", "))
	}
	if stats.Embedder.Model != "" {
		r.printf("Model: %s, %d dims\n", stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

func (r *PlainRenderer) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}

var _ Renderer = (*PlainRenderer)(nil)
