// Package ui renders indexing progress and library status in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"slices"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents a reindexing stage.
type Stage int

const (
	// StageScanning walks the library tree.
	StageScanning Stage = iota
	// StageDetecting compares the tree with the manifest.
	StageDetecting
	// StageExtracting reads and chunks changed books.
	StageExtracting
	// StageEmbedding embeds new chunks.
	StageEmbedding
	// StageSaving writes indices and the manifest.
	StageSaving
	// StageComplete indicates the run is complete.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageDetecting:
		return "Detecting"
	case StageExtracting:
		return "Extracting"
	case StageEmbedding:
		return "Embedding"
	case StageSaving:
		return "Saving"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageDetecting:
		return "DELTA"
	case StageExtracting:
		return "READ"
	case StageEmbedding:
		return "EMBED"
	case StageSaving:
		return "SAVE"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage       Stage
	Topic       string
	Current     int
	Total       int
	CurrentFile string
	Message     string
}

// ErrorEvent represents an error during processing.
type ErrorEvent struct {
	File   string
	Err    error
	IsWarn bool
}

// StageTimings tracks duration for each stage.
type StageTimings struct {
	Scan    time.Duration
	Extract time.Duration
	Embed   time.Duration
	Save    time.Duration
}

// EmbedderInfo contains embedder details.
type EmbedderInfo struct {
	Model      string
	Dimensions int
}

// CompletionStats contains final run statistics.
type CompletionStats struct {
	Topics   int // topics reindexed
	Skipped  int // topics unchanged
	Books    int // books (re)embedded
	Removed  int // books dropped from indices
	Chunks   int // chunks embedded
	Duration time.Duration
	Errors   int
	Warnings int
	DryRun   bool
	Stages   StageTimings
	Embedder EmbedderInfo
}

// Renderer receives the events of a reindex run. The runner calls Start
// once, any number of UpdateProgress and AddError, then Complete and Stop.
type Renderer interface {
	Start(ctx context.Context) error
	UpdateProgress(event ProgressEvent)
	AddError(event ErrorEvent)
	Complete(stats CompletionStats)
	Stop() error
}

// Config selects and configures a renderer.
type Config struct {
	Output      io.Writer
	ForcePlain  bool
	NoColor     bool
	LibraryPath string
}

// ConfigOption adjusts a Config.
type ConfigOption func(*Config)

// WithForcePlain skips the TUI even on a terminal (--no-tui).
func WithForcePlain(force bool) ConfigOption { return func(c *Config) { c.ForcePlain = force } }

// WithNoColor turns off styling (--no-color).
func WithNoColor(noColor bool) ConfigOption { return func(c *Config) { c.NoColor = noColor } }

// WithLibraryPath names the library in the TUI title.
func WithLibraryPath(dir string) ConfigOption { return func(c *Config) { c.LibraryPath = dir } }

// NewConfig applies opts over a Config writing to output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a TUI renderer for interactive terminals and a plain
// renderer for CI, pipes, or --no-tui.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}

	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// ciEnv lists variables whose presence marks a CI run.
var ciEnv = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE", "JENKINS_URL"}

// IsTTY reports whether w is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DetectNoColor honors the NO_COLOR convention (no-color.org).
func DetectNoColor() bool {
	_, set := os.LookupEnv("NO_COLOR")
	return set
}

// DetectCI reports whether a CI system is running us.
func DetectCI() bool {
	return slices.ContainsFunc(ciEnv, func(name string) bool {
		_, set := os.LookupEnv(name)
		return set
	})
}

// NopRenderer discards all events. Used by the watcher and tests.
type NopRenderer struct{}

func (NopRenderer) Start(context.Context) error { return nil }
func (NopRenderer) UpdateProgress(ProgressEvent) {}
func (NopRenderer) AddError(ErrorEvent)          {}
func (NopRenderer) Complete(CompletionStats)     {}
func (NopRenderer) Stop() error                  { return nil }

var _ Renderer = NopRenderer{}
