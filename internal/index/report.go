package index

import (
	"time"

	"github.com/Aman-CERP/shelf/internal/delta"
	"github.com/Aman-CERP/shelf/internal/ui"
)

// Options selects what a run touches.
type Options struct {
	// Topics restricts the run to these topic ids or folder paths. Empty
	// means every topic.
	Topics []string

	// Force re-embeds every present book, bypassing the folder hash
	// short-circuit and the embedding cache.
	Force bool

	// Full ignores existing indices and recorded index state and rebuilds
	// every selected topic from scratch.
	Full bool

	// DryRun computes and reports the delta without writing anything.
	DryRun bool
}

// Failure is a book that could not be indexed. It stays unindexed in the
// manifest and is retried on the next run.
type Failure struct {
	Topic    string
	Filename string
	Err      error
}

// TopicReport describes what happened to one topic.
type TopicReport struct {
	ID string

	// Skipped is set when the folder hash matched and nothing was touched.
	Skipped bool

	// Rebuilt is set when the index was built from scratch.
	Rebuilt bool

	// Removed is set when the topic folder vanished and its index was deleted.
	Removed bool

	Delta delta.Counts

	// Embedded counts books (re)embedded in this run.
	Embedded int

	// Chunks counts chunks appended in this run.
	Chunks int

	// CacheHits counts chunks whose vectors came from the embedding cache.
	CacheHits int

	// Total is the chunk count of the index after the run.
	Total int

	// Failed counts books recorded in Report.Failures.
	Failed int
}

// Changed reports whether the topic's index was written or deleted.
func (t TopicReport) Changed() bool {
	return !t.Skipped && (t.Removed || t.Embedded > 0 || t.Delta.Deleted > 0 || t.Delta.Modified > 0 || t.Rebuilt)
}

// Report is the outcome of a run.
type Report struct {
	RunID  string
	DryRun bool

	Topics []TopicReport

	// Violations are folders skipped because they hold books and subfolders.
	Violations []string

	// Duplicates are leaf folders skipped because another folder has the
	// same topic id.
	Duplicates []string

	Failures []Failure
	Delta    delta.Counts
	Stages   ui.StageTimings
	Duration time.Duration
}

// ChangedTopics lists the ids of topics whose index was written or deleted.
func (r *Report) ChangedTopics() []string {
	var ids []string
	for _, t := range r.Topics {
		if t.Changed() {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Topic returns the report of one topic, or nil.
func (r *Report) Topic(id string) *TopicReport {
	for i := range r.Topics {
		if r.Topics[i].ID == id {
			return &r.Topics[i]
		}
	}
	return nil
}

func (r *Report) completion(model string, dims int) ui.CompletionStats {
	stats := ui.CompletionStats{
		Duration: r.Duration,
		Errors:   len(r.Failures),
		Warnings: len(r.Violations) + len(r.Duplicates),
		DryRun:   r.DryRun,
		Stages:   r.Stages,
		Embedder: ui.EmbedderInfo{Model: model, Dimensions: dims},
	}
	for _, t := range r.Topics {
		switch {
		case t.Skipped:
			stats.Skipped++
		case t.Removed:
			stats.Removed += t.Delta.Deleted
		default:
			stats.Topics++
			stats.Books += t.Embedded
			stats.Chunks += t.Chunks
			stats.Removed += t.Delta.Deleted
		}
	}
	if r.DryRun {
		stats.Books = r.Delta.New + r.Delta.Modified
	}
	return stats
}
