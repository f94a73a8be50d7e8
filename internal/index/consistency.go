package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyMissingIndex indicates a topic with indexed books but no index.
	InconsistencyMissingIndex InconsistencyType = iota
	// InconsistencyOrphanIndex indicates an index directory without a manifest topic.
	InconsistencyOrphanIndex
	// InconsistencyOrphanChunks indicates chunks of a book the manifest does not list.
	InconsistencyOrphanChunks
	// InconsistencyChunkCount indicates a book whose recorded chunk count differs from the index.
	InconsistencyChunkCount
	// InconsistencyCorruptIndex indicates an index that cannot be loaded.
	InconsistencyCorruptIndex
	// InconsistencyModelMismatch indicates an index built by another model than the manifest records.
	InconsistencyModelMismatch
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyMissingIndex:
		return "missing_index"
	case InconsistencyOrphanIndex:
		return "orphan_index"
	case InconsistencyOrphanChunks:
		return "orphan_chunks"
	case InconsistencyChunkCount:
		return "chunk_count"
	case InconsistencyCorruptIndex:
		return "corrupt_index"
	case InconsistencyModelMismatch:
		return "model_mismatch"
	default:
		return "unknown"
	}
}

// MarshalText writes the type by name in JSON output.
func (t InconsistencyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Inconsistency represents a detected manifest/index issue.
type Inconsistency struct {
	Type    InconsistencyType `json:"type"`
	Topic   string            `json:"topic"`
	Book    string            `json:"book,omitempty"`
	Details string            `json:"details"`
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Checked         int             `json:"checked_topics"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Duration        time.Duration   `json:"duration_ns"`
}

// OK reports whether no issue was found.
func (r *CheckResult) OK() bool {
	return len(r.Inconsistencies) == 0
}

// ConsistencyChecker compares the manifest with the topic indices on disk.
// The manifest is the source of truth.
type ConsistencyChecker struct {
	dataDir  string
	m        int
	efSearch int
}

// NewConsistencyChecker creates a checker for the indices under dataDir.
func NewConsistencyChecker(dataDir string, m, efSearch int) *ConsistencyChecker {
	return &ConsistencyChecker{dataDir: dataDir, m: m, efSearch: efSearch}
}

// Check loads every topic index and verifies it against man.
func (c *ConsistencyChecker) Check(ctx context.Context, man *manifest.Manifest) (*CheckResult, error) {
	start := time.Now()
	var issues []Inconsistency

	known := make(map[string]bool, len(man.Topics))
	for _, t := range man.Topics {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		known[t.ID] = true
		issues = append(issues, c.checkTopic(man, t)...)
	}

	orphans, err := c.indexDirs()
	if err != nil {
		return nil, err
	}
	for _, id := range orphans {
		if !known[id] {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyOrphanIndex,
				Topic:   id,
				Details: "index directory without a manifest topic",
			})
		}
	}

	return &CheckResult{
		Checked:         len(man.Topics),
		Inconsistencies: issues,
		Duration:        time.Since(start),
	}, nil
}

func (c *ConsistencyChecker) checkTopic(man *manifest.Manifest, t *manifest.Topic) []Inconsistency {
	dir := store.Dir(c.dataDir, t.ID)
	if !store.Exists(dir) {
		if t.IndexedBooks() == 0 {
			return nil
		}
		return []Inconsistency{{
			Type:    InconsistencyMissingIndex,
			Topic:   t.ID,
			Details: fmt.Sprintf("%d books recorded as indexed but no index on disk", t.IndexedBooks()),
		}}
	}

	idx, err := store.LoadTopicIndex(dir, c.m, c.efSearch)
	if err != nil {
		return []Inconsistency{{Type: InconsistencyCorruptIndex, Topic: t.ID, Details: err.Error()}}
	}

	var issues []Inconsistency
	if man.EmbeddingModel != "" && idx.Model != man.EmbeddingModel {
		issues = append(issues, Inconsistency{
			Type:    InconsistencyModelMismatch,
			Topic:   t.ID,
			Details: fmt.Sprintf("index built with %s, manifest records %s", idx.Model, man.EmbeddingModel),
		})
	}

	counts := idx.BookIDs()
	listed := make(map[string]bool, len(t.Books))
	for _, b := range t.Books {
		listed[b.ID] = true
		if b.LastIndexedAt == nil {
			continue
		}
		if got := counts[b.ID]; got != b.Chunks {
			issues = append(issues, Inconsistency{
				Type:    InconsistencyChunkCount,
				Topic:   t.ID,
				Book:    b.ID,
				Details: fmt.Sprintf("manifest records %d chunks, index holds %d", b.Chunks, got),
			})
		}
	}

	var orphanBooks []string
	for id := range counts {
		if !listed[id] {
			orphanBooks = append(orphanBooks, id)
		}
	}
	sort.Strings(orphanBooks)
	for _, id := range orphanBooks {
		issues = append(issues, Inconsistency{
			Type:    InconsistencyOrphanChunks,
			Topic:   t.ID,
			Book:    id,
			Details: fmt.Sprintf("%d chunks of a book the manifest does not list", counts[id]),
		})
	}
	return issues
}

// indexDirs lists the topic ids that have an index directory.
func (c *ConsistencyChecker) indexDirs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(c.dataDir, store.TopicsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list topic indices: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// Repair deletes orphan index directories. Every other issue needs the
// affected topic reindexed and is only logged.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	var needReindex []string
	seen := map[string]bool{}

	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return err
		}
		if issue.Type == InconsistencyOrphanIndex {
			if err := store.Remove(store.Dir(c.dataDir, issue.Topic)); err != nil {
				return err
			}
			slog.Info("orphan_index_removed", slog.String("topic", issue.Topic))
			continue
		}
		if !seen[issue.Topic] {
			seen[issue.Topic] = true
			needReindex = append(needReindex, issue.Topic)
		}
	}

	if len(needReindex) > 0 {
		slog.Warn("topics need a rebuild, run 'shelf index --full --topic <id>'",
			slog.Any("topics", needReindex))
	}
	return nil
}

// QuickCheck compares each stamp's chunk count with the chunk counts the
// manifest records, without loading any graph. It returns the ids of topics
// whose counts disagree.
func (c *ConsistencyChecker) QuickCheck(man *manifest.Manifest) []string {
	var stale []string
	for _, t := range man.Topics {
		recorded := 0
		for _, b := range t.Books {
			if b.LastIndexedAt != nil {
				recorded += b.Chunks
			}
		}
		stamp, err := store.ReadStamp(store.Dir(c.dataDir, t.ID))
		if err != nil {
			if recorded > 0 {
				stale = append(stale, t.ID)
			}
			continue
		}
		if stamp.Count != recorded {
			slog.Debug("index counts mismatch",
				slog.String("topic", t.ID),
				slog.Int("manifest", recorded),
				slog.Int("index", stamp.Count))
			stale = append(stale, t.ID)
		}
	}
	return stale
}
