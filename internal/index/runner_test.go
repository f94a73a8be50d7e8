package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/shelf/internal/config"
	"github.com/Aman-CERP/shelf/internal/delta"
	"github.com/Aman-CERP/shelf/internal/embed"
	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/extract"
	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/scanner"
	"github.com/Aman-CERP/shelf/internal/store"
)

// countingEmbedder wraps the static embedder and counts embedded texts.
type countingEmbedder struct {
	*embed.StaticEmbedder
	mu    sync.Mutex
	texts int
}

func newCountingEmbedder(dims int) *countingEmbedder {
	return &countingEmbedder{StaticEmbedder: embed.NewStaticEmbedder(dims)}
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.texts += len(texts)
	e.mu.Unlock()
	return e.StaticEmbedder.EmbedBatch(ctx, texts)
}

func (e *countingEmbedder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

var _ embed.Embedder = (*countingEmbedder)(nil)

// failingExtractor fails for one filename and delegates the rest.
type failingExtractor struct {
	extract.Extractor
	fail string
}

func (f failingExtractor) Extract(ctx context.Context, path string) (*extract.Document, error) {
	if filepath.Base(path) == f.fail {
		return nil, fmt.Errorf("broken xref table")
	}
	return f.Extractor.Extract(ctx, path)
}

var past = time.Now().Add(-2 * time.Hour)

func bookText(title string, words int) string {
	var b strings.Builder
	b.WriteString("# " + title + "\n\n")
	for i := 0; i < words; i++ {
		fmt.Fprintf(&b, "%s%d ", strings.ToLower(title), i)
	}
	return b.String()
}

func writeBook(t *testing.T, root, rel, text string, mtime time.Time) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

// newLibrary creates history/{rome,greece}.txt and philosophy/stoics/meditations.txt.
func newLibrary(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeBook(t, root, "history/rome.txt", bookText("Rome", 60), past)
	writeBook(t, root, "history/greece.txt", bookText("Greece", 45), past)
	writeBook(t, root, "philosophy/stoics/meditations.txt", bookText("Meditations", 50), past)
	return root
}

func testConfig(root string) *config.Config {
	cfg := config.NewConfig()
	cfg.Library.Root = root
	cfg.Embeddings.Provider = "static"
	cfg.Chunking = config.ChunkingConfig{Size: 20, Overlap: 5, MinWords: 1}
	return cfg
}

type fixture struct {
	cfg      *config.Config
	embedder *countingEmbedder
	cache    *store.EmbeddingCache
	store    *manifest.Store
}

func newFixture(t *testing.T, root string, dims int) *fixture {
	t.Helper()
	cache, err := store.OpenEmbeddingCache("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	cfg := testConfig(root)
	return &fixture{
		cfg:      cfg,
		embedder: newCountingEmbedder(dims),
		cache:    cache,
		store:    manifest.NewStore(cfg.DataPath()),
	}
}

func (f *fixture) runner(t *testing.T, ex extract.Extractor) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerDependencies{
		Config:    f.cfg,
		Embedder:  f.embedder,
		Extractor: ex,
		Cache:     f.cache,
		Manifest:  f.store,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) run(t *testing.T, opts Options) *Report {
	t.Helper()
	report, err := f.runner(t, nil).Run(context.Background(), opts)
	require.NoError(t, err)
	return report
}

func (f *fixture) manifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	m, err := f.store.Load()
	require.NoError(t, err)
	return m
}

func (f *fixture) index(t *testing.T, topic string) *store.TopicIndex {
	t.Helper()
	idx, err := store.LoadTopicIndex(store.Dir(f.cfg.DataPath(), topic), 16, 64)
	require.NoError(t, err)
	return idx
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(RunnerDependencies{})
	assert.Error(t, err)

	_, err = NewRunner(RunnerDependencies{Config: config.NewConfig()})
	assert.Error(t, err)

	cfg := config.NewConfig()
	cfg.Chunking.Overlap = cfg.Chunking.Size
	_, err = NewRunner(RunnerDependencies{Config: cfg, Embedder: embed.NewStaticEmbedder(8)})
	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeConfigInvalid))
}

func TestRun_IndexesNewLibrary(t *testing.T) {
	// Given: a library that was never indexed
	f := newFixture(t, newLibrary(t), 32)

	// When: running the reindexer
	report := f.run(t, Options{})

	// Then: every book is new and both topics are written
	assert.Equal(t, 3, report.Delta.New)
	assert.Empty(t, report.Failures)
	assert.ElementsMatch(t, []string{"history", "philosophy_stoics"}, report.ChangedTopics())
	assert.NotEmpty(t, report.RunID)

	m := f.manifest(t)
	history := m.Topic("history")
	require.NotNil(t, history)
	assert.Equal(t, "history", history.Label)
	assert.NotEmpty(t, history.ContentHash)
	require.NotNil(t, history.LastIndexedAt)
	assert.Equal(t, "static-32", m.EmbeddingModel)
	assert.Equal(t, 20, m.ChunkSettings.Size)

	rome := history.Book("rome.txt")
	require.NotNil(t, rome)
	assert.Equal(t, "rome", rome.ID)
	assert.Equal(t, "Rome", rome.Title, "extracted title replaces the filename title")
	assert.Equal(t, "text", rome.Format)
	require.NotNil(t, rome.LastIndexedAt)
	assert.Positive(t, rome.Chunks)

	// Then: vector count equals chunk count and matches the manifest
	idx := f.index(t, "history")
	assert.Equal(t, idx.Len(), idx.Vectors.Len())
	assert.Equal(t, rome.Chunks+history.Book("greece.txt").Chunks, idx.Len())
	for pos, c := range idx.Chunks {
		assert.Equal(t, pos, c.Index)
		assert.Equal(t, "history", c.TopicID)
	}
	assert.Equal(t, report.Topic("history").Total, idx.Len())
}

func TestRun_SecondRunIsNoOp(t *testing.T) {
	// Given: an indexed library
	f := newFixture(t, newLibrary(t), 32)
	f.run(t, Options{})
	manifestBefore, err := os.ReadFile(f.store.Path())
	require.NoError(t, err)
	stampPath := filepath.Join(store.Dir(f.cfg.DataPath(), "history"), store.StampFile)
	stampBefore, err := os.ReadFile(stampPath)
	require.NoError(t, err)
	embedded := f.embedder.count()

	// When: running again without changes
	report := f.run(t, Options{})

	// Then: every topic is skipped and nothing is rewritten or embedded
	for _, tr := range report.Topics {
		assert.True(t, tr.Skipped, tr.ID)
	}
	assert.Empty(t, report.ChangedTopics())
	assert.Equal(t, embedded, f.embedder.count())

	manifestAfter, _ := os.ReadFile(f.store.Path())
	stampAfter, _ := os.ReadFile(stampPath)
	assert.Equal(t, manifestBefore, manifestAfter)
	assert.Equal(t, stampBefore, stampAfter)
}

func TestRun_ModifiedBookOnlyReembedsThatBook(t *testing.T) {
	// Given: an indexed library
	root := newLibrary(t)
	f := newFixture(t, root, 32)
	f.run(t, Options{})
	romeChunks := f.manifest(t).Topic("history").Book("rome.txt").Chunks
	embedded := f.embedder.count()

	// When: greece.txt is rewritten
	writeBook(t, root, "history/greece.txt", bookText("Sparta", 30), time.Now().Add(time.Hour))
	report := f.run(t, Options{})

	// Then: only that book is re-embedded; the other topic is untouched
	history := report.Topic("history")
	require.NotNil(t, history)
	assert.False(t, history.Skipped)
	assert.Equal(t, 1, history.Delta.Modified)
	assert.Equal(t, 1, history.Delta.Unchanged)
	assert.Equal(t, 1, history.Embedded)
	assert.False(t, history.Rebuilt)
	assert.True(t, report.Topic("philosophy_stoics").Skipped)

	m := f.manifest(t)
	greece := m.Topic("history").Book("greece.txt")
	assert.Equal(t, f.embedder.count()-embedded, greece.Chunks, "only the new text was embedded")

	idx := f.index(t, "history")
	counts := idx.BookIDs()
	assert.Equal(t, romeChunks, counts["rome"])
	assert.Equal(t, greece.Chunks, counts["greece"])
	assert.Equal(t, idx.Len(), idx.Vectors.Len())
	for _, c := range idx.Chunks {
		if c.BookID == "greece" {
			assert.Contains(t, c.Text, "sparta")
		}
	}
}

func TestRun_FullRebuildUsesCache(t *testing.T) {
	// Given: an indexed library with a warm embedding cache
	f := newFixture(t, newLibrary(t), 32)
	f.run(t, Options{})
	embedded := f.embedder.count()

	// When: rebuilding from scratch
	report := f.run(t, Options{Full: true})

	// Then: every chunk comes from the cache
	assert.Equal(t, embedded, f.embedder.count())
	for _, tr := range report.Topics {
		assert.True(t, tr.Rebuilt)
		assert.Equal(t, tr.Chunks, tr.CacheHits)
	}
}

func TestRun_ForceBypassesCache(t *testing.T) {
	f := newFixture(t, newLibrary(t), 32)
	f.run(t, Options{})
	embedded := f.embedder.count()

	report := f.run(t, Options{Force: true, Topics: []string{"history"}})

	history := report.Topic("history")
	require.NotNil(t, history)
	assert.Equal(t, 2, history.Embedded)
	assert.Zero(t, history.CacheHits)
	assert.Equal(t, embedded+history.Chunks, f.embedder.count())
}

func TestRun_DeletedBookIsRemoved(t *testing.T) {
	// Given: an indexed library
	root := newLibrary(t)
	f := newFixture(t, root, 32)
	f.run(t, Options{})

	// When: greece.txt is deleted
	require.NoError(t, os.Remove(filepath.Join(root, "history", "greece.txt")))
	report := f.run(t, Options{})

	// Then: its record and chunks are gone, rome is kept without re-embedding
	history := report.Topic("history")
	assert.Equal(t, 1, history.Delta.Deleted)
	assert.Zero(t, history.Embedded)

	m := f.manifest(t)
	assert.Nil(t, m.Topic("history").Book("greece.txt"))
	assert.NotNil(t, m.Topic("history").Book("rome.txt"))

	idx := f.index(t, "history")
	assert.Equal(t, map[string]int{"rome": m.Topic("history").Book("rome.txt").Chunks}, idx.BookIDs())
}

func TestRun_FailingBookIsRetriedNextRun(t *testing.T) {
	// Given: an extractor that cannot read greece.txt
	f := newFixture(t, newLibrary(t), 32)
	r := f.runner(t, failingExtractor{Extractor: extract.NewRegistry(), fail: "greece.txt"})

	// When: indexing
	report, err := r.Run(context.Background(), Options{})
	require.NoError(t, err)

	// Then: the failure is reported, the batch continued, the hash is not advanced
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "history", report.Failures[0].Topic)
	assert.Equal(t, "greece.txt", report.Failures[0].Filename)

	history := f.manifest(t).Topic("history")
	assert.Empty(t, history.ContentHash)
	assert.Nil(t, history.Book("greece.txt").LastIndexedAt)
	assert.NotNil(t, history.Book("rome.txt").LastIndexedAt)

	// When: running again with a working extractor
	report = f.run(t, Options{})

	// Then: the failed book is picked up and the topic becomes clean
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1, report.Topic("history").Embedded)
	history = f.manifest(t).Topic("history")
	assert.NotEmpty(t, history.ContentHash)
	assert.NotNil(t, history.Book("greece.txt").LastIndexedAt)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	f := newFixture(t, newLibrary(t), 32)

	report := f.run(t, Options{DryRun: true})

	assert.True(t, report.DryRun)
	assert.Equal(t, 3, report.Delta.New)
	assert.Equal(t, 2, report.Topic("history").Embedded)
	assert.Zero(t, f.embedder.count())
	_, err := os.Stat(f.cfg.DataPath())
	assert.True(t, os.IsNotExist(err))
}

func TestRun_VanishedTopicIsRemoved(t *testing.T) {
	// Given: an indexed library
	root := newLibrary(t)
	f := newFixture(t, root, 32)
	f.run(t, Options{})

	// When: the stoics folder disappears
	require.NoError(t, os.RemoveAll(filepath.Join(root, "philosophy")))
	report := f.run(t, Options{})

	// Then: the topic and its index are gone
	tr := report.Topic("philosophy_stoics")
	require.NotNil(t, tr)
	assert.True(t, tr.Removed)
	assert.Nil(t, f.manifest(t).Topic("philosophy_stoics"))
	assert.False(t, store.Exists(store.Dir(f.cfg.DataPath(), "philosophy_stoics")))
}

func TestRun_TopicFilter(t *testing.T) {
	f := newFixture(t, newLibrary(t), 32)

	report := f.run(t, Options{Topics: []string{"philosophy/stoics"}})

	require.Len(t, report.Topics, 1)
	assert.Equal(t, "philosophy_stoics", report.Topics[0].ID)
	assert.Nil(t, f.manifest(t).Topic("history"))
}

func TestRun_UnknownTopic(t *testing.T) {
	f := newFixture(t, newLibrary(t), 32)

	_, err := f.runner(t, nil).Run(context.Background(), Options{Topics: []string{"astrology"}})

	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeTopicNotFound))
}

func TestRun_LayoutViolationIsSkipped(t *testing.T) {
	// Given: a folder holding both a book and a subfolder
	root := newLibrary(t)
	writeBook(t, root, "mixed/loose.txt", bookText("Loose", 30), past)
	writeBook(t, root, "mixed/inner/nested.txt", bookText("Nested", 30), past)
	f := newFixture(t, root, 32)

	// When: indexing
	report := f.run(t, Options{})

	// Then: the violating folder is reported and skipped, its child is a topic
	assert.Equal(t, []string{"mixed"}, report.Violations)
	m := f.manifest(t)
	assert.Nil(t, m.Topic("mixed"))
	assert.NotNil(t, m.Topic("mixed_inner"))
}

func TestRun_CollidingTopicIDsAreSkipped(t *testing.T) {
	// Given: two folders that both slug to ai_policy
	root := t.TempDir()
	writeBook(t, root, "AI/policy/rome.txt", bookText("Rome", 60), past)
	writeBook(t, root, "AI policy/greece.txt", bookText("Greece", 45), past)
	writeBook(t, root, "history/carthage.txt", bookText("Carthage", 40), past)
	f := newFixture(t, root, 32)

	// When: indexing twice
	first := f.run(t, Options{})
	embedded := f.embedder.count()
	second := f.run(t, Options{})

	// Then: both folders are reported and neither writes the shared index
	assert.Equal(t, []string{"AI policy", "AI/policy"}, first.Duplicates)
	assert.Equal(t, []string{"history"}, first.ChangedTopics())
	assert.Nil(t, f.manifest(t).Topic("ai_policy"))
	assert.False(t, store.Exists(store.Dir(f.cfg.DataPath(), "ai_policy")))

	// Then: the second run is a no-op
	assert.Empty(t, second.ChangedTopics())
	assert.Equal(t, embedded, f.embedder.count())
}

func TestRun_CollisionLeavesExistingTopicUntouched(t *testing.T) {
	// Given: an indexed topic AI/policy
	root := t.TempDir()
	writeBook(t, root, "AI/policy/rome.txt", bookText("Rome", 60), past)
	f := newFixture(t, root, 32)
	f.run(t, Options{})
	before := f.index(t, "ai_policy").BookIDs()

	// When: a second folder claiming the same id appears and the library is reindexed
	writeBook(t, root, "AI policy/greece.txt", bookText("Greece", 45), past)
	report := f.run(t, Options{})

	// Then: the recorded topic keeps its path and its index
	assert.Equal(t, []string{"AI policy", "AI/policy"}, report.Duplicates)
	topic := f.manifest(t).Topic("ai_policy")
	require.NotNil(t, topic)
	assert.Equal(t, "AI/policy", topic.Path)
	assert.Nil(t, topic.Book("greece.txt"))
	assert.Equal(t, before, f.index(t, "ai_policy").BookIDs())
}

func TestRun_RecordsIndexStateInManifest(t *testing.T) {
	// Given: a library and the time before indexing
	root := newLibrary(t)
	f := newFixture(t, root, 32)
	start := time.Now().UTC()

	// When: indexing
	f.run(t, Options{})
	end := time.Now().UTC()

	// Then: every book carries its chunk count and a time inside the run
	m := f.manifest(t)
	history := m.Topic("history")
	require.NotNil(t, history)
	counts := f.index(t, "history").BookIDs()
	for _, b := range history.Books {
		require.NotNil(t, b.LastIndexedAt, b.Filename)
		assert.False(t, b.LastIndexedAt.Before(start.Truncate(time.Second)), b.Filename)
		assert.False(t, b.LastIndexedAt.After(end), b.Filename)
		assert.Equal(t, time.UTC, b.LastIndexedAt.Location())
		assert.Equal(t, counts[b.ID], b.Chunks, b.Filename)
	}

	// Then: the topic carries the folder digest of the clean pass
	snap, err := scanner.Scan(context.Background(), root, scanner.Options{})
	require.NoError(t, err)
	assert.Equal(t, delta.FolderHashOf(snap.Folder("history")), history.ContentHash)
	require.NotNil(t, history.LastIndexedAt)
	assert.False(t, history.LastIndexedAt.Before(*history.Book("rome.txt").LastIndexedAt))
}

func TestRun_ModelChangeRebuilds(t *testing.T) {
	// Given: a library indexed with a 32-dim model
	root := newLibrary(t)
	f := newFixture(t, root, 32)
	f.run(t, Options{})

	// When: the embedder changes and a book is touched
	f.embedder = newCountingEmbedder(16)
	writeBook(t, root, "history/rome.txt", bookText("Rome", 60), time.Now().Add(time.Hour))
	report := f.run(t, Options{})

	// Then: the topic is rebuilt at the new width
	history := report.Topic("history")
	assert.True(t, history.Rebuilt)
	assert.Equal(t, 2, history.Embedded)
	idx := f.index(t, "history")
	assert.Equal(t, 16, idx.Vectors.Dimensions())
	assert.Equal(t, "static-16", idx.Model)
}

func TestRun_CancelledContext(t *testing.T) {
	f := newFixture(t, newLibrary(t), 32)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.runner(t, nil).Run(ctx, Options{})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestReport_Completion(t *testing.T) {
	report := &Report{
		Topics: []TopicReport{
			{ID: "a", Embedded: 2, Chunks: 10, Delta: deltaCounts(2, 0, 1)},
			{ID: "b", Skipped: true},
			{ID: "c", Removed: true, Delta: deltaCounts(0, 0, 3)},
		},
		Failures: []Failure{{Topic: "a", Filename: "x.pdf"}},
	}

	stats := report.completion("static-8", 8)

	assert.Equal(t, 1, stats.Topics)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 2, stats.Books)
	assert.Equal(t, 10, stats.Chunks)
	assert.Equal(t, 4, stats.Removed)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, "static-8", stats.Embedder.Model)
	assert.Equal(t, []string{"a", "c"}, report.ChangedTopics())
}

func deltaCounts(newBooks, modified, deleted int) delta.Counts {
	return delta.Counts{New: newBooks, Modified: modified, Deleted: deleted}
}
