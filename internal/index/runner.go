// Package index implements the selective reindexer. A run embeds only the
// books that changed since the last run and keeps one vector index per topic.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/shelf/internal/chunk"
	"github.com/Aman-CERP/shelf/internal/config"
	"github.com/Aman-CERP/shelf/internal/delta"
	"github.com/Aman-CERP/shelf/internal/embed"
	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/extract"
	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/scanner"
	"github.com/Aman-CERP/shelf/internal/store"
	"github.com/Aman-CERP/shelf/internal/ui"
)

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Config is the loaded library configuration (required).
	Config *config.Config

	// Embedder for generating embeddings (required). The caller owns it.
	Embedder embed.Embedder

	// Renderer for progress display. Defaults to ui.NopRenderer.
	Renderer ui.Renderer

	// Extractor reads books. Defaults to extract.NewRegistry().
	Extractor extract.Extractor

	// Cache persists vectors by chunk text hash. Optional.
	Cache *store.EmbeddingCache

	// Manifest defaults to the store in the config's data directory.
	Manifest *manifest.Store
}

// Runner executes reindexing runs. Runs on one Runner must not overlap.
type Runner struct {
	renderer  ui.Renderer
	config    *config.Config
	embedder  embed.Embedder
	extractor extract.Extractor
	chunker   *chunk.Chunker
	cache     *store.EmbeddingCache
	manifest  *manifest.Store
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	c := deps.Config.Chunking
	chunker, err := chunk.New(c.Size, c.Overlap, c.MinWords)
	if err != nil {
		return nil, shelferrors.ConfigError("invalid chunking settings", err)
	}

	r := &Runner{
		renderer:  deps.Renderer,
		config:    deps.Config,
		embedder:  deps.Embedder,
		extractor: deps.Extractor,
		chunker:   chunker,
		cache:     deps.Cache,
		manifest:  deps.Manifest,
	}
	if r.renderer == nil {
		r.renderer = ui.NopRenderer{}
	}
	if r.extractor == nil {
		r.extractor = extract.NewRegistry()
	}
	if r.manifest == nil {
		r.manifest = manifest.NewStore(deps.Config.DataPath())
	}
	return r, nil
}

// Run scans the library, compares it with the manifest and brings every
// selected topic index up to date. Per-book failures are collected in the
// report; the returned error is reserved for failures that stop the run.
// Topics committed before such a failure stay committed.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString(), DryRun: opts.DryRun}
	log := slog.With(slog.String("run_id", report.RunID))

	root := r.config.Library.Root
	dataDir := r.config.DataPath()

	log.Info("reindex_started",
		slog.String("library", root),
		slog.Any("topics", opts.Topics),
		slog.Bool("force", opts.Force),
		slog.Bool("full", opts.Full),
		slog.Bool("dry_run", opts.DryRun))

	scanStart := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageScanning, Message: "Scanning " + root})
	snap, err := scanner.Scan(ctx, root, scanner.Options{
		Extensions: r.config.Library.Extensions,
		DataDir:    filepath.Base(dataDir),
	})
	if err != nil {
		return nil, err
	}
	m, err := r.manifest.Load()
	if err != nil {
		return nil, err
	}
	report.Stages.Scan = time.Since(scanStart)

	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageDetecting, Message: "Comparing with manifest"})
	res := delta.Detect(snap, m)

	for _, v := range snap.Violations() {
		report.Violations = append(report.Violations, v.RelPath)
		r.renderer.AddError(ui.ErrorEvent{
			File:   v.RelPath,
			Err:    shelferrors.New(shelferrors.ErrCodeTopicLayout, "folder holds books and subfolders, skipped", nil),
			IsWarn: true,
		})
		log.Warn("topic_layout_violation", slog.String("folder", v.RelPath))
	}
	for _, f := range snap.Folders {
		if f.Kind != scanner.KindDuplicate {
			continue
		}
		report.Duplicates = append(report.Duplicates, f.RelPath)
		r.renderer.AddError(ui.ErrorEvent{
			File:   f.RelPath,
			Err:    shelferrors.New(shelferrors.ErrCodeTopicLayout, "topic id "+f.TopicID+" names another folder too, skipped", nil),
			IsWarn: true,
		})
		log.Warn("topic_id_collision", slog.String("folder", f.RelPath), slog.String("topic", f.TopicID))
	}

	leaves, vanished, err := selectTopics(snap, m, opts.Topics)
	if err != nil {
		return nil, err
	}

	var keep map[string]bool
	pruneCache := opts.Full && len(opts.Topics) == 0 && !opts.DryRun && r.cache != nil
	if pruneCache {
		keep = make(map[string]bool)
	}

	for _, folder := range leaves {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		tr, idx, err := r.indexTopic(ctx, log, folder, m.Topic(folder.TopicID), res.ForTopic(folder.TopicID), opts, report)
		if err != nil {
			return report, err
		}
		report.Topics = append(report.Topics, tr)
		addCounts(&report.Delta, tr.Delta)
		if keep != nil && idx != nil {
			for _, c := range idx.Chunks {
				keep[c.Hash] = true
			}
		}
	}

	for _, t := range vanished {
		tr, err := r.removeTopic(ctx, log, t, opts.DryRun)
		if err != nil {
			return report, err
		}
		report.Topics = append(report.Topics, tr)
		addCounts(&report.Delta, tr.Delta)
	}

	if pruneCache && len(report.Failures) == 0 {
		removed, err := r.cache.Prune(ctx, r.embedder.ModelName(), keep)
		if err != nil {
			log.Warn("embedding_cache_prune_failed", slog.String("error", err.Error()))
		} else if removed > 0 {
			log.Info("embedding_cache_pruned", slog.Int64("removed", removed))
		}
	}

	report.Duration = time.Since(start)
	r.renderer.Complete(report.completion(r.embedder.ModelName(), r.embedder.Dimensions()))

	log.Info("reindex_complete",
		slog.Int("topics", len(report.Topics)),
		slog.Int("changed", len(report.ChangedTopics())),
		slog.Int("failures", len(report.Failures)),
		slog.Duration("duration", report.Duration))
	return report, nil
}

// selectTopics returns the leaf folders to index and the manifest topics whose
// folder no longer forms a topic. Names match topic ids, folder paths, or
// manifest labels. A name matching nothing is an error.
func selectTopics(snap *scanner.Snapshot, m *manifest.Manifest, names []string) ([]*scanner.Folder, []*manifest.Topic, error) {
	var wanted map[string]bool
	if len(names) > 0 {
		wanted = make(map[string]bool, len(names))
		for _, name := range names {
			id := resolveTopicName(snap, m, name)
			if id == "" {
				return nil, nil, shelferrors.New(shelferrors.ErrCodeTopicNotFound,
					fmt.Sprintf("unknown topic %q", name), nil).
					WithSuggestion("run 'shelf topics' to list topics")
			}
			wanted[id] = true
		}
	}

	var leaves []*scanner.Folder
	for _, f := range snap.Leaves() {
		if wanted == nil || wanted[f.TopicID] {
			leaves = append(leaves, f)
		}
	}

	var vanished []*manifest.Topic
	for _, t := range m.Topics {
		if wanted != nil && !wanted[t.ID] {
			continue
		}
		f := snap.Folder(t.ID)
		if f == nil || f.Kind == scanner.KindParent || f.Kind == scanner.KindEmpty {
			vanished = append(vanished, t)
		}
	}
	return leaves, vanished, nil
}

func resolveTopicName(snap *scanner.Snapshot, m *manifest.Manifest, name string) string {
	for _, f := range snap.Folders {
		if f.TopicID == name || f.RelPath == name || f.TopicID == manifest.TopicID(name) {
			return f.TopicID
		}
	}
	if t := m.FindTopic(name); t != nil {
		return t.ID
	}
	return ""
}

// indexTopic brings one topic up to date and commits it. It returns the index
// as saved, or nil when the topic was skipped or nothing was written.
func (r *Runner) indexTopic(ctx context.Context, log *slog.Logger, folder *scanner.Folder, recorded *manifest.Topic, d *delta.Result, opts Options, report *Report) (TopicReport, *store.TopicIndex, error) {
	id := folder.TopicID
	tr := TopicReport{ID: id, Delta: d.Counts()}
	dir := store.Dir(r.config.DataPath(), id)

	if !opts.Force && !opts.Full && !delta.TopicChanged(recorded, folder) && store.Exists(dir) {
		tr.Skipped = true
		log.Debug("reindex_topic_unchanged", slog.String("topic", id))
		return tr, nil, nil
	}

	work := scratchTopic(recorded, folder)

	var idx *store.TopicIndex
	rebuild := opts.Full
	if !rebuild {
		idx, rebuild = r.loadExisting(log, dir, id)
	}
	tr.Rebuilt = rebuild

	todo := planBooks(d, work, idx, rebuild || opts.Force)

	if opts.DryRun {
		tr.Embedded = len(todo)
		log.Info("reindex_topic_planned",
			slog.String("topic", id),
			slog.Int("books", len(todo)),
			slog.Int("deleted", len(d.Deleted)),
			slog.Bool("rebuild", rebuild))
		return tr, nil, nil
	}

	// Drop chunks of deleted and re-embedded books; keep the rest.
	var err error
	if rebuild || idx == nil {
		idx, err = r.newIndex(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return tr, nil, ctx.Err()
			}
			for _, ref := range todo {
				report.Failures = append(report.Failures, Failure{Topic: id, Filename: ref.Filename, Err: err})
			}
			tr.Failed = len(todo)
			r.renderer.AddError(ui.ErrorEvent{File: folder.RelPath, Err: err})
			log.Warn("reindex_topic_failed", slog.String("topic", id), slog.String("error", err.Error()))
			return tr, nil, nil
		}
	} else {
		drop := make(map[string]bool)
		for _, ref := range d.Deleted {
			if b := work.Book(ref.Filename); b != nil {
				drop[b.ID] = true
			}
		}
		for _, ref := range todo {
			if b := work.Book(ref.Filename); b != nil {
				drop[b.ID] = true
			}
		}
		if len(drop) > 0 {
			if idx, err = idx.WithoutBooks(drop); err != nil {
				return tr, nil, err
			}
		}
	}

	commit := &topicCommit{
		id:       id,
		label:    work.Label,
		path:     folder.RelPath,
		hash:     delta.FolderHashOf(folder),
		model:    r.embedder.ModelName(),
		root:     r.config.Library.Root,
		settings: r.chunkSettings(),
	}
	for _, ref := range d.Deleted {
		commit.removed = append(commit.removed, ref.Filename)
		work.RemoveBook(ref.Filename)
	}

	useCache := r.cache != nil && !opts.Force
	for i, ref := range todo {
		if err := ctx.Err(); err != nil {
			return tr, nil, err
		}
		rec := bookRecord(work, ref)

		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageExtracting,
			Topic:       id,
			Current:     i + 1,
			Total:       len(todo),
			CurrentFile: ref.Filename,
		})

		startedAt := time.Now().UTC()
		n, hits, err := r.indexBook(ctx, idx, work.Label, rec, ref, useCache, &report.Stages)
		if err != nil {
			if ctx.Err() != nil {
				return tr, nil, ctx.Err()
			}
			tr.Failed++
			report.Failures = append(report.Failures, Failure{Topic: id, Filename: ref.Filename, Err: err})
			r.renderer.AddError(ui.ErrorEvent{File: path.Join(folder.RelPath, ref.Filename), Err: err})
			log.Warn("reindex_book_failed",
				slog.String("topic", id),
				slog.String("file", ref.Filename),
				slog.String("error", err.Error()))
			commit.books = append(commit.books, bookOutcome{rec: rec})
			continue
		}
		tr.Embedded++
		tr.Chunks += n
		tr.CacheHits += hits
		commit.books = append(commit.books, bookOutcome{rec: rec, ok: true, chunks: n, at: startedAt})
	}
	commit.clean = tr.Failed == 0

	saveStart := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageSaving,
		Topic:   id,
		Message: fmt.Sprintf("Saving %d chunks", idx.Len()),
	})
	idx.BuiltAt = time.Now().UTC()
	if err := idx.Save(dir); err != nil {
		return tr, nil, err
	}
	commit.at = time.Now()
	if err := r.manifest.Update(ctx, commit.apply); err != nil {
		return tr, nil, err
	}
	report.Stages.Save += time.Since(saveStart)
	tr.Total = idx.Len()

	log.Info("reindex_topic_complete",
		slog.String("topic", id),
		slog.Int("new", tr.Delta.New),
		slog.Int("modified", tr.Delta.Modified),
		slog.Int("deleted", tr.Delta.Deleted),
		slog.Int("embedded", tr.Embedded),
		slog.Int("chunks", tr.Chunks),
		slog.Int("cache_hits", tr.CacheHits),
		slog.Int("total", tr.Total),
		slog.Int("failed", tr.Failed),
		slog.Bool("rebuilt", tr.Rebuilt))
	return tr, idx, nil
}

// loadExisting loads the saved index of a topic. The second result is true
// when the topic must be rebuilt: no index, an unreadable one, or one built
// by another model.
func (r *Runner) loadExisting(log *slog.Logger, dir, id string) (*store.TopicIndex, bool) {
	if !store.Exists(dir) {
		return nil, true
	}
	idx, err := store.LoadTopicIndex(dir, r.config.Index.M, r.config.Index.EfSearch)
	if err != nil {
		log.Warn("reindex_topic_index_unreadable",
			slog.String("topic", id),
			slog.String("error", err.Error()))
		return nil, true
	}
	dims := r.embedder.Dimensions()
	metric, _ := store.ParseMetric(r.config.Index.Metric)
	if idx.Model != r.embedder.ModelName() || (dims > 0 && idx.Vectors.Dimensions() != dims) || idx.Vectors.Metric() != metric {
		log.Warn("reindex_topic_model_changed",
			slog.String("topic", id),
			slog.String("index_model", idx.Model),
			slog.String("model", r.embedder.ModelName()))
		return nil, true
	}
	return idx, false
}

// newIndex creates an empty index sized for the embedder, probing it once
// when the width is not known yet.
func (r *Runner) newIndex(ctx context.Context) (*store.TopicIndex, error) {
	dims := r.embedder.Dimensions()
	if dims == 0 {
		vec, err := r.embedder.Embed(ctx, "dimension probe")
		if err != nil {
			return nil, err
		}
		dims = len(vec)
	}
	metric, err := store.ParseMetric(r.config.Index.Metric)
	if err != nil {
		return nil, err
	}
	return store.NewTopicIndex(r.embedder.ModelName(), store.Options{
		Dimensions: dims,
		Metric:     metric,
		M:          r.config.Index.M,
		EfSearch:   r.config.Index.EfSearch,
	})
}

// indexBook extracts, chunks and embeds one book and appends it to idx.
// Nothing is appended unless every step succeeds.
func (r *Runner) indexBook(ctx context.Context, idx *store.TopicIndex, label string, rec *manifest.Book, ref delta.BookRef, useCache bool, stages *ui.StageTimings) (int, int, error) {
	extractStart := time.Now()
	doc, err := r.extractor.Extract(ctx, ref.Path)
	if err != nil {
		return 0, 0, err
	}
	fillMeta(rec, doc.Meta)

	chunks := r.chunker.Split(doc, chunk.Source{
		BookID:     rec.ID,
		BookTitle:  rec.Title,
		Author:     rec.Author,
		TopicID:    ref.TopicID,
		TopicLabel: label,
		Filename:   ref.Filename,
	})
	stages.Extract += time.Since(extractStart)
	if len(chunks) == 0 {
		return 0, 0, nil
	}

	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:       ui.StageEmbedding,
		Topic:       ref.TopicID,
		Current:     0,
		Total:       len(chunks),
		CurrentFile: ref.Filename,
	})
	embedStart := time.Now()
	vectors, hits, err := r.embedChunks(ctx, chunks, idx.Vectors.Dimensions(), useCache)
	stages.Embed += time.Since(embedStart)
	if err != nil {
		return 0, 0, err
	}
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:       ui.StageEmbedding,
		Topic:       ref.TopicID,
		Current:     len(chunks),
		Total:       len(chunks),
		CurrentFile: ref.Filename,
	})

	if err := idx.Append(chunks, vectors); err != nil {
		return 0, 0, err
	}
	return len(chunks), hits, nil
}

// embedChunks returns one vector per chunk, reading the cache first when
// allowed and writing fresh vectors back. It reports the cache hits.
func (r *Runner) embedChunks(ctx context.Context, chunks []chunk.Chunk, dims int, useCache bool) ([][]float32, int, error) {
	model := r.embedder.ModelName()
	vectors := make([][]float32, len(chunks))

	if useCache {
		hashes := make([]string, len(chunks))
		for i, c := range chunks {
			hashes[i] = c.Hash
		}
		cached, err := r.cache.Get(ctx, model, hashes)
		if err != nil {
			slog.Warn("embedding_cache_read_failed", slog.String("error", err.Error()))
		}
		for i, h := range hashes {
			if v, ok := cached[h]; ok && len(v) == dims {
				vectors[i] = v
			}
		}
	}

	var missing []int
	var texts []string
	for i, v := range vectors {
		if v == nil {
			missing = append(missing, i)
			texts = append(texts, chunks[i].Text)
		}
	}
	hits := len(chunks) - len(missing)
	if len(missing) == 0 {
		return vectors, hits, nil
	}

	fresh, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, 0, err
	}
	if len(fresh) != len(missing) {
		return nil, 0, shelferrors.Newf(shelferrors.ErrCodeEmbeddingFailed,
			"embedder returned %d vectors for %d chunks", len(fresh), len(missing))
	}

	put := make(map[string][]float32, len(missing))
	for j, i := range missing {
		vectors[i] = fresh[j]
		put[chunks[i].Hash] = fresh[j]
	}
	if r.cache != nil {
		if err := r.cache.Put(ctx, model, put); err != nil {
			slog.Warn("embedding_cache_write_failed", slog.String("error", err.Error()))
		}
	}
	return vectors, hits, nil
}

// removeTopic deletes the index and manifest entry of a vanished topic.
func (r *Runner) removeTopic(ctx context.Context, log *slog.Logger, t *manifest.Topic, dryRun bool) (TopicReport, error) {
	tr := TopicReport{ID: t.ID, Removed: true, Delta: delta.Counts{Deleted: len(t.Books)}}
	if dryRun {
		return tr, nil
	}
	if err := store.Remove(store.Dir(r.config.DataPath(), t.ID)); err != nil {
		return tr, err
	}
	err := r.manifest.Update(ctx, func(m *manifest.Manifest) error {
		m.RemoveTopic(t.ID)
		return nil
	})
	if err != nil {
		return tr, err
	}
	log.Info("reindex_topic_removed", slog.String("topic", t.ID), slog.Int("books", len(t.Books)))
	return tr, nil
}

func (r *Runner) chunkSettings() manifest.ChunkSettings {
	return manifest.ChunkSettings{
		Size:     r.chunker.Size,
		Overlap:  r.chunker.Overlap,
		MinWords: r.chunker.MinWords,
	}
}

// planBooks lists the present books to embed. With all set every present
// book is embedded; otherwise new and modified books, plus unchanged books
// whose chunks are missing from the index.
func planBooks(d *delta.Result, work *manifest.Topic, idx *store.TopicIndex, all bool) []delta.BookRef {
	var todo []delta.BookRef
	todo = append(todo, d.New...)
	todo = append(todo, d.Modified...)

	if all {
		todo = append(todo, d.Unchanged...)
	} else if idx != nil {
		have := idx.BookIDs()
		for _, ref := range d.Unchanged {
			if b := work.Book(ref.Filename); b != nil && b.Chunks > 0 && have[b.ID] == 0 {
				todo = append(todo, ref)
			}
		}
	}

	sort.Slice(todo, func(i, j int) bool { return todo[i].Filename < todo[j].Filename })
	return todo
}

// scratchTopic copies the recorded topic so a run can edit book records
// before committing them. A new folder gets a fresh topic.
func scratchTopic(recorded *manifest.Topic, folder *scanner.Folder) *manifest.Topic {
	work := &manifest.Topic{ID: folder.TopicID, Label: path.Base(folder.RelPath), Path: folder.RelPath}
	if recorded == nil {
		return work
	}
	work.Label = recorded.Label
	for _, b := range recorded.Books {
		cp := *b
		work.Books = append(work.Books, &cp)
	}
	return work
}

// bookRecord returns the working record for ref, creating one with a fresh
// id for a new book.
func bookRecord(work *manifest.Topic, ref delta.BookRef) *manifest.Book {
	if b := work.Book(ref.Filename); b != nil {
		mtime := ref.ModTime.UTC()
		b.LastModified = &mtime
		b.Format = string(ref.Format)
		return b
	}
	mtime := ref.ModTime.UTC()
	b := &manifest.Book{
		ID:           work.BookIDFor(ref.Filename),
		Filename:     ref.Filename,
		Format:       string(ref.Format),
		Title:        extract.TitleFromFilename(ref.Filename),
		LastModified: &mtime,
	}
	work.Books = append(work.Books, b)
	return b
}

// fillMeta copies extracted metadata into fields the record leaves empty.
// A title derived from the filename yields to an extracted one.
func fillMeta(rec *manifest.Book, meta extract.BookMeta) {
	if meta.Title != "" && (rec.Title == "" || rec.Title == extract.TitleFromFilename(rec.Filename)) {
		rec.Title = meta.Title
	}
	if rec.Author == "" {
		rec.Author = meta.Author
	}
	if rec.Year == nil {
		rec.Year = meta.Year
	}
}

func addCounts(dst *delta.Counts, c delta.Counts) {
	dst.New += c.New
	dst.Modified += c.Modified
	dst.Deleted += c.Deleted
	dst.Unchanged += c.Unchanged
}

// topicCommit is the manifest change of one indexed topic.
type topicCommit struct {
	id, label, path string
	hash            string
	clean           bool
	model           string
	root            string
	settings        manifest.ChunkSettings
	at              time.Time

	books   []bookOutcome
	removed []string
}

// bookOutcome is the result of one book's pass. rec carries the metadata;
// index state is written through the manifest's Mark methods.
type bookOutcome struct {
	rec    *manifest.Book
	ok     bool
	chunks int
	at     time.Time
}

// apply merges the commit into the current manifest. Records of books the
// run did not touch are left as they are.
func (c *topicCommit) apply(m *manifest.Manifest) error {
	t := m.Topic(c.id)
	if t == nil {
		t = m.UpsertTopic(&manifest.Topic{ID: c.id, Label: c.label, Path: c.path})
	}
	t.Path = c.path

	for _, name := range c.removed {
		t.RemoveBook(name)
	}
	for _, o := range c.books {
		cp := *o.rec
		cp.LastIndexedAt, cp.Chunks = nil, 0
		t.UpsertBook(&cp)

		var err error
		if o.ok {
			err = m.MarkIndexed(c.id, cp.Filename, o.chunks, o.at)
		} else {
			err = m.MarkUnindexed(c.id, cp.Filename)
		}
		if err != nil {
			return err
		}
	}

	hash := ""
	if c.clean {
		hash = c.hash
	}
	if err := m.MarkTopicIndexed(c.id, hash, c.at); err != nil {
		return err
	}

	at := c.at.UTC()
	m.LibraryPath = c.root
	m.EmbeddingModel = c.model
	m.ChunkSettings = c.settings
	m.GeneratedAt = &at
	return nil
}
