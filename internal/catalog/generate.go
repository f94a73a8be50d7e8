package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/Aman-CERP/shelf/internal/extract"
	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/scanner"
)

// DefaultSampleChars is how much leading text feeds tag generation.
const DefaultSampleChars = 5000

// GenerateOptions configures a metadata run.
type GenerateOptions struct {
	Scan        scanner.Options
	SampleChars int
	BookTags    int
	TopicTags   int
}

// BookFailure records a book whose text could not be read.
type BookFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// GenerateReport summarises what a metadata run changed.
type GenerateReport struct {
	Topics        int           `json:"topics"`
	Books         int           `json:"books"`
	AddedTopics   []string      `json:"added_topics,omitempty"`
	DroppedTopics []string      `json:"dropped_topics,omitempty"`
	AddedBooks    []string      `json:"added_books,omitempty"`
	DroppedBooks  []string      `json:"dropped_books,omitempty"`
	Skipped       []Violation   `json:"skipped,omitempty"`
	Duplicates    []Duplicate   `json:"duplicates,omitempty"`
	Failures      []BookFailure `json:"failures,omitempty"`
}

// Generator rebuilds manifest records from the library files.
type Generator struct {
	extractor extract.Extractor
	tagger    *Tagger
	opts      GenerateOptions
}

// NewGenerator returns a generator. A nil extractor reads every built-in format.
func NewGenerator(ex extract.Extractor, opts GenerateOptions) (*Generator, error) {
	if ex == nil {
		ex = extract.NewRegistry()
	}
	if opts.SampleChars <= 0 {
		opts.SampleChars = DefaultSampleChars
	}
	if opts.TopicTags <= 0 {
		opts.TopicTags = DefaultTopicTags
	}
	tagger, err := NewTagger(opts.BookTags)
	if err != nil {
		return nil, fmt.Errorf("failed to build tagger: %w", err)
	}
	return &Generator{extractor: ex, tagger: tagger, opts: opts}, nil
}

// Generate returns a manifest whose topics and books are exactly the leaf
// folders and book files under root. Titles, authors, years and tags come
// from the files. Index state of books that are still present (ids, chunk
// counts, timestamps) and topic labels and descriptions are carried over
// from current, which is not modified.
func (g *Generator) Generate(ctx context.Context, root string, current *manifest.Manifest) (*manifest.Manifest, *GenerateReport, error) {
	snap, err := scanner.Scan(ctx, root, g.opts.Scan)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan library: %w", err)
	}
	if current == nil {
		current = manifest.New(snap.Root)
	}

	now := time.Now().UTC()
	out := &manifest.Manifest{
		SchemaVersion:  manifest.SchemaVersion,
		LibraryPath:    snap.Root,
		EmbeddingModel: current.EmbeddingModel,
		ChunkSettings:  current.ChunkSettings,
		GeneratedAt:    &now,
		Topics:         []*manifest.Topic{},
	}
	layout := LayoutOf(snap)
	report := &GenerateReport{Skipped: layout.Violations, Duplicates: layout.Duplicates}

	seen := map[string]bool{}
	for _, folder := range snap.Leaves() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		recorded := current.Topic(folder.TopicID)
		if recorded == nil {
			report.AddedTopics = append(report.AddedTopics, folder.TopicID)
		}
		seen[folder.TopicID] = true

		t := g.topic(ctx, folder, recorded, report)
		out.Topics = append(out.Topics, t)
		report.Books += len(t.Books)
	}
	for _, t := range current.Topics {
		if !seen[t.ID] {
			report.DroppedTopics = append(report.DroppedTopics, t.ID)
		}
	}
	report.Topics = len(out.Topics)

	slog.Info("metadata_generated",
		slog.String("library", snap.Root),
		slog.Int("topics", report.Topics),
		slog.Int("books", report.Books),
		slog.Int("failures", len(report.Failures)),
		slog.Int("skipped_folders", len(report.Skipped)))
	return out, report, nil
}

func (g *Generator) topic(ctx context.Context, folder *scanner.Folder, recorded *manifest.Topic, report *GenerateReport) *manifest.Topic {
	t := &manifest.Topic{
		ID:    folder.TopicID,
		Label: path.Base(folder.RelPath),
		Path:  folder.RelPath,
		Books: []*manifest.Book{},
	}
	if recorded != nil {
		t.Label = recorded.Label
		t.Description = recorded.Description
		t.ContentHash = recorded.ContentHash
		t.LastIndexedAt = recorded.LastIndexedAt
	}

	// ids reserves the ids of surviving books before new ones are named.
	ids := &manifest.Topic{}
	if recorded != nil {
		for _, b := range recorded.Books {
			if folder.File(b.Filename) != nil {
				ids.Books = append(ids.Books, b)
			}
		}
	}

	var tagLists [][]string
	for _, file := range folder.Files {
		prev := ids.Book(file.Name)
		id := ids.BookIDFor(file.Name)
		if prev == nil {
			ids.Books = append(ids.Books, &manifest.Book{ID: id, Filename: file.Name})
		}
		b := g.book(ctx, t, file, prev, id, report)
		t.Books = append(t.Books, b)
		tagLists = append(tagLists, b.Tags)
	}
	if recorded != nil {
		for _, b := range recorded.Books {
			if folder.File(b.Filename) == nil {
				report.DroppedBooks = append(report.DroppedBooks, folder.RelPath+"/"+b.Filename)
			}
		}
	}

	t.Tags = MergeTags(tagLists, g.opts.TopicTags)
	if t.Description == "" && len(t.Tags) > 0 {
		t.Description = strings.Join(t.Tags, ", ")
	}
	return t
}

func (g *Generator) book(ctx context.Context, t *manifest.Topic, file scanner.File, prev *manifest.Book, id string, report *GenerateReport) *manifest.Book {
	b := &manifest.Book{
		ID:       id,
		Filename: file.Name,
		Format:   string(file.Format),
	}
	if prev != nil {
		cp := *prev
		b = &cp
		b.Format = string(file.Format)
	} else {
		report.AddedBooks = append(report.AddedBooks, t.Path+"/"+file.Name)
	}

	doc, err := g.extractor.Extract(ctx, file.Path)
	if err != nil {
		report.Failures = append(report.Failures, BookFailure{Path: t.Path + "/" + file.Name, Error: err.Error()})
		slog.Warn("metadata_extract_failed",
			slog.String("topic", t.ID),
			slog.String("file", file.Name),
			slog.String("error", err.Error()))
		if b.Title == "" {
			b.Title = extract.TitleFromFilename(file.Name)
		}
		if len(b.Tags) == 0 {
			b.Tags = []string{UntaggedTag}
		}
		return b
	}

	b.Title = doc.Meta.Title
	if b.Title == "" {
		b.Title = extract.TitleFromFilename(file.Name)
	}
	if doc.Meta.Author != "" {
		b.Author = doc.Meta.Author
	}
	if doc.Meta.Year != nil {
		b.Year = doc.Meta.Year
	}
	b.Tags = g.tagger.Tags(doc.Sample(g.opts.SampleChars))
	return b
}
