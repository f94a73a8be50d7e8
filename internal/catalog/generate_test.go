package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/shelf/internal/extract"
	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/scanner"
)

func scannerOpts() scanner.Options {
	return scanner.Options{DataDir: ".shelf"}
}

// metaExtractor serves fixed metadata per file name and fails for "broken".
func metaExtractor(meta map[string]extract.BookMeta) *fakeExtractor {
	return &fakeExtractor{ExtractFn: func(ctx context.Context, path string) (*extract.Document, error) {
		name := filepath.Base(path)
		if strings.HasPrefix(name, "broken") {
			return nil, errors.New("unreadable")
		}
		return &extract.Document{
			Path:       path,
			Meta:       meta[name],
			Paragraphs: []extract.Paragraph{{Text: stoicText, Index: 1}},
		}, nil
	}}
}

func TestGenerate_BuildsFromFilesystem(t *testing.T) {
	// Given: a library with two topics and no manifest
	root := t.TempDir()
	writeBook(t, root, "history/rome.pdf", "x")
	writeBook(t, root, "philosophy/stoics/meditations.epub", "x")
	year := 180
	ex := metaExtractor(map[string]extract.BookMeta{
		"meditations.epub": {Title: "Meditations", Author: "Marcus Aurelius", Year: &year},
	})
	g, err := NewGenerator(ex, GenerateOptions{Scan: scannerOpts(), BookTags: 2, TopicTags: 2})
	require.NoError(t, err)

	// When: generating
	m, report, err := g.Generate(context.Background(), root, nil)

	// Then: every leaf folder becomes a topic with its books
	require.NoError(t, err)
	require.Len(t, m.Topics, 2)
	assert.Equal(t, manifest.SchemaVersion, m.SchemaVersion)
	assert.NotNil(t, m.GeneratedAt)

	history := m.Topic("history")
	require.NotNil(t, history)
	assert.Equal(t, "history", history.Label)
	require.Len(t, history.Books, 1)
	assert.Equal(t, "rome", history.Books[0].ID)
	assert.Equal(t, "rome", history.Books[0].Title, "title falls back to the filename")
	assert.Equal(t, "pdf", history.Books[0].Format)
	assert.Nil(t, history.Books[0].LastIndexedAt)

	stoics := m.Topic("philosophy_stoics")
	require.NotNil(t, stoics)
	assert.Equal(t, "stoics", stoics.Label)
	assert.Equal(t, "philosophy/stoics", stoics.Path)
	b := stoics.Books[0]
	assert.Equal(t, "Meditations", b.Title)
	assert.Equal(t, "Marcus Aurelius", b.Author)
	assert.Equal(t, 180, *b.Year)
	assert.Equal(t, []string{"discipline", "virtue"}, b.Tags)
	assert.Equal(t, []string{"discipline", "virtue"}, stoics.Tags)
	assert.Equal(t, "discipline, virtue", stoics.Description)

	assert.Equal(t, 2, report.Topics)
	assert.Equal(t, 2, report.Books)
	assert.ElementsMatch(t, []string{"history", "philosophy_stoics"}, report.AddedTopics)
	assert.Len(t, report.AddedBooks, 2)
}

func TestGenerate_FilesystemWinsButIndexStateSurvives(t *testing.T) {
	// Given: a manifest recording an indexed book, a deleted book and a
	// vanished topic
	root := t.TempDir()
	writeBook(t, root, "history/rome.pdf", "x")
	writeBook(t, root, "history/greece.pdf", "x")
	indexed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	current := manifest.New(root)
	current.EmbeddingModel = "nomic-embed-text"
	current.Topics = []*manifest.Topic{
		{ID: "history", Label: "Ancient History", Path: "history", Description: "curated", ContentHash: "abc", LastIndexedAt: &indexed,
			Books: []*manifest.Book{
				{ID: "rome_livy", Title: "Old Title", Author: "Livy", Filename: "rome.pdf", LastIndexedAt: &indexed, Chunks: 40},
				{ID: "carthage", Title: "Carthage", Filename: "carthage.pdf", LastIndexedAt: &indexed},
			}},
		{ID: "cooking", Label: "Cooking", Path: "cooking"},
	}
	ex := metaExtractor(map[string]extract.BookMeta{
		"rome.pdf": {Title: "The Rise of Rome"},
	})
	g, err := NewGenerator(ex, GenerateOptions{Scan: scannerOpts()})
	require.NoError(t, err)

	// When: generating
	m, report, err := g.Generate(context.Background(), root, current)

	// Then: files decide membership and metadata, index state is kept
	require.NoError(t, err)
	require.Len(t, m.Topics, 1)
	history := m.Topics[0]
	assert.Equal(t, "Ancient History", history.Label)
	assert.Equal(t, "curated", history.Description)
	assert.Equal(t, "abc", history.ContentHash)
	assert.Equal(t, "nomic-embed-text", m.EmbeddingModel)

	rome := history.Book("rome.pdf")
	require.NotNil(t, rome)
	assert.Equal(t, "rome_livy", rome.ID)
	assert.Equal(t, "The Rise of Rome", rome.Title)
	assert.Equal(t, "Livy", rome.Author, "empty extracted author keeps the recorded one")
	assert.Equal(t, 40, rome.Chunks)
	assert.Equal(t, &indexed, rome.LastIndexedAt)
	assert.Nil(t, history.Book("carthage.pdf"))

	assert.Equal(t, []string{"cooking"}, report.DroppedTopics)
	assert.Equal(t, []string{"history/carthage.pdf"}, report.DroppedBooks)
	assert.Equal(t, []string{"history/greece.pdf"}, report.AddedBooks)

	// And: the input manifest is untouched
	assert.Equal(t, "Old Title", current.Topics[0].Books[0].Title)
}

func TestGenerate_ExtractFailureKeepsBook(t *testing.T) {
	root := t.TempDir()
	writeBook(t, root, "history/broken_scroll.pdf", "x")
	g, err := NewGenerator(metaExtractor(nil), GenerateOptions{Scan: scannerOpts()})
	require.NoError(t, err)

	m, report, err := g.Generate(context.Background(), root, nil)

	require.NoError(t, err)
	b := m.Topic("history").Books[0]
	assert.Equal(t, "broken scroll", b.Title)
	assert.Equal(t, []string{UntaggedTag}, b.Tags)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "history/broken_scroll.pdf", report.Failures[0].Path)
}

func TestGenerate_SkipsViolations(t *testing.T) {
	root := t.TempDir()
	writeBook(t, root, "science/notes.pdf", "x")
	writeBook(t, root, "science/physics/principia.pdf", "x")
	g, err := NewGenerator(metaExtractor(nil), GenerateOptions{Scan: scannerOpts()})
	require.NoError(t, err)

	m, report, err := g.Generate(context.Background(), root, nil)

	require.NoError(t, err)
	require.Len(t, m.Topics, 1)
	assert.Equal(t, "science_physics", m.Topics[0].ID)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "science", report.Skipped[0].Path)
}

func TestGenerate_NewBookIdAvoidsSurvivingIds(t *testing.T) {
	// Given: a surviving book whose id equals the slug of a new file
	root := t.TempDir()
	writeBook(t, root, "history/a_rome.pdf", "x")
	writeBook(t, root, "history/rome.pdf", "x")
	current := manifest.New(root)
	current.Topics = []*manifest.Topic{{ID: "history", Label: "history", Path: "history",
		Books: []*manifest.Book{{ID: "a_rome", Filename: "rome.pdf"}}}}
	g, err := NewGenerator(metaExtractor(nil), GenerateOptions{Scan: scannerOpts()})
	require.NoError(t, err)

	// When: generating
	m, _, err := g.Generate(context.Background(), root, current)

	// Then: ids stay unique
	require.NoError(t, err)
	history := m.Topic("history")
	assert.Equal(t, "a_rome", history.Book("rome.pdf").ID)
	assert.Equal(t, "a_rome_2", history.Book("a_rome.pdf").ID)
}
