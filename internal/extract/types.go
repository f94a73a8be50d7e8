// Package extract turns book files into paragraphs with locations: pages for
// PDF, chapters for EPUB and HTML. It also reads title, author and year.
package extract

import (
	"context"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Aman-CERP/shelf/internal/scanner"
)

// Paragraph is one block of text and where it came from.
type Paragraph struct {
	Text    string
	Page    int    // 1-based PDF page, 0 otherwise
	Chapter string // EPUB spine document or HTML file, "" otherwise
	Index   int    // 1-based position within the page or chapter
}

// BookMeta is the descriptive metadata of a book.
type BookMeta struct {
	Title  string
	Author string
	Year   *int
}

// Document is the extracted content of one book.
type Document struct {
	Path       string
	Format     scanner.Format
	Meta       BookMeta
	Paragraphs []Paragraph
}

// ChapterBound reports whether chunk windows must stop at chapter boundaries.
func (d *Document) ChapterBound() bool {
	return d.Format == scanner.FormatEPUB || d.Format == scanner.FormatHTML
}

// WordCount counts words across all paragraphs.
func (d *Document) WordCount() int {
	n := 0
	for _, p := range d.Paragraphs {
		n += len(strings.Fields(p.Text))
	}
	return n
}

// Sample returns up to maxChars of leading text, for tag generation.
func (d *Document) Sample(maxChars int) string {
	var b strings.Builder
	for _, p := range d.Paragraphs {
		if b.Len() >= maxChars {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.Text)
	}
	s := b.String()
	if len(s) > maxChars {
		s = s[:maxChars]
	}
	return s
}

// Extractor reads one book format.
type Extractor interface {
	// Extract returns the full text of the book.
	Extract(ctx context.Context, path string) (*Document, error)

	// Metadata returns title, author and year without reading the body
	// when the format allows it.
	Metadata(ctx context.Context, path string) (BookMeta, error)
}

var (
	whitespace = regexp.MustCompile(`\s+`)
	blankLine  = regexp.MustCompile(`\n\s*\n`)
	yearRe     = regexp.MustCompile(`(1[5-9]\d{2}|20\d{2})`)
)

// normalize collapses runs of whitespace into single spaces.
func normalize(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// splitParagraphs splits text on blank lines, dropping empty blocks.
func splitParagraphs(text string) []string {
	var out []string
	for _, block := range blankLine.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1) {
		if p := normalize(block); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseYear finds the first plausible four digit year in s.
func parseYear(s string) *int {
	m := yearRe.FindString(s)
	if m == "" {
		return nil
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &y
}

// TitleFromFilename turns "the_art-of war.epub" into "the art of war".
func TitleFromFilename(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	return normalize(stem)
}

// withFallbacks fills an empty title from the filename.
func withFallbacks(meta BookMeta, path string) BookMeta {
	meta.Title = normalize(meta.Title)
	meta.Author = normalize(meta.Author)
	if meta.Title == "" {
		meta.Title = TitleFromFilename(path)
	}
	return meta
}
