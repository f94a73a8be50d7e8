package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Aman-CERP/shelf/internal/scanner"
)

// TextExtractor reads plain text and markdown. A leading markdown heading
// becomes the title.
type TextExtractor struct{}

// Extract implements Extractor.
func (e *TextExtractor) Extract(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	paras := splitParagraphs(string(data))
	if len(paras) == 0 {
		return nil, fmt.Errorf("%s is empty", filepath.Base(path))
	}

	doc := &Document{
		Path:   path,
		Format: scanner.FormatText,
		Meta:   withFallbacks(BookMeta{Title: markdownTitle(string(data))}, path),
	}
	for i, p := range paras {
		doc.Paragraphs = append(doc.Paragraphs, Paragraph{Text: p, Index: i + 1})
	}
	return doc, nil
}

// Metadata implements Extractor.
func (e *TextExtractor) Metadata(_ context.Context, path string) (BookMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BookMeta{}, err
	}
	return withFallbacks(BookMeta{Title: markdownTitle(string(data))}, path), nil
}

func markdownTitle(text string) string {
	for _, line := range strings.SplitN(text, "\n", 20) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "# ") {
			return strings.TrimPrefix(line, "# ")
		}
		return ""
	}
	return ""
}
