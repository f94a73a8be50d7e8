package extract

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/Aman-CERP/shelf/internal/scanner"
)

// PDFExtractor reads page text with ledongthuc/pdf. Paragraphs are split on
// blank lines; a page without any becomes one paragraph.
type PDFExtractor struct{}

// Extract implements Extractor.
func (e *PDFExtractor) Extract(ctx context.Context, path string) (_ *Document, err error) {
	defer recoverParser(&err)

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	doc := &Document{
		Path:   path,
		Format: scanner.FormatPDF,
		Meta:   withFallbacks(pdfInfo(r), path),
	}

	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		for j, para := range splitParagraphs(text) {
			doc.Paragraphs = append(doc.Paragraphs, Paragraph{Text: para, Page: i, Index: j + 1})
		}
	}

	if len(doc.Paragraphs) == 0 {
		return nil, fmt.Errorf("no extractable text in %d pages", r.NumPage())
	}
	return doc, nil
}

// Metadata implements Extractor using the document info dictionary.
func (e *PDFExtractor) Metadata(_ context.Context, path string) (_ BookMeta, err error) {
	defer recoverParser(&err)

	f, r, err := pdf.Open(path)
	if err != nil {
		return BookMeta{}, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	return withFallbacks(pdfInfo(r), path), nil
}

func pdfInfo(r *pdf.Reader) BookMeta {
	info := r.Trailer().Key("Info")
	if info.IsNull() {
		return BookMeta{}
	}
	return BookMeta{
		Title:  info.Key("Title").Text(),
		Author: info.Key("Author").Text(),
		Year:   parseYear(info.Key("CreationDate").Text()),
	}
}

// recoverParser turns a panic inside the PDF parser into an error; malformed
// files can trip it.
func recoverParser(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("pdf parser panic: %v", r)
	}
}
