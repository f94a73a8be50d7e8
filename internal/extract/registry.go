package extract

import (
	"context"
	"fmt"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/scanner"
)

// Registry picks an extractor by file format.
type Registry struct {
	extractors map[scanner.Format]Extractor
}

// NewRegistry returns a registry with every built-in format.
func NewRegistry() *Registry {
	return &Registry{extractors: map[scanner.Format]Extractor{
		scanner.FormatPDF:  &PDFExtractor{},
		scanner.FormatEPUB: &EPUBExtractor{},
		scanner.FormatHTML: &HTMLExtractor{},
		scanner.FormatText: &TextExtractor{},
	}}
}

// Register replaces the extractor for a format.
func (r *Registry) Register(format scanner.Format, e Extractor) {
	r.extractors[format] = e
}

// For returns the extractor for path.
func (r *Registry) For(path string) (Extractor, error) {
	format, ok := scanner.FormatOf(path)
	if !ok {
		return nil, shelferrors.New(shelferrors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("unsupported book format: %s", path), nil)
	}
	e, ok := r.extractors[format]
	if !ok {
		return nil, shelferrors.New(shelferrors.ErrCodeUnsupportedFormat,
			fmt.Sprintf("no extractor registered for %s", format), nil)
	}
	return e, nil
}

// Extract reads the full document. Failures carry ERR_203 and the file path.
func (r *Registry) Extract(ctx context.Context, path string) (*Document, error) {
	e, err := r.For(path)
	if err != nil {
		return nil, err
	}
	doc, err := e.Extract(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if se, ok := shelferrors.As(err); ok {
			return nil, se
		}
		return nil, shelferrors.New(shelferrors.ErrCodeExtractFailed,
			fmt.Sprintf("failed to extract %s", path), err).WithDetail("path", path)
	}
	return doc, nil
}

// Metadata reads descriptive metadata, falling back to the filename for the
// title when the file cannot be read.
func (r *Registry) Metadata(ctx context.Context, path string) (BookMeta, error) {
	e, err := r.For(path)
	if err != nil {
		return BookMeta{}, err
	}
	meta, err := e.Metadata(ctx, path)
	if err != nil {
		return withFallbacks(BookMeta{}, path), shelferrors.New(shelferrors.ErrCodeExtractFailed,
			fmt.Sprintf("failed to read metadata of %s", path), err).WithDetail("path", path)
	}
	return meta, nil
}
