package extract

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/Aman-CERP/shelf/internal/scanner"
)

// EPUBExtractor reads EPUB containers in spine order. Each spine document is
// a chapter named by its href.
type EPUBExtractor struct{}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type opfPackage struct {
	Metadata struct {
		Titles   []string `xml:"title"`
		Creators []string `xml:"creator"`
		Dates    []string `xml:"date"`
	} `xml:"metadata"`
	Items []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

// Extract implements Extractor.
func (e *EPUBExtractor) Extract(ctx context.Context, filePath string) (*Document, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	defer func() { _ = zr.Close() }()

	opfPath, pkg, err := readPackage(&zr.Reader)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Path:   filePath,
		Format: scanner.FormatEPUB,
		Meta:   withFallbacks(pkg.meta(), filePath),
	}

	hrefs := map[string]string{}
	for _, item := range pkg.Items {
		if isHTMLMedia(item.MediaType) {
			hrefs[item.ID] = item.Href
		}
	}

	base := path.Dir(opfPath)
	for _, ref := range pkg.Spine {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		page, err := readChapter(&zr.Reader, base, href)
		if err != nil {
			continue
		}
		for i, p := range page.paragraphs {
			doc.Paragraphs = append(doc.Paragraphs, Paragraph{Text: p, Chapter: href, Index: i + 1})
		}
	}

	if len(doc.Paragraphs) == 0 {
		return nil, fmt.Errorf("no text in %d spine documents", len(pkg.Spine))
	}
	return doc, nil
}

// Metadata implements Extractor from the OPF dc: fields.
func (e *EPUBExtractor) Metadata(_ context.Context, filePath string) (BookMeta, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return BookMeta{}, fmt.Errorf("failed to open epub: %w", err)
	}
	defer func() { _ = zr.Close() }()

	_, pkg, err := readPackage(&zr.Reader)
	if err != nil {
		return BookMeta{}, err
	}
	return withFallbacks(pkg.meta(), filePath), nil
}

func (p *opfPackage) meta() BookMeta {
	var m BookMeta
	if len(p.Metadata.Titles) > 0 {
		m.Title = p.Metadata.Titles[0]
	}
	if len(p.Metadata.Creators) > 0 {
		m.Author = p.Metadata.Creators[0]
	}
	for _, d := range p.Metadata.Dates {
		if y := parseYear(d); y != nil {
			m.Year = y
			break
		}
	}
	return m
}

// readPackage locates the OPF through META-INF/container.xml and decodes it.
func readPackage(zr *zip.Reader) (string, *opfPackage, error) {
	var container epubContainer
	if err := decodeXML(zr, "META-INF/container.xml", &container); err != nil {
		return "", nil, err
	}
	if len(container.Rootfiles) == 0 || container.Rootfiles[0].FullPath == "" {
		return "", nil, fmt.Errorf("epub container lists no rootfile")
	}

	opfPath := container.Rootfiles[0].FullPath
	var pkg opfPackage
	if err := decodeXML(zr, opfPath, &pkg); err != nil {
		return "", nil, err
	}
	return opfPath, &pkg, nil
}

func readChapter(zr *zip.Reader, base, href string) (*htmlPage, error) {
	name := href
	if unescaped, err := url.PathUnescape(href); err == nil {
		name = unescaped
	}
	if i := strings.IndexByte(name, '#'); i >= 0 {
		name = name[:i]
	}
	if base != "." {
		name = path.Join(base, name)
	}

	rc, err := openZipEntry(zr, name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return parseHTML(rc)
}

func decodeXML(zr *zip.Reader, name string, v any) error {
	rc, err := openZipEntry(zr, name)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()

	dec := xml.NewDecoder(rc)
	dec.Strict = false
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// openZipEntry opens name, matching case-insensitively when there is no exact entry.
func openZipEntry(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	for _, f := range zr.File {
		if strings.EqualFold(f.Name, name) {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("epub entry not found: %s", name)
}

func isHTMLMedia(mediaType string) bool {
	switch mediaType {
	case "application/xhtml+xml", "text/html", "application/x-dtbook+xml":
		return true
	}
	return false
}
