package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/scanner"
)

const containerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const contentOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Meditations</dc:title>
    <dc:creator>Marcus Aurelius</dc:creator>
    <dc:date>0180-01-01</dc:date>
    <dc:date>2002-05-14</dc:date>
  </metadata>
  <manifest>
    <item id="css" href="style.css" media-type="text/css"/>
    <item id="c2" href="text/ch%202.xhtml" media-type="application/xhtml+xml"/>
    <item id="c1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="c1"/>
    <itemref idref="c2"/>
    <itemref idref="missing"/>
  </spine>
</package>`

const chapterOne = `<html><head><title>Book One</title><style>p{}</style></head>
<body><h1>Book One</h1>
<p>From my grandfather Verus I learned good morals.</p>
<p>From the reputation and remembrance of my father, <em>modesty</em> and a manly character.</p>
</body></html>`

const chapterTwo = `<html><body><div>Begin the morning by saying to thyself.</div><div>I shall meet with the busy-body.</div></body></html>`

func writeEPUB(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "book.epub")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func sampleEPUB(t *testing.T) string {
	return writeEPUB(t, t.TempDir(), map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": containerXML,
		"OEBPS/content.opf":      contentOPF,
		"OEBPS/text/ch1.xhtml":   chapterOne,
		"OEBPS/text/ch 2.xhtml":  chapterTwo,
	})
}

func TestEPUB_ExtractsChaptersInSpineOrder(t *testing.T) {
	// Given: an EPUB with two spine documents
	path := sampleEPUB(t)

	// When: extracting
	doc, err := NewRegistry().Extract(context.Background(), path)
	require.NoError(t, err)

	// Then: paragraphs follow the spine with chapter hrefs and 1-based indexes
	assert.Equal(t, scanner.FormatEPUB, doc.Format)
	assert.True(t, doc.ChapterBound())
	require.Len(t, doc.Paragraphs, 4)

	assert.Equal(t, "text/ch1.xhtml", doc.Paragraphs[0].Chapter)
	assert.Equal(t, 1, doc.Paragraphs[0].Index)
	assert.Equal(t, "From my grandfather Verus I learned good morals.", doc.Paragraphs[0].Text)
	assert.Equal(t, "From the reputation and remembrance of my father, modesty and a manly character.", doc.Paragraphs[1].Text)

	assert.Equal(t, "text/ch%202.xhtml", doc.Paragraphs[2].Chapter, "documents without <p> fall back to block text")
	assert.Equal(t, "Begin the morning by saying to thyself.", doc.Paragraphs[2].Text)
	assert.Equal(t, 2, doc.Paragraphs[3].Index)
}

func TestEPUB_Metadata(t *testing.T) {
	path := sampleEPUB(t)

	meta, err := NewRegistry().Metadata(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "Meditations", meta.Title)
	assert.Equal(t, "Marcus Aurelius", meta.Author)
	require.NotNil(t, meta.Year)
	assert.Equal(t, 2002, *meta.Year, "implausible years are skipped")
}

func TestEPUB_MissingContainer(t *testing.T) {
	path := writeEPUB(t, t.TempDir(), map[string]string{"mimetype": "application/epub+zip"})

	_, err := NewRegistry().Extract(context.Background(), path)

	require.Error(t, err)
	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeExtractFailed))
}

func TestEPUB_CancelledContext(t *testing.T) {
	path := sampleEPUB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewRegistry().Extract(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTML_Extract(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "essay.html")
	require.NoError(t, os.WriteFile(path, []byte(`<html><head><title> On   Liberty </title>
<meta name="author" content="John Stuart Mill"></head>
<body><script>var x = 1;</script><p>The subject of this essay.</p><p></p><p>Second<br>line.</p></body></html>`), 0o644))

	doc, err := NewRegistry().Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "On Liberty", doc.Meta.Title)
	assert.Equal(t, "John Stuart Mill", doc.Meta.Author)
	require.Len(t, doc.Paragraphs, 2)
	assert.Equal(t, "essay.html", doc.Paragraphs[0].Chapter)
	assert.Equal(t, "Second line.", doc.Paragraphs[1].Text)
}

func TestText_ExtractParagraphsAndTitle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "field_notes.md")
	require.NoError(t, os.WriteFile(path, []byte("# Field Notes\n\nFirst   paragraph\nwraps here.\n\n\n\nSecond paragraph.\r\n\r\nThird."), 0o644))

	doc, err := NewRegistry().Extract(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "Field Notes", doc.Meta.Title)
	assert.False(t, doc.ChapterBound())
	require.Len(t, doc.Paragraphs, 4)
	assert.Equal(t, "First paragraph wraps here.", doc.Paragraphs[1].Text)
	assert.Equal(t, 4, doc.Paragraphs[3].Index)
	assert.Equal(t, 10, doc.WordCount())
}

func TestText_TitleFallsBackToFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "the_art-of war.txt")
	require.NoError(t, os.WriteFile(path, []byte("All warfare is based on deception."), 0o644))

	meta, err := NewRegistry().Metadata(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "the art of war", meta.Title)
}

func TestText_EmptyFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blank.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n\n  \n"), 0o644))

	_, err := NewRegistry().Extract(context.Background(), path)
	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeExtractFailed))
}

// writePDF builds a PDF with one Helvetica font and one content stream per
// page, computing the xref offsets. An empty info dictionary is left out of
// the trailer.
func writePDF(t *testing.T, path, info string, pages ...string) {
	t.Helper()
	var b bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, b.Len())
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	b.WriteString("%PDF-1.4\n")
	var kids []string
	for i := range pages {
		kids = append(kids, fmt.Sprintf("%d 0 R", 5+2*i))
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	if info == "" {
		obj("<< >>")
	} else {
		obj(info)
	}
	for i, content := range pages {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 6+2*i))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	trailer := fmt.Sprintf("/Size %d /Root 1 0 R", len(offsets)+1)
	if info != "" {
		trailer += " /Info 4 0 R"
	}
	fmt.Fprintf(&b, "trailer\n<< %s >>\nstartxref\n%d\n%%%%EOF\n", trailer, xref)

	require.NoError(t, os.WriteFile(path, b.Bytes(), 0o644))
}

func TestPDF_ExtractsParagraphsByPage(t *testing.T) {
	// Given: a three page PDF with two paragraphs on page one and a blank page two
	path := filepath.Join(t.TempDir(), "meditations_hays.pdf")
	writePDF(t, path,
		"<< /Title (Meditations) /Author (Marcus  Aurelius) /CreationDate (D:20020514120000Z) >>",
		"BT /F1 12 Tf 72 720 Td (Of my grandfather Verus I learned good morals.) Tj T* "+
			"(And the government of my temper.) Tj T* T* (From my mother, piety and beneficence.) Tj ET",
		"",
		"BT /F1 12 Tf 72 720 Td (Book two begins at dawn.) Tj ET",
	)

	// When: extracting through the registry
	doc, err := NewRegistry().Extract(context.Background(), path)
	require.NoError(t, err)

	// Then: paragraphs split on blank lines and keep their page numbers
	assert.Equal(t, scanner.FormatPDF, doc.Format)
	assert.Equal(t, []Paragraph{
		{Text: "Of my grandfather Verus I learned good morals. And the government of my temper.", Page: 1, Index: 1},
		{Text: "From my mother, piety and beneficence.", Page: 1, Index: 2},
		{Text: "Book two begins at dawn.", Page: 3, Index: 1},
	}, doc.Paragraphs)

	// Then: the info dictionary supplies title, author and year
	assert.Equal(t, "Meditations", doc.Meta.Title)
	assert.Equal(t, "Marcus Aurelius", doc.Meta.Author)
	require.NotNil(t, doc.Meta.Year)
	assert.Equal(t, 2002, *doc.Meta.Year)

	meta, err := NewRegistry().Metadata(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, doc.Meta, meta)
}

func TestPDF_MissingInfoFallsBackToFilename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "the_art-of war.pdf")
	writePDF(t, path, "", "BT /F1 12 Tf 72 720 Td (All warfare is based on deception.) Tj ET")

	meta, err := NewRegistry().Metadata(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, BookMeta{Title: "the art of war"}, meta)
}

func TestPDF_NoTextFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanned.pdf")
	writePDF(t, path, "", "", "")

	_, err := NewRegistry().Extract(context.Background(), path)
	require.Error(t, err)
	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeExtractFailed))
}

func TestPDF_InvalidFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf at all"), 0o644))

	_, err := NewRegistry().Extract(context.Background(), path)
	require.Error(t, err)
	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeExtractFailed))

	meta, err := NewRegistry().Metadata(context.Background(), path)
	assert.Error(t, err)
	assert.Equal(t, "broken", meta.Title)
}

func TestRegistry_UnsupportedFormat(t *testing.T) {
	_, err := NewRegistry().For("cover.jpg")
	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeUnsupportedFormat))
}

func TestDocument_Sample(t *testing.T) {
	doc := &Document{Paragraphs: []Paragraph{{Text: "alpha beta"}, {Text: "gamma"}, {Text: "delta"}}}

	assert.Equal(t, "alpha beta gamma delta", doc.Sample(100))
	assert.Equal(t, "alpha", doc.Sample(5))
}

func TestParseYear(t *testing.T) {
	tests := map[string]int{
		"D:20190412093000Z": 2019,
		"1998-03-01":        1998,
		"Published in 1859": 1859,
	}
	for in, want := range tests {
		y := parseYear(in)
		require.NotNil(t, y, in)
		assert.Equal(t, want, *y, in)
	}
	assert.Nil(t, parseYear("unknown"))
	assert.Nil(t, parseYear("0180-01-01"))
}
