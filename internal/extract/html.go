package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/Aman-CERP/shelf/internal/scanner"
)

// HTMLExtractor reads a single HTML file as one chapter.
type HTMLExtractor struct{}

// Extract implements Extractor.
func (e *HTMLExtractor) Extract(ctx context.Context, path string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	page, err := parseHTML(f)
	if err != nil {
		return nil, err
	}
	if len(page.paragraphs) == 0 {
		return nil, fmt.Errorf("no text in %s", filepath.Base(path))
	}

	chapter := filepath.Base(path)
	doc := &Document{
		Path:   path,
		Format: scanner.FormatHTML,
		Meta:   withFallbacks(BookMeta{Title: page.title, Author: page.author}, path),
	}
	for i, p := range page.paragraphs {
		doc.Paragraphs = append(doc.Paragraphs, Paragraph{Text: p, Chapter: chapter, Index: i + 1})
	}
	return doc, nil
}

// Metadata implements Extractor from <title> and <meta name="author">.
func (e *HTMLExtractor) Metadata(_ context.Context, path string) (BookMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return BookMeta{}, err
	}
	defer func() { _ = f.Close() }()

	page, err := parseHTML(f)
	if err != nil {
		return BookMeta{}, err
	}
	return withFallbacks(BookMeta{Title: page.title, Author: page.author}, path), nil
}

type htmlPage struct {
	title      string
	author     string
	paragraphs []string
}

// parseHTML collects <p> elements in document order. A page without any
// falls back to block level text split on blank lines.
func parseHTML(r io.Reader) (*htmlPage, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	page := &htmlPage{}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			case atom.Title:
				if page.title == "" {
					page.title = normalize(textContent(n))
				}
				return
			case atom.Meta:
				if strings.EqualFold(attr(n, "name"), "author") {
					page.author = attr(n, "content")
				}
			case atom.P:
				if t := normalize(textContent(n)); t != "" {
					page.paragraphs = append(page.paragraphs, t)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	if len(page.paragraphs) == 0 {
		if body := findElement(root, atom.Body); body != nil {
			var b strings.Builder
			blockText(body, &b)
			page.paragraphs = splitParagraphs(b.String())
		}
	}
	return page, nil
}

// textContent concatenates the text below n.
func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Br {
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

var blockAtoms = map[atom.Atom]bool{
	atom.Div: true, atom.Section: true, atom.Article: true, atom.Blockquote: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Li: true, atom.Pre: true, atom.Td: true, atom.Br: true,
}

// blockText writes the text below n with blank lines between block elements.
func blockText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
			return
		}
	}
	block := n.Type == html.ElementNode && blockAtoms[n.DataAtom]
	if block {
		b.WriteString("\n\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		blockText(c, b)
	}
	if block {
		b.WriteString("\n\n")
	}
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
