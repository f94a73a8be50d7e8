package chunk

import (
	"fmt"
	"strings"

	"github.com/Aman-CERP/shelf/internal/extract"
)

// Chunker splits documents into windows of Size words advancing by
// Size-Overlap. Windows stay inside one chapter for chapter-structured
// formats; PDF and text documents are one stream. A final window shorter
// than MinWords is folded into the window before it, so every word of a unit
// lands in some chunk.
type Chunker struct {
	Size     int
	Overlap  int
	MinWords int
}

// New validates the window settings.
func New(size, overlap, minWords int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	if minWords < 0 {
		minWords = 0
	}
	return &Chunker{Size: size, Overlap: overlap, MinWords: minWords}, nil
}

// Default returns the default window settings.
func Default() *Chunker {
	return &Chunker{Size: DefaultSize, Overlap: DefaultOverlap, MinWords: DefaultMinWords}
}

// word is one token and the paragraph it belongs to.
type word struct {
	text string
	para int // index into Document.Paragraphs
}

// Split cuts doc into chunks numbered from 0.
func (c *Chunker) Split(doc *extract.Document, src Source) []Chunk {
	var chunks []Chunk
	for _, unit := range c.units(doc) {
		for _, w := range c.windows(unit) {
			first := doc.Paragraphs[w[0].para]
			texts := make([]string, len(w))
			for i, tok := range w {
				texts[i] = tok.text
			}
			text := strings.Join(texts, " ")

			chunks = append(chunks, Chunk{
				Index:      len(chunks),
				Text:       text,
				Hash:       HashText(text),
				BookID:     src.BookID,
				BookTitle:  src.BookTitle,
				Author:     src.Author,
				TopicID:    src.TopicID,
				TopicLabel: src.TopicLabel,
				Filename:   src.Filename,
				Format:     string(doc.Format),
				Page:       first.Page,
				Chapter:    first.Chapter,
				Paragraph:  first.Index,
				Words:      len(w),
			})
		}
	}
	return chunks
}

// units groups the words of doc by chapter, or returns one unit.
func (c *Chunker) units(doc *extract.Document) [][]word {
	var units [][]word
	var current []word
	chapter := ""
	for i, p := range doc.Paragraphs {
		if doc.ChapterBound() && i > 0 && p.Chapter != chapter && len(current) > 0 {
			units = append(units, current)
			current = nil
		}
		chapter = p.Chapter
		for _, f := range strings.Fields(p.Text) {
			current = append(current, word{text: f, para: i})
		}
	}
	if len(current) > 0 {
		units = append(units, current)
	}
	return units
}

func (c *Chunker) windows(unit []word) [][]word {
	step := c.Size - c.Overlap
	var out [][]word
	var starts []int
	for start := 0; start < len(unit); start += step {
		end := min(start+c.Size, len(unit))
		out = append(out, unit[start:end])
		starts = append(starts, start)
		if end == len(unit) {
			break
		}
	}

	if n := len(out); n > 1 && len(out[n-1]) < c.MinWords {
		out[n-2] = unit[starts[n-2]:]
		out = out[:n-1]
	}
	return out
}
