// Package chunk cuts extracted book text into overlapping word windows, the
// unit of embedding and retrieval.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Window defaults, in words.
const (
	DefaultSize     = 300
	DefaultOverlap  = 50
	DefaultMinWords = 40
)

// Chunk is one window of a book plus its provenance. The JSON form is the
// chunk metadata record stored next to a topic's vectors.
type Chunk struct {
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
	Hash       string `json:"hash"`
	BookID     string `json:"book_id"`
	BookTitle  string `json:"book_title"`
	Author     string `json:"book_author,omitempty"`
	TopicID    string `json:"topic_id"`
	TopicLabel string `json:"topic_label"`
	Filename   string `json:"filename"`
	Format     string `json:"format"`
	Page       int    `json:"page,omitempty"`
	Chapter    string `json:"chapter,omitempty"`
	Paragraph  int    `json:"paragraph,omitempty"`
	Words      int    `json:"words"`
}

// Location renders where the chunk starts, for citations.
func (c Chunk) Location() string {
	var parts []string
	if c.Page > 0 {
		parts = append(parts, fmt.Sprintf("p. %d", c.Page))
	}
	if c.Chapter != "" {
		parts = append(parts, c.Chapter)
	}
	if c.Paragraph > 0 {
		parts = append(parts, fmt.Sprintf("¶%d", c.Paragraph))
	}
	return strings.Join(parts, ", ")
}

// Source identifies the book a document came from.
type Source struct {
	BookID     string
	BookTitle  string
	Author     string
	TopicID    string
	TopicLabel string
	Filename   string
}

// HashText is the embedding cache key of a chunk's text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
