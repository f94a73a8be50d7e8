package manifest

import (
	"fmt"
	"strings"
	"time"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
)

// Topic returns the topic with the exact id, or nil.
func (m *Manifest) Topic(id string) *Topic {
	for _, t := range m.Topics {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// TopicByPath returns the topic rooted at the slash separated relative path, or nil.
func (m *Manifest) TopicByPath(relPath string) *Topic {
	for _, t := range m.Topics {
		if t.Path == relPath {
			return t
		}
	}
	return nil
}

// FindTopic resolves a user supplied topic: exact id first, then a
// case-insensitive substring of the label. Manifest order breaks ties.
func (m *Manifest) FindTopic(query string) *Topic {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	if t := m.Topic(q); t != nil {
		return t
	}
	if t := m.Topic(Slugify(q)); t != nil {
		return t
	}
	lower := strings.ToLower(q)
	for _, t := range m.Topics {
		if strings.Contains(strings.ToLower(t.Label), lower) {
			return t
		}
	}
	return nil
}

// FindBook resolves a book across all topics: exact id first, then a
// case-insensitive substring of the title, then of the filename.
func (m *Manifest) FindBook(query string) (*Topic, *Book) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	for _, t := range m.Topics {
		for _, b := range t.Books {
			if b.ID == q {
				return t, b
			}
		}
	}
	lower := strings.ToLower(q)
	for _, t := range m.Topics {
		for _, b := range t.Books {
			if strings.Contains(strings.ToLower(b.Title), lower) {
				return t, b
			}
		}
	}
	for _, t := range m.Topics {
		for _, b := range t.Books {
			if strings.Contains(strings.ToLower(b.Filename), lower) {
				return t, b
			}
		}
	}
	return nil, nil
}

// UpsertTopic adds t, or replaces the topic with the same id keeping its books
// when t carries none.
func (m *Manifest) UpsertTopic(t *Topic) *Topic {
	if existing := m.Topic(t.ID); existing != nil {
		existing.Label = t.Label
		existing.Path = t.Path
		if t.Description != "" {
			existing.Description = t.Description
		}
		if len(t.Tags) > 0 {
			existing.Tags = t.Tags
		}
		if len(t.Books) > 0 {
			existing.Books = t.Books
		}
		return existing
	}
	if t.Books == nil {
		t.Books = []*Book{}
	}
	m.Topics = append(m.Topics, t)
	return t
}

// RemoveTopic drops the topic and reports whether it existed.
func (m *Manifest) RemoveTopic(id string) bool {
	for i, t := range m.Topics {
		if t.ID == id {
			m.Topics = append(m.Topics[:i], m.Topics[i+1:]...)
			return true
		}
	}
	return false
}

// Book returns the book stored under filename, or nil.
func (t *Topic) Book(filename string) *Book {
	for _, b := range t.Books {
		if b.Filename == filename {
			return b
		}
	}
	return nil
}

// UpsertBook inserts b or replaces the record with the same filename. Index
// state (last_indexed_at, chunks) survives a replace unless b sets it.
func (t *Topic) UpsertBook(b *Book) *Book {
	for i, existing := range t.Books {
		if existing.Filename != b.Filename {
			continue
		}
		if b.LastIndexedAt == nil {
			b.LastIndexedAt = existing.LastIndexedAt
		}
		if b.Chunks == 0 {
			b.Chunks = existing.Chunks
		}
		t.Books[i] = b
		return b
	}
	t.Books = append(t.Books, b)
	return b
}

// RemoveBook drops the record for filename and reports whether it existed.
func (t *Topic) RemoveBook(filename string) bool {
	for i, b := range t.Books {
		if b.Filename == filename {
			t.Books = append(t.Books[:i], t.Books[i+1:]...)
			return true
		}
	}
	return false
}

// IndexedBooks counts books with a recorded index time.
func (t *Topic) IndexedBooks() int {
	n := 0
	for _, b := range t.Books {
		if b.LastIndexedAt != nil {
			n++
		}
	}
	return n
}

// LeafTopics returns topics that hold books.
func (m *Manifest) LeafTopics() []*Topic {
	out := make([]*Topic, 0, len(m.Topics))
	for _, t := range m.Topics {
		if len(t.Books) > 0 {
			out = append(out, t)
		}
	}
	return out
}

// MarkIndexed records a successful embedding pass for one book.
func (m *Manifest) MarkIndexed(topicID, filename string, chunks int, at time.Time) error {
	t := m.Topic(topicID)
	if t == nil {
		return shelferrors.New(shelferrors.ErrCodeTopicNotFound,
			"topic not in manifest: "+topicID, nil)
	}
	b := t.Book(filename)
	if b == nil {
		return shelferrors.New(shelferrors.ErrCodeBookNotFound,
			"book not in manifest: "+filename, nil).WithDetail("topic", topicID)
	}
	at = at.UTC()
	b.LastIndexedAt = &at
	b.Chunks = chunks
	return nil
}

// MarkUnindexed clears the index state of a book whose pass failed, so the
// next run embeds it again.
func (m *Manifest) MarkUnindexed(topicID, filename string) error {
	t := m.Topic(topicID)
	if t == nil {
		return shelferrors.New(shelferrors.ErrCodeTopicNotFound,
			"topic not in manifest: "+topicID, nil)
	}
	b := t.Book(filename)
	if b == nil {
		return shelferrors.New(shelferrors.ErrCodeBookNotFound,
			"book not in manifest: "+filename, nil).WithDetail("topic", topicID)
	}
	b.LastIndexedAt = nil
	b.Chunks = 0
	return nil
}

// MarkTopicIndexed stamps a topic with the folder digest of a pass. An empty
// digest, after a pass with failures, keeps the topic from short-circuiting.
func (m *Manifest) MarkTopicIndexed(topicID, contentHash string, at time.Time) error {
	t := m.Topic(topicID)
	if t == nil {
		return shelferrors.New(shelferrors.ErrCodeTopicNotFound,
			"topic not in manifest: "+topicID, nil)
	}
	at = at.UTC()
	t.ContentHash = contentHash
	t.LastIndexedAt = &at
	return nil
}

// BookIDFor returns the id of the book stored under filename, or a fresh id
// derived from the filename that no other book of the topic uses.
func (t *Topic) BookIDFor(filename string) string {
	if b := t.Book(filename); b != nil && b.ID != "" {
		return b.ID
	}
	base := BookID(filename)
	if base == "" {
		base = "book"
	}
	taken := make(map[string]bool, len(t.Books))
	for _, b := range t.Books {
		if b.Filename != filename {
			taken[b.ID] = true
		}
	}
	id := base
	for n := 2; taken[id]; n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	return id
}
