package search

import (
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/manifest"
)

var (
	stopWordsOnce sync.Once
	stopWords     analysis.TokenMap
)

func isStopWord(token string) bool {
	stopWordsOnce.Do(func() {
		stopWords = analysis.NewTokenMap()
		if err := stopWords.LoadBytes(en.EnglishStopWords); err != nil {
			slog.Warn("failed to load stop words", slog.String("error", err.Error()))
		}
	})
	return stopWords[token]
}

// queryTokens splits a query into lowercase words usable for topic inference.
func queryTokens(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= MinTokenLength && !isStopWord(f) {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// resolved is the outcome of topic resolution.
type resolved struct {
	topic *manifest.Topic
	book  *manifest.Book
	how   Resolution
}

// resolveTopic picks the topic a request runs against: the explicit topic,
// then the book's topic, then a topic named by the query, then the default
// topic, then the first indexed topic.
func resolveTopic(m *manifest.Manifest, req Request, defaultTopic string) (resolved, error) {
	if req.Topic != "" {
		t := m.FindTopic(req.Topic)
		if t == nil {
			return resolved{}, shelferrors.Newf(shelferrors.ErrCodeTopicNotFound, "topic not found: %s", req.Topic).
				WithSuggestion("run 'shelf topics' to list topics")
		}
		r := resolved{topic: t, how: ResolvedExplicit}
		if req.Book != "" {
			b := findBookIn(t, req.Book)
			if b == nil {
				return resolved{}, shelferrors.Newf(shelferrors.ErrCodeBookNotFound,
					"book not found in topic %s: %s", t.ID, req.Book).
					WithSuggestion("run 'shelf topics " + t.ID + "' to list its books")
			}
			r.book = b
		}
		return r, nil
	}

	if req.Book != "" {
		t, b := m.FindBook(req.Book)
		if b == nil {
			return resolved{}, shelferrors.Newf(shelferrors.ErrCodeBookNotFound, "book not found: %s", req.Book).
				WithSuggestion("run 'shelf topics <topic>' to list books")
		}
		return resolved{topic: t, book: b, how: ResolvedBook}, nil
	}

	if t := inferTopic(m, queryTokens(req.Query)); t != nil {
		return resolved{topic: t, how: ResolvedInferred}, nil
	}

	if defaultTopic != "" {
		if t := m.FindTopic(defaultTopic); t != nil {
			return resolved{topic: t, how: ResolvedDefault}, nil
		}
		slog.Warn("default topic not in manifest", slog.String("topic", defaultTopic))
	}

	for _, t := range m.Topics {
		if t.IndexedBooks() > 0 {
			return resolved{topic: t, how: ResolvedFallback}, nil
		}
	}
	return resolved{}, shelferrors.New(shelferrors.ErrCodeNoIndexedTopic, "no topic has been indexed", nil).
		WithSuggestion("run 'shelf index'")
}

// inferTopic returns the first indexed topic, in manifest order, whose id,
// label or tags contain one of the tokens.
func inferTopic(m *manifest.Manifest, tokens []string) *manifest.Topic {
	if len(tokens) == 0 {
		return nil
	}
	for _, t := range m.Topics {
		if t.IndexedBooks() == 0 {
			continue
		}
		label := strings.ToLower(t.Label)
		for _, tok := range tokens {
			if strings.Contains(t.ID, tok) || strings.Contains(label, tok) {
				return t
			}
			for _, tag := range t.Tags {
				if strings.Contains(strings.ToLower(tag), tok) {
					return t
				}
			}
		}
	}
	return nil
}

func findBookIn(t *manifest.Topic, query string) *manifest.Book {
	q := strings.TrimSpace(query)
	for _, b := range t.Books {
		if b.ID == q {
			return b
		}
	}
	lower := strings.ToLower(q)
	for _, b := range t.Books {
		if strings.Contains(strings.ToLower(b.Title), lower) || strings.Contains(strings.ToLower(b.Filename), lower) {
			return b
		}
	}
	return nil
}
