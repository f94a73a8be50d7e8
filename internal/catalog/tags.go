package catalog

import (
	"sort"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// DefaultBookTags is the number of tags kept per book.
	DefaultBookTags = 6
	// DefaultTopicTags is the number of tags kept per topic.
	DefaultTopicTags = 8
	// UntaggedTag marks a book whose sample text was too short to tag.
	UntaggedTag = "untagged"

	minSampleChars = 100
	minTagLength   = 4
)

// Tagger derives tags from text by term frequency over the standard analyzer
// (unicode words, lowercased, English stop words removed).
type Tagger struct {
	analyze func([]byte) analysis.TokenStream
	limit   int
}

// NewTagger returns a tagger keeping at most limit tags per text.
func NewTagger(limit int) (*Tagger, error) {
	if limit <= 0 {
		limit = DefaultBookTags
	}
	analyzer, err := registry.NewCache().AnalyzerNamed(standard.Name)
	if err != nil {
		return nil, err
	}
	return &Tagger{analyze: analyzer.Analyze, limit: limit}, nil
}

// Tags returns the most frequent content words of text. Ties break
// alphabetically. Short samples yield UntaggedTag.
func (t *Tagger) Tags(text string) []string {
	if len(strings.TrimSpace(text)) < minSampleChars {
		return []string{UntaggedTag}
	}

	counts := map[string]int{}
	for _, tok := range t.analyze([]byte(text)) {
		term := string(tok.Term)
		if !isTagTerm(term) {
			continue
		}
		counts[term]++
	}
	tags := topTerms(counts, t.limit)
	if len(tags) == 0 {
		return []string{UntaggedTag}
	}
	return tags
}

// MergeTags ranks the tags of several books by how many books carry them.
func MergeTags(lists [][]string, limit int) []string {
	counts := map[string]int{}
	for _, tags := range lists {
		for _, tag := range tags {
			if tag != UntaggedTag {
				counts[tag]++
			}
		}
	}
	return topTerms(counts, limit)
}

func isTagTerm(term string) bool {
	if len([]rune(term)) < minTagLength {
		return false
	}
	for _, r := range term {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func topTerms(counts map[string]int, limit int) []string {
	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}
