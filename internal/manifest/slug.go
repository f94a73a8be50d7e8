package manifest

import (
	"path/filepath"
	"strings"
	"unicode"
)

// Slugify lowercases s, turns spaces, slashes, dots and dashes into
// underscores, drops other punctuation and collapses repeats.
// "AI/policy" becomes "ai_policy".
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case r == ' ' || r == '/' || r == '\\' || r == '_' || r == '-' || r == '.':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// BookID derives a book id from its filename stem.
func BookID(filename string) string {
	return Slugify(strings.TrimSuffix(filename, filepath.Ext(filename)))
}

// TopicID derives a topic id from the folder path relative to the library root.
func TopicID(relPath string) string {
	return Slugify(filepath.ToSlash(relPath))
}
