// Package delta compares the live library with the manifest and classifies
// every book as new, modified, deleted or unchanged. It never writes;
// recording a successful index is manifest.MarkIndexed's job.
package delta

import (
	"sort"
	"time"

	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/scanner"
)

// BookRef identifies one book by topic folder and filename.
type BookRef struct {
	TopicID   string
	TopicPath string
	Filename  string

	// Path is the absolute file path. Empty for deleted books.
	Path    string
	Format  scanner.Format
	ModTime time.Time

	// Recorded is the manifest's last_indexed_at, nil when never indexed.
	Recorded *time.Time
}

// Key returns the identity used to match disk and manifest entries.
func (r BookRef) Key() string {
	return r.TopicPath + "/" + r.Filename
}

// Result holds four disjoint sets covering every book on disk or in the manifest.
type Result struct {
	New       []BookRef
	Modified  []BookRef
	Deleted   []BookRef
	Unchanged []BookRef
}

// Counts summarizes a result.
type Counts struct {
	New       int `json:"new"`
	Modified  int `json:"modified"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Detect classifies books. A nil or empty manifest makes every file new.
// Files are considered in every folder that holds books, including folders
// that violate the leaf/parent rule, so the four sets always partition the
// union of disk and manifest entries.
func Detect(snap *scanner.Snapshot, m *manifest.Manifest) *Result {
	res := &Result{}

	recorded := map[string]*manifest.Book{}
	topicOf := map[string]*manifest.Topic{}
	if m != nil {
		for _, t := range m.Topics {
			for _, b := range t.Books {
				key := t.Path + "/" + b.Filename
				recorded[key] = b
				topicOf[key] = t
			}
		}
	}

	seen := map[string]bool{}
	for _, folder := range snap.Folders {
		for _, f := range folder.Files {
			ref := BookRef{
				TopicID:   folder.TopicID,
				TopicPath: folder.RelPath,
				Filename:  f.Name,
				Path:      f.Path,
				Format:    f.Format,
				ModTime:   f.ModTime,
			}
			key := ref.Key()
			seen[key] = true

			book, known := recorded[key]
			switch {
			case !known:
				res.New = append(res.New, ref)
			case book.LastIndexedAt == nil:
				res.Modified = append(res.Modified, ref)
			case f.ModTime.After(*book.LastIndexedAt):
				ref.Recorded = book.LastIndexedAt
				res.Modified = append(res.Modified, ref)
			default:
				ref.Recorded = book.LastIndexedAt
				res.Unchanged = append(res.Unchanged, ref)
			}
		}
	}

	for key, book := range recorded {
		if seen[key] {
			continue
		}
		t := topicOf[key]
		res.Deleted = append(res.Deleted, BookRef{
			TopicID:   t.ID,
			TopicPath: t.Path,
			Filename:  book.Filename,
			Recorded:  book.LastIndexedAt,
		})
	}

	res.sort()
	return res
}

// Empty reports whether nothing needs indexing or removal.
func (r *Result) Empty() bool {
	return len(r.New) == 0 && len(r.Modified) == 0 && len(r.Deleted) == 0
}

// Counts returns the size of each set.
func (r *Result) Counts() Counts {
	return Counts{
		New:       len(r.New),
		Modified:  len(r.Modified),
		Deleted:   len(r.Deleted),
		Unchanged: len(r.Unchanged),
	}
}

// ForTopic narrows the result to one topic.
func (r *Result) ForTopic(topicID string) *Result {
	pick := func(refs []BookRef) []BookRef {
		var out []BookRef
		for _, ref := range refs {
			if ref.TopicID == topicID {
				out = append(out, ref)
			}
		}
		return out
	}
	return &Result{
		New:       pick(r.New),
		Modified:  pick(r.Modified),
		Deleted:   pick(r.Deleted),
		Unchanged: pick(r.Unchanged),
	}
}

// ChangedTopics lists topic ids with at least one new, modified or deleted book.
func (r *Result) ChangedTopics() []string {
	set := map[string]bool{}
	for _, refs := range [][]BookRef{r.New, r.Modified, r.Deleted} {
		for _, ref := range refs {
			set[ref.TopicID] = true
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Result) sort() {
	for _, refs := range [][]BookRef{r.New, r.Modified, r.Deleted, r.Unchanged} {
		sort.Slice(refs, func(i, j int) bool { return refs[i].Key() < refs[j].Key() })
	}
}
