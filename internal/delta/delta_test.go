package delta

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/scanner"
)

func unix(sec int64) time.Time { return time.Unix(sec, 0) }

func ptr(t time.Time) *time.Time { return &t }

func folder(rel string, files ...scanner.File) *scanner.Folder {
	return &scanner.Folder{
		RelPath: rel,
		TopicID: manifest.TopicID(rel),
		Files:   files,
		Kind:    scanner.KindLeaf,
	}
}

func file(name string, mtime int64) scanner.File {
	format, _ := scanner.FormatOf(name)
	return scanner.File{Name: name, Path: "/lib/" + name, ModTime: unix(mtime), Format: format}
}

func names(refs []BookRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Filename)
	}
	return out
}

func TestDetect_ClassifiesNewModifiedUnchanged(t *testing.T) {
	// Given: manifest has A and B indexed at 100; disk has A at 100, B at 200, and C
	m := manifest.New("/lib")
	m.Topics = append(m.Topics, &manifest.Topic{
		ID: "topic", Label: "Topic", Path: "Topic",
		Books: []*manifest.Book{
			{Filename: "A.pdf", LastIndexedAt: ptr(unix(100))},
			{Filename: "B.pdf", LastIndexedAt: ptr(unix(100))},
		},
	})
	snap := &scanner.Snapshot{Folders: []*scanner.Folder{
		folder("Topic", file("A.pdf", 100), file("B.pdf", 200), file("C.pdf", 300)),
	}}

	// When: detecting
	res := Detect(snap, m)

	// Then: new=[C], modified=[B], deleted=[]
	assert.Equal(t, []string{"C.pdf"}, names(res.New))
	assert.Equal(t, []string{"B.pdf"}, names(res.Modified))
	assert.Empty(t, res.Deleted)
	assert.Equal(t, []string{"A.pdf"}, names(res.Unchanged))
	assert.False(t, res.Empty())
}

func TestDetect_NullTimestampIsModified(t *testing.T) {
	m := manifest.New("/lib")
	m.Topics = append(m.Topics, &manifest.Topic{
		ID: "topic", Path: "Topic",
		Books: []*manifest.Book{{Filename: "A.pdf"}},
	})
	snap := &scanner.Snapshot{Folders: []*scanner.Folder{folder("Topic", file("A.pdf", 1))}}

	res := Detect(snap, m)

	assert.Equal(t, []string{"A.pdf"}, names(res.Modified))
	assert.Nil(t, res.Modified[0].Recorded)
}

func TestDetect_EqualTimestampIsUnchanged(t *testing.T) {
	m := manifest.New("/lib")
	m.Topics = append(m.Topics, &manifest.Topic{
		ID: "topic", Path: "Topic",
		Books: []*manifest.Book{{Filename: "A.pdf", LastIndexedAt: ptr(unix(50))}},
	})
	snap := &scanner.Snapshot{Folders: []*scanner.Folder{folder("Topic", file("A.pdf", 50))}}

	res := Detect(snap, m)

	assert.True(t, res.Empty())
	assert.Len(t, res.Unchanged, 1)
}

func TestDetect_MissingManifestMakesAllNew(t *testing.T) {
	snap := &scanner.Snapshot{Folders: []*scanner.Folder{
		folder("One", file("a.epub", 1), file("b.pdf", 2)),
		folder("Two", file("c.txt", 3)),
	}}

	for name, m := range map[string]*manifest.Manifest{"nil": nil, "empty": manifest.New("")} {
		t.Run(name, func(t *testing.T) {
			res := Detect(snap, m)
			assert.Equal(t, []string{"a.epub", "b.pdf", "c.txt"}, names(res.New))
			assert.Empty(t, res.Modified)
			assert.Empty(t, res.Deleted)
		})
	}
}

func TestDetect_Deleted(t *testing.T) {
	// Given: a manifest book whose file and a whole topic folder are gone
	m := manifest.New("/lib")
	m.Topics = append(m.Topics,
		&manifest.Topic{ID: "kept", Path: "Kept", Books: []*manifest.Book{
			{Filename: "stay.pdf", LastIndexedAt: ptr(unix(10))},
			{Filename: "gone.pdf", LastIndexedAt: ptr(unix(10))},
		}},
		&manifest.Topic{ID: "removed", Path: "Removed", Books: []*manifest.Book{
			{Filename: "old.epub"},
		}},
	)
	snap := &scanner.Snapshot{Folders: []*scanner.Folder{folder("Kept", file("stay.pdf", 5))}}

	// When: detecting
	res := Detect(snap, m)

	// Then: both missing books are deleted and carry their topic
	assert.Equal(t, []string{"gone.pdf", "old.epub"}, names(res.Deleted))
	assert.Equal(t, "removed", res.Deleted[1].TopicID)
	assert.Empty(t, res.Deleted[0].Path)
	assert.Equal(t, []string{"kept", "removed"}, res.ChangedTopics())
}

func TestDetect_KeysIncludeTopicPath(t *testing.T) {
	// Given: the same filename moved to another topic
	m := manifest.New("/lib")
	m.Topics = append(m.Topics, &manifest.Topic{ID: "a", Path: "A", Books: []*manifest.Book{
		{Filename: "book.pdf", LastIndexedAt: ptr(unix(10))},
	}})
	snap := &scanner.Snapshot{Folders: []*scanner.Folder{folder("B", file("book.pdf", 5))}}

	res := Detect(snap, m)

	// Then: it is new in B and deleted from A
	require.Len(t, res.New, 1)
	assert.Equal(t, "b", res.New[0].TopicID)
	require.Len(t, res.Deleted, 1)
	assert.Equal(t, "a", res.Deleted[0].TopicID)
}

func TestDetect_PartitionIsComplete(t *testing.T) {
	m := manifest.New("/lib")
	m.Topics = append(m.Topics, &manifest.Topic{ID: "t", Path: "T", Books: []*manifest.Book{
		{Filename: "1.pdf", LastIndexedAt: ptr(unix(10))},
		{Filename: "2.pdf", LastIndexedAt: ptr(unix(10))},
		{Filename: "3.pdf"},
		{Filename: "4.pdf", LastIndexedAt: ptr(unix(10))},
	}})
	snap := &scanner.Snapshot{Folders: []*scanner.Folder{
		folder("T", file("1.pdf", 10), file("2.pdf", 11), file("3.pdf", 1), file("5.pdf", 1)),
	}}

	res := Detect(snap, m)

	seen := map[string]int{}
	for _, refs := range [][]BookRef{res.New, res.Modified, res.Deleted, res.Unchanged} {
		for _, r := range refs {
			seen[r.Filename]++
		}
	}
	assert.Len(t, seen, 5)
	for name, n := range seen {
		assert.Equal(t, 1, n, name)
	}
	assert.Equal(t, Counts{New: 1, Modified: 2, Deleted: 1, Unchanged: 1}, res.Counts())
}

func TestResult_ForTopic(t *testing.T) {
	res := &Result{
		New:      []BookRef{{TopicID: "a", Filename: "x"}, {TopicID: "b", Filename: "y"}},
		Deleted:  []BookRef{{TopicID: "b", Filename: "z"}},
		Modified: []BookRef{{TopicID: "a", Filename: "w"}},
	}

	b := res.ForTopic("b")
	assert.Equal(t, []string{"y"}, names(b.New))
	assert.Equal(t, []string{"z"}, names(b.Deleted))
	assert.Empty(t, b.Modified)
	assert.True(t, res.ForTopic("c").Empty())
}

func TestFolderHash_DeterministicAndOrderIndependent(t *testing.T) {
	// Given: files x.pdf:10 and y.epub:20 in both orders
	a := []FileStamp{{"x.pdf", unix(10)}, {"y.epub", unix(20)}}
	b := []FileStamp{{"y.epub", unix(20)}, {"x.pdf", unix(10)}}

	// Then: both orders hash to the digest of the sorted, joined pairs
	sum := sha256.Sum256([]byte("x.pdf:10|y.epub:20"))
	want := hex.EncodeToString(sum[:])
	assert.Equal(t, want, FolderHash(a))
	assert.Equal(t, want, FolderHash(b))
	assert.Equal(t, FolderHash(a), FolderHash(a))

	// And: the input slice is not reordered
	assert.Equal(t, "y.epub", b[0].Name)
}

func TestFolderHash_ChangesWithMTimeOrMembership(t *testing.T) {
	base := FolderHash([]FileStamp{{"x.pdf", unix(10)}})
	assert.NotEqual(t, base, FolderHash([]FileStamp{{"x.pdf", unix(11)}}))
	assert.NotEqual(t, base, FolderHash([]FileStamp{{"x.pdf", unix(10)}, {"z.pdf", unix(1)}}))
	assert.NotEqual(t, base, FolderHash(nil))
}

func TestFormatMTime(t *testing.T) {
	assert.Equal(t, "10", FormatMTime(unix(10)))
	assert.Equal(t, "10.5", FormatMTime(time.Unix(10, 500_000_000)))
	assert.Equal(t, "10.000000001", FormatMTime(time.Unix(10, 1)))
}

func TestTopicChanged(t *testing.T) {
	f := folder("T", file("a.pdf", 1))

	assert.True(t, TopicChanged(nil, f))
	assert.True(t, TopicChanged(&manifest.Topic{}, f))
	assert.True(t, TopicChanged(&manifest.Topic{ContentHash: "stale"}, f))
	assert.False(t, TopicChanged(&manifest.Topic{ContentHash: FolderHashOf(f)}, f))
	assert.True(t, TopicChanged(&manifest.Topic{ContentHash: "x"}, nil))
}
