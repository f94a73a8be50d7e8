package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeBook creates a file under root with the given mtime.
func writeBook(t *testing.T, root, rel string, mtime time.Time) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("content of "+rel), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path string
		want Format
		ok   bool
	}{
		{"book.pdf", FormatPDF, true},
		{"Book.EPUB", FormatEPUB, true},
		{"page.htm", FormatHTML, true},
		{"notes.md", FormatText, true},
		{"cover.jpg", "", false},
		{"README", "", false},
	}
	for _, tt := range tests {
		got, ok := FormatOf(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestScan_ClassifiesFolders(t *testing.T) {
	// Given: a library with a leaf, a parent, an invalid folder and an empty one
	root := t.TempDir()
	now := time.Now()
	writeBook(t, root, "Philosophy/meditations.epub", now)
	writeBook(t, root, "Philosophy/republic.pdf", now)
	writeBook(t, root, "AI/policy/superintelligence.pdf", now)
	writeBook(t, root, "Mixed/loose.pdf", now)
	writeBook(t, root, "Mixed/Sub/inner.pdf", now)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Empty"), 0o755))
	writeBook(t, root, "Philosophy/cover.jpg", now)

	// When: scanning
	snap, err := Scan(context.Background(), root, Options{})
	require.NoError(t, err)

	// Then: each folder has the expected kind
	kinds := map[string]Kind{}
	for _, f := range snap.Folders {
		kinds[f.RelPath] = f.Kind
	}
	assert.Equal(t, KindLeaf, kinds["Philosophy"])
	assert.Equal(t, KindParent, kinds["AI"])
	assert.Equal(t, KindLeaf, kinds["AI/policy"])
	assert.Equal(t, KindInvalid, kinds["Mixed"])
	assert.Equal(t, KindLeaf, kinds["Mixed/Sub"])
	assert.Equal(t, KindEmpty, kinds["Empty"])

	phil := snap.Folder("philosophy")
	require.NotNil(t, phil)
	require.Len(t, phil.Files, 2, "non-book files are ignored")
	assert.Equal(t, "meditations.epub", phil.Files[0].Name)
	assert.Equal(t, FormatEPUB, phil.Files[0].Format)

	require.NotNil(t, snap.Folder("ai_policy"))
	assert.Len(t, snap.Violations(), 1)
	assert.Equal(t, 4, snap.BookCount())
}

func TestScan_MarksCollidingTopicIDs(t *testing.T) {
	// Given: two leaves whose paths slug to ai_policy, and one that does not collide
	root := t.TempDir()
	now := time.Now()
	writeBook(t, root, "AI/policy/rome.txt", now)
	writeBook(t, root, "AI policy/greece.txt", now)
	writeBook(t, root, "History/carthage.txt", now)

	// When: scanning
	snap, err := Scan(context.Background(), root, Options{})
	require.NoError(t, err)

	// Then: both colliding folders are duplicates and neither is a topic
	dups := snap.Duplicates()
	require.Len(t, dups, 1)
	require.Len(t, dups["ai_policy"], 2)
	assert.Equal(t, "AI policy", dups["ai_policy"][0].RelPath)
	assert.Equal(t, "AI/policy", dups["ai_policy"][1].RelPath)

	require.Len(t, snap.Leaves(), 1)
	assert.Equal(t, "history", snap.Leaves()[0].TopicID)
	assert.Equal(t, KindParent, snap.Folder("ai").Kind)
}

func TestScan_SkipsHiddenAndDataDir(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeBook(t, root, "History/rome.pdf", now)
	writeBook(t, root, ".shelf/topics/history/chunks.json", now)
	writeBook(t, root, ".trash/old.pdf", now)
	writeBook(t, root, "History/.hidden.pdf", now)

	snap, err := Scan(context.Background(), root, Options{})
	require.NoError(t, err)

	require.Len(t, snap.Folders, 1)
	assert.Equal(t, "History", snap.Folders[0].RelPath)
	assert.Len(t, snap.Folders[0].Files, 1)
}

func TestScan_LooseFilesInRoot(t *testing.T) {
	root := t.TempDir()
	writeBook(t, root, "stray.epub", time.Now())

	snap, err := Scan(context.Background(), root, Options{})
	require.NoError(t, err)

	require.Len(t, snap.LooseFiles, 1)
	assert.Empty(t, snap.Folders)
}

func TestScan_ExtensionFilter(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeBook(t, root, "Mixed/a.pdf", now)
	writeBook(t, root, "Mixed/b.txt", now)

	snap, err := Scan(context.Background(), root, Options{Extensions: []string{"pdf"}})
	require.NoError(t, err)

	f := snap.Folder("mixed")
	require.NotNil(t, f)
	require.Len(t, f.Files, 1)
	assert.Equal(t, "a.pdf", f.Files[0].Name)
}

func TestScan_ExcludePatterns(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeBook(t, root, "_inbox/new.pdf", now)
	writeBook(t, root, "Science/physics.pdf", now)
	writeBook(t, root, "Science/drafts/x.pdf", now)

	snap, err := Scan(context.Background(), root, Options{ExcludePatterns: []string{"_inbox/**", "**/drafts"}})
	require.NoError(t, err)

	assert.Nil(t, snap.Folder("_inbox"))
	sci := snap.Folder("science")
	require.NotNil(t, sci)
	assert.Equal(t, KindLeaf, sci.Kind, "excluded subfolders do not make a parent")
}

func TestScan_RecordsModTime(t *testing.T) {
	root := t.TempDir()
	mtime := time.Unix(1_700_000_000, 0)
	writeBook(t, root, "Art/color.pdf", mtime)

	snap, err := Scan(context.Background(), root, Options{})
	require.NoError(t, err)

	f := snap.Folder("art").File("color.pdf")
	require.NotNil(t, f)
	assert.True(t, mtime.Equal(f.ModTime))
}

func TestScan_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeBook(t, root, "A/a.pdf", time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Scan(ctx, root, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScan_RootMustBeDirectory(t *testing.T) {
	root := t.TempDir()
	file := writeBook(t, root, "x.pdf", time.Now())

	_, err := Scan(context.Background(), file, Options{})
	assert.Error(t, err)

	_, err = Scan(context.Background(), filepath.Join(root, "missing"), Options{})
	assert.Error(t, err)
}

func TestScanFolder(t *testing.T) {
	root := t.TempDir()
	writeBook(t, root, "Poetry/odes.epub", time.Now())

	f, err := ScanFolder(context.Background(), root, "Poetry", Options{})
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "poetry", f.TopicID)

	f, err = ScanFolder(context.Background(), root, "Gone", Options{})
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestMatchDirPattern(t *testing.T) {
	assert.True(t, matchDirPattern("_inbox", "_inbox/**"))
	assert.True(t, matchDirPattern("_inbox/sub", "_inbox/**"))
	assert.False(t, matchDirPattern("_inboxes", "_inbox/**"))
	assert.True(t, matchDirPattern("a/b/drafts", "**/drafts"))
	assert.True(t, matchDirPattern("archive", "archive"))
	assert.False(t, matchDirPattern("x", ""))
}
