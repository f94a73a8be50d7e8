package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/manifest"
	"github.com/Aman-CERP/shelf/internal/ui"
)

const testLibraryConfig = `embeddings:
  provider: static
chunking:
  size: 20
  overlap: 5
  min_words: 1
`

var past = time.Now().Add(-2 * time.Hour)

func bookText(title string, words int) string {
	var b strings.Builder
	b.WriteString("# " + title + "\n\n")
	for i := 0; i < words; i++ {
		fmt.Fprintf(&b, "%s%d ", strings.ToLower(title), i)
	}
	return b.String()
}

func writeBook(t *testing.T, root, rel, text string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	require.NoError(t, os.Chtimes(path, past, past))
}

// isolate keeps logs and user config out of the real home directory.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("SHELF_LOG_DIR", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("SHELF_EMBEDDER", "")
	t.Setenv("NO_COLOR", "1")
}

// newTestLibrary creates history/{rome,greece}.txt and
// philosophy/stoics/meditations.txt with a static embedder config.
func newTestLibrary(t *testing.T) string {
	t.Helper()
	isolate(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".shelf.yaml"), []byte(testLibraryConfig), 0o644))
	writeBook(t, root, "history/rome.txt", bookText("Rome", 60))
	writeBook(t, root, "history/greece.txt", bookText("Greece", 45))
	writeBook(t, root, "philosophy/stoics/meditations.txt", bookText("Meditations", 50))
	return root
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	t.Cleanup(func() { _ = stopLogging(nil, nil) })

	err := cmd.Execute()
	return buf.String(), err
}

func indexLibrary(t *testing.T, root string) {
	t.Helper()
	_, err := execute(t, "index", "--library", root, "--no-tui")
	require.NoError(t, err)
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	isolate(t)

	// When: executing with --help
	out, err := execute(t, "--help")

	// Then: every command is listed
	require.NoError(t, err)
	for _, name := range []string{"index", "detect", "search", "serve", "topics", "status", "validate", "check", "metadata", "migrate", "watch", "config", "version"} {
		assert.Contains(t, out, name)
	}
}

func TestIndexCmd_IndexesLibrary(t *testing.T) {
	// Given: a library never indexed
	root := newTestLibrary(t)

	// When: indexing it
	indexLibrary(t, root)

	// Then: the manifest records both topics with every book indexed
	m, err := manifest.NewStore(filepath.Join(root, ".shelf")).Load()
	require.NoError(t, err)
	require.Len(t, m.Topics, 2)
	for _, topic := range m.Topics {
		assert.Equal(t, len(topic.Books), topic.IndexedBooks(), topic.ID)
	}
	assert.FileExists(t, filepath.Join(root, ".shelf", "topics", "history", "index.json"))
}

func TestIndexCmd_DryRunWritesNothing(t *testing.T) {
	// Given: a library never indexed
	root := newTestLibrary(t)

	// When: running a dry run
	_, err := execute(t, "index", "--library", root, "--no-tui", "--dry-run")

	// Then: no manifest and no cache were written
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(root, ".shelf", manifest.FileName))
	assert.NoFileExists(t, filepath.Join(root, ".shelf", "embeddings.db"))
}

func TestIndexCmd_UnknownTopic(t *testing.T) {
	root := newTestLibrary(t)

	_, err := execute(t, "index", "--library", root, "--no-tui", "--topic", "cooking")

	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeTopicNotFound))
}

func TestDetectCmd_JSON(t *testing.T) {
	// Given: an indexed library where one book was added afterwards
	root := newTestLibrary(t)
	indexLibrary(t, root)
	writeBook(t, root, "history/carthage.txt", bookText("Carthage", 30))

	// When: detecting changes
	out, err := execute(t, "detect", "--library", root, "--json")

	// Then: only the new book is reported
	require.NoError(t, err)
	var result detectOutput
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, []string{"history/carthage.txt"}, result.New)
	assert.Empty(t, result.Modified)
	assert.Empty(t, result.Deleted)
	assert.Equal(t, 3, result.Counts.Unchanged)
	assert.Equal(t, []string{"history"}, result.Topics)
}

func TestDetectCmd_UpToDate(t *testing.T) {
	root := newTestLibrary(t)
	indexLibrary(t, root)

	out, err := execute(t, "detect", "--library", root)

	require.NoError(t, err)
	assert.Contains(t, out, "Index is up to date")
}

func TestSearchCmd_RequiresManifest(t *testing.T) {
	// Given: a library that was never indexed
	root := newTestLibrary(t)

	// When: searching it
	_, err := execute(t, "search", "rome", "--library", root)

	// Then: the error says to index first
	require.Error(t, err)
	assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeFileNotFound))
	se, ok := shelferrors.As(err)
	require.True(t, ok)
	assert.Contains(t, se.Suggestion, "shelf index")
}

func TestSearchCmd_RequiresQuery(t *testing.T) {
	isolate(t)

	_, err := execute(t, "search")

	require.Error(t, err)
}

func TestSearchCmd_InvalidFormat(t *testing.T) {
	root := newTestLibrary(t)

	_, err := execute(t, "search", "rome", "--library", root, "--format", "xml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSearchCmd_ReturnsPassages(t *testing.T) {
	// Given: an indexed library
	root := newTestLibrary(t)
	indexLibrary(t, root)

	// When: searching one topic as JSON
	out, err := execute(t, "search", "rome12 rome13", "--library", root, "--topic", "history", "-k", "3", "--format", "json")

	// Then: passages come from that topic only
	require.NoError(t, err)
	var result struct {
		Topic   string `json:"topic"`
		Results []struct {
			BookID string `json:"book_id"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "history", result.Topic)
	assert.NotEmpty(t, result.Results)
	assert.LessOrEqual(t, len(result.Results), 3)
}

func TestTopicsCmd(t *testing.T) {
	root := newTestLibrary(t)
	indexLibrary(t, root)

	t.Run("table", func(t *testing.T) {
		out, err := execute(t, "topics", "--library", root)
		require.NoError(t, err)
		assert.Contains(t, out, "history")
		assert.Contains(t, out, "philosophy_stoics")
		assert.Contains(t, out, "2 topics, 3 books")
	})

	t.Run("books of one topic by path", func(t *testing.T) {
		out, err := execute(t, "topics", "philosophy/stoics", "--library", root, "--json")
		require.NoError(t, err)
		var topic manifest.Topic
		require.NoError(t, json.Unmarshal([]byte(out), &topic))
		assert.Equal(t, "philosophy_stoics", topic.ID)
		require.Len(t, topic.Books, 1)
		assert.Equal(t, "meditations.txt", topic.Books[0].Filename)
	})

	t.Run("unknown topic", func(t *testing.T) {
		_, err := execute(t, "topics", "cooking", "--library", root)
		assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeTopicNotFound))
	})
}

func TestStatusCmd_JSON(t *testing.T) {
	// Given: an indexed library with one book changed since
	root := newTestLibrary(t)
	indexLibrary(t, root)
	writeBook(t, root, "philosophy/stoics/letters.txt", bookText("Letters", 30))

	// When: showing status
	out, err := execute(t, "status", "--library", root, "--json")

	// Then: the changed topic is stale and the other is not
	require.NoError(t, err)
	var info ui.StatusInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.True(t, info.Manifest)
	assert.Equal(t, "ready", info.EmbedderStatus)
	assert.Equal(t, 1, info.Pending)
	require.Len(t, info.Topics, 2)
	stale := map[string]bool{}
	for _, ts := range info.Topics {
		stale[ts.ID] = ts.Stale
		assert.Positive(t, ts.Chunks, ts.ID)
		assert.Positive(t, ts.IndexSize, ts.ID)
	}
	assert.False(t, stale["history"])
	assert.True(t, stale["philosophy_stoics"])
	assert.Positive(t, info.CachedVectors)
}

func TestStatusCmd_NotIndexed(t *testing.T) {
	root := newTestLibrary(t)

	out, err := execute(t, "status", "--library", root)

	require.NoError(t, err)
	assert.Contains(t, out, "Not indexed yet")
}

func TestValidateCmd(t *testing.T) {
	t.Run("valid layout", func(t *testing.T) {
		root := newTestLibrary(t)
		out, err := execute(t, "validate", "--library", root)
		require.NoError(t, err)
		assert.Contains(t, out, "Layout is valid")
	})

	t.Run("books next to subfolders", func(t *testing.T) {
		root := newTestLibrary(t)
		writeBook(t, root, "philosophy/overview.txt", bookText("Overview", 10))

		out, err := execute(t, "validate", "--library", root)

		assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeTopicLayout))
		assert.Contains(t, out, "philosophy")
	})
}

func TestCheckCmd(t *testing.T) {
	t.Run("clean index", func(t *testing.T) {
		root := newTestLibrary(t)
		indexLibrary(t, root)

		out, err := execute(t, "check", "--library", root)
		require.NoError(t, err)
		assert.Contains(t, out, "Indices match the manifest")
	})

	t.Run("orphan index is reported then repaired", func(t *testing.T) {
		// Given: an index folder for a topic the manifest does not know
		root := newTestLibrary(t)
		indexLibrary(t, root)
		orphan := filepath.Join(root, ".shelf", "topics", "cooking")
		require.NoError(t, os.MkdirAll(orphan, 0o755))

		// When: checking without repair
		out, err := execute(t, "check", "--library", root)

		// Then: the orphan is an error
		require.Error(t, err)
		assert.True(t, shelferrors.HasCode(err, shelferrors.ErrCodeIndexCorrupt))
		assert.Contains(t, out, "cooking: orphan_index")

		// When: repairing
		out, err = execute(t, "check", "--library", root, "--repair")

		// Then: the folder is gone and nothing is left to rebuild
		require.NoError(t, err)
		assert.Contains(t, out, "cooking: removed orphan index")
		assert.NoDirExists(t, orphan)
	})

	t.Run("json", func(t *testing.T) {
		root := newTestLibrary(t)
		indexLibrary(t, root)

		out, err := execute(t, "check", "--library", root, "--json")
		require.NoError(t, err)
		var result struct {
			Checked int `json:"checked_topics"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &result))
		assert.Equal(t, 2, result.Checked)
	})
}

func TestMetadataGenerate(t *testing.T) {
	t.Run("dry run", func(t *testing.T) {
		root := newTestLibrary(t)

		out, err := execute(t, "metadata", "generate", "--library", root, "--dry-run")

		require.NoError(t, err)
		assert.Contains(t, out, "Dry run")
		assert.NoFileExists(t, filepath.Join(root, ".shelf", manifest.FileName))
	})

	t.Run("writes manifest", func(t *testing.T) {
		root := newTestLibrary(t)

		_, err := execute(t, "metadata", "generate", "--library", root)

		require.NoError(t, err)
		m, err := manifest.NewStore(filepath.Join(root, ".shelf")).Load()
		require.NoError(t, err)
		assert.Equal(t, 3, m.BookCount())
		assert.Equal(t, 0, m.Topic("history").IndexedBooks())
	})
}

func TestConfigInit(t *testing.T) {
	isolate(t)
	root := t.TempDir()

	// When: creating the library config twice
	_, err := execute(t, "config", "init", "--library", root)
	require.NoError(t, err)
	path := filepath.Join(root, ".shelf.yaml")
	require.FileExists(t, path)
	require.NoError(t, os.WriteFile(path, []byte("# mine\n"), 0o644))

	out, err := execute(t, "config", "init", "--library", root)

	// Then: the second run keeps the existing file
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# mine\n", string(data))
}

func TestConfigShow_JSON(t *testing.T) {
	root := newTestLibrary(t)

	out, err := execute(t, "config", "show", "--library", root, "--json")

	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	embeddings, ok := cfg["embeddings"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "static", embeddings["provider"])
}
