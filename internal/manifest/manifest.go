// Package manifest reads and writes the library manifest: the JSON record of
// known topics and books and of when each book was last indexed.
//
// The filesystem is the source of truth. The manifest only records what the
// indexer has seen, so a missing manifest is an empty one, not an error.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
)

// SchemaVersion is the manifest layout written by this version.
const SchemaVersion = "2"

// FileName is the manifest file name inside the data directory.
const FileName = "manifest.json"

// ChunkSettings records how the indexed chunks were cut.
type ChunkSettings struct {
	Size     int `json:"size"`
	Overlap  int `json:"overlap"`
	MinWords int `json:"min_words"`
}

// Manifest is the root document.
type Manifest struct {
	SchemaVersion  string        `json:"schema_version"`
	LibraryPath    string        `json:"library_path"`
	EmbeddingModel string        `json:"embedding_model,omitempty"`
	ChunkSettings  ChunkSettings `json:"chunk_settings"`
	GeneratedAt    *time.Time    `json:"generated_at,omitempty"`
	Topics         []*Topic      `json:"topics"`
}

// Topic is a leaf folder of books.
type Topic struct {
	ID          string   `json:"id"`
	Label       string   `json:"label"`
	Path        string   `json:"path"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// ContentHash is the folder digest at the last clean index. Empty means
	// the topic has never been indexed without failures.
	ContentHash   string     `json:"content_hash,omitempty"`
	LastIndexedAt *time.Time `json:"last_indexed_at"`

	Books []*Book `json:"books"`
}

// Book is one file inside a topic folder.
type Book struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Author   string   `json:"author,omitempty"`
	Year     *int     `json:"year"`
	Tags     []string `json:"tags,omitempty"`
	Filename string   `json:"filename"`
	Format   string   `json:"format,omitempty"`

	LastModified  *time.Time `json:"last_modified"`
	LastIndexedAt *time.Time `json:"last_indexed_at"`
	Chunks        int        `json:"chunks,omitempty"`
}

// New returns an empty manifest for the library at libraryPath.
func New(libraryPath string) *Manifest {
	return &Manifest{
		SchemaVersion: SchemaVersion,
		LibraryPath:   libraryPath,
		Topics:        []*Topic{},
	}
}

// Path returns the manifest location inside dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Load reads the manifest at path. A missing file yields an empty manifest.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(""), nil
	}
	if err != nil {
		return nil, shelferrors.New(shelferrors.ErrCodeFileNotFound,
			fmt.Sprintf("failed to read manifest %s", path), err)
	}
	return Parse(data)
}

// Parse decodes a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, shelferrors.New(shelferrors.ErrCodeManifestCorrupt,
			"manifest is not valid JSON", err).
			WithSuggestion("run 'shelf metadata generate' to rebuild it from the library")
	}
	if m.SchemaVersion == "" {
		return nil, shelferrors.New(shelferrors.ErrCodeManifestCorrupt,
			"manifest has no schema_version", nil).
			WithSuggestion("run 'shelf migrate' to upgrade a legacy manifest")
	}
	if m.Topics == nil {
		m.Topics = []*Topic{}
	}
	for _, t := range m.Topics {
		if t.Books == nil {
			t.Books = []*Book{}
		}
	}
	return &m, nil
}

// Save writes the manifest atomically: the document goes to a temp file in
// the same directory, is synced, then renamed over path.
func (m *Manifest) Save(path string) error {
	m.sort()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// WriteFileAtomic replaces path with data via temp file and rename.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// sort orders topics by path and books by filename so saved manifests diff cleanly.
func (m *Manifest) sort() {
	sort.SliceStable(m.Topics, func(i, j int) bool { return m.Topics[i].Path < m.Topics[j].Path })
	for _, t := range m.Topics {
		sort.SliceStable(t.Books, func(i, j int) bool { return t.Books[i].Filename < t.Books[j].Filename })
	}
}

// BookCount returns the number of books across all topics.
func (m *Manifest) BookCount() int {
	n := 0
	for _, t := range m.Topics {
		n += len(t.Books)
	}
	return n
}
