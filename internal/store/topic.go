package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/shelf/internal/chunk"
	shelferrors "github.com/Aman-CERP/shelf/internal/errors"
	"github.com/Aman-CERP/shelf/internal/manifest"
)

// TopicIndex pairs a vector index with its chunk list. Vector N embeds
// Chunks[N]; every mutation keeps the two the same length.
type TopicIndex struct {
	Vectors *VectorIndex
	Chunks  []chunk.Chunk
	Model   string
	BuiltAt time.Time
}

// NewTopicIndex creates an empty topic index for vectors of the given model.
func NewTopicIndex(model string, opts Options) (*TopicIndex, error) {
	v, err := NewVectorIndex(opts)
	if err != nil {
		return nil, err
	}
	return &TopicIndex{Vectors: v, Chunks: []chunk.Chunk{}, Model: model}, nil
}

// Dir returns the index directory of a topic.
func Dir(dataDir, topicID string) string {
	return filepath.Join(dataDir, TopicsDir, topicID)
}

// Append adds chunks and their vectors in lock-step. Chunk indices are
// rewritten to the positions of their vectors.
func (t *TopicIndex) Append(chunks []chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return shelferrors.Newf(shelferrors.ErrCodeIndexFailed,
			"chunk and vector counts differ: %d chunks, %d vectors", len(chunks), len(vectors))
	}
	if err := t.Vectors.Append(vectors); err != nil {
		return shelferrors.Wrap(shelferrors.ErrCodeIndexFailed, err)
	}
	base := len(t.Chunks)
	for i, c := range chunks {
		c.Index = base + i
		t.Chunks = append(t.Chunks, c)
	}
	return nil
}

// Len returns the number of chunks.
func (t *TopicIndex) Len() int {
	return len(t.Chunks)
}

// Stamp describes the index as it would be saved.
func (t *TopicIndex) Stamp() Stamp {
	return Stamp{
		Model:      t.Model,
		Dimensions: t.Vectors.Dimensions(),
		Metric:     t.Vectors.Metric(),
		Count:      len(t.Chunks),
		BuiltAt:    t.BuiltAt,
	}
}

// BookIDs returns the distinct books with chunks in the index.
func (t *TopicIndex) BookIDs() map[string]int {
	out := make(map[string]int)
	for _, c := range t.Chunks {
		out[c.BookID]++
	}
	return out
}

// WithoutBooks returns a new index holding every chunk whose book is not in
// drop. Surviving vectors are copied from the old graph, never re-embedded.
func (t *TopicIndex) WithoutBooks(drop map[string]bool) (*TopicIndex, error) {
	opts := t.Vectors.opts
	out, err := NewTopicIndex(t.Model, opts)
	if err != nil {
		return nil, err
	}

	var keep []chunk.Chunk
	var vecs [][]float32
	for pos, c := range t.Chunks {
		if drop[c.BookID] {
			continue
		}
		vec, ok := t.Vectors.Vector(pos)
		if !ok {
			return nil, shelferrors.Newf(shelferrors.ErrCodeIndexCorrupt,
				"vector %d missing from index", pos)
		}
		c.Index = len(keep)
		keep = append(keep, c)
		vecs = append(vecs, vec)
	}
	if len(keep) == 0 {
		return out, nil
	}
	if err := out.Append(keep, vecs); err != nil {
		return nil, err
	}
	return out, nil
}

// Search returns the k nearest chunks.
func (t *TopicIndex) Search(query []float32, k int) ([]Hit, error) {
	return t.Vectors.Search(query, k)
}

// Save writes vectors, chunks and stamp into dir. The stamp is written last,
// so a crash leaves either the old stamp (caught by the count check on load)
// or a complete index.
func (t *TopicIndex) Save(dir string) error {
	if t.Vectors.Len() != len(t.Chunks) {
		return shelferrors.Newf(shelferrors.ErrCodeIndexCorrupt,
			"refusing to save: %d vectors, %d chunks", t.Vectors.Len(), len(t.Chunks))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return shelferrors.IOError("failed to create index directory", err)
	}
	if t.BuiltAt.IsZero() {
		t.BuiltAt = time.Now().UTC()
	}

	vectorsPath := filepath.Join(dir, VectorsFile)
	if len(t.Chunks) > 0 {
		if err := t.Vectors.Save(vectorsPath); err != nil {
			return shelferrors.IOError("failed to save vectors", err)
		}
	} else if err := os.Remove(vectorsPath); err != nil && !os.IsNotExist(err) {
		return shelferrors.IOError("failed to remove vectors", err)
	}

	if err := writeJSON(filepath.Join(dir, ChunksFile), t.Chunks); err != nil {
		return shelferrors.IOError("failed to save chunks", err)
	}
	if err := writeJSON(filepath.Join(dir, StampFile), t.Stamp()); err != nil {
		return shelferrors.IOError("failed to save index stamp", err)
	}
	return nil
}

// Exists reports whether dir holds a saved index.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, StampFile))
	return err == nil
}

// ReadStamp reads only the stamp of the index in dir.
func ReadStamp(dir string) (Stamp, error) {
	var s Stamp
	data, err := os.ReadFile(filepath.Join(dir, StampFile))
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, shelferrors.New(shelferrors.ErrCodeIndexCorrupt, "unreadable index stamp", err)
	}
	return s, nil
}

// LoadTopicIndex reads the index in dir. The vector count must equal the
// chunk count and the stamp count.
func LoadTopicIndex(dir string, m, efSearch int) (*TopicIndex, error) {
	stamp, err := ReadStamp(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, shelferrors.New(shelferrors.ErrCodeFileNotFound,
				fmt.Sprintf("no index in %s", dir), err).
				WithSuggestion("run 'shelf index'")
		}
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, ChunksFile))
	if err != nil {
		return nil, shelferrors.New(shelferrors.ErrCodeIndexCorrupt, "missing chunk list", err)
	}
	var chunks []chunk.Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, shelferrors.New(shelferrors.ErrCodeIndexCorrupt, "unreadable chunk list", err)
	}
	if chunks == nil {
		chunks = []chunk.Chunk{}
	}

	opts := Options{Dimensions: stamp.Dimensions, Metric: stamp.Metric, M: m, EfSearch: efSearch}
	var vectors *VectorIndex
	if len(chunks) == 0 && stamp.Count == 0 {
		vectors, err = NewVectorIndex(opts)
	} else {
		vectors, err = LoadVectorIndex(filepath.Join(dir, VectorsFile), opts)
	}
	if err != nil {
		return nil, shelferrors.New(shelferrors.ErrCodeIndexCorrupt, "unreadable vector index", err)
	}

	if vectors.Len() != len(chunks) || stamp.Count != len(chunks) {
		return nil, shelferrors.Newf(shelferrors.ErrCodeIndexCorrupt,
			"index in %s is inconsistent: %d vectors, %d chunks, stamp says %d",
			dir, vectors.Len(), len(chunks), stamp.Count).
			WithSuggestion("run 'shelf index --full'")
	}

	return &TopicIndex{Vectors: vectors, Chunks: chunks, Model: stamp.Model, BuiltAt: stamp.BuiltAt}, nil
}

// Remove deletes the index directory of a topic.
func Remove(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return shelferrors.IOError("failed to remove topic index", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return manifest.WriteFileAtomic(path, append(data, '\n'))
}
