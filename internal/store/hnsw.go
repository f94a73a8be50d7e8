package store

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndex is an append-only HNSW graph whose node keys are the positions
// 0..Len()-1 of the chunks they embed. Removing vectors means building a new
// index from the survivors.
type VectorIndex struct {
	mu    sync.RWMutex
	graph *hnsw.Graph[uint64]
	opts  Options
}

// NewVectorIndex creates an empty index.
func NewVectorIndex(opts Options) (*VectorIndex, error) {
	opts = opts.withDefaults()
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("vector index needs positive dimensions, got %d", opts.Dimensions)
	}

	graph := hnsw.NewGraph[uint64]()
	switch opts.Metric {
	case MetricCosine:
		graph.Distance = hnsw.CosineDistance
	case MetricL2:
		graph.Distance = hnsw.EuclideanDistance
	default:
		return nil, fmt.Errorf("unknown metric %q", opts.Metric)
	}
	graph.M = opts.M
	graph.EfSearch = opts.EfSearch
	graph.Ml = 0.25

	return &VectorIndex{graph: graph, opts: opts}, nil
}

// Append adds vectors at positions Len(), Len()+1, ...
func (v *VectorIndex) Append(vectors [][]float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, vec := range vectors {
		if len(vec) != v.opts.Dimensions {
			return ErrDimensionMismatch{Expected: v.opts.Dimensions, Got: len(vec)}
		}
	}

	next := uint64(v.graph.Len())
	nodes := make([]hnsw.Node[uint64], len(vectors))
	for i, vec := range vectors {
		cp := make([]float32, len(vec))
		copy(cp, vec)
		if v.opts.Metric == MetricCosine {
			normalizeInPlace(cp)
		}
		nodes[i] = hnsw.MakeNode(next+uint64(i), cp)
	}
	v.graph.Add(nodes...)
	return nil
}

// Search returns up to k nearest positions ordered by distance. Vectors
// without a direction (all zeros) never match under the cosine metric, and a
// zero query matches nothing.
func (v *VectorIndex) Search(query []float32, k int) ([]Hit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(query) != v.opts.Dimensions {
		return nil, ErrDimensionMismatch{Expected: v.opts.Dimensions, Got: len(query)}
	}
	if k <= 0 || v.graph.Len() == 0 {
		return []Hit{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if v.opts.Metric == MetricCosine {
		if isZero(q) {
			return []Hit{}, nil
		}
		normalizeInPlace(q)
	}

	nodes := v.graph.Search(q, k)
	hits := make([]Hit, 0, len(nodes))
	for _, n := range nodes {
		d := v.graph.Distance(q, n.Value)
		if math.IsNaN(float64(d)) || math.IsInf(float64(d), 0) {
			continue
		}
		hits = append(hits, Hit{Position: int(n.Key), Distance: d, Score: v.opts.Metric.Score(d)})
	}
	sortHits(hits)
	return hits, nil
}

// Vector returns a copy of the stored vector at pos.
func (v *VectorIndex) Vector(pos int) ([]float32, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if pos < 0 {
		return nil, false
	}
	vec, ok := v.graph.Lookup(uint64(pos))
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Len returns the number of vectors.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.graph.Len()
}

// Dimensions returns the vector width.
func (v *VectorIndex) Dimensions() int {
	return v.opts.Dimensions
}

// Metric returns the distance metric.
func (v *VectorIndex) Metric() Metric {
	return v.opts.Metric
}

// Save exports the graph to path through a temp file and rename.
func (v *VectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	if err := v.graph.Export(w); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write index file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}
	return nil
}

// LoadVectorIndex imports a graph saved by Save.
func LoadVectorIndex(path string, opts Options) (*VectorIndex, error) {
	v, err := NewVectorIndex(opts)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Import needs an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(file)); err != nil {
		return nil, fmt.Errorf("failed to import graph: %w", err)
	}
	return v, nil
}
