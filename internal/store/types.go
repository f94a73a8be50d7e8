// Package store persists one vector index per topic next to the chunk
// metadata it describes, plus a SQLite cache of chunk embeddings.
package store

import (
	"fmt"
	"strings"
	"time"
)

// File names inside a topic index directory.
const (
	VectorsFile = "vectors.hnsw"
	ChunksFile  = "chunks.json"
	StampFile   = "index.json"
)

// TopicsDir is the directory under the data dir holding one directory per topic.
const TopicsDir = "topics"

// Metric selects the distance function of an index.
type Metric string

const (
	// MetricCosine is cosine distance, 1 - cos(a, b).
	MetricCosine Metric = "cosine"
	// MetricL2 is Euclidean distance.
	MetricL2 Metric = "l2"
)

// ParseMetric converts a config value to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricCosine, "cos", "":
		return MetricCosine, nil
	case MetricL2, "euclidean":
		return MetricL2, nil
	default:
		return "", fmt.Errorf("unknown metric %q (want cosine or l2)", s)
	}
}

// Score converts a distance to a similarity in the metric's space.
// Cosine: 1 - d, the cosine similarity. L2: 1 / (1 + d).
func (m Metric) Score(distance float32) float32 {
	if m == MetricL2 {
		return 1.0 / (1.0 + distance)
	}
	return 1.0 - distance
}

// Hit is one nearest-neighbour result. Position indexes the chunk list.
type Hit struct {
	Position int
	Distance float32
	Score    float32
}

// Stamp records how a topic index was built.
type Stamp struct {
	Model      string    `json:"model"`
	Dimensions int       `json:"dimensions"`
	Metric     Metric    `json:"metric"`
	Count      int       `json:"count"`
	BuiltAt    time.Time `json:"built_at"`
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'shelf index --full')", e.Expected, e.Got)
}

// Options configures a new vector index.
type Options struct {
	Dimensions int
	Metric     Metric
	M          int // max neighbours per node, default 16
	EfSearch   int // search breadth, default 64
}

func (o Options) withDefaults() Options {
	if o.Metric == "" {
		o.Metric = MetricCosine
	}
	if o.M <= 0 {
		o.M = 16
	}
	if o.EfSearch <= 0 {
		o.EfSearch = 64
	}
	return o
}
