package embed

import (
	"math"

	"github.com/coder/hnsw"
)

func vectorMagnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x * x)
	}
	return math.Sqrt(sum)
}

// cosineSimilarity scores a pair the way the topic index does.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	return 1 - float64(hnsw.CosineDistance(a, b))
}
