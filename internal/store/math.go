package store

import (
	"math"
	"sort"
)

// normalizeInPlace scales v to unit length.
func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// isZero reports whether v has no direction.
func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// sortHits orders by distance, then position for ties. NaN distances sort last.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		di, dj := math.IsNaN(float64(hits[i].Distance)), math.IsNaN(float64(hits[j].Distance))
		if di != dj {
			return dj
		}
		if !di && hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Position < hits[j].Position
	})
}
