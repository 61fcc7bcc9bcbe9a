package embedding

import "math"

// Similarity computes the cosine similarity of two vectors, clamped to
// [0, 1]. It returns 0.0 when either vector has zero magnitude instead of
// failing, and 0.0 for mismatched lengths (vectors from different model
// configurations are not comparable).
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	magnitude := math.Sqrt(magA) * math.Sqrt(magB)
	if magnitude == 0 {
		return 0.0
	}

	sim := dot / magnitude
	if sim < 0 {
		return 0.0
	}
	if sim > 1 {
		return 1.0
	}
	return sim
}
