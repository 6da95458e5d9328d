package vector

// CosineDistance returns the cosine distance between two normalized vectors:
// 0 for identical, 1 for orthogonal, 2 for opposite.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot
}

// SimilarityFromDistance converts a cosine distance to a similarity score
// clamped to [0,1]. Distances above 1 (orthogonal to opposite) all map to 0;
// the clamp is lossy on purpose, matching how scores are reported to callers.
func SimilarityFromDistance(d float64) float64 {
	s := 1 - d
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
