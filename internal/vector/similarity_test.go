package vector

import (
	"math"
	"testing"
)

func TestCosineDistance(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	if d := CosineDistance(a, a); math.Abs(d) > 1e-6 {
		t.Errorf("identical vectors: distance = %f, want 0", d)
	}
	if d := CosineDistance(a, b); math.Abs(d-1) > 1e-6 {
		t.Errorf("orthogonal vectors: distance = %f, want 1", d)
	}
	neg := []float32{-1, 0, 0}
	if d := CosineDistance(a, neg); math.Abs(d-2) > 1e-6 {
		t.Errorf("opposite vectors: distance = %f, want 2", d)
	}
}

func TestCosineDistanceMismatch(t *testing.T) {
	if d := CosineDistance([]float32{1, 0}, []float32{1, 0, 0}); d != 1 {
		t.Errorf("length mismatch: distance = %f, want 1", d)
	}
	if d := CosineDistance(nil, nil); d != 1 {
		t.Errorf("empty vectors: distance = %f, want 1", d)
	}
}

func TestSimilarityFromDistance(t *testing.T) {
	cases := []struct {
		distance float64
		want     float64
	}{
		{0, 1},
		{0.4, 0.6},
		{1, 0},
		{1.8, 0}, // clamped: distances past 1 all read as zero similarity
		{-0.2, 1},
	}
	for _, c := range cases {
		got := SimilarityFromDistance(c.distance)
		if math.Abs(got-c.want) > 1e-9 {
			t.Errorf("SimilarityFromDistance(%g) = %g, want %g", c.distance, got, c.want)
		}
	}
}
