package memory

import "math"

// CosineSimilarity computes the cosine similarity between two vectors.
//
// Returns a value in [-1, 1], or 0 if the vectors differ in length or either
// has zero norm. Scores are always computed from raw vectors; ranking boosts
// are applied afterwards so cached embeddings never carry boosted values.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizeVector scales v to unit length (L2 norm). A zero-norm vector is
// returned unchanged.
func NormalizeVector(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}

	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// AverageVectors returns the normalized element-wise mean of two vectors.
// If the dimensions differ, the first vector is returned unchanged.
func AverageVectors(a, b []float64) []float64 {
	if len(a) != len(b) {
		return a
	}
	out := make([]float64, len(a))
	for i := range a {
		out[i] = (a[i] + b[i]) / 2.0
	}
	return NormalizeVector(out)
}
