package faceid

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Vector is an embedding widened to float64 with its L2 norm precomputed,
// so the gallery pays the conversion once per sample instead of once per query.
type Vector struct {
	Values []float64
	Norm   float64
}

// NewVector widens e and computes its norm.
func NewVector(e Embedding) Vector {
	values := e.Float64()
	return Vector{Values: values, Norm: floats.Norm(values, 2)}
}

// IsZero reports a degenerate vector whose cosine similarity is undefined.
func (v Vector) IsZero() bool {
	return v.Norm == 0
}

// Cosine returns dot(a,b)/(|a||b|) clamped to [-1, 1]. A zero-norm or
// mismatched operand, or a non-finite result, yields 0 so callers fail closed.
func Cosine(a, b Vector) float64 {
	if len(a.Values) != len(b.Values) || len(a.Values) == 0 || a.IsZero() || b.IsZero() {
		return 0
	}
	sim := floats.Dot(a.Values, b.Values) / (a.Norm * b.Norm)
	if math.IsNaN(sim) {
		return 0
	}
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// CosineSimilarity is Cosine for raw embeddings.
func CosineSimilarity(a, b Embedding) float64 {
	return Cosine(NewVector(a), NewVector(b))
}
