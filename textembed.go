package textembed

import (
	"errors"
	"math"
)

// Version of the library
const Version = "v0.1.0"

// ErrDimMismatch is returned when two vectors of different length are compared.
var ErrDimMismatch = errors.New("embedding dimensions differ")

// Embedding is a dense text vector produced by a model forward pass.
type Embedding []float32

// Dim returns the number of components.
func (e Embedding) Dim() int { return len(e) }

// Dot returns the inner product of e and o.
func (e Embedding) Dot(o Embedding) (float32, error) {
	if len(e) != len(o) {
		return 0, ErrDimMismatch
	}
	var sum float32
	for i := range e {
		sum += e[i] * o[i]
	}
	return sum, nil
}

// Norm returns the L2 norm.
func (e Embedding) Norm() float32 {
	var sum float64
	for _, v := range e {
		sum += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sum))
}

// Cosine returns the cosine similarity of e and o. Zero vectors have
// similarity 0 with everything.
func (e Embedding) Cosine(o Embedding) (float32, error) {
	dot, err := e.Dot(o)
	if err != nil {
		return 0, err
	}
	n := e.Norm() * o.Norm()
	if n == 0 {
		return 0, nil
	}
	return dot / n, nil
}

// Normalize returns an L2-normalized copy of e. A zero vector is returned
// unchanged.
func (e Embedding) Normalize() Embedding {
	out := make(Embedding, len(e))
	copy(out, e)
	n := e.Norm()
	if n == 0 {
		return out
	}
	for i := range out {
		out[i] /= n
	}
	return out
}
