// Package vector provides the numerical primitives shared by every
// attribution algorithm: cosine similarity, dot products, and
// normalization over fixed-dimension float32 embeddings.
package vector

import (
	"errors"
	"math"
)

// ErrDimensionMismatch is returned when two vectors passed to a kernel
// operation have different lengths.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// kahanSumThreshold is the dimension at which Dot and Norm switch from a
// plain accumulator to Kahan summation to bound floating-point error.
const kahanSumThreshold = 256

// sum adds the elements of xs, using Kahan compensated summation once the
// slice is long enough for naive summation error to matter.
func sum(xs []float64) float64 {
	if len(xs) < kahanSumThreshold {
		var total float64
		for _, x := range xs {
			total += x
		}
		return total
	}
	var total, c float64
	for _, x := range xs {
		y := x - c
		t := total + y
		c = (t - total) - y
		total = t
	}
	return total
}

// Dot returns the dot product of a and b. It returns ErrDimensionMismatch
// if the vectors have different lengths.
func Dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	products := make([]float64, len(a))
	for i := range a {
		products[i] = float64(a[i]) * float64(b[i])
	}
	return sum(products), nil
}

// Norm returns the Euclidean (L2) norm of v.
func Norm(v []float32) float64 {
	squares := make([]float64, len(v))
	for i, x := range v {
		squares[i] = float64(x) * float64(x)
	}
	return math.Sqrt(sum(squares))
}

// Cosine returns the cosine similarity between a and b.
//
// When either operand has zero norm, there is no directional
// information and Cosine returns 0 rather than propagating NaN. It
// returns ErrDimensionMismatch for mismatched lengths.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	na, nb := Norm(a), Norm(b)
	if na == 0 || nb == 0 {
		return 0, nil
	}
	d, err := Dot(a, b)
	if err != nil {
		return 0, err
	}
	return d / (na * nb), nil
}

// Normalize returns a unit-norm copy of v. A zero vector is returned
// unchanged (there is no direction to normalize toward).
func Normalize(v []float32) []float32 {
	n := Norm(v)
	if n == 0 {
		out := make([]float32, len(v))
		copy(out, v)
		return out
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// IsUnitNorm reports whether v has unit norm within tolerance tol.
func IsUnitNorm(v []float32, tol float64) bool {
	return math.Abs(Norm(v)-1.0) <= tol
}
