package vector_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlabs/cortex-engine-go/pkg/vector"
)

func TestCosineIdentical(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	c, err := vector.Cosine(a, a)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c, 1e-9)
}

func TestCosineOrthogonal(t *testing.T) {
	a := []float32{1, 0, 0, 0}
	b := []float32{0, 1, 0, 0}
	c, err := vector.Cosine(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, c, 1e-9)
}

func TestCosineZeroVectorNoNaN(t *testing.T) {
	a := []float32{0, 0, 0, 0}
	b := []float32{1, 2, 3, 4}
	c, err := vector.Cosine(a, b)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c)

	c, err = vector.Cosine(a, a)
	require.NoError(t, err)
	assert.Equal(t, 0.0, c)
}

func TestCosineDimensionMismatch(t *testing.T) {
	_, err := vector.Cosine([]float32{1, 2}, []float32{1, 2, 3})
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestNormalizeProducesUnitNorm(t *testing.T) {
	v := []float32{3, 4, 0}
	n := vector.Normalize(v)
	assert.True(t, vector.IsUnitNorm(n, 1e-6))
}

func TestNormalizeZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	n := vector.Normalize(v)
	assert.Equal(t, v, n)
}

func TestDotDimensionMismatch(t *testing.T) {
	_, err := vector.Dot([]float32{1}, []float32{1, 2})
	assert.ErrorIs(t, err, vector.ErrDimensionMismatch)
}

func TestLargeVectorSummationStable(t *testing.T) {
	// Exercise the Kahan-summation path (d >= 256) and confirm the norm
	// of a unit-ish vector stays close to sqrt(d)*component.
	d := 384
	v := make([]float32, d)
	for i := range v {
		v[i] = 0.05
	}
	n := vector.Norm(v)
	assert.InDelta(t, math.Sqrt(float64(d))*0.05, n, 1e-6)
}
