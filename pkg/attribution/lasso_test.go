package attribution_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cortexlabs/cortex-engine-go/pkg/attribution"
)

// Scenario D from spec.md §8: third memory is irrelevant, so with a
// strong enough regularizer its weight should be driven near zero
// while the other two remain non-zero.
func TestLassoSparsityScenarioD(t *testing.T) {
	z := [][]float64{
		{1, 0, 0},
		{1, 1, 0},
		{0, 1, 0},
		{1, 0, 1},
		{0, 1, 1},
		{1, 1, 1},
		{0, 0, 0},
		{1, 0, 0},
	}
	// y depends only on features 0 and 1; feature 2 is noise.
	y := []float64{20, 35, 15, 21, 16, 36, 0, 20}

	w := attribution.LassoFit(z, y, attribution.LassoOptions{Lambda: 2.0})

	assert.Less(t, w[2], 0.01)
	assert.Greater(t, w[0], 0.0)
	assert.Greater(t, w[1], 0.0)
}

func TestLassoZeroColumnsReturnsZeroWeights(t *testing.T) {
	z := [][]float64{{0, 0}, {0, 0}, {0, 0}}
	y := []float64{1, 2, 3}

	w := attribution.LassoFit(z, y, attribution.LassoOptions{Lambda: 0.1})
	assert.Equal(t, []float64{0, 0}, w)
}

func TestLassoEmptyInput(t *testing.T) {
	w := attribution.LassoFit(nil, nil, attribution.LassoOptions{})
	assert.Nil(t, w)
}

func TestLassoConvergesWithinIterationBudget(t *testing.T) {
	z := [][]float64{
		{1, 0}, {0, 1}, {1, 1}, {2, 0}, {0, 2},
	}
	y := []float64{1, 1, 2, 2, 2}
	w := attribution.LassoFit(z, y, attribution.LassoOptions{Lambda: 0.01, MaxIterations: 5000})
	assert.Len(t, w, 2)
}
