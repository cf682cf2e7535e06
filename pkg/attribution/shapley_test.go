package attribution_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlabs/cortex-engine-go/pkg/attribution"
	"github.com/cortexlabs/cortex-engine-go/pkg/vector"
)

func cosineValueFunction(memories [][]float32, q []float32) attribution.ValueFunction {
	return func(_ context.Context, subset []int) (float64, error) {
		if len(subset) == 0 {
			return 0.3, nil
		}
		var total float64
		for _, i := range subset {
			c, err := vector.Cosine(memories[i], q)
			if err != nil {
				return 0, err
			}
			total += c
		}
		return 0.3 + 0.7*(total/float64(len(subset))), nil
	}
}

// Scenario B: k=3, v(S) = 0.3 + 0.7*mean(cos(mi, q)); efficiency must
// hold to a tight tolerance for exact enumeration.
func TestExactShapleyEfficiencyScenarioB(t *testing.T) {
	memories := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.5, 0.5, 0},
	}
	q := vector.Normalize([]float32{1, 1, 0})
	v := cosineValueFunction(memories, q)

	results, err := attribution.ExactShapley(context.Background(), 3, v)
	require.NoError(t, err)

	var sumPhi float64
	for _, r := range results {
		sumPhi += r.Score
	}

	full, err := v(context.Background(), []int{0, 1, 2})
	require.NoError(t, err)
	empty, err := v(context.Background(), nil)
	require.NoError(t, err)

	assert.InDelta(t, full-empty, sumPhi, 1e-6)
}

// Scenario C: fourth memory orthogonal to both q and r contributes ~0.
// v(S) = 0.3 + 0.7*sum(cos(mi, q))/k uses a fixed divisor, so the
// orthogonal memory adds nothing to any coalition. (Under Scenario B's
// mean-based v it is not a null player: adding it dilutes the mean,
// giving phi4 of about -0.15.)
func TestExactShapleyNullPlayerScenarioC(t *testing.T) {
	memories := [][]float32{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0.7, 0.7, 0, 0},
		{0, 0, 1, 0}, // orthogonal
	}
	q := vector.Normalize([]float32{1, 1, 0, 0})
	v := func(_ context.Context, subset []int) (float64, error) {
		var total float64
		for _, i := range subset {
			c, err := vector.Cosine(memories[i], q)
			if err != nil {
				return 0, err
			}
			total += c
		}
		return 0.3 + 0.7*(total/float64(len(memories))), nil
	}

	results, err := attribution.ExactShapley(context.Background(), 4, v)
	require.NoError(t, err)
	assert.Less(t, math.Abs(results[3].Score), 0.1)
}

func TestExactShapleySymmetry(t *testing.T) {
	// Two memories with identical embeddings contribute identically to
	// every subset, so they must receive equal phi.
	memories := [][]float32{
		{1, 0, 0},
		{1, 0, 0},
		{0, 1, 0},
	}
	q := vector.Normalize([]float32{1, 1, 0})
	v := cosineValueFunction(memories, q)

	results, err := attribution.ExactShapley(context.Background(), 3, v)
	require.NoError(t, err)
	assert.InDelta(t, results[0].Score, results[1].Score, 1e-3)
}

func TestExactShapleyTrueNullPlayer(t *testing.T) {
	// v ignores memory index 1 entirely.
	v := func(_ context.Context, subset []int) (float64, error) {
		var total float64
		for _, i := range subset {
			if i == 0 {
				total += 1.0
			}
			if i == 2 {
				total += 2.0
			}
		}
		return total, nil
	}
	results, err := attribution.ExactShapley(context.Background(), 3, v)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, results[1].Score, 1e-9)
}

func TestExactShapleyInfeasibleAboveMaxK(t *testing.T) {
	v := func(_ context.Context, _ []int) (float64, error) { return 0, nil }
	_, err := attribution.ExactShapley(context.Background(), attribution.MaxExactK+1, v)
	assert.ErrorIs(t, err, attribution.ErrInfeasibleExactShapley)
}

func TestTMCShapleyApproximatesExact(t *testing.T) {
	memories := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.5, 0.5, 0},
	}
	q := vector.Normalize([]float32{1, 1, 0})
	v := cosineValueFunction(memories, q)

	exact, err := attribution.ExactShapley(context.Background(), 3, v)
	require.NoError(t, err)

	approx, err := attribution.TMCShapley(context.Background(), 3, v, attribution.TMCShapleyOptions{
		Samples: 2000,
		Seed:    7,
	})
	require.NoError(t, err)

	for i := range exact {
		assert.InDelta(t, exact[i].Score, approx[i].Score, 0.05)
		assert.Equal(t, attribution.MethodApprox, approx[i].Method)
	}
}

func TestTMCShapleyEfficiency(t *testing.T) {
	memories := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.5, 0.5, 0},
	}
	q := vector.Normalize([]float32{1, 1, 0})
	v := cosineValueFunction(memories, q)

	approx, err := attribution.TMCShapley(context.Background(), 3, v, attribution.TMCShapleyOptions{
		Samples: 500,
		Seed:    3,
	})
	require.NoError(t, err)

	var sumPhi float64
	for _, r := range approx {
		sumPhi += r.Score
	}
	full, _ := v(context.Background(), []int{0, 1, 2})
	empty, _ := v(context.Background(), nil)
	assert.InDelta(t, full-empty, sumPhi, 1e-3)
}
