package attribution

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// ContextCiteOptions configures the ablation → oracle → LASSO → LDS
// pipeline. Zero values fall back to the documented defaults.
type ContextCiteOptions struct {
	// NumSamples is the number of ablation masks generated (default 64).
	NumSamples int
	// LassoLambda is the L1 regularization strength passed to LassoFit
	// (default 0.1).
	LassoLambda float64
	// MinConfidence flags a fit as low-confidence when LDS falls below
	// it (default 0.8). Used only to annotate results, not to fail.
	MinConfidence float64
	// Seed makes mask generation deterministic when non-zero.
	Seed int64
	// MaxRetries bounds oracle-call retries with exponential backoff
	// (default 3).
	MaxRetries int
	// BaseBackoff is the initial retry delay (default 50ms), doubled on
	// each subsequent retry.
	BaseBackoff time.Duration
}

func (o ContextCiteOptions) withDefaults() ContextCiteOptions {
	// generateMasks always writes an all-zeros mask at index 0 and an
	// all-ones mask at index 1, so anything below 2 samples is not a
	// smaller ablation, it's out of range. A misconfigured explicit 1
	// falls back to the default, the same as an unset 0, rather than
	// panicking mid-attribution.
	if o.NumSamples < 2 {
		o.NumSamples = 64
	}
	if o.LassoLambda == 0 {
		o.LassoLambda = 0.1
	}
	if o.MinConfidence == 0 {
		o.MinConfidence = 0.8
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.BaseBackoff == 0 {
		o.BaseBackoff = 50 * time.Millisecond
	}
	return o
}

// ContextCite produces a sparse linear surrogate of the oracle's
// response log-probability as a function of which retrieved memories
// are present, and reads memory-level attribution off its fitted
// weights.
//
// Every returned Result carries Method = MethodContextCite and
// Confidence = LDS, the Pearson correlation between the surrogate's
// predictions and the true oracle log-probs (the surrogate's
// self-reported confidence). An empty memory set fails with
// ErrEmptyRetrievedSet.
//
// If ctx's deadline elapses before all oracle calls complete,
// ContextCite fits LASSO on whatever samples were collected and flags
// the result with Confidence below MinConfidence rather than failing.
func ContextCite(ctx context.Context, oracle LogProbOracle, query, response string, memories []string, opts ContextCiteOptions) ([]Result, error) {
	k := len(memories)
	if k == 0 {
		return nil, ErrEmptyRetrievedSet
	}
	opts = opts.withDefaults()
	t0 := time.Now()

	rng := rand.New(rand.NewSource(seedOrTime(opts.Seed)))
	masks := generateMasks(k, opts.NumSamples, rng)

	z := make([][]float64, 0, len(masks))
	y := make([]float64, 0, len(masks))

	for _, mask := range masks {
		select {
		case <-ctx.Done():
			// Deadline elapsed: fit on the partial sample and flag low
			// confidence rather than failing outright.
			return finishContextCite(k, z, y, opts, t0, true)
		default:
		}

		selected := selectMemories(memories, mask)
		logProb, err := callOracleWithBackoff(ctx, oracle, query, response, selected, mask, opts)
		if err != nil {
			// Oracle exhausted its retries for this mask: skip the
			// sample rather than corrupting the design matrix, and
			// continue collecting the rest.
			continue
		}
		z = append(z, maskToRow(mask))
		y = append(y, logProb)
	}

	if len(z) == 0 {
		// Every oracle call failed: return a zero-confidence partial
		// result per the oracle-failure error policy.
		results := make([]Result, k)
		for i := range results {
			results[i] = Result{Method: MethodContextCite, Confidence: 0}
		}
		return results, nil
	}

	return finishContextCite(k, z, y, opts, t0, false)
}

func finishContextCite(k int, z [][]float64, y []float64, opts ContextCiteOptions, t0 time.Time, deadlineElapsed bool) ([]Result, error) {
	w := make([]float64, k)
	if len(z) > 0 {
		w = LassoFit(z, y, LassoOptions{Lambda: opts.LassoLambda})
	}

	pred := make([]float64, len(y))
	for i, row := range z {
		var s float64
		for j, v := range row {
			s += v * w[j]
		}
		pred[i] = s
	}
	lds := pearson(pred, y)
	if deadlineElapsed && lds > opts.MinConfidence {
		// A deadline-truncated fit must never present as high
		// confidence even if the partial correlation happens to be
		// strong; clamp it below the threshold.
		lds = opts.MinConfidence - 1e-6
	}

	elapsedMS := float64(time.Since(t0).Microseconds()) / 1000.0
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		results[i] = Result{
			Score:      w[i],
			RawScore:   w[i],
			Method:     MethodContextCite,
			Confidence: lds,
			ComputeMS:  elapsedMS,
		}
	}
	return results, nil
}

func selectMemories(memories []string, mask []bool) []string {
	selected := make([]string, 0, len(memories))
	for i, m := range memories {
		if mask[i] {
			selected = append(selected, m)
		}
	}
	return selected
}

func callOracleWithBackoff(ctx context.Context, oracle LogProbOracle, query, response string, selected []string, mask []bool, opts ContextCiteOptions) (float64, error) {
	backoff := opts.BaseBackoff
	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		lp, err := oracle.LogProb(ctx, query, response, selected, mask)
		if err == nil {
			return lp, nil
		}
		lastErr = err
		if attempt == opts.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return 0, lastErr
}

// pearson returns the Pearson correlation coefficient between a and b.
// Returns 0 when either series has zero variance.
func pearson(a, b []float64) float64 {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0
	}
	var meanA, meanB float64
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := range a {
		da := a[i] - meanA
		db := b[i] - meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / math.Sqrt(varA*varB)
}

func seedOrTime(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return time.Now().UnixNano()
}
