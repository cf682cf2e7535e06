package attribution

import (
	"context"
	"errors"
	"math"
	"math/rand"
)

// ErrInfeasibleExactShapley is returned when ExactShapley is asked to
// enumerate more than MaxExactK memories (2^k subsets becomes
// prohibitive beyond that).
var ErrInfeasibleExactShapley = errors.New("attribution: exact shapley infeasible for this k")

// MaxExactK is the largest k for which ExactShapley enumerates all 2^k
// subsets.
const MaxExactK = 15

// ValueFunction scores a subset of memories, identified by index into
// the original retrieved-memory slice. It is the out-of-scope
// collaborator (an LLM judge, a retrieval-quality heuristic, ...) that
// Shapley treats as a black box.
type ValueFunction func(ctx context.Context, subset []int) (float64, error)

// factorialTable caches k! for k up to MaxExactK+1; computed once at
// package initialization. ExactShapley, its only user, already bounds k.
var factorialTable = func() [MaxExactK + 2]float64 {
	var t [MaxExactK + 2]float64
	t[0] = 1
	for i := 1; i < len(t); i++ {
		t[i] = t[i-1] * float64(i)
	}
	return t
}()

// ExactShapley computes exact Shapley values for k memories by
// enumerating all 2^k subsets:
//
//	φᵢ += (|S|! · (k−|S|−1)! / k!) · (v(S ∪ {i}) − v(S))
//
// Rejects k > MaxExactK with ErrInfeasibleExactShapley. Every returned
// Result carries Method = MethodExact and Confidence = 1.
func ExactShapley(ctx context.Context, k int, v ValueFunction) ([]Result, error) {
	if k > MaxExactK {
		return nil, ErrInfeasibleExactShapley
	}
	if k == 0 {
		return nil, nil
	}

	numSubsets := 1 << uint(k)
	values := make([]float64, numSubsets)
	for mask := 0; mask < numSubsets; mask++ {
		subset := subsetFromMask(mask, k)
		val, err := v(ctx, subset)
		if err != nil {
			return nil, err
		}
		values[mask] = val
	}

	phi := make([]float64, k)
	kFact := factorialTable[k]
	for i := 0; i < k; i++ {
		bit := 1 << uint(i)
		for mask := 0; mask < numSubsets; mask++ {
			if mask&bit != 0 {
				continue // enumerate S not containing i
			}
			sSize := bits(mask)
			weight := factorialTable[sSize] * factorialTable[k-sSize-1] / kFact
			withI := mask | bit
			phi[i] += weight * (values[withI] - values[mask])
		}
	}

	results := make([]Result, k)
	for i, p := range phi {
		results[i] = Result{Score: p, RawScore: p, Method: MethodExact, Confidence: 1.0}
	}
	return results, nil
}

// TMCShapleyOptions configures Monte-Carlo permutation sampling.
type TMCShapleyOptions struct {
	// Samples is the number of random permutations walked (default 100).
	Samples int
	// Seed makes permutation sampling deterministic when non-zero.
	Seed int64
}

func (o TMCShapleyOptions) withDefaults() TMCShapleyOptions {
	if o.Samples == 0 {
		o.Samples = 100
	}
	return o
}

// TMCShapley approximates Shapley values by sampling random permutations
// of the k memories, walking each permutation while accumulating
// marginal contributions, and averaging per memory. Confidence is
// 1/(1 + σ̂/√m) where σ̂ is the sample standard error of the marginals
// observed for that memory and m is the number of samples so far.
//
// Every returned Result carries Method = MethodApprox — the reference
// implementation's mislabeling of approximate results as "exact" is a
// known bug (spec.md §9) that this implementation does not preserve.
func TMCShapley(ctx context.Context, k int, v ValueFunction, opts TMCShapleyOptions) ([]Result, error) {
	if k == 0 {
		return nil, nil
	}
	opts = opts.withDefaults()
	rng := rand.New(rand.NewSource(seedOrTime(opts.Seed)))

	sums := make([]float64, k)
	sumSquares := make([]float64, k)
	counts := make([]int, k)

	emptyValue, err := v(ctx, nil)
	if err != nil {
		return nil, err
	}

	for s := 0; s < opts.Samples; s++ {
		select {
		case <-ctx.Done():
			return finishTMC(sums, sumSquares, counts), nil
		default:
		}

		perm := rng.Perm(k)
		prevValue := emptyValue
		var included []int
		for _, idx := range perm {
			included = append(included, idx)
			val, err := v(ctx, included)
			if err != nil {
				return nil, err
			}
			marginal := val - prevValue
			sums[idx] += marginal
			sumSquares[idx] += marginal * marginal
			counts[idx]++
			prevValue = val
		}
	}

	return finishTMC(sums, sumSquares, counts), nil
}

func finishTMC(sums, sumSquares []float64, counts []int) []Result {
	k := len(sums)
	results := make([]Result, k)
	for i := 0; i < k; i++ {
		if counts[i] == 0 {
			results[i] = Result{Method: MethodApprox, Confidence: 0}
			continue
		}
		mean := sums[i] / float64(counts[i])
		var variance float64
		if counts[i] > 1 {
			variance = sumSquares[i]/float64(counts[i]) - mean*mean
			if variance < 0 {
				variance = 0
			}
		}
		stderr := math.Sqrt(variance) / math.Sqrt(float64(counts[i]))
		confidence := 1.0 / (1.0 + stderr/math.Sqrt(float64(counts[i])))
		results[i] = Result{
			Score:      mean,
			RawScore:   mean,
			Method:     MethodApprox,
			Confidence: confidence,
		}
	}
	return results
}

func subsetFromMask(mask, k int) []int {
	subset := make([]int, 0, k)
	for i := 0; i < k; i++ {
		if mask&(1<<uint(i)) != 0 {
			subset = append(subset, i)
		}
	}
	return subset
}

func bits(mask int) int {
	count := 0
	for mask != 0 {
		mask &= mask - 1
		count++
	}
	return count
}
