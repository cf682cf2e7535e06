// Package attribution implements the three causal-attribution engines of
// increasing cost and precision: the closed-form Embedding Attribution
// Score, ContextCite (ablation + sparse regression), and Shapley values
// (exact enumeration and Monte-Carlo sampling).
package attribution

import (
	"time"

	"github.com/cortexlabs/cortex-engine-go/pkg/vector"
)

// Method identifies which attribution engine produced a Score.
type Method string

// Bit-exact with spec.md §6's ScoreType enumeration (storage.ScoreType),
// "approx" included.
const (
	MethodEAS         Method = "eas"
	MethodContextCite Method = "contextcite"
	MethodExact       Method = "exact"
	MethodApprox      Method = "approx"
	MethodCalibrated  Method = "calibrated"
)

// Result is one memory's attribution outcome. score is the field name
// shared across every engine (spec.md §9); Method distinguishes how it
// was produced.
type Result struct {
	Score      float64
	RawScore   float64
	Method     Method
	Confidence float64
	ComputeMS  float64
}

// EAS computes the Embedding Attribution Score for a set of retrieved
// memory embeddings given the query and response embeddings.
//
//	rawᵢ = max(cos(φᵢ, r), 0) · max(cos(φᵢ, q), 0)
//	aᵢ   = rawᵢ / Σⱼ rawⱼ    (or 1/k when Σ = 0)
//
// Scores are non-negative, sum to 1 (or are uniform when every raw term
// is zero), and preserve the input ordering. Complexity is O(k·d).
func EAS(memoryEmbeddings [][]float32, queryEmbedding, responseEmbedding []float32) ([]Result, error) {
	t0 := time.Now()
	k := len(memoryEmbeddings)
	if k == 0 {
		return nil, nil
	}

	raw := make([]float64, k)
	var total float64
	for i, phi := range memoryEmbeddings {
		simR, err := vector.Cosine(phi, responseEmbedding)
		if err != nil {
			return nil, err
		}
		simQ, err := vector.Cosine(phi, queryEmbedding)
		if err != nil {
			return nil, err
		}
		if simR < 0 {
			simR = 0
		}
		if simQ < 0 {
			simQ = 0
		}
		raw[i] = simR * simQ
		total += raw[i]
	}

	elapsedMS := float64(time.Since(t0).Microseconds()) / 1000.0

	results := make([]Result, k)
	if total > 0 {
		for i := range raw {
			results[i] = Result{
				Score:      raw[i] / total,
				RawScore:   raw[i],
				Method:     MethodEAS,
				Confidence: 1.0,
				ComputeMS:  elapsedMS,
			}
		}
		return results, nil
	}

	uniform := 1.0 / float64(k)
	for i := range raw {
		results[i] = Result{
			Score:      uniform,
			RawScore:   raw[i],
			Method:     MethodEAS,
			Confidence: 1.0,
			ComputeMS:  elapsedMS,
		}
	}
	return results, nil
}
