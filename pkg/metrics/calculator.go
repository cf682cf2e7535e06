// Package metrics implements the portfolio metrics engine (§4.9):
// pure functions over the persisted attribution record — token
// economics, attribution concentration, signal-to-noise, contradiction
// risk, and staleness — the Bloomberg-terminal-style aggregates the
// dashboard renders per agent and globally.
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/cortexlabs/cortex-engine-go/pkg/vector"
)

// PriceConfig is the token-pricing input every $-denominated metric
// takes; it mirrors storage.AgentCostConfig so callers can pass either
// a per-agent override or the global default straight through.
type PriceConfig struct {
	InputTokenCost  float64
	OutputTokenCost float64
	QueriesPerDay   float64
}

// TransactionCost is Cost(ξ) = π_in·|C| + π_out·|r|.
type TransactionCost struct {
	TransactionID string
	InputCost     float64
	OutputCost    float64
	TotalCost     float64
}

// ComputeTransactionCost prices one interaction's input and output
// token counts.
func ComputeTransactionCost(transactionID string, inputTokens, outputTokens int, price PriceConfig) TransactionCost {
	ic := float64(inputTokens) * price.InputTokenCost
	oc := float64(outputTokens) * price.OutputTokenCost
	return TransactionCost{
		TransactionID: transactionID,
		InputCost:     ic,
		OutputCost:    oc,
		TotalCost:     ic + oc,
	}
}

// MemoryPnL is one memory's revenue-minus-cost accounting: revenue is
// approximated by total attribution earned across every transaction it
// was retrieved into, cost by its per-retrieval token price.
type MemoryPnL struct {
	MemoryID string
	Revenue  float64
	Cost     float64
	PnL      float64
	ROI      float64
}

// ComputeMemoryPnL prices a single memory's revenue and cost. Revenue
// is the memory's accumulated total attribution; cost is
// tokens × input price × retrieval count.
func ComputeMemoryPnL(memoryID string, totalAttribution float64, retrievalCount int64, tokens int, price PriceConfig) MemoryPnL {
	revenue := totalAttribution
	cost := float64(tokens) * price.InputTokenCost * float64(retrievalCount)
	pnl := revenue - cost
	var roi float64
	if cost > 0 {
		roi = revenue / cost
	}
	return MemoryPnL{MemoryID: memoryID, Revenue: revenue, Cost: cost, PnL: pnl, ROI: roi}
}

// MemoryROIInput is one memory's inputs to the sorted ROI ranking.
type MemoryROIInput struct {
	MemoryID        string
	MeanAttribution float64
	MonthlyCost     float64
}

// MemoryROI is one ranked ROI row: (mean attribution / monthly token
// cost) · 1000, sorted descending. A zero monthly cost yields ROI 0
// rather than +Inf.
type MemoryROI struct {
	MemoryID string
	ROI      float64
}

// RankMemoryROI computes and descending-sorts (mean attribution /
// monthly token cost) · 1000 for every memory.
func RankMemoryROI(inputs []MemoryROIInput) []MemoryROI {
	out := make([]MemoryROI, len(inputs))
	for i, in := range inputs {
		var roi float64
		if in.MonthlyCost > 0 {
			roi = (in.MeanAttribution / in.MonthlyCost) * 1000
		}
		out[i] = MemoryROI{MemoryID: in.MemoryID, ROI: roi}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ROI > out[j].ROI })
	return out
}

// MemoryTokenCost is Σ tokens(m)·price_in·queries_per_day over the
// given memories.
func MemoryTokenCost(tokenCounts []int, price PriceConfig) float64 {
	var total float64
	for _, t := range tokenCounts {
		total += float64(t) * price.InputTokenCost * price.QueriesPerDay
	}
	return total
}

// TokenWasteRate is the percent of retrieved tokens belonging to
// memories whose |score| falls below threshold (default 0.01 per
// §4.9). scores and tokenCounts must be positionally aligned.
func TokenWasteRate(scores []float64, tokenCounts []int, threshold float64) float64 {
	if len(scores) == 0 || len(tokenCounts) == 0 {
		return 0
	}
	if threshold == 0 {
		threshold = 0.01
	}
	var total, wasted float64
	for i, s := range scores {
		if i >= len(tokenCounts) {
			break
		}
		t := float64(tokenCounts[i])
		total += t
		if math.Abs(s) < threshold {
			wasted += t
		}
	}
	if total == 0 {
		return 0
	}
	return wasted / total * 100
}

// GiniCoefficient measures attribution concentration:
//
//	G = Σᵢⱼ |xᵢ − xⱼ| / (2n²·mean(x))
//
// Returns 0 on empty input or zero mean (perfectly equal by
// convention, not undefined).
func GiniCoefficient(scores []float64) float64 {
	n := len(scores)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0
	}
	var diffs float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			diffs += math.Abs(scores[i] - scores[j])
		}
	}
	return diffs / (2 * float64(n) * float64(n) * mean)
}

// SNRdB is the memory signal-to-noise ratio in decibels:
//
//	SNR_dB = 10·log10( Σ(sᵢ² : sᵢ>0) / (Σ(sᵢ² : sᵢ≤0) + ε) ), ε = 1e-10.
func SNRdB(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	const epsilon = 1e-10
	var signal, noise float64
	for _, s := range scores {
		if s > 0 {
			signal += s * s
		} else {
			noise += s * s
		}
	}
	noise += epsilon
	return 10 * math.Log10(signal/noise)
}

// ContradictionRisk is CRS = 1 − Π(1 − pᵢⱼ) over pairwise contradiction
// probabilities.
func ContradictionRisk(probabilities []float64) float64 {
	if len(probabilities) == 0 {
		return 0
	}
	product := 1.0
	for _, p := range probabilities {
		product *= 1 - p
	}
	return 1 - product
}

// RedundancyMemory is one memory's inputs to RedundancyTax: its
// embedding and token count.
type RedundancyMemory struct {
	MemoryID  string
	Embedding []float32
	Tokens    int
}

// RedundancyTax sums min(tokens(mᵢ), tokens(mⱼ)) over every pair whose
// cosine similarity exceeds simThreshold (default 0.92), then prices
// that sum as a monthly cost: sum · price · queries_per_day · 30 ·
// coRetrievalRate. The 0.3 co-retrieval constant has no derivation in
// the source it was ported from, so it is a caller-supplied knob
// rather than a baked-in literal.
func RedundancyTax(memories []RedundancyMemory, price PriceConfig, simThreshold, coRetrievalRate float64) (redundantTokens int, monthlyCost float64) {
	if simThreshold == 0 {
		simThreshold = 0.92
	}
	for i := 0; i < len(memories); i++ {
		for j := i + 1; j < len(memories); j++ {
			sim, err := vector.Cosine(memories[i].Embedding, memories[j].Embedding)
			if err != nil || sim <= simThreshold {
				continue
			}
			redundantTokens += minInt(memories[i].Tokens, memories[j].Tokens)
		}
	}
	monthlyCost = float64(redundantTokens) * price.InputTokenCost * price.QueriesPerDay * 30 * coRetrievalRate
	return redundantTokens, monthlyCost
}

// AccuracyDelta is (mean(scoresWith) − mean(scoresWithout)) /
// mean(scoresWithout) · 100 — the percentage lift a memory contributes
// when present versus a baseline population without it.
func AccuracyDelta(scoresWith, scoresWithout []float64) float64 {
	meanWith := mean(scoresWith)
	meanWithout := mean(scoresWithout)
	if meanWithout == 0 {
		return 0
	}
	return (meanWith - meanWithout) / meanWithout * 100
}

// StalenessInput is one memory's access recency and age, as consumed
// by StalenessIndex.
type StalenessInput struct {
	LastAccessedAt time.Time
	CreatedAt      time.Time
}

// StalenessIndex restricts to memories last accessed within the past
// 30 days (the "frequent set") and returns the percent of that set
// created more than windowDays ago (default 90).
func StalenessIndex(memories []StalenessInput, now time.Time, windowDays int) float64 {
	if windowDays == 0 {
		windowDays = 90
	}
	frequentCutoff := now.AddDate(0, 0, -30)
	staleCutoff := now.AddDate(0, 0, -windowDays)

	var frequent, stale int
	for _, m := range memories {
		if m.LastAccessedAt.Before(frequentCutoff) {
			continue
		}
		frequent++
		if m.CreatedAt.Before(staleCutoff) {
			stale++
		}
	}
	if frequent == 0 {
		return 0
	}
	return float64(stale) / float64(frequent) * 100
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
