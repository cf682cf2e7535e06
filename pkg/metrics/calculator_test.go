package metrics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cortexlabs/cortex-engine-go/pkg/metrics"
)

var price = metrics.PriceConfig{InputTokenCost: 0.0000015, OutputTokenCost: 0.000002, QueriesPerDay: 10}

func TestComputeTransactionCost(t *testing.T) {
	c := metrics.ComputeTransactionCost("t1", 1000, 200, price)
	assert.InDelta(t, 0.0015, c.InputCost, 1e-9)
	assert.InDelta(t, 0.0004, c.OutputCost, 1e-9)
	assert.InDelta(t, 0.0019, c.TotalCost, 1e-9)
}

func TestComputeMemoryPnLZeroCostGivesZeroROI(t *testing.T) {
	p := metrics.ComputeMemoryPnL("m1", 5.0, 0, 100, price)
	assert.Equal(t, 0.0, p.Cost)
	assert.Equal(t, 0.0, p.ROI)
	assert.Equal(t, 5.0, p.PnL)
}

func TestRankMemoryROISortsDescending(t *testing.T) {
	ranked := metrics.RankMemoryROI([]metrics.MemoryROIInput{
		{MemoryID: "low", MeanAttribution: 0.1, MonthlyCost: 1.0},
		{MemoryID: "high", MeanAttribution: 0.9, MonthlyCost: 1.0},
		{MemoryID: "free", MeanAttribution: 0.5, MonthlyCost: 0},
	})
	assert.Equal(t, "high", ranked[0].MemoryID)
	assert.Equal(t, "low", ranked[1].MemoryID)
	assert.Equal(t, "free", ranked[2].MemoryID)
	assert.Equal(t, 0.0, ranked[2].ROI)
}

func TestTokenWasteRate(t *testing.T) {
	scores := []float64{0.5, 0.001, 0.3, 0.0}
	tokens := []int{100, 100, 100, 100}
	rate := metrics.TokenWasteRate(scores, tokens, 0.01)
	assert.InDelta(t, 50.0, rate, 1e-9)
}

func TestTokenWasteRateEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, metrics.TokenWasteRate(nil, nil, 0.01))
}

func TestGiniCoefficientPerfectEquality(t *testing.T) {
	g := metrics.GiniCoefficient([]float64{0.25, 0.25, 0.25, 0.25})
	assert.InDelta(t, 0.0, g, 1e-9)
}

func TestGiniCoefficientConcentrated(t *testing.T) {
	g := metrics.GiniCoefficient([]float64{1.0, 0.0, 0.0, 0.0})
	assert.Greater(t, g, 0.5)
}

func TestGiniCoefficientEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, metrics.GiniCoefficient(nil))
}

func TestSNRdBAllPositiveIsHigh(t *testing.T) {
	snr := metrics.SNRdB([]float64{0.8, 0.6, 0.9})
	assert.Greater(t, snr, 50.0)
}

func TestSNRdBEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, metrics.SNRdB(nil))
}

func TestContradictionRiskSingleCertainty(t *testing.T) {
	risk := metrics.ContradictionRisk([]float64{1.0})
	assert.Equal(t, 1.0, risk)
}

func TestContradictionRiskCompounds(t *testing.T) {
	risk := metrics.ContradictionRisk([]float64{0.5, 0.5})
	assert.InDelta(t, 0.75, risk, 1e-9)
}

func TestRedundancyTaxCountsSimilarPairsOnce(t *testing.T) {
	memories := []metrics.RedundancyMemory{
		{MemoryID: "a", Embedding: []float32{1, 0, 0}, Tokens: 50},
		{MemoryID: "b", Embedding: []float32{1, 0, 0.001}, Tokens: 80},
		{MemoryID: "c", Embedding: []float32{0, 1, 0}, Tokens: 40},
	}
	tokens, cost := metrics.RedundancyTax(memories, price, 0.92, 0.3)
	assert.Equal(t, 50, tokens)
	assert.Greater(t, cost, 0.0)
}

func TestAccuracyDeltaZeroBaselineIsZero(t *testing.T) {
	assert.Equal(t, 0.0, metrics.AccuracyDelta([]float64{0.5}, []float64{0}))
}

func TestAccuracyDeltaPositiveLift(t *testing.T) {
	delta := metrics.AccuracyDelta([]float64{0.8, 0.9}, []float64{0.4, 0.4})
	assert.InDelta(t, 112.5, delta, 1e-6)
}

func TestStalenessIndexExcludesInfrequentAndYoung(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	memories := []metrics.StalenessInput{
		{LastAccessedAt: now.AddDate(0, 0, -5), CreatedAt: now.AddDate(0, 0, -200)},  // frequent, stale
		{LastAccessedAt: now.AddDate(0, 0, -5), CreatedAt: now.AddDate(0, 0, -10)},   // frequent, fresh
		{LastAccessedAt: now.AddDate(0, 0, -60), CreatedAt: now.AddDate(0, 0, -200)}, // infrequent, excluded
	}
	idx := metrics.StalenessIndex(memories, now, 90)
	assert.InDelta(t, 50.0, idx, 1e-9)
}

func TestStalenessIndexNoFrequentMemoriesIsZero(t *testing.T) {
	now := time.Now()
	idx := metrics.StalenessIndex(nil, now, 90)
	assert.Equal(t, 0.0, idx)
}
