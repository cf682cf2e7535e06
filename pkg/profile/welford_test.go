package profile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexlabs/cortex-engine-go/pkg/profile"
)

var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Universal invariant 6: after N online updates, the Welford profile's
// mean/variance matches the batch mean/variance over the same values
// within 1e-9.
func TestOnlineMatchesBatchWithinTolerance(t *testing.T) {
	xs := []float64{0.8, 0.6, 0.9, 0.2, 0.5, 0.7, 0.95, 0.1, 0.3, 0.65}

	tracker := profile.NewTracker(func() time.Time { return fixedNow })
	var last profile.Profile
	for _, x := range xs {
		last = tracker.Upsert("m1", x)
	}

	wantMean, wantVariance := profile.BatchMeanVariance(xs)
	assert.InDelta(t, wantMean, last.Mean, 1e-9)
	assert.InDelta(t, wantVariance, last.Variance(), 1e-9)
	assert.Equal(t, int64(len(xs)), last.Count)
}

func TestFirstUpdateIsStableWithZeroVariance(t *testing.T) {
	p := profile.Update(profile.Profile{MemoryID: "m1"}, 0.7, fixedNow)
	assert.Equal(t, profile.TrendStable, p.Trend)
	assert.Equal(t, 0.0, p.Variance())
	assert.Equal(t, int64(1), p.Count)
	assert.Equal(t, 0.7, p.Mean)
}

func TestTrendUpAboveOneTenTimesMean(t *testing.T) {
	p := profile.Profile{MemoryID: "m1", Mean: 0.5, Count: 3}
	updated := profile.Update(p, 0.6, fixedNow) // 0.6 > 0.5*1.1 = 0.55
	assert.Equal(t, profile.TrendUp, updated.Trend)
}

func TestTrendDownBelowNineTenthsMean(t *testing.T) {
	p := profile.Profile{MemoryID: "m1", Mean: 0.5, Count: 3}
	updated := profile.Update(p, 0.4, fixedNow) // 0.4 < 0.5*0.9 = 0.45
	assert.Equal(t, profile.TrendDown, updated.Trend)
}

func TestTrendStableWithinBand(t *testing.T) {
	p := profile.Profile{MemoryID: "m1", Mean: 0.5, Count: 3}
	updated := profile.Update(p, 0.5, fixedNow)
	assert.Equal(t, profile.TrendStable, updated.Trend)
}

func TestTrackerIsPerMemory(t *testing.T) {
	tracker := profile.NewTracker(func() time.Time { return fixedNow })
	tracker.Upsert("m1", 0.9)
	tracker.Upsert("m2", 0.1)

	p1, ok := tracker.Get("m1")
	require.True(t, ok)
	p2, ok := tracker.Get("m2")
	require.True(t, ok)

	assert.NotEqual(t, p1.Mean, p2.Mean)

	_, ok = tracker.Get("missing")
	assert.False(t, ok)
}

func TestVarianceZeroUntilSecondUpdate(t *testing.T) {
	tracker := profile.NewTracker(func() time.Time { return fixedNow })
	p := tracker.Upsert("m1", 0.5)
	assert.Equal(t, 0.0, p.Variance())

	p = tracker.Upsert("m1", 0.7)
	assert.Greater(t, p.Variance(), 0.0)
}
