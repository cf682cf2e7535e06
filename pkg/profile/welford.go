// Package profile implements the Welford running mean/variance
// accumulator that backs per-memory attribution-quality profiles
// (memory_profiles). The canonical update is a single atomic upsert
// executed by the storage layer (pkg/storage); this package holds the
// pure arithmetic both the SQL upserts and in-process bookkeeping share,
// plus a mutex-guarded Tracker for callers that keep profiles in memory
// (e.g. tests, or a cache in front of the store).
package profile

import (
	"math"
	"sync"
	"time"
)

// Trend classifies the most recent update relative to the profile's
// running mean before that update: "up" above 1.1x, "down" below 0.9x,
// "stable" otherwise.
type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendStable  Trend = "stable"
	trendUpRatio         = 1.1
	trendDownRatio       = 0.9
)

// Profile is the running quality profile for one memory: Welford
// accumulator state plus the retrieval bookkeeping the dashboard reads.
type Profile struct {
	MemoryID         string
	Mean             float64
	M2               float64
	Count            int64
	TotalAttribution float64
	Trend            Trend
	UpdatedAt        time.Time
}

// Variance returns the sample variance m2/(count-1), or 0 when fewer
// than two updates have been folded in.
func (p Profile) Variance() float64 {
	if p.Count < 2 {
		return 0
	}
	return p.M2 / float64(p.Count-1)
}

// StdDev returns the sample standard deviation.
func (p Profile) StdDev() float64 {
	return math.Sqrt(p.Variance())
}

// Update folds a new attribution score x into profile p, returning the
// updated profile. p is not mutated. This is the pure arithmetic behind
// every storage backend's atomic upsert statement:
//
//	count'  = count + 1
//	mean'   = mean + (x - mean) / count'
//	m2'     = m2 + (x - mean) * (x - mean')
//	trend'  = up if x > mean*1.1, down if x < mean*0.9, else stable
//
// trend is evaluated against the pre-update mean, matching the
// reference upsert's CASE clause.
func Update(p Profile, x float64, now time.Time) Profile {
	prevMean := p.Mean
	count := p.Count + 1
	mean := prevMean + (x-prevMean)/float64(count)
	m2 := p.M2 + (x-prevMean)*(x-mean)

	trend := TrendStable
	if p.Count > 0 {
		switch {
		case x > prevMean*trendUpRatio:
			trend = TrendUp
		case x < prevMean*trendDownRatio:
			trend = TrendDown
		}
	}

	return Profile{
		MemoryID:         p.MemoryID,
		Mean:             mean,
		M2:               m2,
		Count:            count,
		TotalAttribution: p.TotalAttribution + x,
		Trend:            trend,
		UpdatedAt:        now,
	}
}

// BatchMeanVariance computes the mean and sample variance of xs
// directly, for cross-checking the online Update against a batch
// computation over the same sequence.
func BatchMeanVariance(xs []float64) (mean, variance float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean = sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var sq float64
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return mean, sq / float64(len(xs)-1)
}

// Tracker is a mutex-guarded map of Profile keyed by memory ID, for
// callers that need an in-process atomic upsert without a storage
// round-trip (tests, caches). Concrete storage backends express the
// same Update step as a single SQL statement instead.
type Tracker struct {
	mu       sync.Mutex
	profiles map[string]Profile
	now      func() time.Time
}

// NewTracker creates an empty Tracker. now is called to timestamp each
// upsert; pass time.Now in production and a fixed clock in tests.
func NewTracker(now func() time.Time) *Tracker {
	return &Tracker{
		profiles: make(map[string]Profile),
		now:      now,
	}
}

// Upsert atomically folds score x into the profile for memoryID,
// creating it if absent, and returns the resulting Profile.
func (t *Tracker) Upsert(memoryID string, score float64) Profile {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.profiles[memoryID]
	if !ok {
		existing = Profile{MemoryID: memoryID}
	}
	updated := Update(existing, score, t.now())
	t.profiles[memoryID] = updated
	return updated
}

// Get returns the current profile for memoryID and whether it exists.
func (t *Tracker) Get(memoryID string) (Profile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.profiles[memoryID]
	return p, ok
}
