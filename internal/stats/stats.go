// Package stats implements the atomic query counters and the
// response-time reservoir used to summarize dispatcher latency.
package stats

import (
	"math"
	"sort"
	"sync/atomic"
	"time"
)

// Stats tracks the counters and latency samples described in spec.md
// 4.5. All counter updates are relaxed atomic fetch-adds; no ordering
// relationship is required between distinct counters.
type Stats struct {
	totalQueries     uint64
	cacheHits        uint64
	localDomainHits  uint64
	notImplemented   uint64
	upstreamFailures uint64

	reservoir *reservoir
}

// New creates a Stats with the given response-time reservoir bounds.
func New(reservoirCap, reservoirTrim int) *Stats {
	return &Stats{reservoir: newReservoir(reservoirCap, reservoirTrim)}
}

func (s *Stats) IncTotalQueries()     { atomic.AddUint64(&s.totalQueries, 1) }
func (s *Stats) IncCacheHits()        { atomic.AddUint64(&s.cacheHits, 1) }
func (s *Stats) IncLocalDomainHits()  { atomic.AddUint64(&s.localDomainHits, 1) }
func (s *Stats) IncNotImplemented()   { atomic.AddUint64(&s.notImplemented, 1) }
func (s *Stats) IncUpstreamFailures() { atomic.AddUint64(&s.upstreamFailures, 1) }

// ObserveResponseTime records elapsed into the reservoir. Local-domain
// hits are excluded from the reservoir by convention (they use the
// 100us slow-path observation instead); callers must not call this for
// Path A.
func (s *Stats) ObserveResponseTime(elapsed time.Duration) {
	s.reservoir.add(float64(elapsed) / float64(time.Millisecond))
}

// Snapshot is a point-in-time summary of every counter plus the
// derived hit ratio and reservoir quantiles.
type Snapshot struct {
	TotalQueries     uint64
	CacheHits        uint64
	LocalDomainHits  uint64
	NotImplemented   uint64
	UpstreamFailures uint64
	HitRatio         float64

	MeanResponseMS float64
	P95ResponseMS  float64
	P99ResponseMS  float64
}

func (s *Stats) Snapshot() Snapshot {
	total := atomic.LoadUint64(&s.totalQueries)
	cacheHits := atomic.LoadUint64(&s.cacheHits)
	localHits := atomic.LoadUint64(&s.localDomainHits)

	out := Snapshot{
		TotalQueries:     total,
		CacheHits:        cacheHits,
		LocalDomainHits:  localHits,
		NotImplemented:   atomic.LoadUint64(&s.notImplemented),
		UpstreamFailures: atomic.LoadUint64(&s.upstreamFailures),
	}
	if total > 0 {
		out.HitRatio = float64(cacheHits+localHits) / float64(total)
	}

	samples := s.reservoir.snapshot()
	if len(samples) == 0 {
		return out
	}
	sort.Float64s(samples)

	var sum float64
	for _, v := range samples {
		sum += v
	}
	out.MeanResponseMS = sum / float64(len(samples))
	out.P95ResponseMS = samples[quantileIndex(len(samples), 0.95)]
	out.P99ResponseMS = samples[quantileIndex(len(samples), 0.99)]
	return out
}

func quantileIndex(n int, q float64) int {
	idx := int(math.Floor(q * float64(n)))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}
