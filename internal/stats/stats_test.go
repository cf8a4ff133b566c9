package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHitRatioZeroSafe(t *testing.T) {
	s := New(10000, 5000)
	assert.Zero(t, s.Snapshot().HitRatio)
}

func TestHitRatioComputation(t *testing.T) {
	s := New(10000, 5000)
	for i := 0; i < 10; i++ {
		s.IncTotalQueries()
	}
	for i := 0; i < 6; i++ {
		s.IncCacheHits()
	}
	for i := 0; i < 2; i++ {
		s.IncLocalDomainHits()
	}

	snap := s.Snapshot()
	assert.Equal(t, uint64(10), snap.TotalQueries)
	assert.Equal(t, 0.8, snap.HitRatio)
}

func TestReservoirTrim(t *testing.T) {
	s := New(10000, 5000)
	for i := 0; i < 10001; i++ {
		s.ObserveResponseTime(time.Millisecond)
	}
	require.Len(t, s.reservoir.snapshot(), 5001)
}

func TestQuantiles(t *testing.T) {
	s := New(10000, 5000)
	for i := 1; i <= 100; i++ {
		s.ObserveResponseTime(time.Duration(i) * time.Millisecond)
	}
	snap := s.Snapshot()
	assert.Equal(t, 96.0, snap.P95ResponseMS)
	assert.Equal(t, 100.0, snap.P99ResponseMS)
}
