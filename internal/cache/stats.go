package cache

import (
	"fmt"
	"sync/atomic"
)

// Stats counts cache hits and misses for the process lifetime
type Stats struct {
	hits   atomic.Uint64
	misses atomic.Uint64
}

// StatsSnapshot is a point-in-time view of the counters
type StatsSnapshot struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	HitRate string `json:"hitRate"`
}

// Hit records a cache hit
func (s *Stats) Hit() {
	s.hits.Add(1)
}

// Miss records a cache miss
func (s *Stats) Miss() {
	s.misses.Add(1)
}

// Reset zeroes both counters
func (s *Stats) Reset() {
	s.hits.Store(0)
	s.misses.Store(0)
}

// Snapshot returns the current counters with the hit rate formatted as
// a percentage, "0.0%" before any observations.
func (s *Stats) Snapshot() StatsSnapshot {
	hits := s.hits.Load()
	misses := s.misses.Load()

	rate := 0.0
	if total := hits + misses; total > 0 {
		rate = float64(hits) * 100 / float64(total)
	}

	return StatsSnapshot{
		Hits:    hits,
		Misses:  misses,
		HitRate: fmt.Sprintf("%.1f%%", rate),
	}
}
