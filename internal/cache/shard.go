package cache

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// defaultMaxPerShard is the per-shard entry bound New falls back to when
// given maxPerShard <= 0. The bound actually in effect is each shard's
// maxSize, normally the total cache capacity divided by the shard count.
const defaultMaxPerShard = 512

type cacheEntry struct {
	ip     netip.Addr
	expiry time.Time
	hits   uint64 // informational only, never used for eviction
}

func (e *cacheEntry) valid(now time.Time) bool {
	return now.Before(e.expiry)
}

// shard is one of N independently-locked partitions of the cache. All
// three of its structures (entries, lru list, lru index) are guarded by
// mu as a single logical unit: every public operation acquires mu for
// its entire critical section.
type shard struct {
	mu      sync.Mutex
	entries map[string]*listElem
	lru     entryList
	maxSize int

	hits      uint64
	misses    uint64
	evictions uint64
}

func newShard(maxSize int) *shard {
	return &shard{
		entries: make(map[string]*listElem),
		maxSize: maxSize,
	}
}

// expireSweep removes every entry whose expiry has passed. Must be
// called with mu held. Linear in shard size, which is bounded by
// maxSize, so the cost is acceptable at every call site (get and set
// both sweep before doing anything else).
func (s *shard) expireSweep(now time.Time) {
	e := s.lru.back
	for e != nil {
		prev := e.prev
		if !e.entry.valid(now) {
			delete(s.entries, e.key)
			s.lru.Remove(e)
		}
		e = prev
	}
}

// get implements spec 4.3.1. Caller holds no lock; get acquires s.mu.
func (s *shard) get(now time.Time, domain string) (netip.Addr, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireSweep(now)

	e, ok := s.entries[domain]
	if !ok {
		atomic.AddUint64(&s.misses, 1)
		return netip.Addr{}, false
	}

	// Defensive: expireSweep already removed anything stale, so this
	// branch should be unreachable. Kept per spec's dead-branch note;
	// never rely on it.
	if !e.entry.valid(now) {
		delete(s.entries, domain)
		s.lru.Remove(e)
		atomic.AddUint64(&s.misses, 1)
		return netip.Addr{}, false
	}

	e.entry.hits++
	atomic.AddUint64(&s.hits, 1)
	s.lru.MoveToFront(e)
	return e.entry.ip, true
}

// set implements spec 4.3.2: expire-sweep, then admit-with-eviction
// (only when the key is new), then insert/overwrite, then touch MRU.
func (s *shard) set(now time.Time, domain string, ip netip.Addr, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireSweep(now)

	if e, ok := s.entries[domain]; ok {
		e.entry.ip = ip
		e.entry.expiry = now.Add(ttl)
		s.lru.MoveToFront(e)
		return
	}

	if len(s.entries) >= s.maxSize {
		if victim := s.lru.Back(); victim != nil {
			delete(s.entries, victim.key)
			s.lru.Remove(victim)
			atomic.AddUint64(&s.evictions, 1)
		}
	}

	e := &listElem{
		key: domain,
		entry: cacheEntry{
			ip:     ip,
			expiry: now.Add(ttl),
		},
	}
	s.entries[domain] = e
	s.lru.PushFront(e)
}

func (s *shard) cleanupExpired(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireSweep(now)
}

type shardStats struct {
	hits, misses, evictions uint64
	size                    int
}

func (s *shard) snapshotStats() shardStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return shardStats{
		hits:      atomic.LoadUint64(&s.hits),
		misses:    atomic.LoadUint64(&s.misses),
		evictions: atomic.LoadUint64(&s.evictions),
		size:      len(s.entries),
	}
}

// forEachValid calls f for every unexpired entry, oldest-touched first.
// Used by internal/snapshot to persist the cache across restarts.
func (s *shard) forEachValid(now time.Time, f func(domain string, ip netip.Addr, expiry time.Time)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireSweep(now)
	for e := s.lru.back; e != nil; e = e.prev {
		f(e.key, e.entry.ip, e.entry.expiry)
	}
}
