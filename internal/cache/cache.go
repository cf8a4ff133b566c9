// Package cache implements the sharded TTL+LRU domain cache: the hot
// data plane's hybrid eviction discipline. Each of N shards is an
// independent mutex-guarded map + intrusive LRU list; there is no
// cross-shard invariant, so shard locks are never held simultaneously.
package cache

import (
	"hash/maphash"
	"net/netip"
	"time"
)

// Stats is an eventually-consistent snapshot across all shards: each
// shard is summed under its own lock, but no lock spans the whole
// operation, so a caller may observe counts from slightly different
// instants for different shards.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
}

// HitRatio returns (Hits)/(Hits+Misses), zero-safe.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// ShardedCache is a concurrent map from lowercased domain name to
// (IPv4, expiry) split across a power-of-two number of independently
// locked shards.
type ShardedCache struct {
	seed    maphash.Seed
	shards  []*shard
	mask    uint64
	nowFunc func() time.Time
}

// New creates a ShardedCache with shardCount shards (must be a power of
// two) and maxPerShard entries per shard.
func New(shardCount, maxPerShard int) *ShardedCache {
	if shardCount <= 0 || shardCount&(shardCount-1) != 0 {
		panic("cache: shardCount must be a power of two and > 0")
	}
	if maxPerShard <= 0 {
		maxPerShard = defaultMaxPerShard
	}

	c := &ShardedCache{
		seed:    maphash.MakeSeed(),
		shards:  make([]*shard, shardCount),
		mask:    uint64(shardCount - 1),
		nowFunc: time.Now,
	}
	for i := range c.shards {
		c.shards[i] = newShard(maxPerShard)
	}
	return c
}

func (c *ShardedCache) shardFor(domain string) *shard {
	h := maphash.String(c.seed, domain)
	return c.shards[h&c.mask]
}

// Get returns the cached IPv4 address for domain, or ok=false on a
// miss or expired entry. domain must already be normalized (lowercase,
// no trailing dot) by the caller.
func (c *ShardedCache) Get(domain string) (netip.Addr, bool) {
	return c.shardFor(domain).get(c.nowFunc(), domain)
}

// Set installs or refreshes domain -> ip with the given TTL. Overwriting
// an existing key never triggers eviction and never changes shard size;
// it only refreshes expiry and touches the LRU order.
func (c *ShardedCache) Set(domain string, ip netip.Addr, ttl time.Duration) {
	c.shardFor(domain).set(c.nowFunc(), domain, ip, ttl)
}

// CleanupExpired sweeps every shard once under its own lock. Not
// required for correctness (Get/Set already sweep the shard they
// touch) but useful as an external periodic maintenance hook so idle
// shards don't retain stale entries indefinitely.
func (c *ShardedCache) CleanupExpired() {
	now := c.nowFunc()
	for _, s := range c.shards {
		s.cleanupExpired(now)
	}
}

// Stats walks all shards once each under their own lock and sums the
// result. Not atomic across shards.
func (c *ShardedCache) Stats() Stats {
	var out Stats
	for _, s := range c.shards {
		ss := s.snapshotStats()
		out.Hits += ss.hits
		out.Misses += ss.misses
		out.Evictions += ss.evictions
		out.Size += ss.size
	}
	return out
}

// ForEachValid iterates every unexpired entry across all shards. Used
// by internal/snapshot to persist a warm cache across restarts. The
// callback must not call back into the cache.
func (c *ShardedCache) ForEachValid(f func(domain string, ip netip.Addr, expiry time.Time)) {
	now := c.nowFunc()
	for _, s := range c.shards {
		s.forEachValid(now, f)
	}
}
