package cache

import (
	"fmt"
	"net/netip"
	"sync"
	"testing"
	"time"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("bad test addr %q: %v", s, err)
	}
	return a
}

// keysInShard finds n domain keys that all hash to the same shard as
// seed, so LRU behavior within one shard can be tested deterministically.
func keysInShard(c *ShardedCache, seed string, n int) []string {
	target := c.shardFor(seed)
	out := make([]string, 0, n)
	for i := 0; len(out) < n; i++ {
		k := fmt.Sprintf("filler%d.example.com", i)
		if c.shardFor(k) == target {
			out = append(out, k)
		}
	}
	return out
}

func TestLRUSurvivalOfMRUKey(t *testing.T) {
	c := New(16, 512)
	ip := mustAddr(t, "10.0.0.1")

	keys := keysInShard(c, "lru1.example.com", 3)
	lru1, lru2, lru3 := keys[0], keys[1], keys[2]

	c.Set(lru1, ip, 300*time.Second)
	c.Set(lru2, ip, 300*time.Second)
	c.Set(lru3, ip, 300*time.Second)

	if _, ok := c.Get(lru1); !ok {
		t.Fatal("expected lru1 present")
	}

	// Shard cap is 512; 3 keys are already in the shard and lru1 is now
	// MRU, so 511 more fills the shard to capacity and evicts exactly
	// lru2 and lru3 (the two entries LRU of lru1) without touching lru1.
	fillers := keysInShard(c, lru1, 514)[3:] // skip lru1/lru2/lru3 already generated
	for _, k := range fillers[:511] {
		c.Set(k, ip, 300*time.Second)
	}

	if _, ok := c.Get(lru1); !ok {
		t.Error("lru1 should have survived (was touched, moved to MRU)")
	}
	if _, ok := c.Get(lru2); ok {
		t.Error("lru2 should have been evicted")
	}
	if _, ok := c.Get(lru3); ok {
		t.Error("lru3 should have been evicted")
	}
}

func TestTTLExpiration(t *testing.T) {
	c := New(16, 512)
	c.Set("short.com", mustAddr(t, "10.0.0.1"), 1*time.Second)
	c.Set("long.com", mustAddr(t, "10.0.0.2"), 300*time.Second)

	if _, ok := c.Get("short.com"); !ok {
		t.Fatal("short.com should be present immediately")
	}
	if _, ok := c.Get("long.com"); !ok {
		t.Fatal("long.com should be present immediately")
	}

	time.Sleep(2 * time.Second)

	if _, ok := c.Get("short.com"); ok {
		t.Error("short.com should have expired")
	}
	if _, ok := c.Get("long.com"); !ok {
		t.Error("long.com should still be valid")
	}
}

func TestCapacityBound(t *testing.T) {
	c := New(16, 512)
	ip := mustAddr(t, "10.0.0.1")

	for i := 0; i < 600*16; i++ {
		c.Set(fmt.Sprintf("d%d.example.com", i), ip, 300*time.Second)
	}

	st := c.Stats()
	if st.Size > 8192 {
		t.Errorf("cache size %d exceeds total capacity 8192", st.Size)
	}
	for _, s := range c.shards {
		if len(s.entries) > 512 {
			t.Errorf("shard exceeded MAX_PER_SHARD: %d", len(s.entries))
		}
	}
}

func TestIdempotentSet(t *testing.T) {
	c := New(16, 512)
	ip := mustAddr(t, "10.0.0.1")

	c.Set("idem.example.com", ip, 300*time.Second)
	before := c.Stats().Size
	c.Set("idem.example.com", ip, 300*time.Second)
	after := c.Stats().Size

	if before != after {
		t.Errorf("size changed on overwrite: %d -> %d", before, after)
	}
	if c.Stats().Evictions != 0 {
		t.Error("overwrite must not evict")
	}
}

func TestOverwriteAtCapacityDoesNotEvict(t *testing.T) {
	c := New(1, 4)
	ip := mustAddr(t, "10.0.0.1")

	for i := 0; i < 4; i++ {
		c.Set(fmt.Sprintf("k%d.com", i), ip, 300*time.Second)
	}
	if c.Stats().Evictions != 0 {
		t.Fatal("filling to exact capacity must not evict")
	}

	// overwrite an existing key while at capacity: must not evict.
	c.Set("k0.com", mustAddr(t, "10.0.0.9"), 300*time.Second)
	if c.Stats().Evictions != 0 {
		t.Error("overwrite at capacity evicted an entry")
	}
	if c.Stats().Size != 4 {
		t.Errorf("size changed on overwrite at capacity: %d", c.Stats().Size)
	}
}

func TestExpiredEntryNeverReturned(t *testing.T) {
	c := New(16, 512)
	c.Set("gone.example.com", mustAddr(t, "10.0.0.1"), 0)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("gone.example.com"); ok {
		t.Error("zero-TTL entry must not be returned once expired")
	}
}

func TestConcurrentAccessRace(t *testing.T) {
	c := New(16, 512)
	ip := mustAddr(t, "203.0.113.5")

	var wg sync.WaitGroup
	for w := 0; w < 32; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 256; i++ {
				domain := fmt.Sprintf("w%d-%d.example.com", id, i%32)
				c.Set(domain, ip, 60*time.Second)
				c.Get(domain)
				c.CleanupExpired()
			}
		}(w)
	}
	wg.Wait()

	st := c.Stats()
	if st.Hits+st.Misses == 0 {
		t.Fatal("expected some get activity to be recorded")
	}
}
