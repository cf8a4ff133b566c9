// Package precompiled holds byte-ready DNS answer packets for a fixed
// set of local domains, so the hottest path never touches the cache or
// the wire codec's general answer assembly at query time.
package precompiled

import (
	"net/netip"
	"sync"

	"github.com/swiftdns/swiftdns/internal/wire"
)

const defaultTTL = 300

// Table is immutable after Freeze: registrations must happen before the
// server starts serving traffic. Lookup never allocates beyond the one
// copy required to hand the caller an independent buffer it can mutate
// (patching the query id) without racing other callers.
type Table struct {
	mu     sync.RWMutex
	frozen bool
	byName map[string][]byte // domain -> full answer packet, id field zeroed
}

func New() *Table {
	return &Table{byName: make(map[string][]byte)}
}

// Add registers domain -> ip, precompiling the full answer packet with
// the query-id field zeroed at offset 0-1. Must be called before Freeze
// / before the server starts accepting queries.
func (t *Table) Add(domain string, ip netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		panic("precompiled: Add called after Freeze")
	}

	name := wire.EncodeDomainKey(domain)
	ip4 := ip.As4()
	packet := wire.EncodeAnswer([2]byte{0, 0}, name, wire.TypeA, wire.ClassIN, ip4, defaultTTL)
	t.byName[domain] = packet
}

// Freeze marks the table read-only. After Freeze, Lookup requires no
// synchronization on the hot path in principle; the RWMutex is kept
// only as a defensive guard against a misbehaving embedder calling Add
// after start, matching the read-only-at-steady-state contract of
// spec.md 4.2.
func (t *Table) Freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// Lookup returns a copy of the stored packet for domain with id patched
// into the first two octets, or ok=false if domain isn't registered.
func (t *Table) Lookup(domain string, id [2]byte) (packet []byte, ok bool) {
	t.mu.RLock()
	stored, found := t.byName[domain]
	t.mu.RUnlock()
	if !found {
		return nil, false
	}

	out := make([]byte, len(stored))
	copy(out, stored)
	out[0], out[1] = id[0], id[1]
	return out, true
}

// Len reports the number of registered local domains.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byName)
}
