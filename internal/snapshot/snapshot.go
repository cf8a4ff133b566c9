// Package snapshot persists the sharded cache's contents across process
// restarts. It borrows its wire framing (fixed-width binary fields ahead
// of a variable-length payload) from mosdns's redis_cache value
// packing, and compresses the whole file with github.com/golang/snappy
// since the payload is a long run of similarly-shaped fixed records.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/golang/snappy"

	"github.com/swiftdns/swiftdns/internal/cache"
)

// ErrCorrupt is returned when the snapshot file's framing does not add up.
var ErrCorrupt = errors.New("snapshot: corrupt record")

const magic = "SWDN1\n"

// Save walks every valid entry in c and writes it to path as a
// snappy-compressed stream of (expiryUnixNano, ipv4, domainLen, domain)
// records. It overwrites any existing file at path.
func Save(c *cache.ShardedCache, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := snappy.NewBufferedWriter(f)
	defer func() {
		if cerr := w.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.WriteString(w, magic); err != nil {
		return err
	}

	var hdr [12]byte
	writeErr := error(nil)
	c.ForEachValid(func(domain string, ip netip.Addr, expiry time.Time) {
		if writeErr != nil {
			return
		}
		a4 := ip.As4()
		binary.BigEndian.PutUint64(hdr[0:8], uint64(expiry.UnixNano()))
		copy(hdr[8:12], a4[:])
		if _, writeErr = w.Write(hdr[:]); writeErr != nil {
			return
		}
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(domain)))
		if _, writeErr = w.Write(lenBuf[:]); writeErr != nil {
			return
		}
		_, writeErr = io.WriteString(w, domain)
	})
	if writeErr != nil {
		return writeErr
	}
	return nil
}

// Load reads a snapshot previously written by Save and installs every
// record into c via Set. Records already expired relative to now are
// silently skipped rather than installed. A missing file is not an
// error; it means a cold start.
func Load(c *cache.ShardedCache, path string, now time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := bufio.NewReader(snappy.NewReader(f))

	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, magicBuf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	if string(magicBuf) != magic {
		return ErrCorrupt
	}

	var hdr [12]byte
	for {
		_, err := io.ReadFull(r, hdr[:])
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		expiry := time.Unix(0, int64(binary.BigEndian.Uint64(hdr[0:8])))
		var a4 [4]byte
		copy(a4[:], hdr[8:12])
		ip := netip.AddrFrom4(a4)

		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return ErrCorrupt
		}
		domainLen := binary.BigEndian.Uint16(lenBuf[:])
		domainBuf := make([]byte, domainLen)
		if _, err := io.ReadFull(r, domainBuf); err != nil {
			return ErrCorrupt
		}

		ttl := expiry.Sub(now)
		if ttl <= 0 {
			continue
		}
		c.Set(string(domainBuf), ip, ttl)
	}
}
