// Package l2cache adapts a shared Redis instance to the dispatcher's L2
// interface. It is grounded on mosdns's redis_cache backend for
// the disable-on-error-then-ping-until-healthy circuit breaker; the
// value framing itself is simpler than redis_cache's, since a single
// resolved IPv4 address needs no header at all and TTL is carried by
// Redis's own key expiry rather than an embedded timestamp.
package l2cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/swiftdns/swiftdns/internal/mlog"
)

// cmdable is the slice of redis.Cmdable this package actually calls.
// Keeping it narrow lets tests supply a fake without reimplementing the
// full client surface.
type cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	DBSize(ctx context.Context) *redis.IntCmd
}

// Redis is a dispatcher.L2 implementation backed by a shared redis.Cmdable.
// A transient Redis outage degrades to "always miss, drop async writes"
// rather than blocking the reply path; a background prober flips the
// circuit back on once pings succeed again.
type Redis struct {
	client   cmdable
	prefix   string
	timeout  time.Duration
	disabled uint32
}

// NewRedis wraps client. prefix namespaces keys (e.g. "swiftdns:") so a
// shared Redis instance can host other tenants safely.
func NewRedis(client redis.Cmdable, prefix string, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &Redis{client: client, prefix: prefix, timeout: timeout}
}

func (r *Redis) key(domain string) string {
	return r.prefix + domain
}

func (r *Redis) isDisabled() bool {
	return atomic.LoadUint32(&r.disabled) != 0
}

func (r *Redis) disable() {
	if !atomic.CompareAndSwapUint32(&r.disabled, 0, 1) {
		return
	}
	mlog.L().Warn("l2cache: redis temporarily disabled")
	go func() {
		const maxBackoff = 30 * time.Second
		backoff := 100 * time.Millisecond
		for {
			time.Sleep(backoff)
			ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			err := r.client.Ping(ctx).Err()
			cancel()
			if err != nil {
				if backoff < maxBackoff {
					backoff += time.Duration(rand.Intn(1000))*time.Millisecond + time.Second
				}
				continue
			}
			atomic.StoreUint32(&r.disabled, 0)
			mlog.L().Info("l2cache: redis re-enabled")
			return
		}
	}()
}

// Get satisfies dispatcher.L2. A miss, a disabled circuit, or any Redis
// error are all reported the same way: (zero addr, false).
func (r *Redis) Get(ctx context.Context, domain string) (netip.Addr, bool) {
	if r.isDisabled() {
		return netip.Addr{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	b, err := r.client.Get(ctx, r.key(domain)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			mlog.L().Warn("l2cache: get failed", zap.Error(err))
			r.disable()
		}
		return netip.Addr{}, false
	}

	ip, ok := unpackValue(b)
	if !ok {
		mlog.L().Warn("l2cache: corrupt value", zap.String("domain", domain))
		return netip.Addr{}, false
	}
	return ip, true
}

// SetAsync satisfies dispatcher.L2. It never blocks the caller: the
// actual write happens on a spawned goroutine, matching the fire-and-
// forget mirror behavior described for Path C installs.
func (r *Redis) SetAsync(domain string, ip netip.Addr, ttl time.Duration) {
	if r.isDisabled() || ttl <= 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.client.Set(ctx, r.key(domain), packValue(ip), ttl).Err(); err != nil {
			mlog.L().Warn("l2cache: set failed", zap.Error(err))
			r.disable()
		}
	}()
}

func packValue(ip netip.Addr) []byte {
	a4 := ip.As4()
	buf := make([]byte, 4)
	copy(buf, a4[:])
	return buf
}

func unpackValue(b []byte) (netip.Addr, bool) {
	if len(b) != 4 {
		return netip.Addr{}, false
	}
	var a4 [4]byte
	copy(a4[:], b)
	return netip.AddrFrom4(a4), true
}

// dbSizeErr is returned by Len when the Redis DBSIZE call fails, useful
// for callers that expose L2 cache size as an operational metric.
var dbSizeErr = errors.New("l2cache: dbsize unavailable")

// Len reports the shared Redis instance's key count, best-effort.
func (r *Redis) Len() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	n, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", dbSizeErr, err)
	}
	return n, nil
}
