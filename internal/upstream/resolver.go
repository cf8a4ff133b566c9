// Package upstream provides the real implementation of the core's
// opaque `resolve(domain) -> Option<IPv4>` collaborator: a sequential-
// fallback A/IN client over a configured list of recursive resolvers,
// deduplicating concurrent lookups for the same domain.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
	"golang.org/x/net/proxy"
	"golang.org/x/sync/singleflight"

	"github.com/swiftdns/swiftdns/internal/mlog"
)

// ErrNoAnswer is returned, possibly wrapping the last resolver's error,
// when no configured resolver produced a usable A record (NXDOMAIN,
// SERVFAIL, no answers, or a failed exchange).
var ErrNoAnswer = errors.New("upstream: no usable A record from any resolver")

// Resolver is the collaborator interface the dispatcher depends on.
// Production callers get a *Client; tests can supply a stub func.
type Resolver interface {
	Resolve(ctx context.Context, domain string) (netip.Addr, error)
}

// ResolverFunc adapts a plain function to the Resolver interface, used
// heavily in tests (spec.md's "a synchronous stub suffices for testing").
type ResolverFunc func(ctx context.Context, domain string) (netip.Addr, error)

func (f ResolverFunc) Resolve(ctx context.Context, domain string) (netip.Addr, error) {
	return f(ctx, domain)
}

// Endpoint is one configured upstream recursive resolver.
type Endpoint struct {
	Addr  string // host:port
	Proxy string // optional socks5://host:port dialer, empty means direct
}

// Client resolves A/IN queries against an ordered list of upstream
// endpoints, trying each in turn until one answers, grounded on
// mosdns's bundled_upstream fallback pattern
// (simplified to sequential fallback since the core only needs one
// Option<IPv4>, not a race across a bundle).
type Client struct {
	endpoints []Endpoint
	timeout   time.Duration
	dnsClient *dns.Client
	sf        singleflight.Group
}

// NewClient builds a Client. endpoints must be non-empty for Resolve to
// ever succeed; an empty list is permitted so a library embedder can
// AddEndpoint after construction.
func NewClient(endpoints []Endpoint, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Client{
		endpoints: endpoints,
		timeout:   timeout,
		dnsClient: &dns.Client{Timeout: timeout, Net: "udp"},
	}
}

// AddEndpoint appends an upstream resolver to the fallback chain.
func (c *Client) AddEndpoint(e Endpoint) {
	c.endpoints = append(c.endpoints, e)
}

// Resolve issues an A/IN query for domain against each configured
// endpoint in order until one produces an answer. Concurrent Resolve
// calls for the same domain are deduplicated via singleflight so a
// thundering herd of identical cache misses produces one round trip,
// grounded on mosdns's cache plugin's lazyUpdateSF usage.
func (c *Client) Resolve(ctx context.Context, domain string) (netip.Addr, error) {
	v, err, _ := c.sf.Do(domain, func() (interface{}, error) {
		return c.resolveOnce(ctx, domain)
	})
	if err != nil {
		return netip.Addr{}, err
	}
	return v.(netip.Addr), nil
}

func (c *Client) resolveOnce(ctx context.Context, domain string) (netip.Addr, error) {
	if len(c.endpoints) == 0 {
		return netip.Addr{}, errors.New("upstream: no resolvers configured")
	}

	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(domain), dns.TypeA)
	q.RecursionDesired = true

	var lastErr error
	for _, ep := range c.endpoints {
		addr, err := c.exchange(ctx, ep, q)
		if err != nil {
			lastErr = err
			mlog.L().Debug("upstream exchange failed",
				zap.String("domain", domain), zap.String("resolver", ep.Addr), zap.Error(err))
			continue
		}
		return addr, nil
	}
	if lastErr != nil {
		return netip.Addr{}, fmt.Errorf("%w: %v", ErrNoAnswer, lastErr)
	}
	return netip.Addr{}, ErrNoAnswer
}

func (c *Client) exchange(ctx context.Context, ep Endpoint, q *dns.Msg) (netip.Addr, error) {
	var r *dns.Msg
	var err error

	if ep.Proxy != "" {
		// SOCKS5 dialers don't speak UDP associate here, so a proxied
		// upstream is queried over TCP, grounded on mosdns's
		// fast_forward plugin building its own dialer per upstream.
		dialer, derr := proxy.SOCKS5("tcp", ep.Proxy, nil, proxy.Direct)
		if derr != nil {
			return netip.Addr{}, fmt.Errorf("socks5 dialer: %w", derr)
		}
		conn, derr := dialer.Dial("tcp", ep.Addr)
		if derr != nil {
			return netip.Addr{}, fmt.Errorf("socks5 dial: %w", derr)
		}
		defer conn.Close()
		if ddl, ok := ctx.Deadline(); ok {
			conn.SetDeadline(ddl)
		} else {
			conn.SetDeadline(time.Now().Add(c.timeout))
		}
		r, _, err = c.dnsClient.ExchangeWithConn(q, &dns.Conn{Conn: conn})
	} else {
		r, _, err = c.dnsClient.ExchangeContext(ctx, q, ep.Addr)
	}
	if err != nil {
		return netip.Addr{}, err
	}
	if r.Rcode != dns.RcodeSuccess {
		return netip.Addr{}, fmt.Errorf("upstream rcode %d", r.Rcode)
	}

	for _, rr := range r.Answer {
		if a, ok := rr.(*dns.A); ok {
			ip, ok := netip.AddrFromSlice(a.A.To4())
			if ok {
				return ip, nil
			}
		}
	}
	return netip.Addr{}, ErrNoAnswer
}
