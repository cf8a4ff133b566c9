// Package dispatcher implements the per-query classifier: local table,
// then cache, then upstream, with statistics recorded on every path.
package dispatcher

import (
	"context"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/swiftdns/swiftdns/internal/cache"
	"github.com/swiftdns/swiftdns/internal/mlog"
	"github.com/swiftdns/swiftdns/internal/precompiled"
	"github.com/swiftdns/swiftdns/internal/rules"
	"github.com/swiftdns/swiftdns/internal/stats"
	"github.com/swiftdns/swiftdns/internal/upstream"
	"github.com/swiftdns/swiftdns/internal/wire"
)

// L2 is the optional shared pre-warm cache tier consulted between Path B
// and Path C. A nil L2 is a valid no-op, matching the additive contract
// described in SPEC_FULL.md 3.4.
type L2 interface {
	Get(ctx context.Context, domain string) (netip.Addr, bool)
	SetAsync(domain string, ip netip.Addr, ttl time.Duration)
}

// Dispatcher wires C1-C5 plus the optional domain-stack components
// together into the three-path query classifier.
type Dispatcher struct {
	Local    *precompiled.Table
	Cache    *cache.ShardedCache
	Upstream upstream.Resolver
	Stats    *stats.Stats
	Rules    *rules.Engine
	L2       L2

	DefaultTTL time.Duration
	nowFunc    func() time.Time
}

// Option configures optional Dispatcher fields.
type Option func(*Dispatcher)

func WithRules(e *rules.Engine) Option { return func(d *Dispatcher) { d.Rules = e } }
func WithL2(l2 L2) Option              { return func(d *Dispatcher) { d.L2 = l2 } }

// New builds a Dispatcher over the required components.
func New(local *precompiled.Table, c *cache.ShardedCache, up upstream.Resolver, st *stats.Stats, defaultTTL time.Duration, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		Local:      local,
		Cache:      c,
		Upstream:   up,
		Stats:      st,
		DefaultTTL: defaultTTL,
		nowFunc:    time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle classifies and answers one raw UDP payload, returning the wire
// bytes to send back (nil means "drop silently, do not reply").
func (d *Dispatcher) Handle(ctx context.Context, req []byte, clientIP netip.Addr) []byte {
	start := d.nowFunc()
	d.Stats.IncTotalQueries()

	h, q, err := wire.ParseQuestion(req)
	if err != nil {
		mlog.L().Debug("dropping malformed query", zap.Error(err))
		return nil
	}

	if q.QType != wire.TypeA || q.QClass != wire.ClassIN {
		d.Stats.IncNotImplemented()
		return wire.EncodeError(h.ID, wire.RcodeNotImp)
	}

	lower := wire.LowerName(q.Name)
	domain := wire.NameToDomainKey(lower)

	if r := d.evaluateRules(domain, clientIP); r != nil {
		switch r.Action {
		case rules.ActionServFail:
			d.Stats.IncUpstreamFailures()
			return wire.EncodeError(h.ID, wire.RcodeServFail)
		case rules.ActionLocal:
			d.Stats.IncLocalDomainHits()
			return wire.EncodeAnswer(h.ID, q.Name, wire.TypeA, wire.ClassIN, r.LocalIP.As4(), uint32(d.DefaultTTL/time.Second))
		}
	}

	// Path A: precompiled local domain table.
	if packet, ok := d.Local.Lookup(domain, h.ID); ok {
		d.Stats.IncLocalDomainHits()
		if elapsed := d.nowFunc().Sub(start); elapsed > 100*time.Microsecond {
			mlog.L().Warn("local domain slower than budget",
				zap.String("domain", domain), zap.Duration("elapsed", elapsed))
		}
		return packet
	}

	// Path B: sharded cache.
	if ip, ok := d.Cache.Get(domain); ok {
		d.Stats.IncCacheHits()
		resp := wire.EncodeAnswer(h.ID, q.Name, wire.TypeA, wire.ClassIN, ip.As4(), uint32(d.DefaultTTL/time.Second))
		d.Stats.ObserveResponseTime(d.nowFunc().Sub(start))
		return resp
	}

	// Path B.5: optional shared L2 pre-warm tier, ahead of upstream.
	if d.L2 != nil {
		if ip, ok := d.L2.Get(ctx, domain); ok {
			d.Cache.Set(domain, ip, d.DefaultTTL)
			d.Stats.IncCacheHits()
			resp := wire.EncodeAnswer(h.ID, q.Name, wire.TypeA, wire.ClassIN, ip.As4(), uint32(d.DefaultTTL/time.Second))
			d.Stats.ObserveResponseTime(d.nowFunc().Sub(start))
			return resp
		}
	}

	// Path C: upstream resolution.
	ip, err := d.Upstream.Resolve(ctx, domain)
	if err != nil {
		d.Stats.IncUpstreamFailures()
		d.Stats.ObserveResponseTime(d.nowFunc().Sub(start))
		mlog.L().Debug("upstream resolution failed", zap.String("domain", domain), zap.Error(err))
		return wire.EncodeError(h.ID, wire.RcodeServFail)
	}

	d.Cache.Set(domain, ip, d.DefaultTTL)
	if d.L2 != nil {
		d.L2.SetAsync(domain, ip, d.DefaultTTL)
	}
	resp := wire.EncodeAnswer(h.ID, q.Name, wire.TypeA, wire.ClassIN, ip.As4(), uint32(d.DefaultTTL/time.Second))
	d.Stats.ObserveResponseTime(d.nowFunc().Sub(start))
	return resp
}

func (d *Dispatcher) evaluateRules(domain string, clientIP netip.Addr) *rules.Rule {
	if d.Rules == nil {
		return nil
	}
	r, err := d.Rules.Evaluate(rules.Facts{
		Domain:   domain,
		ClientIP: clientIP,
		Hour:     rules.HourOf(d.nowFunc()),
	})
	if err != nil {
		mlog.L().Warn("rule evaluation failed", zap.Error(err))
		return nil
	}
	return r
}
