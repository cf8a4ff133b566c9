// Package coremain wires the configuration surface into a running
// swiftdns process: cache, precompiled table, upstream client, optional
// domain-stack components, the UDP listener, and the metrics endpoint.
// It replaces mosdns's plugin/data-provider loading in
// RunMosdns with a fixed pipeline, since swiftdns has no plugin chain to
// assemble, but keeps the same safeclose-driven shutdown shape.
package coremain

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/swiftdns/swiftdns/internal/cache"
	"github.com/swiftdns/swiftdns/internal/config"
	"github.com/swiftdns/swiftdns/internal/dispatcher"
	"github.com/swiftdns/swiftdns/internal/l2cache"
	"github.com/swiftdns/swiftdns/internal/mlog"
	"github.com/swiftdns/swiftdns/internal/precompiled"
	"github.com/swiftdns/swiftdns/internal/reload"
	"github.com/swiftdns/swiftdns/internal/rules"
	"github.com/swiftdns/swiftdns/internal/safeclose"
	"github.com/swiftdns/swiftdns/internal/server"
	"github.com/swiftdns/swiftdns/internal/snapshot"
	"github.com/swiftdns/swiftdns/internal/stats"
	"github.com/swiftdns/swiftdns/internal/upstream"
)

// statsLogInterval is how often the running summary line is logged,
// grounded on original_source/main.cpp's print_stats_periodically.
const statsLogInterval = 30 * time.Second

// current holds the presently running instance, if any, so an external
// caller (a service manager's Stop callback) can request shutdown
// without threading a reference through kardianos/service's Interface.
var current atomic.Pointer[Swiftdns]

// RequestShutdown asks the currently running server, if any, to begin a
// graceful shutdown. Safe to call when no server is running.
func RequestShutdown() {
	if s := current.Load(); s != nil {
		s.sc.SendCloseSignal(nil)
	}
}

// Swiftdns owns every long-lived component of one running server
// instance, mirroring the field-grouping style of mosdns's
// Mosdns struct (data, plugins, http, metrics, shutdown coordination).
type Swiftdns struct {
	cfg *config.Config

	cache      *cache.ShardedCache
	local      *precompiled.Table
	upstream   *upstream.Client
	statistics *stats.Stats
	dispatcher *dispatcher.Dispatcher

	udpServer     *server.Server
	metricsServer *http.Server
	watcher       *reload.Watcher

	sc *safeclose.SafeClose
}

// RunServer loads cfg (originally read from configPath) into a fully
// wired Swiftdns instance and blocks until an OS signal, a fatal
// component error, or the service manager requests shutdown. configPath
// may be empty when no config file backs cfg (defaults only); in that
// case hot reload has nothing to watch.
func RunServer(cfg *config.Config, configPath string) error {
	if err := mlog.Init(mlog.LogConfig{Level: cfg.Log.Level, File: cfg.Log.File}); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	s, err := buildSwiftdns(cfg)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}

	current.Store(s)
	defer current.Store(nil)

	logStartupBanner(cfg)

	if err := s.start(configPath); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			mlog.L().Info("received shutdown signal", zap.Stringer("signal", sig))
			s.sc.SendCloseSignal(nil)
		case <-s.sc.ReceiveCloseSignal():
		}
	}()

	<-s.sc.ReceiveCloseSignal()
	signal.Stop(sigCh)
	s.sc.Done()
	s.sc.CloseWait()
	return s.sc.Err()
}

// logStartupBanner logs the configured performance targets and worker
// count once at startup, grounded on original_source/main.cpp.
func logStartupBanner(cfg *config.Config) {
	mlog.L().Info("swiftdns starting",
		zap.Int("port", cfg.Port),
		zap.Int("workers", server.WorkerCount()),
		zap.String("local_domain_target", "<50µs"),
		zap.String("cached_target", "<200µs"),
		zap.Int("cache_shards", cfg.CacheShards),
		zap.Int("cache_total_capacity", cfg.CacheTotalCapacity),
	)
}

func buildSwiftdns(cfg *config.Config) (*Swiftdns, error) {
	s := &Swiftdns{
		cfg: cfg,
		sc:  safeclose.New(),
	}

	s.cache = cache.New(nextPowerOfTwo(cfg.CacheShards), cfg.CacheTotalCapacity/max(cfg.CacheShards, 1))
	s.statistics = stats.New(cfg.ReservoirCap, cfg.ReservoirTrim)

	s.local = precompiled.New()
	for _, ld := range cfg.LocalDomains {
		ip, err := netip.ParseAddr(ld.IP)
		if err != nil {
			return nil, fmt.Errorf("local_domains: %s: %w", ld.Domain, err)
		}
		s.local.Add(ld.Domain, ip)
	}
	s.local.Freeze()

	defaultTTL := time.Duration(cfg.DefaultTTLSeconds) * time.Second
	s.upstream = upstream.NewClient(nil, 2*time.Second)
	for _, r := range cfg.UpstreamResolvers {
		s.upstream.AddEndpoint(upstream.Endpoint{Addr: r.Addr, Proxy: r.Proxy})
	}

	var opts []dispatcher.Option
	if len(cfg.Rules) > 0 {
		engine, err := buildRuleEngine(cfg.Rules)
		if err != nil {
			return nil, err
		}
		opts = append(opts, dispatcher.WithRules(engine))
	}
	if addr := cfg.L2Cache.RedisAddr; len(addr) > 0 {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		opts = append(opts, dispatcher.WithL2(l2cache.NewRedis(rdb, "swiftdns:", 50*time.Millisecond)))
	}

	s.dispatcher = dispatcher.New(s.local, s.cache, s.upstream, s.statistics, defaultTTL, opts...)

	if path := cfg.Snapshot.Path; len(path) > 0 {
		if err := snapshot.Load(s.cache, path, time.Now()); err != nil {
			mlog.L().Warn("failed to load cache snapshot", zap.String("path", path), zap.Error(err))
		}
	}

	s.udpServer = server.New(fmt.Sprintf(":%d", cfg.Port), s.dispatcher)

	if addr := cfg.Metrics.HTTP; len(addr) > 0 {
		reg := server.NewMetricsRegistry(s.cache, s.statistics)
		s.metricsServer = &http.Server{Addr: addr, Handler: server.NewMetricsHandler(reg)}
	}

	return s, nil
}

// logStatsSummary logs a human-readable running summary, grounded on
// original_source/main.cpp's print_stats_periodically. The full detail
// lives behind /metrics; this is the log-only equivalent of that print
// loop for deployments that don't scrape prometheus.
func logStatsSummary(st *stats.Stats) {
	snap := st.Snapshot()
	mlog.L().Info("stats summary",
		zap.Uint64("total_queries", snap.TotalQueries),
		zap.Uint64("cache_hits", snap.CacheHits),
		zap.Uint64("local_domain_hits", snap.LocalDomainHits),
		zap.Float64("hit_ratio", snap.HitRatio),
		zap.Float64("p95_response_ms", snap.P95ResponseMS),
		zap.Float64("p99_response_ms", snap.P99ResponseMS),
	)
}

func buildRuleEngine(rcs []config.RuleConfig) (*rules.Engine, error) {
	rs := make([]rules.Rule, 0, len(rcs))
	for _, rc := range rcs {
		var action rules.Action
		switch rc.Action {
		case "servfail":
			action = rules.ActionServFail
		case "local":
			action = rules.ActionLocal
		default:
			return nil, fmt.Errorf("rules: unknown action %q", rc.Action)
		}
		r := rules.Rule{Expr: rc.Expr, Action: action}
		if action == rules.ActionLocal {
			ip, err := netip.ParseAddr(rc.IP)
			if err != nil {
				return nil, fmt.Errorf("rules: %q: %w", rc.Expr, err)
			}
			r.LocalIP = ip
		}
		rs = append(rs, r)
	}
	return rules.Compile(rs)
}

func (s *Swiftdns) start(configPath string) error {
	s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() { errChan <- s.udpServer.ListenAndServe() }()
		select {
		case err := <-errChan:
			if err != nil && err != server.ErrServerClosed {
				s.sc.SendCloseSignal(err)
			}
		case <-closeSignal:
			s.udpServer.Shutdown()
		}
	})

	if s.metricsServer != nil {
		s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
			defer done()
			errChan := make(chan error, 1)
			go func() {
				mlog.L().Info("starting metrics http server", zap.String("addr", s.metricsServer.Addr))
				errChan <- s.metricsServer.ListenAndServe()
			}()
			select {
			case err := <-errChan:
				if err != nil && err != http.ErrServerClosed {
					s.sc.SendCloseSignal(err)
				}
			case <-closeSignal:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				s.metricsServer.Shutdown(ctx)
			}
		})
	}

	s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		ticker := time.NewTicker(statsLogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				logStatsSummary(s.statistics)
			case <-closeSignal:
				return
			}
		}
	})

	if s.cfg.Reload.Enabled && len(configPath) > 0 {
		watcher, err := reload.Watch([]string{configPath}, func() {
			mlog.L().Info("config file changed; restart to pick up new values (live reload of running values is not yet wired)")
		})
		if err == nil {
			s.watcher = watcher
		}
	}

	if path := s.cfg.Snapshot.Path; len(path) > 0 {
		s.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
			defer done()
			<-closeSignal
			if err := snapshot.Save(s.cache, path); err != nil {
				mlog.L().Warn("failed to save cache snapshot", zap.String("path", path), zap.Error(err))
			}
			if s.watcher != nil {
				s.watcher.Close()
			}
		})
	}

	return nil
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
