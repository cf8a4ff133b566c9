package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swiftdns/swiftdns/internal/cache"
	"github.com/swiftdns/swiftdns/internal/stats"
)

// NewMetricsRegistry builds a registry carrying the standard process and
// Go runtime collectors plus GaugeFuncs mirroring the dispatcher's cache
// and query statistics, following the same registry-construction shape
// as mosdns's newMetricsReg.
func NewMetricsRegistry(c *cache.ShardedCache, st *stats.Stats) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "swiftdns", Subsystem: "cache", Name: "size"},
		func() float64 { return float64(c.Stats().Size) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "swiftdns", Subsystem: "cache", Name: "hit_ratio"},
		func() float64 { return c.Stats().HitRatio() },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "swiftdns", Subsystem: "cache", Name: "evictions_total"},
		func() float64 { return float64(c.Stats().Evictions) },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "swiftdns", Name: "queries_total"},
		func() float64 { return float64(st.Snapshot().TotalQueries) },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: "swiftdns", Name: "upstream_failures_total"},
		func() float64 { return float64(st.Snapshot().UpstreamFailures) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "swiftdns", Name: "response_time_p95_ms"},
		func() float64 { return st.Snapshot().P95ResponseMS },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: "swiftdns", Name: "response_time_p99_ms"},
		func() float64 { return st.Snapshot().P99ResponseMS },
	))
	return reg
}

// NewMetricsHandler mounts /metrics for reg on a fresh ServeMux.
func NewMetricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}
