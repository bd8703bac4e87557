// Package metrics owns the prometheus registry and the instrument set shared
// by the data plane. Constructed once at boot and injected; components that
// receive a nil *Set simply skip instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles the core instruments.
type Set struct {
	registry *prometheus.Registry

	CacheHits     *prometheus.CounterVec // tier: l1|l2
	CacheMisses   *prometheus.CounterVec
	CacheSets     *prometheus.CounterVec
	FetchOutcomes *prometheus.CounterVec // outcome: hit|fresh|upstream|stale_fallback|error
	FetchLatency  *prometheus.HistogramVec
	UpstreamCalls *prometheus.CounterVec // adapter, result
	BreakerOpens  *prometheus.CounterVec // name
	WSConnections prometheus.Gauge
	WSBroadcasts  *prometheus.CounterVec // topic_type
	WSSendErrors  prometheus.Counter
	WarmupRuns    *prometheus.CounterVec // job, result
	RowsUpserted  *prometheus.CounterVec // table
}

// New builds a Set on a fresh registry.
func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{
		registry: reg,
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecore_cache_hits_total",
			Help: "Cache hits by tier.",
		}, []string{"tier"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecore_cache_misses_total",
			Help: "Cache misses by tier.",
		}, []string{"tier"}),
		CacheSets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecore_cache_sets_total",
			Help: "Cache writes by tier.",
		}, []string{"tier"}),
		FetchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecore_fetch_outcomes_total",
			Help: "Fetch coordinator outcomes.",
		}, []string{"outcome"}),
		FetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quotecore_fetch_duration_seconds",
			Help:    "Fetch coordinator end-to-end latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"interval"}),
		UpstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecore_upstream_calls_total",
			Help: "Upstream adapter calls by adapter and result kind.",
		}, []string{"adapter", "result"}),
		BreakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecore_breaker_opens_total",
			Help: "Circuit breaker open transitions.",
		}, []string{"name"}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quotecore_ws_connections",
			Help: "Live WebSocket sessions.",
		}),
		WSBroadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecore_ws_broadcasts_total",
			Help: "Topic broadcasts by topic type.",
		}, []string{"topic_type"}),
		WSSendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotecore_ws_send_errors_total",
			Help: "Failed WebSocket sends.",
		}),
		WarmupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecore_warmup_runs_total",
			Help: "Warm-up job executions by job and result.",
		}, []string{"job", "result"}),
		RowsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotecore_rows_upserted_total",
			Help: "Rows written through the store gateway by table.",
		}, []string{"table"}),
	}

	reg.MustRegister(
		s.CacheHits, s.CacheMisses, s.CacheSets,
		s.FetchOutcomes, s.FetchLatency, s.UpstreamCalls, s.BreakerOpens,
		s.WSConnections, s.WSBroadcasts, s.WSSendErrors,
		s.WarmupRuns, s.RowsUpserted,
	)
	return s
}

// Registry exposes the underlying registry for the /metrics handler.
func (s *Set) Registry() *prometheus.Registry { return s.registry }
