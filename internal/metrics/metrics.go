// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine's Prometheus collectors.
type Metrics struct {
	ScanTicks      prometheus.Counter
	ScanErrors     prometheus.Counter
	ScanDuration   prometheus.Histogram
	SymbolsScanned prometheus.Counter
	SignalsFound   *prometheus.CounterVec
	NewSignals     prometheus.Counter
	CacheHits      prometheus.Gauge
	CacheMisses    prometheus.Gauge
	QueueDepth     prometheus.Gauge
	BreakerOpen    *prometheus.GaugeVec
	Subscribers    prometheus.Gauge
}

// New registers the collectors on a registry (the default registerer when
// nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ScanTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "signal_engine_scan_ticks_total",
			Help: "Completed auto-scan ticks.",
		}),
		ScanErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "signal_engine_scan_errors_total",
			Help: "Errors encountered during auto-scan ticks.",
		}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "signal_engine_scan_duration_seconds",
			Help:    "Auto-scan tick duration.",
			Buckets: prometheus.DefBuckets,
		}),
		SymbolsScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "signal_engine_symbols_scanned_total",
			Help: "Symbols evaluated across all ticks.",
		}),
		SignalsFound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "signal_engine_signals_found_total",
			Help: "Decisions emitted, labeled by grade.",
		}, []string{"grade"}),
		NewSignals: factory.NewCounter(prometheus.CounterOpts{
			Name: "signal_engine_new_signals_total",
			Help: "First-time signals broadcast to subscribers.",
		}),
		CacheHits: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signal_engine_cache_hits",
			Help: "Cumulative cache hits.",
		}),
		CacheMisses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signal_engine_cache_misses",
			Help: "Cumulative cache misses.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signal_engine_rate_limiter_queue_depth",
			Help: "Current rate-limiter waiter queue depth.",
		}),
		BreakerOpen: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signal_engine_circuit_open",
			Help: "1 when the named circuit is open.",
		}, []string{"circuit"}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "signal_engine_subscribers",
			Help: "Live broadcast subscriber slots.",
		}),
	}
}
