package cache

// metrics.go keeps Cache depending on the small metricsSink interface
// below rather than on Prometheus directly, so metrics can be disabled
// (noopMetrics) with zero overhead on the hot path, or enabled by
// passing a *prometheus.Registry via WithMetrics.
//
// © 2025 cachekit authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricsSink interface {
	incHit()
	incMiss()
	incWrite()
	incRemoval()
	incError()
	incExpiredCleanup()
	incWALRecovery()
	incChecksumFailure()
	incFastPathHit()
	incEviction(policy string)
	setEntries(n float64)
	setTotalBytes(n float64)
	setCompressionRatio(ratio float64)
}

type noopMetrics struct{}

func (noopMetrics) incHit()                     {}
func (noopMetrics) incMiss()                    {}
func (noopMetrics) incWrite()                   {}
func (noopMetrics) incRemoval()                 {}
func (noopMetrics) incError()                   {}
func (noopMetrics) incExpiredCleanup()          {}
func (noopMetrics) incWALRecovery()             {}
func (noopMetrics) incChecksumFailure()         {}
func (noopMetrics) incFastPathHit()             {}
func (noopMetrics) incEviction(string)          {}
func (noopMetrics) setEntries(float64)          {}
func (noopMetrics) setTotalBytes(float64)       {}
func (noopMetrics) setCompressionRatio(float64) {}

type promMetrics struct {
	hits             prometheus.Counter
	misses           prometheus.Counter
	writes           prometheus.Counter
	removals         prometheus.Counter
	errors           prometheus.Counter
	expiredCleanups  prometheus.Counter
	walRecoveries    prometheus.Counter
	checksumFailures prometheus.Counter
	fastPathHits     prometheus.Counter
	evictions        *prometheus.CounterVec
	entries          prometheus.Gauge
	totalBytes       prometheus.Gauge
	compressionRatio prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	m := &promMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachekit", Name: "hits_total", Help: "Number of cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachekit", Name: "misses_total", Help: "Number of cache misses.",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachekit", Name: "writes_total", Help: "Number of successful puts.",
		}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachekit", Name: "removals_total", Help: "Number of successful removes.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachekit", Name: "errors_total", Help: "Number of operations that failed.",
		}),
		expiredCleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachekit", Name: "expired_cleanups_total", Help: "Entries reaped by the TTL sweep.",
		}),
		walRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachekit", Name: "wal_recoveries_total", Help: "WAL records re-applied on open.",
		}),
		checksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachekit", Name: "checksum_failures_total", Help: "WAL tail-corruption events observed.",
		}),
		fastPathHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachekit", Name: "fast_path_hits_total", Help: "Gets served by the fast path.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachekit", Name: "evictions_total", Help: "Entries evicted, labeled by policy.",
		}, []string{"policy"}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachekit", Name: "entries", Help: "Live entry count.",
		}),
		totalBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachekit", Name: "total_bytes", Help: "Live total encoded payload bytes.",
		}),
		compressionRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachekit", Name: "compression_ratio", Help: "Bytes out / bytes in for the codec.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.writes, m.removals, m.errors,
		m.expiredCleanups, m.walRecoveries, m.checksumFailures, m.fastPathHits,
		m.evictions, m.entries, m.totalBytes, m.compressionRatio)
	return m
}

func (m *promMetrics) incHit()             { m.hits.Inc() }
func (m *promMetrics) incMiss()            { m.misses.Inc() }
func (m *promMetrics) incWrite()           { m.writes.Inc() }
func (m *promMetrics) incRemoval()         { m.removals.Inc() }
func (m *promMetrics) incError()           { m.errors.Inc() }
func (m *promMetrics) incExpiredCleanup()  { m.expiredCleanups.Inc() }
func (m *promMetrics) incWALRecovery()     { m.walRecoveries.Inc() }
func (m *promMetrics) incChecksumFailure() { m.checksumFailures.Inc() }
func (m *promMetrics) incFastPathHit()     { m.fastPathHits.Inc() }
func (m *promMetrics) incEviction(policy string) {
	m.evictions.WithLabelValues(policy).Inc()
}
func (m *promMetrics) setEntries(n float64)              { m.entries.Set(n) }
func (m *promMetrics) setTotalBytes(n float64)           { m.totalBytes.Set(n) }
func (m *promMetrics) setCompressionRatio(ratio float64) { m.compressionRatio.Set(ratio) }

// newMetricsSink picks the Prometheus-backed sink when reg is non-nil,
// otherwise the zero-cost noop sink.
func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
