// Package metrics exposes lookup and cache statistics to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/TomasB/ipgeo/pkg/ipinfo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements ipinfo.Observer.
type Metrics struct {
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CacheEntries        prometheus.Gauge
	FetchTotal          *prometheus.CounterVec
	FetchDurationMs     prometheus.Histogram
	FetchBatchSize      prometheus.Histogram
	IPErrorsTotal       prometheus.Counter

	gatherer prometheus.Gatherer
}

var _ ipinfo.Observer = (*Metrics)(nil)

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipgeo_cache_hits_total",
			Help: "Total IPs answered from the cache",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipgeo_cache_misses_total",
			Help: "Total IPs not found in the cache",
		}),
		CacheEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipgeo_cache_evictions_total",
			Help: "Total cache entries evicted for capacity",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ipgeo_cache_entries",
			Help: "Current number of cached records",
		}),
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ipgeo_fetch_total",
			Help: "Total remote batch calls by outcome",
		}, []string{"outcome"}),
		FetchDurationMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ipgeo_fetch_duration_ms",
			Help:    "Remote batch call duration in milliseconds",
			Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 3000},
		}),
		FetchBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ipgeo_fetch_batch_size",
			Help:    "Number of IPs per remote batch call",
			Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000},
		}),
		IPErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ipgeo_ip_errors_total",
			Help: "Total per-IP lookup failures",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheEvictionsTotal,
		m.CacheEntries,
		m.FetchTotal,
		m.FetchDurationMs,
		m.FetchBatchSize,
		m.IPErrorsTotal,
	)
	return m
}

// ObserveLookup counts cache hits and misses of one lookup.
func (m *Metrics) ObserveLookup(hits, misses int) {
	m.CacheHitsTotal.Add(float64(hits))
	m.CacheMissesTotal.Add(float64(misses))
}

// ObserveFetch records one remote batch call by outcome, duration and size.
func (m *Metrics) ObserveFetch(size int, d time.Duration, err error) {
	m.FetchTotal.WithLabelValues(outcome(err)).Inc()
	m.FetchDurationMs.Observe(float64(d.Milliseconds()))
	m.FetchBatchSize.Observe(float64(size))
}

// ObserveIPError counts a per-IP failure.
func (m *Metrics) ObserveIPError(string) { m.IPErrorsTotal.Inc() }

// ObserveEviction counts an entry evicted from the cache.
func (m *Metrics) ObserveEviction() { m.CacheEvictionsTotal.Inc() }

// ObserveCacheSize sets the current number of cached entries.
func (m *Metrics) ObserveCacheSize(n int) { m.CacheEntries.Set(float64(n)) }

// Handler serves the registered metrics for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ipinfo.ErrAuth):
		return "auth"
	case errors.Is(err, ipinfo.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ipinfo.ErrTransport):
		return "transport"
	default:
		return "error"
	}
}
