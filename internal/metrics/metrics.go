// Package metrics exposes the parser's Prometheus collectors on a dedicated
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector.
type Metrics struct {
	registry *prometheus.Registry

	parses        *prometheus.CounterVec
	parseDuration *prometheus.HistogramVec
	modelCalls    *prometheus.CounterVec
	modelDuration *prometheus.HistogramVec
	modelTokens   *prometheus.CounterVec
	modelRepairs  *prometheus.CounterVec
	gateDepth     prometheus.Gauge
	cacheLookups  *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	needsReview   *prometheus.CounterVec
	cacheSwept    prometheus.Counter
}

// New registers the collectors under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "coverage"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		parses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_requests_total",
			Help:      "Parse requests by coverage type, outcome status and parse method.",
		}, []string{"coverage_type", "status", "method"}),
		parseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "parse_duration_seconds",
			Help:      "End-to-end parse latency.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 90},
		}, []string{"status"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model calls by provider and failure kind (empty on success).",
		}, []string{"provider", "kind"}),
		modelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Model call latency including retries and queueing.",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 90, 120},
		}, []string{"provider"}),
		modelTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tokens_total",
			Help:      "Tokens consumed by direction.",
		}, []string{"provider", "direction"}),
		modelRepairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_output_repairs_total",
			Help:      "Normalization repairs applied to model output.",
		}, []string{"repair"}),
		gateDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gate_queue_depth",
			Help:      "Callers waiting for the model gate.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by outcome.",
		}, []string{"result"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Hard-rule fallbacks by triggering failure kind.",
		}, []string{"kind", "outcome"}),
		needsReview: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fields_needs_review_total",
			Help:      "Auxiliary fields flagged for human review.",
		}, []string{"field"}),
		cacheSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_swept_entries_total",
			Help:      "Expired cache entries removed by the sweeper.",
		}),
	}

	reg.MustRegister(
		m.parses, m.parseDuration,
		m.modelCalls, m.modelDuration, m.modelTokens, m.modelRepairs,
		m.gateDepth, m.cacheLookups, m.fallbacks, m.needsReview, m.cacheSwept,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveParse records one finished parse.
func (m *Metrics) ObserveParse(coverageType, status, method string, d time.Duration) {
	if m == nil {
		return
	}
	m.parses.WithLabelValues(coverageType, status, method).Inc()
	m.parseDuration.WithLabelValues(status).Observe(d.Seconds())
}

// ObserveModelCall records one model call.
func (m *Metrics) ObserveModelCall(provider, kind string, d time.Duration, tokensIn, tokensOut int64, repairs []string) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(provider, kind).Inc()
	m.modelDuration.WithLabelValues(provider).Observe(d.Seconds())
	m.modelTokens.WithLabelValues(provider, "input").Add(float64(tokensIn))
	m.modelTokens.WithLabelValues(provider, "output").Add(float64(tokensOut))
	for _, r := range repairs {
		m.modelRepairs.WithLabelValues(r).Inc()
	}
}

// SetGateDepth reports the gate queue depth. It matches gate.WithDepthObserver.
func (m *Metrics) SetGateDepth(waiting int) {
	if m == nil {
		return
	}
	m.gateDepth.Set(float64(waiting))
}

// CacheLookup records a hit or a miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// Fallback records a fallback attempt and whether it produced a result.
func (m *Metrics) Fallback(kind string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "parsed"
	}
	m.fallbacks.WithLabelValues(kind, outcome).Inc()
}

// NeedsReview records a field below the hard-rule authority threshold.
func (m *Metrics) NeedsReview(field string) {
	if m == nil {
		return
	}
	m.needsReview.WithLabelValues(field).Inc()
}

// CacheSwept records entries removed by a sweep.
func (m *Metrics) CacheSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheSwept.Add(float64(n))
}
