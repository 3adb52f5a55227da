package telemetry

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "casearch"

// Metrics holds the Prometheus collectors for search and indexing. Each
// Metrics has its own registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	strategyDuration *prometheus.HistogramVec
	strategyHits     *prometheus.HistogramVec
	strategyFailures *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec

	searchDuration prometheus.Histogram
	searchResults  prometheus.Histogram
	searchTotal    *prometheus.CounterVec

	indexTotal    *prometheus.CounterVec
	indexDuration prometheus.Histogram

	documents *prometheus.GaugeVec
	units     *prometheus.GaugeVec
	vectors   prometheus.Gauge
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		strategyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "strategy_duration_seconds",
				Help:      "Duration of completed retrieval strategies.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"strategy"},
		),
		strategyHits: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "strategy_hits",
				Help:      "Hits returned by completed retrieval strategies.",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
			},
			[]string{"strategy"},
		),
		strategyFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "strategy_failures_total",
				Help:      "Retrieval strategy failures by reason.",
			},
			[]string{"strategy", "reason"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "or_fallback_total",
				Help:      "AND queries with no matches re-issued in OR mode.",
			},
			[]string{"strategy"},
		),
		searchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "duration_seconds",
				Help:      "End-to-end search duration.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		searchResults: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "results",
				Help:      "Results returned per search.",
				Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
			},
		),
		searchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "search",
				Name:      "total",
				Help:      "Searches by outcome.",
			},
			[]string{"outcome"},
		),
		indexTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "documents_total",
				Help:      "Documents processed by the indexer by status.",
			},
			[]string{"status"},
		),
		indexDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "document_duration_seconds",
				Help:      "Time to index one document.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		documents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "documents",
				Help:      "Documents in the store by status.",
			},
			[]string{"status"},
		),
		units: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "units",
				Help:      "Stored pages and chunks.",
			},
			[]string{"kind"},
		),
		vectors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "vectors",
				Help:      "Chunk embeddings in the vector index.",
			},
		),
	}

	registry.MustRegister(
		m.strategyDuration, m.strategyHits, m.strategyFailures, m.fallbacks,
		m.searchDuration, m.searchResults, m.searchTotal,
		m.indexTotal, m.indexDuration,
		m.documents, m.units, m.vectors,
	)
	return m
}

// ObserveStrategy records a completed strategy.
func (m *Metrics) ObserveStrategy(strategy string, d time.Duration, hits int) {
	if m == nil {
		return
	}
	m.strategyDuration.WithLabelValues(strategy).Observe(d.Seconds())
	m.strategyHits.WithLabelValues(strategy).Observe(float64(hits))
}

// RecordStrategyFailure counts a strategy that did not contribute.
func (m *Metrics) RecordStrategyFailure(strategy, reason string) {
	if m == nil {
		return
	}
	m.strategyFailures.WithLabelValues(strategy, reason).Inc()
}

// RecordFallback counts an AND to OR fallback.
func (m *Metrics) RecordFallback(strategy string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(strategy).Inc()
}

// ObserveSearch records a finished search.
func (m *Metrics) ObserveSearch(d time.Duration, results int, degraded bool) {
	if m == nil {
		return
	}
	m.searchDuration.Observe(d.Seconds())
	m.searchResults.Observe(float64(results))

	outcome := "ok"
	switch {
	case degraded:
		outcome = "degraded"
	case results == 0:
		outcome = "empty"
	}
	m.searchTotal.WithLabelValues(outcome).Inc()
}

// ObserveIndex records one indexed document. A non-nil err counts it as
// failed.
func (m *Metrics) ObserveIndex(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "indexed"
	if err != nil {
		status = "error"
	}
	m.indexTotal.WithLabelValues(status).Inc()
	m.indexDuration.Observe(d.Seconds())
}

// SetStoreStats sets the store gauges.
func (m *Metrics) SetStoreStats(byStatus map[string]int, pages, chunks, vectors int) {
	if m == nil {
		return
	}
	m.documents.Reset()
	for status, n := range byStatus {
		m.documents.WithLabelValues(status).Set(float64(n))
	}
	m.units.WithLabelValues("page").Set(float64(pages))
	m.units.WithLabelValues("chunk").Set(float64(chunks))
	m.vectors.Set(float64(vectors))
}

// WriteText writes all metrics in the Prometheus text exposition format.
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
