package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for fetching, extraction and
// batch outcomes. Every helper is safe on a nil receiver.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    prometheus.Histogram
	ErrorsTotal        *prometheus.CounterVec
	PagesCrawledTotal  prometheus.Counter
	CandidatesTotal    *prometheus.CounterVec
	ProductsTotal      prometheus.Counter
	DroppedTotal       *prometheus.CounterVec
	EnrichmentsTotal   *prometheus.CounterVec
	CompetitorsTotal   *prometheus.CounterVec
	CompetitorDuration prometheus.Histogram
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"outcome"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	pages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_pages_crawled_total",
			Help: "Total number of HTML pages crawled.",
		},
	)
	candidates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_candidates_total",
			Help: "Raw candidates yielded per extraction strategy.",
		},
		[]string{"strategy"},
	)
	products := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_products_total",
			Help: "Products accepted after finalization and dedup.",
		},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_candidates_dropped_total",
			Help: "Candidates dropped by the finalizer by reason.",
		},
		[]string{"reason"},
	)
	enrichments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_enrichments_total",
			Help: "AI enrichment attempts by outcome.",
		},
		[]string{"outcome"},
	)
	competitors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_competitors_total",
			Help: "Competitors processed by outcome.",
		},
		[]string{"status"},
	)
	competitorDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_competitor_duration_seconds",
			Help:    "Time spent scraping one competitor.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	registry.MustRegister(requests, requestDuration, errorsTotal, pages, candidates,
		products, dropped, enrichments, competitors, competitorDuration)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		ErrorsTotal:        errorsTotal,
		PagesCrawledTotal:  pages,
		CandidatesTotal:    candidates,
		ProductsTotal:      products,
		DroppedTotal:       dropped,
		EnrichmentsTotal:   enrichments,
		CompetitorsTotal:   competitors,
		CompetitorDuration: competitorDuration,
	}
}

// ObserveFetch records one HTTP request. errType is empty on success.
func (m *Metrics) ObserveFetch(d time.Duration, errType string) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
	if errType == "" {
		m.RequestsTotal.WithLabelValues("ok").Inc()
		return
	}
	m.RequestsTotal.WithLabelValues("error").Inc()
	m.ErrorsTotal.WithLabelValues(errType).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncPages increments the crawled pages counter.
func (m *Metrics) IncPages() {
	if m == nil {
		return
	}
	m.PagesCrawledTotal.Inc()
}

// AddCandidates records n raw candidates from strategy.
func (m *Metrics) AddCandidates(strategy string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.CandidatesTotal.WithLabelValues(strategy).Add(float64(n))
}

// AddProducts records n accepted products.
func (m *Metrics) AddProducts(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ProductsTotal.Add(float64(n))
}

// ObserveDropped records a candidate dropped for reason.
func (m *Metrics) ObserveDropped(reason string) {
	if m == nil {
		return
	}
	m.DroppedTotal.WithLabelValues(reason).Inc()
}

// ObserveEnrichment records one enrichment attempt.
func (m *Metrics) ObserveEnrichment(outcome string) {
	if m == nil {
		return
	}
	m.EnrichmentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCompetitor records a finished competitor.
func (m *Metrics) ObserveCompetitor(success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "failed"
	if success {
		status = "success"
	}
	m.CompetitorsTotal.WithLabelValues(status).Inc()
	m.CompetitorDuration.Observe(d.Seconds())
}
