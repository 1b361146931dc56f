// Package metrics exposes Prometheus collectors for the pipeline service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal      *prometheus.CounterVec
	fetchRetriesTotal      *prometheus.CounterVec
	articlesInsertedTotal  *prometheus.CounterVec
	articlesDuplicateTotal *prometheus.CounterVec
	enrichmentsTotal       *prometheus.CounterVec
	enrichmentDegraded     *prometheus.CounterVec
	deliveriesTotal        *prometheus.CounterVec
	deliveriesSuppressed   prometheus.Counter
	crawlPassSeconds       *prometheus.HistogramVec
	paceDelaySeconds       *prometheus.HistogramVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_pages_fetched_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_fetch_retries_total",
				Help: "Total number of fetch retries, labeled by site.",
			},
			[]string{"site"},
		)

		articlesInsertedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_articles_inserted_total",
				Help: "Total raw articles inserted, labeled by source.",
			},
			[]string{"source"},
		)

		articlesDuplicateTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_articles_duplicate_total",
				Help: "Total raw inserts absorbed as duplicates, labeled by source.",
			},
			[]string{"source"},
		)

		enrichmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_enrichments_total",
				Help: "Total enrichment outcomes, labeled by result.",
			},
			[]string{"result"},
		)

		enrichmentDegraded = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_enrichment_degraded_total",
				Help: "Enrichment sub-steps that fell back, labeled by step.",
			},
			[]string{"step"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_deliveries_total",
				Help: "Total delivery attempts, labeled by kind and result.",
			},
			[]string{"kind", "result"},
		)

		deliveriesSuppressed = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "pipeline_deliveries_suppressed_total",
				Help: "Rows skipped by the tag suppression list and left pending.",
			},
		)

		crawlPassSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_crawl_pass_seconds",
				Help:    "Histogram of crawl pass durations, labeled by tier.",
				Buckets: []float64{1, 5, 15, 60, 300, 1800, 7200},
			},
			[]string{"tier"},
		)

		paceDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_pace_delay_seconds",
				Help:    "Histogram of courtesy pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of admin HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of admin HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch increments the page fetch counter.
func ObserveFetch(site string, status string) {
	pagesFetchedTotal.WithLabelValues(SanitizeSite(site), status).Inc()
}

// ObserveFetchRetry counts a retried fetch attempt.
func ObserveFetchRetry(site string) {
	fetchRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveInsert counts a raw article insert, split by dedup outcome.
func ObserveInsert(source string, duplicate bool) {
	if duplicate {
		articlesDuplicateTotal.WithLabelValues(source).Inc()
		return
	}
	articlesInsertedTotal.WithLabelValues(source).Inc()
}

// ObserveEnrichment counts an enrichment outcome ("ok", "ineligible",
// "duplicate", "error").
func ObserveEnrichment(result string) {
	enrichmentsTotal.WithLabelValues(result).Inc()
}

// ObserveDegradation counts a condensation or translation fallback.
func ObserveDegradation(step string) {
	enrichmentDegraded.WithLabelValues(step).Inc()
}

// ObserveDelivery counts a delivery attempt outcome.
func ObserveDelivery(kind string, result string) {
	deliveriesTotal.WithLabelValues(kind, result).Inc()
}

// ObserveSuppressed counts a row withheld by the suppression list.
func ObserveSuppressed() {
	deliveriesSuppressed.Inc()
}

// ObserveHTTPRequest increments the admin HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCrawlPass records the duration of one tier pass.
func ObserveCrawlPass(tier string, duration time.Duration) {
	crawlPassSeconds.WithLabelValues(tier).Observe(duration.Seconds())
}

// ObservePaceDelay records a courtesy pacing wait.
func ObservePaceDelay(site string, duration time.Duration) {
	paceDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}
