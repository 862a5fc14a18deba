// Package metrics exposes Prometheus collectors for the scraper service.
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

// Job outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)

var (
	scraperJobsTotal                 *prometheus.CounterVec
	scraperActiveJobs                prometheus.Gauge
	scraperOffersPublishedTotal      *prometheus.CounterVec
	scraperExtractionDurationSeconds *prometheus.HistogramVec
	scraperHostWaitSeconds           *prometheus.HistogramVec
	httpRequestsTotal                *prometheus.CounterVec
	httpRequestDurationSeconds       *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_jobs_total",
				Help: "Total number of scrape jobs settled, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		scraperActiveJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_jobs",
				Help: "Number of scrape jobs currently in flight.",
			},
		)

		scraperOffersPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_offers_published_total",
				Help: "Total number of offers published, labeled by strategy.",
			},
			[]string{"strategy"},
		)

		scraperExtractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_extraction_duration_seconds",
				Help:    "Histogram of extraction durations, labeled by strategy.",
				Buckets: []float64{1, 5, 10, 20, 30, 60, 120},
			},
			[]string{"strategy"},
		)

		scraperHostWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_host_wait_seconds",
				Help:    "Histogram of per-host pacing waits before navigation.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
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
	Init()
	return promhttp.Handler()
}

// ObserveJob counts a settled job.
func ObserveJob(outcome string) {
	Init()
	scraperJobsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveJobs increments the in-flight jobs gauge.
func IncActiveJobs() {
	Init()
	scraperActiveJobs.Inc()
}

// DecActiveJobs decrements the in-flight jobs gauge.
func DecActiveJobs() {
	Init()
	scraperActiveJobs.Dec()
}

// ObserveExtraction records how long a strategy ran.
func ObserveExtraction(strategy string, duration time.Duration) {
	Init()
	scraperExtractionDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObservePublished counts offers published for a strategy.
func ObservePublished(strategy string, offers int) {
	Init()
	if offers > 0 {
		scraperOffersPublishedTotal.WithLabelValues(strategy).Add(float64(offers))
	}
}

// ObserveHostWait records the duration of a per-host pacing wait.
func ObserveHostWait(site string, duration time.Duration) {
	Init()
	scraperHostWaitSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
