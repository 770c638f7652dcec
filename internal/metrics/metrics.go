// Package metrics exposes Prometheus collectors for apkfetch.
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
	downloadsTotal             *prometheus.CounterVec
	downloadBytesTotal         prometheus.Counter
	stageDurationSeconds       *prometheus.HistogramVec
	catalogRequestsTotal       *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		downloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apkfetch_downloads_total",
				Help: "Total number of download invocations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		downloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "apkfetch_download_bytes_total",
				Help: "Total number of archive bytes written to local storage.",
			},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apkfetch_stage_duration_seconds",
				Help:    "Histogram of pipeline stage latencies, labeled by stage.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 60},
			},
			[]string{"stage"},
		)

		catalogRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apkfetch_catalog_requests_total",
				Help: "Total number of outbound catalog requests, labeled by site, stage and status code.",
			},
			[]string{"site", "stage", "code"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apkfetch_rate_limit_delay_seconds",
				Help:    "Histogram of randomized pre-request delays, labeled by stage.",
				Buckets: []float64{0.1, 0.25, 0.5, 0.75, 1, 2, 5},
			},
			[]string{"stage"},
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

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apkfetch_jobs_total",
				Help: "Total number of API download jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "apkfetch_active_workers",
				Help: "Number of workers currently processing a job.",
			},
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

// ObserveDownload records the outcome of one download invocation.
func ObserveDownload(outcome string, bytesWritten int64) {
	Init()
	downloadsTotal.WithLabelValues(outcome).Inc()
	if bytesWritten > 0 {
		downloadBytesTotal.Add(float64(bytesWritten))
	}
}

// ObserveStage records how long a pipeline stage took.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveCatalogRequest counts an outbound request. A code of 0 means the
// request failed before a response arrived.
func ObserveCatalogRequest(rawURL, stage string, code int) {
	Init()
	label := strconv.Itoa(code)
	if code == 0 {
		label = "error"
	}
	catalogRequestsTotal.WithLabelValues(SanitizeSite(rawURL), stage, label).Inc()
}

// ObserveRateLimitDelay records the duration of a pre-request delay.
func ObserveRateLimitDelay(stage string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
