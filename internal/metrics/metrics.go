// Package metrics exposes Prometheus collectors for the roster pipeline.
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
	archiveRequestsTotal        *prometheus.CounterVec
	archiveRetriesTotal         *prometheus.CounterVec
	archiveRequestSeconds       *prometheus.HistogramVec
	rateLimitDelaySeconds       *prometheus.HistogramVec
	snapshotsTotal              *prometheus.CounterVec
	namesExtractedTotal         *prometheus.CounterVec
	generationIterationsTotal   *prometheus.CounterVec
	generationOutcomesTotal     *prometheus.CounterVec
	validationFailuresTotal     *prometheus.CounterVec
	datasetVersionsTotal        prometheus.Counter
	datasetLatestVersion        prometheus.Gauge
	programsTotal               *prometheus.CounterVec
	generationServiceCallsTotal *prometheus.CounterVec
	httpRequestSeconds          *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once.
func Init() {
	once.Do(func() {
		archiveRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_archive_requests_total",
				Help: "Archive requests by kind (timemap, page) and outcome.",
			},
			[]string{"kind", "outcome"},
		)
		archiveRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_archive_retries_total",
				Help: "Retried archive requests by kind.",
			},
			[]string{"kind"},
		)
		archiveRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_archive_request_duration_seconds",
				Help:    "Latency of single archive request attempts.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host", "code"},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the per-host limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_snapshots_total",
				Help: "Snapshots processed by site and outcome.",
			},
			[]string{"site", "outcome"},
		)
		namesExtractedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_names_extracted_total",
				Help: "Names extracted from snapshots by site.",
			},
			[]string{"site"},
		)
		generationIterationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_generation_iterations_total",
				Help: "Repair iterations run by the rule generator, by site.",
			},
			[]string{"site"},
		)
		generationOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_generation_outcomes_total",
				Help: "Rule generation results by outcome.",
			},
			[]string{"outcome"},
		)
		generationServiceCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_generation_service_calls_total",
				Help: "Calls to the code generation service by outcome.",
			},
			[]string{"outcome"},
		)
		validationFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_validation_failures_total",
				Help: "Rejected name lists by reason.",
			},
			[]string{"reason"},
		)
		datasetVersionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "roster_dataset_versions_total",
				Help: "Dataset versions written by this process.",
			},
		)
		datasetLatestVersion = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "roster_dataset_latest_version",
				Help: "Latest committed dataset version.",
			},
		)
		programsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_programs_total",
				Help: "Programs processed by outcome.",
			},
			[]string{"outcome"},
		)
		httpRequestSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "roster_http_request_seconds",
				Help:    "Latency of requests to the ops server.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "code"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from a URL, or "unknown".
func SanitizeHost(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler exposing the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveArchiveRequest records the outcome of a resolver or fetcher call.
func ObserveArchiveRequest(kind, outcome string) {
	Init()
	archiveRequestsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveArchiveRetry counts a retried archive attempt.
func ObserveArchiveRetry(kind string) {
	Init()
	archiveRetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveAttempt records the latency of one HTTP attempt.
func ObserveAttempt(rawURL string, code int, duration time.Duration) {
	Init()
	archiveRequestSeconds.WithLabelValues(SanitizeHost(rawURL), strconv.Itoa(code)).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records time spent blocked on the limiter.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveSnapshot records one processed snapshot and how many names it yielded.
func ObserveSnapshot(site, outcome string, names int) {
	Init()
	snapshotsTotal.WithLabelValues(site, outcome).Inc()
	if names > 0 {
		namesExtractedTotal.WithLabelValues(site).Add(float64(names))
	}
}

// ObserveGenerationIteration counts a repair iteration.
func ObserveGenerationIteration(site string) {
	Init()
	generationIterationsTotal.WithLabelValues(site).Inc()
}

// ObserveGenerationOutcome counts a finished generation run.
func ObserveGenerationOutcome(outcome string) {
	Init()
	generationOutcomesTotal.WithLabelValues(outcome).Inc()
}

// ObserveServiceCall counts a call to the code generation service.
func ObserveServiceCall(outcome string) {
	Init()
	generationServiceCallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveValidationFailure counts a rejected name list.
func ObserveValidationFailure(reason string) {
	Init()
	validationFailuresTotal.WithLabelValues(reason).Inc()
}

// ObserveDatasetVersion records a committed dataset version.
func ObserveDatasetVersion(version int) {
	Init()
	datasetVersionsTotal.Inc()
	datasetLatestVersion.Set(float64(version))
}

// ObserveProgram counts a finished program.
func ObserveProgram(outcome string) {
	Init()
	programsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest records a request served by the ops server.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestSeconds.WithLabelValues(method, route, strconv.Itoa(code)).Observe(duration.Seconds())
}
