// Package metrics exposes Prometheus collectors for the monitoring engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scanCyclesTotal          *prometheus.CounterVec
	scanCycleDurationSeconds prometheus.Histogram
	pageFetchesTotal         *prometheus.CounterVec
	changeEventsTotal        *prometheus.CounterVec
	alertsTotal              *prometheus.CounterVec
	rankingChecksTotal       *prometheus.CounterVec
	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. Every Observe* helper calls it
// first, so explicit initialization is only needed to register the
// collectors before the first observation (e.g. so /metrics exposes them
// at zero). It is safe to call multiple times.
func Init() {
	once.Do(func() {
		scanCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compwatch_scan_cycles_total",
				Help: "Total number of scan cycles, labeled by job and status.",
			},
			[]string{"job", "status"},
		)

		scanCycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "compwatch_scan_cycle_duration_seconds",
				Help:    "Histogram of competitor scan cycle durations.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
			},
		)

		pageFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compwatch_page_fetches_total",
				Help: "Total number of page fetches, labeled by competitor and outcome.",
			},
			[]string{"competitor", "outcome"},
		)

		changeEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compwatch_change_events_total",
				Help: "Total number of detected change events, labeled by type.",
			},
			[]string{"type"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compwatch_alerts_total",
				Help: "Total number of alert decisions, labeled by status and reason.",
			},
			[]string{"status", "reason"},
		)

		rankingChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "compwatch_ranking_checks_total",
				Help: "Total number of keyword ranking checks, labeled by status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveScanCycle records one completed scan cycle.
func ObserveScanCycle(job, status string, duration time.Duration) {
	Init()
	scanCyclesTotal.WithLabelValues(job, status).Inc()
	if job == "competitor_scan" {
		scanCycleDurationSeconds.Observe(duration.Seconds())
	}
}

// ObservePageFetch increments the fetch counter for a competitor.
func ObservePageFetch(competitor, outcome string) {
	Init()
	pageFetchesTotal.WithLabelValues(competitor, outcome).Inc()
}

// ObserveChangeEvent increments the change event counter.
func ObserveChangeEvent(changeType string) {
	Init()
	changeEventsTotal.WithLabelValues(changeType).Inc()
}

// ObserveAlert records one alert state machine outcome.
func ObserveAlert(status, reason string) {
	Init()
	if reason == "" {
		reason = "none"
	}
	alertsTotal.WithLabelValues(status, reason).Inc()
}

// ObserveRankingCheck increments the ranking check counter.
func ObserveRankingCheck(status string) {
	Init()
	rankingChecksTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
