// Package metrics exposes Prometheus collectors for the dispatcher service.
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
	dispatcherTicksTotal       *prometheus.CounterVec
	dispatcherEnabled          prometheus.Gauge
	tasksFinishedTotal         *prometheus.CounterVec
	executionsInFlight         prometheus.Gauge
	executionDurationSeconds   *prometheus.HistogramVec
	accountTransitionsTotal    *prometheus.CounterVec
	accountsRecoveredTotal     prometheus.Counter
	crawlPagesTotal            *prometheus.CounterVec
	crawlRateLimitDelaySeconds prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		dispatcherTicksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dispatcher_ticks_total",
				Help: "Dispatcher ticks, labeled by result.",
			},
			[]string{"result"},
		)

		dispatcherEnabled = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "dispatcher_enabled",
				Help: "1 while the dispatcher is enabled, 0 after it is disabled.",
			},
		)

		tasksFinishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_tasks_finished_total",
				Help: "Executed tasks, labeled by task type and outcome.",
			},
			[]string{"task_type", "outcome"},
		)

		executionsInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawl_executions_in_flight",
				Help: "Number of tasks currently being executed.",
			},
		)

		executionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawl_execution_duration_seconds",
				Help:    "Wall time of a single task execution.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"task_type"},
		)

		accountTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "login_account_transitions_total",
				Help: "Login account status changes, labeled by target status.",
			},
			[]string{"status"},
		)

		accountsRecoveredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "login_accounts_recovered_total",
				Help: "Accounts returned to NORMAL by the recovery sweep.",
			},
		)

		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_pages_total",
				Help: "Remote pages fetched, labeled by endpoint kind and result.",
			},
			[]string{"kind", "result"},
		)

		crawlRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawl_rate_limit_delay_seconds",
				Help:    "Time spent waiting on per-account pacing.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTick counts one dispatcher tick result.
func ObserveTick(result string) {
	Init()
	dispatcherTicksTotal.WithLabelValues(result).Inc()
}

// SetDispatcherEnabled mirrors the dispatcher's enabled flag.
func SetDispatcherEnabled(enabled bool) {
	Init()
	if enabled {
		dispatcherEnabled.Set(1)
		return
	}
	dispatcherEnabled.Set(0)
}

// ObserveTaskFinished records the outcome and duration of one execution.
func ObserveTaskFinished(taskType, outcome string, duration time.Duration) {
	Init()
	tasksFinishedTotal.WithLabelValues(taskType, outcome).Inc()
	executionDurationSeconds.WithLabelValues(taskType).Observe(duration.Seconds())
}

// IncExecutions increments the in-flight execution gauge.
func IncExecutions() {
	Init()
	executionsInFlight.Inc()
}

// DecExecutions decrements the in-flight execution gauge.
func DecExecutions() {
	Init()
	executionsInFlight.Dec()
}

// ObserveAccountTransition counts an account moving to status.
func ObserveAccountTransition(status string) {
	Init()
	accountTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveRecovered adds n recovered accounts.
func ObserveRecovered(n int64) {
	Init()
	if n > 0 {
		accountsRecoveredTotal.Add(float64(n))
	}
}

// ObservePage counts one remote page fetch.
func ObservePage(kind, result string) {
	Init()
	crawlPagesTotal.WithLabelValues(kind, result).Inc()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	crawlRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
