package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dirauth"

// Ensure Metrics implements Recorder at compile time.
var _ Recorder = (*Metrics)(nil)

// Metrics holds the Prometheus collectors.
type Metrics struct {
	AuthAttemptsTotal   *prometheus.CounterVec
	AuthDuration        *prometheus.HistogramVec
	LookupsTotal        *prometheus.CounterVec
	SearchesTotal       *prometheus.CounterVec
	SearchResults       prometheus.Histogram
	HealthChecksTotal   *prometheus.CounterVec
	HealthCheckDuration prometheus.Histogram
	DirectoryHealthy    prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AuthAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authentication_attempts_total",
				Help:      "Total number of directory authentication attempts",
			},
			[]string{"status", "kind"},
		),
		AuthDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "authentication_duration_seconds",
				Help:      "Time taken to authenticate against the directory",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		LookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookups_total",
				Help:      "Total number of user lookups",
			},
			[]string{"result"},
		),
		SearchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "searches_total",
				Help:      "Total number of user searches",
			},
			[]string{"result"},
		),
		SearchResults: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results",
				Help:      "Number of users returned per search",
				Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		HealthChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "health_checks_total",
				Help:      "Total number of directory health checks",
			},
			[]string{"result"},
		),
		HealthCheckDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "health_check_duration_seconds",
				Help:      "Time taken by a directory health check",
				Buckets:   prometheus.DefBuckets,
			},
		),
		DirectoryHealthy: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "directory_healthy",
				Help:      "1 when the last health check passed, 0 otherwise",
			},
		),
	}
}

func (m *Metrics) RecordAuthentication(status, kind string, duration time.Duration) {
	m.AuthAttemptsTotal.WithLabelValues(status, kind).Inc()
	m.AuthDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *Metrics) RecordLookup(result string) {
	m.LookupsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSearch(result string, returned int) {
	m.SearchesTotal.WithLabelValues(result).Inc()
	if result == "ok" {
		m.SearchResults.Observe(float64(returned))
	}
}

func (m *Metrics) RecordHealthCheck(healthy bool, duration time.Duration) {
	result := "healthy"
	value := 1.0
	if !healthy {
		result = "unhealthy"
		value = 0
	}
	m.HealthChecksTotal.WithLabelValues(result).Inc()
	m.HealthCheckDuration.Observe(duration.Seconds())
	m.DirectoryHealthy.Set(value)
}
