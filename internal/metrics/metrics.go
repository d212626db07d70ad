// Package metrics exposes Prometheus collectors for the anomaly engine and
// its HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tradeguard"

// Metrics groups the collectors registered on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	trainings      *prometheus.CounterVec
	trainDuration  prometheus.Histogram
	detections     *prometheus.CounterVec
	detectDuration prometheus.Histogram
	scoredRecords  prometheus.Counter
	riskLevels     *prometheus.CounterVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		trainings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_trainings_total",
			Help:      "Isolation forest training runs by result.",
		}, []string{"result"}),
		trainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_training_duration_seconds",
			Help:      "Time spent building an isolation forest.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detection calls by result.",
		}, []string{"result"}),
		detectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_duration_seconds",
			Help:      "Time spent scoring a batch.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		scoredRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scored_records_total",
			Help:      "Records scored across all detection calls.",
		}),
		riskLevels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_level_total",
			Help:      "Scored records by assigned risk level.",
		}, []string{"level"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.trainings,
		m.trainDuration,
		m.detections,
		m.detectDuration,
		m.scoredRecords,
		m.riskLevels,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// ObserveTraining records one training run.
func (m *Metrics) ObserveTraining(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.trainings.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.trainDuration.Observe(d.Seconds())
	}
}

// ObserveDetection records one detection call over n records.
func (m *Metrics) ObserveDetection(d time.Duration, n int, err error) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.detectDuration.Observe(d.Seconds())
		m.scoredRecords.Add(float64(n))
	}
}

// ObserveRiskLevel counts a record classified at level.
func (m *Metrics) ObserveRiskLevel(level string) {
	if m == nil {
		return
	}
	m.riskLevels.WithLabelValues(level).Inc()
}

// ObserveRequest records a served HTTP request.
func (m *Metrics) ObserveRequest(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
