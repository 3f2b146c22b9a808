// Package metrics declares the Prometheus collectors exported by pdsa-server.
// All collectors register with the default registry via promauto and are
// served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdsa_requests_total",
			Help: "Total API requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pdsa_request_latency_seconds",
			Help:    "Request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Alert metrics
	AlertsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pdsa_alerts_total",
			Help: "Alerts by priority",
		},
		[]string{"priority"},
	)

	AlertCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdsa_alert_cache_lookups_total",
			Help: "Alert cache lookups by result",
		},
		[]string{"result"}, // hit/miss
	)

	// Model metrics
	TrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdsa_trainings_total",
			Help: "Total model training runs",
		},
		[]string{"status"},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pdsa_training_duration_seconds",
			Help:    "Model training duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)

	TrainingSamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pdsa_training_samples",
			Help: "Number of samples used by the last successful training run",
		},
	)

	PredictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pdsa_predictions_total",
			Help: "Total telemetry records scored",
		},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pdsa_notifications_total",
			Help: "Slack notification deliveries by priority and status",
		},
		[]string{"priority", "status"}, // status: sent/failed
	)
)
