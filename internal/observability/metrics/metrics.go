package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "watertank_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	queryRequests *prometheus.CounterVec

	mqttQueueDepth prometheus.Gauge
	mqttDropped    prometheus.Counter
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by protocol and result",
			},
			[]string{"protocol", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by protocol and reason",
			},
			[]string{"protocol", "reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds by protocol",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol", "result"},
		)

		queryRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "query_requests_total",
				Help: "Total query requests by kind and result",
			},
			[]string{"kind", "result"},
		)

		mqttQueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "mqtt_queue_depth",
				Help: "Pending messages in the MQTT hand-off queue",
			},
		)
		mqttDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "mqtt_dropped_total",
				Help: "MQTT messages dropped on hand-off queue overflow",
			},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			queryRequests,
			mqttQueueDepth,
			mqttDropped,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(protocol, result string, duration time.Duration) {
	if protocol == "" {
		protocol = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(protocol, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(protocol, result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(protocol, reason string) {
	if protocol == "" {
		protocol = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(protocol, reason).Inc()
	}
}

// IncQuery increments query counters by kind.
func IncQuery(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if queryRequests != nil {
		queryRequests.WithLabelValues(kind, result).Inc()
	}
}

// SetMQTTQueueDepth records the hand-off queue depth.
func SetMQTTQueueDepth(depth int) {
	if mqttQueueDepth != nil {
		mqttQueueDepth.Set(float64(depth))
	}
}

// IncMQTTDropped increments the overflow drop counter.
func IncMQTTDropped() {
	if mqttDropped != nil {
		mqttDropped.Inc()
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
