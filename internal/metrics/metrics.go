package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync cycle metrics
	SyncCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_sync_cycle_duration_seconds",
			Help:    "Duration of polling sync cycles in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_sync_cycles_total",
			Help: "Total number of sync cycles by outcome",
		},
		[]string{"status"},
	)

	SyncRecordsPulled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_sync_records_pulled_total",
			Help: "Total number of attendance records pulled from devices",
		},
	)

	SyncRecordsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_records_delivered_total",
			Help: "Total number of attendance records delivered to the HR endpoint",
		},
		[]string{"source"}, // "sync", "push", "replay"
	)

	SyncWatermark = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_sync_watermark_timestamp_seconds",
			Help: "Current sync watermark as a Unix timestamp",
		},
	)

	SyncIndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_sync_processed_index_size",
			Help: "Number of record identities held in the duplicate index",
		},
	)

	// Forwarder metrics
	ForwarderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_forwarder_attempts_total",
			Help: "HTTP delivery attempts to the HR endpoint by result",
		},
		[]string{"endpoint", "result"}, // result: "success", "failure", "rejected"
	)

	ForwarderBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_forwarder_batches_total",
			Help: "Batches handed to the forwarder by final outcome",
		},
		[]string{"endpoint", "result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Push listener metrics
	PushConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_push_connections_active",
			Help: "Number of open device push connections",
		},
	)

	PushRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_push_requests_total",
			Help: "Device push requests by kind",
		},
		[]string{"kind"}, // "attlog", "heartbeat", "other", "malformed"
	)

	PushRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_push_records_decoded_total",
			Help: "Attendance lines decoded from device pushes",
		},
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_dead_letters_total",
			Help: "Push batches sent to the dead-letter queue",
		},
		[]string{"result"},
	)
)

// RecordCycle records the outcome of one sync cycle.
func RecordCycle(status string, duration time.Duration, pulled int) {
	SyncCycles.WithLabelValues(status).Inc()
	SyncCycleDuration.Observe(duration.Seconds())
	SyncRecordsPulled.Add(float64(pulled))
}

// RecordLedger publishes the watermark and index size.
func RecordLedger(watermark time.Time, indexSize int) {
	SyncWatermark.Set(float64(watermark.Unix()))
	SyncIndexSize.Set(float64(indexSize))
}
