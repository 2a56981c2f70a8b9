// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	EventsProcessed     *prometheus.CounterVec
	MalformedEvents     prometheus.Counter
	UnknownEntityEvents *prometheus.CounterVec
	DeadLetterEvents    prometheus.Counter
	FallbackSymbols     prometheus.Counter

	// Aggregation metrics
	SnapshotsEmitted  *prometheus.CounterVec
	TrackedTraders    prometheus.Gauge
	WatermarkLag      *prometheus.GaugeVec
	ApplyLatency      prometheus.Histogram
	DuplicatesSkipped prometheus.Counter

	// Classifier metrics
	ClassifierRounds   *prometheus.CounterVec
	ClassifierDuration prometheus.Histogram
	TradersLabeled     prometheus.Gauge
	TradersUnlabeled   prometheus.Gauge

	// Anomaly metrics
	AnomaliesDetected *prometheus.CounterVec

	// Sink metrics
	SinkQueueDepth     *prometheus.GaugeVec
	SinkBatchesWritten *prometheus.CounterVec
	SinkRetries        *prometheus.CounterVec
	OverflowedRecords  *prometheus.CounterVec
	SinkWriteLatency   *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastEventProcessed prometheus.Gauge
	StateRecoveries    prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "fx_cortex"
	}

	return &Metrics{
		// Ingestion metrics
		EventsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_processed_total",
			Help:      "Total number of change events processed by entity and op",
		}, []string{"entity", "op"}),
		MalformedEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "malformed_events_total",
			Help:      "Total number of events rejected as malformed",
		}),
		UnknownEntityEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "unknown_entity_events_total",
			Help:      "Total number of events skipped for an unrecognized table",
		}, []string{"table"}),
		DeadLetterEvents: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "dead_letter_events_total",
			Help:      "Total number of events routed to the dead-letter topic",
		}),
		FallbackSymbols: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "fallback_symbols_total",
			Help:      "Total number of symbols canonicalized via the fallback rule",
		}),

		// Aggregation metrics
		SnapshotsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "snapshots_emitted_total",
			Help:      "Total number of feature snapshots emitted by window",
		}, []string{"window"}),
		TrackedTraders: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "tracked_traders",
			Help:      "Number of traders with live aggregation state",
		}),
		WatermarkLag: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "watermark_lag_seconds",
			Help:      "Wall-clock lag behind the per-worker input watermark",
		}, []string{"worker"}),
		ApplyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "apply_latency_seconds",
			Help:      "Per-event aggregation apply latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		DuplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of redelivered events skipped as duplicates",
		}),

		// Classifier metrics
		ClassifierRounds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "rounds_total",
			Help:      "Total number of classifier rounds by status",
		}, []string{"status"}),
		ClassifierDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "round_duration_seconds",
			Help:      "Classifier round duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
		TradersLabeled: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "traders_labeled",
			Help:      "Number of traders assigned an archetype in the last round",
		}),
		TradersUnlabeled: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "traders_unlabeled",
			Help:      "Number of traders left unclassified in the last round",
		}),

		// Anomaly metrics
		AnomaliesDetected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "anomaly",
			Name:      "detected_total",
			Help:      "Total number of anomaly events detected by metric",
		}, []string{"metric"}),

		// Sink metrics
		SinkQueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "queue_depth",
			Help:      "Current number of records buffered per sink worker",
		}, []string{"worker"}),
		SinkBatchesWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "batches_written_total",
			Help:      "Total number of batches written by record kind",
		}, []string{"kind"}),
		SinkRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "retries_total",
			Help:      "Total number of sink write retries by record kind",
		}, []string{"kind"}),
		OverflowedRecords: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "overflowed_records_total",
			Help:      "Total number of records spilled to the overflow log",
		}, []string{"kind"}),
		SinkWriteLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "write_latency_seconds",
			Help:      "Sink batch write latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastEventProcessed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_event_processed_timestamp",
			Help:      "Unix timestamp of the last successfully processed event",
		}),
		StateRecoveries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "state_recoveries_total",
			Help:      "Total number of per-trader state recomputes after corruption",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEventProcessed increments the events processed counter.
func RecordEventProcessed(entity, op string) {
	DefaultMetrics.EventsProcessed.WithLabelValues(entity, op).Inc()
}

// RecordMalformedEvent increments the malformed events counter.
func RecordMalformedEvent() {
	DefaultMetrics.MalformedEvents.Inc()
	DefaultMetrics.DeadLetterEvents.Inc()
}

// RecordUnknownEntity increments the unknown entity counter for a table.
func RecordUnknownEntity(table string) {
	DefaultMetrics.UnknownEntityEvents.WithLabelValues(table).Inc()
}

// RecordFallbackSymbol increments the fallback canonicalization counter.
func RecordFallbackSymbol() {
	DefaultMetrics.FallbackSymbols.Inc()
}

// RecordSnapshotEmitted increments the snapshots emitted counter for a window.
func RecordSnapshotEmitted(window string) {
	DefaultMetrics.SnapshotsEmitted.WithLabelValues(window).Inc()
}

// RecordAnomalyDetected increments the anomalies detected counter for a metric.
func RecordAnomalyDetected(metric string) {
	DefaultMetrics.AnomaliesDetected.WithLabelValues(metric).Inc()
}

// RecordClassifierRound records a classifier round.
func RecordClassifierRound(status string, durationSeconds float64) {
	DefaultMetrics.ClassifierRounds.WithLabelValues(status).Inc()
	DefaultMetrics.ClassifierDuration.Observe(durationSeconds)
}

// UpdateSinkQueueDepth updates the per-worker sink queue depth gauge.
func UpdateSinkQueueDepth(worker string, depth int) {
	DefaultMetrics.SinkQueueDepth.WithLabelValues(worker).Set(float64(depth))
}

// RecordSinkRetry increments the sink retry counter for a record kind.
func RecordSinkRetry(kind string) {
	DefaultMetrics.SinkRetries.WithLabelValues(kind).Inc()
}

// RecordOverflowedRecords adds to the overflow counter for a record kind.
func RecordOverflowedRecords(kind string, n int) {
	DefaultMetrics.OverflowedRecords.WithLabelValues(kind).Add(float64(n))
}

// RecordSinkBatch records a successful sink batch write.
func RecordSinkBatch(kind string, seconds float64) {
	DefaultMetrics.SinkBatchesWritten.WithLabelValues(kind).Inc()
	DefaultMetrics.SinkWriteLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// ObserveDBQuery records one query's duration and outcome. Meant to be
// deferred with the store method's named error return:
//
//	defer observability.ObserveDBQuery("postgres", "upsert_trader", time.Now(), &err)
func ObserveDBQuery(database, operation string, start time.Time, err *error) {
	RecordDBQuery(database, operation, time.Since(start).Seconds(), *err)
}

// RecordStateRecovery increments the state recoveries counter.
func RecordStateRecovery() {
	DefaultMetrics.StateRecoveries.Inc()
}
