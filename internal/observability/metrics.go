// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Stream metrics
	RecordsReceived   prometheus.Counter
	ConnectionState   prometheus.Gauge
	ReconnectAttempts prometheus.Counter
	LastRecordAt      prometheus.Gauge

	// Ingestion metrics
	EventsDecoded          *prometheus.CounterVec
	EventProcessingErrors  *prometheus.CounterVec
	EventProcessingLatency *prometheus.HistogramVec
	TradesPersisted        prometheus.Counter
	DuplicateTrades        prometheus.Counter

	// Registry metrics
	TrackedPools      prometheus.Gauge
	MirrorWriteErrors *prometheus.CounterVec

	// Fan-out metrics
	BatchesFlushed prometheus.Counter
	TradesFlushed  prometheus.Counter
	TradesDropped  prometheus.Counter

	// Metadata metrics
	MetadataJobs *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	namespace string
	factory   promauto.Factory
}

// NewMetrics creates a Metrics instance registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "solana_trade_feed"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		namespace: namespace,
		factory:   factory,

		// Stream metrics
		RecordsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "records_received_total",
			Help:      "Total number of transaction records received from the upstream stream",
		}),
		ConnectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connection_state",
			Help:      "Stream connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of scheduled reconnect attempts",
		}),
		LastRecordAt: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "last_record_timestamp",
			Help:      "Unix timestamp of the last received record",
		}),

		// Ingestion metrics
		EventsDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_decoded_total",
			Help:      "Total number of decoded events by kind",
		}, []string{"kind"}),
		EventProcessingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_processing_errors_total",
			Help:      "Total number of event processing errors by kind and operation",
		}, []string{"kind", "operation"}),
		EventProcessingLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "event_processing_latency_seconds",
			Help:      "Event processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		TradesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_persisted_total",
			Help:      "Total number of trades stored",
		}),
		DuplicateTrades: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicate_trades_total",
			Help:      "Total number of trades already present in storage",
		}),

		// Registry metrics
		TrackedPools: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "tracked_pools",
			Help:      "Number of pools currently tracked",
		}),
		MirrorWriteErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "mirror_write_errors_total",
			Help:      "Total number of failed mirror writes by operation",
		}, []string{"operation"}),

		// Fan-out metrics
		BatchesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "batches_flushed_total",
			Help:      "Total number of trade batches emitted",
		}),
		TradesFlushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "trades_flushed_total",
			Help:      "Total number of trades emitted in batches",
		}),
		TradesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "trades_dropped_total",
			Help:      "Total number of buffered trades dropped by the per-pool cap",
		}),

		// Metadata metrics
		MetadataJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metadata",
			Name:      "jobs_total",
			Help:      "Total number of metadata jobs by outcome",
		}, []string{"status"}),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"operation"}),
	}
}

// ObserveBufferedTrades exports fn, sampled at scrape time, as the number of
// trades waiting in fan-out buffers.
func (m *Metrics) ObserveBufferedTrades(fn func() int) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "fanout",
		Name:      "buffered_trades",
		Help:      "Trades buffered for the next flush",
	}, func() float64 { return float64(fn()) })
}

// ObserveMetadataBacklog exports fn, sampled at scrape time, as the number of
// metadata jobs waiting for a worker.
func (m *Metrics) ObserveMetadataBacklog(fn func() int) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: "metadata",
		Name:      "queue_depth",
		Help:      "Metadata jobs waiting for a worker",
	}, func() float64 { return float64(fn()) })
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordReceived marks one record received from the stream.
func RecordReceived(unixSeconds int64) {
	DefaultMetrics.RecordsReceived.Inc()
	DefaultMetrics.LastRecordAt.Set(float64(unixSeconds))
}

// SetConnectionState updates the connection state gauge.
func SetConnectionState(state int) {
	DefaultMetrics.ConnectionState.Set(float64(state))
}

// RecordReconnect increments the reconnect attempts counter.
func RecordReconnect() {
	DefaultMetrics.ReconnectAttempts.Inc()
}

// RecordEvent records a decoded event and how long it took to handle.
func RecordEvent(kind string, seconds float64) {
	DefaultMetrics.EventsDecoded.WithLabelValues(kind).Inc()
	DefaultMetrics.EventProcessingLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordEventError records an event processing error.
func RecordEventError(kind, operation string) {
	DefaultMetrics.EventProcessingErrors.WithLabelValues(kind, operation).Inc()
}

// RecordTradePersisted increments the stored (or duplicate) trades counter.
func RecordTradePersisted(duplicate bool) {
	if duplicate {
		DefaultMetrics.DuplicateTrades.Inc()
		return
	}
	DefaultMetrics.TradesPersisted.Inc()
}

// SetTrackedPools updates the tracked pools gauge.
func SetTrackedPools(n int) {
	DefaultMetrics.TrackedPools.Set(float64(n))
}

// RecordMirrorError records a failed registry mirror write.
func RecordMirrorError(operation string) {
	DefaultMetrics.MirrorWriteErrors.WithLabelValues(operation).Inc()
}

// RecordFlush records one emitted batch of n trades.
func RecordFlush(n int) {
	DefaultMetrics.BatchesFlushed.Inc()
	DefaultMetrics.TradesFlushed.Add(float64(n))
}

// RecordDropped records n trades dropped by the fan-out cap.
func RecordDropped(n int) {
	DefaultMetrics.TradesDropped.Add(float64(n))
}

// RecordMetadataJob records the outcome of a metadata job.
func RecordMetadataJob(status string) {
	DefaultMetrics.MetadataJobs.WithLabelValues(status).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(operation).Inc()
	}
}
