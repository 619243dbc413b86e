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
	// Backfill metrics
	TradesFetched    *prometheus.CounterVec
	TradesInserted   *prometheus.CounterVec
	ChunksCommitted  *prometheus.CounterVec
	RateLimitHits    prometheus.Counter
	BackfillDuration *prometheus.HistogramVec

	// Poller metrics
	PollTicks           *prometheus.CounterVec
	PollErrors          *prometheus.CounterVec
	BlocksProcessed     *prometheus.CounterVec
	TransfersStored     *prometheus.CounterVec
	MalformedSubRecords *prometheus.CounterVec
	LastBlockHeight     *prometheus.GaugeVec

	// Stream metrics
	StreamTradesStored *prometheus.CounterVec

	// Materializer metrics
	BucketsMaterialized *prometheus.CounterVec
	ThresholdValue      *prometheus.GaugeVec
	RecomputeDuration   *prometheus.HistogramVec

	// Latency metrics
	RPCCallLatency  *prometheus.HistogramVec
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulPoll prometheus.Gauge
	UptimeSeconds      prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "chainflow"
	}

	return &Metrics{
		// Backfill metrics
		TradesFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "trades_fetched_total",
			Help:      "Total number of trades fetched from the exchange API",
		}, []string{"chain"}),
		TradesInserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "trades_inserted_total",
			Help:      "Total number of new trades persisted (duplicates excluded)",
		}, []string{"chain"}),
		ChunksCommitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "chunks_committed_total",
			Help:      "Total number of chunk transactions committed",
		}, []string{"chain"}),
		RateLimitHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "rate_limit_hits_total",
			Help:      "Total number of 429 responses from the exchange API",
		}),
		BackfillDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "run_duration_seconds",
			Help:      "Backfill run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"chain"}),

		// Poller metrics
		PollTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "ticks_total",
			Help:      "Total number of poll ticks by outcome",
		}, []string{"chain", "outcome"}),
		PollErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "errors_total",
			Help:      "Total number of poll tick errors",
		}, []string{"chain"}),
		BlocksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "blocks_processed_total",
			Help:      "Total number of blocks ingested",
		}, []string{"chain"}),
		TransfersStored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "transfers_stored_total",
			Help:      "Total number of new transfer rows persisted",
		}, []string{"chain"}),
		MalformedSubRecords: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "malformed_sub_records_total",
			Help:      "Total number of malformed tx sub-records skipped",
		}, []string{"chain", "kind"}),
		LastBlockHeight: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "last_block_height",
			Help:      "Highest block height processed",
		}, []string{"chain"}),

		// Stream metrics
		StreamTradesStored: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "trades_stored_total",
			Help:      "Total number of live stream trades persisted",
		}, []string{"chain"}),

		// Materializer metrics
		BucketsMaterialized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "materialize",
			Name:      "buckets_total",
			Help:      "Total number of bucket rows written by kind",
		}, []string{"chain", "kind"}),
		ThresholdValue: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "materialize",
			Name:      "whale_threshold",
			Help:      "Current whale threshold value",
		}, []string{"chain"}),
		RecomputeDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "materialize",
			Name:      "recompute_duration_seconds",
			Help:      "Bucket recompute duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain"}),

		// Latency metrics
		RPCCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Chain RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chain", "method"}),
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
		LastSuccessfulPoll: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_poll_timestamp",
			Help:      "Unix timestamp of last successful poll tick",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordChunkCommitted records one committed backfill chunk.
func RecordChunkCommitted(chain string, fetched, inserted int) {
	DefaultMetrics.TradesFetched.WithLabelValues(chain).Add(float64(fetched))
	DefaultMetrics.TradesInserted.WithLabelValues(chain).Add(float64(inserted))
	DefaultMetrics.ChunksCommitted.WithLabelValues(chain).Inc()
}

// RecordRateLimitHit increments the 429 counter.
func RecordRateLimitHit() {
	DefaultMetrics.RateLimitHits.Inc()
}

// RecordPollTick records one poll tick and its outcome.
func RecordPollTick(chain string, err error) {
	if err != nil {
		DefaultMetrics.PollTicks.WithLabelValues(chain, "error").Inc()
		DefaultMetrics.PollErrors.WithLabelValues(chain).Inc()
		return
	}
	DefaultMetrics.PollTicks.WithLabelValues(chain, "ok").Inc()
}

// RecordBlockProcessed records an ingested block and its height.
func RecordBlockProcessed(chain string, height int64, transfersStored int) {
	DefaultMetrics.BlocksProcessed.WithLabelValues(chain).Inc()
	DefaultMetrics.TransfersStored.WithLabelValues(chain).Add(float64(transfersStored))
	DefaultMetrics.LastBlockHeight.WithLabelValues(chain).Set(float64(height))
}

// RecordMalformedSubRecords records skipped malformed tx sub-records.
func RecordMalformedSubRecords(chain, kind string, n int) {
	if n > 0 {
		DefaultMetrics.MalformedSubRecords.WithLabelValues(chain, kind).Add(float64(n))
	}
}

// RecordStreamTrades records persisted live stream trades.
func RecordStreamTrades(chain string, n int) {
	if n > 0 {
		DefaultMetrics.StreamTradesStored.WithLabelValues(chain).Add(float64(n))
	}
}

// RecordBucketsMaterialized records written bucket rows.
func RecordBucketsMaterialized(chain, kind string, n int) {
	DefaultMetrics.BucketsMaterialized.WithLabelValues(chain, kind).Add(float64(n))
}

// RecordThreshold updates the whale threshold gauge.
func RecordThreshold(chain string, value float64) {
	DefaultMetrics.ThresholdValue.WithLabelValues(chain).Set(value)
}

// RecordRPCLatency records chain RPC call latency.
func RecordRPCLatency(chain, method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(chain, method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
