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
	BlocksSeen       prometheus.Counter
	LogsReceived     *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
	BackfilledLogs   prometheus.Counter
	BackfillRuns     prometheus.Counter
	SubscriberDrops  prometheus.Counter

	// State metrics
	PoolsTracked     prometheus.Gauge
	TouchedPools     prometheus.Gauge
	RefreshFailures  prometheus.Counter
	RefreshDuration  prometheus.Histogram

	// Arbitrage metrics
	CandidatesFound    prometheus.Counter
	CandidatesRejected *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	GasPriceWei        prometheus.Gauge

	// Execution metrics
	TradesSubmitted prometheus.Counter
	TradesFailed    *prometheus.CounterVec

	// Health metrics
	LastBlockSeen prometheus.Gauge
	LastCycleTime prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "arb_watcher"
	}

	return &Metrics{
		// Stream metrics
		BlocksSeen: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "blocks_seen_total",
			Help:      "Total number of chain head announcements received",
		}),
		LogsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "logs_received_total",
			Help:      "Total number of pool logs received by event kind",
		}, []string{"kind"}),
		Reconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total number of WebSocket session rebuilds by shard",
		}, []string{"shard"}),
		BackfilledLogs: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "backfilled_logs_total",
			Help:      "Total number of logs recovered through gap backfill",
		}),
		BackfillRuns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "backfill_runs_total",
			Help:      "Total number of gap backfill queries issued",
		}),
		SubscriberDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "subscriber_drops_total",
			Help:      "Total number of events dropped on full subscriber buffers",
		}),

		// State metrics
		PoolsTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "pools_tracked",
			Help:      "Number of pools with a cached state snapshot",
		}),
		TouchedPools: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "touched_pools",
			Help:      "Number of pools pending a state refresh",
		}),
		RefreshFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "refresh_failures_total",
			Help:      "Total number of pool state refresh failures",
		}),
		RefreshDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "refresh_duration_seconds",
			Help:      "Batched pool state refresh duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Arbitrage metrics
		CandidatesFound: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arb",
			Name:      "candidates_found_total",
			Help:      "Total number of profitable candidates generated",
		}),
		CandidatesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arb",
			Name:      "candidates_rejected_total",
			Help:      "Total number of candidates rejected by check",
		}, []string{"check"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "arb",
			Name:      "cycle_duration_seconds",
			Help:      "Per-block evaluation cycle duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		GasPriceWei: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "arb",
			Name:      "gas_price_wei",
			Help:      "Last observed gas price in wei",
		}),

		// Execution metrics
		TradesSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "trades_submitted_total",
			Help:      "Total number of transactions submitted to the relay",
		}),
		TradesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "trades_failed_total",
			Help:      "Total number of failed submissions by reason",
		}, []string{"reason"}),

		// Health metrics
		LastBlockSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_block_seen",
			Help:      "Most recent block number observed on the stream",
		}),
		LastCycleTime: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_cycle_timestamp",
			Help:      "Unix timestamp of the last completed evaluation cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordBlock records a chain head announcement.
func RecordBlock(number uint64) {
	DefaultMetrics.BlocksSeen.Inc()
	DefaultMetrics.LastBlockSeen.Set(float64(number))
}

// RecordLog increments the received log counter for an event kind.
func RecordLog(kind string) {
	DefaultMetrics.LogsReceived.WithLabelValues(kind).Inc()
}

// RecordReconnect increments the reconnect counter for a shard.
func RecordReconnect(shard string) {
	DefaultMetrics.Reconnects.WithLabelValues(shard).Inc()
}

// RecordBackfill records one backfill query and the logs it recovered.
func RecordBackfill(logs int) {
	DefaultMetrics.BackfillRuns.Inc()
	DefaultMetrics.BackfilledLogs.Add(float64(logs))
}

// RecordCandidateFound increments the profitable candidate counter.
func RecordCandidateFound() {
	DefaultMetrics.CandidatesFound.Inc()
}

// RecordCandidateRejected increments the rejection counter for a check.
func RecordCandidateRejected(check string) {
	DefaultMetrics.CandidatesRejected.WithLabelValues(check).Inc()
}

// RecordRefreshFailure increments the refresh failure counter.
func RecordRefreshFailure() {
	DefaultMetrics.RefreshFailures.Inc()
}

// RecordCycle records a completed evaluation cycle.
func RecordCycle(seconds float64, unixNow int64) {
	DefaultMetrics.CycleDuration.Observe(seconds)
	DefaultMetrics.LastCycleTime.Set(float64(unixNow))
}

// RecordTrade records a submission outcome. An empty reason means success.
func RecordTrade(reason string) {
	if reason == "" {
		DefaultMetrics.TradesSubmitted.Inc()
		return
	}
	DefaultMetrics.TradesFailed.WithLabelValues(reason).Inc()
}
