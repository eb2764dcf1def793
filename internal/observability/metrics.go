package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the credit ledger.
type Metrics struct {
	// --- Engine ---
	RequestsApplied  *prometheus.CounterVec
	RequestsRejected *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	EngineSequence   prometheus.Gauge

	// --- Vaults ---
	VaultUtilization *prometheus.GaugeVec
	VaultDeposits    *prometheus.GaugeVec
	VaultDebt        *prometheus.GaugeVec

	// --- Liquidation ---
	LiquidationsCompleted prometheus.Counter

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- Price feed & publishing ---
	PriceUpdates    *prometheus.CounterVec
	PriceFeedErrors prometheus.Counter
	EventsPublished *prometheus.CounterVec
	PublishErrors   prometheus.Counter

	// --- HTTP API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	httpBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005,
		0.01, 0.025, 0.05, 0.1, 0.25,
	}

	return &Metrics{
		// Engine
		RequestsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_requests_applied_total",
			Help: "Requests successfully applied by the engine",
		}, []string{"kind"}),

		RequestsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_requests_rejected_total",
			Help: "Requests rejected without state change",
		}, []string{"kind"}),

		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_request_apply_duration_seconds",
			Help:    "Time to apply a single request",
			Buckets: latencyBuckets,
		}, []string{"kind"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_engine_sequence",
			Help: "Current global event sequence number",
		}),

		// Vaults
		VaultUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_vault_utilization",
			Help: "Debt pool size over deposit pool size",
		}, []string{"vault"}),

		VaultDeposits: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_vault_deposit_size",
			Help: "Deposit pool size in underlying units",
		}, []string{"vault"}),

		VaultDebt: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_vault_debt_size",
			Help: "Debt pool size in underlying units",
		}, []string{"vault"}),

		// Liquidation
		LiquidationsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_liquidations_completed_total",
			Help: "Liquidations that reached safety and committed",
		}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_persist_events_written_total",
			Help: "Event envelopes committed to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_persist_batch_size",
			Help:    "Events per persisted batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_persist_errors_total",
			Help: "Persistence failures by stage",
		}, []string{"stage"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_persist_retries_total",
			Help: "Batch write retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_persist_last_sequence",
			Help: "Highest sequence durably written",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_snapshot_taken_total",
			Help: "Vault snapshots written",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_snapshot_duration_seconds",
			Help:    "Snapshot write duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_snapshot_last_sequence",
			Help: "Sequence covered by the latest snapshot",
		}),

		// Price feed & publishing
		PriceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_price_updates_total",
			Help: "Oracle quotes accepted from the price feed",
		}, []string{"symbol"}),

		PriceFeedErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_price_feed_errors_total",
			Help: "Malformed or rejected price feed messages",
		}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_events_published_total",
			Help: "Event envelopes published to NATS",
		}, []string{"kind"}),

		PublishErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_publish_errors_total",
			Help: "NATS publish failures",
		}),

		// HTTP API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_query_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_query_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: httpBuckets,
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_query_errors_total",
			Help: "HTTP API error responses",
		}, []string{"endpoint"}),
	}
}
