package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for Pulley. Holders on hot paths
// must nil-check the struct so tests can run without a registry.
type Metrics struct {
	// --- Token / reserves ---
	TokenSupply          prometheus.Gauge
	ReserveFund          prometheus.Gauge
	InsuranceFunds       prometheus.Gauge
	CoverageBurns        prometheus.Counter
	CoverageBurnedAmount prometheus.Counter

	// --- Liquidity engine ---
	LiquidityProvided  *prometheus.CounterVec
	LiquidityWithdrawn *prometheus.CounterVec
	InsuranceBacking   prometheus.Gauge
	LossesCovered      prometheus.Counter
	ActiveProviders    prometheus.Gauge

	// --- Trading ledger ---
	PoolValue          prometheus.Gauge
	TradingLosses      prometheus.Counter
	TradingProfits     prometheus.Counter
	ProfitShare        prometheus.Gauge
	ProfitsDistributed *prometheus.CounterVec
	AssetsSwept        *prometheus.CounterVec

	// --- Cross-chain allocator ---
	FundsAllocated     *prometheus.CounterVec
	RequestsDispatched *prometheus.CounterVec
	RequestsResolved   *prometheus.CounterVec
	ReplaysRejected    prometheus.Counter
	PendingRequests    prometheus.Gauge

	// --- Audit persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge
	PublishDrops         prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	writeBuckets := []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	return &Metrics{
		// Token / reserves
		TokenSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulley_token_supply",
			Help: "Outstanding stable token supply",
		}),

		ReserveFund: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulley_reserve_fund",
			Help: "Backing value behind outstanding supply",
		}),

		InsuranceFunds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulley_insurance_funds",
			Help: "Insurance sub-portion of the reserve",
		}),

		CoverageBurns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulley_coverage_burns_total",
			Help: "Reserve consumptions for loss coverage",
		}),

		CoverageBurnedAmount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulley_coverage_burned_amount_total",
			Help: "Total value consumed for loss coverage",
		}),

		// Liquidity engine
		LiquidityProvided: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulley_liquidity_provided_total",
			Help: "Value deposited by liquidity providers",
		}, []string{"asset"}),

		LiquidityWithdrawn: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulley_liquidity_withdrawn_total",
			Help: "Value returned to liquidity providers",
		}, []string{"asset"}),

		InsuranceBacking: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulley_insurance_backing",
			Help: "Pooled insurance backing held by the engine",
		}),

		LossesCovered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulley_losses_covered_total",
			Help: "Trading losses absorbed by insurance",
		}),

		ActiveProviders: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulley_active_providers",
			Help: "Providers with a nonzero claim",
		}),

		// Trading ledger
		PoolValue: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulley_pool_value",
			Help: "Aggregate trading pool value",
		}),

		TradingLosses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulley_trading_losses_total",
			Help: "Cumulative recorded trading losses",
		}),

		TradingProfits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulley_trading_profits_total",
			Help: "Cumulative recorded trading profits",
		}),

		ProfitShare: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulley_profit_share_percent",
			Help: "Current insurance profit-share percentage (20-80)",
		}),

		ProfitsDistributed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulley_profits_distributed_total",
			Help: "Distributed profit by recipient side",
		}, []string{"side"}),

		AssetsSwept: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulley_assets_swept_total",
			Help: "Value swept to the collection account",
		}, []string{"asset"}),

		// Cross-chain allocator
		FundsAllocated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulley_funds_allocated_total",
			Help: "Value split into allocation buckets",
		}, []string{"bucket"}),

		RequestsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulley_requests_dispatched_total",
			Help: "Remote operations dispatched",
		}, []string{"type"}),

		RequestsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulley_requests_resolved_total",
			Help: "Remote responses reconciled",
		}, []string{"outcome"}),

		ReplaysRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulley_replays_rejected_total",
			Help: "Duplicate responses rejected",
		}),

		PendingRequests: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulley_pending_requests",
			Help: "Dispatched requests awaiting a response",
		}),

		// Audit persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulley_persist_events_written_total",
			Help: "Audit events written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulley_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "pulley_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: writeBuckets,
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulley_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulley_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pulley_persist_last_sequence",
			Help: "Last persisted audit sequence",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pulley_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pulley_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulley_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
