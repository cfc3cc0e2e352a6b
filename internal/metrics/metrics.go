// Package metrics exposes Prometheus metrics and the /healthz endpoint for
// the trading pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the trader.
type Metrics struct {
	BarsTotal     *prometheus.CounterVec // labels: strategy
	BarLag        prometheus.Gauge
	FeedErrors    *prometheus.CounterVec // labels: strategy, kind
	TaskBackoffs  prometheus.Counter
	SignalsTotal  *prometheus.CounterVec // labels: strategy, action
	SizingRejects *prometheus.CounterVec // labels: reason
	Admissions    *prometheus.CounterVec // labels: result, reason

	DispatchTotal *prometheus.CounterVec   // labels: broker, result
	DispatchDur   *prometheus.HistogramVec // labels: broker
	BrokerState   *prometheus.GaugeVec     // labels: broker (0=disconnected, 1=connecting, 2=connected)

	// Circuit breakers (broker routes and the Redis publisher)
	BreakerState *prometheus.GaugeVec   // labels: name (0=closed, 1=open, 2=half-open)
	BreakerTrips *prometheus.CounterVec // labels: name

	LedgerTrades   prometheus.Gauge
	LedgerLoss     prometheus.Gauge
	AccountBalance prometheus.Gauge
	RealizedPnL    prometheus.Gauge

	// Outcome bus backpressure
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	FanoutQueueDepth *prometheus.GaugeVec   // labels: subscriber

	// Stores
	RedisWriteDur       prometheus.Histogram
	RedisBufferedWrites prometheus.Counter
	RedisPendingWrites  prometheus.Gauge
	RedisFlushedWrites  prometheus.Counter
	SQLiteCommitDur     prometheus.Histogram
}

// New creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_bars_total",
			Help: "Bars processed by strategy",
		}, []string{"strategy"}),
		BarLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_bar_lag_seconds",
			Help: "Lag between bar timestamp and processing time",
		}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_feed_errors_total",
			Help: "Task iteration failures (feed, bar, dispatch)",
		}, []string{"strategy", "kind"}),
		TaskBackoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_task_backoffs_total",
			Help: "Backoff waits taken by feed tasks",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Crossover signals generated",
		}, []string{"strategy", "action"}),
		SizingRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_sizing_rejects_total",
			Help: "Signals rejected by position sizing or validation",
		}, []string{"reason"}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_admissions_total",
			Help: "Daily ledger admission decisions",
		}, []string{"result", "reason"}),

		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_dispatch_total",
			Help: "Order dispatch outcomes",
		}, []string{"broker", "result"}),
		DispatchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trader_dispatch_duration_seconds",
			Help:    "Order dispatch latency including rate limiting and reconnect",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"broker"}),
		BrokerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_broker_state",
			Help: "Broker connection state (0=disconnected, 1=connecting, 2=connected)",
		}, []string{"broker"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),

		LedgerTrades: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_ledger_trades",
			Help: "Trades admitted in the current trading day",
		}),
		LedgerLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_ledger_loss",
			Help: "Cumulative realized loss in the current trading day",
		}),
		AccountBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_account_balance",
			Help: "Account balance used for sizing",
		}),
		RealizedPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_realized_pnl",
			Help: "Realized P&L since start",
		}),

		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_fanout_drops_total",
			Help: "Outcomes dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		FanoutQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "trader_fanout_queue_depth",
			Help: "Outcomes queued per fan-out subscriber",
		}, []string{"subscriber"}),

		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_redis_write_duration_seconds",
			Help:    "Redis publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_buffered_writes_total",
			Help: "Events buffered locally while the Redis breaker was open",
		}),
		RedisPendingWrites: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_redis_pending_writes",
			Help: "Buffered Redis events waiting for the breaker to close",
		}),
		RedisFlushedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_redis_flushed_writes_total",
			Help: "Buffered Redis events replayed after the breaker closed",
		}),
		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.BarsTotal,
		m.BarLag,
		m.FeedErrors,
		m.TaskBackoffs,
		m.SignalsTotal,
		m.SizingRejects,
		m.Admissions,
		m.DispatchTotal,
		m.DispatchDur,
		m.BrokerState,
		m.BreakerState,
		m.BreakerTrips,
		m.LedgerTrades,
		m.LedgerLoss,
		m.AccountBalance,
		m.RealizedPnL,
		m.FanoutDropsTotal,
		m.FanoutQueueDepth,
		m.RedisWriteDur,
		m.RedisBufferedWrites,
		m.RedisPendingWrites,
		m.RedisFlushedWrites,
		m.SQLiteCommitDur,
	)
	return m
}

// Discard returns metrics registered nowhere, for components built without
// a metrics sink.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}
