package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filter_evaluations_total",
			Help: "Total number of evaluations (all filters over one series)",
		},
		[]string{"source"},
	)

	FilterRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filter_runs_total",
			Help: "Per-filter backtest runs by outcome",
		},
		[]string{"filter", "status"},
	)

	TradesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtest_trades_total",
			Help: "Simulated trade events",
		},
		[]string{"filter", "type"},
	)

	FinalBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backtest_final_balance",
			Help: "Final cash balance of the last run per filter",
		},
		[]string{"filter"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Duration of a single filter backtest",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"filter"},
	)

	SourceLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "price_source_load_duration_seconds",
			Help: "Price series load duration",
		},
		[]string{"source"},
	)

	CandlesStoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_candles_stored_total",
			Help: "Closed candles written by the collector",
		},
		[]string{"store"},
	)

	CollectorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_errors_total",
			Help: "Collector failures by stage (fetch, store, publish)",
		},
		[]string{"stage"},
	)
)
