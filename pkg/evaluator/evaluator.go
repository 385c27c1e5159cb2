// Package evaluator runs a set of filters over one price series, ranks them by
// final balance and hands the outcome to report sinks.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rus-connect/filterbench/pkg/backtest"
	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/filter"
	"github.com/rus-connect/filterbench/pkg/metrics"
	"github.com/rus-connect/filterbench/pkg/validator"
)

// Status of one filter run
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// FilterResult is one filter's slot in an evaluation. Failed slots carry Err
// and a zero Result.
type FilterResult struct {
	Name    string          `json:"name"`
	Spec    filter.Spec     `json:"spec"`
	Status  Status          `json:"status"`
	Result  backtest.Result `json:"result"`
	Warning string          `json:"warning,omitempty"`
	Error   string          `json:"error,omitempty"`
	Err     error           `json:"-"`
}

// Failed reports whether the filter could not be evaluated
func (r FilterResult) Failed() bool { return r.Status == StatusFailed }

// Report is everything one evaluation produced
type Report struct {
	RunID          string         `json:"run_id"`
	Symbol         string         `json:"symbol,omitempty"`
	GeneratedAt    time.Time      `json:"generated_at"`
	InitialBalance float64        `json:"initial_balance"`
	Points         int            `json:"points"`
	From           time.Time      `json:"from,omitempty"`
	To             time.Time      `json:"to,omitempty"`
	Results        []FilterResult `json:"results"`
	Ranking        Ranking        `json:"ranking"`
}

// Request describes one evaluation
type Request struct {
	Symbol         string
	Source         string
	Prices         common.PriceSeries
	Filters        []filter.Spec
	InitialBalance float64
}

// Evaluator runs filters one after another, each with fresh simulator state.
type Evaluator struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Evaluator {
	return &Evaluator{log: log}
}

// Run evaluates req under a new run ID and ranks the results.
func (e *Evaluator) Run(ctx context.Context, req Request) *Report {
	runID := uuid.NewString()
	source := req.Source
	if source == "" {
		source = "memory"
	}
	metrics.EvaluationsTotal.WithLabelValues(source).Inc()

	log := e.log.With().Str("run_id", runID).Str("symbol", req.Symbol).Logger()
	log.Info().
		Int("points", len(req.Prices)).
		Int("filters", len(req.Filters)).
		Float64("initial_balance", req.InitialBalance).
		Msg("evaluation started")

	results := evaluate(ctx, log, req.Prices, req.Filters, req.InitialBalance)

	report := &Report{
		RunID:          runID,
		Symbol:         req.Symbol,
		GeneratedAt:    time.Now().UTC(),
		InitialBalance: req.InitialBalance,
		Points:         len(req.Prices),
		Results:        results,
		Ranking:        Compare(results),
	}
	if n := len(req.Prices); n > 0 {
		report.From = req.Prices[0].Timestamp
		report.To = req.Prices[n-1].Timestamp
	}
	return report
}

// Evaluate runs every spec against prices in order. A spec that fails never
// stops the ones after it; cancellation of ctx fails the remaining specs.
func (e *Evaluator) Evaluate(ctx context.Context, prices common.PriceSeries, specs []filter.Spec, initialBalance float64) []FilterResult {
	return evaluate(ctx, e.log, prices, specs, initialBalance)
}

func evaluate(ctx context.Context, log zerolog.Logger, prices common.PriceSeries, specs []filter.Spec, initialBalance float64) []FilterResult {
	closes := prices.Closes()
	results := make([]FilterResult, 0, len(specs))
	for _, spec := range specs {
		spec = spec.Named()
		if err := ctx.Err(); err != nil {
			results = append(results, failed(log, spec, fmt.Errorf("evaluation cancelled: %w", err)))
			continue
		}
		results = append(results, runFilter(log, prices, closes, spec, initialBalance))
	}
	return results
}

func runFilter(log zerolog.Logger, prices common.PriceSeries, closes []float64, spec filter.Spec, initialBalance float64) (res FilterResult) {
	log = log.With().Str("filter", spec.Name).Logger()
	defer func() {
		if r := recover(); r != nil {
			res = failed(log, spec, fmt.Errorf("filter panicked: %v", r))
		}
	}()

	log.Info().Str("params", spec.String()).Msgf("Running backtest for filter: %s", spec.Name)

	if err := spec.Validate(); err != nil {
		return failed(log, spec, err)
	}

	res = FilterResult{Name: spec.Name, Spec: spec, Status: StatusOK}
	if err := spec.CheckLength(len(prices)); err != nil {
		res.Warning = err.Error()
		log.Warn().Err(err).Msg("series shorter than indicator lookback, signals stay false")
	}

	signals, err := spec.Apply(closes)
	if err != nil {
		return failed(log, spec, err)
	}

	out, err := backtest.NewSimulator(spec.Name, log).Run(prices, signals, initialBalance)
	if err != nil {
		return failed(log, spec, err)
	}
	res.Result = out

	m := out.Metrics
	log.Info().
		Str("final_balance", m.FinalBalance.String()).
		Int("num_trades", m.NumClosedTrades).
		Float64("win_rate", m.WinRatePercent).
		Str("total_profit", m.TotalProfit.String()).
		Msgf("Backtest results for %s", spec.Name)
	metrics.FilterRunsTotal.WithLabelValues(spec.Name, string(StatusOK)).Inc()
	return res
}

func failed(log zerolog.Logger, spec filter.Spec, err error) FilterResult {
	ev := log.Error()
	if errors.Is(err, validator.ErrConfiguration) {
		ev = log.Warn()
	}
	ev.Err(err).Msg("filter evaluation failed")
	metrics.FilterRunsTotal.WithLabelValues(spec.Name, string(StatusFailed)).Inc()
	return FilterResult{
		Name:   spec.Name,
		Spec:   spec,
		Status: StatusFailed,
		Error:  err.Error(),
		Err:    err,
	}
}
