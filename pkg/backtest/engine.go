package backtest

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/metrics"
	"github.com/rus-connect/filterbench/pkg/validator"
)

// Result is the outcome of a single simulator run
type Result struct {
	Trades  []common.TradeEvent `json:"trades"`
	Metrics common.Metrics      `json:"metrics"`
	// Equity is the realised balance: the initial balance followed by the
	// balance after every SELL.
	Equity []common.Point `json:"equity"`
}

// Simulator replays a signal series as an all-in, long-only, single-unit
// strategy. It holds no state between runs.
type Simulator struct {
	name string
	log  zerolog.Logger
}

// NewSimulator creates a simulator whose log lines and metrics carry name
func NewSimulator(name string, log zerolog.Logger) *Simulator {
	if name == "" {
		name = "unnamed"
	}
	return &Simulator{
		name: name,
		log:  log.With().Str("filter", name).Logger(),
	}
}

// Run executes the backtest
func Run(prices common.PriceSeries, signals []bool, initialBalance float64) (Result, error) {
	return NewSimulator("", zerolog.Nop()).Run(prices, signals, initialBalance)
}

// Run walks the series once. A true signal opens a position when flat and the
// balance strictly exceeds the price; a false signal closes an open one. A
// position still open at the end is left open and does not count towards
// profit or win rate.
func (s *Simulator) Run(prices common.PriceSeries, signals []bool, initialBalance float64) (Result, error) {
	start := time.Now()
	defer func() {
		metrics.RunDuration.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	}()

	if err := validator.ValidateAligned(prices, signals); err != nil {
		return Result{}, err
	}
	if err := validator.ValidateBalance(initialBalance); err != nil {
		return Result{}, err
	}
	if err := validator.ValidateSeries(prices); err != nil {
		return Result{}, err
	}

	balance := decimal.NewFromFloat(initialBalance)
	position := common.Flat
	var buyPrice decimal.Decimal

	trades := make([]common.TradeEvent, 0)
	equity := []common.Point{{Value: initialBalance}}
	if len(prices) > 0 {
		equity[0].Timestamp = prices[0].Timestamp.Unix()
	}

	for i, p := range prices {
		price := decimal.NewFromFloat(p.Close)

		switch {
		case signals[i] && position == common.Flat && balance.GreaterThan(price):
			position = common.Long
			balance = balance.Sub(price)
			buyPrice = price
			trades = append(trades, common.TradeEvent{
				Type:      common.TradeBuy,
				Index:     i,
				Price:     price,
				Timestamp: p.Timestamp,
			})
			metrics.TradesTotal.WithLabelValues(s.name, string(common.TradeBuy)).Inc()
			s.log.Info().Msgf("BUY at %s on %s", price, p.Timestamp.Format(time.RFC3339))

		case !signals[i] && position == common.Long:
			position = common.Flat
			balance = balance.Add(price)
			profit := price.Sub(buyPrice)
			trades = append(trades, common.TradeEvent{
				Type:      common.TradeSell,
				Index:     i,
				Price:     price,
				Timestamp: p.Timestamp,
				Profit:    profit,
			})
			equity = append(equity, common.Point{Timestamp: p.Timestamp.Unix(), Value: balance.InexactFloat64()})
			metrics.TradesTotal.WithLabelValues(s.name, string(common.TradeSell)).Inc()
			s.log.Info().Msgf("SELL at %s on %s, Profit: %s", price, p.Timestamp.Format(time.RFC3339), profit)
		}
	}

	m := calculateMetrics(trades, equity)
	m.FinalBalance = balance
	m.OpenPosition = position == common.Long
	metrics.FinalBalance.WithLabelValues(s.name).Set(balance.InexactFloat64())

	s.log.Debug().
		Str("final_balance", balance.String()).
		Int("closed_trades", m.NumClosedTrades).
		Float64("win_rate", m.WinRatePercent).
		Bool("open_position", m.OpenPosition).
		Msg("backtest finished")

	return Result{Trades: trades, Metrics: m, Equity: equity}, nil
}

// calculateMetrics derives the closed-trade statistics. FinalBalance and
// OpenPosition are filled in by the caller.
func calculateMetrics(trades []common.TradeEvent, equity []common.Point) common.Metrics {
	var m common.Metrics
	total := decimal.Zero
	wins := 0
	profits := make([]float64, 0, len(trades)/2)

	for _, t := range trades {
		if t.Type != common.TradeSell {
			continue
		}
		m.NumClosedTrades++
		total = total.Add(t.Profit)
		if t.Profit.IsPositive() {
			wins++
		} else {
			m.LosingTrades++
		}
		profits = append(profits, t.Profit.InexactFloat64())
	}

	m.TotalProfit = total
	if m.NumClosedTrades > 0 {
		m.WinRatePercent = 100 * float64(wins) / float64(m.NumClosedTrades)
	}
	m.ProfitDistribution = calculateDistribution(profits)
	m.MaxDrawdownPercent = calculateMaxDrawdown(equity)
	return m
}
