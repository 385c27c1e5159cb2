package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// Point represents a point in a chart
type Point struct {
	Timestamp int64
	Value     float64
}

// Distribution represents statistical distribution metrics
type Distribution struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	Median float64
}

// PricePoint is a single close price at a timestamp
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Close     float64   `json:"close"`
}

// PriceSeries is ordered by strictly increasing timestamp
type PriceSeries []PricePoint

// Closes returns the close prices in series order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Close
	}
	return out
}

// Position is the simulator's holding state
type Position int

const (
	Flat Position = iota
	Long
)

func (p Position) String() string {
	if p == Long {
		return "LONG"
	}
	return "FLAT"
}

// TradeType is BUY or SELL
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// TradeEvent represents a single simulated fill. Profit is set on SELL only.
type TradeEvent struct {
	Type      TradeType       `json:"type"`
	Index     int             `json:"index"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Profit    decimal.Decimal `json:"profit"`
}

// Metrics summarises one simulator run
type Metrics struct {
	FinalBalance    decimal.Decimal `json:"final_balance"`
	NumClosedTrades int             `json:"num_closed_trades"`
	WinRatePercent  float64         `json:"win_rate_percent"`
	TotalProfit     decimal.Decimal `json:"total_profit"`

	LosingTrades       int          `json:"losing_trades"`
	OpenPosition       bool         `json:"open_position"`
	ProfitDistribution Distribution `json:"profit_distribution"`
	MaxDrawdownPercent float64      `json:"max_drawdown_percent"`
}

// Candle represents a price candle
type Candle struct {
	Symbol    string  `json:"symbol" db:"symbol"`
	Timestamp int64   `json:"timestamp" db:"timestamp"`
	Open      float64 `json:"open" db:"open"`
	High      float64 `json:"high" db:"high"`
	Low       float64 `json:"low" db:"low"`
	Close     float64 `json:"close" db:"close"`
	Volume    float64 `json:"volume" db:"volume"`
}

// Coverage describes what a candle store holds for a symbol
type Coverage struct {
	Symbol string
	Count  int64
	First  time.Time
	Last   time.Time
}
