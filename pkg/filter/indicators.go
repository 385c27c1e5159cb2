package filter

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"github.com/rus-connect/filterbench/pkg/validator"
)

// RSIParams: true while RSI(Period) is strictly inside (Lower, Upper).
type RSIParams struct {
	Period int     `json:"period"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
}

// DefaultRSI is RSI(14) inside (30, 70).
func DefaultRSI() RSIParams { return RSIParams{Period: 14, Lower: 30, Upper: 70} }

func (p RSIParams) validate(name string) error {
	if p.Period < 2 {
		return &validator.ConfigurationError{Filter: name, Param: "period", Reason: fmt.Sprintf("must be at least 2, got %d", p.Period)}
	}
	if p.Lower < 0 || p.Upper > 100 || math.IsNaN(p.Lower) || math.IsNaN(p.Upper) {
		return &validator.ConfigurationError{Filter: name, Param: "thresholds", Reason: "must lie within [0, 100]"}
	}
	if p.Lower >= p.Upper {
		return &validator.ConfigurationError{Filter: name, Param: "thresholds", Reason: fmt.Sprintf("lower %g must be below upper %g", p.Lower, p.Upper)}
	}
	return nil
}

// MACDParams: true while the MACD line is strictly above its signal line.
type MACDParams struct {
	Fast   int `json:"fast"`
	Slow   int `json:"slow"`
	Signal int `json:"signal"`
}

// DefaultMACD is MACD(12, 26, 9).
func DefaultMACD() MACDParams { return MACDParams{Fast: 12, Slow: 26, Signal: 9} }

func (p MACDParams) validate(name string) error {
	if p.Fast < 2 {
		return &validator.ConfigurationError{Filter: name, Param: "fast", Reason: fmt.Sprintf("must be at least 2, got %d", p.Fast)}
	}
	if p.Slow < 2 {
		return &validator.ConfigurationError{Filter: name, Param: "slow", Reason: fmt.Sprintf("must be at least 2, got %d", p.Slow)}
	}
	if err := validator.ValidatePeriod(name, "signal", p.Signal); err != nil {
		return err
	}
	if p.Fast >= p.Slow {
		return &validator.ConfigurationError{Filter: name, Param: "fast", Reason: fmt.Sprintf("fast %d must be below slow %d", p.Fast, p.Slow)}
	}
	return nil
}

// BollingerParams: true while price is strictly inside SMA(Window) ± K·σ.
type BollingerParams struct {
	Window int     `json:"window"`
	K      float64 `json:"k"`
}

// DefaultBollinger is SMA(20) ± 2σ.
func DefaultBollinger() BollingerParams { return BollingerParams{Window: 20, K: 2} }

func (p BollingerParams) validate(name string) error {
	if p.Window < 2 {
		return &validator.ConfigurationError{Filter: name, Param: "window", Reason: fmt.Sprintf("must be at least 2, got %d", p.Window)}
	}
	if p.K <= 0 || math.IsNaN(p.K) || math.IsInf(p.K, 0) {
		return &validator.ConfigurationError{Filter: name, Param: "k", Reason: fmt.Sprintf("must be positive, got %g", p.K)}
	}
	return nil
}

// RSIValues returns Wilder's RSI aligned with closes; indices before Period
// are NaN.
func RSIValues(closes []float64, period int) []float64 {
	out := undefined(len(closes))
	if period < 2 || len(closes) < period+1 {
		return out
	}
	rsi := talib.Rsi(closes, period)
	copy(out[period:], rsi[period:])
	return out
}

// MACDLines returns the MACD line and its signal line aligned with closes.
// The line is defined from index Slow-1. The signal EMA is seeded from the
// first Signal defined line values, so it is defined from Slow+Signal-2;
// earlier indices are NaN.
func MACDLines(closes []float64, p MACDParams) (macd, signal []float64) {
	macd, signal = undefined(len(closes)), undefined(len(closes))
	if p.validate(defaultName(KindMACD)) != nil || len(closes) < p.Slow {
		return macd, signal
	}

	start := p.Slow - 1
	fast := talib.Ema(closes, p.Fast)
	slow := talib.Ema(closes, p.Slow)
	line := make([]float64, len(closes)-start)
	for i := range line {
		line[i] = fast[start+i] - slow[start+i]
		macd[start+i] = line[i]
	}

	// talib.Ema over the whole series would average the zero-filled warm-up
	// into the seed, so the signal runs on the defined slice only.
	if len(line) < p.Signal {
		return macd, signal
	}
	sig := talib.Ema(line, p.Signal)
	for i := p.Signal - 1; i < len(sig); i++ {
		signal[start+i] = sig[i]
	}
	return macd, signal
}

// BollingerBands returns the upper and lower bands over an SMA middle band
// with population σ; indices before Window-1 are NaN.
func BollingerBands(closes []float64, p BollingerParams) (upper, lower []float64) {
	upper, lower = undefined(len(closes)), undefined(len(closes))
	if p.validate(defaultName(KindBollinger)) != nil || len(closes) < p.Window {
		return upper, lower
	}
	u, _, l := talib.BBands(closes, p.Window, p.K, p.K, talib.SMA)
	copy(upper[p.Window-1:], u[p.Window-1:])
	copy(lower[p.Window-1:], l[p.Window-1:])
	return upper, lower
}

// RSI is the RSI filter.
func RSI(closes []float64, p RSIParams) ([]bool, error) {
	if err := p.validate(defaultName(KindRSI)); err != nil {
		return nil, err
	}
	out := make([]bool, len(closes))
	for i, v := range RSIValues(closes, p.Period) {
		out[i] = defined(v) && v > p.Lower && v < p.Upper
	}
	return out, nil
}

// MACD is the MACD filter.
func MACD(closes []float64, p MACDParams) ([]bool, error) {
	if err := p.validate(defaultName(KindMACD)); err != nil {
		return nil, err
	}
	out := make([]bool, len(closes))
	macd, signal := MACDLines(closes, p)
	for i := range out {
		m, s := macd[i], signal[i]
		out[i] = defined(m) && defined(s) && m > s
	}
	return out, nil
}

// Bollinger is the Bollinger Band filter.
func Bollinger(closes []float64, p BollingerParams) ([]bool, error) {
	if err := p.validate(defaultName(KindBollinger)); err != nil {
		return nil, err
	}
	out := make([]bool, len(closes))
	upper, lower := BollingerBands(closes, p)
	for i, c := range closes {
		u, l := upper[i], lower[i]
		out[i] = defined(u) && defined(l) && c > l && c < u
	}
	return out, nil
}

func undefined(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
