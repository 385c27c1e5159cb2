// Package filter turns a close-price series into a boolean "hold long" series.
//
// Filters are a closed set of kinds sharing one signature. Each is pure: the
// output has the same length as the input and depends on nothing else.
// Indices inside an indicator's warm-up window are always false.
package filter

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/rus-connect/filterbench/pkg/validator"
)

// Kind names one of the supported filter rules.
type Kind string

const (
	KindRSI       Kind = "rsi"
	KindMACD      Kind = "macd"
	KindBollinger Kind = "bollinger"
)

// Spec is a named, parameterised filter. Only the block matching Kind is
// read. Parameters are taken as given: a zero period is a configuration
// error, not a request for the default. Use New, or decode JSON, to start
// from the defaults.
type Spec struct {
	Name      string          `json:"name"`
	Kind      Kind            `json:"kind"`
	RSI       RSIParams       `json:"rsi"`
	MACD      MACDParams      `json:"macd"`
	Bollinger BollingerParams `json:"bollinger"`
}

// New returns the default spec for kind, named the way reports show it.
func New(kind Kind) Spec {
	return Spec{
		Name:      defaultName(kind),
		Kind:      kind,
		RSI:       DefaultRSI(),
		MACD:      DefaultMACD(),
		Bollinger: DefaultBollinger(),
	}
}

// UnmarshalJSON decodes over the defaults, so omitted fields keep their
// default value while explicit zeros stay zero. Kind aliases ("bb", "MACD")
// are normalised; an unknown kind is kept as is and fails Validate.
func (s *Spec) UnmarshalJSON(data []byte) error {
	type plain Spec
	p := plain(New(""))
	if err := sonic.Unmarshal(data, &p); err != nil {
		return err
	}
	if kind, err := Parse(string(p.Kind)); err == nil {
		p.Kind = kind
	}
	*s = Spec(p)
	*s = s.Named()
	return nil
}

// Defaults returns the three stock filters in report order.
func Defaults() []Spec {
	return []Spec{New(KindRSI), New(KindMACD), New(KindBollinger)}
}

// Parse maps user input ("rsi", "MACD", "bb", ...) to a Kind.
func Parse(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rsi":
		return KindRSI, nil
	case "macd":
		return KindMACD, nil
	case "bollinger", "bb", "bbands", "boll":
		return KindBollinger, nil
	}
	return "", &validator.ConfigurationError{Filter: name, Param: "kind", Reason: "unknown filter"}
}

func defaultName(kind Kind) string {
	switch kind {
	case KindRSI:
		return "RSI Filter"
	case KindMACD:
		return "MACD Filter"
	case KindBollinger:
		return "Bollinger Band Filter"
	}
	return string(kind)
}

// Named fills an empty Name with the report name of the kind.
func (s Spec) Named() Spec {
	if s.Name == "" {
		s.Name = defaultName(s.Kind)
	}
	return s
}

// Validate reports a *validator.ConfigurationError for unusable parameters.
func (s Spec) Validate() error {
	s = s.Named()
	switch s.Kind {
	case KindRSI:
		return s.RSI.validate(s.Name)
	case KindMACD:
		return s.MACD.validate(s.Name)
	case KindBollinger:
		return s.Bollinger.validate(s.Name)
	}
	return &validator.ConfigurationError{Filter: s.Name, Param: "kind", Reason: fmt.Sprintf("unknown filter kind %q", s.Kind)}
}

// MinLength is the shortest series for which the indicator yields at least
// one defined value.
func (s Spec) MinLength() int {
	switch s.Kind {
	case KindRSI:
		return s.RSI.Period + 1
	case KindMACD:
		return s.MACD.Slow + s.MACD.Signal - 1
	case KindBollinger:
		return s.Bollinger.Window
	}
	return 0
}

// CheckLength returns *validator.InsufficientDataError when n points are not
// enough for the indicator to leave its warm-up window.
func (s Spec) CheckLength(n int) error {
	s = s.Named()
	if need := s.MinLength(); n < need {
		return &validator.InsufficientDataError{Filter: s.Name, Have: n, Need: need}
	}
	return nil
}

// Apply computes the signal series. A series shorter than MinLength yields
// all false without an error.
func (s Spec) Apply(closes []float64) ([]bool, error) {
	s = s.Named()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Kind {
	case KindRSI:
		return RSI(closes, s.RSI)
	case KindMACD:
		return MACD(closes, s.MACD)
	default:
		return Bollinger(closes, s.Bollinger)
	}
}

func (s Spec) String() string {
	switch s.Kind {
	case KindRSI:
		return fmt.Sprintf("%s(period=%d, lower=%g, upper=%g)", s.Kind, s.RSI.Period, s.RSI.Lower, s.RSI.Upper)
	case KindMACD:
		return fmt.Sprintf("%s(fast=%d, slow=%d, signal=%d)", s.Kind, s.MACD.Fast, s.MACD.Slow, s.MACD.Signal)
	case KindBollinger:
		return fmt.Sprintf("%s(window=%d, k=%g)", s.Kind, s.Bollinger.Window, s.Bollinger.K)
	}
	return string(s.Kind)
}
