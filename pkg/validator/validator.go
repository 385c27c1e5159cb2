package validator

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/rus-connect/filterbench/pkg/common"
)

var symbolRegex = regexp.MustCompile(`^[A-Z]{2,10}USDT$`)

func ValidateSymbol(symbol string) error {
	if !symbolRegex.MatchString(symbol) {
		return newValidation("symbol", "invalid symbol format")
	}
	return nil
}

func ValidateTimestamp(ts int64) error {
	if ts < 0 || ts > time.Now().Unix()+86400 {
		return newValidation("timestamp", "invalid timestamp")
	}
	return nil
}

func ValidatePrice(price float64) error {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return newValidation("price", "price must be positive")
	}
	return nil
}

func ValidateBalance(balance float64) error {
	if math.IsNaN(balance) || math.IsInf(balance, 0) || balance < 0 {
		return newValidation("initial_balance", "balance must be a non-negative number")
	}
	return nil
}

// ValidateSeries checks prices are positive and timestamps strictly increase.
// An empty series is valid.
func ValidateSeries(prices common.PriceSeries) error {
	for i, p := range prices {
		if err := ValidatePrice(p.Close); err != nil {
			return &ValidationError{Field: "prices", Reason: fmt.Sprintf("index %d: price must be positive, got %v", i, p.Close)}
		}
		if i > 0 && !p.Timestamp.After(prices[i-1].Timestamp) {
			return &ValidationError{Field: "prices", Reason: fmt.Sprintf("index %d: timestamps must be strictly increasing", i)}
		}
	}
	return nil
}

// ValidateAligned checks a signal series lines up with its price series.
func ValidateAligned(prices common.PriceSeries, signals []bool) error {
	if len(prices) != len(signals) {
		return &ValidationError{
			Field:  "signals",
			Reason: fmt.Sprintf("length %d does not match %d prices", len(signals), len(prices)),
		}
	}
	return nil
}

// ValidatePeriod rejects non-positive lookbacks.
func ValidatePeriod(filter, param string, v int) error {
	if v <= 0 {
		return &ConfigurationError{Filter: filter, Param: param, Reason: fmt.Sprintf("must be positive, got %d", v)}
	}
	return nil
}

func newValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a caller contract violation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
