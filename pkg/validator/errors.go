package validator

import (
	"errors"
	"fmt"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrInsufficientData = errors.New("insufficient data")
	ErrConfiguration    = errors.New("configuration error")
)

// ValidationError is returned for misaligned or malformed input series.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientDataError reports a series shorter than a filter's lookback.
type InsufficientDataError struct {
	Filter string
	Have   int
	Need   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: have %d points, need at least %d", e.Filter, e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// ConfigurationError is returned for an invalid filter parameter.
type ConfigurationError struct {
	Filter string
	Param  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s: %s", e.Filter, e.Param, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
