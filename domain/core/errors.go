package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Configuration errors
	ErrConfiguration       = errors.New("invalid test configuration")
	ErrUnknownTestType     = fmt.Errorf("%w: unknown test type", ErrConfiguration)
	ErrUnknownMetricKind   = fmt.Errorf("%w: unknown metric kind", ErrConfiguration)
	ErrUnknownCorrection   = fmt.Errorf("%w: unknown correction method", ErrConfiguration)
	ErrUnknownStrategy     = fmt.Errorf("%w: unknown bucketing strategy", ErrConfiguration)
	ErrThresholdOutOfRange = fmt.Errorf("%w: threshold out of range", ErrConfiguration)
	ErrInvalidWeights      = fmt.Errorf("%w: group weights must be positive and sum to 1", ErrConfiguration)

	// Data errors
	ErrInsufficientData = errors.New("insufficient data for analysis")
	ErrNoControlGroup   = errors.New("no control group in dataset")
	ErrNotFound         = errors.New("resource not found")

	// Numerical errors
	ErrNumericalInstability = errors.New("numerical instability")
	ErrNonConvergent        = fmt.Errorf("%w: posterior simulation did not converge", ErrNumericalInstability)
	ErrDegenerateVariance   = fmt.Errorf("%w: degenerate variance", ErrNumericalInstability)

	// Determinism errors
	ErrSeedRequired = errors.New("random strategy requires an explicit seed")
)

// Error constructors with context
func NewConfigurationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrConfiguration, field, reason)
}

func NewInsufficientDataError(group string, n int, min int) error {
	return fmt.Errorf("%w: group %q has %d observations, need at least %d", ErrInsufficientData, group, n, min)
}

// Error checking helpers
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrSeedRequired)
}

func IsInsufficientDataError(err error) bool {
	return errors.Is(err, ErrInsufficientData) || errors.Is(err, ErrNoControlGroup)
}

func IsNumericalInstabilityError(err error) bool {
	return errors.Is(err, ErrNumericalInstability)
}
