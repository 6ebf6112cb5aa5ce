package experiment

import (
	"fmt"

	"abstat/domain/core"
)

// TestType selects the inference engine
type TestType string

const (
	TestFrequentist TestType = "frequentist"
	TestBayesian    TestType = "bayesian"
)

// Valid reports whether the test type is a member of the closed set
func (t TestType) Valid() bool {
	return t == TestFrequentist || t == TestBayesian
}

// Tails selects one- or two-sided hypothesis testing
type Tails string

const (
	OneTailed Tails = "one_tailed"
	TwoTailed Tails = "two_tailed"
)

// Valid reports whether the tails value is a member of the closed set
func (t Tails) Valid() bool {
	return t == OneTailed || t == TwoTailed
}

// CorrectionMethod selects the multiple-testing correction
type CorrectionMethod string

const (
	CorrectionNone       CorrectionMethod = "none"
	CorrectionBonferroni CorrectionMethod = "bonferroni"
	CorrectionHolm       CorrectionMethod = "holm"
	CorrectionBH         CorrectionMethod = "benjamini-hochberg"
)

// Valid reports whether the correction method is a member of the closed set
func (c CorrectionMethod) Valid() bool {
	switch c {
	case CorrectionNone, CorrectionBonferroni, CorrectionHolm, CorrectionBH:
		return true
	}
	return false
}

// UpliftMethod selects how the uplift distribution is computed
type UpliftMethod string

const (
	UpliftPercent    UpliftMethod = "percent"    // (b - a) / a
	UpliftRatio      UpliftMethod = "ratio"      // b / a
	UpliftDifference UpliftMethod = "difference" // b - a
)

// Valid reports whether the uplift method is a member of the closed set
func (u UpliftMethod) Valid() bool {
	switch u {
	case UpliftPercent, UpliftRatio, UpliftDifference:
		return true
	}
	return false
}

// CountVarianceMode selects the variance estimator for count metrics
type CountVarianceMode string

const (
	CountVariancePoisson CountVarianceMode = "poisson" // var = mean
	CountVarianceSample  CountVarianceMode = "sample"  // sample variance
)

// MinPosteriorDraws bounds Monte Carlo error on simulated posteriors.
const MinPosteriorDraws = 2000

// TestConfig is the immutable input to one test run.
type TestConfig struct {
	TestType   TestType   `json:"test_type"`
	MetricKind MetricKind `json:"metric_kind"`
	Tails      Tails      `json:"tails"`

	Alpha               float64          `json:"alpha"`
	MinDetectableEffect float64          `json:"min_detectable_effect,omitempty"`
	Correction          CorrectionMethod `json:"correction"`

	// Sequential testing
	Sequential        bool    `json:"sequential"`
	StoppingThreshold float64 `json:"stopping_threshold,omitempty"`
	FutilityThreshold float64 `json:"futility_threshold,omitempty"`
	MaxSampleSize     int     `json:"max_sample_size,omitempty"`

	// Bayesian model
	PriorSuccesses int          `json:"prior_successes,omitempty"`
	PriorTrials    int          `json:"prior_trials,omitempty"`
	PosteriorDraws int          `json:"posterior_draws,omitempty"`
	UpliftMethod   UpliftMethod `json:"uplift_method,omitempty"`
	LossTolerance  float64      `json:"loss_tolerance,omitempty"`
	Seed           int64        `json:"seed"`

	CountVariance CountVarianceMode `json:"count_variance,omitempty"`
}

// Defaults are the process-wide configuration defaults, read-only after
// initialization and passed into components at construction.
type Defaults struct {
	Alpha             float64
	Strategy          Strategy
	Tails             Tails
	PosteriorDraws    int
	PriorSuccesses    int
	PriorTrials       int
	StoppingThreshold float64
	FutilityThreshold float64
	LossTolerance     float64
	Seed              int64
}

// StandardDefaults mirrors the defaults the original platform shipped with.
func StandardDefaults() Defaults {
	return Defaults{
		Alpha:             0.05,
		Strategy:          StrategyHash,
		Tails:             TwoTailed,
		PosteriorDraws:    MinPosteriorDraws,
		PriorSuccesses:    30,
		PriorTrials:       100,
		StoppingThreshold: 0.95,
		FutilityThreshold: 0.10,
		LossTolerance:     0.01,
		Seed:              1,
	}
}

// NewTestConfig builds a validated test configuration, filling unset fields
// from defaults.
func NewTestConfig(testType TestType, metricKind MetricKind, defaults Defaults) (TestConfig, error) {
	cfg := TestConfig{
		TestType:          testType,
		MetricKind:        metricKind,
		Tails:             defaults.Tails,
		Alpha:             defaults.Alpha,
		Correction:        CorrectionNone,
		StoppingThreshold: defaults.StoppingThreshold,
		FutilityThreshold: defaults.FutilityThreshold,
		PriorSuccesses:    defaults.PriorSuccesses,
		PriorTrials:       defaults.PriorTrials,
		PosteriorDraws:    defaults.PosteriorDraws,
		UpliftMethod:      UpliftPercent,
		LossTolerance:     defaults.LossTolerance,
		Seed:              defaults.Seed,
		CountVariance:     CountVariancePoisson,
	}
	if err := cfg.Validate(); err != nil {
		return TestConfig{}, err
	}
	return cfg, nil
}

// Validate checks every configuration invariant. Violations surface as
// configuration errors and are never retried.
func (c TestConfig) Validate() error {
	if !c.TestType.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownTestType, c.TestType)
	}
	if !c.MetricKind.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownMetricKind, c.MetricKind)
	}
	if !c.Tails.Valid() {
		return core.NewConfigurationError("tails", fmt.Sprintf("unknown value %q", c.Tails))
	}
	if !c.Correction.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownCorrection, c.Correction)
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		return core.NewConfigurationError("alpha", fmt.Sprintf("must be in (0, 1), got %v", c.Alpha))
	}
	if c.MinDetectableEffect < 0 {
		return core.NewConfigurationError("min_detectable_effect", "must be non-negative")
	}
	if c.Sequential || c.TestType == TestBayesian {
		if c.StoppingThreshold <= 0 || c.StoppingThreshold >= 1 {
			return fmt.Errorf("%w: stopping_threshold %v", core.ErrThresholdOutOfRange, c.StoppingThreshold)
		}
	}
	if c.FutilityThreshold < 0 || c.FutilityThreshold >= 1 {
		return fmt.Errorf("%w: futility_threshold %v", core.ErrThresholdOutOfRange, c.FutilityThreshold)
	}
	if c.MaxSampleSize < 0 {
		return core.NewConfigurationError("max_sample_size", "must be non-negative")
	}
	if c.TestType == TestBayesian {
		if c.PosteriorDraws < MinPosteriorDraws {
			return core.NewConfigurationError("posterior_draws",
				fmt.Sprintf("must be at least %d to bound Monte Carlo error, got %d", MinPosteriorDraws, c.PosteriorDraws))
		}
		if !c.UpliftMethod.Valid() {
			return core.NewConfigurationError("uplift_method", fmt.Sprintf("unknown value %q", c.UpliftMethod))
		}
		if c.PriorTrials < c.PriorSuccesses || c.PriorSuccesses < 0 {
			return core.NewConfigurationError("prior",
				fmt.Sprintf("prior_successes %d must be in [0, prior_trials=%d]", c.PriorSuccesses, c.PriorTrials))
		}
		if c.LossTolerance < 0 {
			return core.NewConfigurationError("loss_tolerance", "must be non-negative")
		}
	}
	if c.MetricKind == MetricCount && c.CountVariance != CountVariancePoisson && c.CountVariance != CountVarianceSample {
		return core.NewConfigurationError("count_variance", fmt.Sprintf("unknown value %q", c.CountVariance))
	}
	return nil
}
