package experiment

import (
	"fmt"
	"math"

	"abstat/domain/core"
)

// ============================================================================
// STABLE PRIMITIVES (Canonical, never change)
// ============================================================================

// Group labels an experiment arm
type Group string

const (
	GroupControl Group = "control"
)

// String returns the string representation
func (g Group) String() string { return string(g) }

// IsControl reports whether this is the control arm
func (g Group) IsControl() bool { return g == GroupControl }

// MetricKind defines the observed metric type
type MetricKind string

const (
	MetricBinary     MetricKind = "binary"     // conversion: 0 or 1 per subject
	MetricContinuous MetricKind = "continuous" // real-valued per subject
	MetricCount      MetricKind = "count"      // non-negative integer per subject
)

// Valid reports whether the metric kind is a member of the closed set
func (k MetricKind) Valid() bool {
	switch k {
	case MetricBinary, MetricContinuous, MetricCount:
		return true
	}
	return false
}

// Strategy defines how subjects are assigned to groups
type Strategy string

const (
	StrategyHash   Strategy = "hash"   // deterministic hash of subject id + experiment key
	StrategyRandom Strategy = "random" // seeded pseudo-random draw per subject
)

// Valid reports whether the strategy is a member of the closed set
func (s Strategy) Valid() bool {
	return s == StrategyHash || s == StrategyRandom
}

// Observation is one recorded metric value for one subject.
// Immutable once recorded.
type Observation struct {
	SubjectID core.SubjectID `json:"subject_id"`
	Group     Group          `json:"group,omitempty"` // empty when assignment is still needed
	Value     float64        `json:"value"`
	At        core.Timestamp `json:"at,omitempty"`
}

// GroupAssignment maps a subject to exactly one group for one experiment.
// Assignment is a pure function of (subject id, experiment key, strategy),
// so re-running it reproduces the same mapping.
type GroupAssignment struct {
	SubjectID     core.SubjectID     `json:"subject_id"`
	ExperimentKey core.ExperimentKey `json:"experiment_key"`
	Group         Group              `json:"group"`
	Bucket        float64            `json:"bucket"` // position on [0,1) the subject hashed to
}

// GroupWeights maps group labels to their traffic share.
// Weights must be positive and sum to 1 within floating tolerance.
type GroupWeights map[Group]float64

// WeightTolerance is the floating tolerance for the sum-to-one check.
const WeightTolerance = 1e-9

// Validate checks the weight invariants
func (w GroupWeights) Validate() error {
	if len(w) < 2 {
		return core.NewConfigurationError("group_weights", "need at least two groups")
	}
	sum := 0.0
	for g, weight := range w {
		if weight <= 0 {
			return fmt.Errorf("%w: group %q has weight %v", core.ErrInvalidWeights, g, weight)
		}
		sum += weight
	}
	if diff := sum - 1.0; diff > WeightTolerance || diff < -WeightTolerance {
		return fmt.Errorf("%w: sum is %v", core.ErrInvalidWeights, sum)
	}
	return nil
}

// ============================================================================
// GROUP SUMMARY (derived, replaced on new data, never mutated)
// ============================================================================

// GroupSummary holds per-group sufficient statistics consumed by both
// testing engines.
type GroupSummary struct {
	Group      Group      `json:"group"`
	MetricKind MetricKind `json:"metric_kind"`
	SampleSize int        `json:"sample_size"`
	Successes  int        `json:"successes,omitempty"` // binary metrics only
	Mean       float64    `json:"mean"`                // conversion rate for binary metrics
	Variance   float64    `json:"variance"`

	// LowInformation marks summaries below the frequentist minimum that the
	// Bayesian path still accepts. The posterior carries the flag through.
	LowInformation bool `json:"low_information,omitempty"`
}

// NewBinarySummary builds a summary for a conversion metric from counts.
func NewBinarySummary(group Group, successes, trials int) (GroupSummary, error) {
	if trials <= 0 {
		return GroupSummary{}, core.NewInsufficientDataError(string(group), trials, 1)
	}
	if successes < 0 || successes > trials {
		return GroupSummary{}, core.NewConfigurationError("successes",
			fmt.Sprintf("must be in [0, %d], got %d", trials, successes))
	}
	p := float64(successes) / float64(trials)
	return GroupSummary{
		Group:          group,
		MetricKind:     MetricBinary,
		SampleSize:     trials,
		Successes:      successes,
		Mean:           p,
		Variance:       p * (1 - p),
		LowInformation: trials < 2,
	}, nil
}

// Rate returns the conversion rate (alias of Mean for binary metrics)
func (s GroupSummary) Rate() float64 { return s.Mean }

// StandardError returns the standard error of the group mean.
// Returns 0 when the variance is degenerate; callers guard the denominator.
func (s GroupSummary) StandardError() float64 {
	if s.SampleSize <= 0 || s.Variance <= 0 {
		return 0
	}
	return math.Sqrt(s.Variance / float64(s.SampleSize))
}

// Failures returns trial count minus successes (binary metrics)
func (s GroupSummary) Failures() int { return s.SampleSize - s.Successes }
