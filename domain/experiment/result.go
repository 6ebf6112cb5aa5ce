package experiment

import (
	"abstat/domain/core"
)

// Decision is the signal a test run communicates to the caller.
// Inconclusive is a valid terminal state, not an error: it is how the
// engine distinguishes "cannot decide" from a genuine negative result.
type Decision string

const (
	DecisionSignificant      Decision = "significant"
	DecisionNotSignificant   Decision = "not_significant"
	DecisionContinueSampling Decision = "continue_sampling"
	DecisionInconclusive     Decision = "inconclusive"
)

// IntervalKind distinguishes confidence from credible intervals
type IntervalKind string

const (
	IntervalConfidence IntervalKind = "confidence"
	IntervalCredible   IntervalKind = "credible"
)

// Interval is an interval estimate of the effect at a given level.
type Interval struct {
	Kind  IntervalKind `json:"kind"`
	Level float64      `json:"level"` // e.g. 0.95
	Lower float64      `json:"lower"`
	Upper float64      `json:"upper"`
}

// Contains reports whether v lies inside the interval
func (i Interval) Contains(v float64) bool {
	return v >= i.Lower && v <= i.Upper
}

// CurvePoint is one (x, y) sample of a derived curve. The engine only
// produces numeric series; rendering is the caller's concern.
type CurvePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Curves holds the derived plot data attached to a test result.
type Curves struct {
	PowerCurve       []CurvePoint `json:"power_curve,omitempty"`       // effect size -> achieved power
	PosteriorDensity []CurvePoint `json:"posterior_density,omitempty"` // uplift -> density
	UpliftTrace      []CurvePoint `json:"uplift_trace,omitempty"`      // cumulative P(uplift <= x)
}

// SimDiagnostics records convergence checks for simulated posteriors.
type SimDiagnostics struct {
	Draws         int     `json:"draws"`
	EffectiveSize float64 `json:"effective_size"`
	RHat          float64 `json:"r_hat"`
	Converged     bool    `json:"converged"`
	FallbackUsed  bool    `json:"fallback_used,omitempty"` // analytic approximation after non-convergence
}

// TestResult is the outcome of one test execution. Results from repeated
// sequential looks are chained; each carries the sample size it saw.
type TestResult struct {
	Name       string     `json:"name"`
	TestType   TestType   `json:"test_type"`
	MetricKind MetricKind `json:"metric_kind"`

	Control   GroupSummary `json:"control"`
	Treatment GroupSummary `json:"treatment"`

	AbsoluteUplift float64  `json:"absolute_uplift"`
	RelativeUplift float64  `json:"relative_uplift"`
	Interval       Interval `json:"interval"`

	// Frequentist quantities
	Statistic        float64 `json:"statistic,omitempty"`
	DegreesOfFreedom float64 `json:"degrees_of_freedom,omitempty"`
	PValue           float64 `json:"p_value,omitempty"`
	AdjustedP        float64 `json:"adjusted_p,omitempty"`
	AdjustedAlpha    float64 `json:"adjusted_alpha,omitempty"`
	AchievedPower    float64 `json:"achieved_power,omitempty"` // at the configured minimum detectable effect

	// Bayesian quantities
	ProbSuperiority float64         `json:"prob_superiority,omitempty"`
	ExpectedLoss    float64         `json:"expected_loss,omitempty"` // risk of shipping treatment
	Diagnostics     *SimDiagnostics `json:"diagnostics,omitempty"`

	Decision Decision `json:"decision"`

	// Sequential chaining
	LookIndex  int `json:"look_index,omitempty"`
	SampleSize int `json:"sample_size"`

	Curves     Curves         `json:"curves"`
	ComputedAt core.Timestamp `json:"computed_at"`
}

// SequentialStatus is the terminal (or interim) state of a sequential run.
type SequentialStatus string

const (
	StatusAccumulating    SequentialStatus = "accumulating"
	StatusStopSignificant SequentialStatus = "stop_significant"
	StatusStopFutile      SequentialStatus = "stop_futile"
	StatusStopMaxSample   SequentialStatus = "stop_max_sample"
)

// Terminal reports whether the status ends the sequential run
func (s SequentialStatus) Terminal() bool {
	return s != StatusAccumulating
}

// SequentialTrace is the auditable chain of looks from a sequential run.
// Intermediate results are never discarded.
type SequentialTrace struct {
	Status SequentialStatus `json:"status"`
	Looks  []TestResult     `json:"looks"`
}

// Latest returns the most recent look, or nil if none have happened
func (t *SequentialTrace) Latest() *TestResult {
	if len(t.Looks) == 0 {
		return nil
	}
	return &t.Looks[len(t.Looks)-1]
}
