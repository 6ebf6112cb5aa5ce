package frequentist

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"abstat/domain/core"
	"abstat/domain/experiment"
)

// Engine computes closed-form frequentist test results: point estimates,
// confidence intervals, p-values, and power curves. It holds no state; every
// run is a pure computation over its inputs.
type Engine struct{}

// NewEngine creates a frequentist engine
func NewEngine() *Engine {
	return &Engine{}
}

// powerGridPoints matches the effect grid the power curve is sampled on.
const powerGridPoints = 40

// Run executes the test appropriate to the metric kind: a pooled
// two-proportion z-test for binary metrics, Welch's t-test (unequal
// variances assumed) for continuous and count metrics.
func (e *Engine) Run(ctx context.Context, control, treatment experiment.GroupSummary, cfg experiment.TestConfig) (experiment.TestResult, error) {
	if err := cfg.Validate(); err != nil {
		return experiment.TestResult{}, err
	}
	if err := checkSummaries(control, treatment, cfg.MetricKind); err != nil {
		return experiment.TestResult{}, err
	}

	result := experiment.TestResult{
		TestType:   experiment.TestFrequentist,
		MetricKind: cfg.MetricKind,
		Control:    control,
		Treatment:  treatment,
		SampleSize: control.SampleSize + treatment.SampleSize,
		ComputedAt: core.Now(),
	}

	switch cfg.MetricKind {
	case experiment.MetricBinary:
		e.twoProportionZ(&result, cfg)
	default: // continuous, count
		e.welchT(&result, cfg)
	}

	result.AbsoluteUplift = treatment.Mean - control.Mean
	if control.Mean != 0 {
		result.RelativeUplift = result.AbsoluteUplift / control.Mean
	}

	result.Curves.PowerCurve = e.powerCurve(control, treatment, cfg)
	if cfg.MinDetectableEffect > 0 {
		result.AchievedPower = e.PowerAt(control, treatment, cfg, cfg.MinDetectableEffect)
	}

	if result.Decision == "" {
		if result.PValue < cfg.Alpha {
			result.Decision = experiment.DecisionSignificant
		} else {
			result.Decision = experiment.DecisionNotSignificant
		}
	}
	return result, nil
}

// twoProportionZ runs the pooled two-proportion z-test.
func (e *Engine) twoProportionZ(r *experiment.TestResult, cfg experiment.TestConfig) {
	n1 := float64(r.Control.SampleSize)
	n2 := float64(r.Treatment.SampleSize)
	p1 := r.Control.Mean
	p2 := r.Treatment.Mean

	pooled := (float64(r.Control.Successes) + float64(r.Treatment.Successes)) / (n1 + n2)
	sePooled := math.Sqrt(pooled * (1 - pooled) * (1/n1 + 1/n2))

	diff := p2 - p1
	if sePooled == 0 {
		degenerate(r, diff, cfg)
		return
	}

	r.Statistic = diff / sePooled
	r.PValue = pValue(r.Statistic, cfg.Tails)

	// Wald interval on the difference uses the unpooled standard error.
	seWald := math.Sqrt(p1*(1-p1)/n1 + p2*(1-p2)/n2)
	z := criticalValue(cfg)
	r.Interval = experiment.Interval{
		Kind:  experiment.IntervalConfidence,
		Level: 1 - cfg.Alpha,
		Lower: diff - z*seWald,
		Upper: diff + z*seWald,
	}
}

// welchT runs Welch's t-test with the Welch-Satterthwaite df approximation.
func (e *Engine) welchT(r *experiment.TestResult, cfg experiment.TestConfig) {
	n1 := float64(r.Control.SampleSize)
	n2 := float64(r.Treatment.SampleSize)
	v1 := r.Control.Variance
	v2 := r.Treatment.Variance

	diff := r.Treatment.Mean - r.Control.Mean
	se := math.Sqrt(v1/n1 + v2/n2)
	if se == 0 {
		// All values identical in both groups: the interval collapses to a
		// point and the p-value is reported as exactly 0 or 1, never NaN.
		degenerate(r, diff, cfg)
		return
	}

	r.Statistic = diff / se
	r.DegreesOfFreedom = welchSatterthwaite(v1, n1, v2, n2)

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: r.DegreesOfFreedom}
	switch cfg.Tails {
	case experiment.OneTailed:
		if r.Statistic > 0 {
			r.PValue = 1 - tDist.CDF(r.Statistic)
		} else {
			r.PValue = tDist.CDF(r.Statistic)
		}
	default:
		r.PValue = 2 * (1 - tDist.CDF(math.Abs(r.Statistic)))
	}

	quantile := 1 - cfg.Alpha/2
	if cfg.Tails == experiment.OneTailed {
		quantile = 1 - cfg.Alpha
	}
	tCrit := tDist.Quantile(quantile)
	r.Interval = experiment.Interval{
		Kind:  experiment.IntervalConfidence,
		Level: 1 - cfg.Alpha,
		Lower: diff - tCrit*se,
		Upper: diff + tCrit*se,
	}
}

// powerCurve computes achieved power over a grid of hypothetical effect
// sizes given the current sample sizes and alpha. Supports pre- and post-hoc
// power analysis; the numbers are handed to the rendering layer as-is.
func (e *Engine) powerCurve(control, treatment experiment.GroupSummary, cfg experiment.TestConfig) []experiment.CurvePoint {
	n1 := float64(control.SampleSize)
	n2 := float64(treatment.SampleSize)

	var se, step float64
	switch cfg.MetricKind {
	case experiment.MetricBinary:
		p1 := control.Mean
		se = math.Sqrt(p1 * (1 - p1) * (1/n1 + 1/n2))
		step = 0.005 // absolute difference in proportions, 0 to 0.2
	default:
		se = math.Sqrt(control.Variance/n1 + treatment.Variance/n2)
		// grid up to one pooled standard deviation
		pooledSD := math.Sqrt(((n1-1)*control.Variance + (n2-1)*treatment.Variance) / (n1 + n2 - 2))
		step = pooledSD / powerGridPoints
	}
	if se == 0 || step == 0 {
		return nil
	}

	zAlpha := criticalValue(cfg)
	norm := distuv.Normal{Mu: 0, Sigma: 1}

	points := make([]experiment.CurvePoint, 0, powerGridPoints)
	for i := 0; i < powerGridPoints; i++ {
		effect := float64(i) * step
		power := 1 - norm.CDF(zAlpha-effect/se)
		points = append(points, experiment.CurvePoint{X: effect, Y: power})
	}
	return points
}

// PowerAt returns achieved power for one hypothetical effect size.
func (e *Engine) PowerAt(control, treatment experiment.GroupSummary, cfg experiment.TestConfig, effect float64) float64 {
	n1 := float64(control.SampleSize)
	n2 := float64(treatment.SampleSize)
	var se float64
	if cfg.MetricKind == experiment.MetricBinary {
		p1 := control.Mean
		se = math.Sqrt(p1 * (1 - p1) * (1/n1 + 1/n2))
	} else {
		se = math.Sqrt(control.Variance/n1 + treatment.Variance/n2)
	}
	if se == 0 {
		return 0
	}
	norm := distuv.Normal{Mu: 0, Sigma: 1}
	return 1 - norm.CDF(criticalValue(cfg)-effect/se)
}

// degenerate fills a result for the zero-variance case.
func degenerate(r *experiment.TestResult, diff float64, cfg experiment.TestConfig) {
	r.Statistic = 0
	if diff == 0 {
		r.PValue = 1
		r.Decision = experiment.DecisionNotSignificant
	} else {
		r.PValue = 0
		r.Decision = experiment.DecisionSignificant
	}
	r.Interval = experiment.Interval{
		Kind:  experiment.IntervalConfidence,
		Level: 1 - cfg.Alpha,
		Lower: diff,
		Upper: diff,
	}
}

// pValue converts a z statistic to a p-value for the configured tails.
func pValue(z float64, tails experiment.Tails) float64 {
	norm := distuv.Normal{Mu: 0, Sigma: 1}
	if tails == experiment.OneTailed {
		if z > 0 {
			return 1 - norm.CDF(z)
		}
		return norm.CDF(z)
	}
	return 2 * (1 - norm.CDF(math.Abs(z)))
}

// criticalValue returns the z threshold for the configured alpha and tails.
func criticalValue(cfg experiment.TestConfig) float64 {
	norm := distuv.Normal{Mu: 0, Sigma: 1}
	if cfg.Tails == experiment.OneTailed {
		return norm.Quantile(1 - cfg.Alpha)
	}
	return norm.Quantile(1 - cfg.Alpha/2)
}

// welchSatterthwaite approximates the degrees of freedom for unequal
// variances. Denominator terms are guarded against zero variance in a
// single group.
func welchSatterthwaite(v1, n1, v2, n2 float64) float64 {
	num := math.Pow(v1/n1+v2/n2, 2)
	den := 0.0
	if n1 > 1 {
		den += math.Pow(v1/n1, 2) / (n1 - 1)
	}
	if n2 > 1 {
		den += math.Pow(v2/n2, 2) / (n2 - 1)
	}
	if den == 0 {
		return n1 + n2 - 2
	}
	return num / den
}

func checkSummaries(control, treatment experiment.GroupSummary, kind experiment.MetricKind) error {
	for _, s := range []experiment.GroupSummary{control, treatment} {
		if s.SampleSize < 2 {
			return core.NewInsufficientDataError(string(s.Group), s.SampleSize, 2)
		}
		if s.MetricKind != kind {
			return core.NewConfigurationError("metric_kind",
				fmt.Sprintf("summary for group %q is %s, config wants %s", s.Group, s.MetricKind, kind))
		}
	}
	return nil
}
