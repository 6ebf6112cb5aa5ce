package bayesian

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"abstat/domain/core"
	"abstat/domain/experiment"
)

// Engine models each group's metric with a conjugate posterior and derives
// probability-of-superiority, uplift, and expected-loss quantities from
// seeded posterior draws. Simulation is a bounded, cancellable unit of work:
// a context deadline or the draw budget caps it, and exhaustion yields an
// inconclusive result instead of blocking the batch.
type Engine struct{}

// NewEngine creates a Bayesian engine
func NewEngine() *Engine {
	return &Engine{}
}

// Convergence thresholds for simulated posteriors.
const (
	maxRHat = 1.05
	minESS  = 400

	densityBins    = 64
	tracePoints    = 100
	ctxCheckStride = 256
)

// Run draws from the per-group posteriors and computes the derived
// decision quantities. The same config (seed included) always reproduces
// the same result.
func (e *Engine) Run(ctx context.Context, control, treatment experiment.GroupSummary, cfg experiment.TestConfig) (experiment.TestResult, error) {
	if err := cfg.Validate(); err != nil {
		return experiment.TestResult{}, err
	}
	if control.SampleSize < 1 || treatment.SampleSize < 1 {
		return experiment.TestResult{}, core.NewInsufficientDataError("control/treatment",
			min(control.SampleSize, treatment.SampleSize), 1)
	}

	result := experiment.TestResult{
		TestType:   experiment.TestBayesian,
		MetricKind: cfg.MetricKind,
		Control:    control,
		Treatment:  treatment,
		SampleSize: control.SampleSize + treatment.SampleSize,
		ComputedAt: core.Now(),
	}

	controlSampler, err := posteriorSampler(control, cfg, cfg.Seed)
	if err != nil {
		return experiment.TestResult{}, err
	}
	treatmentSampler, err := posteriorSampler(treatment, cfg, cfg.Seed+1)
	if err != nil {
		return experiment.TestResult{}, err
	}

	controlDraws, ok := drawBounded(ctx, controlSampler, cfg.PosteriorDraws)
	if ok {
		var treatmentDraws []float64
		treatmentDraws, ok = drawBounded(ctx, treatmentSampler, cfg.PosteriorDraws)
		if ok {
			return e.fromDraws(result, controlDraws, treatmentDraws, cfg)
		}
	}

	// Budget exhausted mid-simulation: report inconclusive rather than a
	// confident decision on a truncated sample.
	result.Decision = experiment.DecisionInconclusive
	result.Diagnostics = &experiment.SimDiagnostics{Draws: 0, Converged: false}
	return result, nil
}

// fromDraws derives every decision quantity from matched posterior draws.
func (e *Engine) fromDraws(result experiment.TestResult, controlDraws, treatmentDraws []float64, cfg experiment.TestConfig) (experiment.TestResult, error) {
	uplift, cutoff, err := upliftDistribution(controlDraws, treatmentDraws, cfg.UpliftMethod)
	if err != nil {
		return experiment.TestResult{}, err
	}

	diag := diagnose(uplift)
	result.Diagnostics = &diag

	if !diag.Converged {
		// One deterministic fallback before surfacing: replace the simulated
		// posterior with the Gaussian approximation of the conjugate one.
		approx, ferr := e.analyticFallback(result, cfg)
		if ferr != nil {
			return experiment.TestResult{}, fmt.Errorf("%w: r_hat=%.4f ess=%.0f", core.ErrNonConvergent, diag.RHat, diag.EffectiveSize)
		}
		approx.Diagnostics = &diag
		approx.Diagnostics.FallbackUsed = true
		return approx, nil
	}

	above := 0
	lossSum := 0.0
	for _, u := range uplift {
		if u > cutoff {
			above++
		} else {
			lossSum += cutoff - u
		}
	}
	result.ProbSuperiority = float64(above) / float64(len(uplift))
	result.ExpectedLoss = lossSum / float64(len(uplift))

	meanControl, _ := stats.Mean(controlDraws)
	meanTreatment, _ := stats.Mean(treatmentDraws)
	result.AbsoluteUplift = meanTreatment - meanControl
	if meanControl != 0 {
		result.RelativeUplift = result.AbsoluteUplift / meanControl
	}

	level := 1 - cfg.Alpha
	lower, _ := stats.Percentile(uplift, 100*cfg.Alpha/2)
	upper, _ := stats.Percentile(uplift, 100*(1-cfg.Alpha/2))
	result.Interval = experiment.Interval{
		Kind:  experiment.IntervalCredible,
		Level: level,
		Lower: lower,
		Upper: upper,
	}

	result.Curves.PosteriorDensity = densityCurve(uplift)
	result.Curves.UpliftTrace = cumulativeTrace(uplift)

	if result.ProbSuperiority >= cfg.StoppingThreshold && result.ExpectedLoss <= cfg.LossTolerance {
		result.Decision = experiment.DecisionSignificant
	} else {
		result.Decision = experiment.DecisionContinueSampling
	}
	return result, nil
}

// analyticFallback computes P(superiority) and expected loss from the
// Gaussian approximation of the two posteriors, no simulation involved.
func (e *Engine) analyticFallback(result experiment.TestResult, cfg experiment.TestConfig) (experiment.TestResult, error) {
	mu1, var1, err := posteriorMoments(result.Control, cfg)
	if err != nil {
		return experiment.TestResult{}, err
	}
	mu2, var2, err := posteriorMoments(result.Treatment, cfg)
	if err != nil {
		return experiment.TestResult{}, err
	}

	diffSD := math.Sqrt(var1 + var2)
	if diffSD == 0 {
		return experiment.TestResult{}, core.ErrDegenerateVariance
	}
	diff := mu2 - mu1
	norm := distuv.Normal{Mu: 0, Sigma: 1}

	result.ProbSuperiority = norm.CDF(diff / diffSD)
	// E[max(0, -D)] for D ~ N(diff, diffSD^2)
	z := diff / diffSD
	result.ExpectedLoss = diffSD*norm.Prob(z) - diff*(1-norm.CDF(z))
	result.AbsoluteUplift = diff
	if mu1 != 0 {
		result.RelativeUplift = diff / mu1
	}
	zCrit := norm.Quantile(1 - cfg.Alpha/2)
	result.Interval = experiment.Interval{
		Kind:  experiment.IntervalCredible,
		Level: 1 - cfg.Alpha,
		Lower: diff - zCrit*diffSD,
		Upper: diff + zCrit*diffSD,
	}
	if result.ProbSuperiority >= cfg.StoppingThreshold && result.ExpectedLoss <= cfg.LossTolerance {
		result.Decision = experiment.DecisionSignificant
	} else {
		result.Decision = experiment.DecisionContinueSampling
	}
	return result, nil
}

// posteriorSampler builds the conjugate posterior for one group.
//
//	binary      Beta(prior_a + successes, prior_b + failures)
//	continuous  Student-t over the mean: mu + (s/sqrt(n)) * t_{n-1}
//	count       Gamma(1 + sum, n) over the rate
func posteriorSampler(s experiment.GroupSummary, cfg experiment.TestConfig, seed int64) (func() float64, error) {
	src := rand.NewSource(uint64(seed))

	switch cfg.MetricKind {
	case experiment.MetricBinary:
		priorFailures := cfg.PriorTrials - cfg.PriorSuccesses
		beta := distuv.Beta{
			Alpha: float64(cfg.PriorSuccesses + s.Successes + 1),
			Beta:  float64(priorFailures + s.Failures() + 1),
			Src:   src,
		}
		return beta.Rand, nil

	case experiment.MetricContinuous:
		n := float64(s.SampleSize)
		if s.SampleSize < 2 || s.Variance == 0 {
			// A one-point or zero-variance group has no spread information;
			// fall back to a wide normal centered at the observed mean.
			sigma := math.Max(math.Abs(s.Mean), 1)
			normal := distuv.Normal{Mu: s.Mean, Sigma: sigma, Src: src}
			return normal.Rand, nil
		}
		scale := math.Sqrt(s.Variance / n)
		t := distuv.StudentsT{Mu: s.Mean, Sigma: scale, Nu: n - 1, Src: src}
		return t.Rand, nil

	case experiment.MetricCount:
		n := float64(s.SampleSize)
		sum := s.Mean * n
		gamma := distuv.Gamma{Alpha: 1 + sum, Beta: n, Src: src}
		return gamma.Rand, nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownMetricKind, cfg.MetricKind)
}

// posteriorMoments returns the mean and variance of the conjugate posterior
// in closed form, for the analytic fallback path.
func posteriorMoments(s experiment.GroupSummary, cfg experiment.TestConfig) (float64, float64, error) {
	switch cfg.MetricKind {
	case experiment.MetricBinary:
		priorFailures := cfg.PriorTrials - cfg.PriorSuccesses
		a := float64(cfg.PriorSuccesses + s.Successes + 1)
		b := float64(priorFailures + s.Failures() + 1)
		mean := a / (a + b)
		variance := a * b / ((a + b) * (a + b) * (a + b + 1))
		return mean, variance, nil
	case experiment.MetricContinuous:
		n := float64(s.SampleSize)
		if n < 1 {
			return 0, 0, core.NewInsufficientDataError(string(s.Group), s.SampleSize, 1)
		}
		return s.Mean, s.Variance / math.Max(n, 1), nil
	case experiment.MetricCount:
		n := float64(s.SampleSize)
		sum := s.Mean * n
		a := 1 + sum
		return a / n, a / (n * n), nil
	}
	return 0, 0, fmt.Errorf("%w: %q", core.ErrUnknownMetricKind, cfg.MetricKind)
}

// drawBounded samples up to budget draws, checking for cancellation every
// few hundred iterations. Returns ok=false when the context expires first.
func drawBounded(ctx context.Context, sample func() float64, budget int) ([]float64, bool) {
	draws := make([]float64, 0, budget)
	for i := 0; i < budget; i++ {
		if i%ctxCheckStride == 0 && ctx.Err() != nil {
			return nil, false
		}
		draws = append(draws, sample())
	}
	return draws, true
}

// upliftDistribution converts matched draws into the uplift scale.
// The cutoff is the null point on that scale: 1 for ratios, 0 otherwise.
func upliftDistribution(controlDraws, treatmentDraws []float64, method experiment.UpliftMethod) ([]float64, float64, error) {
	uplift := make([]float64, len(controlDraws))
	switch method {
	case experiment.UpliftPercent:
		for i := range uplift {
			if controlDraws[i] == 0 {
				return nil, 0, core.ErrDegenerateVariance
			}
			uplift[i] = (treatmentDraws[i] - controlDraws[i]) / controlDraws[i]
		}
		return uplift, 0, nil
	case experiment.UpliftRatio:
		for i := range uplift {
			if controlDraws[i] == 0 {
				return nil, 0, core.ErrDegenerateVariance
			}
			uplift[i] = treatmentDraws[i] / controlDraws[i]
		}
		return uplift, 1, nil
	case experiment.UpliftDifference:
		for i := range uplift {
			uplift[i] = treatmentDraws[i] - controlDraws[i]
		}
		return uplift, 0, nil
	}
	return nil, 0, core.NewConfigurationError("uplift_method", fmt.Sprintf("unknown value %q", method))
}

// diagnose computes split-batch R-hat and a lag-1 effective sample size.
// Draws here are independent, so these normally pass; they exist to catch
// degenerate posteriors (zero spread, broken samplers) before a confident
// decision is reported.
func diagnose(draws []float64) experiment.SimDiagnostics {
	n := len(draws)
	diag := experiment.SimDiagnostics{Draws: n}
	if n < 8 {
		return diag
	}

	// Split into 4 batches and compare within/between variance.
	const batches = 4
	size := n / batches
	batchMeans := make([]float64, batches)
	batchVars := make([]float64, batches)
	for b := 0; b < batches; b++ {
		seg := draws[b*size : (b+1)*size]
		m, _ := stats.Mean(seg)
		batchMeans[b] = m
		sumSq := 0.0
		for _, v := range seg {
			d := v - m
			sumSq += d * d
		}
		batchVars[b] = sumSq / float64(size-1)
	}
	w, _ := stats.Mean(batchVars)
	grand, _ := stats.Mean(batchMeans)
	bVar := 0.0
	for _, m := range batchMeans {
		d := m - grand
		bVar += d * d
	}
	bVar = bVar * float64(size) / float64(batches-1)

	if w <= 0 {
		// Zero within-batch variance: a point-mass posterior.
		diag.RHat = math.Inf(1)
		return diag
	}
	varPlus := (float64(size-1)/float64(size))*w + bVar/float64(size)
	diag.RHat = math.Sqrt(varPlus / w)

	// Lag-1 autocorrelation estimate of the effective sample size.
	mean, _ := stats.Mean(draws)
	var num, den float64
	for i := 0; i < n-1; i++ {
		num += (draws[i] - mean) * (draws[i+1] - mean)
	}
	for i := 0; i < n; i++ {
		d := draws[i] - mean
		den += d * d
	}
	rho := 0.0
	if den > 0 {
		rho = num / den
	}
	diag.EffectiveSize = float64(n) * (1 - rho) / (1 + rho)
	diag.Converged = diag.RHat < maxRHat && diag.EffectiveSize >= minESS
	return diag
}

// densityCurve bins the uplift draws into a normalized histogram density.
func densityCurve(draws []float64) []experiment.CurvePoint {
	lo, _ := stats.Min(draws)
	hi, _ := stats.Max(draws)
	if hi <= lo {
		return nil
	}
	width := (hi - lo) / densityBins
	counts := make([]int, densityBins)
	for _, v := range draws {
		idx := int((v - lo) / width)
		if idx >= densityBins {
			idx = densityBins - 1
		}
		counts[idx]++
	}
	points := make([]experiment.CurvePoint, densityBins)
	norm := float64(len(draws)) * width
	for i, c := range counts {
		points[i] = experiment.CurvePoint{
			X: lo + (float64(i)+0.5)*width,
			Y: float64(c) / norm,
		}
	}
	return points
}

// cumulativeTrace samples the empirical CDF of the uplift distribution.
func cumulativeTrace(draws []float64) []experiment.CurvePoint {
	sorted := make([]float64, len(draws))
	copy(sorted, draws)
	sort.Float64s(sorted)

	points := make([]experiment.CurvePoint, 0, tracePoints)
	for i := 0; i < tracePoints; i++ {
		q := float64(i+1) / tracePoints
		idx := int(q*float64(len(sorted))) - 1
		if idx < 0 {
			idx = 0
		}
		points = append(points, experiment.CurvePoint{X: sorted[idx], Y: q})
	}
	return points
}
