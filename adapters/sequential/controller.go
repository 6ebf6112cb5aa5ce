// Package sequential wraps a testing engine so accumulating data can be
// evaluated repeatedly without inflating the false-positive rate.
//
// The frequentist boundary is an O'Brien-Fleming-type alpha-spending
// approximation: at information fraction t = n/n_max the nominal level is
//
//	alpha(t) = 2 * (1 - Phi(z_{alpha/2} / sqrt(t)))
//
// which is very conservative at early looks and approaches the nominal
// alpha as t -> 1, keeping cumulative type-I error near alpha across looks.
// Futility stops use conditional power under the current trend. Bayesian
// looks compare probability-of-superiority and expected loss against the
// stopping threshold directly: the posterior already conditions on all data
// seen so far, so no spending adjustment applies; the threshold's operating
// characteristics are documented in DESIGN.md.
package sequential

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"abstat/domain/core"
	"abstat/domain/experiment"
	"abstat/ports"
)

// Controller drives one sequential test run. It is a state machine:
// Accumulating until a look crosses a stopping boundary, then terminal.
// Every look appends one chained result to the trace; intermediate results
// are never discarded.
type Controller struct {
	engine ports.TestEnginePort
	cfg    experiment.TestConfig
	trace  experiment.SequentialTrace
}

// NewController validates the configuration and builds a controller. A
// sequential run needs MaxSampleSize: it anchors the information fraction
// the spending function is evaluated at, and bounds the run.
func NewController(engine ports.TestEnginePort, cfg experiment.TestConfig) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Sequential {
		return nil, core.NewConfigurationError("sequential", "controller requires the sequential flag")
	}
	if cfg.MaxSampleSize <= 0 {
		return nil, core.NewConfigurationError("max_sample_size",
			"sequential testing requires a positive sample-size cap")
	}
	return &Controller{
		engine: engine,
		cfg:    cfg,
		trace:  experiment.SequentialTrace{Status: experiment.StatusAccumulating},
	}, nil
}

// Status returns the current state of the run
func (c *Controller) Status() experiment.SequentialStatus {
	return c.trace.Status
}

// Trace returns a copy of the auditable look chain
func (c *Controller) Trace() experiment.SequentialTrace {
	looks := make([]experiment.TestResult, len(c.trace.Looks))
	copy(looks, c.trace.Looks)
	return experiment.SequentialTrace{Status: c.trace.Status, Looks: looks}
}

// Evaluate runs one look over the data seen so far and applies the stopping
// rule. Calling it after the run has stopped is a caller bug and errors.
func (c *Controller) Evaluate(ctx context.Context, control, treatment experiment.GroupSummary) (experiment.TestResult, experiment.SequentialStatus, error) {
	if c.trace.Status.Terminal() {
		return experiment.TestResult{}, c.trace.Status,
			fmt.Errorf("sequential run already stopped with %s", c.trace.Status)
	}

	n := control.SampleSize + treatment.SampleSize
	t := float64(n) / float64(c.cfg.MaxSampleSize)
	if t <= 0 {
		return experiment.TestResult{}, c.trace.Status, core.NewInsufficientDataError("(all)", n, 1)
	}
	if t > 1 {
		t = 1
	}

	result, err := c.engine.Run(ctx, control, treatment, c.cfg)
	if err != nil {
		return experiment.TestResult{}, c.trace.Status, err
	}
	result.LookIndex = len(c.trace.Looks) + 1

	status := experiment.StatusAccumulating
	switch c.cfg.TestType {
	case experiment.TestFrequentist:
		status = c.frequentistRule(&result, t)
	case experiment.TestBayesian:
		status = c.bayesianRule(&result)
	}

	// The cap is terminal only when no decision was reached first.
	if status == experiment.StatusAccumulating && n >= c.cfg.MaxSampleSize {
		status = experiment.StatusStopMaxSample
		result.Decision = experiment.DecisionInconclusive
	}

	c.trace.Looks = append(c.trace.Looks, result)
	c.trace.Status = status
	return result, status, nil
}

// frequentistRule compares the look's p-value against the spent alpha at
// information fraction t, then checks futility via conditional power.
func (c *Controller) frequentistRule(result *experiment.TestResult, t float64) experiment.SequentialStatus {
	boundary := c.SpentAlpha(t)
	result.AdjustedAlpha = boundary

	if result.Decision == experiment.DecisionInconclusive {
		return experiment.StatusAccumulating
	}

	if result.PValue < boundary {
		result.Decision = experiment.DecisionSignificant
		return experiment.StatusStopSignificant
	}

	// Conditional power under the current trend: Z at full information is
	// N(z_k / sqrt(t), 1 - t) given the observed Z(t) = z_k.
	if t < 1 && c.cfg.FutilityThreshold > 0 {
		norm := distuv.Normal{Mu: 0, Sigma: 1}
		zCrit := norm.Quantile(1 - c.cfg.Alpha/2)
		if c.cfg.Tails == experiment.OneTailed {
			zCrit = norm.Quantile(1 - c.cfg.Alpha)
		}
		zK := math.Abs(result.Statistic)
		conditionalPower := 1 - norm.CDF((zCrit-zK/math.Sqrt(t))/math.Sqrt(1-t))
		if conditionalPower < c.cfg.FutilityThreshold {
			result.Decision = experiment.DecisionNotSignificant
			return experiment.StatusStopFutile
		}
	}

	result.Decision = experiment.DecisionContinueSampling
	return experiment.StatusAccumulating
}

// bayesianRule applies the posterior stopping thresholds directly.
func (c *Controller) bayesianRule(result *experiment.TestResult) experiment.SequentialStatus {
	if result.Decision == experiment.DecisionInconclusive {
		return experiment.StatusAccumulating
	}
	if result.Decision == experiment.DecisionSignificant {
		return experiment.StatusStopSignificant
	}
	// Futile when superiority has become as unlikely as the stopping
	// threshold demanded it be likely.
	if result.ProbSuperiority <= 1-c.cfg.StoppingThreshold {
		result.Decision = experiment.DecisionNotSignificant
		return experiment.StatusStopFutile
	}
	result.Decision = experiment.DecisionContinueSampling
	return experiment.StatusAccumulating
}

// SpentAlpha returns the nominal significance level available at
// information fraction t under the O'Brien-Fleming-type spending function.
func (c *Controller) SpentAlpha(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t > 1 {
		t = 1
	}
	norm := distuv.Normal{Mu: 0, Sigma: 1}
	if c.cfg.Tails == experiment.OneTailed {
		zCrit := norm.Quantile(1 - c.cfg.Alpha)
		return 1 - norm.CDF(zCrit/math.Sqrt(t))
	}
	zCrit := norm.Quantile(1 - c.cfg.Alpha/2)
	return 2 * (1 - norm.CDF(zCrit/math.Sqrt(t)))
}
