package experiment

import (
	"fmt"
	"sort"
	"strings"

	"abstat/domain/core"
)

// Report assembles one or more corrected test results, plus their derived
// curve data, into a single structured document. Result order follows input
// test order; the report never mutates the results it is given.
type Report struct {
	ID            core.ReportID              `json:"id"`
	ExperimentKey core.ExperimentKey         `json:"experiment_key"`
	Correction    CorrectionMethod           `json:"correction"`
	Results       []TestResult               `json:"results"`
	Traces        map[string]SequentialTrace `json:"traces,omitempty"`
	CreatedAt     core.Timestamp             `json:"created_at"`
}

// NewReport builds a report over the given results, copying the slice so the
// caller's inputs stay untouched.
func NewReport(key core.ExperimentKey, correction CorrectionMethod, results []TestResult) *Report {
	copied := make([]TestResult, len(results))
	copy(copied, results)
	return &Report{
		ID:            core.ReportID(core.NewID()),
		ExperimentKey: key,
		Correction:    correction,
		Results:       copied,
		CreatedAt:     core.Now(),
	}
}

// Result looks up a result by test name
func (r *Report) Result(name string) (TestResult, bool) {
	for _, res := range r.Results {
		if res.Name == name {
			return res, true
		}
	}
	return TestResult{}, false
}

// SignificantCount returns the number of significant results
func (r *Report) SignificantCount() int {
	n := 0
	for _, res := range r.Results {
		if res.Decision == DecisionSignificant {
			n++
		}
	}
	return n
}

// Markdown renders the report as a markdown document. The HTTP layer turns
// this into HTML; the engine itself only ever emits text and numeric series.
func (r *Report) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# A/B Test Report: %s\n\n", r.ExperimentKey)
	fmt.Fprintf(&b, "Correction: %s · Tests: %d · Significant: %d\n\n", r.Correction, len(r.Results), r.SignificantCount())

	for _, res := range r.Results {
		fmt.Fprintf(&b, "## %s\n\n", res.Name)
		fmt.Fprintf(&b, "- Method: %s (%s metric)\n", res.TestType, res.MetricKind)
		fmt.Fprintf(&b, "- Control: n=%d, mean=%.4f\n", res.Control.SampleSize, res.Control.Mean)
		fmt.Fprintf(&b, "- Treatment: n=%d, mean=%.4f\n", res.Treatment.SampleSize, res.Treatment.Mean)
		fmt.Fprintf(&b, "- Uplift: %+.4f absolute, %+.2f%% relative\n", res.AbsoluteUplift, res.RelativeUplift*100)
		fmt.Fprintf(&b, "- %s interval (%.0f%%): [%.4f, %.4f]\n",
			res.Interval.Kind, res.Interval.Level*100, res.Interval.Lower, res.Interval.Upper)
		switch res.TestType {
		case TestFrequentist:
			fmt.Fprintf(&b, "- Statistic: %.4f, p-value: %.4g", res.Statistic, res.PValue)
			if res.AdjustedP > 0 {
				fmt.Fprintf(&b, " (adjusted: %.4g)", res.AdjustedP)
			}
			b.WriteString("\n")
		case TestBayesian:
			fmt.Fprintf(&b, "- P(treatment > control): %.4f, expected loss: %.5f\n", res.ProbSuperiority, res.ExpectedLoss)
		}
		fmt.Fprintf(&b, "- **Decision: %s**\n\n", res.Decision)
	}

	if len(r.Traces) > 0 {
		b.WriteString("## Sequential traces\n\n")
		names := make([]string, 0, len(r.Traces))
		for name := range r.Traces {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			trace := r.Traces[name]
			fmt.Fprintf(&b, "- %s: %s after %d look(s)\n", name, trace.Status, len(trace.Looks))
		}
	}
	return b.String()
}
