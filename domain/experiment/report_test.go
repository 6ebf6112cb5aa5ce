package experiment

import (
	"strings"
	"testing"
)

func sampleResults() []TestResult {
	control := GroupSummary{Group: GroupControl, MetricKind: MetricBinary, SampleSize: 1000, Successes: 100, Mean: 0.10}
	winner := GroupSummary{Group: "treatment_a", MetricKind: MetricBinary, SampleSize: 1000, Successes: 130, Mean: 0.13}
	loser := GroupSummary{Group: "treatment_b", MetricKind: MetricBinary, SampleSize: 1000, Successes: 102, Mean: 0.102}

	return []TestResult{
		{
			Name:           "treatment_a",
			TestType:       TestFrequentist,
			MetricKind:     MetricBinary,
			Control:        control,
			Treatment:      winner,
			AbsoluteUplift: 0.03,
			RelativeUplift: 0.3,
			PValue:         0.012,
			Interval:       Interval{Kind: "confidence", Level: 0.95, Lower: 0.005, Upper: 0.055},
			Decision:       DecisionSignificant,
		},
		{
			Name:           "treatment_b",
			TestType:       TestFrequentist,
			MetricKind:     MetricBinary,
			Control:        control,
			Treatment:      loser,
			AbsoluteUplift: 0.002,
			RelativeUplift: 0.02,
			PValue:         0.81,
			Interval:       Interval{Kind: "confidence", Level: 0.95, Lower: -0.024, Upper: 0.028},
			Decision:       DecisionNotSignificant,
		},
	}
}

func TestNewReport_CopiesResults(t *testing.T) {
	results := sampleResults()
	report := NewReport("checkout-cta", CorrectionHolm, results)

	if report.ID == "" {
		t.Fatal("report needs an id")
	}
	if report.ExperimentKey != "checkout-cta" {
		t.Fatalf("experiment key = %q", report.ExperimentKey)
	}
	if len(report.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(report.Results))
	}

	// Mutating the caller's slice must not reach the report.
	results[0].Name = "mutated"
	if report.Results[0].Name != "treatment_a" {
		t.Fatal("report must copy its input results")
	}
}

func TestReport_Lookups(t *testing.T) {
	report := NewReport("checkout-cta", CorrectionNone, sampleResults())

	res, ok := report.Result("treatment_b")
	if !ok {
		t.Fatal("treatment_b should be present")
	}
	if res.PValue != 0.81 {
		t.Fatalf("p = %v, want 0.81", res.PValue)
	}
	if _, ok := report.Result("treatment_z"); ok {
		t.Fatal("unknown name should miss")
	}

	if got := report.SignificantCount(); got != 1 {
		t.Fatalf("significant count = %d, want 1", got)
	}
}

func TestReport_Markdown(t *testing.T) {
	report := NewReport("checkout-cta", CorrectionHolm, sampleResults())
	report.Traces = map[string]SequentialTrace{
		"treatment_b": {Status: StatusStopFutile, Looks: make([]TestResult, 2)},
		"treatment_a": {Status: StatusStopSignificant, Looks: make([]TestResult, 3)},
	}

	md := report.Markdown()
	for _, want := range []string{
		"# A/B Test Report: checkout-cta",
		"Correction: holm",
		"## treatment_a",
		"## treatment_b",
		"p-value: 0.012",
		"**Decision: significant**",
		"## Sequential traces",
		"treatment_a: stop_significant after 3 look(s)",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}

	// Trace lines are sorted by name so rendering is deterministic.
	if strings.Index(md, "treatment_a: stop_significant") > strings.Index(md, "treatment_b: stop_futile") {
		t.Fatal("trace lines should be sorted by test name")
	}

	for i := 0; i < 5; i++ {
		if report.Markdown() != md {
			t.Fatal("markdown rendering must be deterministic")
		}
	}
}
