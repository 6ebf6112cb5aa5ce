package ports

import (
	"context"

	"abstat/domain/experiment"
)

// TestEnginePort runs one hypothesis test over a control/treatment pair of
// group summaries. The frequentist and Bayesian engines both satisfy it; the
// sequential controller wraps either one.
type TestEnginePort interface {
	Run(ctx context.Context, control, treatment experiment.GroupSummary, cfg experiment.TestConfig) (experiment.TestResult, error)
}

// ReportWriterPort receives finished reports at the interface boundary
// (HTTP response, CLI output). The engine never renders images; it hands
// over numeric series and text only.
type ReportWriterPort interface {
	WriteReport(ctx context.Context, report *experiment.Report) error
}
