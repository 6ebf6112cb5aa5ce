package testkit

import (
	"context"
	"fmt"
	"sync"

	"abstat/domain/experiment"
	"abstat/ports"
)

// TestKit provides testing utilities and fixtures
type TestKit struct {
	reports *InMemoryReportWriter // Shared report sink
}

// NewTestKit creates a new test kit instance
func NewTestKit() *TestKit {
	return &TestKit{reports: NewInMemoryReportWriter()}
}

// ReportWriterAdapter returns the shared in-memory report sink
func (t *TestKit) ReportWriterAdapter() ports.ReportWriterPort {
	return t.reports
}

// Reports returns every report written so far, in write order
func (t *TestKit) Reports() []*experiment.Report {
	return t.reports.All()
}

// ReaderFor wraps a fixed observation slice in a DatasetReaderPort
func (t *TestKit) ReaderFor(records []experiment.Observation) ports.DatasetReaderPort {
	return &SliceReaderAdapter{records: records}
}

// SliceReaderAdapter implements DatasetReaderPort over an in-memory slice
type SliceReaderAdapter struct {
	records []experiment.Observation
}

func NewSliceReaderAdapter(records []experiment.Observation) *SliceReaderAdapter {
	return &SliceReaderAdapter{records: records}
}

func (s *SliceReaderAdapter) ReadObservations(ctx context.Context) ([]experiment.Observation, error) {
	out := make([]experiment.Observation, len(s.records))
	copy(out, s.records)
	return out, nil
}

// InMemoryReportWriter implements ReportWriterPort with in-memory storage
type InMemoryReportWriter struct {
	reports []*experiment.Report
	byKey   map[string]*experiment.Report
	mu      sync.RWMutex
}

func NewInMemoryReportWriter() *InMemoryReportWriter {
	return &InMemoryReportWriter{
		byKey: make(map[string]*experiment.Report),
	}
}

func (w *InMemoryReportWriter) WriteReport(ctx context.Context, report *experiment.Report) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.reports = append(w.reports, report)
	w.byKey[report.ExperimentKey.String()] = report
	return nil
}

// All returns the stored reports in write order
func (w *InMemoryReportWriter) All() []*experiment.Report {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]*experiment.Report, len(w.reports))
	copy(out, w.reports)
	return out
}

// ByExperiment returns the most recent report for an experiment key
func (w *InMemoryReportWriter) ByExperiment(key string) (*experiment.Report, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	report, ok := w.byKey[key]
	return report, ok
}

// ByID returns the report with the given report ID
func (w *InMemoryReportWriter) ByID(id string) (*experiment.Report, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, report := range w.reports {
		if report.ID.String() == id {
			return report, true
		}
	}
	return nil, false
}
