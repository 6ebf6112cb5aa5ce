package app

import (
	"context"
	"fmt"

	"abstat/adapters/sequential"
	"abstat/adapters/summary"
	"abstat/domain/core"
	"abstat/domain/experiment"
	"abstat/ports"
)

// MonitorService drives a sequential experiment across interim looks.
// Each call to Observe appends a batch of records and takes one look at the
// accumulated data; the controller decides whether to keep sampling or stop.
type MonitorService struct {
	treatment  experiment.Group
	cfg        experiment.TestConfig
	extractor  *summary.Extractor
	controller *sequential.Controller
	records    []experiment.Observation
}

// LookOutcome is the result of one interim look
type LookOutcome struct {
	Result experiment.TestResult       `json:"result"`
	Status experiment.SequentialStatus `json:"status"`
}

// NewMonitorService creates a monitor for one treatment arm against control
func NewMonitorService(engine ports.TestEnginePort, treatment experiment.Group, cfg experiment.TestConfig) (*MonitorService, error) {
	if treatment.IsControl() {
		return nil, core.NewConfigurationError("treatment", "cannot monitor the control group against itself")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	controller, err := sequential.NewController(engine, cfg)
	if err != nil {
		return nil, err
	}
	return &MonitorService{
		treatment:  treatment,
		cfg:        cfg,
		extractor:  summary.NewExtractor(cfg.CountVariance),
		controller: controller,
	}, nil
}

// Observe ingests one batch and evaluates the next look. Batches after a
// terminal status are rejected; callers should check Status first.
func (m *MonitorService) Observe(ctx context.Context, batch []experiment.Observation) (*LookOutcome, error) {
	if m.controller.Status().Terminal() {
		return nil, fmt.Errorf("sequential run already terminal with status %s", m.controller.Status())
	}
	if len(batch) == 0 {
		return nil, core.NewInsufficientDataError("batch", 0, 1)
	}
	for _, r := range batch {
		switch r.Group {
		case experiment.GroupControl, m.treatment:
		default:
			return nil, fmt.Errorf("batch contains group %q, monitor tracks control vs %s", r.Group, m.treatment)
		}
	}
	m.records = append(m.records, batch...)

	tallies, err := m.extractor.Summarize(m.records, m.cfg.MetricKind, false)
	if err != nil {
		return nil, err
	}
	control, ok := tallies[experiment.GroupControl]
	if !ok {
		return nil, core.ErrNoControlGroup
	}
	treatment, ok := tallies[m.treatment]
	if !ok {
		return nil, core.NewInsufficientDataError(string(m.treatment), 0, 1)
	}

	result, status, err := m.controller.Evaluate(ctx, control, treatment)
	if err != nil {
		return nil, err
	}
	result.Name = string(m.treatment)
	return &LookOutcome{Result: result, Status: status}, nil
}

// Status reports the controller's current state
func (m *MonitorService) Status() experiment.SequentialStatus {
	return m.controller.Status()
}

// Trace returns the full look history so far
func (m *MonitorService) Trace() experiment.SequentialTrace {
	return m.controller.Trace()
}

// SampleSize reports the total records accumulated across batches
func (m *MonitorService) SampleSize() int {
	return len(m.records)
}
