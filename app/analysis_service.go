package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"abstat/adapters/bayesian"
	"abstat/adapters/bucketing"
	"abstat/adapters/corrections"
	"abstat/adapters/frequentist"
	"abstat/adapters/sequential"
	"abstat/adapters/summary"
	"abstat/domain/core"
	"abstat/domain/experiment"
	"abstat/ports"
)

// AnalysisService orchestrates the batch analysis pipeline: load records,
// assign missing groups, tally per-group summaries, run one test per
// treatment arm against control, and correct for multiple comparisons.
type AnalysisService struct {
	defaults experiment.Defaults
}

// AnalysisRequest defines the inputs for one experiment analysis
type AnalysisRequest struct {
	ExperimentKey core.ExperimentKey
	Config        experiment.TestConfig
	Correction    experiment.CorrectionMethod

	// Bucketing inputs, used only when records arrive without groups.
	Weights  experiment.GroupWeights
	Strategy experiment.Strategy
	Seed     int64

	// Strict rejects malformed records instead of skipping them.
	Strict bool
}

// AnalysisOutcome contains the finished report with timing metadata
type AnalysisOutcome struct {
	Report    *experiment.Report `json:"report"`
	RuntimeMs int64              `json:"runtime_ms"`
}

// NewAnalysisService creates an analysis service
func NewAnalysisService(defaults experiment.Defaults) *AnalysisService {
	return &AnalysisService{defaults: defaults}
}

// Analyze runs the full pipeline over one dataset and returns the report.
func (s *AnalysisService) Analyze(ctx context.Context, reader ports.DatasetReaderPort, req AnalysisRequest) (*AnalysisOutcome, error) {
	startTime := time.Now()

	if req.ExperimentKey.String() == "" {
		return nil, core.NewConfigurationError("experiment_key", "cannot be empty")
	}
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	if req.Correction == "" {
		req.Correction = req.Config.Correction
	}
	if req.Correction == "" {
		req.Correction = experiment.CorrectionNone
	}
	if !req.Correction.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownCorrection, req.Correction)
	}

	records, err := reader.ReadObservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading observations: %w", err)
	}
	if len(records) == 0 {
		return nil, core.NewInsufficientDataError("dataset", 0, 1)
	}

	records, err = s.assignMissingGroups(records, req)
	if err != nil {
		return nil, err
	}

	extractor := summary.NewExtractor(req.Config.CountVariance)
	tallies, err := extractor.Summarize(records, req.Config.MetricKind, req.Strict)
	if err != nil {
		return nil, err
	}

	control, ok := tallies[experiment.GroupControl]
	if !ok {
		return nil, core.ErrNoControlGroup
	}

	treatments := make([]experiment.Group, 0, len(tallies)-1)
	for g := range tallies {
		if !g.IsControl() {
			treatments = append(treatments, g)
		}
	}
	if len(treatments) == 0 {
		return nil, core.NewInsufficientDataError("treatment", 0, 1)
	}
	sort.Slice(treatments, func(i, j int) bool { return treatments[i] < treatments[j] })

	results, traces, err := s.runTests(ctx, control, tallies, treatments, req)
	if err != nil {
		return nil, err
	}

	if err := s.applyCorrection(results, req); err != nil {
		return nil, err
	}

	report := experiment.NewReport(req.ExperimentKey, req.Correction, results)
	report.Traces = traces

	return &AnalysisOutcome{
		Report:    report,
		RuntimeMs: time.Since(startTime).Milliseconds(),
	}, nil
}

// AnalyzeAndWrite runs Analyze and hands the report to the writer port.
func (s *AnalysisService) AnalyzeAndWrite(ctx context.Context, reader ports.DatasetReaderPort, writer ports.ReportWriterPort, req AnalysisRequest) (*AnalysisOutcome, error) {
	outcome, err := s.Analyze(ctx, reader, req)
	if err != nil {
		return nil, err
	}
	if writer != nil {
		if err := writer.WriteReport(ctx, outcome.Report); err != nil {
			return nil, fmt.Errorf("writing report: %w", err)
		}
	}
	return outcome, nil
}

// assignMissingGroups buckets any record that arrived without a group.
// Records that already carry groups pass through untouched, so data exported
// from a system that did its own assignment keeps those assignments.
func (s *AnalysisService) assignMissingGroups(records []experiment.Observation, req AnalysisRequest) ([]experiment.Observation, error) {
	needsAssignment := false
	for _, r := range records {
		if r.Group == "" {
			needsAssignment = true
			break
		}
	}
	if !needsAssignment {
		return records, nil
	}

	if req.Weights == nil {
		return nil, core.NewConfigurationError("weights",
			"dataset has unassigned subjects but no group weights were provided")
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = s.defaults.Strategy
	}
	seed := req.Seed
	if seed == 0 {
		seed = s.defaults.Seed
	}

	assigner, err := bucketing.NewAssigner(req.ExperimentKey, strategy, req.Weights, seed)
	if err != nil {
		return nil, err
	}

	out := make([]experiment.Observation, len(records))
	for i, r := range records {
		if r.Group != "" {
			out[i] = r
			continue
		}
		assignment, err := assigner.AssignSubject(r.SubjectID.String())
		if err != nil {
			return nil, err
		}
		r.Group = assignment.Group
		out[i] = r
	}
	return out, nil
}

// runTests runs one engine per treatment arm, in parallel. Sequential
// configurations take a single interim look per arm and record the trace.
func (s *AnalysisService) runTests(ctx context.Context, control experiment.GroupSummary, tallies map[experiment.Group]experiment.GroupSummary, treatments []experiment.Group, req AnalysisRequest) ([]experiment.TestResult, map[string]experiment.SequentialTrace, error) {
	results := make([]experiment.TestResult, len(treatments))
	var traces map[string]experiment.SequentialTrace
	if req.Config.Sequential {
		traces = make(map[string]experiment.SequentialTrace, len(treatments))
	}

	g, gctx := errgroup.WithContext(ctx)
	type tracePair struct {
		name  string
		trace experiment.SequentialTrace
	}
	traceCh := make(chan tracePair, len(treatments))

	for i, name := range treatments {
		i, name := i, name
		g.Go(func() error {
			result, trace, err := s.runOne(gctx, control, tallies[name], req.Config)
			if err != nil {
				return fmt.Errorf("testing %s: %w", name, err)
			}
			result.Name = string(name)
			results[i] = result
			if trace != nil {
				traceCh <- tracePair{name: string(name), trace: *trace}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	close(traceCh)
	for p := range traceCh {
		traces[p.name] = p.trace
	}

	return results, traces, nil
}

func (s *AnalysisService) runOne(ctx context.Context, control, treatment experiment.GroupSummary, cfg experiment.TestConfig) (experiment.TestResult, *experiment.SequentialTrace, error) {
	engine := s.engineFor(cfg)

	if cfg.Sequential {
		controller, err := sequential.NewController(engine, cfg)
		if err != nil {
			return experiment.TestResult{}, nil, err
		}
		result, _, err := controller.Evaluate(ctx, control, treatment)
		if err != nil {
			return experiment.TestResult{}, nil, err
		}
		trace := controller.Trace()
		return result, &trace, nil
	}

	result, err := engine.Run(ctx, control, treatment, cfg)
	return result, nil, err
}

func (s *AnalysisService) engineFor(cfg experiment.TestConfig) ports.TestEnginePort {
	if cfg.TestType == experiment.TestBayesian {
		return bayesian.NewEngine()
	}
	return frequentist.NewEngine()
}

// applyCorrection adjusts frequentist p-values across treatment arms and
// rewrites each arm's decision from the adjusted values. Bayesian results
// and single-arm frequentist runs pass through unchanged.
func (s *AnalysisService) applyCorrection(results []experiment.TestResult, req AnalysisRequest) error {
	if req.Config.TestType != experiment.TestFrequentist {
		return nil
	}
	if req.Correction == experiment.CorrectionNone || len(results) < 2 {
		return nil
	}

	pValues := make([]float64, len(results))
	for i, r := range results {
		pValues[i] = r.PValue
	}

	adjustments, err := corrections.Correct(pValues, req.Correction, req.Config.Alpha)
	if err != nil {
		return err
	}

	for i := range results {
		// Sequential terminal states are decided by the spending boundary,
		// not the batch correction.
		if req.Config.Sequential {
			results[i].AdjustedP = adjustments[i].AdjustedP
			continue
		}
		results[i].AdjustedP = adjustments[i].AdjustedP
		results[i].AdjustedAlpha = adjustments[i].Alpha
		if adjustments[i].Significant {
			results[i].Decision = experiment.DecisionSignificant
		} else {
			results[i].Decision = experiment.DecisionNotSignificant
		}
	}
	return nil
}
