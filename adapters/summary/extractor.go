package summary

import (
	"fmt"
	"sort"

	"github.com/montanaflynn/stats"

	"abstat/domain/core"
	"abstat/domain/experiment"
)

// Extractor reduces raw per-subject observations into per-group sufficient
// statistics. Summaries are derived values: they are rebuilt from scratch on
// every call, never mutated in place.
type Extractor struct {
	countVariance experiment.CountVarianceMode
}

// NewExtractor creates an extractor. countVariance only matters for count
// metrics; pass CountVariancePoisson for the default Poisson assumption.
func NewExtractor(countVariance experiment.CountVarianceMode) *Extractor {
	if countVariance == "" {
		countVariance = experiment.CountVariancePoisson
	}
	return &Extractor{countVariance: countVariance}
}

// MinFrequentistN is the smallest per-group sample with a defined sample
// variance. The Bayesian path accepts less but flags the summary.
const MinFrequentistN = 2

// Summarize groups the records and computes per-group statistics for the
// given metric kind. strict=true enforces the frequentist minimum sample
// size; strict=false (Bayesian path) only requires one observation per
// group and marks low-information summaries instead.
func (e *Extractor) Summarize(records []experiment.Observation, kind experiment.MetricKind, strict bool) (map[experiment.Group]experiment.GroupSummary, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownMetricKind, kind)
	}
	if len(records) == 0 {
		return nil, core.NewInsufficientDataError("(all)", 0, 1)
	}

	grouped := make(map[experiment.Group][]float64)
	for _, rec := range records {
		if rec.Group == "" {
			return nil, core.NewConfigurationError("records",
				fmt.Sprintf("subject %s has no group assignment", rec.SubjectID))
		}
		if kind == experiment.MetricBinary && rec.Value != 0 && rec.Value != 1 {
			return nil, core.NewConfigurationError("records",
				fmt.Sprintf("binary metric value for subject %s must be 0 or 1, got %v", rec.SubjectID, rec.Value))
		}
		grouped[rec.Group] = append(grouped[rec.Group], rec.Value)
	}

	minN := 1
	if strict {
		minN = MinFrequentistN
	}

	out := make(map[experiment.Group]experiment.GroupSummary, len(grouped))
	for _, group := range sortedGroups(grouped) {
		values := grouped[group]
		if len(values) < minN {
			return nil, core.NewInsufficientDataError(string(group), len(values), minN)
		}
		s, err := e.summarizeGroup(group, values, kind)
		if err != nil {
			return nil, err
		}
		out[group] = s
	}
	return out, nil
}

func (e *Extractor) summarizeGroup(group experiment.Group, values []float64, kind experiment.MetricKind) (experiment.GroupSummary, error) {
	switch kind {
	case experiment.MetricBinary:
		successes := 0
		for _, v := range values {
			if v == 1 {
				successes++
			}
		}
		return experiment.NewBinarySummary(group, successes, len(values))

	case experiment.MetricContinuous:
		mean, err := stats.Mean(values)
		if err != nil {
			return experiment.GroupSummary{}, fmt.Errorf("mean for group %s: %w", group, err)
		}
		variance := sampleVariance(values, mean)
		return experiment.GroupSummary{
			Group:          group,
			MetricKind:     kind,
			SampleSize:     len(values),
			Mean:           mean,
			Variance:       variance,
			LowInformation: len(values) < MinFrequentistN,
		}, nil

	case experiment.MetricCount:
		mean, err := stats.Mean(values)
		if err != nil {
			return experiment.GroupSummary{}, fmt.Errorf("mean for group %s: %w", group, err)
		}
		variance := mean // Poisson: var = mean
		if e.countVariance == experiment.CountVarianceSample {
			variance = sampleVariance(values, mean)
		}
		return experiment.GroupSummary{
			Group:          group,
			MetricKind:     kind,
			SampleSize:     len(values),
			Mean:           mean,
			Variance:       variance,
			LowInformation: len(values) < MinFrequentistN,
		}, nil
	}
	return experiment.GroupSummary{}, fmt.Errorf("%w: %q", core.ErrUnknownMetricKind, kind)
}

// sampleVariance is the unbiased (n-1) estimator. montanaflynn's
// SampleVariance divides by n, so the denominator is adjusted here.
func sampleVariance(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(values)-1)
}

func sortedGroups(grouped map[experiment.Group][]float64) []experiment.Group {
	groups := make([]experiment.Group, 0, len(grouped))
	for g := range grouped {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups
}
