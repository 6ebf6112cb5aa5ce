package testkit

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"abstat/domain/core"
	"abstat/domain/experiment"
)

// Scenario describes one synthetic experiment: a control arm plus any number
// of treatment arms, each with its own effect relative to control. Every run
// with the same Seed reproduces the same observations.
type Scenario struct {
	MetricKind experiment.MetricKind
	Subjects   int     // subjects per group
	Seed       uint64  // drives all randomness in the scenario
	Baseline   float64 // control conversion rate, mean, or event rate
	StdDev     float64 // continuous metrics only
	// Lifts maps treatment group name to its additive effect on Baseline.
	// An empty map produces a single A/A treatment arm with zero lift.
	Lifts map[experiment.Group]float64
}

// ConversionScenario is a convenience constructor for the common case of one
// binary treatment arm against control.
func ConversionScenario(subjects int, baseline, lift float64, seed uint64) Scenario {
	return Scenario{
		MetricKind: experiment.MetricBinary,
		Subjects:   subjects,
		Seed:       seed,
		Baseline:   baseline,
		Lifts:      map[experiment.Group]float64{"treatment": lift},
	}
}

// Generate produces group-assigned observations for the scenario. Subjects
// are named deterministically so downstream bucketing tests can re-derive
// assignments from the same IDs.
func (s Scenario) Generate() ([]experiment.Observation, error) {
	if s.Subjects <= 0 {
		return nil, fmt.Errorf("scenario needs a positive subject count, got %d", s.Subjects)
	}
	if !s.MetricKind.Valid() {
		return nil, fmt.Errorf("scenario has unknown metric kind %q", s.MetricKind)
	}

	lifts := s.Lifts
	if len(lifts) == 0 {
		lifts = map[experiment.Group]float64{"treatment": 0}
	}

	groups := []experiment.Group{experiment.GroupControl}
	effects := map[experiment.Group]float64{experiment.GroupControl: 0}
	for g, lift := range lifts {
		if g.IsControl() {
			return nil, fmt.Errorf("lifts cannot target the control group")
		}
		groups = append(groups, g)
		effects[g] = lift
	}
	// Group iteration order must not depend on map ordering.
	sortGroups(groups[1:])

	src := rand.NewSource(s.Seed)
	records := make([]experiment.Observation, 0, s.Subjects*len(groups))
	subject := 0
	for _, g := range groups {
		draw, err := s.sampler(effects[g], src)
		if err != nil {
			return nil, err
		}
		for i := 0; i < s.Subjects; i++ {
			subject++
			records = append(records, experiment.Observation{
				SubjectID: core.SubjectID(fmt.Sprintf("subject-%06d", subject)),
				Group:     g,
				Value:     draw(),
				At:        core.Now(),
			})
		}
	}
	return records, nil
}

// MustGenerate panics on scenario errors. Test fixture use only.
func (s Scenario) MustGenerate() []experiment.Observation {
	records, err := s.Generate()
	if err != nil {
		panic(err)
	}
	return records
}

func (s Scenario) sampler(effect float64, src rand.Source) (func() float64, error) {
	switch s.MetricKind {
	case experiment.MetricBinary:
		p := s.Baseline + effect
		if p < 0 || p > 1 {
			return nil, fmt.Errorf("conversion rate %.4f outside [0, 1]", p)
		}
		d := distuv.Bernoulli{P: p, Src: src}
		return d.Rand, nil

	case experiment.MetricContinuous:
		sd := s.StdDev
		if sd <= 0 {
			sd = 1
		}
		d := distuv.Normal{Mu: s.Baseline + effect, Sigma: sd, Src: src}
		return d.Rand, nil

	case experiment.MetricCount:
		lambda := s.Baseline + effect
		if lambda <= 0 {
			return nil, fmt.Errorf("event rate %.4f must be positive", lambda)
		}
		d := distuv.Poisson{Lambda: lambda, Src: src}
		return d.Rand, nil

	default:
		return nil, fmt.Errorf("unknown metric kind %q", s.MetricKind)
	}
}

func sortGroups(groups []experiment.Group) {
	for i := 1; i < len(groups); i++ {
		for j := i; j > 0 && groups[j] < groups[j-1]; j-- {
			groups[j], groups[j-1] = groups[j-1], groups[j]
		}
	}
}
