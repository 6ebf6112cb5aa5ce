package bucketing

import (
	"fmt"
	"sort"

	"golang.org/x/exp/rand"

	"abstat/domain/core"
	"abstat/domain/experiment"
)

// Assigner maps subject identifiers to experiment groups. Assignment is a
// pure function of (subject id, experiment key, strategy, seed): re-running
// it for the same inputs always reproduces the same group.
//
// Changing the weights after subjects exist moves the bucket boundaries and
// may re-map subjects; the assigner never reassigns on its own. Callers that
// persist assignments should compare Fingerprint before re-running.
type Assigner struct {
	experimentKey core.ExperimentKey
	strategy      experiment.Strategy
	weights       experiment.GroupWeights
	order         []experiment.Group // stable cumulative-weight order
	seed          int64
}

// NewAssigner validates the strategy and weights and builds an assigner.
// The random strategy requires an explicit non-zero seed; unseeded
// randomness is never used.
func NewAssigner(key core.ExperimentKey, strategy experiment.Strategy, weights experiment.GroupWeights, seed int64) (*Assigner, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownStrategy, strategy)
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if strategy == experiment.StrategyRandom && seed == 0 {
		return nil, core.ErrSeedRequired
	}

	// Control first, then lexicographic, so cumulative boundaries are stable
	// regardless of map iteration order.
	order := make([]experiment.Group, 0, len(weights))
	for g := range weights {
		order = append(order, g)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].IsControl() != order[j].IsControl() {
			return order[i].IsControl()
		}
		return order[i] < order[j]
	})

	return &Assigner{
		experimentKey: key,
		strategy:      strategy,
		weights:       weights,
		order:         order,
		seed:          seed,
	}, nil
}

// AssignSubject places a subject on [0,1) and buckets it by cumulative weight.
func (a *Assigner) AssignSubject(subjectID string) (experiment.GroupAssignment, error) {
	if subjectID == "" {
		return experiment.GroupAssignment{}, core.NewConfigurationError("subject_id", "cannot be empty")
	}

	u := a.position(subjectID)

	cumulative := 0.0
	for _, g := range a.order {
		cumulative += a.weights[g]
		if u < cumulative {
			return experiment.GroupAssignment{
				SubjectID:     core.SubjectID(subjectID),
				ExperimentKey: a.experimentKey,
				Group:         g,
				Bucket:        u,
			}, nil
		}
	}

	// Floating accumulation can leave a sliver below 1.0; the last group
	// owns it so every subject gets exactly one assignment.
	last := a.order[len(a.order)-1]
	return experiment.GroupAssignment{
		SubjectID:     core.SubjectID(subjectID),
		ExperimentKey: a.experimentKey,
		Group:         last,
		Bucket:        u,
	}, nil
}

// position maps a subject onto [0,1) according to the strategy.
func (a *Assigner) position(subjectID string) float64 {
	material := []byte(subjectID + ":" + a.experimentKey.String())
	switch a.strategy {
	case experiment.StrategyRandom:
		// Each subject gets its own stream derived from the experiment seed,
		// so assignment stays reproducible under parallel execution.
		src := rand.NewSource(uint64(a.seed) ^ core.Seed(material))
		return rand.New(src).Float64()
	default: // StrategyHash
		return core.UnitInterval(material)
	}
}

// Fingerprint identifies the (key, strategy, weights, seed) tuple. Callers
// holding persisted assignments can detect weight changes by comparing it.
func (a *Assigner) Fingerprint() core.Hash {
	var data []byte
	data = append(data, a.experimentKey.String()...)
	data = append(data, '|')
	data = append(data, a.strategy...)
	for _, g := range a.order {
		data = append(data, fmt.Sprintf("|%s=%.12f", g, a.weights[g])...)
	}
	data = append(data, fmt.Sprintf("|seed=%d", a.seed)...)
	return core.NewHash(data)
}

// Groups returns the group labels in cumulative-weight order.
func (a *Assigner) Groups() []experiment.Group {
	out := make([]experiment.Group, len(a.order))
	copy(out, a.order)
	return out
}
