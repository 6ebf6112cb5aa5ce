package bucketing

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"abstat/domain/core"
	"abstat/domain/experiment"
)

func halfSplit() experiment.GroupWeights {
	return experiment.GroupWeights{"control": 0.5, "treatment": 0.5}
}

func TestAssignSubject_Deterministic(t *testing.T) {
	a1, err := NewAssigner("checkout-v2", experiment.StrategyHash, halfSplit(), 0)
	if err != nil {
		t.Fatalf("new assigner: %v", err)
	}
	a2, err := NewAssigner("checkout-v2", experiment.StrategyHash, halfSplit(), 0)
	if err != nil {
		t.Fatalf("new assigner: %v", err)
	}

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("subject-%d", i)
		first, err := a1.AssignSubject(id)
		if err != nil {
			t.Fatalf("assign %s: %v", id, err)
		}
		second, err := a2.AssignSubject(id)
		if err != nil {
			t.Fatalf("assign %s: %v", id, err)
		}
		if first.Group != second.Group || first.Bucket != second.Bucket {
			t.Fatalf("assignment for %s not reproducible: %v vs %v", id, first, second)
		}
	}
}

func TestAssignSubject_IndependentAcrossExperiments(t *testing.T) {
	a1, _ := NewAssigner("exp-one", experiment.StrategyHash, halfSplit(), 0)
	a2, _ := NewAssigner("exp-two", experiment.StrategyHash, halfSplit(), 0)

	differs := 0
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("subject-%d", i)
		r1, _ := a1.AssignSubject(id)
		r2, _ := a2.AssignSubject(id)
		if r1.Group != r2.Group {
			differs++
		}
	}
	// If assignment leaked across experiments every subject would land in
	// the same group in both. Expect roughly half to differ.
	if differs < 300 {
		t.Fatalf("expected assignments to differ across experiments, only %d/1000 did", differs)
	}
}

func TestAssignSubject_WeightFrequencies(t *testing.T) {
	weights := experiment.GroupWeights{"control": 0.6, "treatment": 0.4}

	for _, strategy := range []experiment.Strategy{experiment.StrategyHash, experiment.StrategyRandom} {
		t.Run(string(strategy), func(t *testing.T) {
			seed := int64(0)
			if strategy == experiment.StrategyRandom {
				seed = 42
			}
			a, err := NewAssigner("freq-test", strategy, weights, seed)
			if err != nil {
				t.Fatalf("new assigner: %v", err)
			}

			const n = 20000
			counts := map[experiment.Group]int{}
			for i := 0; i < n; i++ {
				r, err := a.AssignSubject(fmt.Sprintf("subject-%d", i))
				if err != nil {
					t.Fatalf("assign: %v", err)
				}
				counts[r.Group]++
			}

			for g, w := range weights {
				got := float64(counts[g]) / n
				if math.Abs(got-w) > 0.02 {
					t.Fatalf("group %s frequency %.4f deviates from weight %.2f by more than 0.02", g, got, w)
				}
			}
		})
	}
}

func TestNewAssigner_Validation(t *testing.T) {
	if _, err := NewAssigner("k", experiment.StrategyRandom, halfSplit(), 0); !errors.Is(err, core.ErrSeedRequired) {
		t.Fatalf("expected ErrSeedRequired, got %v", err)
	}
	if _, err := NewAssigner("k", "roulette", halfSplit(), 0); !errors.Is(err, core.ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
	if _, err := NewAssigner("k", experiment.StrategyHash, experiment.GroupWeights{"control": 1.0}, 0); !core.IsConfigurationError(err) {
		t.Fatalf("expected configuration error for single group, got %v", err)
	}
	if _, err := NewAssigner("k", experiment.StrategyHash, experiment.GroupWeights{"control": 0.7, "treatment": 0.7}, 0); !errors.Is(err, core.ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights for bad sum, got %v", err)
	}

	a, _ := NewAssigner("k", experiment.StrategyHash, halfSplit(), 0)
	if _, err := a.AssignSubject(""); err == nil {
		t.Fatal("expected error for empty subject id")
	}
}

func TestFingerprint_TracksWeightChanges(t *testing.T) {
	a1, _ := NewAssigner("k", experiment.StrategyHash, halfSplit(), 0)
	a2, _ := NewAssigner("k", experiment.StrategyHash, experiment.GroupWeights{"control": 0.6, "treatment": 0.4}, 0)
	a3, _ := NewAssigner("k", experiment.StrategyHash, halfSplit(), 0)

	if a1.Fingerprint() == a2.Fingerprint() {
		t.Fatal("fingerprint did not change with weights")
	}
	if a1.Fingerprint() != a3.Fingerprint() {
		t.Fatal("fingerprint not stable for identical configuration")
	}
}

func TestAssignSubject_Properties(t *testing.T) {
	weights := experiment.GroupWeights{"control": 0.34, "b": 0.33, "c": 0.33}
	a, err := NewAssigner("prop-test", experiment.StrategyHash, weights, 0)
	if err != nil {
		t.Fatalf("new assigner: %v", err)
	}

	params := gopter.DefaultTestParametersWithSeed(1234)
	properties := gopter.NewProperties(params)

	properties.Property("every subject lands in a configured group with bucket in [0,1)", prop.ForAll(
		func(id string) bool {
			r, err := a.AssignSubject(id)
			if err != nil {
				return false
			}
			_, known := weights[r.Group]
			return known && r.Bucket >= 0 && r.Bucket < 1
		},
		gen.Identifier(),
	))

	properties.Property("assignment is a pure function of the subject id", prop.ForAll(
		func(id string) bool {
			r1, err1 := a.AssignSubject(id)
			r2, err2 := a.AssignSubject(id)
			return err1 == nil && err2 == nil && r1 == r2
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}
