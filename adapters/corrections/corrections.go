// Package corrections adjusts significance criteria when several tests run
// together. Bonferroni and Holm control family-wise error; Benjamini-
// Hochberg controls the false discovery rate. All methods are
// order-preserving: output i corresponds to input i.
package corrections

import (
	"fmt"
	"sort"

	"abstat/domain/core"
	"abstat/domain/experiment"
)

// Adjustment is the per-test output of a batch correction.
type Adjustment struct {
	PValue      float64 `json:"p_value"`     // original
	AdjustedP   float64 `json:"adjusted_p"`  // corrected p-value, capped at 1
	Alpha       float64 `json:"alpha"`       // family-wise / FDR target
	Significant bool    `json:"significant"` // decision under the corrected criterion
}

// Correct adjusts a batch of p-values for the chosen method at the given
// target alpha. n = 1 (or method none) is the identity correction.
func Correct(pValues []float64, method experiment.CorrectionMethod, targetAlpha float64) ([]Adjustment, error) {
	if !method.Valid() {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownCorrection, method)
	}
	if targetAlpha <= 0 || targetAlpha >= 1 {
		return nil, core.NewConfigurationError("target_alpha", fmt.Sprintf("must be in (0, 1), got %v", targetAlpha))
	}
	for i, p := range pValues {
		if p < 0 || p > 1 {
			return nil, core.NewConfigurationError("p_values", fmt.Sprintf("p[%d]=%v outside [0, 1]", i, p))
		}
	}

	n := len(pValues)
	if n == 0 {
		return nil, nil
	}
	if n == 1 || method == experiment.CorrectionNone {
		return identity(pValues, targetAlpha), nil
	}

	switch method {
	case experiment.CorrectionBonferroni:
		return bonferroni(pValues, targetAlpha), nil
	case experiment.CorrectionHolm:
		return holm(pValues, targetAlpha), nil
	case experiment.CorrectionBH:
		return benjaminiHochberg(pValues, targetAlpha), nil
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownCorrection, method)
}

// BonferroniAlpha returns the per-test alpha for n simultaneous tests.
func BonferroniAlpha(targetAlpha float64, n int) float64 {
	if n <= 1 {
		return targetAlpha
	}
	return targetAlpha / float64(n)
}

func identity(pValues []float64, alpha float64) []Adjustment {
	out := make([]Adjustment, len(pValues))
	for i, p := range pValues {
		out[i] = Adjustment{PValue: p, AdjustedP: p, Alpha: alpha, Significant: p < alpha}
	}
	return out
}

// bonferroni multiplies every p-value by n.
func bonferroni(pValues []float64, alpha float64) []Adjustment {
	n := float64(len(pValues))
	out := make([]Adjustment, len(pValues))
	for i, p := range pValues {
		adj := capOne(p * n)
		out[i] = Adjustment{PValue: p, AdjustedP: adj, Alpha: alpha, Significant: adj < alpha}
	}
	return out
}

// holm is the step-down procedure: sort ascending, test p(i) against
// alpha/(n-i); once one comparison fails, every later rank fails with it.
func holm(pValues []float64, alpha float64) []Adjustment {
	n := len(pValues)
	order := rankOrder(pValues)

	out := make([]Adjustment, n)
	running := 0.0
	failed := false
	for rank, idx := range order {
		p := pValues[idx]
		adj := capOne(p * float64(n-rank))
		// Enforce monotonicity of the adjusted values down the ranks.
		if adj < running {
			adj = running
		}
		running = adj

		sig := !failed && adj < alpha
		if !sig {
			failed = true
		}
		out[idx] = Adjustment{PValue: p, AdjustedP: adj, Alpha: alpha, Significant: sig}
	}
	return out
}

// benjaminiHochberg is the step-up procedure: find the largest rank i with
// p(i) <= (i/n)*alpha; every rank at or below it is significant.
func benjaminiHochberg(pValues []float64, alpha float64) []Adjustment {
	n := len(pValues)
	order := rankOrder(pValues)

	// Largest rank satisfying the BH inequality (1-based).
	cutRank := 0
	for rank, idx := range order {
		if pValues[idx] <= float64(rank+1)/float64(n)*alpha {
			cutRank = rank + 1
		}
	}

	out := make([]Adjustment, n)
	// Adjusted q-values run from the largest rank down, taking cumulative minima.
	running := 1.0
	for rank := n - 1; rank >= 0; rank-- {
		idx := order[rank]
		p := pValues[idx]
		adj := capOne(p * float64(n) / float64(rank+1))
		if adj > running {
			adj = running
		}
		running = adj
		out[idx] = Adjustment{
			PValue:      p,
			AdjustedP:   adj,
			Alpha:       alpha,
			Significant: rank < cutRank,
		}
	}
	return out
}

// rankOrder returns indices of pValues sorted ascending by value, with ties
// broken by original position so the correction stays deterministic.
func rankOrder(pValues []float64) []int {
	order := make([]int, len(pValues))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return pValues[order[a]] < pValues[order[b]]
	})
	return order
}

func capOne(p float64) float64 {
	if p > 1 {
		return 1
	}
	return p
}
