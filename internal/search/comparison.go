package search

import (
	"fmt"

	"github.com/nasopt/dynas/internal/results"
)

// FrontComparison compares two Pareto fronts over the same objectives
type FrontComparison struct {
	HypervolumeA float64
	HypervolumeB float64
	// HypervolumeDiff is HypervolumeB - HypervolumeA
	HypervolumeDiff float64
	// CoverageAB is the share of B weakly dominated by some member of A
	CoverageAB float64
	CoverageBA float64
	// Improvement is true if B covers more of the objective space than A
	Improvement bool
}

// CompareFronts measures fronts a and b on a shared normalization taken from
// both.
func CompareFronts(a, b []results.EvaluatedArchitecture, objs []Objective) (*FrontComparison, error) {
	if len(objs) == 0 {
		return nil, fmt.Errorf("no objectives provided")
	}
	fa, err := frontValues(a, objs)
	if err != nil {
		return nil, fmt.Errorf("front a: %w", err)
	}
	fb, err := frontValues(b, objs)
	if err != nil {
		return nil, fmt.Errorf("front b: %w", err)
	}

	norm := NewNormalizer(append(append([][]float64(nil), fa...), fb...))
	cmp := &FrontComparison{
		HypervolumeA: norm.Hypervolume(fa),
		HypervolumeB: norm.Hypervolume(fb),
		CoverageAB:   Coverage(fa, fb),
		CoverageBA:   Coverage(fb, fa),
	}
	cmp.HypervolumeDiff = cmp.HypervolumeB - cmp.HypervolumeA
	cmp.Improvement = cmp.HypervolumeDiff > 0
	return cmp, nil
}

// Coverage returns the share of b weakly dominated by at least one member of
// a. An empty b yields 0.
func Coverage(a, b [][]float64) float64 {
	if len(b) == 0 {
		return 0
	}
	covered := 0
	for _, q := range b {
		for _, p := range a {
			if weaklyDominates(p, q) {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(b))
}

// GetImprovementPercentage returns the relative hypervolume gain of b over a
func (c *FrontComparison) GetImprovementPercentage() float64 {
	if c.HypervolumeA == 0 {
		return 0
	}
	return c.HypervolumeDiff / c.HypervolumeA * 100
}

func frontValues(recs []results.EvaluatedArchitecture, objs []Objective) ([][]float64, error) {
	out := make([][]float64, 0, len(recs))
	for i, r := range recs {
		f, ok := objectiveValues(objs, r.Metrics)
		if !ok {
			return nil, fmt.Errorf("record %d lacks one of %v", i, MetricNames(objs))
		}
		out = append(out, f)
	}
	return out, nil
}
