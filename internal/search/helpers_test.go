package search

import (
	"context"
	"testing"

	"github.com/nasopt/dynas/internal/supernet"
)

func digits() []float64 {
	return []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
}

// toyManager is a 1000-point space with no governed parameters
func toyManager(t *testing.T) *supernet.ParameterManager {
	t.Helper()
	space, err := supernet.NewSearchSpace("toy", supernet.FamilyCustom,
		supernet.Param{Name: "a", Count: 1, Values: digits()},
		supernet.Param{Name: "b", Count: 1, Values: digits()},
		supernet.Param{Name: "c", Count: 1, Values: digits()},
	)
	if err != nil {
		t.Fatalf("NewSearchSpace failed: %v", err)
	}
	return supernet.NewParameterManager(space)
}

// governedManager has 12 distinct architectures behind 18 vectors
func governedManager(t *testing.T) *supernet.ParameterManager {
	t.Helper()
	space, err := supernet.NewSearchSpace("governed", supernet.FamilyCustom,
		supernet.Param{Name: "d", Count: 1, Values: []float64{1, 2}},
		supernet.Param{Name: "x", Count: 2, Values: []float64{3, 5, 7}, GovernedBy: "d"},
	)
	if err != nil {
		t.Fatalf("NewSearchSpace failed: %v", err)
	}
	return supernet.NewParameterManager(space)
}

// toyScorer trades accuracy against cost through a
var toyScorer = ScorerFunc(func(ctx context.Context, cfg supernet.ArchConfig, v supernet.Vector) (map[string]float64, error) {
	a, b, c := cfg["a"][0], cfg["b"][0], cfg["c"][0]
	return map[string]float64{
		MetricAccuracy: 10*a + b - c,
		MetricMACs:     a*a*100 + 10*b + c,
	}, nil
})

func toyObjectives(t *testing.T) []Objective {
	t.Helper()
	objs, err := NewObjectives([]string{MetricAccuracy, MetricMACs})
	if err != nil {
		t.Fatalf("NewObjectives failed: %v", err)
	}
	return objs
}
