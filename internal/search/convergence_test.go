package search

import (
	"strings"
	"testing"
)

func hvHistory(values ...float64) []GenerationStep {
	out := make([]GenerationStep, len(values))
	for i, v := range values {
		out[i] = GenerationStep{Generation: i, Hypervolume: v}
	}
	return out
}

func TestNoImprovementStrategy(t *testing.T) {
	strategy := NewNoImprovementStrategy(&ConvergenceConfig{Window: 3, MinGenerations: 2, Tolerance: 1e-3})

	converged, reason := strategy.CheckConvergence(hvHistory(0.5, 0.6, 0.6, 0.6, 0.6))
	if !converged {
		t.Fatalf("expected convergence, got false")
	}
	if reason == "" {
		t.Fatalf("expected convergence reason")
	}

	converged, _ = strategy.CheckConvergence(hvHistory(0.5, 0.6, 0.6, 0.7))
	if converged {
		t.Fatalf("expected no convergence (recent improvement), got true")
	}

	// gains below tolerance do not count
	converged, _ = strategy.CheckConvergence(hvHistory(0.6, 0.6001, 0.6002, 0.6003))
	if !converged {
		t.Fatalf("expected sub-tolerance gains to converge")
	}
}

func TestPlateauStrategy(t *testing.T) {
	strategy := NewPlateauStrategy(&ConvergenceConfig{Window: 3, MinGenerations: 2, Tolerance: 0.01})

	converged, reason := strategy.CheckConvergence(hvHistory(0.1, 0.5, 0.505, 0.502))
	if !converged {
		t.Fatalf("expected plateau convergence")
	}
	if !strings.Contains(reason, "plateau") {
		t.Fatalf("unexpected reason %q", reason)
	}

	converged, _ = strategy.CheckConvergence(hvHistory(0.1, 0.5, 0.6, 0.7))
	if converged {
		t.Fatalf("expected no convergence for growing hypervolume")
	}
}

func TestConvergenceRespectsMinGenerations(t *testing.T) {
	cfg := &ConvergenceConfig{Window: 1, MinGenerations: 5, Tolerance: 0.01}
	for _, s := range []ConvergenceStrategy{NewNoImprovementStrategy(cfg), NewPlateauStrategy(cfg)} {
		if converged, _ := s.CheckConvergence(hvHistory(0.5, 0.5, 0.5)); converged {
			t.Fatalf("%s converged before MinGenerations", s.Name())
		}
	}
}

func TestCombinedStrategy(t *testing.T) {
	strategy := NewCombinedStrategy(&ConvergenceConfig{Window: 2, MinGenerations: 2, Tolerance: 1e-6})

	converged, reason := strategy.CheckConvergence(hvHistory(0.2, 0.4, 0.4, 0.4))
	if !converged {
		t.Fatalf("expected combined convergence")
	}
	if !strings.HasPrefix(reason, "no_improvement:") {
		t.Fatalf("expected the first strategy to report, got %q", reason)
	}

	if converged, _ := strategy.CheckConvergence(hvHistory(0.2, 0.4, 0.6)); converged {
		t.Fatalf("expected no convergence")
	}
}

type alwaysConverged struct{}

func (alwaysConverged) Name() string { return "always" }
func (alwaysConverged) CheckConvergence([]GenerationStep) (bool, string) {
	return true, "forced"
}

func TestCombinedStrategyAddStrategy(t *testing.T) {
	strategy := NewCombinedStrategy(nil)
	strategy.AddStrategy(alwaysConverged{})

	converged, reason := strategy.CheckConvergence(hvHistory(0.1))
	if !converged || reason != "always: forced" {
		t.Fatalf("expected custom strategy to fire, got %v %q", converged, reason)
	}
}
