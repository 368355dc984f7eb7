package search

import (
	"fmt"
	"time"
)

// GenerationStep records the state of the search after one UPDATING step
type GenerationStep struct {
	Generation  int
	Evaluated   int
	Skipped     int
	Failed      int
	FrontSize   int
	Hypervolume float64
	Elapsed     time.Duration
}

// ConvergenceStrategy decides from the generation history whether the search
// has stopped making progress.
type ConvergenceStrategy interface {
	CheckConvergence(history []GenerationStep) (bool, string)
	Name() string
}

// ConvergenceConfig holds configuration for convergence detection
type ConvergenceConfig struct {
	// Window is the number of generations without hypervolume gain before stopping
	Window int
	// Tolerance is the smallest hypervolume gain counted as progress
	Tolerance float64
	// MinGenerations is the number of generations before convergence can be detected
	MinGenerations int
}

// DefaultConvergenceConfig returns a default convergence configuration
func DefaultConvergenceConfig() *ConvergenceConfig {
	return &ConvergenceConfig{
		Window:         5,
		Tolerance:      1e-4,
		MinGenerations: 3,
	}
}

// NoImprovementStrategy converges when the best hypervolume has not grown by
// more than Tolerance for Window generations.
type NoImprovementStrategy struct {
	config *ConvergenceConfig
}

// NewNoImprovementStrategy creates a new no-improvement convergence strategy
func NewNoImprovementStrategy(config *ConvergenceConfig) *NoImprovementStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &NoImprovementStrategy{config: config}
}

func (s *NoImprovementStrategy) Name() string {
	return "no_improvement"
}

func (s *NoImprovementStrategy) CheckConvergence(history []GenerationStep) (bool, string) {
	if len(history) < s.config.MinGenerations || len(history) <= s.config.Window {
		return false, ""
	}

	best := history[0].Hypervolume
	bestAt := 0
	for i, step := range history {
		if step.Hypervolume > best+s.config.Tolerance {
			best = step.Hypervolume
			bestAt = i
		}
	}

	since := len(history) - 1 - bestAt
	if since >= s.config.Window {
		return true, fmt.Sprintf("hypervolume flat for %d generations (best %.6f at generation %d)",
			since, best, history[bestAt].Generation)
	}
	return false, ""
}

// PlateauStrategy converges when the hypervolume of the last Window
// generations stays within Tolerance.
type PlateauStrategy struct {
	config *ConvergenceConfig
}

// NewPlateauStrategy creates a new plateau convergence strategy
func NewPlateauStrategy(config *ConvergenceConfig) *PlateauStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &PlateauStrategy{config: config}
}

func (s *PlateauStrategy) Name() string {
	return "plateau"
}

func (s *PlateauStrategy) CheckConvergence(history []GenerationStep) (bool, string) {
	if len(history) < s.config.MinGenerations || len(history) < s.config.Window || s.config.Window < 2 {
		return false, ""
	}

	recent := history[len(history)-s.config.Window:]
	lo, hi := recent[0].Hypervolume, recent[0].Hypervolume
	for _, step := range recent {
		if step.Hypervolume < lo {
			lo = step.Hypervolume
		}
		if step.Hypervolume > hi {
			hi = step.Hypervolume
		}
	}
	if hi-lo <= s.config.Tolerance {
		return true, fmt.Sprintf("hypervolume plateaued for %d generations (range: %.6f)", s.config.Window, hi-lo)
	}
	return false, ""
}

// CombinedStrategy converges if any of its strategies does
type CombinedStrategy struct {
	strategies []ConvergenceStrategy
}

// NewCombinedStrategy creates a combined strategy of the no-improvement and
// plateau checks.
func NewCombinedStrategy(config *ConvergenceConfig) *CombinedStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &CombinedStrategy{
		strategies: []ConvergenceStrategy{
			NewNoImprovementStrategy(config),
			NewPlateauStrategy(config),
		},
	}
}

func (s *CombinedStrategy) Name() string {
	return "combined"
}

func (s *CombinedStrategy) CheckConvergence(history []GenerationStep) (bool, string) {
	for _, strategy := range s.strategies {
		if converged, reason := strategy.CheckConvergence(history); converged {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), reason)
		}
	}
	return false, ""
}

// AddStrategy adds a custom strategy to the combined strategy
func (s *CombinedStrategy) AddStrategy(strategy ConvergenceStrategy) {
	s.strategies = append(s.strategies, strategy)
}
