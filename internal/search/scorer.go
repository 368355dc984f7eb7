package search

import (
	"context"
	"fmt"

	"github.com/nasopt/dynas/internal/evaluator"
	"github.com/nasopt/dynas/internal/predictor"
	"github.com/nasopt/dynas/internal/supernet"
)

// Scorer measures or estimates the metrics of one architecture. It may be
// called from several goroutines at once.
type Scorer interface {
	Score(ctx context.Context, cfg supernet.ArchConfig, v supernet.Vector) (map[string]float64, error)
}

// ScorerFunc adapts a function to Scorer
type ScorerFunc func(ctx context.Context, cfg supernet.ArchConfig, v supernet.Vector) (map[string]float64, error)

func (f ScorerFunc) Score(ctx context.Context, cfg supernet.ArchConfig, v supernet.Vector) (map[string]float64, error) {
	return f(ctx, cfg, v)
}

// RunnerScorer measures metrics with an evaluator runner
type RunnerScorer struct {
	Runner  *evaluator.Runner
	Metrics []string
}

func (s *RunnerScorer) Score(ctx context.Context, cfg supernet.ArchConfig, _ supernet.Vector) (map[string]float64, error) {
	return s.Runner.Evaluate(ctx, cfg, s.Metrics)
}

// PredictorScorer estimates every metric with a fitted predictor over the
// one-hot encoding
type PredictorScorer struct {
	PM         *supernet.ParameterManager
	Predictors map[string]predictor.Predictor
}

func (s *PredictorScorer) Score(ctx context.Context, _ supernet.ArchConfig, v supernet.Vector) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	oh, err := s.PM.OnehotGeneric(v)
	if err != nil {
		return nil, err
	}
	x := oh.Floats()
	out := make(map[string]float64, len(s.Predictors))
	for metric, p := range s.Predictors {
		y, err := p.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("predict %s: %w", metric, err)
		}
		out[metric] = y
	}
	return out, nil
}
