package evaluator

import (
	"context"

	"github.com/nasopt/dynas/internal/supernet"
)

// Model is a built subnetwork that can run inference
type Model interface {
	// Forward runs one inference pass over a batch of batchSize inputs
	Forward(ctx context.Context, batchSize int) error
}

// MACCounter is implemented by models that know their own cost
type MACCounter interface {
	MACs() int64
}

// ModelBuilder constructs a concrete model from an architecture
type ModelBuilder interface {
	Build(ctx context.Context, cfg supernet.ArchConfig) (Model, error)
}

// ModelBuilderFunc adapts a function to ModelBuilder
type ModelBuilderFunc func(ctx context.Context, cfg supernet.ArchConfig) (Model, error)

// Build calls f
func (f ModelBuilderFunc) Build(ctx context.Context, cfg supernet.ArchConfig) (Model, error) {
	return f(ctx, cfg)
}

// TrainFunc fits a model in place
type TrainFunc func(ctx context.Context, m Model) error

// EvalFunc returns named metrics for a model, e.g. {"acc": 76.1}
type EvalFunc func(ctx context.Context, m Model) (map[string]float64, error)
