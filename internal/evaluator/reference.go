package evaluator

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nasopt/dynas/internal/supernet"
)

// ReferenceBuilder builds stand-in models for dry runs. Each model executes a
// dense matrix workload whose size grows with the architecture's MAC count, so
// latency ordering follows compute cost.
type ReferenceBuilder struct {
	pm *supernet.ParameterManager
	// MACsPerFlop scales MACs down to the matrix workload; larger is faster
	MACsPerFlop float64
}

// NewReferenceBuilder creates a builder for pm's search space
func NewReferenceBuilder(pm *supernet.ParameterManager) *ReferenceBuilder {
	return &ReferenceBuilder{pm: pm, MACsPerFlop: 1000}
}

// Build returns a reference model for cfg
func (b *ReferenceBuilder) Build(ctx context.Context, cfg supernet.ArchConfig) (Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := b.pm.TranslateToVector(cfg)
	if err != nil {
		return nil, err
	}
	full, err := b.pm.TranslateToParam(v)
	if err != nil {
		return nil, err
	}

	cost, ok := analyticCost(b.pm.Space(), full)
	if !ok {
		cost = productCost(full)
	}

	scale := b.MACsPerFlop
	if scale <= 0 {
		scale = 1000
	}
	n := int(math.Cbrt(float64(cost.MACs) / scale))
	if n < 4 {
		n = 4
	}
	if n > 192 {
		n = 192
	}

	data := make([]float64, n*n)
	for i := range data {
		data[i] = 1 / float64(i%n+1)
	}
	return &referenceModel{
		cost:   cost,
		weight: mat.NewDense(n, n, data),
		input:  mat.NewDense(n, n, append([]float64(nil), data...)),
	}, nil
}

// productCost treats a custom architecture as one dense layer whose size is
// the product of every chosen value.
func productCost(cfg supernet.ArchConfig) Cost {
	p := 1.0
	for _, vals := range cfg {
		for _, v := range vals {
			p *= math.Max(math.Abs(v), 1)
		}
	}
	return Cost{MACs: int64(p), Params: int64(p)}
}

type referenceModel struct {
	cost   Cost
	weight *mat.Dense
	input  *mat.Dense
	out    mat.Dense
}

func (m *referenceModel) Forward(ctx context.Context, batchSize int) error {
	for i := 0; i < batchSize; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.out.Mul(m.weight, m.input)
	}
	return nil
}

func (m *referenceModel) MACs() int64   { return m.cost.MACs }
func (m *referenceModel) Params() int64 { return m.cost.Params }

// CapacityProxy is a deterministic, zero-training accuracy estimate that
// saturates with compute: Floor + Span·(1 - exp(-MACs/Scale)).
type CapacityProxy struct {
	Floor float64
	Span  float64
	Scale float64
}

// NewCapacityProxy returns a proxy tuned for ImageNet-sized supernets
func NewCapacityProxy() *CapacityProxy {
	return &CapacityProxy{Floor: 60, Span: 20, Scale: 3e8}
}

// Eval implements EvalFunc. The model must implement MACCounter.
func (p *CapacityProxy) Eval(ctx context.Context, m Model) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counter, ok := m.(MACCounter)
	if !ok {
		return nil, fmt.Errorf("capacity proxy needs a model that counts MACs, got %T", m)
	}
	macs := float64(counter.MACs())
	return map[string]float64{
		"acc": p.Floor + p.Span*(1-math.Exp(-macs/p.Scale)),
	}, nil
}
