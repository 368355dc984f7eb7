package search

import (
	"context"
	"math"
	"sort"

	"github.com/nasopt/dynas/internal/predictor"
	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/logger"
	"github.com/nasopt/dynas/pkg/utils"
)

// tchebycheffRho weights the linear term of the augmented scalarization
const tchebycheffRho = 0.05

// parEGO is surrogate-assisted search. Each round draws a random weight
// vector, scalarizes the observed objectives with the augmented Tchebycheff
// function, fits a predictor on the one-hot encodings and proposes the
// unseen candidates with the lowest predicted scalar.
type parEGO struct {
	pm       *supernet.ParameterManager
	bounds   []int
	opts     AlgorithmOptions
	rng      *utils.RandSource
	seen     *archive
	observed []Individual
}

func newParEGO(pm *supernet.ParameterManager, opts AlgorithmOptions) *parEGO {
	return &parEGO{
		pm:     pm,
		bounds: pm.Space().Bounds(),
		opts:   opts,
		rng:    opts.Rand,
		seen:   newArchive(pm),
	}
}

func (b *parEGO) Name() string {
	return AlgorithmBO
}

func (b *parEGO) Ask(ctx context.Context) ([]supernet.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(b.observed) < b.opts.Population || len(b.observed) < 3 {
		return freshSamples(b.pm, b.seen, b.rng, b.opts.BatchSize), nil
	}

	model, err := b.fitSurrogate()
	if err != nil {
		logger.For("search").Warn("surrogate fit failed, sampling randomly", "error", err)
		return freshSamples(b.pm, b.seen, b.rng, b.opts.BatchSize), nil
	}

	pool := b.candidatePool()
	type scored struct {
		v    supernet.Vector
		pred float64
	}
	ranked := make([]scored, 0, len(pool))
	for _, v := range pool {
		x, err := b.features(v)
		if err != nil {
			continue
		}
		pred, err := model.Predict(x)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, scored{v: v, pred: pred})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].pred < ranked[j].pred })

	out := make([]supernet.Vector, 0, b.opts.BatchSize)
	for _, s := range ranked {
		if len(out) == b.opts.BatchSize {
			break
		}
		if b.seen.claim(s.v) {
			out = append(out, s.v)
		}
	}
	if len(out) < b.opts.BatchSize {
		out = append(out, freshSamples(b.pm, b.seen, b.rng, b.opts.BatchSize-len(out))...)
	}
	return out, nil
}

func (b *parEGO) Tell(evaluated []Individual) error {
	for _, ind := range evaluated {
		b.seen.claim(ind.Vector)
		b.observed = append(b.observed, ind)
	}
	return nil
}

func (b *parEGO) fitSurrogate() (predictor.Predictor, error) {
	F := make([][]float64, len(b.observed))
	for i, ind := range b.observed {
		F[i] = ind.F
	}
	norm := NewNormalizer(F)
	weights := b.randomWeights(len(F[0]))

	X := make([][]float64, 0, len(b.observed))
	y := make([]float64, 0, len(b.observed))
	for i, ind := range b.observed {
		x, err := b.features(ind.Vector)
		if err != nil {
			continue
		}
		X = append(X, x)
		y = append(y, tchebycheff(norm.Apply(F[i]), weights))
	}

	model, err := predictor.New(b.opts.Surrogate)
	if err != nil {
		return nil, err
	}
	if err := model.Fit(X, y); err != nil {
		return nil, err
	}
	return model, nil
}

// candidatePool mixes uniform samples with mutants of the observed points
func (b *parEGO) candidatePool() []supernet.Vector {
	n := b.opts.CandidatePool
	pool := b.pm.RandomSamples(n/2, b.rng)
	for len(pool) < n {
		parent := b.observed[b.rng.Intn(len(b.observed))].Vector.Clone()
		changed := false
		for i := range parent {
			if b.rng.BernoulliBool(b.opts.MutationProb) {
				parent[i] = b.rng.Intn(b.bounds[i])
				changed = true
			}
		}
		if !changed {
			i := b.rng.Intn(len(parent))
			parent[i] = b.rng.Intn(b.bounds[i])
		}
		pool = append(pool, parent)
	}
	return pool
}

func (b *parEGO) features(v supernet.Vector) ([]float64, error) {
	oh, err := b.pm.OnehotGeneric(v)
	if err != nil {
		return nil, err
	}
	return oh.Floats(), nil
}

// randomWeights draws a point uniformly from the unit simplex
func (b *parEGO) randomWeights(m int) []float64 {
	w := make([]float64, m)
	sum := 0.0
	for i := range w {
		w[i] = -math.Log(1 - b.rng.Float64())
		sum += w[i]
	}
	for i := range w {
		if sum == 0 {
			w[i] = 1 / float64(m)
			continue
		}
		w[i] /= sum
	}
	return w
}

func tchebycheff(f, w []float64) float64 {
	worst, sum := math.Inf(-1), 0.0
	for i := range f {
		v := w[i] * f[i]
		worst = math.Max(worst, v)
		sum += v
	}
	return worst + tchebycheffRho*sum
}
