package search

import (
	"context"
	"math"

	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/utils"
)

// evolutionary is a generational genetic algorithm with binary tournament
// selection, uniform crossover and per-position mutation. The survival
// function decides which members of a split front are kept: crowding
// distance for NSGA-II, the adaptive geometry score for AGE-MOEA.
type evolutionary struct {
	name     string
	pm       *supernet.ParameterManager
	bounds   []int
	opts     AlgorithmOptions
	rng      *utils.RandSource
	seen     *archive
	survival survivalFunc

	pop   []Individual
	rank  []int
	score []float64
}

func newEvolutionary(name string, pm *supernet.ParameterManager, opts AlgorithmOptions, survival survivalFunc) *evolutionary {
	return &evolutionary{
		name:     name,
		pm:       pm,
		bounds:   pm.Space().Bounds(),
		opts:     opts,
		rng:      opts.Rand,
		seen:     newArchive(pm),
		survival: survival,
	}
}

func (e *evolutionary) Name() string {
	return e.name
}

// Population returns the current survivors
func (e *evolutionary) Population() []Individual {
	return append([]Individual(nil), e.pop...)
}

func (e *evolutionary) Ask(ctx context.Context) ([]supernet.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := e.opts.Population
	if len(e.pop) < 2 {
		return freshSamples(e.pm, e.seen, e.rng, n-len(e.pop)), nil
	}

	out := make([]supernet.Vector, 0, n)
	for attempts := 0; len(out) < n && attempts < n*maxProposalAttempts; attempts++ {
		a := e.tournament()
		b := e.tournament()
		child := e.crossover(e.pop[a].Vector, e.pop[b].Vector)
		e.mutate(child)
		if e.seen.claim(child) {
			out = append(out, child)
		}
	}
	return out, nil
}

func (e *evolutionary) Tell(evaluated []Individual) error {
	for _, ind := range evaluated {
		e.seen.claim(ind.Vector)
	}
	merged := append(append([]Individual(nil), e.pop...), evaluated...)
	e.pop = survive(merged, e.opts.Population, e.survival)
	e.rankPopulation()
	return nil
}

// rankPopulation caches each survivor's front rank and survival score for
// tournament selection
func (e *evolutionary) rankPopulation() {
	F := make([][]float64, len(e.pop))
	for i, ind := range e.pop {
		F[i] = ind.F
	}
	e.rank = make([]int, len(e.pop))
	e.score = make([]float64, len(e.pop))
	for r, front := range NonDominatedSort(F) {
		s := e.survival(F, front, r == 0)
		for k, i := range front {
			e.rank[i] = r
			e.score[i] = s[k]
		}
	}
}

// tournament picks the better of two random survivors: lower rank, then
// higher score, then earlier Seq
func (e *evolutionary) tournament() int {
	a := e.rng.Intn(len(e.pop))
	b := e.rng.Intn(len(e.pop))
	switch {
	case e.rank[a] != e.rank[b]:
		if e.rank[a] < e.rank[b] {
			return a
		}
		return b
	case e.score[a] != e.score[b]:
		if e.score[a] > e.score[b] {
			return a
		}
		return b
	case e.pop[b].Seq < e.pop[a].Seq:
		return b
	default:
		return a
	}
}

func (e *evolutionary) crossover(a, b supernet.Vector) supernet.Vector {
	child := a.Clone()
	if !e.rng.BernoulliBool(e.opts.CrossoverProb) {
		return child
	}
	for i := range child {
		if e.rng.BernoulliBool(0.5) {
			child[i] = b[i]
		}
	}
	return child
}

func (e *evolutionary) mutate(v supernet.Vector) {
	for i := range v {
		if e.rng.BernoulliBool(e.opts.MutationProb) {
			v[i] = e.rng.Intn(e.bounds[i])
		}
	}
}

// ageSurvival scores a front in the geometry AGE-MOEA estimates from the
// first front. Fronts are normalized by their ideal and nadir points, the
// curvature p of the first front is fitted from its most central point, and
// members are then scored by their Lp distance to the already selected
// members relative to their Lp proximity to the ideal point. Extreme points
// of the first front are always kept.
func ageSurvival(F [][]float64, front []int, first bool) []float64 {
	n := len(front)
	score := make([]float64, n)
	if n == 0 {
		return score
	}
	m := len(F[front[0]])

	norm := NewNormalizer(pick(F, front))
	pts := make([][]float64, n)
	for k, i := range front {
		pts[k] = norm.Apply(F[i])
	}
	p := estimateCurvature(pts, m)

	if !first {
		for k, x := range pts {
			score[k] = 1 / math.Max(lpNorm(x, p), 1e-12)
		}
		return score
	}

	selected := make([]bool, n)
	var chosen []int
	for obj := 0; obj < m; obj++ {
		best := -1
		for k, x := range pts {
			if best < 0 || x[obj] < pts[best][obj] {
				best = k
			}
		}
		if !selected[best] {
			selected[best] = true
			chosen = append(chosen, best)
			score[best] = math.Inf(1)
		}
	}

	// Remaining members get descending scores in greedy selection order.
	for rank := 0; len(chosen) < n; rank++ {
		best, bestVal := -1, -1.0
		for k := range pts {
			if selected[k] {
				continue
			}
			d1, d2 := math.Inf(1), math.Inf(1)
			for _, c := range chosen {
				d := lpDistance(pts[k], pts[c], p)
				if d < d1 {
					d1, d2 = d, d1
				} else if d < d2 {
					d2 = d
				}
			}
			if math.IsInf(d2, 1) {
				d2 = d1
			}
			val := (d1 + d2) / math.Max(lpNorm(pts[k], p), 1e-12)
			if val > bestVal {
				best, bestVal = k, val
			}
		}
		selected[best] = true
		chosen = append(chosen, best)
		score[best] = float64(n - rank)
	}
	return score
}

// estimateCurvature fits p so that the most central point of the normalized
// front lies on the unit Lp sphere
func estimateCurvature(pts [][]float64, m int) float64 {
	if m < 2 || len(pts) < 3 {
		return 1
	}
	central, bestDist := -1, math.Inf(1)
	for k, x := range pts {
		// distance to the line through the origin and (1, ..., 1)
		sum := 0.0
		for _, v := range x {
			sum += v
		}
		proj := sum / float64(m)
		d := 0.0
		for _, v := range x {
			d += (v - proj) * (v - proj)
		}
		if d < bestDist {
			central, bestDist = k, d
		}
	}
	mean := 0.0
	for _, v := range pts[central] {
		mean += v
	}
	mean /= float64(m)
	if mean <= 0 || mean >= 1 {
		return 1
	}
	p := math.Log(float64(m)) / math.Log(1/mean)
	if math.IsNaN(p) || p <= 0.1 {
		return 1
	}
	return math.Min(p, 10)
}

func lpNorm(x []float64, p float64) float64 {
	s := 0.0
	for _, v := range x {
		s += math.Pow(math.Abs(v), p)
	}
	return math.Pow(s, 1/p)
}

func lpDistance(a, b []float64, p float64) float64 {
	s := 0.0
	for i := range a {
		s += math.Pow(math.Abs(a[i]-b[i]), p)
	}
	return math.Pow(s, 1/p)
}

func pick(F [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(idx))
	for k, i := range idx {
		out[k] = F[i]
	}
	return out
}
