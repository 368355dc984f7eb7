// Package search drives multi-objective architecture search: algorithms
// propose vectors, a scorer measures them and the loop keeps the Pareto front.
package search

import (
	"context"
	"strings"

	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/utils"
)

// Algorithm proposes candidate vectors and learns from their evaluation.
// Implementations are driven by a single goroutine.
type Algorithm interface {
	Name() string
	// Ask proposes the next batch. An empty batch means nothing new is left.
	Ask(ctx context.Context) ([]supernet.Vector, error)
	// Tell reports evaluated candidates, in proposal order. Candidates that
	// failed evaluation are omitted.
	Tell(evaluated []Individual) error
}

// Algorithm names
const (
	AlgorithmGrid   = "grid"
	AlgorithmRandom = "random"
	AlgorithmBO     = "bo"
	AlgorithmNSGA2  = "nsga2"
	AlgorithmAGE    = "age"
)

// AlgorithmOptions configures NewAlgorithm
type AlgorithmOptions struct {
	// Population is the evolutionary population and the BO warm-up size
	Population int
	// BatchSize is the number of proposals per Ask for grid, random and bo.
	// Defaults to Population.
	BatchSize int
	// Rand drives every random choice. Required for all but grid.
	Rand *utils.RandSource
	// CrossoverProb is the chance a child mixes two parents (default 0.9)
	CrossoverProb float64
	// MutationProb is the per-position mutation chance (default 1/length)
	MutationProb float64
	// CandidatePool is the number of candidates BO scores per proposal round (default 512)
	CandidatePool int
	// Surrogate is the predictor kind BO fits (default kernel_ridge)
	Surrogate string
}

const maxProposalAttempts = 20

// maxEnumeration bounds the spaces that are walked exhaustively once random
// sampling stops finding unseen vectors
const maxEnumeration = 1 << 20

// NewAlgorithm creates an algorithm by name
func NewAlgorithm(name string, pm *supernet.ParameterManager, opts AlgorithmOptions) (Algorithm, error) {
	if opts.Population <= 0 {
		opts.Population = 50
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = opts.Population
	}
	if opts.Rand == nil {
		opts.Rand = utils.NewRandSource(0)
	}
	if opts.CrossoverProb <= 0 {
		opts.CrossoverProb = 0.9
	}
	if opts.MutationProb <= 0 {
		opts.MutationProb = 1 / float64(pm.Space().VectorLength())
	}
	if opts.CandidatePool <= 0 {
		opts.CandidatePool = 512
	}
	if opts.Surrogate == "" {
		opts.Surrogate = "kernel_ridge"
	}

	switch strings.ToLower(name) {
	case AlgorithmGrid:
		return newGrid(pm, opts), nil
	case AlgorithmRandom:
		return newRandom(pm, opts), nil
	case AlgorithmBO:
		return newParEGO(pm, opts), nil
	case AlgorithmNSGA2:
		return newEvolutionary(AlgorithmNSGA2, pm, opts, crowdingSurvival), nil
	case AlgorithmAGE:
		return newEvolutionary(AlgorithmAGE, pm, opts, ageSurvival), nil
	default:
		return nil, &UnknownAlgorithmError{Name: name}
	}
}

// Algorithms lists the names NewAlgorithm accepts
func Algorithms() []string {
	return []string{AlgorithmGrid, AlgorithmRandom, AlgorithmBO, AlgorithmNSGA2, AlgorithmAGE}
}

// archive remembers every vector proposed or told, by canonical key
type archive struct {
	pm   *supernet.ParameterManager
	seen map[string]struct{}
}

func newArchive(pm *supernet.ParameterManager) *archive {
	return &archive{pm: pm, seen: make(map[string]struct{})}
}

// claim marks v as seen and reports whether it was new
func (a *archive) claim(v supernet.Vector) bool {
	k := a.pm.Key(v)
	if _, ok := a.seen[k]; ok {
		return false
	}
	a.seen[k] = struct{}{}
	return true
}

func (a *archive) size() int {
	return len(a.seen)
}

// freshSamples draws up to n unseen random vectors. When sampling comes up
// short on a small space the remaining unseen vectors are enumerated.
func freshSamples(pm *supernet.ParameterManager, arch *archive, rng *utils.RandSource, n int) []supernet.Vector {
	out := make([]supernet.Vector, 0, n)
	for attempts := 0; len(out) < n && attempts < n*maxProposalAttempts; attempts++ {
		v := pm.RandomSamples(1, rng)[0]
		if arch.claim(v) {
			out = append(out, v)
		}
	}
	if len(out) < n {
		out = append(out, enumerateUnseen(pm, arch, n-len(out))...)
	}
	return out
}

// enumerateUnseen claims up to n unseen canonical vectors in lexicographic
// order. Spaces larger than maxEnumeration are not walked.
func enumerateUnseen(pm *supernet.ParameterManager, arch *archive, n int) []supernet.Vector {
	if n <= 0 || pm.Space().Size() > maxEnumeration {
		return nil
	}
	bounds := pm.Space().Bounds()
	v := make(supernet.Vector, len(bounds))
	var out []supernet.Vector
	for len(out) < n {
		if pm.Canonicalize(v).Equal(v) && arch.claim(v) {
			out = append(out, v.Clone())
		}
		i := len(v) - 1
		for ; i >= 0; i-- {
			v[i]++
			if v[i] < bounds[i] {
				break
			}
			v[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return out
}
