package search

import (
	"context"

	"github.com/nasopt/dynas/internal/supernet"
)

// gridSearch walks the space in lexicographic order, last position fastest.
// Vectors that differ only at inactive positions are proposed once.
type gridSearch struct {
	pm      *supernet.ParameterManager
	bounds  []int
	batch   int
	next    supernet.Vector
	done    bool
	emitted int
	seen    *archive
}

func newGrid(pm *supernet.ParameterManager, opts AlgorithmOptions) *gridSearch {
	bounds := pm.Space().Bounds()
	return &gridSearch{
		pm:     pm,
		bounds: bounds,
		batch:  opts.BatchSize,
		next:   make(supernet.Vector, len(bounds)),
		seen:   newArchive(pm),
	}
}

func (g *gridSearch) Name() string {
	return AlgorithmGrid
}

func (g *gridSearch) Ask(ctx context.Context) ([]supernet.Vector, error) {
	out := make([]supernet.Vector, 0, g.batch)
	for !g.done && len(out) < g.batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v := g.next.Clone()
		g.advance()
		if !g.pm.Canonicalize(v).Equal(v) {
			continue
		}
		if g.seen.claim(v) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, &SearchSpaceExhaustedError{Tried: g.emitted}
	}
	g.emitted += len(out)
	return out, nil
}

func (g *gridSearch) advance() {
	for i := len(g.next) - 1; i >= 0; i-- {
		g.next[i]++
		if g.next[i] < g.bounds[i] {
			return
		}
		g.next[i] = 0
	}
	g.done = true
}

func (g *gridSearch) Tell(evaluated []Individual) error {
	for _, ind := range evaluated {
		g.seen.claim(ind.Vector)
	}
	return nil
}
