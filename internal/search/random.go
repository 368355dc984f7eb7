package search

import (
	"context"

	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/utils"
)

// randomSearch samples uniformly, never repeating an architecture
type randomSearch struct {
	pm    *supernet.ParameterManager
	rng   *utils.RandSource
	batch int
	seen  *archive
}

func newRandom(pm *supernet.ParameterManager, opts AlgorithmOptions) *randomSearch {
	return &randomSearch{pm: pm, rng: opts.Rand, batch: opts.BatchSize, seen: newArchive(pm)}
}

func (r *randomSearch) Name() string {
	return AlgorithmRandom
}

func (r *randomSearch) Ask(ctx context.Context) ([]supernet.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return freshSamples(r.pm, r.seen, r.rng, r.batch), nil
}

func (r *randomSearch) Tell(evaluated []Individual) error {
	for _, ind := range evaluated {
		r.seen.claim(ind.Vector)
	}
	return nil
}
