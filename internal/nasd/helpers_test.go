package nasd

import (
	"context"
	"testing"
	"time"

	"github.com/nasopt/dynas/internal/nas"
	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/search"
	"github.com/nasopt/dynas/pkg/config"
	"github.com/nasopt/dynas/pkg/utils"
)

const basicYAML = `
nas:
  approach: basic
  search:
    search_algorithm: grid
    search_space: {channels: [16, 32], dimensions: [32]}
    max_trials: 2
    seed: 7
`

const dynasYAML = `
nas:
  approach: dynas
  search:
    search_algorithm: nsga2
    seed: 3
  dynas:
    supernet: ofa_mbv3_d234_e346_k357_w1.2
    metrics: [acc, macs]
    population: 4
    num_evals: 8
    inner_generations: 1
`

func newTestExecutor(searcher Searcher) *Executor {
	notifier := NewNotifier().WithBackoff(utils.ConstantPolicy(time.Millisecond))
	return NewExecutor(NewSearchStore(), ExecutorOptions{Searcher: searcher, Notifier: notifier})
}

// waitTerminal polls until search id is terminal and its runner has returned
func waitTerminal(t *testing.T, e *Executor, id string) *SearchRecord {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := e.Store().Get(id)
		if !ok {
			t.Fatalf("search %s not found", id)
		}
		e.mu.Lock()
		_, running := e.cancels[id]
		e.mu.Unlock()
		if rec.Status.Terminal() && !running {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("search %s did not finish", id)
	return nil
}

// fakeOutcome is a two-record front over acc and macs
func fakeOutcome(id string) *nas.Outcome {
	objs, _ := search.NewObjectives([]string{"acc", "macs"})
	front := []results.EvaluatedArchitecture{
		{Metrics: map[string]float64{"acc": 70, "macs": 100}, Timestamp: time.Now()},
		{Metrics: map[string]float64{"acc": 75, "macs": 300}, Timestamp: time.Now()},
	}
	return &nas.Outcome{
		ID:         id,
		Approach:   nas.ApproachDynas,
		Algorithm:  "nsga2",
		Objectives: objs,
		Front:      front,
		Evaluated:  front,
		History:    []search.GenerationStep{{Generation: 0, Evaluated: 2, FrontSize: 2, Hypervolume: 0.5}},
		Summary:    search.Summary{Evaluated: 2, FrontSize: 2, Generations: 1, Hypervolume: 0.5, Reason: search.ReasonEvaluationBudget},
	}
}

// instantSearcher reports one generation and returns fakeOutcome
func instantSearcher() Searcher {
	return SearcherFunc(func(ctx context.Context, cfg *config.Config, opts nas.Options) (*nas.Outcome, error) {
		out := fakeOutcome(opts.ID)
		if opts.OnGeneration != nil {
			opts.OnGeneration(out.History[0])
		}
		return out, nil
	})
}

// blockingSearcher runs until its context is cancelled
func blockingSearcher(started chan<- string) Searcher {
	return SearcherFunc(func(ctx context.Context, cfg *config.Config, opts nas.Options) (*nas.Outcome, error) {
		started <- opts.ID
		<-ctx.Done()
		out := fakeOutcome(opts.ID)
		out.Summary.Reason = search.ReasonCancelled
		return out, nil
	})
}
