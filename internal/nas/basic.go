package nas

import (
	"context"
	"errors"

	"github.com/nasopt/dynas/internal/metrics"
	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/search"
)

// basicWarmup is the number of observations the BO surrogate waits for
const basicWarmup = 3

// searchBasic measures max_trials candidates of the custom space one at a
// time with the configured collaborators
func (a *Agent) searchBasic(ctx context.Context) (*Outcome, error) {
	name := a.cfg.NAS.Search.SearchAlgorithm
	alg, err := search.NewAlgorithm(name, a.pm, search.AlgorithmOptions{
		Population: basicWarmup,
		BatchSize:  1,
		Rand:       a.rng.Child(),
		Surrogate:  a.cfg.NAS.PredictorFor(search.MetricAccuracy),
	})
	if err != nil {
		return nil, err
	}

	opts := a.loopOptions(metrics.SearchLabels(a.id, alg.Name()))
	opts.MaxEvaluations = a.cfg.NAS.Search.MaxTrials
	opts.Store = a.store
	opts.WarmStart = usable(a.store.Records(), a.objectives)

	scorer := &measuringScorer{
		next:      &search.RunnerScorer{Runner: a.runner, Metrics: search.MetricNames(a.objectives)},
		collector: a.collector,
		labels:    metrics.SearchLabels(a.id, alg.Name()),
	}
	loop, err := search.NewLoop(a.pm, alg, scorer, opts)
	if err != nil {
		return nil, err
	}
	res, err := loop.Run(ctx)

	// a space smaller than max_trials runs dry before the budget does
	var exhausted *search.SearchSpaceExhaustedError
	if errors.As(err, &exhausted) && len(res.Front) > 0 {
		a.logger.Info("search space exhausted before max_trials", "tried", exhausted.Tried)
		err = nil
	}
	return &Outcome{
		ID:         a.id,
		Approach:   ApproachBasic,
		Algorithm:  alg.Name(),
		Objectives: a.Objectives(),
		Front:      res.Front,
		History:    res.History,
		Summary:    res.Summary,
	}, err
}

// usable keeps the records carrying every objective and a vector
func usable(recs []results.EvaluatedArchitecture, objs []search.Objective) []results.EvaluatedArchitecture {
	out := make([]results.EvaluatedArchitecture, 0, len(recs))
	for _, rec := range recs {
		if rec.Vector == nil || !hasMetrics(rec, search.MetricNames(objs)) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func hasMetrics(rec results.EvaluatedArchitecture, names []string) bool {
	for _, n := range names {
		if _, ok := rec.Metrics[n]; !ok {
			return false
		}
	}
	return true
}
