package nas

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nasopt/dynas/internal/metrics"
	"github.com/nasopt/dynas/internal/predictor"
	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/search"
	"github.com/nasopt/dynas/internal/supernet"
)

// minTrainingRecords is the number of measured architectures needed before
// predictors are fitted. Until then rounds validate random samples.
const minTrainingRecords = 3

// populationHolder is implemented by algorithms that keep a survivor set
type populationHolder interface {
	Population() []search.Individual
}

// searchDynas alternates predictor-driven inner searches with measurement of
// their populations until num_evals architectures have been measured
func (a *Agent) searchDynas(ctx context.Context) (*Outcome, error) {
	d := a.cfg.NAS.Dynas
	name := a.cfg.NAS.Search.SearchAlgorithm
	labels := metrics.SearchLabels(a.id, name)
	record := metrics.GenerationRecorder(a.collector, labels, a.opts.OnGeneration)
	started := time.Now()

	out := &Outcome{
		ID:         a.id,
		Approach:   ApproachDynas,
		Algorithm:  name,
		Objectives: a.Objectives(),
	}

	measured := usable(a.store.Records(), a.objectives)
	out.Summary.WarmStarted = len(measured)
	a.logger.Info("dynas search", "supernet", d.Supernet, "warm_start", len(measured), "num_evals", d.NumEvals)

	var (
		norm   *search.Normalizer
		runErr error
	)
	// vectors whose measurement failed are not proposed again
	rejected := make(map[string]bool)
	reason := search.ReasonEvaluationBudget
	for round := 0; out.Summary.Evaluated < d.NumEvals; round++ {
		if ctx.Err() != nil {
			reason = search.ReasonCancelled
			break
		}
		if budget, _ := a.cfg.NAS.Evaluation.GetTimeBudget(); budget > 0 && time.Since(started) >= budget {
			reason = search.ReasonTimeBudget
			break
		}

		want := d.Population
		if left := d.NumEvals - out.Summary.Evaluated; left < want {
			want = left
		}
		batch, err := a.proposeRound(ctx, round, measured, rejected, want)
		if err != nil {
			if ctx.Err() != nil {
				reason = search.ReasonCancelled
				break
			}
			reason, runErr = err.Error(), err
			break
		}
		if len(batch) == 0 {
			reason = search.ReasonExhausted
			runErr = &search.SearchSpaceExhaustedError{Generation: round, Tried: len(measured)}
			break
		}

		res, err := a.validate(ctx, batch)
		out.Summary.Evaluated += res.Summary.Evaluated
		out.Summary.Failed += res.Summary.Failed
		out.Summary.Skipped += res.Summary.Skipped
		out.Summary.Generations = round + 1
		measured = usable(a.store.Records(), a.objectives)
		a.markRejected(rejected, batch, measured)
		if err != nil {
			reason, runErr = err.Error(), err
			break
		}

		front := a.frontOf(measured)
		if norm == nil && front.Len() > 0 {
			norm = search.NewNormalizer(front.Values())
		}
		step := search.GenerationStep{
			Generation:  round,
			Evaluated:   out.Summary.Evaluated,
			Skipped:     out.Summary.Skipped,
			Failed:      out.Summary.Failed,
			FrontSize:   front.Len(),
			Hypervolume: norm.Hypervolume(front.Values()),
			Elapsed:     time.Since(started),
		}
		out.History = append(out.History, step)
		record(step)
		a.logger.Info("round done",
			"round", round,
			"measured", res.Summary.Evaluated,
			"total", out.Summary.Evaluated,
			"front_size", step.FrontSize,
			"hypervolume", step.Hypervolume,
		)

		if ctx.Err() != nil {
			reason = search.ReasonCancelled
			break
		}
		if res.Summary.Evaluated == 0 {
			reason = "no candidate could be measured"
			runErr = fmt.Errorf("round %d: all %d candidates failed", round, len(batch))
			break
		}
	}

	front := a.frontOf(measured)
	out.Front = front.Members()
	out.Summary.FrontSize = front.Len()
	out.Summary.Reason = reason
	out.Summary.Duration = time.Since(started)
	if n := len(out.History); n > 0 {
		out.Summary.Hypervolume = out.History[n-1].Hypervolume
	}
	return out, runErr
}

func (a *Agent) frontOf(recs []results.EvaluatedArchitecture) *search.Front {
	front := search.NewFront(a.objectives)
	for _, rec := range recs {
		front.Add(rec)
	}
	return front
}

// markRejected adds the members of batch that did not make it into measured
func (a *Agent) markRejected(rejected map[string]bool, batch []supernet.Vector, measured []results.EvaluatedArchitecture) {
	ok := make(map[string]bool, len(measured))
	for _, rec := range measured {
		ok[a.pm.Key(rec.Vector)] = true
	}
	for _, v := range batch {
		if k := a.pm.Key(v); !ok[k] {
			rejected[k] = true
		}
	}
}

// proposeRound picks up to want unmeasured vectors: random ones while there
// is too little data to fit predictors, the inner search population after
func (a *Agent) proposeRound(ctx context.Context, round int, measured []results.EvaluatedArchitecture, rejected map[string]bool, want int) ([]supernet.Vector, error) {
	seen := make(map[string]bool, len(measured)+len(rejected))
	for _, rec := range measured {
		seen[a.pm.Key(rec.Vector)] = true
	}
	for k := range rejected {
		seen[k] = true
	}

	if len(measured) < minTrainingRecords {
		a.logger.Info("sampling randomly until predictors can be fitted", "round", round, "measured", len(measured))
		return a.randomUnseen(seen, want), nil
	}

	if err := a.fitPredictors(measured); err != nil {
		return nil, err
	}
	candidates, err := a.innerSearch(ctx, round, measured)
	if err != nil {
		return nil, err
	}

	out := make([]supernet.Vector, 0, want)
	for _, v := range candidates {
		if len(out) == want {
			break
		}
		k := a.pm.Key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	if len(out) < want {
		a.logger.Debug("topping up round with random samples", "round", round, "missing", want-len(out))
		out = append(out, a.randomUnseen(seen, want-len(out))...)
	}
	return out, nil
}

func (a *Agent) randomUnseen(seen map[string]bool, n int) []supernet.Vector {
	out := make([]supernet.Vector, 0, n)
	for attempts := 0; len(out) < n && attempts < 20*n; attempts++ {
		v := a.pm.Canonicalize(a.pm.RandomSamples(1, a.rng)[0])
		k := a.pm.Key(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// fitPredictors fits one predictor per objective on the one-hot encoding of
// the measured architectures
func (a *Agent) fitPredictors(measured []results.EvaluatedArchitecture) error {
	X := make([][]float64, len(measured))
	for i, rec := range measured {
		oh, err := a.pm.OnehotGeneric(rec.Vector)
		if err != nil {
			return fmt.Errorf("encode training record %d: %w", i, err)
		}
		X[i] = oh.Floats()
	}

	fitted := make(map[string]predictor.Predictor, len(a.objectives))
	for _, obj := range a.objectives {
		p, err := predictor.New(a.cfg.NAS.PredictorFor(obj.Name))
		if err != nil {
			return err
		}
		y := make([]float64, len(measured))
		for i, rec := range measured {
			y[i] = rec.Metrics[obj.Name]
		}
		if err := p.Fit(X, y); err != nil {
			return fmt.Errorf("fit %s predictor: %w", obj.Name, err)
		}
		fitted[obj.Name] = p
	}

	a.mu.Lock()
	a.predictors = fitted
	a.mu.Unlock()
	a.logger.Debug("predictors fitted", "records", len(measured))
	return nil
}

// innerSearch runs the configured algorithm against the predictors and
// returns its survivors, or its front when the algorithm keeps none
func (a *Agent) innerSearch(ctx context.Context, round int, measured []results.EvaluatedArchitecture) ([]supernet.Vector, error) {
	d := a.cfg.NAS.Dynas
	alg, err := search.NewAlgorithm(a.cfg.NAS.Search.SearchAlgorithm, a.pm, search.AlgorithmOptions{
		Population: d.Population,
		Rand:       a.rng.Child(),
		Surrogate:  a.cfg.NAS.PredictorFor(search.MetricAccuracy),
	})
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	scorer := &search.PredictorScorer{PM: a.pm, Predictors: a.predictors}
	a.mu.RUnlock()

	opts := a.loopOptions(metrics.PhaseLabels(a.id, alg.Name(), "inner"))
	opts.MaxGenerations = d.InnerGenerations
	opts.TimeBudget = 0
	opts.Convergence = nil
	opts.OnGeneration = nil
	opts.WarmStart = measured
	opts.Logger = opts.Logger.With("round", round, "phase", "inner")

	loop, err := search.NewLoop(a.pm, alg, scorer, opts)
	if err != nil {
		return nil, err
	}
	res, err := loop.Run(ctx)
	var exhausted *search.SearchSpaceExhaustedError
	if err != nil && !errors.As(err, &exhausted) {
		return nil, fmt.Errorf("inner search round %d: %w", round, err)
	}

	if holder, ok := alg.(populationHolder); ok {
		pop := holder.Population()
		out := make([]supernet.Vector, len(pop))
		for i, ind := range pop {
			out[i] = ind.Vector
		}
		return out, nil
	}
	out := make([]supernet.Vector, len(res.Front))
	for i, rec := range res.Front {
		out[i] = rec.Vector
	}
	return out, nil
}

// validate measures batch in a single generation and appends the successful
// results to the store. Failed candidates are counted, not retried.
func (a *Agent) validate(ctx context.Context, batch []supernet.Vector) (*search.Result, error) {
	opts := a.loopOptions(metrics.PhaseLabels(a.id, a.cfg.NAS.Search.SearchAlgorithm, "validate"))
	opts.MaxEvaluations = 0
	opts.MaxGenerations = 1
	opts.TimeBudget = 0
	opts.Store = a.store
	opts.Convergence = nil
	opts.OnGeneration = nil

	scorer := &measuringScorer{
		next:      &search.RunnerScorer{Runner: a.runner, Metrics: search.MetricNames(a.objectives)},
		collector: a.collector,
		labels:    metrics.SearchLabels(a.id, a.cfg.NAS.Search.SearchAlgorithm),
	}
	loop, err := search.NewLoop(a.pm, &fixedBatch{batch: batch}, scorer, opts)
	if err != nil {
		return &search.Result{}, err
	}
	return loop.Run(ctx)
}

// measuringScorer records every successful measurement in the collector
type measuringScorer struct {
	next      search.Scorer
	collector *metrics.Collector
	labels    map[string]string
}

func (s *measuringScorer) Score(ctx context.Context, cfg supernet.ArchConfig, v supernet.Vector) (map[string]float64, error) {
	m, err := s.next.Score(ctx, cfg, v)
	if err != nil {
		return nil, err
	}
	metrics.RecordMeasurement(s.collector, m, time.Now(), s.labels)
	return m, nil
}

// fixedBatch proposes a given batch once
type fixedBatch struct {
	batch []supernet.Vector
	asked bool
}

func (f *fixedBatch) Name() string { return "validate" }

func (f *fixedBatch) Ask(ctx context.Context) ([]supernet.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.asked {
		return nil, nil
	}
	f.asked = true
	return f.batch, nil
}

func (f *fixedBatch) Tell([]search.Individual) error { return nil }
