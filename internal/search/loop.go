package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/logger"
)

// State is a search loop state
type State string

const (
	StateInit       State = "INIT"
	StateSampling   State = "SAMPLING"
	StateEvaluating State = "EVALUATING"
	StateUpdating   State = "UPDATING"
	StateDone       State = "DONE"
)

// Stop reasons reported in Summary.Reason
const (
	ReasonEvaluationBudget = "evaluation budget exhausted"
	ReasonGenerationBudget = "generation budget exhausted"
	ReasonTimeBudget       = "time budget exhausted"
	ReasonCancelled        = "cancelled"
	ReasonExhausted        = "search space exhausted"
)

// Options configures a Loop
type Options struct {
	Objectives []Objective
	// MaxEvaluations bounds scored candidates; 0 means unbounded
	MaxEvaluations int
	// MaxGenerations bounds SAMPLING rounds; 0 means unbounded
	MaxGenerations int
	// TimeBudget bounds wall-clock time; 0 means unbounded
	TimeBudget time.Duration
	// Parallelism is the number of candidates scored at once (default 1)
	Parallelism int
	// Store receives every successfully scored candidate; may be nil
	Store *results.Store
	// WarmStart seeds the algorithm and the front without spending budget
	WarmStart []results.EvaluatedArchitecture
	// Convergence stops the loop early; may be nil
	Convergence ConvergenceStrategy
	// OnGeneration is called after every UPDATING step
	OnGeneration func(GenerationStep)
	Logger       *slog.Logger
}

// Summary reports what a run did. It is filled in even on early abort.
type Summary struct {
	Evaluated   int
	Skipped     int
	Failed      int
	WarmStarted int
	FrontSize   int
	Generations int
	Hypervolume float64
	Reason      string
	Duration    time.Duration
}

// Result is the outcome of Run
type Result struct {
	Front   []results.EvaluatedArchitecture
	History []GenerationStep
	Summary Summary
}

// Loop runs the SAMPLING, EVALUATING, UPDATING cycle of one search
type Loop struct {
	pm     *supernet.ParameterManager
	alg    Algorithm
	scorer Scorer
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	state   State
	front   *Front
	norm    *Normalizer
	history []GenerationStep
	summary Summary
	seq     int
	started time.Time
}

// NewLoop creates a loop. At least one objective is required.
func NewLoop(pm *supernet.ParameterManager, alg Algorithm, scorer Scorer, opts Options) (*Loop, error) {
	if pm == nil || alg == nil || scorer == nil {
		return nil, fmt.Errorf("search loop needs a parameter manager, an algorithm and a scorer")
	}
	if len(opts.Objectives) == 0 {
		return nil, fmt.Errorf("search loop needs at least one objective")
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	log := opts.Logger
	if log == nil {
		log = logger.For("search")
	}
	return &Loop{
		pm:     pm,
		alg:    alg,
		scorer: scorer,
		opts:   opts,
		logger: log.With("algorithm", alg.Name()),
		state:  StateInit,
		front:  NewFront(opts.Objectives),
	}, nil
}

// State returns the current state
func (l *Loop) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Front returns the current Pareto front
func (l *Loop) Front() []results.EvaluatedArchitecture {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.front.Members()
}

// Summary returns a snapshot of the counters
func (l *Loop) Summary() Summary {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.summary
	s.FrontSize = l.front.Len()
	return s
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run searches until a budget is spent, the algorithm runs dry, the context
// is cancelled or the convergence strategy fires. The result is returned even
// when err is non-nil. A SearchSpaceExhaustedError is returned when a
// generation yields no valid candidate.
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	l.started = time.Now()
	if err := l.warmStart(); err != nil {
		return l.finish(err.Error()), err
	}

	for generation := 0; ; generation++ {
		l.setState(StateSampling)
		if reason := l.checkBudgets(ctx, generation); reason != "" {
			return l.finish(reason), nil
		}

		batch, err := l.alg.Ask(ctx)
		if err != nil {
			var exhausted *SearchSpaceExhaustedError
			if errors.As(err, &exhausted) {
				exhausted.Generation = generation
				return l.finish(ReasonExhausted), err
			}
			if ctx.Err() != nil {
				return l.finish(ReasonCancelled), nil
			}
			return l.finish(err.Error()), fmt.Errorf("propose generation %d: %w", generation, err)
		}
		batch = l.clampToBudget(batch)

		candidates := l.decode(batch, generation)
		if len(candidates) == 0 {
			err := &SearchSpaceExhaustedError{Generation: generation, Tried: l.Summary().Evaluated}
			l.logger.Warn("no valid candidates", "generation", generation)
			return l.finish(ReasonExhausted), err
		}

		l.setState(StateEvaluating)
		scored := l.evaluate(ctx, candidates)

		l.setState(StateUpdating)
		if err := l.update(ctx, generation, candidates, scored); err != nil {
			return l.finish(err.Error()), err
		}

		if l.opts.Convergence != nil {
			l.mu.RLock()
			converged, why := l.opts.Convergence.CheckConvergence(l.history)
			l.mu.RUnlock()
			if converged {
				return l.finish("converged: " + why), nil
			}
		}
	}
}

func (l *Loop) warmStart() error {
	if len(l.opts.WarmStart) == 0 {
		return nil
	}
	inds := make([]Individual, 0, len(l.opts.WarmStart))
	l.mu.Lock()
	for _, rec := range l.opts.WarmStart {
		f, ok := objectiveValues(l.opts.Objectives, rec.Metrics)
		if !ok || rec.Vector == nil {
			continue
		}
		if len(rec.Vector) != l.pm.Space().VectorLength() {
			continue
		}
		l.front.Add(rec)
		inds = append(inds, Individual{Vector: rec.Vector.Clone(), F: f, Seq: l.seq})
		l.seq++
	}
	l.summary.WarmStarted = len(inds)
	l.mu.Unlock()

	l.logger.Info("warm start", "records", len(inds))
	if err := l.alg.Tell(inds); err != nil {
		return fmt.Errorf("warm start: %w", err)
	}
	return nil
}

func (l *Loop) checkBudgets(ctx context.Context, generation int) string {
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	if l.opts.MaxGenerations > 0 && generation >= l.opts.MaxGenerations {
		return ReasonGenerationBudget
	}
	if l.opts.MaxEvaluations > 0 && l.Summary().Evaluated >= l.opts.MaxEvaluations {
		return ReasonEvaluationBudget
	}
	if l.opts.TimeBudget > 0 && time.Since(l.started) >= l.opts.TimeBudget {
		return ReasonTimeBudget
	}
	return ""
}

func (l *Loop) clampToBudget(batch []supernet.Vector) []supernet.Vector {
	if l.opts.MaxEvaluations <= 0 {
		return batch
	}
	left := l.opts.MaxEvaluations - l.Summary().Evaluated
	if left < len(batch) {
		return batch[:left]
	}
	return batch
}

type candidate struct {
	vector supernet.Vector
	arch   supernet.ArchConfig
}

type outcome struct {
	metrics map[string]float64
	f       []float64
	err     error
}

// decode drops invalid vectors, counting them as skipped
func (l *Loop) decode(batch []supernet.Vector, generation int) []candidate {
	out := make([]candidate, 0, len(batch))
	skipped := 0
	for _, v := range batch {
		cfg, err := l.pm.TranslateToParam(v)
		if err != nil {
			l.logger.Warn("skipping invalid candidate", "generation", generation, "vector", v.String(), "error", err)
			skipped++
			continue
		}
		out = append(out, candidate{vector: v, arch: cfg})
	}
	l.mu.Lock()
	l.summary.Skipped += skipped
	l.mu.Unlock()
	return out
}

// evaluate scores candidates on a bounded pool. Outcomes keep proposal order.
func (l *Loop) evaluate(ctx context.Context, candidates []candidate) []outcome {
	outcomes := make([]outcome, len(candidates))
	p := pool.New().WithMaxGoroutines(l.opts.Parallelism)
	for i, c := range candidates {
		i, c := i, c
		p.Go(func() {
			metrics, err := l.scorer.Score(ctx, c.arch, c.vector)
			if err != nil {
				outcomes[i] = outcome{err: err}
				return
			}
			f, ok := objectiveValues(l.opts.Objectives, metrics)
			if !ok {
				outcomes[i] = outcome{err: fmt.Errorf("scorer returned %v, need %v", keys(metrics), MetricNames(l.opts.Objectives))}
				return
			}
			outcomes[i] = outcome{metrics: metrics, f: f}
		})
	}
	p.Wait()
	return outcomes
}

// update records outcomes in proposal order, refreshes the front and tells
// the algorithm
func (l *Loop) update(ctx context.Context, generation int, candidates []candidate, scored []outcome) error {
	inds := make([]Individual, 0, len(scored))
	failed := 0

	for i, o := range scored {
		if o.err != nil {
			l.logger.Warn("candidate evaluation failed", "generation", generation, "vector", candidates[i].vector.String(), "error", o.err)
			failed++
			continue
		}
		rec := results.EvaluatedArchitecture{
			Arch:      candidates[i].arch,
			Vector:    candidates[i].vector,
			Metrics:   o.metrics,
			Timestamp: time.Now(),
		}
		if l.opts.Store != nil {
			if err := l.opts.Store.Append(ctx, rec); err != nil {
				return fmt.Errorf("record generation %d: %w", generation, err)
			}
		}

		l.mu.Lock()
		l.front.Add(rec)
		inds = append(inds, Individual{Vector: rec.Vector, F: o.f, Seq: l.seq})
		l.seq++
		l.summary.Evaluated++
		l.mu.Unlock()
	}

	if err := l.alg.Tell(inds); err != nil {
		return fmt.Errorf("update generation %d: %w", generation, err)
	}

	l.mu.Lock()
	l.summary.Failed += failed
	l.summary.Generations = generation + 1
	if l.norm == nil && l.front.Len() > 0 {
		l.norm = NewNormalizer(l.front.Values())
	}
	step := GenerationStep{
		Generation:  generation,
		Evaluated:   l.summary.Evaluated,
		Skipped:     l.summary.Skipped,
		Failed:      l.summary.Failed,
		FrontSize:   l.front.Len(),
		Hypervolume: l.norm.Hypervolume(l.front.Values()),
		Elapsed:     time.Since(l.started),
	}
	l.summary.Hypervolume = step.Hypervolume
	l.history = append(l.history, step)
	l.mu.Unlock()

	l.logger.Info("generation done",
		"generation", generation,
		"evaluated", step.Evaluated,
		"failed", failed,
		"front_size", step.FrontSize,
		"hypervolume", step.Hypervolume,
	)
	if l.opts.OnGeneration != nil {
		l.opts.OnGeneration(step)
	}
	return nil
}

func (l *Loop) finish(reason string) *Result {
	l.mu.Lock()
	l.state = StateDone
	l.summary.Reason = reason
	l.summary.Duration = time.Since(l.started)
	l.summary.FrontSize = l.front.Len()
	res := &Result{
		Front:   l.front.Members(),
		History: append([]GenerationStep(nil), l.history...),
		Summary: l.summary,
	}
	l.mu.Unlock()

	l.logger.Info("search finished",
		"reason", reason,
		"evaluated", res.Summary.Evaluated,
		"skipped", res.Summary.Skipped,
		"failed", res.Summary.Failed,
		"front_size", res.Summary.FrontSize,
	)
	return res
}

func keys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
