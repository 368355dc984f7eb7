// Package nas wires a configured search approach end to end: search space,
// evaluator, predictors, results store and search loop.
package nas

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nasopt/dynas/internal/evaluator"
	"github.com/nasopt/dynas/internal/metrics"
	"github.com/nasopt/dynas/internal/predictor"
	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/search"
	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/config"
	"github.com/nasopt/dynas/pkg/logger"
	"github.com/nasopt/dynas/pkg/utils"
)

// Approach names
const (
	ApproachBasic = "basic"
	ApproachDynas = "dynas"
)

// Collaborators are the externally supplied model hooks. Any left nil falls
// back to the reference implementations in the evaluator package.
type Collaborators struct {
	Builder evaluator.ModelBuilder
	Train   evaluator.TrainFunc
	Eval    evaluator.EvalFunc
}

// Options configures an Agent
type Options struct {
	// ID names the search in logs, metrics and the results session. Generated when empty.
	ID            string
	Collaborators Collaborators
	// Store overrides the backend selected by the configuration
	Store     *results.Store
	Collector *metrics.Collector
	// OnGeneration is called after every generation of every loop the agent runs
	OnGeneration func(search.GenerationStep)
	Logger       *slog.Logger
}

// Outcome is what a search produced
type Outcome struct {
	ID         string
	Approach   string
	Algorithm  string
	Objectives []search.Objective
	Front      []results.EvaluatedArchitecture
	// Evaluated holds every stored record carrying all objectives, warm start included
	Evaluated  []results.EvaluatedArchitecture
	History    []search.GenerationStep
	Summary    search.Summary
	Metrics    *metrics.SearchMetrics
}

// Agent runs one configured search
type Agent struct {
	cfg    *config.Config
	id     string
	opts   Options
	logger *slog.Logger

	pm         *supernet.ParameterManager
	runner     *evaluator.Runner
	store      *results.Store
	ownStore   bool
	collector  *metrics.Collector
	objectives []search.Objective
	rng        *utils.RandSource

	mu         sync.RWMutex
	predictors map[string]predictor.Predictor
}

// New prepares an agent. cfg must already be validated.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nas agent needs a configuration")
	}
	id := opts.ID
	if id == "" {
		id = utils.GenerateSearchID()
	}
	log := opts.Logger
	if log == nil {
		log = logger.For("nas")
	}
	collector := opts.Collector
	if collector == nil {
		collector = metrics.NewCollector()
	}

	a := &Agent{
		cfg:        cfg,
		id:         id,
		opts:       opts,
		logger:     log.With("search_id", id, "approach", cfg.NAS.Approach),
		collector:  collector,
		rng:        utils.NewRandSource(cfg.NAS.Search.Seed),
		predictors: make(map[string]predictor.Predictor),
	}

	space, err := a.searchSpace()
	if err != nil {
		return nil, err
	}
	a.pm = supernet.NewParameterManager(space)

	metricNames := a.metricNames()
	if a.objectives, err = search.NewObjectives(metricNames); err != nil {
		return nil, err
	}

	if a.runner, err = a.newRunner(); err != nil {
		return nil, err
	}

	if opts.Store != nil {
		a.store = opts.Store
	} else {
		if a.store, err = openStore(ctx, cfg, a.pm, id); err != nil {
			return nil, err
		}
		a.ownStore = true
	}
	return a, nil
}

func (a *Agent) searchSpace() (*supernet.SearchSpace, error) {
	switch a.cfg.NAS.Approach {
	case ApproachBasic:
		return customSpace(a.cfg.NAS.Search.SearchSpace)
	case ApproachDynas:
		return supernet.Lookup(a.cfg.NAS.Dynas.Supernet)
	default:
		return nil, fmt.Errorf("unknown approach %q", a.cfg.NAS.Approach)
	}
}

// customSpace turns the configured search_space mapping into a search space
// with one single-position parameter per key, in key order
func customSpace(dims config.SearchSpace) (*supernet.SearchSpace, error) {
	params := make([]supernet.Param, len(dims))
	for i, d := range dims {
		params[i] = supernet.Param{Name: d.Name, Count: 1, Values: append([]float64(nil), d.Values...)}
	}
	return supernet.NewSearchSpace("custom", supernet.FamilyCustom, params...)
}

// metricNames are the objectives of the search. The basic approach ranks on
// accuracy alone.
func (a *Agent) metricNames() []string {
	if a.cfg.NAS.Approach == ApproachBasic {
		return []string{search.MetricAccuracy}
	}
	return a.cfg.NAS.Dynas.Metrics
}

func (a *Agent) newRunner() (*evaluator.Runner, error) {
	ev := &a.cfg.NAS.Evaluation
	timeout, err := ev.GetLatencyTimeout()
	if err != nil {
		return nil, fmt.Errorf("latency_timeout: %w", err)
	}

	c := a.opts.Collaborators
	if c.Builder == nil {
		c.Builder = evaluator.NewReferenceBuilder(a.pm)
		a.logger.Info("using reference model builder")
	}
	if c.Eval == nil {
		c.Eval = evaluator.NewCapacityProxy().Eval
		a.logger.Info("using capacity proxy for accuracy")
	}

	batch := a.cfg.NAS.Dynas.BatchSize
	if a.cfg.NAS.Approach == ApproachBasic {
		batch = 1
	}
	return evaluator.NewRunner(a.pm, evaluator.Options{
		Builder:        c.Builder,
		Train:          c.Train,
		Eval:           c.Eval,
		BatchSize:      batch,
		LatencyTimeout: timeout,
		WarmupSteps:    ev.LatencyWarmupSteps,
		MeasureSteps:   ev.LatencyMeasureSteps,
		Logger:         logger.For("evaluator").With("search_id", a.id),
	}), nil
}

// ID returns the search ID
func (a *Agent) ID() string { return a.id }

// ParameterManager returns the encoder of the agent's search space
func (a *Agent) ParameterManager() *supernet.ParameterManager { return a.pm }

// Runner returns the evaluator measuring candidates
func (a *Agent) Runner() *evaluator.Runner { return a.runner }

// Store returns the results store
func (a *Agent) Store() *results.Store { return a.store }

// Collector returns the telemetry collector
func (a *Agent) Collector() *metrics.Collector { return a.collector }

// Objectives returns the search objectives
func (a *Agent) Objectives() []search.Objective {
	return append([]search.Objective(nil), a.objectives...)
}

// Predictor returns the predictor last fitted for metric, if any
func (a *Agent) Predictor(metric string) (predictor.Predictor, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.predictors[metric]
	return p, ok
}

// Search runs the configured approach. The outcome is returned even when the
// search stops on an error.
func (a *Agent) Search(ctx context.Context) (*Outcome, error) {
	a.collector.Start()
	defer a.collector.Stop()

	a.logger.Info("search started",
		"algorithm", a.cfg.NAS.Search.SearchAlgorithm,
		"space", a.pm.Space().Name,
		"space_size", a.pm.Space().Size(),
		"objectives", search.MetricNames(a.objectives),
	)

	var (
		out *Outcome
		err error
	)
	switch a.cfg.NAS.Approach {
	case ApproachBasic:
		out, err = a.searchBasic(ctx)
	default:
		out, err = a.searchDynas(ctx)
	}
	if out != nil {
		out.Evaluated = usable(a.store.Records(), a.objectives)
		out.Metrics = metrics.Summarize(a.collector, metrics.SearchLabels(a.id, out.Algorithm))
		a.logger.Info("search done", "summary", Describe(out))
	}
	return out, err
}

// Close releases the store when the agent opened it
func (a *Agent) Close() error {
	if a.ownStore {
		return a.store.Close()
	}
	return nil
}

func (a *Agent) loopOptions(labels map[string]string) search.Options {
	budget, _ := a.cfg.NAS.Evaluation.GetTimeBudget()
	opts := search.Options{
		Objectives:   a.objectives,
		TimeBudget:   budget,
		Parallelism:  a.cfg.NAS.Evaluation.Parallelism,
		OnGeneration: metrics.GenerationRecorder(a.collector, labels, a.opts.OnGeneration),
		Logger:       logger.For("search").With("search_id", a.id),
	}
	if es := a.cfg.NAS.Search.EarlyStop; es != nil {
		opts.Convergence = search.NewCombinedStrategy(&search.ConvergenceConfig{
			Window:         es.Window,
			Tolerance:      es.Tolerance,
			MinGenerations: es.Window,
		})
	}
	return opts
}
