// Package evaluator measures the true objective values of an architecture:
// static MAC counting, wall-clock latency and collaborator-driven accuracy.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"
	"gonum.org/v1/gonum/stat"

	"github.com/nasopt/dynas/internal/supernet"
	"github.com/nasopt/dynas/pkg/logger"
)

// Options configures a Runner
type Options struct {
	Builder ModelBuilder
	Train   TrainFunc
	Eval    EvalFunc

	// AccuracyMetric is the key read from the eval result, "acc" by default
	AccuracyMetric string
	BatchSize      int
	LatencyTimeout time.Duration
	WarmupSteps    int
	MeasureSteps   int

	// CacheTTL bounds how long memoized measurements live; zero keeps them
	// for the runner's lifetime.
	CacheTTL time.Duration
	Logger   *slog.Logger
}

// LatencyStats summarizes the timed runs of one measurement, in milliseconds
type LatencyStats struct {
	Mean    float64
	StdDev  float64
	P50     float64
	P95     float64
	Samples int
}

// Runner evaluates architectures of one search space
type Runner struct {
	pm     *supernet.ParameterManager
	opts   Options
	cache  *cache.Cache
	logger *slog.Logger
}

// NewRunner creates a runner for pm's search space
func NewRunner(pm *supernet.ParameterManager, opts Options) *Runner {
	if opts.AccuracyMetric == "" {
		opts.AccuracyMetric = "acc"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.LatencyTimeout <= 0 {
		opts.LatencyTimeout = 30 * time.Second
	}
	if opts.MeasureSteps <= 0 {
		opts.MeasureSteps = 100
	}
	if opts.WarmupSteps < 0 {
		opts.WarmupSteps = 0
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	log := opts.Logger
	if log == nil {
		log = logger.For("evaluator")
	}
	return &Runner{
		pm:     pm,
		opts:   opts,
		cache:  cache.New(ttl, 10*time.Minute),
		logger: log,
	}
}

// canonical validates cfg and returns its full-length form and cache key
func (r *Runner) canonical(cfg supernet.ArchConfig) (supernet.ArchConfig, string, error) {
	v, err := r.pm.TranslateToVector(cfg)
	if err != nil {
		return nil, "", err
	}
	full, err := r.pm.TranslateToParam(v)
	if err != nil {
		return nil, "", err
	}
	return full, r.pm.Key(v), nil
}

// Cost returns the static MAC and parameter counts of cfg. Built-in families
// use analytic rules; other spaces ask the built model via MACCounter.
func (r *Runner) Cost(ctx context.Context, cfg supernet.ArchConfig) (Cost, error) {
	full, key, err := r.canonical(cfg)
	if err != nil {
		return Cost{}, err
	}
	if c, ok := r.cache.Get("cost:" + key); ok {
		return c.(Cost), nil
	}

	c, ok := analyticCost(r.pm.Space(), full)
	if !ok {
		if r.opts.Builder == nil {
			return Cost{}, &UnsupportedModelError{Space: r.pm.Space().Name}
		}
		m, err := r.opts.Builder.Build(ctx, full)
		if err != nil {
			return Cost{}, fmt.Errorf("build model: %w", err)
		}
		counter, isCounter := m.(MACCounter)
		if !isCounter {
			return Cost{}, &UnsupportedModelError{Space: r.pm.Space().Name}
		}
		c = Cost{MACs: counter.MACs()}
		if pc, ok := m.(interface{ Params() int64 }); ok {
			c.Params = pc.Params()
		}
	}
	r.cache.Set("cost:"+key, c, cache.DefaultExpiration)
	return c, nil
}

// ValidateMACs statically counts the multiply-accumulates of cfg
func (r *Runner) ValidateMACs(cfg supernet.ArchConfig) (int64, error) {
	c, err := r.Cost(context.Background(), cfg)
	if err != nil {
		return 0, err
	}
	return c.MACs, nil
}

// MeasureLatency builds cfg, discards warmup runs and times measure runs.
// A measurement still running after the configured timeout is abandoned and
// nothing is cached.
func (r *Runner) MeasureLatency(ctx context.Context, cfg supernet.ArchConfig, warmup, measure int) (LatencyStats, error) {
	if r.opts.Builder == nil {
		return LatencyStats{}, &MissingCollaboratorError{Name: "model builder"}
	}
	if measure <= 0 {
		return LatencyStats{}, fmt.Errorf("measure steps must be positive, got %d", measure)
	}
	if warmup < 0 {
		warmup = 0
	}
	full, key, err := r.canonical(cfg)
	if err != nil {
		return LatencyStats{}, err
	}
	cacheKey := fmt.Sprintf("lat:%s:%d:%d:%d", key, warmup, measure, r.opts.BatchSize)
	if s, ok := r.cache.Get(cacheKey); ok {
		return s.(LatencyStats), nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.LatencyTimeout)
	defer cancel()

	type result struct {
		samples []float64
		err     error
	}
	done := make(chan result, 1)
	go func() {
		m, err := r.opts.Builder.Build(ctx, full)
		if err != nil {
			done <- result{err: fmt.Errorf("build model: %w", err)}
			return
		}
		for i := 0; i < warmup; i++ {
			if err := m.Forward(ctx, r.opts.BatchSize); err != nil {
				done <- result{err: fmt.Errorf("warmup step %d: %w", i, err)}
				return
			}
		}
		samples := make([]float64, 0, measure)
		for i := 0; i < measure; i++ {
			start := time.Now()
			if err := m.Forward(ctx, r.opts.BatchSize); err != nil {
				done <- result{err: fmt.Errorf("measure step %d: %w", i, err)}
				return
			}
			samples = append(samples, float64(time.Since(start).Nanoseconds())/1e6)
		}
		done <- result{samples: samples}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return LatencyStats{}, &EvaluationTimeoutError{Arch: key, Timeout: r.opts.LatencyTimeout}
			}
			return LatencyStats{}, res.err
		}
		stats := summarize(res.samples)
		r.cache.Set(cacheKey, stats, cache.DefaultExpiration)
		r.logger.Debug("latency measured", "arch", key, "mean_ms", stats.Mean, "samples", stats.Samples)
		return stats, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			r.logger.Warn("latency measurement timed out", "arch", key, "timeout", r.opts.LatencyTimeout)
			return LatencyStats{}, &EvaluationTimeoutError{Arch: key, Timeout: r.opts.LatencyTimeout}
		}
		return LatencyStats{}, ctx.Err()
	}
}

func summarize(samples []float64) LatencyStats {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	mean, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) < 2 {
		std = 0
	}
	return LatencyStats{
		Mean:    mean,
		StdDev:  std,
		P50:     stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95:     stat.Quantile(0.95, stat.Empirical, sorted, nil),
		Samples: len(sorted),
	}
}

// ValidateAccuracy builds cfg, trains it when a train function is set and
// returns the configured accuracy metric from the eval function.
func (r *Runner) ValidateAccuracy(ctx context.Context, cfg supernet.ArchConfig) (float64, error) {
	if r.opts.Builder == nil {
		return 0, &MissingCollaboratorError{Name: "model builder"}
	}
	if r.opts.Eval == nil {
		return 0, &MissingCollaboratorError{Name: "eval function"}
	}
	full, key, err := r.canonical(cfg)
	if err != nil {
		return 0, err
	}
	if acc, ok := r.cache.Get("acc:" + key); ok {
		return acc.(float64), nil
	}

	m, err := r.opts.Builder.Build(ctx, full)
	if err != nil {
		return 0, fmt.Errorf("build model: %w", err)
	}
	if r.opts.Train != nil {
		if err := r.opts.Train(ctx, m); err != nil {
			return 0, fmt.Errorf("train model: %w", err)
		}
	}
	metrics, err := r.opts.Eval(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("eval model: %w", err)
	}
	acc, ok := metrics[r.opts.AccuracyMetric]
	if !ok {
		return 0, &MissingMetricError{Metric: r.opts.AccuracyMetric}
	}
	r.cache.Set("acc:"+key, acc, cache.DefaultExpiration)
	return acc, nil
}

// Evaluate measures every requested metric for cfg. Supported names are
// acc, macs, lat and params.
func (r *Runner) Evaluate(ctx context.Context, cfg supernet.ArchConfig, metrics []string) (map[string]float64, error) {
	out := make(map[string]float64, len(metrics))
	for _, name := range metrics {
		switch name {
		case "acc":
			acc, err := r.ValidateAccuracy(ctx, cfg)
			if err != nil {
				return nil, err
			}
			out[name] = acc
		case "macs", "params":
			c, err := r.Cost(ctx, cfg)
			if err != nil {
				return nil, err
			}
			if name == "macs" {
				out[name] = float64(c.MACs)
			} else {
				out[name] = float64(c.Params)
			}
		case "lat":
			s, err := r.MeasureLatency(ctx, cfg, r.opts.WarmupSteps, r.opts.MeasureSteps)
			if err != nil {
				return nil, err
			}
			out[name] = s.Mean
		default:
			return nil, fmt.Errorf("unknown metric %q", name)
		}
	}
	return out, nil
}

// Flush drops every memoized measurement
func (r *Runner) Flush() {
	r.cache.Flush()
}
