package metrics

import (
	"time"

	"github.com/nasopt/dynas/internal/search"
)

// Search metric names
const (
	MetricHypervolume    = "hypervolume"
	MetricFrontSize      = "front_size"
	MetricEvaluated      = "evaluated"
	MetricSkipped        = "skipped"
	MetricFailed         = "failed"
	MetricGenerationTime = "generation_seconds"
	MetricElapsed        = "elapsed_seconds"
	MetricLatencyMean    = "latency_mean_ms"
	MetricMeasured       = "measured"
)

// SearchLabels identifies the series of one search
func SearchLabels(searchID, algorithm string) map[string]string {
	return map[string]string{
		"search":    searchID,
		"algorithm": algorithm,
	}
}

// PhaseLabels adds an outer-loop phase (e.g. "inner" or "validate") to search labels
func PhaseLabels(searchID, algorithm, phase string) map[string]string {
	labels := SearchLabels(searchID, algorithm)
	labels["phase"] = phase
	return labels
}

// RecordGeneration records one generation of a search loop. Counters and
// elapsed time are cumulative in the step, so they are stored as-is.
func RecordGeneration(c *Collector, step search.GenerationStep, timestamp time.Time, labels map[string]string) {
	c.Record(MetricHypervolume, step.Hypervolume, timestamp, labels)
	c.Record(MetricFrontSize, float64(step.FrontSize), timestamp, labels)
	c.Record(MetricEvaluated, float64(step.Evaluated), timestamp, labels)
	c.Record(MetricSkipped, float64(step.Skipped), timestamp, labels)
	c.Record(MetricFailed, float64(step.Failed), timestamp, labels)
	c.Record(MetricElapsed, step.Elapsed.Seconds(), timestamp, labels)
}

// GenerationRecorder returns a search.Options.OnGeneration hook that records
// into c, along with the duration of each generation. next, when set, is
// called after recording.
func GenerationRecorder(c *Collector, labels map[string]string, next func(search.GenerationStep)) func(search.GenerationStep) {
	labels = copyLabels(labels)
	var last time.Duration
	return func(step search.GenerationStep) {
		now := time.Now()
		RecordGeneration(c, step, now, labels)
		c.Record(MetricGenerationTime, (step.Elapsed - last).Seconds(), now, labels)
		last = step.Elapsed
		if next != nil {
			next(step)
		}
	}
}

// RecordMeasurement counts one measured architecture and keeps its latency
// when "lat" was measured
func RecordMeasurement(c *Collector, measured map[string]float64, timestamp time.Time, labels map[string]string) {
	c.Record(MetricMeasured, 1, timestamp, labels)
	if lat, ok := measured[search.MetricLatency]; ok {
		c.Record(MetricLatencyMean, lat, timestamp, labels)
	}
}

// SearchMetrics is the roll-up reported for a search
type SearchMetrics struct {
	Generations       int64         `json:"generations"`
	Evaluated         int64         `json:"evaluated"`
	Skipped           int64         `json:"skipped"`
	Failed            int64         `json:"failed"`
	FrontSize         int64         `json:"front_size"`
	Hypervolume       float64       `json:"hypervolume"`
	BestHypervolume   float64       `json:"best_hypervolume"`
	GenerationP50     time.Duration `json:"generation_p50"`
	GenerationP95     time.Duration `json:"generation_p95"`
	EvaluationsPerSec float64       `json:"evaluations_per_sec"`
	Measured          int64         `json:"measured"`
	LatencyMeanMs     float64       `json:"latency_mean_ms,omitempty"`
}

// Summarize rolls the series recorded under labels into SearchMetrics
func Summarize(c *Collector, labels map[string]string) *SearchMetrics {
	out := &SearchMetrics{}

	if agg := c.Aggregate(MetricHypervolume, labels); agg != nil {
		out.Generations = agg.Count
		out.Hypervolume = agg.Last
		out.BestHypervolume = agg.Max
	}
	if v, ok := c.Latest(MetricEvaluated, labels); ok {
		out.Evaluated = int64(v)
	}
	if v, ok := c.Latest(MetricSkipped, labels); ok {
		out.Skipped = int64(v)
	}
	if v, ok := c.Latest(MetricFailed, labels); ok {
		out.Failed = int64(v)
	}
	if v, ok := c.Latest(MetricFrontSize, labels); ok {
		out.FrontSize = int64(v)
	}

	if agg := c.Aggregate(MetricGenerationTime, labels); agg != nil {
		out.GenerationP50 = seconds(agg.P50)
		out.GenerationP95 = seconds(agg.P95)
	}
	if v, ok := c.Latest(MetricElapsed, labels); ok && v > 0 {
		out.EvaluationsPerSec = float64(out.Evaluated) / v
	}

	// measurements are recorded per architecture without the phase label
	base := copyLabels(labels)
	delete(base, "phase")
	if agg := c.Aggregate(MetricMeasured, base); agg != nil {
		out.Measured = agg.Count
	}
	if agg := c.Aggregate(MetricLatencyMean, base); agg != nil {
		out.LatencyMeanMs = agg.Mean
	}
	return out
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
