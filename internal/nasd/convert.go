package nasd

import (
	"sort"
	"time"

	"github.com/nasopt/dynas/internal/metrics"
	"github.com/nasopt/dynas/internal/nas"
	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/search"
)

// The converters below build plain map/slice trees so the same shape serves
// encoding/json on the HTTP side and structpb on the gRPC side. Slices are
// []any and nested objects map[string]any because structpb accepts nothing else.

func unixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func searchToMap(rec *SearchRecord) map[string]any {
	m := map[string]any{
		"id":                 rec.ID,
		"status":             string(rec.Status),
		"created_at_unix_ms": unixMs(rec.CreatedAt),
		"generations":        int64(len(rec.Progress)),
	}
	if !rec.StartedAt.IsZero() {
		m["started_at_unix_ms"] = unixMs(rec.StartedAt)
	}
	if !rec.EndedAt.IsZero() {
		m["ended_at_unix_ms"] = unixMs(rec.EndedAt)
	}
	if rec.Error != "" {
		m["error"] = rec.Error
	}
	if n := len(rec.Progress); n > 0 {
		m["latest"] = stepToMap(rec.Progress[n-1])
	}
	if rec.Outcome != nil {
		m["summary"] = outcomeSummaryToMap(rec.Outcome)
	}
	return m
}

func stepToMap(step search.GenerationStep) map[string]any {
	return map[string]any{
		"generation":  int64(step.Generation),
		"evaluated":   int64(step.Evaluated),
		"skipped":     int64(step.Skipped),
		"failed":      int64(step.Failed),
		"front_size":  int64(step.FrontSize),
		"hypervolume": step.Hypervolume,
		"elapsed_ms":  step.Elapsed.Milliseconds(),
	}
}

func outcomeSummaryToMap(out *nas.Outcome) map[string]any {
	s := out.Summary
	objs := make([]any, len(out.Objectives))
	for i, o := range out.Objectives {
		objs[i] = map[string]any{"name": o.Name, "direction": o.Direction.String()}
	}
	m := map[string]any{
		"approach":     out.Approach,
		"algorithm":    out.Algorithm,
		"objectives":   objs,
		"evaluated":    int64(s.Evaluated),
		"skipped":      int64(s.Skipped),
		"failed":       int64(s.Failed),
		"warm_started": int64(s.WarmStarted),
		"front_size":   int64(s.FrontSize),
		"generations":  int64(s.Generations),
		"hypervolume":  s.Hypervolume,
		"reason":       s.Reason,
		"duration_ms":  s.Duration.Milliseconds(),
		"description":  nas.Describe(out),
	}
	if sm := out.Metrics; sm != nil {
		m["telemetry"] = searchMetricsToMap(sm)
	}
	return m
}

func searchMetricsToMap(sm *metrics.SearchMetrics) map[string]any {
	return map[string]any{
		"generations":         sm.Generations,
		"evaluated":           sm.Evaluated,
		"best_hypervolume":    sm.BestHypervolume,
		"generation_p50_ms":   sm.GenerationP50.Milliseconds(),
		"generation_p95_ms":   sm.GenerationP95.Milliseconds(),
		"evaluations_per_sec": sm.EvaluationsPerSec,
		"measured":            sm.Measured,
		"latency_mean_ms":     sm.LatencyMeanMs,
	}
}

func recordToMap(rec results.EvaluatedArchitecture) map[string]any {
	names := make([]string, 0, len(rec.Arch))
	for name := range rec.Arch {
		names = append(names, name)
	}
	sort.Strings(names)
	arch := make(map[string]any, len(names))
	for _, name := range names {
		vals := make([]any, len(rec.Arch[name]))
		for i, v := range rec.Arch[name] {
			vals[i] = v
		}
		arch[name] = vals
	}
	metricsMap := make(map[string]any, len(rec.Metrics))
	for k, v := range rec.Metrics {
		metricsMap[k] = v
	}
	m := map[string]any{
		"arch":    arch,
		"metrics": metricsMap,
	}
	if rec.Vector != nil {
		vec := make([]any, len(rec.Vector))
		for i, v := range rec.Vector {
			vec[i] = int64(v)
		}
		m["vector"] = vec
	}
	if !rec.Timestamp.IsZero() {
		m["timestamp"] = rec.Timestamp.UTC().Format(time.RFC3339)
	}
	return m
}

func frontToMap(rec *SearchRecord) map[string]any {
	m := map[string]any{"id": rec.ID, "status": string(rec.Status)}
	if rec.Outcome == nil {
		m["front"] = []any{}
		return m
	}
	front := nas.SortFront(rec.Outcome.Front, rec.Outcome.Objectives)
	list := make([]any, len(front))
	for i, r := range front {
		list[i] = recordToMap(r)
	}
	m["front"] = list
	m["objectives"] = outcomeSummaryToMap(rec.Outcome)["objectives"]
	return m
}
