package nas

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nasopt/dynas/internal/plot"
	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/search"
)

// Describe renders a one-line summary of a search outcome
func Describe(out *Outcome) string {
	s := out.Summary
	return fmt.Sprintf("%s/%s: %s evaluated, %d skipped, %d failed, %d warm-started, front of %d, hypervolume %.4f after %s (%s)",
		out.Approach, out.Algorithm,
		humanize.Comma(int64(s.Evaluated)), s.Skipped, s.Failed, s.WarmStarted,
		s.FrontSize, s.Hypervolume, s.Duration.Round(time.Millisecond), s.Reason,
	)
}

// FormatMetric renders a metric value for people: MAC and parameter counts
// with SI prefixes, latency in ms, accuracy with three decimals
func FormatMetric(name string, v float64) string {
	switch name {
	case search.MetricMACs:
		return humanize.SIWithDigits(v, 2, "MACs")
	case search.MetricParams:
		return humanize.SIWithDigits(v, 2, "")
	case search.MetricLatency:
		return fmt.Sprintf("%.2f ms", v)
	default:
		return humanize.FtoaWithDigits(v, 3)
	}
}

// FormatRecord renders the metrics of one record in objective order, then
// any remaining metrics sorted by name
func FormatRecord(rec results.EvaluatedArchitecture, objs []search.Objective) string {
	parts := make([]string, 0, len(rec.Metrics))
	done := make(map[string]bool, len(objs))
	for _, o := range objs {
		if v, ok := rec.Metrics[o.Name]; ok {
			parts = append(parts, o.Name+"="+FormatMetric(o.Name, v))
			done[o.Name] = true
		}
	}
	rest := make([]string, 0, len(rec.Metrics))
	for name := range rec.Metrics {
		if !done[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		parts = append(parts, name+"="+FormatMetric(name, rec.Metrics[name]))
	}
	return strings.Join(parts, " ")
}

// SortFront orders front members by the first objective, best first
func SortFront(front []results.EvaluatedArchitecture, objs []search.Objective) []results.EvaluatedArchitecture {
	out := append([]results.EvaluatedArchitecture(nil), front...)
	if len(objs) == 0 {
		return out
	}
	first := objs[0]
	sort.SliceStable(out, func(i, j int) bool {
		return first.Better(out[i].Metrics[first.Name], out[j].Metrics[first.Name])
	})
	return out
}

// Report builds the chart input for out, plotting the second objective on X
// against the first on Y
func Report(out *Outcome, title string) plot.Report {
	r := plot.Report{
		Title:     title,
		Algorithm: out.Algorithm,
		Evaluated: out.Evaluated,
		Front:     out.Front,
		History:   out.History,
	}
	if len(out.Objectives) > 0 {
		r.X = out.Objectives[0].Name
		r.Y = out.Objectives[0].Name
	}
	if len(out.Objectives) > 1 {
		r.X = out.Objectives[1].Name
	}
	return r
}
