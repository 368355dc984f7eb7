package search

import "strings"

// Direction says whether an objective is minimized or maximized
type Direction int

const (
	Minimize Direction = iota
	Maximize
)

func (d Direction) String() string {
	if d == Maximize {
		return "maximize"
	}
	return "minimize"
}

// Objective is a named metric with a direction
type Objective struct {
	Name      string
	Direction Direction
}

// Metric names understood by the search
const (
	MetricAccuracy = "acc"
	MetricMACs     = "macs"
	MetricLatency  = "lat"
	MetricParams   = "params"
)

// NewObjective creates an objective from a metric name
func NewObjective(metric string) (Objective, error) {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case MetricAccuracy:
		return Objective{Name: MetricAccuracy, Direction: Maximize}, nil
	case MetricMACs:
		return Objective{Name: MetricMACs, Direction: Minimize}, nil
	case MetricLatency:
		return Objective{Name: MetricLatency, Direction: Minimize}, nil
	case MetricParams:
		return Objective{Name: MetricParams, Direction: Minimize}, nil
	default:
		return Objective{}, &UnknownObjectiveError{Metric: metric}
	}
}

// NewObjectives creates objectives for metrics, in order
func NewObjectives(metrics []string) ([]Objective, error) {
	out := make([]Objective, 0, len(metrics))
	for _, m := range metrics {
		o, err := NewObjective(m)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Minimized returns v in minimization form
func (o Objective) Minimized(v float64) float64 {
	if o.Direction == Maximize {
		return -v
	}
	return v
}

// Better reports whether a is strictly better than b
func (o Objective) Better(a, b float64) bool {
	return o.Minimized(a) < o.Minimized(b)
}

// MetricNames returns the names of objs
func MetricNames(objs []Objective) []string {
	names := make([]string, len(objs))
	for i, o := range objs {
		names[i] = o.Name
	}
	return names
}

// objectiveValues maps metrics to a minimization vector. It returns false if
// any objective is missing.
func objectiveValues(objs []Objective, metrics map[string]float64) ([]float64, bool) {
	f := make([]float64, len(objs))
	for i, o := range objs {
		v, ok := metrics[o.Name]
		if !ok {
			return nil, false
		}
		f[i] = o.Minimized(v)
	}
	return f, true
}
