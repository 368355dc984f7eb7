package search

import (
	"errors"
	"testing"
)

func TestNewObjective(t *testing.T) {
	tests := []struct {
		metric string
		dir    Direction
	}{
		{"acc", Maximize},
		{"macs", Minimize},
		{"LAT", Minimize},
		{" params ", Minimize},
	}
	for _, tt := range tests {
		o, err := NewObjective(tt.metric)
		if err != nil {
			t.Fatalf("NewObjective(%q) failed: %v", tt.metric, err)
		}
		if o.Direction != tt.dir {
			t.Fatalf("NewObjective(%q) direction = %v, want %v", tt.metric, o.Direction, tt.dir)
		}
	}
}

func TestNewObjectiveUnknown(t *testing.T) {
	_, err := NewObjectives([]string{"acc", "energy"})
	var unknown *UnknownObjectiveError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownObjectiveError, got %v", err)
	}
	if unknown.Metric != "energy" {
		t.Fatalf("expected metric energy, got %s", unknown.Metric)
	}
}

func TestObjectiveMinimizedAndBetter(t *testing.T) {
	acc, _ := NewObjective("acc")
	macs, _ := NewObjective("macs")

	if acc.Minimized(76) != -76 {
		t.Fatalf("expected maximized objective to be negated")
	}
	if !acc.Better(77, 76) || acc.Better(76, 77) {
		t.Fatalf("higher accuracy should be better")
	}
	if !macs.Better(1e8, 2e8) {
		t.Fatalf("lower MACs should be better")
	}
}

func TestObjectiveValuesMissingMetric(t *testing.T) {
	objs := []Objective{{Name: "acc", Direction: Maximize}, {Name: "lat"}}
	if _, ok := objectiveValues(objs, map[string]float64{"acc": 70}); ok {
		t.Fatalf("expected missing latency to be reported")
	}
	f, ok := objectiveValues(objs, map[string]float64{"acc": 70, "lat": 3})
	if !ok || f[0] != -70 || f[1] != 3 {
		t.Fatalf("unexpected objective values %v", f)
	}
}
