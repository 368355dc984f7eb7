package search

import (
	"math"
	"reflect"
	"testing"

	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/pkg/utils"
)

func TestDominates(t *testing.T) {
	tests := []struct {
		a, b []float64
		want bool
	}{
		{[]float64{1, 1}, []float64{2, 2}, true},
		{[]float64{1, 2}, []float64{2, 2}, true},
		{[]float64{2, 2}, []float64{2, 2}, false},
		{[]float64{1, 3}, []float64{2, 2}, false},
		{[]float64{3, 3}, []float64{2, 2}, false},
	}
	for _, tt := range tests {
		if got := Dominates(tt.a, tt.b); got != tt.want {
			t.Errorf("Dominates(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestNonDominatedSort(t *testing.T) {
	F := [][]float64{{1, 5}, {2, 2}, {5, 1}, {3, 3}, {4, 4}, {6, 6}, {3, 3}}
	got := NonDominatedSort(F)
	want := [][]int{{0, 1, 2}, {3, 6}, {4}, {5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NonDominatedSort = %v, want %v", got, want)
	}
}

func TestCrowdingDistance(t *testing.T) {
	F := [][]float64{{1, 4}, {2, 3}, {3, 2}, {4, 1}}
	d := CrowdingDistance(F, []int{0, 1, 2, 3})

	if !math.IsInf(d[0], 1) || !math.IsInf(d[3], 1) {
		t.Fatalf("expected boundary points to be infinite, got %v", d)
	}
	for _, i := range []int{1, 2} {
		if math.Abs(d[i]-4.0/3.0) > 1e-12 {
			t.Fatalf("expected interior distance 4/3, got %v", d[i])
		}
	}

	small := CrowdingDistance(F, []int{1, 2})
	if !math.IsInf(small[0], 1) || !math.IsInf(small[1], 1) {
		t.Fatalf("expected all-infinite distance for two points, got %v", small)
	}
}

func TestTruncateBreaksTiesByInsertionOrder(t *testing.T) {
	pop := []Individual{{Seq: 4}, {Seq: 1}, {Seq: 3}, {Seq: 2}}
	front := []int{0, 1, 2, 3}
	score := []float64{1, 1, 5, 1}

	got := truncate(front, score, pop, 2)
	want := []int{2, 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("truncate = %v, want %v", got, want)
	}
}

func TestSurviveKeepsWholeFirstFront(t *testing.T) {
	pop := []Individual{
		{F: []float64{1, 5}, Seq: 0},
		{F: []float64{6, 6}, Seq: 1},
		{F: []float64{5, 1}, Seq: 2},
		{F: []float64{3, 3}, Seq: 3},
		{F: []float64{4, 4}, Seq: 4},
	}
	got := survive(pop, 3, crowdingSurvival)
	if len(got) != 3 {
		t.Fatalf("expected 3 survivors, got %d", len(got))
	}
	seqs := []int{got[0].Seq, got[1].Seq, got[2].Seq}
	if !reflect.DeepEqual(seqs, []int{0, 2, 3}) {
		t.Fatalf("expected first front survivors [0 2 3], got %v", seqs)
	}
}

func rec(acc, macs float64) results.EvaluatedArchitecture {
	return results.EvaluatedArchitecture{Metrics: map[string]float64{"acc": acc, "macs": macs}}
}

func TestFrontAdd(t *testing.T) {
	front := NewFront([]Objective{{Name: "acc", Direction: Maximize}, {Name: "macs"}})

	if !front.Add(rec(70, 200)) {
		t.Fatalf("expected first point to enter the front")
	}
	if front.Add(rec(69, 250)) {
		t.Fatalf("dominated point must not enter the front")
	}
	if !front.Add(rec(75, 300)) {
		t.Fatalf("trade-off point should enter the front")
	}
	if !front.Add(rec(76, 150)) {
		t.Fatalf("dominating point should enter the front")
	}
	if front.Len() != 1 {
		t.Fatalf("expected dominated members to be dropped, got %d members", front.Len())
	}
	if front.Add(results.EvaluatedArchitecture{Metrics: map[string]float64{"acc": 90}}) {
		t.Fatalf("point missing an objective must be rejected")
	}
}

func TestFrontNeverHoldsDominatedPoints(t *testing.T) {
	objs := []Objective{{Name: "acc", Direction: Maximize}, {Name: "macs"}, {Name: "lat"}}
	front := NewFront(objs)
	rng := utils.NewRandSource(7)

	var all [][]float64
	for i := 0; i < 300; i++ {
		r := results.EvaluatedArchitecture{Metrics: map[string]float64{
			"acc":  float64(rng.Intn(50)),
			"macs": float64(rng.Intn(50)),
			"lat":  float64(rng.Intn(50)),
		}}
		front.Add(r)
		f, _ := objectiveValues(objs, r.Metrics)
		all = append(all, f)
	}

	for _, m := range front.Values() {
		for _, p := range all {
			if Dominates(p, m) {
				t.Fatalf("front member %v is dominated by %v", m, p)
			}
		}
	}

	want := len(NonDominatedSort(all)[0])
	if front.Len() != want {
		t.Fatalf("front has %d members, non-dominated sort found %d", front.Len(), want)
	}
}
