package search

import (
	"math"
	"sort"

	"github.com/nasopt/dynas/internal/results"
	"github.com/nasopt/dynas/internal/supernet"
)

// Individual is an evaluated vector. F holds objective values in
// minimization form; Seq is the order in which the loop recorded it.
type Individual struct {
	Vector supernet.Vector
	F      []float64
	Seq    int
}

// Dominates reports whether a is no worse than b everywhere and strictly
// better somewhere. Both are in minimization form.
func Dominates(a, b []float64) bool {
	strictly := false
	for i := range a {
		if a[i] > b[i] {
			return false
		}
		if a[i] < b[i] {
			strictly = true
		}
	}
	return strictly
}

// weaklyDominates reports whether a is no worse than b everywhere
func weaklyDominates(a, b []float64) bool {
	for i := range a {
		if a[i] > b[i] {
			return false
		}
	}
	return true
}

// NonDominatedSort ranks F into fronts, best first. Indices within a front
// are ascending.
func NonDominatedSort(F [][]float64) [][]int {
	n := len(F)
	if n == 0 {
		return nil
	}
	dominatedBy := make([]int, n)
	dominates := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			switch {
			case Dominates(F[i], F[j]):
				dominates[i] = append(dominates[i], j)
				dominatedBy[j]++
			case Dominates(F[j], F[i]):
				dominates[j] = append(dominates[j], i)
				dominatedBy[i]++
			}
		}
	}

	var fronts [][]int
	var current []int
	for i := 0; i < n; i++ {
		if dominatedBy[i] == 0 {
			current = append(current, i)
		}
	}
	for len(current) > 0 {
		fronts = append(fronts, current)
		var next []int
		for _, i := range current {
			for _, j := range dominates[i] {
				dominatedBy[j]--
				if dominatedBy[j] == 0 {
					next = append(next, j)
				}
			}
		}
		sort.Ints(next)
		current = next
	}
	return fronts
}

// CrowdingDistance returns the crowding distance of each member of front,
// aligned with front. Boundary points get +Inf.
func CrowdingDistance(F [][]float64, front []int) []float64 {
	n := len(front)
	dist := make([]float64, n)
	if n <= 2 {
		for i := range dist {
			dist[i] = math.Inf(1)
		}
		return dist
	}

	order := make([]int, n)
	for m := range F[front[0]] {
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return F[front[order[a]]][m] < F[front[order[b]]][m]
		})

		lo := F[front[order[0]]][m]
		hi := F[front[order[n-1]]][m]
		dist[order[0]] = math.Inf(1)
		dist[order[n-1]] = math.Inf(1)
		if hi == lo {
			continue
		}
		for k := 1; k < n-1; k++ {
			prev := F[front[order[k-1]]][m]
			next := F[front[order[k+1]]][m]
			dist[order[k]] += (next - prev) / (hi - lo)
		}
	}
	return dist
}

// truncate keeps the n members of front with the highest score. Equal scores
// keep the earlier Seq.
func truncate(front []int, score []float64, pop []Individual, n int) []int {
	idx := make([]int, len(front))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		sa, sb := score[idx[a]], score[idx[b]]
		if sa != sb {
			return sa > sb
		}
		return pop[front[idx[a]]].Seq < pop[front[idx[b]]].Seq
	})
	out := make([]int, 0, n)
	for _, i := range idx[:n] {
		out = append(out, front[i])
	}
	return out
}

// survivalFunc scores the members of the front that must be truncated
type survivalFunc func(F [][]float64, front []int, first bool) []float64

// survive keeps n individuals of pop: whole fronts in rank order, then the
// best scored members of the front that does not fit.
func survive(pop []Individual, n int, score survivalFunc) []Individual {
	if len(pop) <= n {
		return pop
	}
	F := make([][]float64, len(pop))
	for i, ind := range pop {
		F[i] = ind.F
	}

	out := make([]Individual, 0, n)
	for rank, front := range NonDominatedSort(F) {
		if len(out)+len(front) <= n {
			for _, i := range front {
				out = append(out, pop[i])
			}
			if len(out) == n {
				break
			}
			continue
		}
		keep := truncate(front, score(F, front, rank == 0), pop, n-len(out))
		for _, i := range keep {
			out = append(out, pop[i])
		}
		break
	}
	return out
}

func crowdingSurvival(F [][]float64, front []int, _ bool) []float64 {
	return CrowdingDistance(F, front)
}

// Front is the non-dominated set of recorded architectures, kept
// incrementally as points arrive.
type Front struct {
	objectives []Objective
	members    []frontMember
}

type frontMember struct {
	rec results.EvaluatedArchitecture
	f   []float64
}

// NewFront creates an empty front over objs
func NewFront(objs []Objective) *Front {
	return &Front{objectives: objs}
}

// Add offers rec to the front. It returns false if rec lacks an objective or
// is dominated by a member; otherwise members dominated by rec are dropped.
func (p *Front) Add(rec results.EvaluatedArchitecture) bool {
	f, ok := objectiveValues(p.objectives, rec.Metrics)
	if !ok {
		return false
	}
	for _, m := range p.members {
		if Dominates(m.f, f) {
			return false
		}
	}
	kept := p.members[:0]
	for _, m := range p.members {
		if !Dominates(f, m.f) {
			kept = append(kept, m)
		}
	}
	p.members = append(kept, frontMember{rec: rec.Clone(), f: f})
	return true
}

// Len returns the number of members
func (p *Front) Len() int {
	return len(p.members)
}

// Members returns copies of the members in the order they were added
func (p *Front) Members() []results.EvaluatedArchitecture {
	out := make([]results.EvaluatedArchitecture, len(p.members))
	for i, m := range p.members {
		out[i] = m.rec.Clone()
	}
	return out
}

// Values returns the members' objective vectors in minimization form
func (p *Front) Values() [][]float64 {
	out := make([][]float64, len(p.members))
	for i, m := range p.members {
		out[i] = append([]float64(nil), m.f...)
	}
	return out
}

// Objectives returns the front's objectives
func (p *Front) Objectives() []Objective {
	return p.objectives
}
