package search

import (
	"math"
	"sort"
)

// referenceMargin places the reference point just past the normalized nadir
const referenceMargin = 1.1

// Hypervolume returns the volume dominated by points and bounded by ref.
// Points are in minimization form; points not strictly better than ref in
// every objective contribute nothing.
func Hypervolume(points [][]float64, ref []float64) float64 {
	d := len(ref)
	pts := make([][]float64, 0, len(points))
	for _, p := range points {
		inside := true
		for i := 0; i < d; i++ {
			if p[i] >= ref[i] {
				inside = false
				break
			}
		}
		if inside {
			pts = append(pts, p)
		}
	}
	if len(pts) == 0 || d == 0 {
		return 0
	}
	return hso(pts, ref)
}

// hso slices the last objective and recurses on the rest
func hso(pts [][]float64, ref []float64) float64 {
	d := len(ref)
	switch d {
	case 1:
		lo := pts[0][0]
		for _, p := range pts[1:] {
			lo = math.Min(lo, p[0])
		}
		return ref[0] - lo
	case 2:
		sorted := append([][]float64(nil), pts...)
		sort.Slice(sorted, func(a, b int) bool {
			if sorted[a][0] != sorted[b][0] {
				return sorted[a][0] < sorted[b][0]
			}
			return sorted[a][1] < sorted[b][1]
		})
		vol := 0.0
		floor := ref[1]
		for _, p := range sorted {
			if p[1] < floor {
				vol += (ref[0] - p[0]) * (floor - p[1])
				floor = p[1]
			}
		}
		return vol
	}

	sorted := append([][]float64(nil), pts...)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a][d-1] < sorted[b][d-1] })
	vol := 0.0
	for i, p := range sorted {
		top := ref[d-1]
		if i+1 < len(sorted) {
			top = sorted[i+1][d-1]
		}
		height := top - p[d-1]
		if height <= 0 {
			continue
		}
		slice := make([][]float64, i+1)
		for k := 0; k <= i; k++ {
			slice[k] = sorted[k][:d-1]
		}
		vol += hso(slice, ref[:d-1]) * height
	}
	return vol
}

// Normalizer maps objective vectors onto [0, 1] per objective using bounds
// fixed at construction.
type Normalizer struct {
	Lo []float64
	Hi []float64
}

// NewNormalizer takes its bounds from F. Objectives with no spread get a unit
// range.
func NewNormalizer(F [][]float64) *Normalizer {
	if len(F) == 0 {
		return nil
	}
	d := len(F[0])
	n := &Normalizer{Lo: make([]float64, d), Hi: make([]float64, d)}
	copy(n.Lo, F[0])
	copy(n.Hi, F[0])
	for _, f := range F[1:] {
		for i, v := range f {
			n.Lo[i] = math.Min(n.Lo[i], v)
			n.Hi[i] = math.Max(n.Hi[i], v)
		}
	}
	for i := range n.Hi {
		if n.Hi[i] == n.Lo[i] {
			n.Hi[i] = n.Lo[i] + 1
		}
	}
	return n
}

// Apply normalizes f
func (n *Normalizer) Apply(f []float64) []float64 {
	out := make([]float64, len(f))
	for i, v := range f {
		out[i] = (v - n.Lo[i]) / (n.Hi[i] - n.Lo[i])
	}
	return out
}

// Hypervolume normalizes F and measures it against the reference point
// (1.1, ..., 1.1).
func (n *Normalizer) Hypervolume(F [][]float64) float64 {
	if n == nil || len(F) == 0 {
		return 0
	}
	pts := make([][]float64, len(F))
	for i, f := range F {
		pts[i] = n.Apply(f)
	}
	ref := make([]float64, len(n.Lo))
	for i := range ref {
		ref[i] = referenceMargin
	}
	return Hypervolume(pts, ref)
}
