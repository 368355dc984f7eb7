package supernet

import (
	"fmt"
	"math"
)

// Family identifies the network family a search space belongs to. It selects
// the MAC counting rules and the accuracy column label.
type Family string

const (
	FamilyOFAMobileNetV3 Family = "ofa_mbv3"
	FamilyOFAProxyless   Family = "ofa_proxyless"
	FamilyOFAResNet50    Family = "ofa_resnet50"
	FamilyTransformer    Family = "transformer"
	FamilyCustom         Family = "custom"
)

// Param is one named architecture parameter. It occupies Count consecutive
// vector positions, each choosing from Values.
//
// A parameter governed by a depth parameter g is split into count(g) groups of
// S = Count/count(g) positions; position i is active iff i%S < g[i/S].
type Param struct {
	Name       string
	Count      int
	Values     []float64
	GovernedBy string
}

// SearchSpace is an immutable ordered collection of parameters
type SearchSpace struct {
	Name       string
	Family     Family
	WidthMult  float64
	Resolution int

	params  []Param
	index   map[string]int
	offsets []int
	length  int
	order   []int // governing parameters first
}

// NewSearchSpace validates params and builds a search space
func NewSearchSpace(name string, family Family, params ...Param) (*SearchSpace, error) {
	if name == "" {
		return nil, fmt.Errorf("search space name cannot be empty")
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("search space %s: at least one parameter must be defined", name)
	}

	s := &SearchSpace{
		Name:       name,
		Family:     family,
		WidthMult:  1.0,
		Resolution: 224,
		params:     make([]Param, len(params)),
		index:      make(map[string]int, len(params)),
		offsets:    make([]int, len(params)),
	}

	for i, p := range params {
		if p.Name == "" {
			return nil, fmt.Errorf("search space %s: parameter %d has no name", name, i)
		}
		if _, dup := s.index[p.Name]; dup {
			return nil, fmt.Errorf("search space %s: duplicate parameter %s", name, p.Name)
		}
		if p.Count <= 0 {
			return nil, fmt.Errorf("search space %s: parameter %s count must be positive", name, p.Name)
		}
		if len(p.Values) == 0 {
			return nil, fmt.Errorf("search space %s: parameter %s has no values", name, p.Name)
		}
		seen := make(map[float64]bool, len(p.Values))
		for _, v := range p.Values {
			if seen[v] {
				return nil, fmt.Errorf("search space %s: parameter %s has duplicate value %g", name, p.Name, v)
			}
			seen[v] = true
		}

		p.Values = append([]float64(nil), p.Values...)
		s.params[i] = p
		s.index[p.Name] = i
		s.offsets[i] = s.length
		s.length += p.Count
	}

	for _, p := range s.params {
		if p.GovernedBy == "" {
			continue
		}
		gi, ok := s.index[p.GovernedBy]
		if !ok {
			return nil, fmt.Errorf("search space %s: parameter %s governed by unknown parameter %s", name, p.Name, p.GovernedBy)
		}
		g := s.params[gi]
		if g.GovernedBy != "" {
			return nil, fmt.Errorf("search space %s: governing parameter %s cannot itself be governed", name, g.Name)
		}
		if p.Count%g.Count != 0 {
			return nil, fmt.Errorf("search space %s: parameter %s count %d is not a multiple of %s count %d",
				name, p.Name, p.Count, g.Name, g.Count)
		}
		for _, v := range g.Values {
			if v < 0 || v != math.Trunc(v) {
				return nil, fmt.Errorf("search space %s: governing parameter %s must have non-negative integer values, got %g",
					name, g.Name, v)
			}
		}
	}

	// Governing parameters decode first
	for i, p := range s.params {
		if s.governs(p.Name) {
			s.order = append(s.order, i)
		}
	}
	for i, p := range s.params {
		if !s.governs(p.Name) {
			s.order = append(s.order, i)
		}
	}

	return s, nil
}

func (s *SearchSpace) governs(name string) bool {
	for _, p := range s.params {
		if p.GovernedBy == name {
			return true
		}
	}
	return false
}

// Params returns a copy of the parameters in vector order
func (s *SearchSpace) Params() []Param {
	out := make([]Param, len(s.params))
	for i, p := range s.params {
		p.Values = append([]float64(nil), p.Values...)
		out[i] = p
	}
	return out
}

// Param returns the named parameter
func (s *SearchSpace) Param(name string) (Param, bool) {
	i, ok := s.index[name]
	if !ok {
		return Param{}, false
	}
	return s.params[i], true
}

// VectorLength is the constant vector length of the space
func (s *SearchSpace) VectorLength() int {
	return s.length
}

// OneHotLength is the sum of the cardinalities of every position
func (s *SearchSpace) OneHotLength() int {
	n := 0
	for _, p := range s.params {
		n += p.Count * len(p.Values)
	}
	return n
}

// Bounds returns the cardinality of every vector position
func (s *SearchSpace) Bounds() []int {
	b := make([]int, 0, s.length)
	for _, p := range s.params {
		for j := 0; j < p.Count; j++ {
			b = append(b, len(p.Values))
		}
	}
	return b
}

// Size is the number of distinct vectors, saturating at math.MaxInt64
func (s *SearchSpace) Size() int64 {
	size := int64(1)
	for _, c := range s.Bounds() {
		if size > math.MaxInt64/int64(c) {
			return math.MaxInt64
		}
		size *= int64(c)
	}
	return size
}

// AccuracyLabel is the results column header for the accuracy metric
func (s *SearchSpace) AccuracyLabel() string {
	if s.Family == FamilyTransformer {
		return "BLEU Score"
	}
	return "Top-1 Acc (%)"
}

func (s *SearchSpace) groupSize(p Param) int {
	g := s.params[s.index[p.GovernedBy]]
	return p.Count / g.Count
}
