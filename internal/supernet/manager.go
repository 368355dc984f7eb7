package supernet

import (
	"strconv"
	"strings"

	"github.com/nasopt/dynas/pkg/utils"
)

// ArchConfig maps a parameter name to its ordered concrete values
type ArchConfig map[string][]float64

// Vector is the integer encoding of an architecture, one index per
// dimension-instance. Its length is constant for a search space.
type Vector []int

// OneHot is the flattened indicator encoding of a Vector
type OneHot []int

// Clone returns a copy of v
func (v Vector) Clone() Vector {
	return append(Vector(nil), v...)
}

// Equal reports whether v and o are identical at every position
func (v Vector) Equal(o Vector) bool {
	if len(v) != len(o) {
		return false
	}
	for i := range v {
		if v[i] != o[i] {
			return false
		}
	}
	return true
}

// String renders v as a compact comma separated list
func (v Vector) String() string {
	var sb strings.Builder
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(x))
	}
	return sb.String()
}

// Floats converts v to float64 features
func (o OneHot) Floats() []float64 {
	out := make([]float64, len(o))
	for i, b := range o {
		out[i] = float64(b)
	}
	return out
}

// ParameterManager converts between vectors, architecture configs and one-hot
// features for a single search space.
type ParameterManager struct {
	space *SearchSpace
}

// NewParameterManager creates a manager for space
func NewParameterManager(space *SearchSpace) *ParameterManager {
	return &ParameterManager{space: space}
}

// Space returns the underlying search space
func (pm *ParameterManager) Space() *SearchSpace {
	return pm.space
}

func (pm *ParameterManager) validate(v Vector) error {
	s := pm.space
	if len(v) != s.length {
		return &InvalidVectorError{Length: len(v), Expected: s.length}
	}
	for _, pi := range s.order {
		p := s.params[pi]
		off := s.offsets[pi]
		for j := 0; j < p.Count; j++ {
			x := v[off+j]
			if x < 0 || x >= len(p.Values) {
				return &InvalidVectorError{
					Length:      len(v),
					Expected:    s.length,
					Position:    off + j,
					Param:       p.Name,
					Value:       x,
					Cardinality: len(p.Values),
				}
			}
		}
	}
	return nil
}

// TranslateToParam decodes v into its canonical config. Every parameter carries
// its full Count entries, including positions beyond the realized depth.
func (pm *ParameterManager) TranslateToParam(v Vector) (ArchConfig, error) {
	if err := pm.validate(v); err != nil {
		return nil, err
	}
	s := pm.space
	cfg := make(ArchConfig, len(s.params))
	for _, pi := range s.order {
		p := s.params[pi]
		off := s.offsets[pi]
		vals := make([]float64, p.Count)
		for j := range vals {
			vals[j] = p.Values[v[off+j]]
		}
		cfg[p.Name] = vals
	}
	return cfg, nil
}

// TranslateToVector encodes cfg. Canonical (full length) and realized
// (truncated to depth) configs are both accepted; inactive positions of a
// realized config are padded with 0. Keys outside the space are ignored.
func (pm *ParameterManager) TranslateToVector(cfg ArchConfig) (Vector, error) {
	s := pm.space
	v := make(Vector, s.length)
	for _, pi := range s.order {
		p := s.params[pi]
		off := s.offsets[pi]
		vals, ok := cfg[p.Name]
		if !ok {
			return nil, &UnknownValueError{Param: p.Name, Reason: "missing from config"}
		}

		if len(vals) == p.Count {
			for j, x := range vals {
				idx := indexOf(p.Values, x)
				if idx < 0 {
					return nil, &UnknownValueError{Param: p.Name, Value: x}
				}
				v[off+j] = idx
			}
			continue
		}

		if p.GovernedBy == "" {
			return nil, &UnknownValueError{
				Param:  p.Name,
				Reason: "expected " + strconv.Itoa(p.Count) + " values, got " + strconv.Itoa(len(vals)),
			}
		}

		active := pm.activePositions(p, cfg[p.GovernedBy])
		if len(active) != len(vals) {
			return nil, &UnknownValueError{
				Param: p.Name,
				Reason: "expected " + strconv.Itoa(p.Count) + " values or " + strconv.Itoa(len(active)) +
					" realized values, got " + strconv.Itoa(len(vals)),
			}
		}
		for k, pos := range active {
			idx := indexOf(p.Values, vals[k])
			if idx < 0 {
				return nil, &UnknownValueError{Param: p.Name, Value: vals[k]}
			}
			v[off+pos] = idx
		}
	}
	return v, nil
}

// activePositions lists the active offsets of governed parameter p given the
// decoded governor values.
func (pm *ParameterManager) activePositions(p Param, governor []float64) []int {
	size := pm.space.groupSize(p)
	var out []int
	for j := 0; j < p.Count; j++ {
		g := j / size
		if g < len(governor) && j%size < int(governor[g]) {
			out = append(out, j)
		}
	}
	return out
}

// Realize returns the truncated view of cfg, keeping only the active
// positions of governed parameters.
func (pm *ParameterManager) Realize(cfg ArchConfig) (ArchConfig, error) {
	v, err := pm.TranslateToVector(cfg)
	if err != nil {
		return nil, err
	}
	canonical, err := pm.TranslateToParam(v)
	if err != nil {
		return nil, err
	}
	out := make(ArchConfig, len(canonical))
	for _, p := range pm.space.params {
		vals := canonical[p.Name]
		if p.GovernedBy == "" {
			out[p.Name] = vals
			continue
		}
		active := pm.activePositions(p, canonical[p.GovernedBy])
		realized := make([]float64, len(active))
		for k, pos := range active {
			realized[k] = vals[pos]
		}
		out[p.Name] = realized
	}
	return out, nil
}

// OnehotGeneric expands v into one indicator block per dimension-instance
func (pm *ParameterManager) OnehotGeneric(v Vector) (OneHot, error) {
	if err := pm.validate(v); err != nil {
		return nil, err
	}
	out := make(OneHot, 0, pm.space.OneHotLength())
	pos := 0
	for _, p := range pm.space.params {
		for j := 0; j < p.Count; j++ {
			block := make([]int, len(p.Values))
			block[v[pos]] = 1
			out = append(out, block...)
			pos++
		}
	}
	return out, nil
}

// RandomSamples draws n independent uniform vectors from rng
func (pm *ParameterManager) RandomSamples(n int, rng *utils.RandSource) []Vector {
	bounds := pm.space.Bounds()
	samples := make([]Vector, n)
	for i := range samples {
		v := make(Vector, len(bounds))
		for j, c := range bounds {
			v[j] = rng.Intn(c)
		}
		samples[i] = v
	}
	return samples
}

// ActiveMask marks the positions of v that affect the realized architecture.
// It returns nil if v has the wrong length.
func (pm *ParameterManager) ActiveMask(v Vector) []bool {
	s := pm.space
	if len(v) != s.length {
		return nil
	}
	mask := make([]bool, s.length)
	for i, p := range s.params {
		off := s.offsets[i]
		if p.GovernedBy == "" {
			for j := 0; j < p.Count; j++ {
				mask[off+j] = true
			}
			continue
		}
		gi := s.index[p.GovernedBy]
		g := s.params[gi]
		goff := s.offsets[gi]
		size := s.groupSize(p)
		for j := 0; j < p.Count; j++ {
			gx := v[goff+j/size]
			if gx < 0 || gx >= len(g.Values) {
				mask[off+j] = true
				continue
			}
			mask[off+j] = j%size < int(g.Values[gx])
		}
	}
	return mask
}

// EquivalentVectors reports whether a and b encode the same realized
// architecture, comparing active positions only.
func (pm *ParameterManager) EquivalentVectors(a, b Vector) bool {
	if len(a) != len(b) {
		return false
	}
	ma, mb := pm.ActiveMask(a), pm.ActiveMask(b)
	if ma == nil {
		return false
	}
	for i := range a {
		if ma[i] != mb[i] {
			return false
		}
		if ma[i] && a[i] != b[i] {
			return false
		}
	}
	return true
}

// Canonicalize zeroes every inactive position of v
func (pm *ParameterManager) Canonicalize(v Vector) Vector {
	mask := pm.ActiveMask(v)
	out := v.Clone()
	for i, active := range mask {
		if !active {
			out[i] = 0
		}
	}
	return out
}

// Key identifies the realized architecture of v. Equivalent vectors share a key.
func (pm *ParameterManager) Key(v Vector) string {
	return pm.space.Name + ":" + pm.Canonicalize(v).String()
}

func indexOf(values []float64, x float64) int {
	for i, v := range values {
		if v == x {
			return i
		}
	}
	return -1
}
