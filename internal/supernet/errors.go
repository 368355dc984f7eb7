package supernet

import "fmt"

// InvalidVectorError is returned when a vector has the wrong length or a
// coordinate outside its dimension's range.
type InvalidVectorError struct {
	Length      int
	Expected    int
	Position    int
	Param       string
	Value       int
	Cardinality int
}

func (e *InvalidVectorError) Error() string {
	if e.Length != e.Expected {
		return fmt.Sprintf("invalid vector: length %d, expected %d", e.Length, e.Expected)
	}
	return fmt.Sprintf("invalid vector: position %d (%s) has value %d, must be in [0, %d)",
		e.Position, e.Param, e.Value, e.Cardinality)
}

// UnknownValueError is returned when a config value is not in the permitted
// set of its parameter, or a parameter is missing or has the wrong length.
type UnknownValueError struct {
	Param  string
	Value  float64
	Reason string
}

func (e *UnknownValueError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("parameter %s: %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("parameter %s: value %g is not in the search space", e.Param, e.Value)
}

// UnknownSupernetError is returned by Lookup for unregistered names
type UnknownSupernetError struct {
	Name string
}

func (e *UnknownSupernetError) Error() string {
	return fmt.Sprintf("unknown supernet: %s", e.Name)
}
