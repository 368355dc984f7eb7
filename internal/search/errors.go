package search

import "fmt"

// UnknownObjectiveError indicates a metric with no known direction
type UnknownObjectiveError struct {
	Metric string
}

func (e *UnknownObjectiveError) Error() string {
	return "unknown objective: " + e.Metric
}

// UnknownAlgorithmError indicates an unsupported search algorithm name
type UnknownAlgorithmError struct {
	Name string
}

func (e *UnknownAlgorithmError) Error() string {
	return "unknown search algorithm: " + e.Name
}

// SearchSpaceExhaustedError indicates that no untried valid candidate is left
type SearchSpaceExhaustedError struct {
	Generation int
	Tried      int
}

func (e *SearchSpaceExhaustedError) Error() string {
	return fmt.Sprintf("search space exhausted at generation %d after %d candidates", e.Generation, e.Tried)
}
