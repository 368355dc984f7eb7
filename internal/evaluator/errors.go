package evaluator

import (
	"fmt"
	"time"
)

// EvaluationTimeoutError is returned when a measurement exceeds its timeout.
// The partial measurement is discarded.
type EvaluationTimeoutError struct {
	Arch    string
	Timeout time.Duration
}

func (e *EvaluationTimeoutError) Error() string {
	return fmt.Sprintf("evaluation of %s exceeded timeout %s", e.Arch, e.Timeout)
}

// UnsupportedModelError is returned when no MAC rule applies to a search space
// and the built model cannot count its own cost.
type UnsupportedModelError struct {
	Space string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("cannot count MACs for search space %s: no analytic rule and model does not implement MACCounter", e.Space)
}

// MissingCollaboratorError is returned when an operation needs a collaborator
// the runner was not given.
type MissingCollaboratorError struct {
	Name string
}

func (e *MissingCollaboratorError) Error() string {
	return fmt.Sprintf("runner has no %s configured", e.Name)
}

// MissingMetricError is returned when the eval collaborator does not report the
// configured accuracy metric.
type MissingMetricError struct {
	Metric string
}

func (e *MissingMetricError) Error() string {
	return fmt.Sprintf("eval function did not report metric %q", e.Metric)
}
