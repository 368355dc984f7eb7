// Package predictor provides regression models that estimate objective values
// from one-hot architecture features.
package predictor

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Schema tags every persisted predictor blob
const Schema = "dynas.predictor/v1"

// Predictor is a trainable regressor over feature vectors
type Predictor interface {
	// Name returns the predictor kind, e.g. "ridge"
	Name() string
	// Fit trains on rows of X with targets y
	Fit(X [][]float64, y []float64) error
	// Predict returns the estimate for one feature vector
	Predict(x []float64) (float64, error)
	// Fitted reports whether Fit or Load has succeeded
	Fitted() bool
	// Parameters exposes the fitted coefficients as an opaque blob
	Parameters() (*structpb.Struct, error)
	// Save writes the fitted parameters to path
	Save(path string) error
	// Load restores parameters written by Save
	Load(path string) error
}

// New creates a predictor by kind name
func New(kind string) (Predictor, error) {
	switch kind {
	case "ridge":
		return NewRidge(), nil
	case "kernel_ridge":
		return NewKernelRidge(), nil
	default:
		return nil, &UnknownPredictorError{Kind: kind}
	}
}

// Kinds lists the predictor kinds New accepts
func Kinds() []string {
	return []string{"ridge", "kernel_ridge"}
}

// PredictBatch runs p over every row of X
func PredictBatch(p Predictor, X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, x := range X {
		y, err := p.Predict(x)
		if err != nil {
			return nil, err
		}
		out[i] = y
	}
	return out, nil
}

// UnknownPredictorError is returned by New for unsupported kinds
type UnknownPredictorError struct {
	Kind string
}

func (e *UnknownPredictorError) Error() string {
	return fmt.Sprintf("unknown predictor kind: %s", e.Kind)
}

// NotFittedError is returned when a predictor is used before Fit or Load
type NotFittedError struct {
	Kind string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("predictor %s is not fitted", e.Kind)
}

// CorruptModelError is returned when a persisted blob cannot be restored
type CorruptModelError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptModelError) Error() string {
	msg := fmt.Sprintf("corrupt predictor model %s: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CorruptModelError) Unwrap() error {
	return e.Err
}

// FeatureMismatchError is returned when a feature vector has the wrong width
type FeatureMismatchError struct {
	Got, Want int
}

func (e *FeatureMismatchError) Error() string {
	return fmt.Sprintf("feature vector has %d entries, model expects %d", e.Got, e.Want)
}

func checkTrainingData(X [][]float64, y []float64) (int, error) {
	if len(X) == 0 {
		return 0, fmt.Errorf("no training rows")
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("training rows (%d) and targets (%d) differ", len(X), len(y))
	}
	d := len(X[0])
	if d == 0 {
		return 0, fmt.Errorf("training rows have no features")
	}
	for i, row := range X {
		if len(row) != d {
			return 0, fmt.Errorf("row %d has %d features, expected %d", i, len(row), d)
		}
	}
	return d, nil
}

func writeBlob(path string, s *structpb.Struct) error {
	data, err := proto.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode predictor: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write predictor %s: %w", path, err)
	}
	return nil
}

// readBlob reads a blob and checks its schema and kind
func readBlob(path, kind string) (*structpb.Struct, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read predictor %s: %w", path, err)
	}
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return nil, &CorruptModelError{Path: path, Reason: "undecodable blob", Err: err}
	}
	fields := s.GetFields()
	if got := fields["schema"].GetStringValue(); got != Schema {
		return nil, &CorruptModelError{Path: path, Reason: fmt.Sprintf("schema %q, expected %q", got, Schema)}
	}
	if got := fields["kind"].GetStringValue(); got != kind {
		return nil, &CorruptModelError{Path: path, Reason: fmt.Sprintf("kind %q, expected %q", got, kind)}
	}
	return &s, nil
}

func floatList(xs []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func listFloats(v *structpb.Value) ([]float64, bool) {
	lv := v.GetListValue()
	if lv == nil {
		return nil, false
	}
	out := make([]float64, len(lv.GetValues()))
	for i, x := range lv.GetValues() {
		n, ok := x.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, false
		}
		out[i] = n.NumberValue
	}
	return out, true
}

func number(s *structpb.Struct, key string) (float64, bool) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, false
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	return n.NumberValue, true
}
