package predictor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"google.golang.org/protobuf/types/known/structpb"
)

// Ridge is an L2 regularized linear regressor. Alpha is chosen by k-fold
// cross-validation over Alphas.
type Ridge struct {
	Alphas []float64
	Folds  int

	alpha     float64
	weights   []float64
	intercept float64
	fitted    bool
}

// NewRidge creates a ridge predictor with the default alpha grid
func NewRidge() *Ridge {
	return &Ridge{Alphas: DefaultAlphas, Folds: 5}
}

// Name returns "ridge"
func (r *Ridge) Name() string { return "ridge" }

// Fitted reports whether the model can predict
func (r *Ridge) Fitted() bool { return r.fitted }

// Alpha returns the selected regularization strength
func (r *Ridge) Alpha() float64 { return r.alpha }

// Fit trains the model
func (r *Ridge) Fit(X [][]float64, y []float64) error {
	if _, err := checkTrainingData(X, y); err != nil {
		return fmt.Errorf("ridge fit: %w", err)
	}

	alpha := selectAlpha(X, y, r.Alphas, r.Folds, func(X [][]float64, y []float64, alpha float64) (predictFunc, error) {
		w, b, err := solveRidge(X, y, alpha)
		if err != nil {
			return nil, err
		}
		return func(x []float64) float64 { return floats.Dot(w, x) + b }, nil
	})

	w, b, err := solveRidge(X, y, alpha)
	if err != nil {
		return fmt.Errorf("ridge fit: %w", err)
	}
	r.alpha, r.weights, r.intercept, r.fitted = alpha, w, b, true
	return nil
}

// Predict returns w·x + b
func (r *Ridge) Predict(x []float64) (float64, error) {
	if !r.fitted {
		return 0, &NotFittedError{Kind: r.Name()}
	}
	if len(x) != len(r.weights) {
		return 0, &FeatureMismatchError{Got: len(x), Want: len(r.weights)}
	}
	return floats.Dot(r.weights, x) + r.intercept, nil
}

// Parameters returns the fitted weights, intercept and alpha
func (r *Ridge) Parameters() (*structpb.Struct, error) {
	if !r.fitted {
		return nil, &NotFittedError{Kind: r.Name()}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"schema":     structpb.NewStringValue(Schema),
		"kind":       structpb.NewStringValue(r.Name()),
		"n_features": structpb.NewNumberValue(float64(len(r.weights))),
		"alpha":      structpb.NewNumberValue(r.alpha),
		"intercept":  structpb.NewNumberValue(r.intercept),
		"weights":    floatList(r.weights),
	}}, nil
}

// Save writes the model to path
func (r *Ridge) Save(path string) error {
	s, err := r.Parameters()
	if err != nil {
		return err
	}
	return writeBlob(path, s)
}

// Load restores a model written by Save
func (r *Ridge) Load(path string) error {
	s, err := readBlob(path, r.Name())
	if err != nil {
		return err
	}
	weights, ok := listFloats(s.GetFields()["weights"])
	if !ok {
		return &CorruptModelError{Path: path, Reason: "weights missing"}
	}
	n, ok := number(s, "n_features")
	if !ok || int(n) != len(weights) {
		return &CorruptModelError{Path: path, Reason: "n_features does not match weights"}
	}
	intercept, ok := number(s, "intercept")
	if !ok {
		return &CorruptModelError{Path: path, Reason: "intercept missing"}
	}
	alpha, _ := number(s, "alpha")

	r.alpha, r.weights, r.intercept, r.fitted = alpha, weights, intercept, true
	return nil
}

// solveRidge solves (XcᵀXc + αI) w = Xcᵀyc on centered data and returns the
// weights and the intercept that undoes the centering.
func solveRidge(X [][]float64, y []float64, alpha float64) ([]float64, float64, error) {
	n, d := len(X), len(X[0])

	xMean := make([]float64, d)
	for _, row := range X {
		floats.Add(xMean, row)
	}
	floats.Scale(1/float64(n), xMean)
	yMean := stat.Mean(y, nil)

	xc := mat.NewDense(n, d, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range X {
		for j, v := range row {
			xc.Set(i, j, v-xMean[j])
		}
		yc.SetVec(i, y[i]-yMean)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, xc.T())
	for j := 0; j < d; j++ {
		gram.SetSym(j, j, gram.At(j, j)+alpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(xc.T(), yc)

	var chol mat.Cholesky
	if !chol.Factorize(&gram) {
		return nil, 0, fmt.Errorf("normal equations are not positive definite (alpha=%g)", alpha)
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &rhs); err != nil {
		return nil, 0, fmt.Errorf("solve normal equations: %w", err)
	}

	weights := make([]float64, d)
	for j := range weights {
		weights[j] = w.AtVec(j)
	}
	return weights, yMean - floats.Dot(weights, xMean), nil
}
