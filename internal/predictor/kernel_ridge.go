package predictor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"google.golang.org/protobuf/types/known/structpb"
)

// KernelRidge is RBF kernel ridge regression in dual form. Gamma defaults to
// 1/n_features when zero.
type KernelRidge struct {
	Alphas []float64
	Folds  int
	Gamma  float64

	alpha   float64
	gamma   float64
	support [][]float64
	coef    []float64
	yMean   float64
	fitted  bool
}

// NewKernelRidge creates a kernel ridge predictor with the default alpha grid
func NewKernelRidge() *KernelRidge {
	return &KernelRidge{Alphas: DefaultAlphas, Folds: 5}
}

// Name returns "kernel_ridge"
func (k *KernelRidge) Name() string { return "kernel_ridge" }

// Fitted reports whether the model can predict
func (k *KernelRidge) Fitted() bool { return k.fitted }

// Alpha returns the selected regularization strength
func (k *KernelRidge) Alpha() float64 { return k.alpha }

// Fit trains the model
func (k *KernelRidge) Fit(X [][]float64, y []float64) error {
	d, err := checkTrainingData(X, y)
	if err != nil {
		return fmt.Errorf("kernel_ridge fit: %w", err)
	}
	gamma := k.Gamma
	if gamma <= 0 {
		gamma = 1 / float64(d)
	}

	alpha := selectAlpha(X, y, k.Alphas, k.Folds, func(X [][]float64, y []float64, alpha float64) (predictFunc, error) {
		coef, mean, err := solveKernel(X, y, alpha, gamma)
		if err != nil {
			return nil, err
		}
		return func(x []float64) float64 { return kernelPredict(X, coef, mean, gamma, x) }, nil
	})

	coef, mean, err := solveKernel(X, y, alpha, gamma)
	if err != nil {
		return fmt.Errorf("kernel_ridge fit: %w", err)
	}

	support := make([][]float64, len(X))
	for i, row := range X {
		support[i] = append([]float64(nil), row...)
	}
	k.alpha, k.gamma, k.support, k.coef, k.yMean, k.fitted = alpha, gamma, support, coef, mean, true
	return nil
}

// Predict returns Σ coef_i·K(x_i, x) + mean(y)
func (k *KernelRidge) Predict(x []float64) (float64, error) {
	if !k.fitted {
		return 0, &NotFittedError{Kind: k.Name()}
	}
	if len(x) != len(k.support[0]) {
		return 0, &FeatureMismatchError{Got: len(x), Want: len(k.support[0])}
	}
	return kernelPredict(k.support, k.coef, k.yMean, k.gamma, x), nil
}

// Parameters returns the support rows, dual coefficients and kernel settings
func (k *KernelRidge) Parameters() (*structpb.Struct, error) {
	if !k.fitted {
		return nil, &NotFittedError{Kind: k.Name()}
	}
	d := len(k.support[0])
	flat := make([]float64, 0, len(k.support)*d)
	for _, row := range k.support {
		flat = append(flat, row...)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"schema":     structpb.NewStringValue(Schema),
		"kind":       structpb.NewStringValue(k.Name()),
		"n_features": structpb.NewNumberValue(float64(d)),
		"alpha":      structpb.NewNumberValue(k.alpha),
		"gamma":      structpb.NewNumberValue(k.gamma),
		"y_mean":     structpb.NewNumberValue(k.yMean),
		"coef":       floatList(k.coef),
		"support":    floatList(flat),
	}}, nil
}

// Save writes the model to path
func (k *KernelRidge) Save(path string) error {
	s, err := k.Parameters()
	if err != nil {
		return err
	}
	return writeBlob(path, s)
}

// Load restores a model written by Save
func (k *KernelRidge) Load(path string) error {
	s, err := readBlob(path, k.Name())
	if err != nil {
		return err
	}
	coef, ok := listFloats(s.GetFields()["coef"])
	if !ok || len(coef) == 0 {
		return &CorruptModelError{Path: path, Reason: "coef missing"}
	}
	flat, ok := listFloats(s.GetFields()["support"])
	if !ok {
		return &CorruptModelError{Path: path, Reason: "support missing"}
	}
	nf, ok := number(s, "n_features")
	d := int(nf)
	if !ok || d <= 0 || len(flat) != d*len(coef) {
		return &CorruptModelError{Path: path, Reason: "support shape does not match coef"}
	}
	gamma, ok := number(s, "gamma")
	if !ok || gamma <= 0 {
		return &CorruptModelError{Path: path, Reason: "gamma missing"}
	}
	yMean, _ := number(s, "y_mean")
	alpha, _ := number(s, "alpha")

	support := make([][]float64, len(coef))
	for i := range support {
		support[i] = flat[i*d : (i+1)*d]
	}
	k.alpha, k.gamma, k.support, k.coef, k.yMean, k.fitted = alpha, gamma, support, coef, yMean, true
	return nil
}

func rbf(a, b []float64, gamma float64) float64 {
	d := floats.Distance(a, b, 2)
	return math.Exp(-gamma * d * d)
}

func kernelPredict(support [][]float64, coef []float64, mean, gamma float64, x []float64) float64 {
	sum := mean
	for i, s := range support {
		sum += coef[i] * rbf(s, x, gamma)
	}
	return sum
}

// solveKernel solves (K + αI) c = y - mean(y)
func solveKernel(X [][]float64, y []float64, alpha, gamma float64) ([]float64, float64, error) {
	n := len(X)
	mean := stat.Mean(y, nil)

	gram := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := rbf(X[i], X[j], gamma)
			if i == j {
				v += alpha
			}
			gram.SetSym(i, j, v)
		}
	}
	rhs := mat.NewVecDense(n, nil)
	for i := range y {
		rhs.SetVec(i, y[i]-mean)
	}

	var chol mat.Cholesky
	if !chol.Factorize(gram) {
		return nil, 0, fmt.Errorf("kernel matrix is not positive definite (alpha=%g)", alpha)
	}
	var c mat.VecDense
	if err := chol.SolveVecTo(&c, rhs); err != nil {
		return nil, 0, fmt.Errorf("solve kernel system: %w", err)
	}
	coef := make([]float64, n)
	for i := range coef {
		coef[i] = c.AtVec(i)
	}
	return coef, mean, nil
}
