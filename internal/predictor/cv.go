package predictor

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// DefaultAlphas is the regularization grid searched by cross-validation
var DefaultAlphas = []float64{1e-3, 1e-2, 1e-1, 1, 10, 100}

// predictFunc evaluates a model trained on one fold
type predictFunc func(x []float64) float64

// trainFunc fits a model with regularization alpha
type trainFunc func(X [][]float64, y []float64, alpha float64) (predictFunc, error)

// selectAlpha picks the alpha with the lowest k-fold mean squared error.
// Rows are assigned to folds round-robin so the choice is deterministic.
// With fewer than 2 rows per fold on average the first alpha >= 1 wins.
func selectAlpha(X [][]float64, y []float64, alphas []float64, folds int, train trainFunc) float64 {
	n := len(X)
	if folds > n {
		folds = n
	}
	if folds < 2 {
		return fallbackAlpha(alphas)
	}

	best, bestErr := fallbackAlpha(alphas), math.Inf(1)
	for _, alpha := range alphas {
		var sq []float64
		failed := false
		for f := 0; f < folds; f++ {
			var trX, teX [][]float64
			var trY, teY []float64
			for i := 0; i < n; i++ {
				if i%folds == f {
					teX, teY = append(teX, X[i]), append(teY, y[i])
				} else {
					trX, trY = append(trX, X[i]), append(trY, y[i])
				}
			}
			predict, err := train(trX, trY, alpha)
			if err != nil {
				failed = true
				break
			}
			for i, x := range teX {
				d := predict(x) - teY[i]
				sq = append(sq, d*d)
			}
		}
		if failed || len(sq) == 0 {
			continue
		}
		if mse := stat.Mean(sq, nil); mse < bestErr {
			best, bestErr = alpha, mse
		}
	}
	return best
}

func fallbackAlpha(alphas []float64) float64 {
	for _, a := range alphas {
		if a >= 1 {
			return a
		}
	}
	if len(alphas) > 0 {
		return alphas[len(alphas)-1]
	}
	return 1
}
