package surrogate

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// fitFunc trains a predictor on the given normalized rows.
type fitFunc func(X, Y [][]float64) (Predictor, error)

// crossValidate computes k-fold cross-validation metrics for a model
// family. Folds are assigned round-robin, so the split is deterministic
// for a given dataset order. Returns mae, variance and r2 over the
// held-out predictions, in normalized output space.
//
// Datasets too small to split are scored in-sample; the metric map is
// shaped the same either way.
func crossValidate(X, Y [][]float64, folds int, fit fitFunc) (map[string]float64, error) {
	n := len(X)

	if folds > n {
		folds = n
	}
	if n < 4 || folds < 2 {
		predictor, err := fit(X, Y)
		if err != nil {
			return nil, err
		}
		pred, err := predictor.Predict(X)
		if err != nil {
			return nil, err
		}
		return scoreMetrics(pred, Y), nil
	}

	pred := make([][]float64, n)
	for fold := 0; fold < folds; fold++ {
		var trainX, trainY, testX [][]float64
		var testIdx []int
		for i := 0; i < n; i++ {
			if i%folds == fold {
				testX = append(testX, X[i])
				testIdx = append(testIdx, i)
			} else {
				trainX = append(trainX, X[i])
				trainY = append(trainY, Y[i])
			}
		}

		predictor, err := fit(trainX, trainY)
		if err != nil {
			return nil, err
		}
		foldPred, err := predictor.Predict(testX)
		if err != nil {
			return nil, err
		}
		for k, i := range testIdx {
			pred[i] = foldPred[k]
		}
	}

	return scoreMetrics(pred, Y), nil
}

// scoreMetrics reduces predictions vs. truth to the metric map the
// convergence check consumes.
func scoreMetrics(pred, truth [][]float64) map[string]float64 {
	dimOut := len(truth[0])

	var residuals []float64
	var absSum float64
	r2Sum := 0.0

	for j := 0; j < dimOut; j++ {
		estimates := make([]float64, len(truth))
		values := make([]float64, len(truth))
		for i := range truth {
			estimates[i] = pred[i][j]
			values[i] = truth[i][j]
			r := values[i] - estimates[i]
			residuals = append(residuals, r)
			absSum += math.Abs(r)
		}
		r2Sum += stat.RSquaredFrom(estimates, values, nil)
	}

	return map[string]float64{
		"mae":      absSum / float64(len(residuals)),
		"variance": stat.Variance(residuals, nil),
		"r2":       r2Sum / float64(dimOut),
	}
}
