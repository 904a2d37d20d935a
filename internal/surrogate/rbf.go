package surrogate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// rbfPredictor is a radial-basis-function interpolant: outputs are a
// weighted sum of multiquadric bases centered on the training points.
// It has no predictive uncertainty; adaptive sampling falls back to a
// space-filling criterion when this family is selected.
type rbfPredictor struct {
	centers [][]float64
	weights *mat.Dense // (nCenters, dimOut)
	shape   float64
}

func (p *rbfPredictor) Predict(inputs [][]float64) ([][]float64, error) {
	if len(inputs) == 0 {
		return nil, errors.New("rbf: empty prediction batch")
	}
	_, dimOut := p.weights.Dims()

	out := make([][]float64, len(inputs))
	for i, x := range inputs {
		y := make([]float64, dimOut)
		for c, center := range p.centers {
			phi := multiquadric(dist(x, center), p.shape)
			for j := 0; j < dimOut; j++ {
				y[j] += phi * p.weights.At(c, j)
			}
		}
		out[i] = y
	}
	return out, nil
}

// RBFTrainer fits a multiquadric RBF interpolant with a small ridge term
// and reports k-fold cross-validation metrics.
type RBFTrainer struct {
	folds int
	shape float64
	ridge float64
}

// NewRBFTrainer creates an RBF trainer with the given cross-validation
// fold count.
func NewRBFTrainer(folds int) *RBFTrainer {
	return &RBFTrainer{
		folds: folds,
		shape: 1.0,
		ridge: 1e-8,
	}
}

func (t *RBFTrainer) Name() string { return "rbf" }

// Fit trains the interpolant on the normalized dataset and attaches the
// cross-validated metric map.
func (t *RBFTrainer) Fit(data *Dataset) (*Fitted, error) {
	X, Y, norm := data.NormalizedData()

	metrics, err := crossValidate(X, Y, t.folds, t.fitWeights)
	if err != nil {
		return nil, fmt.Errorf("rbf: cross-validation failed: %w", err)
	}

	predictor, err := t.fitWeights(X, Y)
	if err != nil {
		return nil, fmt.Errorf("rbf: final fit failed: %w", err)
	}

	return &Fitted{
		Name:      t.Name(),
		Predictor: predictor,
		Metrics:   metrics,
		Norm:      norm,
	}, nil
}

// fitWeights solves (Phi + ridge*I) W = Y for the basis weights.
func (t *RBFTrainer) fitWeights(X, Y [][]float64) (Predictor, error) {
	n := len(X)
	if n == 0 {
		return nil, errors.New("rbf: empty training set")
	}
	dimOut := len(Y[0])

	phi := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := multiquadric(dist(X[i], X[j]), t.shape)
			if i == j {
				v += t.ridge
			}
			phi.Set(i, j, v)
		}
	}

	rhs := mat.NewDense(n, dimOut, nil)
	for i, y := range Y {
		rhs.SetRow(i, y)
	}

	weights := mat.NewDense(n, dimOut, nil)
	if err := weights.Solve(phi, rhs); err != nil {
		return nil, fmt.Errorf("rbf: weight solve failed: %w", err)
	}

	centers := make([][]float64, n)
	for i, x := range X {
		centers[i] = append([]float64(nil), x...)
	}

	return &rbfPredictor{centers: centers, weights: weights, shape: t.shape}, nil
}

func multiquadric(r, shape float64) float64 {
	return math.Sqrt(1 + (shape*r)*(shape*r))
}

func dist(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
