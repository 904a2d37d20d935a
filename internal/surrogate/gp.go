package surrogate

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/SAMO/internal/surrogate/kernels"
)

// gp is a single-output Gaussian Process regressor. The multi-output
// surrogate trains one gp per output column.
type gp struct {
	kernel   kernels.Kernel
	noiseVar float64

	// Training data
	X *mat.Dense
	y *mat.VecDense

	// Precomputed values
	alpha *mat.VecDense
	chol  *mat.Cholesky

	logger *zap.Logger
}

func newGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *gp {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &gp{
		kernel:   kernel,
		noiseVar: noiseVar,
		logger:   logger.Named("gaussian_process"),
	}
}

// fit conditions the GP on the training data. The kernel matrix gets
// noise plus an escalating jitter on the diagonal until the Cholesky
// factorization succeeds.
func (g *gp) fit(X *mat.Dense, y *mat.VecDense) error {
	const op = "gp.fit"

	if X == nil || y == nil {
		return fmt.Errorf("%s: input matrices must not be nil", op)
	}
	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return fmt.Errorf("%s: input matrix X must not be empty", op)
	}
	if nSamples != y.Len() {
		return fmt.Errorf("%s: dimension mismatch: X has %d samples but y has length %d",
			op, nSamples, y.Len())
	}

	g.logger.Debug("Fitting GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("noise_var", g.noiseVar),
		zap.Float64s("kernel_hyperparameters", g.kernel.Hyperparameters()),
	)

	g.X = mat.DenseCopyOf(X)
	g.y = mat.VecDenseCopyOf(y)

	K := g.kernelMatrix(X, nSamples)

	// Escalate jitter until the matrix factorizes.
	jitter := 1e-10
	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		Kj := mat.NewSymDense(nSamples, nil)
		for i := 0; i < nSamples; i++ {
			for j := i; j < nSamples; j++ {
				v := K.At(i, j)
				if i == j {
					v += g.noiseVar + jitter
				}
				Kj.SetSym(i, j, v)
			}
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(Kj); !ok {
			g.logger.Debug("Cholesky factorization failed, increasing jitter",
				zap.Int("attempt", attempt+1),
				zap.Float64("jitter", jitter))
			jitter *= 10
			continue
		}

		alpha := mat.NewVecDense(nSamples, nil)
		if err := chol.SolveVecTo(alpha, y); err != nil {
			jitter *= 10
			continue
		}

		g.alpha = alpha
		g.chol = &chol
		return nil
	}

	return fmt.Errorf("%s: kernel matrix is not positive definite after %d jitter attempts",
		op, maxAttempts)
}

func (g *gp) kernelMatrix(X *mat.Dense, nSamples int) *mat.SymDense {
	K := mat.NewSymDense(nSamples, nil)
	for i := 0; i < nSamples; i++ {
		xi := X.RawRowView(i)
		K.SetSym(i, i, g.kernel.Eval(xi, xi))
		for j := i + 1; j < nSamples; j++ {
			K.SetSym(i, j, g.kernel.Eval(xi, X.RawRowView(j)))
		}
	}
	return K
}

// predict returns posterior mean and variance at the test points.
func (g *gp) predict(X *mat.Dense) (*mat.VecDense, *mat.VecDense, error) {
	const op = "gp.predict"

	if X == nil {
		return nil, nil, fmt.Errorf("%s: input matrix X is nil", op)
	}
	if g.X == nil || g.alpha == nil {
		return nil, nil, errors.New(op + ": model not trained")
	}

	nTest, _ := X.Dims()
	nTrain, _ := g.X.Dims()

	mean := mat.NewVecDense(nTest, nil)
	variance := mat.NewVecDense(nTest, nil)

	Kss := make([]float64, nTest)
	Kstar := mat.NewDense(nTest, nTrain, nil)
	for i := 0; i < nTest; i++ {
		xStar := X.RawRowView(i)
		Kss[i] = g.kernel.Eval(xStar, xStar) + g.noiseVar
		for j := 0; j < nTrain; j++ {
			Kstar.Set(i, j, g.kernel.Eval(xStar, g.X.RawRowView(j)))
		}
	}

	// mean = K* alpha
	mean.MulVec(Kstar, g.alpha)

	// variance = diag(K** - K* K^-1 K*^T) via the Cholesky factor
	v := mat.NewDense(nTrain, nTest, nil)
	if err := g.chol.SolveTo(v, Kstar.T()); err != nil {
		return nil, nil, fmt.Errorf("%s: failed to solve linear system: %v", op, err)
	}
	for i := 0; i < nTest; i++ {
		var sum float64
		for j := 0; j < nTrain; j++ {
			val := v.At(j, i)
			sum += val * val
		}
		variance.SetVec(i, math.Max(0, Kss[i]-sum))
	}

	return mean, variance, nil
}

// gpPredictor is the multi-output GP surrogate: one conditioned gp per
// output column, all in normalized space.
type gpPredictor struct {
	models []*gp
	dimIn  int
}

func (p *gpPredictor) Predict(inputs [][]float64) ([][]float64, error) {
	mean, _, err := p.PredictStd(inputs)
	return mean, err
}

func (p *gpPredictor) PredictStd(inputs [][]float64) (mean, std [][]float64, err error) {
	if len(inputs) == 0 {
		return nil, nil, errors.New("gp: empty prediction batch")
	}
	X := rowsToDense(inputs, p.dimIn)

	mean = make([][]float64, len(inputs))
	std = make([][]float64, len(inputs))
	for i := range inputs {
		mean[i] = make([]float64, len(p.models))
		std[i] = make([]float64, len(p.models))
	}

	for j, model := range p.models {
		mu, variance, err := model.predict(X)
		if err != nil {
			return nil, nil, err
		}
		for i := range inputs {
			mean[i][j] = mu.AtVec(i)
			std[i][j] = math.Sqrt(variance.AtVec(i))
		}
	}
	return mean, std, nil
}

// GPTrainer fits a Gaussian Process surrogate per output column with a
// Matérn 5/2 kernel and reports k-fold cross-validation metrics.
type GPTrainer struct {
	folds    int
	noiseVar float64
	logger   *zap.Logger
}

// NewGPTrainer creates a GP trainer with the given cross-validation
// fold count.
func NewGPTrainer(folds int) *GPTrainer {
	return &GPTrainer{
		folds:    folds,
		noiseVar: 1e-6, // small noise for numerical stability
		logger:   zap.NewNop(),
	}
}

// WithLogger routes the GP's numerical diagnostics to the given logger.
func (t *GPTrainer) WithLogger(logger *zap.Logger) *GPTrainer {
	t.logger = logger
	return t
}

func (t *GPTrainer) Name() string { return "gp" }

// Fit trains per-output GPs on the normalized dataset and attaches the
// cross-validated metric map.
func (t *GPTrainer) Fit(data *Dataset) (*Fitted, error) {
	X, Y, norm := data.NormalizedData()

	metrics, err := crossValidate(X, Y, t.folds, t.fitColumns)
	if err != nil {
		return nil, fmt.Errorf("gp: cross-validation failed: %w", err)
	}

	predictor, err := t.fitColumns(X, Y)
	if err != nil {
		return nil, fmt.Errorf("gp: final fit failed: %w", err)
	}

	return &Fitted{
		Name:      t.Name(),
		Predictor: predictor,
		Metrics:   metrics,
		Norm:      norm,
	}, nil
}

// fitColumns conditions one gp per output column.
func (t *GPTrainer) fitColumns(X, Y [][]float64) (Predictor, error) {
	if len(X) == 0 {
		return nil, errors.New("gp: empty training set")
	}
	dimIn := len(X[0])
	dimOut := len(Y[0])

	Xmat := rowsToDense(X, dimIn)
	models := make([]*gp, dimOut)
	for j := 0; j < dimOut; j++ {
		y := mat.NewVecDense(len(Y), nil)
		for i := range Y {
			y.SetVec(i, Y[i][j])
		}
		model := newGP(kernels.NewMatern52Kernel(0.5, 1.0), t.noiseVar, t.logger)
		if err := model.fit(Xmat, y); err != nil {
			return nil, fmt.Errorf("output column %d: %w", j, err)
		}
		models[j] = model
	}
	return &gpPredictor{models: models, dimIn: dimIn}, nil
}

func rowsToDense(rows [][]float64, cols int) *mat.Dense {
	m := mat.NewDense(len(rows), cols, nil)
	for i, r := range rows {
		m.SetRow(i, r)
	}
	return m
}
