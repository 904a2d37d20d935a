package sampling

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/copyleftdev/SAMO/internal/surrogate"
)

// poolFactor sizes the candidate pool relative to the requested batch.
const poolFactor = 20

// Adaptive proposes batchSize new points informed by the current
// surrogate and training data. Candidates come from a fresh Latin
// Hypercube pool; each is scored by expected improvement on the first
// objective plus the surrogate's mean predictive uncertainty. Families
// without predictive uncertainty fall back to a maximin-distance
// criterion over the pool. Pure function of its inputs.
func Adaptive(batchSize int, fitted *surrogate.Fitted, data *surrogate.Dataset, seed int64) ([][]float64, error) {
	rng := rand.New(rand.NewSource(seed + int64(data.Len())))
	pool := latinHypercube(batchSize*poolFactor, data.RangeIn, rng)

	normPool := make([][]float64, len(pool))
	for i, x := range pool {
		normPool[i] = fitted.Norm.NormalizeIn(x)
	}

	var scores []float64
	if up, ok := fitted.Predictor.(surrogate.UncertaintyPredictor); ok {
		mean, std, err := up.PredictStd(normPool)
		if err != nil {
			return nil, err
		}
		best := bestObserved(data, fitted.Norm)
		scores = make([]float64, len(pool))
		for i := range pool {
			var meanStd float64
			for _, s := range std[i] {
				meanStd += s
			}
			meanStd /= float64(len(std[i]))
			scores[i] = expectedImprovement(best, mean[i][0], std[i][0]) + meanStd
		}
	} else {
		normTrain := make([][]float64, data.Len())
		for i, x := range data.Inputs {
			normTrain[i] = fitted.Norm.NormalizeIn(x)
		}
		scores = make([]float64, len(pool))
		for i, x := range normPool {
			scores[i] = minDistance(x, normTrain)
		}
	}

	order := make([]int, len(pool))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	picked := make([][]float64, batchSize)
	for i := 0; i < batchSize; i++ {
		picked[i] = pool[order[i]]
	}
	return picked, nil
}

// bestObserved returns the lowest normalized first-objective value in
// the training data.
func bestObserved(data *surrogate.Dataset, norm *surrogate.Normalization) float64 {
	best := math.Inf(1)
	for _, y := range data.Outputs {
		v := norm.NormalizeOut(y)[0]
		if v < best {
			best = v
		}
	}
	return best
}

// expectedImprovement computes EI for minimization:
// EI = improvement*Phi(z) + sigma*phi(z) with z = improvement/sigma.
func expectedImprovement(best, mu, sigma float64) float64 {
	improvement := best - mu
	if sigma <= 1e-10 {
		return math.Max(0, improvement)
	}
	z := improvement / sigma
	stdNormal := distuv.UnitNormal
	return improvement*stdNormal.CDF(z) + sigma*stdNormal.Prob(z)
}

func minDistance(x []float64, points [][]float64) float64 {
	best := math.Inf(1)
	for _, p := range points {
		var sum float64
		for i := range x {
			d := x[i] - p[i]
			sum += d * d
		}
		if sum < best {
			best = sum
		}
	}
	return math.Sqrt(best)
}
