// Package sampling decides how many new sample points to draw and where.
// The static design is a seeded Latin Hypercube over the input bounds;
// the adaptive design scores a candidate pool by the current surrogate's
// predictive uncertainty. Both are pure functions of their inputs: the
// caller owns the sample database and appends results after evaluation.
package sampling

import (
	"math/rand"
)

// Policy holds the batch-size growth parameters.
type Policy struct {
	// Base is the batch size for a one-dimensional problem with no data.
	Base int
	// PerDim adds samples per input dimension.
	PerDim int
	// MaxBatch caps the policy. Growth with sample count is geometric-ish
	// and must be bounded explicitly.
	MaxBatch int
}

// BatchSize returns the number of new samples to draw given the number
// of already evaluated samples and the input dimension. The batch grows
// with both; the cap always wins.
func (p Policy) BatchSize(existing, dimIn int) int {
	n := p.Base + p.PerDim*dimIn
	if existing > 0 {
		// Later batches are denser: half the current database size,
		// but never less than the initial batch.
		if grow := existing / 2; grow > n {
			n = grow
		}
	}
	if n > p.MaxBatch {
		n = p.MaxBatch
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Static produces n points as a Latin Hypercube design over bounds.
// The design is deterministic for identical (n, existing, bounds, seed):
// the effective seed folds in the existing sample count so consecutive
// batches differ while a re-run reproduces them exactly.
func Static(n, existing int, bounds [][2]float64, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed + int64(existing)))
	return latinHypercube(n, bounds, rng)
}

// latinHypercube generates a stratified design: each dimension is cut
// into n equal slices, one point per slice, with the slice order shuffled
// independently per dimension.
func latinHypercube(n int, bounds [][2]float64, rng *rand.Rand) [][]float64 {
	nDims := len(bounds)
	samples := make([][]float64, n)
	for j := range samples {
		samples[j] = make([]float64, nDims)
	}

	for i := 0; i < nDims; i++ {
		// Stratified positions in [0,1)
		pos := make([]float64, n)
		for j := 0; j < n; j++ {
			pos[j] = (float64(j) + rng.Float64()) / float64(n)
		}
		rng.Shuffle(n, func(k, l int) {
			pos[k], pos[l] = pos[l], pos[k]
		})

		lo, hi := bounds[i][0], bounds[i][1]
		for j := 0; j < n; j++ {
			samples[j][i] = lo + pos[j]*(hi-lo)
		}
	}

	return samples
}
