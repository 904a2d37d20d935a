package optimizer

import (
	"context"
	"math"
	"math/rand"
	"sort"
)

// NSGA2 is an elitist non-dominated-sorting genetic algorithm with
// simulated binary crossover, polynomial mutation and feasibility-first
// constraint handling. It returns the feasible first front after the
// generation budget, or nil when nothing feasible was found.
type NSGA2 struct{}

func (n *NSGA2) Name() string { return "nsga2" }

const (
	sbxEta      = 15.0
	mutationEta = 20.0
	crossoverP  = 0.9
)

type individual struct {
	x   []float64
	out []float64 // full output vector, objectives first
	cv  float64   // total constraint violation, 0 when feasible
}

func (n *NSGA2) Solve(ctx context.Context, p *Problem, term Termination) (*Result, error) {
	rng := rand.New(rand.NewSource(term.Seed))
	popSize := term.Population
	if popSize%2 != 0 {
		popSize++
	}

	pop, err := n.evaluate(ctx, p, randomPopulation(popSize, p.Bounds, rng))
	if err != nil {
		return nil, err
	}

	for gen := 0; gen < term.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ranks, crowding := rankAndCrowd(pop, p.NObjectives)

		offspringX := make([][]float64, 0, popSize)
		for len(offspringX) < popSize {
			p1 := tournament(pop, ranks, crowding, rng)
			p2 := tournament(pop, ranks, crowding, rng)
			c1, c2 := sbxCrossover(pop[p1].x, pop[p2].x, p.Bounds, rng)
			polynomialMutation(c1, p.Bounds, rng)
			polynomialMutation(c2, p.Bounds, rng)
			offspringX = append(offspringX, c1, c2)
		}

		offspring, err := n.evaluate(ctx, p, offspringX)
		if err != nil {
			return nil, err
		}

		// Elitist environmental selection over parents plus offspring.
		combined := append(append([]individual{}, pop...), offspring...)
		pop = selectSurvivors(combined, popSize, p.NObjectives)
	}

	// Final front: feasible, non-dominated candidates.
	ranks, _ := rankAndCrowd(pop, p.NObjectives)
	var front []individual
	for i, ind := range pop {
		if ranks[i] == 0 && ind.cv == 0 {
			front = append(front, ind)
		}
	}
	if len(front) == 0 {
		return nil, nil
	}

	res := &Result{
		X: make([][]float64, len(front)),
		F: make([][]float64, len(front)),
	}
	for i, ind := range front {
		res.X[i] = p.ToPhysicalIn(append([]float64(nil), ind.x...))
		res.F[i] = p.ToPhysicalOut(append([]float64(nil), ind.out...))[:p.NObjectives]
	}
	return res, nil
}

// evaluate runs the batch objective once for the whole generation.
func (n *NSGA2) evaluate(ctx context.Context, p *Problem, xs [][]float64) ([]individual, error) {
	outs, err := p.Objective(ctx, xs)
	if err != nil {
		return nil, err
	}
	pop := make([]individual, len(xs))
	for i := range xs {
		cv := 0.0
		for _, g := range outs[i][p.NObjectives : p.NObjectives+p.NConstraints] {
			if g > 0 {
				cv += g
			}
		}
		pop[i] = individual{x: xs[i], out: outs[i], cv: cv}
	}
	return pop, nil
}

func randomPopulation(n int, bounds [][2]float64, rng *rand.Rand) [][]float64 {
	pop := make([][]float64, n)
	for i := range pop {
		x := make([]float64, len(bounds))
		for j, b := range bounds {
			x[j] = b[0] + rng.Float64()*(b[1]-b[0])
		}
		pop[i] = x
	}
	return pop
}

// dominates implements constrained Pareto dominance: feasible beats
// infeasible, less violation beats more, otherwise objective dominance.
func dominates(a, b individual, nObj int) bool {
	if a.cv == 0 && b.cv > 0 {
		return true
	}
	if a.cv > 0 && b.cv == 0 {
		return false
	}
	if a.cv > 0 && b.cv > 0 {
		return a.cv < b.cv
	}
	better := false
	for j := 0; j < nObj; j++ {
		if a.out[j] > b.out[j] {
			return false
		}
		if a.out[j] < b.out[j] {
			better = true
		}
	}
	return better
}

// rankAndCrowd performs fast non-dominated sorting and computes the
// crowding distance within each front.
func rankAndCrowd(pop []individual, nObj int) (ranks []int, crowding []float64) {
	n := len(pop)
	ranks = make([]int, n)
	crowding = make([]float64, n)

	dominatedBy := make([][]int, n)
	domCount := make([]int, n)
	var current []int

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if dominates(pop[i], pop[j], nObj) {
				dominatedBy[i] = append(dominatedBy[i], j)
			} else if dominates(pop[j], pop[i], nObj) {
				domCount[i]++
			}
		}
		if domCount[i] == 0 {
			ranks[i] = 0
			current = append(current, i)
		}
	}

	rank := 0
	for len(current) > 0 {
		crowdFront(pop, current, nObj, crowding)
		var next []int
		for _, i := range current {
			for _, j := range dominatedBy[i] {
				domCount[j]--
				if domCount[j] == 0 {
					ranks[j] = rank + 1
					next = append(next, j)
				}
			}
		}
		rank++
		current = next
	}
	return ranks, crowding
}

func crowdFront(pop []individual, front []int, nObj int, crowding []float64) {
	if len(front) <= 2 {
		for _, i := range front {
			crowding[i] = math.Inf(1)
		}
		return
	}
	for j := 0; j < nObj; j++ {
		sorted := append([]int(nil), front...)
		sort.Slice(sorted, func(a, b int) bool {
			return pop[sorted[a]].out[j] < pop[sorted[b]].out[j]
		})
		lo := pop[sorted[0]].out[j]
		hi := pop[sorted[len(sorted)-1]].out[j]
		crowding[sorted[0]] = math.Inf(1)
		crowding[sorted[len(sorted)-1]] = math.Inf(1)
		if hi == lo {
			continue
		}
		for k := 1; k < len(sorted)-1; k++ {
			crowding[sorted[k]] += (pop[sorted[k+1]].out[j] - pop[sorted[k-1]].out[j]) / (hi - lo)
		}
	}
}

// tournament picks the better of two random individuals by rank, then
// crowding distance.
func tournament(pop []individual, ranks []int, crowding []float64, rng *rand.Rand) int {
	a := rng.Intn(len(pop))
	b := rng.Intn(len(pop))
	if ranks[a] < ranks[b] {
		return a
	}
	if ranks[b] < ranks[a] {
		return b
	}
	if crowding[a] > crowding[b] {
		return a
	}
	return b
}

func selectSurvivors(pop []individual, popSize, nObj int) []individual {
	ranks, crowding := rankAndCrowd(pop, nObj)
	order := make([]int, len(pop))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if ranks[order[a]] != ranks[order[b]] {
			return ranks[order[a]] < ranks[order[b]]
		}
		return crowding[order[a]] > crowding[order[b]]
	})
	survivors := make([]individual, popSize)
	for i := 0; i < popSize; i++ {
		survivors[i] = pop[order[i]]
	}
	return survivors
}

// sbxCrossover performs simulated binary crossover on two parents.
func sbxCrossover(p1, p2 []float64, bounds [][2]float64, rng *rand.Rand) ([]float64, []float64) {
	d := len(p1)
	c1 := append([]float64(nil), p1...)
	c2 := append([]float64(nil), p2...)
	if rng.Float64() > crossoverP {
		return c1, c2
	}
	for j := 0; j < d; j++ {
		if rng.Float64() > 0.5 || math.Abs(p1[j]-p2[j]) < 1e-14 {
			continue
		}
		u := rng.Float64()
		var beta float64
		if u <= 0.5 {
			beta = math.Pow(2*u, 1/(sbxEta+1))
		} else {
			beta = math.Pow(1/(2*(1-u)), 1/(sbxEta+1))
		}
		c1[j] = clamp(0.5*((1+beta)*p1[j]+(1-beta)*p2[j]), bounds[j])
		c2[j] = clamp(0.5*((1-beta)*p1[j]+(1+beta)*p2[j]), bounds[j])
	}
	return c1, c2
}

// polynomialMutation mutates each gene with probability 1/d.
func polynomialMutation(x []float64, bounds [][2]float64, rng *rand.Rand) {
	d := len(x)
	pm := 1.0 / float64(d)
	for j := 0; j < d; j++ {
		if rng.Float64() > pm {
			continue
		}
		u := rng.Float64()
		var delta float64
		if u < 0.5 {
			delta = math.Pow(2*u, 1/(mutationEta+1)) - 1
		} else {
			delta = 1 - math.Pow(2*(1-u), 1/(mutationEta+1))
		}
		x[j] = clamp(x[j]+delta*(bounds[j][1]-bounds[j][0]), bounds[j])
	}
}

func clamp(v float64, b [2]float64) float64 {
	return math.Max(b[0], math.Min(v, b[1]))
}
