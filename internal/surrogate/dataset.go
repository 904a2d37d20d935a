package surrogate

import (
	"fmt"
)

// Dataset is an ordered, append-only table of evaluated sample points in
// physical units. RangeIn comes from the problem bounds; RangeOut is
// observed from the data and defines the output normalization.
type Dataset struct {
	Inputs   [][]float64
	Outputs  [][]float64
	RangeIn  [][2]float64
	RangeOut [][2]float64
}

// NewDataset builds a dataset over the given input ranges and derives
// the output ranges from the data itself.
func NewDataset(inputs, outputs [][]float64, rangeIn [][2]float64) (*Dataset, error) {
	if len(inputs) != len(outputs) {
		return nil, fmt.Errorf("surrogate: %d inputs but %d outputs", len(inputs), len(outputs))
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("surrogate: empty dataset")
	}

	dimOut := len(outputs[0])
	rangeOut := make([][2]float64, dimOut)
	for j := 0; j < dimOut; j++ {
		lo, hi := outputs[0][j], outputs[0][j]
		for _, y := range outputs {
			if y[j] < lo {
				lo = y[j]
			}
			if y[j] > hi {
				hi = y[j]
			}
		}
		if hi == lo {
			// Constant column: widen so normalization stays invertible.
			hi = lo + 1
		}
		rangeOut[j] = [2]float64{lo, hi}
	}

	return &Dataset{
		Inputs:   inputs,
		Outputs:  outputs,
		RangeIn:  rangeIn,
		RangeOut: rangeOut,
	}, nil
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.Inputs)
}

// Normalization carries the forward and inverse transforms between
// physical units and the [-1, 1] training space. It is attached to every
// fitted surrogate so optimization over the surrogate can run in
// normalized space and still report results in physical units.
type Normalization struct {
	RangeIn  [][2]float64
	RangeOut [][2]float64
}

func (n *Normalization) NormalizeIn(x []float64) []float64 {
	return scaleTo(x, n.RangeIn)
}

func (n *Normalization) DenormalizeIn(x []float64) []float64 {
	return scaleFrom(x, n.RangeIn)
}

func (n *Normalization) NormalizeOut(y []float64) []float64 {
	return scaleTo(y, n.RangeOut)
}

func (n *Normalization) DenormalizeOut(y []float64) []float64 {
	return scaleFrom(y, n.RangeOut)
}

// NormalizedData returns the dataset scaled to [-1, 1] in both inputs
// and outputs, together with the transform that produced it.
func (d *Dataset) NormalizedData() ([][]float64, [][]float64, *Normalization) {
	norm := &Normalization{RangeIn: d.RangeIn, RangeOut: d.RangeOut}
	X := make([][]float64, len(d.Inputs))
	Y := make([][]float64, len(d.Outputs))
	for i := range d.Inputs {
		X[i] = norm.NormalizeIn(d.Inputs[i])
		Y[i] = norm.NormalizeOut(d.Outputs[i])
	}
	return X, Y, norm
}

// scaleTo maps v componentwise from ranges into [-1, 1].
func scaleTo(v []float64, ranges [][2]float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		lo, hi := ranges[i][0], ranges[i][1]
		out[i] = 2*(v[i]-lo)/(hi-lo) - 1
	}
	return out
}

// scaleFrom maps v componentwise from [-1, 1] back into ranges.
func scaleFrom(v []float64, ranges [][2]float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		lo, hi := ranges[i][0], ranges[i][1]
		out[i] = lo + (v[i]+1)/2*(hi-lo)
	}
	return out
}
