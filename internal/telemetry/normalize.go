package telemetry

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// rangeEpsilon is the smallest column range treated as non-constant.
const rangeEpsilon = 1e-9

// Normalize applies per-column min-max scaling to x and returns a new matrix.
//
// Each value becomes (v - min) / (max - min). A column whose range is below
// rangeEpsilon is divided by 1 instead, so constant columns map to 0.
// Statistics come from x alone; nothing is carried between batches.
func Normalize(x *mat.Dense) (*mat.Dense, error) {
	if x == nil || x.IsEmpty() {
		return nil, ErrEmptyDataset
	}
	rows, cols := x.Dims()
	out := mat.NewDense(rows, cols, nil)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		lo, hi := floats.Min(col), floats.Max(col)
		denom := hi - lo
		if denom < rangeEpsilon {
			denom = 1.0
		}
		for i, v := range col {
			col[i] = (v - lo) / denom
		}
		out.SetCol(j, col)
	}
	return out, nil
}
