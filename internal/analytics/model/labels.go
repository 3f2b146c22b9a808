// Package model trains, persists and applies the two telemetry models: a
// random forest that estimates the risk of imminent failure and an isolation
// forest that flags anomalous samples.
package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/kubilitics/kubilitics-pdsa/internal/analytics/ml"
)

// LabelWeights weigh each feature column when deriving pseudo-labels.
// CPU and memory dominate; I/O and errors contribute equally.
var LabelWeights = []float64{0.35, 0.35, 0.1, 0.1, 0.1}

// LabelQuantile is the share of samples labelled healthy.
const LabelQuantile = 0.8

// PseudoLabels derives binary risk labels from a normalized feature matrix.
// Each row is scored as X·LabelWeights and rows scoring at or above the
// LabelQuantile quantile are labelled 1.
func PseudoLabels(x mat.Matrix) []int {
	rows, cols := x.Dims()
	if rows == 0 {
		return nil
	}
	w := make([]float64, cols)
	copy(w, LabelWeights)

	scores := mat.NewVecDense(rows, nil)
	scores.MulVec(x, mat.NewVecDense(cols, w))

	raw := scores.RawVector().Data
	thresh := ml.Quantile(raw, LabelQuantile)
	labels := make([]int, rows)
	for i, s := range raw {
		if s >= thresh {
			labels[i] = 1
		}
	}
	return labels
}
