package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/kubilitics/kubilitics-pdsa/internal/analytics/ml"
	"github.com/kubilitics/kubilitics-pdsa/internal/telemetry"
)

// ErrModelsNotTrained is returned when inference is requested before both
// models have been trained and saved.
var ErrModelsNotTrained = errors.New("models not trained")

// Params are the training hyper-parameters.
type Params struct {
	RiskTrees         int     `json:"risk_trees"`
	RiskMaxDepth      int     `json:"risk_max_depth"`
	AnomalyTrees      int     `json:"anomaly_trees"`
	AnomalySampleSize int     `json:"anomaly_sample_size"`
	Contamination     float64 `json:"contamination"`
	Seed              int64   `json:"seed"`
}

// DefaultParams returns the standard training configuration.
func DefaultParams() Params {
	return Params{
		RiskTrees:         150,
		RiskMaxDepth:      6,
		AnomalyTrees:      150,
		AnomalySampleSize: 256,
		Contamination:     0.1,
		Seed:              42,
	}
}

// withDefaults fills zero fields from DefaultParams.
func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.RiskTrees <= 0 {
		p.RiskTrees = d.RiskTrees
	}
	if p.RiskMaxDepth <= 0 {
		p.RiskMaxDepth = d.RiskMaxDepth
	}
	if p.AnomalyTrees <= 0 {
		p.AnomalyTrees = d.AnomalyTrees
	}
	if p.AnomalySampleSize <= 0 {
		p.AnomalySampleSize = d.AnomalySampleSize
	}
	if p.Contamination <= 0 {
		p.Contamination = d.Contamination
	}
	return p
}

// Metadata describes a training run.
type Metadata struct {
	TrainedAt        time.Time `json:"trained_at"`
	Samples          int       `json:"samples"`
	PositiveLabels   int       `json:"positive_labels"`
	AnomalyThreshold float64   `json:"anomaly_threshold"`
	Params           Params    `json:"params"`
}

// Models holds a trained risk classifier and anomaly detector.
type Models struct {
	Risk    *ml.RandomForest
	Anomaly *ml.IsolationForest
	Meta    Metadata
}

// Train fits both models on the normalized matrix x. A nil y derives labels
// with PseudoLabels. The two models are fitted concurrently.
func Train(ctx context.Context, x *mat.Dense, y []int, p Params) (*Models, error) {
	if x == nil || x.IsEmpty() {
		return nil, telemetry.ErrEmptyDataset
	}
	p = p.withDefaults()
	rows, _ := x.Dims()
	if y == nil {
		y = PseudoLabels(x)
	}
	if len(y) != rows {
		return nil, fmt.Errorf("got %d labels for %d samples", len(y), rows)
	}

	data := telemetry.Rows(x)
	points := make([]ml.DataPoint, rows)
	for i, row := range data {
		points[i] = ml.DataPoint{Features: row}
	}

	risk := ml.NewRandomForest(p.RiskTrees, p.RiskMaxDepth, ml.WithSeed(p.Seed))
	anomaly := ml.NewIsolationForest(p.AnomalyTrees, p.AnomalySampleSize, 0,
		ml.WithSeed(p.Seed), ml.WithContamination(p.Contamination))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := risk.Fit(data, y); err != nil {
			return fmt.Errorf("fit risk model: %w", err)
		}
		return ctx.Err()
	})
	g.Go(func() error {
		if err := anomaly.Fit(points); err != nil {
			return fmt.Errorf("fit anomaly model: %w", err)
		}
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	positives := 0
	for _, v := range y {
		positives += v
	}
	return &Models{
		Risk:    risk,
		Anomaly: anomaly,
		Meta: Metadata{
			TrainedAt:        time.Now().UTC(),
			Samples:          rows,
			PositiveLabels:   positives,
			AnomalyThreshold: anomaly.Threshold(),
			Params:           p,
		},
	}, nil
}

// Predict scores every row of the normalized matrix x. Risk scores are the
// positive-class probability; anomaly flags are 1 for anomalous rows.
func Predict(m *Models, x mat.Matrix) ([]float64, []int, error) {
	if m == nil || m.Risk == nil || m.Anomaly == nil || !m.Risk.Fitted() || !m.Anomaly.Fitted() {
		return nil, nil, ErrModelsNotTrained
	}
	rows, cols := x.Dims()
	if cols != m.Risk.NumFeatures() || cols != m.Anomaly.NumFeatures() {
		return nil, nil, fmt.Errorf("input has %d features, models expect %d", cols, m.Risk.NumFeatures())
	}

	scores := make([]float64, rows)
	flags := make([]int, rows)
	for i := 0; i < rows; i++ {
		row := mat.Row(nil, i, x)
		scores[i] = m.Risk.PredictProba(row)
		if m.Anomaly.Predict(ml.DataPoint{Features: row}).IsAnomaly {
			flags[i] = 1
		}
	}
	return scores, flags, nil
}
