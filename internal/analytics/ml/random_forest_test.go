package ml

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// separable labels rows positive when x0 + x1 > 1.
func separable(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		X[i] = []float64{rng.Float64(), rng.Float64(), rng.Float64()}
		if X[i][0]+X[i][1] > 1 {
			y[i] = 1
		}
	}
	return X, y
}

func TestRandomForest_LearnsSeparableData(t *testing.T) {
	X, y := separable(400, 1)
	forest := NewRandomForest(60, 6, WithSeed(42))
	require.NoError(t, forest.Fit(X, y))
	require.True(t, forest.Fitted())

	assert.Greater(t, forest.PredictProba([]float64{0.95, 0.95, 0.5}), 0.8)
	assert.Less(t, forest.PredictProba([]float64{0.05, 0.05, 0.5}), 0.2)

	testX, testY := separable(200, 2)
	correct := 0
	for i, x := range testX {
		pred := 0
		if forest.PredictProba(x) >= 0.5 {
			pred = 1
		}
		if pred == testY[i] {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(len(testX)), 0.85)
}

func TestRandomForest_SingleClass(t *testing.T) {
	X, _ := separable(50, 3)

	zeros := make([]int, len(X))
	forest := NewRandomForest(10, 4, WithSeed(1))
	require.NoError(t, forest.Fit(X, zeros))
	assert.Equal(t, 0.0, forest.PredictProba([]float64{0.9, 0.9, 0.9}))

	ones := make([]int, len(X))
	for i := range ones {
		ones[i] = 1
	}
	forest = NewRandomForest(10, 4, WithSeed(1))
	require.NoError(t, forest.Fit(X, ones))
	assert.Equal(t, 1.0, forest.PredictProba([]float64{0.1, 0.1, 0.1}))
}

func TestRandomForest_FitErrors(t *testing.T) {
	tests := []struct {
		name string
		X    [][]float64
		y    []int
	}{
		{"empty", nil, nil},
		{"length mismatch", [][]float64{{1}, {2}}, []int{0}},
		{"ragged rows", [][]float64{{1, 2}, {3}}, []int{0, 1}},
		{"non binary label", [][]float64{{1}, {2}}, []int{0, 2}},
		{"no features", [][]float64{{}, {}}, []int{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forest := NewRandomForest(5, 3)
			assert.Error(t, forest.Fit(tt.X, tt.y))
			assert.False(t, forest.Fitted())
		})
	}
}

func TestRandomForest_UnfittedPredictsZero(t *testing.T) {
	assert.Equal(t, 0.0, NewRandomForest(5, 3).PredictProba([]float64{1, 2, 3}))
}

func TestRandomForest_Deterministic(t *testing.T) {
	X, y := separable(200, 9)
	a := NewRandomForest(30, 5, WithSeed(7), WithWorkers(1))
	b := NewRandomForest(30, 5, WithSeed(7), WithWorkers(6))
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))

	for _, x := range X[:30] {
		assert.Equal(t, a.PredictProba(x), b.PredictProba(x))
	}
}

func TestRandomForest_ProbabilityInUnitRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 40).Draw(rt, "n")
		X := make([][]float64, n)
		y := make([]int, n)
		for i := range X {
			X[i] = []float64{
				rapid.Float64Range(0, 1).Draw(rt, "x0"),
				rapid.Float64Range(0, 1).Draw(rt, "x1"),
			}
			y[i] = rapid.IntRange(0, 1).Draw(rt, "y")
		}
		forest := NewRandomForest(5, 4, WithSeed(rapid.Int64().Draw(rt, "seed")))
		if err := forest.Fit(X, y); err != nil {
			rt.Fatalf("Fit failed: %v", err)
		}
		p := forest.PredictProba([]float64{
			rapid.Float64Range(-1, 2).Draw(rt, "q0"),
			rapid.Float64Range(-1, 2).Draw(rt, "q1"),
		})
		if p < 0 || p > 1 || math.IsNaN(p) {
			rt.Fatalf("probability %v out of [0,1]", p)
		}
	})
}

func TestMidpoint(t *testing.T) {
	assert.Equal(t, 1.5, midpoint(1, 2))
	next := math.Nextafter(1, 2)
	assert.Equal(t, 1.0, midpoint(1, next), "adjacent floats split on the lower value")
}

func TestGini(t *testing.T) {
	assert.Equal(t, 0.0, gini(0, 10))
	assert.Equal(t, 0.0, gini(10, 10))
	assert.Equal(t, 0.5, gini(5, 10))
}

func TestRandomForest_SnapshotRestore(t *testing.T) {
	X, y := separable(150, 4)
	forest := NewRandomForest(20, 6, WithSeed(42))
	require.NoError(t, forest.Fit(X, y))

	raw, err := json.Marshal(forest.Snapshot())
	require.NoError(t, err)

	var snap RandomForestSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	restored, err := RandomForestFromSnapshot(&snap)
	require.NoError(t, err)

	assert.Equal(t, 3, restored.NumFeatures())
	for _, x := range X[:25] {
		assert.InDelta(t, forest.PredictProba(x), restored.PredictProba(x), 1e-12)
	}

	_, err = RandomForestFromSnapshot(nil)
	assert.Error(t, err)
}

func TestQuantile(t *testing.T) {
	assert.True(t, math.IsNaN(Quantile(nil, 0.5)))

	values := []float64{4, 1, 3, 2, 5}
	assert.Equal(t, 3.0, Quantile(values, 0.5))
	assert.InDelta(t, 4.2, Quantile(values, 0.8), 1e-12)
	assert.Equal(t, 1.0, Quantile(values, 0))
	assert.Equal(t, 5.0, Quantile(values, 1))
	assert.Equal(t, []float64{4, 1, 3, 2, 5}, values, "input is not reordered")

	assert.InDelta(t, 7.5, Quantile([]float64{0, 10}, 0.75), 1e-12)
}
