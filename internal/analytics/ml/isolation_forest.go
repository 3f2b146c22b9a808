package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
)

// defaultAnomalyThreshold is used when no contamination was configured.
const defaultAnomalyThreshold = 0.6

// IsolationTree represents a single tree in the Isolation Forest
type IsolationTree struct {
	Feature int            `json:"f,omitempty"`
	Value   float64        `json:"v,omitempty"`
	Left    *IsolationTree `json:"l,omitempty"`
	Right   *IsolationTree `json:"r,omitempty"`
	Size    int            `json:"n"`
	Leaf    bool           `json:"leaf,omitempty"`
}

// IsolationForest implements the Isolation Forest algorithm for anomaly detection
type IsolationForest struct {
	trees         []*IsolationTree
	numTrees      int
	subSampleSize int
	maxDepth      int
	sampleSize    int
	numFeatures   int
	threshold     float64
	opts          options
}

// DataPoint represents a multi-dimensional data point
type DataPoint struct {
	Features []float64
	Label    string // Optional label for debugging
}

// AnomalyResult contains the anomaly score and details
type AnomalyResult struct {
	Score       float64 // 0.0 to 1.0, higher = more anomalous
	IsAnomaly   bool
	PathLength  float64
	Explanation string
	Severity    Severity // low, medium, high, critical
}

// Anomaly pairs a point with the result that flagged it.
type Anomaly struct {
	Point  DataPoint
	Result AnomalyResult
}

// NewIsolationForest creates a new Isolation Forest with specified parameters.
// A maxDepth of zero means ceil(log2(sample size)).
func NewIsolationForest(numTrees, subSampleSize, maxDepth int, opts ...Option) *IsolationForest {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &IsolationForest{
		numTrees:      numTrees,
		subSampleSize: subSampleSize,
		maxDepth:      maxDepth,
		threshold:     defaultAnomalyThreshold,
		opts:          o,
	}
}

// Threshold returns the score above which a point is reported as anomalous.
func (f *IsolationForest) Threshold() float64 { return f.threshold }

// NumFeatures returns the dimensionality seen during Fit.
func (f *IsolationForest) NumFeatures() int { return f.numFeatures }

// Fitted reports whether the forest holds any trees.
func (f *IsolationForest) Fitted() bool { return len(f.trees) > 0 }

// Fit trains the Isolation Forest on the given data.
//
// Trees are built concurrently, each from its own random source derived from
// the configured seed, so the result does not depend on scheduling. When a
// contamination is configured the decision threshold becomes the (1 - c)
// quantile of the training scores.
func (f *IsolationForest) Fit(data []DataPoint) error {
	if len(data) == 0 {
		return nil
	}
	if f.numTrees <= 0 || f.subSampleSize <= 0 {
		return errors.New("isolation forest needs positive tree count and sub-sample size")
	}
	if c := f.opts.contamination; c < 0 || c > 0.5 {
		return errors.New("contamination must be in [0, 0.5]")
	}
	f.numFeatures = len(data[0].Features)
	for _, dp := range data {
		if len(dp.Features) != f.numFeatures {
			return errors.New("data points have inconsistent feature counts")
		}
	}

	f.sampleSize = f.subSampleSize
	if f.sampleSize > len(data) {
		f.sampleSize = len(data)
	}
	depth := f.maxDepth
	if depth <= 0 {
		depth = int(math.Ceil(math.Log2(float64(f.sampleSize))))
	}

	master := rand.New(rand.NewSource(f.opts.seed))
	seeds := make([]int64, f.numTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*IsolationTree, f.numTrees)
	var g errgroup.Group
	g.SetLimit(f.opts.workers)
	for i := range trees {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seeds[i]))
			trees[i] = buildIsolationTree(rng, sampleData(rng, data, f.sampleSize), 0, depth)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.trees = trees

	f.threshold = defaultAnomalyThreshold
	if f.opts.contamination > 0 {
		scores := make([]float64, len(data))
		for i, dp := range data {
			scores[i] = f.score(dp)
		}
		f.threshold = Quantile(scores, 1-f.opts.contamination)
	}
	return nil
}

// Predict calculates the anomaly score for a single data point
func (f *IsolationForest) Predict(point DataPoint) AnomalyResult {
	if len(f.trees) == 0 {
		return AnomalyResult{
			Score:       0.5,
			IsAnomaly:   false,
			Explanation: "Model not trained",
		}
	}

	avgPathLength := f.meanPathLength(point)
	score := f.scoreFromPath(avgPathLength)

	return AnomalyResult{
		Score:       score,
		IsAnomaly:   score > f.threshold,
		PathLength:  avgPathLength,
		Explanation: explainScore(score),
		Severity:    scoreSeverity(score),
	}
}

func (f *IsolationForest) score(point DataPoint) float64 {
	return f.scoreFromPath(f.meanPathLength(point))
}

func (f *IsolationForest) meanPathLength(point DataPoint) float64 {
	total := 0.0
	for _, tree := range f.trees {
		total += pathLength(tree, point, 0)
	}
	return total / float64(len(f.trees))
}

// scoreFromPath computes 2^(-E[h(x)] / c(n)), where c(n) is the average path
// length of an unsuccessful search in a BST built from the sample size.
func (f *IsolationForest) scoreFromPath(avgPathLength float64) float64 {
	c := averagePathLength(f.sampleSize)
	if c == 0 {
		return 0.5
	}
	return math.Pow(2, -avgPathLength/c)
}

// sampleData draws size points without replacement.
func sampleData(rng *rand.Rand, data []DataPoint, size int) []DataPoint {
	perm := rng.Perm(len(data))
	sample := make([]DataPoint, size)
	for i := 0; i < size; i++ {
		sample[i] = data[perm[i]]
	}
	return sample
}

// buildIsolationTree recursively builds an isolation tree
func buildIsolationTree(rng *rand.Rand, data []DataPoint, depth, maxDepth int) *IsolationTree {
	if len(data) <= 1 || depth >= maxDepth || allIdentical(data) {
		return &IsolationTree{Size: len(data), Leaf: true}
	}

	// Only features with a non-zero range can separate the points.
	numFeatures := len(data[0].Features)
	splitFeature := rng.Intn(numFeatures)
	minVal, maxVal := featureRange(data, splitFeature)
	for tries := 0; minVal == maxVal && tries < numFeatures; tries++ {
		splitFeature = (splitFeature + 1) % numFeatures
		minVal, maxVal = featureRange(data, splitFeature)
	}
	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	left, right := splitData(data, splitFeature, splitValue)
	if len(left) == 0 || len(right) == 0 {
		return &IsolationTree{Size: len(data), Leaf: true}
	}

	return &IsolationTree{
		Feature: splitFeature,
		Value:   splitValue,
		Left:    buildIsolationTree(rng, left, depth+1, maxDepth),
		Right:   buildIsolationTree(rng, right, depth+1, maxDepth),
		Size:    len(data),
	}
}

// pathLength calculates the path length for a data point in a tree
func pathLength(tree *IsolationTree, point DataPoint, currentDepth int) float64 {
	if tree.Leaf {
		// Add average path length for remaining points in leaf
		return float64(currentDepth) + averagePathLength(tree.Size)
	}

	if point.Features[tree.Feature] < tree.Value {
		return pathLength(tree.Left, point, currentDepth+1)
	}
	return pathLength(tree.Right, point, currentDepth+1)
}

// averagePathLength calculates the average path length of unsuccessful search in BST
func averagePathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}

	// c(n) = 2H(n-1) - (2(n-1)/n)
	return 2*harmonicNumber(n-1) - (2 * float64(n-1) / float64(n))
}

// harmonicNumber approximates H(n) as ln(n) + the Euler-Mascheroni constant.
func harmonicNumber(n int) float64 {
	return math.Log(float64(n)) + 0.5772156649
}

func allIdentical(data []DataPoint) bool {
	first := data[0].Features
	for i := 1; i < len(data); i++ {
		for j := range first {
			if math.Abs(data[i].Features[j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(data []DataPoint, feature int) (float64, float64) {
	minVal := data[0].Features[feature]
	maxVal := minVal
	for _, point := range data {
		val := point.Features[feature]
		if val < minVal {
			minVal = val
		}
		if val > maxVal {
			maxVal = val
		}
	}
	return minVal, maxVal
}

func splitData(data []DataPoint, feature int, splitValue float64) ([]DataPoint, []DataPoint) {
	var left, right []DataPoint
	for _, point := range data {
		if point.Features[feature] < splitValue {
			left = append(left, point)
		} else {
			right = append(right, point)
		}
	}
	return left, right
}

// explainScore provides a human-readable explanation of the anomaly score
func explainScore(score float64) string {
	switch {
	case score > 0.7:
		return "Strong anomaly - significantly different from normal patterns"
	case score > 0.6:
		return "Likely anomaly - deviates from normal behavior"
	case score > 0.5:
		return "Borderline - slightly unusual but within normal variation"
	default:
		return "Normal - consistent with expected patterns"
	}
}

// BatchPredict predicts anomaly scores for multiple data points
func (f *IsolationForest) BatchPredict(points []DataPoint) []AnomalyResult {
	results := make([]AnomalyResult, len(points))
	for i, point := range points {
		results[i] = f.Predict(point)
	}
	return results
}

// GetAnomalies returns the points scoring above threshold, highest score first.
func (f *IsolationForest) GetAnomalies(points []DataPoint, threshold float64) []Anomaly {
	anomalies := make([]Anomaly, 0)
	for _, point := range points {
		result := f.Predict(point)
		if result.Score > threshold {
			anomalies = append(anomalies, Anomaly{Point: point, Result: result})
		}
	}

	sort.Slice(anomalies, func(i, j int) bool {
		return anomalies[i].Result.Score > anomalies[j].Result.Score
	})
	return anomalies
}

// IsolationForestSnapshot is the serializable form of a fitted IsolationForest.
type IsolationForestSnapshot struct {
	NumTrees      int              `json:"num_trees"`
	SubSampleSize int              `json:"sub_sample_size"`
	MaxDepth      int              `json:"max_depth"`
	SampleSize    int              `json:"sample_size"`
	NumFeatures   int              `json:"num_features"`
	Contamination float64          `json:"contamination"`
	Threshold     float64          `json:"threshold"`
	Seed          int64            `json:"seed"`
	Trees         []*IsolationTree `json:"trees"`
}

// Snapshot captures the fitted state of the forest.
func (f *IsolationForest) Snapshot() *IsolationForestSnapshot {
	return &IsolationForestSnapshot{
		NumTrees:      f.numTrees,
		SubSampleSize: f.subSampleSize,
		MaxDepth:      f.maxDepth,
		SampleSize:    f.sampleSize,
		NumFeatures:   f.numFeatures,
		Contamination: f.opts.contamination,
		Threshold:     f.threshold,
		Seed:          f.opts.seed,
		Trees:         f.trees,
	}
}

// IsolationForestFromSnapshot restores a forest captured with Snapshot.
func IsolationForestFromSnapshot(s *IsolationForestSnapshot) (*IsolationForest, error) {
	if s == nil || len(s.Trees) == 0 {
		return nil, errors.New("isolation forest snapshot has no trees")
	}
	for _, t := range s.Trees {
		if t == nil {
			return nil, errors.New("isolation forest snapshot contains an empty tree")
		}
	}
	f := NewIsolationForest(s.NumTrees, s.SubSampleSize, s.MaxDepth,
		WithSeed(s.Seed), WithContamination(s.Contamination))
	f.sampleSize = s.SampleSize
	f.numFeatures = s.NumFeatures
	f.threshold = s.Threshold
	f.trees = s.Trees
	return f, nil
}
