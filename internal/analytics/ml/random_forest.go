package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
)

// DecisionNode is a node of a CART classification tree. Leaves carry the
// fraction of positive samples that reached them during training.
type DecisionNode struct {
	Feature   int           `json:"f,omitempty"`
	Threshold float64       `json:"t,omitempty"`
	Left      *DecisionNode `json:"l,omitempty"`
	Right     *DecisionNode `json:"r,omitempty"`
	Prob      float64       `json:"p"`
	Leaf      bool          `json:"leaf,omitempty"`
}

// RandomForest is a bagged ensemble of binary CART trees split on Gini impurity.
type RandomForest struct {
	trees       []*DecisionNode
	numTrees    int
	maxDepth    int
	numFeatures int
	opts        options
}

// NewRandomForest creates a random forest classifier for 0/1 labels.
func NewRandomForest(numTrees, maxDepth int, opts ...Option) *RandomForest {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &RandomForest{
		numTrees: numTrees,
		maxDepth: maxDepth,
		opts:     o,
	}
}

// NumFeatures returns the dimensionality seen during Fit.
func (f *RandomForest) NumFeatures() int { return f.numFeatures }

// Fitted reports whether the forest holds any trees.
func (f *RandomForest) Fitted() bool { return len(f.trees) > 0 }

// Fit grows numTrees trees, each on a bootstrap sample of X.
func (f *RandomForest) Fit(X [][]float64, y []int) error {
	if len(X) == 0 {
		return errors.New("random forest needs at least one sample")
	}
	if len(X) != len(y) {
		return fmt.Errorf("sample count %d does not match label count %d", len(X), len(y))
	}
	if f.numTrees <= 0 || f.maxDepth <= 0 {
		return errors.New("random forest needs positive tree count and depth")
	}
	f.numFeatures = len(X[0])
	if f.numFeatures == 0 {
		return errors.New("samples have no features")
	}
	for i, row := range X {
		if len(row) != f.numFeatures {
			return fmt.Errorf("sample %d has %d features, want %d", i, len(row), f.numFeatures)
		}
		if y[i] != 0 && y[i] != 1 {
			return fmt.Errorf("label %d is %d, want 0 or 1", i, y[i])
		}
	}

	maxFeatures := f.opts.maxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Floor(math.Sqrt(float64(f.numFeatures))))
	}
	maxFeatures = max(1, min(maxFeatures, f.numFeatures))

	master := rand.New(rand.NewSource(f.opts.seed))
	seeds := make([]int64, f.numTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	trees := make([]*DecisionNode, f.numTrees)
	var g errgroup.Group
	g.SetLimit(f.opts.workers)
	for i := range trees {
		g.Go(func() error {
			b := &treeBuilder{
				X:           X,
				y:           y,
				maxDepth:    f.maxDepth,
				maxFeatures: maxFeatures,
				rng:         rand.New(rand.NewSource(seeds[i])),
			}
			trees[i] = b.build(b.bootstrap(), 0)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	f.trees = trees
	return nil
}

// PredictProba returns the mean positive-class probability over all trees.
func (f *RandomForest) PredictProba(x []float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	sum := 0.0
	for _, t := range f.trees {
		sum += t.predict(x)
	}
	return sum / float64(len(f.trees))
}

func (n *DecisionNode) predict(x []float64) float64 {
	for !n.Leaf {
		if x[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n.Prob
}

type treeBuilder struct {
	X           [][]float64
	y           []int
	maxDepth    int
	maxFeatures int
	rng         *rand.Rand
}

// bootstrap draws len(X) sample indices with replacement.
func (b *treeBuilder) bootstrap() []int {
	idx := make([]int, len(b.X))
	for i := range idx {
		idx[i] = b.rng.Intn(len(b.X))
	}
	return idx
}

func (b *treeBuilder) build(idx []int, depth int) *DecisionNode {
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}
	prob := float64(pos) / float64(len(idx))
	if depth >= b.maxDepth || len(idx) < 2 || pos == 0 || pos == len(idx) {
		return &DecisionNode{Prob: prob, Leaf: true}
	}

	feature, threshold, ok := b.bestSplit(idx, pos)
	if !ok {
		return &DecisionNode{Prob: prob, Leaf: true}
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &DecisionNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      b.build(left, depth+1),
		Right:     b.build(right, depth+1),
		Prob:      prob,
	}
}

// bestSplit evaluates maxFeatures randomly ordered features and returns the
// split with the lowest weighted Gini impurity. Constant features do not
// count toward maxFeatures, so a split is found whenever one exists.
func (b *treeBuilder) bestSplit(idx []int, pos int) (int, float64, bool) {
	n := float64(len(idx))
	bestImpurity := math.Inf(1)
	bestFeature, bestThreshold := -1, 0.0

	sorted := make([]int, len(idx))
	visited := 0
	for _, feature := range b.rng.Perm(len(b.X[0])) {
		if visited >= b.maxFeatures {
			break
		}
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool {
			return b.X[sorted[a]][feature] < b.X[sorted[c]][feature]
		})
		lo, hi := b.X[sorted[0]][feature], b.X[sorted[len(sorted)-1]][feature]
		if lo == hi {
			continue
		}
		visited++

		leftPos := 0
		for k := 0; k < len(sorted)-1; k++ {
			leftPos += b.y[sorted[k]]
			cur, next := b.X[sorted[k]][feature], b.X[sorted[k+1]][feature]
			if cur == next {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			impurity := (nl*gini(float64(leftPos), nl) + nr*gini(float64(pos-leftPos), nr)) / n
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = feature
				bestThreshold = midpoint(cur, next)
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

// gini is the impurity 2p(1-p) of a node with pos positives out of n.
func gini(pos, n float64) float64 {
	p := pos / n
	return 2 * p * (1 - p)
}

// midpoint returns a threshold strictly below b that separates a from b.
func midpoint(a, b float64) float64 {
	m := a + (b-a)/2
	if m >= b {
		return a
	}
	return m
}

// RandomForestSnapshot is the serializable form of a fitted RandomForest.
type RandomForestSnapshot struct {
	NumTrees    int             `json:"num_trees"`
	MaxDepth    int             `json:"max_depth"`
	NumFeatures int             `json:"num_features"`
	MaxFeatures int             `json:"max_features,omitempty"`
	Seed        int64           `json:"seed"`
	Trees       []*DecisionNode `json:"trees"`
}

// Snapshot captures the fitted state of the forest.
func (f *RandomForest) Snapshot() *RandomForestSnapshot {
	return &RandomForestSnapshot{
		NumTrees:    f.numTrees,
		MaxDepth:    f.maxDepth,
		NumFeatures: f.numFeatures,
		MaxFeatures: f.opts.maxFeatures,
		Seed:        f.opts.seed,
		Trees:       f.trees,
	}
}

// RandomForestFromSnapshot restores a forest captured with Snapshot.
func RandomForestFromSnapshot(s *RandomForestSnapshot) (*RandomForest, error) {
	if s == nil || len(s.Trees) == 0 {
		return nil, errors.New("random forest snapshot has no trees")
	}
	for _, t := range s.Trees {
		if t == nil {
			return nil, errors.New("random forest snapshot contains an empty tree")
		}
	}
	f := NewRandomForest(s.NumTrees, s.MaxDepth, WithSeed(s.Seed), WithMaxFeatures(s.MaxFeatures))
	f.numFeatures = s.NumFeatures
	f.trees = s.Trees
	return f, nil
}
