package ml

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand"
)

// RandomForest bags Gini CART trees grown on bootstrap samples with a random
// subset of sqrt(d) features tried at every split.
type RandomForest struct {
	nTrees   int
	maxDepth int
	seed     int64

	state forestState
}

type forestState struct {
	Fitted   bool
	Features int
	Trees    []*Tree
}

type ForestOption func(*RandomForest)

func WithForestTrees(n int) ForestOption    { return func(f *RandomForest) { f.nTrees = n } }
func WithForestMaxDepth(d int) ForestOption { return func(f *RandomForest) { f.maxDepth = d } }
func WithForestSeed(seed int64) ForestOption {
	return func(f *RandomForest) { f.seed = seed }
}

func NewRandomForest(opts ...ForestOption) *RandomForest {
	f := &RandomForest{nTrees: 100, maxDepth: 12, seed: DefaultSeed}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

var (
	_ Classifier  = (*RandomForest)(nil)
	_ Prober      = (*RandomForest)(nil)
	_ Persistable = (*RandomForest)(nil)
)

func (f *RandomForest) Fit(X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}

	n := len(X)
	a := make([]float64, n)
	b := make([]float64, n)
	for i, l := range y {
		a[i] = float64(l)
		b[i] = 1
	}

	maxFeatures := int(math.Sqrt(float64(d)))
	if maxFeatures < 1 {
		maxFeatures = 1
	}
	params := giniParams(f.maxDepth, maxFeatures)

	rng := rand.New(rand.NewSource(f.seed))
	trees := make([]*Tree, f.nTrees)
	idx := make([]int, n)
	for t := range trees {
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		trees[t] = buildTree(X, a, b, idx, params, rng)
	}

	f.state = forestState{Fitted: true, Features: d, Trees: trees}
	return nil
}

// PredictProba averages the positive-class share of the leaf each tree
// routes the row to.
func (f *RandomForest) PredictProba(X [][]float64) ([]float64, error) {
	if !f.state.Fitted {
		return nil, ErrNotFitted
	}
	if err := checkWidth(X, f.state.Features); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		var sum float64
		for _, t := range f.state.Trees {
			sum += t.Eval(row)
		}
		out[i] = sum / float64(len(f.state.Trees))
	}
	return out, nil
}

func (f *RandomForest) Predict(X [][]float64) ([]int, error) {
	proba, err := f.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return thresholdLabels(proba, 0.5), nil
}

func (f *RandomForest) MarshalBinary() ([]byte, error) {
	if !f.state.Fitted {
		return nil, ErrNotFitted
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f.state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *RandomForest) UnmarshalBinary(data []byte) error {
	var st forestState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	f.state = st
	return nil
}
