package ml

import (
	"bytes"
	"encoding/gob"
	"math"
)

// GradientBoosting is second-order gradient boosting of regression trees on
// the logistic loss, with L2-regularised leaf weights.
type GradientBoosting struct {
	rounds         int
	maxDepth       int
	eta            float64
	lambda         float64
	minChildWeight float64

	state gbState
}

type gbState struct {
	Fitted    bool
	Features  int
	BaseScore float64
	Eta       float64
	Trees     []*Tree
}

type BoostingOption func(*GradientBoosting)

func WithBoostingRounds(n int) BoostingOption {
	return func(g *GradientBoosting) { g.rounds = n }
}

func WithBoostingMaxDepth(d int) BoostingOption {
	return func(g *GradientBoosting) { g.maxDepth = d }
}

func WithBoostingEta(eta float64) BoostingOption {
	return func(g *GradientBoosting) { g.eta = eta }
}

func NewGradientBoosting(opts ...BoostingOption) *GradientBoosting {
	g := &GradientBoosting{rounds: 100, maxDepth: 6, eta: 0.3, lambda: 1, minChildWeight: 1}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var (
	_ Classifier  = (*GradientBoosting)(nil)
	_ Prober      = (*GradientBoosting)(nil)
	_ Persistable = (*GradientBoosting)(nil)
)

const minHessian = 1e-16

func (g *GradientBoosting) Fit(X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}

	n := len(X)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	// base score 0.5, i.e. a zero margin
	margin := make([]float64, n)
	grad := make([]float64, n)
	hess := make([]float64, n)
	params := newtonParams(g.maxDepth, g.lambda, g.minChildWeight)

	st := gbState{Features: d, Eta: g.eta}
	for r := 0; r < g.rounds; r++ {
		for i := range margin {
			p := sigmoid(margin[i])
			grad[i] = p - float64(y[i])
			hess[i] = math.Max(p*(1-p), minHessian)
		}
		tree := buildTree(X, grad, hess, idx, params, nil)
		st.Trees = append(st.Trees, tree)
		for i, row := range X {
			margin[i] += g.eta * tree.Eval(row)
		}
	}

	st.Fitted = true
	g.state = st
	return nil
}

func (g *GradientBoosting) margins(X [][]float64) ([]float64, error) {
	if !g.state.Fitted {
		return nil, ErrNotFitted
	}
	if err := checkWidth(X, g.state.Features); err != nil {
		return nil, err
	}
	out := make([]float64, len(X))
	for i, row := range X {
		m := g.state.BaseScore
		for _, t := range g.state.Trees {
			m += g.state.Eta * t.Eval(row)
		}
		out[i] = m
	}
	return out, nil
}

func (g *GradientBoosting) PredictProba(X [][]float64) ([]float64, error) {
	m, err := g.margins(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(m))
	for i, v := range m {
		out[i] = sigmoid(v)
	}
	return out, nil
}

func (g *GradientBoosting) Predict(X [][]float64) ([]int, error) {
	proba, err := g.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return thresholdLabels(proba, 0.5), nil
}

func (g *GradientBoosting) MarshalBinary() ([]byte, error) {
	if !g.state.Fitted {
		return nil, ErrNotFitted
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(g.state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *GradientBoosting) UnmarshalBinary(data []byte) error {
	var st gbState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	g.state = st
	return nil
}
