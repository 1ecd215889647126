package ml

import (
	"bytes"
	"encoding/gob"
	"math"
)

// AdaBoost is discrete two-class SAMME boosting over depth-one Gini stumps.
type AdaBoost struct {
	nEstimators  int
	learningRate float64

	state adaState
}

type adaState struct {
	Fitted   bool
	Features int
	Stumps   []*Tree
	Alphas   []float64
}

type AdaBoostOption func(*AdaBoost)

func WithAdaEstimators(n int) AdaBoostOption {
	return func(a *AdaBoost) { a.nEstimators = n }
}

func WithAdaLearningRate(r float64) AdaBoostOption {
	return func(a *AdaBoost) { a.learningRate = r }
}

func NewAdaBoost(opts ...AdaBoostOption) *AdaBoost {
	a := &AdaBoost{nEstimators: 100, learningRate: 1}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

var (
	_ Classifier  = (*AdaBoost)(nil)
	_ Prober      = (*AdaBoost)(nil)
	_ Persistable = (*AdaBoost)(nil)
)

const perfectStumpAlpha = 10.0

func (ab *AdaBoost) Fit(X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}

	n := len(X)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}

	st := adaState{Features: d}
	params := giniParams(1, 0)
	wy := make([]float64, n)

	for m := 0; m < ab.nEstimators; m++ {
		for i := range wy {
			wy[i] = w[i] * float64(y[i])
		}
		stump := buildTree(X, wy, w, idx, params, nil)

		var errW, total float64
		miss := make([]bool, n)
		for i, row := range X {
			total += w[i]
			if stumpLabel(stump, row) != y[i] {
				miss[i] = true
				errW += w[i]
			}
		}
		errRate := errW / total

		if errRate <= 0 {
			st.Stumps = append(st.Stumps, stump)
			st.Alphas = append(st.Alphas, perfectStumpAlpha)
			break
		}
		if errRate >= 0.5 {
			if len(st.Stumps) == 0 {
				// Nothing beats chance; keep the stump so predictions stay defined.
				st.Stumps = append(st.Stumps, stump)
				st.Alphas = append(st.Alphas, 1)
			}
			break
		}

		alpha := ab.learningRate * math.Log((1-errRate)/errRate)
		st.Stumps = append(st.Stumps, stump)
		st.Alphas = append(st.Alphas, alpha)

		var sum float64
		for i := range w {
			if miss[i] {
				w[i] *= math.Exp(alpha)
			}
			sum += w[i]
		}
		for i := range w {
			w[i] /= sum
		}
	}

	st.Fitted = true
	ab.state = st
	return nil
}

func stumpLabel(t *Tree, row []float64) int {
	if t.Eval(row) > 0.5 {
		return 1
	}
	return 0
}

// DecisionFunction is the alpha-weighted vote normalised to [-1, 1].
func (ab *AdaBoost) DecisionFunction(X [][]float64) ([]float64, error) {
	if !ab.state.Fitted {
		return nil, ErrNotFitted
	}
	if err := checkWidth(X, ab.state.Features); err != nil {
		return nil, err
	}
	var total float64
	for _, a := range ab.state.Alphas {
		total += a
	}
	out := make([]float64, len(X))
	for i, row := range X {
		var s float64
		for m, stump := range ab.state.Stumps {
			s += ab.state.Alphas[m] * float64(2*stumpLabel(stump, row)-1)
		}
		if total > 0 {
			s /= total
		}
		out[i] = s
	}
	return out, nil
}

func (ab *AdaBoost) PredictProba(X [][]float64) ([]float64, error) {
	dec, err := ab.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(dec))
	for i, v := range dec {
		out[i] = sigmoid(2 * v)
	}
	return out, nil
}

func (ab *AdaBoost) Predict(X [][]float64) ([]int, error) {
	dec, err := ab.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(dec))
	for i, v := range dec {
		if v > 0 {
			out[i] = 1
		}
	}
	return out, nil
}

func (ab *AdaBoost) MarshalBinary() ([]byte, error) {
	if !ab.state.Fitted {
		return nil, ErrNotFitted
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ab.state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (ab *AdaBoost) UnmarshalBinary(data []byte) error {
	var st adaState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	ab.state = st
	return nil
}
