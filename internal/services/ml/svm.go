package ml

import (
	"bytes"
	"encoding/gob"
	"math/rand"
)

// LinearSVM is a soft-margin linear SVM trained with Pegasos sub-gradient
// descent. Probabilities come from a Platt sigmoid fitted on the training
// margins.
type LinearSVM struct {
	lambda float64
	epochs int
	seed   int64

	state svmState
}

type svmState struct {
	Fitted   bool
	Constant int // -1 unless the training labels had a single class
	Weights  []float64
	Bias     float64
	PlattA   float64
	PlattB   float64
}

type SVMOption func(*LinearSVM)

func WithSVMLambda(l float64) SVMOption { return func(s *LinearSVM) { s.lambda = l } }
func WithSVMEpochs(n int) SVMOption     { return func(s *LinearSVM) { s.epochs = n } }
func WithSVMSeed(seed int64) SVMOption  { return func(s *LinearSVM) { s.seed = seed } }

func NewLinearSVM(opts ...SVMOption) *LinearSVM {
	s := &LinearSVM{lambda: 0.01, epochs: 20, seed: DefaultSeed}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ Classifier  = (*LinearSVM)(nil)
	_ Prober      = (*LinearSVM)(nil)
	_ Persistable = (*LinearSVM)(nil)
)

func (s *LinearSVM) Fit(X [][]float64, y []int) error {
	d, err := checkTrainingSet(X, y)
	if err != nil {
		return err
	}
	if label, ok := singleClass(y); ok {
		s.state = svmState{Fitted: true, Constant: label}
		return nil
	}

	rng := rand.New(rand.NewSource(s.seed))
	w := make([]float64, d)
	var b float64
	t := 0
	for epoch := 0; epoch < s.epochs; epoch++ {
		for _, i := range rng.Perm(len(X)) {
			t++
			eta := 1 / (s.lambda * float64(t))
			sign := float64(2*y[i] - 1)
			margin := sign * (dot(w, X[i]) + b)

			shrink := 1 - eta*s.lambda
			for j := range w {
				w[j] *= shrink
			}
			if margin < 1 {
				for j := range w {
					w[j] += eta * sign * X[i][j]
				}
				b += eta * sign * 0.01
			}
		}
	}

	margins := make([]float64, len(X))
	for i, row := range X {
		margins[i] = dot(w, row) + b
	}
	a, pb := plattScale(margins, y)

	s.state = svmState{Fitted: true, Constant: -1, Weights: w, Bias: b, PlattA: a, PlattB: pb}
	return nil
}

func (s *LinearSVM) DecisionFunction(X [][]float64) ([]float64, error) {
	if !s.state.Fitted {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(X))
	if s.state.Constant >= 0 {
		for i := range out {
			out[i] = float64(2*s.state.Constant - 1)
		}
		return out, nil
	}
	if err := checkWidth(X, len(s.state.Weights)); err != nil {
		return nil, err
	}
	for i, row := range X {
		out[i] = dot(s.state.Weights, row) + s.state.Bias
	}
	return out, nil
}

// Predict labels a row anomalous when it falls on the positive side of the
// hyperplane.
func (s *LinearSVM) Predict(X [][]float64) ([]int, error) {
	margins, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(margins))
	for i, m := range margins {
		if m > 0 {
			out[i] = 1
		}
	}
	return out, nil
}

func (s *LinearSVM) PredictProba(X [][]float64) ([]float64, error) {
	if !s.state.Fitted {
		return nil, ErrNotFitted
	}
	if s.state.Constant >= 0 {
		return constantProba(len(X), s.state.Constant), nil
	}
	margins, err := s.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(margins))
	for i, m := range margins {
		out[i] = sigmoid(-(s.state.PlattA*m + s.state.PlattB))
	}
	return out, nil
}

func (s *LinearSVM) MarshalBinary() ([]byte, error) {
	if !s.state.Fitted {
		return nil, ErrNotFitted
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *LinearSVM) UnmarshalBinary(data []byte) error {
	var st svmState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	s.state = st
	return nil
}

// plattScale fits P(y=1|m) = 1 / (1 + exp(A*m + B)) by gradient descent on
// the log loss, using Platt's smoothed targets.
func plattScale(margins []float64, y []int) (float64, float64) {
	var pos, neg float64
	for _, l := range y {
		if l == 1 {
			pos++
		} else {
			neg++
		}
	}
	hi := (pos + 1) / (pos + 2)
	lo := 1 / (neg + 2)

	a, b := 0.0, 0.0
	const (
		iterations = 200
		rate       = 0.5
	)
	n := float64(len(margins))
	for it := 0; it < iterations; it++ {
		var ga, gb float64
		for i, m := range margins {
			target := lo
			if y[i] == 1 {
				target = hi
			}
			p := sigmoid(-(a*m + b))
			// d(logloss)/d(a*m+b) = target - p
			diff := target - p
			ga += diff * m
			gb += diff
		}
		a -= rate * ga / n
		b -= rate * gb / n
	}
	return a, b
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
