package ml

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNotFitted    = errors.New("model is not fitted")
	ErrEmptyDataset = errors.New("empty training data")
)

// Classifier is a binary classifier over dense feature rows. Labels are 0 or 1.
type Classifier interface {
	Fit(X [][]float64, y []int) error
	Predict(X [][]float64) ([]int, error)
}

// Prober is implemented by classifiers that expose P(label = 1).
type Prober interface {
	PredictProba(X [][]float64) ([]float64, error)
}

// Persistable models can be written to and restored from an artifact.
type Persistable interface {
	MarshalBinary() ([]byte, error)
	UnmarshalBinary(data []byte) error
}

// PredictProba returns per-row anomaly probabilities from c, using its hard
// labels as the probability when c does not implement Prober.
func PredictProba(c Classifier, X [][]float64) ([]float64, error) {
	if p, ok := c.(Prober); ok {
		return p.PredictProba(X)
	}
	labels, err := c.Predict(X)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(labels))
	for i, l := range labels {
		out[i] = float64(l)
	}
	return out, nil
}

func checkTrainingSet(X [][]float64, y []int) (int, error) {
	if len(X) == 0 {
		return 0, ErrEmptyDataset
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("feature rows (%d) and labels (%d) differ", len(X), len(y))
	}
	d := len(X[0])
	for i, row := range X {
		if len(row) != d {
			return 0, fmt.Errorf("row %d has %d features, want %d", i, len(row), d)
		}
	}
	for i, l := range y {
		if l != 0 && l != 1 {
			return 0, fmt.Errorf("label %d at row %d is not binary", l, i)
		}
	}
	return d, nil
}

func checkWidth(X [][]float64, d int) error {
	for i, row := range X {
		if len(row) != d {
			return fmt.Errorf("row %d has %d features, model expects %d", i, len(row), d)
		}
	}
	return nil
}

// singleClass reports the label when every sample shares it.
func singleClass(y []int) (int, bool) {
	for _, l := range y[1:] {
		if l != y[0] {
			return 0, false
		}
	}
	return y[0], true
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func thresholdLabels(proba []float64, cut float64) []int {
	out := make([]int, len(proba))
	for i, p := range proba {
		if p > cut {
			out[i] = 1
		}
	}
	return out
}

func constantProba(n int, label int) []float64 {
	out := make([]float64, n)
	if label == 1 {
		for i := range out {
			out[i] = 1
		}
	}
	return out
}
