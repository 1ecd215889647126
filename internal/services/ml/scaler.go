package ml

import (
	"bytes"
	"encoding/gob"

	"gonum.org/v1/gonum/stat"
)

// StandardScaler centres each column on its mean and divides by its
// population standard deviation. Zero-variance columns are only centred.
type StandardScaler struct {
	state scalerState
}

type scalerState struct {
	Fitted bool
	Mean   []float64
	Scale  []float64
}

var _ Persistable = (*StandardScaler)(nil)

func NewStandardScaler() *StandardScaler { return &StandardScaler{} }

func (s *StandardScaler) Fitted() bool { return s.state.Fitted }

func (s *StandardScaler) Fit(X [][]float64) error {
	if len(X) == 0 {
		return ErrEmptyDataset
	}
	d := len(X[0])
	if err := checkWidth(X, d); err != nil {
		return err
	}

	mean := make([]float64, d)
	scale := make([]float64, d)
	col := make([]float64, len(X))
	for j := 0; j < d; j++ {
		for i, row := range X {
			col[i] = row[j]
		}
		m, std := stat.PopMeanStdDev(col, nil)
		mean[j] = m
		if std == 0 {
			std = 1
		}
		scale[j] = std
	}

	s.state = scalerState{Fitted: true, Mean: mean, Scale: scale}
	return nil
}

func (s *StandardScaler) Transform(X [][]float64) ([][]float64, error) {
	if !s.state.Fitted {
		return nil, ErrNotFitted
	}
	if err := checkWidth(X, len(s.state.Mean)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(X))
	for i, row := range X {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.state.Mean[j]) / s.state.Scale[j]
		}
		out[i] = scaled
	}
	return out, nil
}

func (s *StandardScaler) MarshalBinary() ([]byte, error) {
	if !s.state.Fitted {
		return nil, ErrNotFitted
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *StandardScaler) UnmarshalBinary(data []byte) error {
	var st scalerState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	s.state = st
	return nil
}
