package features

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat"

	"FinGuard/internal/domain/models"
	"FinGuard/pkg/logger"
)

const (
	// Width is the fixed number of feature columns.
	Width = 6
	// RollingWindow is the trailing window for price/qty statistics.
	RollingWindow = 5
)

// Matrix is a row-major feature matrix with Width columns.
type Matrix [][]float64

// Rows returns the number of rows.
func (m Matrix) Rows() int { return len(m) }

// Cols is always Width, including for an empty matrix.
func (m Matrix) Cols() int { return Width }

// Extractor turns heterogeneous record sets into a Matrix.
type Extractor struct {
	rng *rand.Rand
	log *logger.Logger
}

type Option func(*Extractor)

func WithLogger(l *logger.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.log = l
		}
	}
}

// NewExtractor uses rng for the random fallback matrices.
func NewExtractor(rng *rand.Rand, opts ...Option) *Extractor {
	e := &Extractor{rng: rng, log: logger.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract never fails: any error or panic during extraction yields a
// standard-normal matrix with the same row count.
func (e *Extractor) Extract(rs *models.RecordSet) (m Matrix) {
	n := rs.Len()
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("feature extraction panicked, using random features",
				logger.Any("panic", r), logger.Int("rows", n))
			m = RandomMatrix(e.rng, n)
		}
	}()

	m, err := e.extract(rs)
	if err != nil {
		e.log.Warn("feature extraction failed, using random features",
			logger.Error(err), logger.Int("rows", n))
		return RandomMatrix(e.rng, n)
	}
	return m
}

func (e *Extractor) extract(rs *models.RecordSet) (Matrix, error) {
	n := rs.Len()
	cols := make([][]float64, 0, Width)
	used := make(map[string]bool)

	if rs.HasColumns("price", "qty") {
		price, err := numericColumn(rs, "price")
		if err != nil {
			return nil, err
		}
		qty, err := numericColumn(rs, "qty")
		if err != nil {
			return nil, err
		}
		cols = append(cols,
			price,
			qty,
			RollingMean(price, RollingWindow),
			RollingStd(price, RollingWindow),
			RollingMean(qty, RollingWindow),
			RollingStd(qty, RollingWindow),
		)
		used["price"], used["qty"] = true, true
	}

	if rs != nil {
		for _, name := range rs.Columns {
			if len(cols) >= Width {
				break
			}
			if used[name] || !isNumericColumn(rs, name) {
				continue
			}
			col, err := numericColumn(rs, name)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
			used[name] = true
		}
	}

	if len(cols) == 0 {
		return RandomMatrix(e.rng, n), nil
	}
	for len(cols) < Width {
		cols = append(cols, make([]float64, n))
	}

	m := make(Matrix, n)
	for i := range m {
		row := make([]float64, Width)
		for j := 0; j < Width; j++ {
			row[j] = cols[j][i]
		}
		m[i] = row
	}
	return m, nil
}

// numericColumn reads a column as floats. Missing and non-finite cells become 0.
func numericColumn(rs *models.RecordSet, name string) ([]float64, error) {
	out := make([]float64, rs.Len())
	for i := range out {
		if rs.IsMissing(i, name) {
			continue
		}
		v, ok := rs.Float(i, name)
		if !ok {
			return nil, fmt.Errorf("column %q row %d: non-numeric value %v", name, i, rs.Rows[i][name])
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
	}
	return out, nil
}

// isNumericColumn is true when at least one cell is numeric and every
// present cell is numeric. Booleans do not count.
func isNumericColumn(rs *models.RecordSet, name string) bool {
	seen := false
	for i := range rs.Rows {
		if rs.IsMissing(i, name) {
			continue
		}
		if _, isBool := rs.Rows[i][name].(bool); isBool {
			return false
		}
		if _, ok := rs.Float(i, name); !ok {
			return false
		}
		seen = true
	}
	return seen
}

// RollingMean is the trailing-window mean; rows with less than a full window
// of history keep their raw value.
func RollingMean(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	for i := range xs {
		if i+1 < window {
			out[i] = xs[i]
			continue
		}
		out[i] = stat.Mean(xs[i+1-window:i+1], nil)
	}
	return out
}

// RollingStd is the trailing-window sample standard deviation; rows with less
// than a full window of history are 0.
func RollingStd(xs []float64, window int) []float64 {
	out := make([]float64, len(xs))
	if window < 2 {
		return out
	}
	for i := range xs {
		if i+1 < window {
			continue
		}
		out[i] = stat.StdDev(xs[i+1-window:i+1], nil)
	}
	return out
}

// RandomMatrix draws an n x Width matrix of independent standard-normal values.
func RandomMatrix(rng *rand.Rand, n int) Matrix {
	m := make(Matrix, n)
	for i := range m {
		row := make([]float64, Width)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		m[i] = row
	}
	return m
}
