package features

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinGuard/internal/domain/models"
)

func newTestExtractor(seed int64) *Extractor {
	return NewExtractor(rand.New(rand.NewSource(seed)))
}

func TestExtractConstantPriceQty(t *testing.T) {
	rows := make([]models.Row, 100)
	for i := range rows {
		rows[i] = models.Row{"price": 50000.0, "qty": 1.0}
	}
	m := newTestExtractor(1).Extract(models.NewRecordSet([]string{"price", "qty"}, rows))

	require.Len(t, m, 100)
	for i, row := range m {
		require.Len(t, row, Width)
		assert.Equal(t, 50000.0, row[0])
		assert.Equal(t, 1.0, row[1])
		assert.InDelta(t, 50000.0, row[2], 1e-9)
		assert.Equal(t, 0.0, row[3], "price std row %d", i)
		assert.InDelta(t, 1.0, row[4], 1e-12)
		assert.Equal(t, 0.0, row[5], "qty std row %d", i)
	}
}

func TestExtractEmpty(t *testing.T) {
	m := newTestExtractor(1).Extract(models.NewRecordSet([]string{"price", "qty"}, nil))
	assert.Equal(t, 0, m.Rows())
	assert.Equal(t, Width, m.Cols())

	m = newTestExtractor(1).Extract(nil)
	assert.Equal(t, 0, m.Rows())
}

func TestExtractRollingWindow(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5, 6}
	rows := make([]models.Row, len(prices))
	for i, p := range prices {
		rows[i] = models.Row{"price": p, "qty": 1.0}
	}
	m := newTestExtractor(1).Extract(models.NewRecordSet([]string{"price", "qty"}, rows))

	// first four rows keep the raw price and a zero std
	for i := 0; i < RollingWindow-1; i++ {
		assert.Equal(t, prices[i], m[i][2])
		assert.Equal(t, 0.0, m[i][3])
	}
	assert.InDelta(t, 3.0, m[4][2], 1e-12)
	assert.InDelta(t, 1.5811388300841898, m[4][3], 1e-12)
	assert.InDelta(t, 4.0, m[5][2], 1e-12)
}

func TestExtractGenericNumericColumns(t *testing.T) {
	rows := []models.Row{
		{"name": "a", "amount": 1.5, "volume": "200", "flag": true},
		{"name": "b", "amount": nil, "volume": "300", "flag": false},
	}
	rs := models.NewRecordSet([]string{"name", "amount", "volume", "flag"}, rows)
	m := newTestExtractor(1).Extract(rs)

	require.Len(t, m, 2)
	assert.Equal(t, []float64{1.5, 200, 0, 0, 0, 0}, m[0])
	assert.Equal(t, []float64{0, 300, 0, 0, 0, 0}, m[1])
}

func TestExtractTruncatesToWidth(t *testing.T) {
	cols := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	row := models.Row{}
	for i, c := range cols {
		row[c] = float64(i)
	}
	m := newTestExtractor(1).Extract(models.NewRecordSet(cols, []models.Row{row}))
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, m[0])
}

func TestExtractFallsBackToRandom(t *testing.T) {
	tests := []struct {
		name string
		rs   *models.RecordSet
	}{
		{
			name: "no numeric columns",
			rs:   models.NewRecordSet([]string{"name"}, []models.Row{{"name": "x"}, {"name": "y"}, {"name": "z"}}),
		},
		{
			name: "unparseable price",
			rs: models.NewRecordSet([]string{"price", "qty"}, []models.Row{
				{"price": "abc", "qty": 1.0},
				{"price": 1.0, "qty": 1.0},
				{"price": 2.0, "qty": 1.0},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestExtractor(7).Extract(tt.rs)
			want := RandomMatrix(rand.New(rand.NewSource(7)), 3)
			assert.Equal(t, want, m)
		})
	}
}

func TestRandomMatrixDeterministic(t *testing.T) {
	a := RandomMatrix(rand.New(rand.NewSource(42)), 10)
	b := RandomMatrix(rand.New(rand.NewSource(42)), 10)
	assert.Equal(t, a, b)
	assert.Len(t, a, 10)
	assert.Len(t, a[0], Width)
}
