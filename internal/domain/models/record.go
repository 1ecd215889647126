package models

import (
	"sort"
	"strconv"
	"strings"
)

// Row maps a column name to a cell value. Cells are float64, string, bool or nil.
type Row map[string]any

// RecordSet is an ordered collection of rows with a heterogeneous schema.
type RecordSet struct {
	Columns []string
	Rows    []Row
}

// NewRecordSet builds a record set. When columns is empty the column list is
// derived from the rows (sorted, since map order carries no meaning).
func NewRecordSet(columns []string, rows []Row) *RecordSet {
	rs := &RecordSet{Columns: columns, Rows: rows}
	if len(rs.Columns) == 0 {
		rs.Columns = deriveColumns(rows)
	}
	return rs
}

func deriveColumns(rows []Row) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Len returns the number of rows. A nil record set has zero rows.
func (rs *RecordSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rows)
}

// HasColumn reports whether name is part of the schema.
func (rs *RecordSet) HasColumn(name string) bool {
	if rs == nil {
		return false
	}
	for _, c := range rs.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// HasColumns reports whether every name is part of the schema.
func (rs *RecordSet) HasColumns(names ...string) bool {
	for _, n := range names {
		if !rs.HasColumn(n) {
			return false
		}
	}
	return true
}

// Float returns the numeric value of row i in column col.
// ok is false when the cell is missing or not numeric.
func (rs *RecordSet) Float(i int, col string) (v float64, ok bool) {
	cell, present := rs.Rows[i][col]
	if !present {
		return 0, false
	}
	return ToFloat(cell)
}

// IsMissing reports whether the cell is absent, nil or an empty string.
func (rs *RecordSet) IsMissing(i int, col string) bool {
	cell, present := rs.Rows[i][col]
	if !present || cell == nil {
		return true
	}
	if s, ok := cell.(string); ok && strings.TrimSpace(s) == "" {
		return true
	}
	return false
}

// ToFloat converts a cell value to float64.
func ToFloat(cell any) (float64, bool) {
	switch v := cell.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
