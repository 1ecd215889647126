// Package ingest turns uploaded CSV files into record sets.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"FinGuard/internal/domain/models"
)

var (
	ErrUnsupportedSchema = errors.New("csv must contain price and qty, or close and volume columns")
	ErrNoHeader          = errors.New("csv has no header row")
	ErrTooManyRows       = errors.New("csv exceeds the row limit")
)

// supportedSchemas are the column pairs an uploaded file must carry one of.
var supportedSchemas = [][]string{
	{"price", "qty"},
	{"close", "volume"},
}

// HasSupportedSchema reports whether columns include one of the supported pairs.
func HasSupportedSchema(columns []string) bool {
	set := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		set[c] = struct{}{}
	}
	for _, pair := range supportedSchemas {
		ok := true
		for _, c := range pair {
			if _, found := set[c]; !found {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

type Reader struct {
	maxRows int
	comma   rune
}

type Option func(*Reader)

// WithMaxRows caps the number of data rows; 0 means unlimited.
func WithMaxRows(n int) Option {
	return func(r *Reader) { r.maxRows = n }
}

func WithComma(c rune) Option {
	return func(r *Reader) { r.comma = c }
}

func NewReader(opts ...Option) *Reader {
	r := &Reader{comma: ','}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read parses a CSV with a header row. Cells that parse as floats become
// float64, empty cells nil, everything else a trimmed string. Short rows are
// padded with nil; long rows are an error.
func (r *Reader) Read(src io.Reader) (*models.RecordSet, error) {
	cr := csv.NewReader(src)
	cr.Comma = r.comma
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := normalizeHeader(header)

	rows := make([]models.Row, 0)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if len(record) > len(columns) {
			return nil, fmt.Errorf("line %d has %d fields, header has %d", line, len(record), len(columns))
		}
		if r.maxRows > 0 && len(rows) >= r.maxRows {
			return nil, fmt.Errorf("%w (%d)", ErrTooManyRows, r.maxRows)
		}

		row := make(models.Row, len(columns))
		for i, col := range columns {
			if i >= len(record) {
				row[col] = nil
				continue
			}
			row[col] = parseCell(record[i])
		}
		rows = append(rows, row)
	}

	return models.NewRecordSet(columns, rows), nil
}

// ReadSupported parses src and rejects files without a supported schema.
func (r *Reader) ReadSupported(src io.Reader) (*models.RecordSet, error) {
	rs, err := r.Read(src)
	if err != nil {
		return nil, err
	}
	if !HasSupportedSchema(rs.Columns) {
		return nil, ErrUnsupportedSchema
	}
	return rs, nil
}

func parseCell(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// normalizeHeader trims names, strips a UTF-8 BOM and suffixes duplicates
// with ".1", ".2", ...
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if name == "" {
			name = fmt.Sprintf("column_%d", i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		} else {
			seen[name] = 0
		}
		out[i] = name
	}
	return out
}
