// Package mmm implements the marketing mix modeling pipeline: spend
// transforms, ridge regression training, response prediction and budget
// optimization. The package is storage-agnostic; callers assemble a Frame
// from whatever source holds the daily spend and outcome series.
package mmm

import (
	"fmt"
	"time"

	"github.com/marketfuse/attribution-engine/internal/apperrors"
)

// Frame is a columnar table of equal-length daily series keyed by column
// name. Dates[i] labels row i of every column.
type Frame struct {
	Dates   []time.Time
	columns map[string][]float64
	order   []string
}

// NewFrame creates an empty frame over the given date index.
func NewFrame(dates []time.Time) *Frame {
	return &Frame{
		Dates:   dates,
		columns: make(map[string][]float64),
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Dates)
}

// AddColumn attaches a series. The series length must match the date index.
func (f *Frame) AddColumn(name string, values []float64) error {
	if len(values) != len(f.Dates) {
		return fmt.Errorf("%w: column %s has %d rows, frame has %d", apperrors.ErrValidation, name, len(values), len(f.Dates))
	}
	if _, exists := f.columns[name]; !exists {
		f.order = append(f.order, name)
	}
	f.columns[name] = values
	return nil
}

// Column returns a series by name.
func (f *Frame) Column(name string) ([]float64, error) {
	values, ok := f.columns[name]
	if !ok {
		return nil, fmt.Errorf("%w: column %s", apperrors.ErrNotFound, name)
	}
	return values, nil
}

// HasColumn reports whether the named series exists.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.columns[name]
	return ok
}

// ColumnNames returns the column names in insertion order.
func (f *Frame) ColumnNames() []string {
	names := make([]string, len(f.order))
	copy(names, f.order)
	return names
}
