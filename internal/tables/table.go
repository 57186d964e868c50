// Package tables defines the published table layouts and serializes them.
package tables

import (
	"fmt"
	"io"
	"math"

	"github.com/parquet-go/parquet-go"
)

// Row is implemented by every published row type.
type Row interface {
	TableName() string
	CSVHeader() []string
	CSVRecord() []string
}

// Table is a named, ordered collection of rows that can be serialized.
type Table interface {
	Name() string
	Len() int
	Header() []string
	Records() [][]string
	WriteParquet(w io.Writer, opts ...parquet.WriterOption) error
}

// View adapts a slice of rows to Table.
type View[T Row] struct {
	Rows []T
}

// NewView wraps rows.
func NewView[T Row](rows []T) View[T] {
	return View[T]{Rows: rows}
}

// Name returns the table name of T.
func (v View[T]) Name() string {
	var zero T
	return zero.TableName()
}

// Len returns the number of rows.
func (v View[T]) Len() int {
	return len(v.Rows)
}

// Header returns the CSV header of T.
func (v View[T]) Header() []string {
	var zero T
	return zero.CSVHeader()
}

// Records returns every row as strings.
func (v View[T]) Records() [][]string {
	out := make([][]string, len(v.Rows))
	for i, r := range v.Rows {
		out[i] = r.CSVRecord()
	}
	return out
}

// WriteParquet writes the rows as a single parquet file.
func (v View[T]) WriteParquet(w io.Writer, opts ...parquet.WriterOption) error {
	pw := parquet.NewGenericWriter[T](w, opts...)
	if len(v.Rows) > 0 {
		if _, err := pw.Write(v.Rows); err != nil {
			pw.Close()
			return fmt.Errorf("write %s rows: %w", v.Name(), err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close %s writer: %w", v.Name(), err)
	}
	return nil
}

// Round rounds v to the given number of decimals, folding -0 to 0.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	r := math.Round(v*p) / p
	if r == 0 {
		return 0
	}
	return r
}
