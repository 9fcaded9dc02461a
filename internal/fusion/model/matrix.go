// Package model implements the supervised estimators used by the fusion
// engine: a CART decision tree, a seeded random forest, and a k-nearest
// neighbours baseline, plus the evaluation metrics for both problem types.
// Estimators consume encoded feature matrices; the feature encoding itself
// lives in the fusion package.
package model

import "sort"

// Matrix is a read-only numeric feature matrix. The one-hot encoder
// produces either a dense or a sparse implementation; estimators only see
// this interface.
type Matrix interface {
	Rows() int
	Cols() int
	At(i, j int) float64
}

// Dense is a row-major dense matrix.
type Dense struct {
	data [][]float64
	cols int
}

// NewDense wraps row-major data. All rows must have equal length.
func NewDense(data [][]float64) *Dense {
	cols := 0
	if len(data) > 0 {
		cols = len(data[0])
	}
	return &Dense{data: data, cols: cols}
}

func (d *Dense) Rows() int          { return len(d.data) }
func (d *Dense) Cols() int          { return d.cols }
func (d *Dense) At(i, j int) float64 { return d.data[i][j] }

// Row exposes a raw row; callers must not modify it.
func (d *Dense) Row(i int) []float64 { return d.data[i] }

// Sparse is a row-wise compressed matrix storing only non-zero cells.
// Suited to wide one-hot encodings where most indicators are zero.
type Sparse struct {
	rows, cols int
	idx        [][]int32
	val        [][]float64
}

// NewSparse creates an empty sparse matrix of the given shape.
func NewSparse(rows, cols int) *Sparse {
	return &Sparse{rows: rows, cols: cols, idx: make([][]int32, rows), val: make([][]float64, rows)}
}

func (s *Sparse) Rows() int { return s.rows }
func (s *Sparse) Cols() int { return s.cols }

// Set records a non-zero cell. Cells must be set in ascending column order
// within each row.
func (s *Sparse) Set(i, j int, v float64) {
	if v == 0 {
		return
	}
	s.idx[i] = append(s.idx[i], int32(j))
	s.val[i] = append(s.val[i], v)
}

func (s *Sparse) At(i, j int) float64 {
	row := s.idx[i]
	k := sort.Search(len(row), func(k int) bool { return row[k] >= int32(j) })
	if k < len(row) && row[k] == int32(j) {
		return s.val[i][k]
	}
	return 0
}
