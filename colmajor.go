package alm

import "gonum.org/v1/gonum/mat"

// ColMajor is a dense matrix stored column by column, so that every column is
// a contiguous slice.  The assembly workers write disjoint row ranges of it
// without locking, the lasso path reads raw columns for its inner products,
// and through the mat.Matrix interface it feeds the dense decompositions
// directly.
type ColMajor struct {
	rows, cols int
	data       []float64
}

// NewColMajor returns a zeroed r-by-c matrix.
func NewColMajor(r, c int) *ColMajor {
	return &ColMajor{rows: r, cols: c, data: make([]float64, r*c)}
}

// Dims returns the matrix dimensions.
func (m *ColMajor) Dims() (r, c int) { return m.rows, m.cols }

// At returns the element at row i, column j.
func (m *ColMajor) At(i, j int) float64 { return m.data[j*m.rows+i] }

// Set stores v at row i, column j.
func (m *ColMajor) Set(i, j int, v float64) { m.data[j*m.rows+i] = v }

// T returns the transpose as a view.
func (m *ColMajor) T() mat.Matrix { return mat.Transpose{Matrix: m} }

// Col returns column j as a raw view; mutating it mutates the matrix.
func (m *ColMajor) Col(j int) []float64 { return m.data[j*m.rows : (j+1)*m.rows] }

// MulVec returns A·x.
func (m *ColMajor) MulVec(x []float64) []float64 {
	y := make([]float64, m.rows)
	for j := 0; j < m.cols; j++ {
		xj := x[j]
		if xj == 0 {
			continue
		}
		col := m.Col(j)
		for i := range col {
			y[i] += xj * col[i]
		}
	}
	return y
}
