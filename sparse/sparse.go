// Package sparse provides the sparse linear-algebra backend for the fitting
// core: triplet assembly into compressed-column form, normal-equation
// construction, and a sparse Cholesky factorization of the symmetric normal
// matrix.
package sparse

import (
	"math"
	"sort"
)

// dropEps is the magnitude below which stored entries are discarded.
const dropEps = 1e-14

// Triplet is one nonzero entry of a matrix under assembly.
type Triplet struct {
	Row, Col int
	Val      float64
}

// CSC is an immutable compressed sparse column matrix.  Entries within a
// column are sorted by row; duplicate triplets are summed during
// construction.
type CSC struct {
	rows, cols int
	colptr     []int
	rowind     []int
	vals       []float64
}

// NewCSC assembles an r-by-c matrix from triplets.
func NewCSC(r, c int, entries []Triplet) *CSC {
	// counting sort into columns
	count := make([]int, c+1)
	for _, t := range entries {
		count[t.Col+1]++
	}
	for j := 0; j < c; j++ {
		count[j+1] += count[j]
	}
	rowind := make([]int, len(entries))
	vals := make([]float64, len(entries))
	next := make([]int, c)
	copy(next, count[:c])
	for _, t := range entries {
		k := next[t.Col]
		rowind[k] = t.Row
		vals[k] = t.Val
		next[t.Col]++
	}

	m := &CSC{rows: r, cols: c, colptr: make([]int, c+1)}
	for j := 0; j < c; j++ {
		lo, hi := count[j], count[j+1]
		col := colSorter{rows: rowind[lo:hi], vals: vals[lo:hi]}
		sort.Sort(col)

		// merge duplicates while appending
		for k := lo; k < hi; k++ {
			n := len(m.rowind)
			if n > m.colptr[j] && m.rowind[n-1] == rowind[k] {
				m.vals[n-1] += vals[k]
				continue
			}
			m.rowind = append(m.rowind, rowind[k])
			m.vals = append(m.vals, vals[k])
		}
		m.colptr[j+1] = len(m.rowind)
	}
	return m
}

type colSorter struct {
	rows []int
	vals []float64
}

func (s colSorter) Len() int           { return len(s.rows) }
func (s colSorter) Less(i, j int) bool { return s.rows[i] < s.rows[j] }
func (s colSorter) Swap(i, j int) {
	s.rows[i], s.rows[j] = s.rows[j], s.rows[i]
	s.vals[i], s.vals[j] = s.vals[j], s.vals[i]
}

// Dims returns the matrix dimensions.
func (m *CSC) Dims() (r, c int) { return m.rows, m.cols }

// NumNonZero returns the number of stored entries.
func (m *CSC) NumNonZero() int { return len(m.vals) }

// At returns the element at row i, column j.
func (m *CSC) At(i, j int) float64 {
	lo, hi := m.colptr[j], m.colptr[j+1]
	k := lo + sort.SearchInts(m.rowind[lo:hi], i)
	if k < hi && m.rowind[k] == i {
		return m.vals[k]
	}
	return 0
}

// MulVec returns A·x.
func (m *CSC) MulVec(x []float64) []float64 {
	y := make([]float64, m.rows)
	for j := 0; j < m.cols; j++ {
		xj := x[j]
		if xj == 0 {
			continue
		}
		for k := m.colptr[j]; k < m.colptr[j+1]; k++ {
			y[m.rowind[k]] += m.vals[k] * xj
		}
	}
	return y
}

// MulTVec returns Aᵗ·y.
func (m *CSC) MulTVec(y []float64) []float64 {
	x := make([]float64, m.cols)
	for j := 0; j < m.cols; j++ {
		s := 0.0
		for k := m.colptr[j]; k < m.colptr[j+1]; k++ {
			s += m.vals[k] * y[m.rowind[k]]
		}
		x[j] = s
	}
	return x
}

// Normal forms the normal equations of the least-squares system: the
// symmetric matrix AᵗA and the vector Aᵗb.  Forming them trades a dense
// intermediate for a squared condition number; that trade-off is deliberate.
func Normal(a *CSC, b []float64) (*Matrix, []float64) {
	n := a.cols
	ata := New(n)
	w := make([]float64, a.rows)
	for j := 0; j < n; j++ {
		for k := a.colptr[j]; k < a.colptr[j+1]; k++ {
			w[a.rowind[k]] = a.vals[k]
		}
		for i := j; i < n; i++ {
			s := 0.0
			for k := a.colptr[i]; k < a.colptr[i+1]; k++ {
				s += a.vals[k] * w[a.rowind[k]]
			}
			if s != 0 {
				ata.Set(i, j, s)
				ata.Set(j, i, s)
			}
		}
		for k := a.colptr[j]; k < a.colptr[j+1]; k++ {
			w[a.rowind[k]] = 0
		}
	}
	return ata, a.MulTVec(b)
}

// Matrix is a square sparse matrix with map-backed storage indexed both by
// row and by column, so the factorization can sweep either direction cheaply.
// Entries whose magnitude falls below dropEps are deleted on Set.
type Matrix struct {
	// byRow[i] maps column -> value for row i.
	byRow []map[int]float64
	// byCol[j] maps row -> value for column j.
	byCol []map[int]float64
	size  int
}

// New returns an empty size-by-size matrix.
func New(size int) *Matrix {
	return &Matrix{
		byRow: make([]map[int]float64, size),
		byCol: make([]map[int]float64, size),
		size:  size,
	}
}

// Dims returns the matrix dimensions.
func (m *Matrix) Dims() (r, c int) { return m.size, m.size }

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) float64 { return m.byRow[i][j] }

// Set stores v at row i, column j, deleting entries that round to zero.
func (m *Matrix) Set(i, j int, v float64) {
	if math.Abs(v) < dropEps {
		delete(m.byRow[i], j)
		delete(m.byCol[j], i)
		return
	}
	if m.byRow[i] == nil {
		m.byRow[i] = make(map[int]float64)
	}
	if m.byCol[j] == nil {
		m.byCol[j] = make(map[int]float64)
	}
	m.byRow[i][j] = v
	m.byCol[j][i] = v
}

// NonzeroCols returns the nonzero entries of row i keyed by column.
func (m *Matrix) NonzeroCols(i int) map[int]float64 { return m.byRow[i] }

// NonzeroRows returns the nonzero entries of column j keyed by row.
func (m *Matrix) NonzeroRows(j int) map[int]float64 { return m.byCol[j] }

// NumNonZero returns the number of stored entries.
func (m *Matrix) NumNonZero() int {
	n := 0
	for _, row := range m.byRow {
		n += len(row)
	}
	return n
}

// MulVec returns A·x.
func (m *Matrix) MulVec(x []float64) []float64 {
	y := make([]float64, m.size)
	for i := 0; i < m.size; i++ {
		s := 0.0
		for j, v := range m.byRow[i] {
			s += v * x[j]
		}
		y[i] = s
	}
	return y
}
