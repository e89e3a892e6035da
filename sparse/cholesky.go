package sparse

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrNotPositiveDefinite reports a Cholesky factorization that met a
// non-positive pivot; the input matrix is not numerically positive definite
// and no factor is produced.
var ErrNotPositiveDefinite = errors.New("sparse: matrix is not positive definite")

// Cholesky is the lower-triangular factor L of a symmetric positive definite
// matrix, A = L·Lᵗ.
type Cholesky struct {
	L *Matrix
}

// Factorize computes the Cholesky decomposition of the symmetric matrix A.
// A is left unmodified.  It returns ErrNotPositiveDefinite when a pivot is
// not positive.
func Factorize(a *Matrix) (*Cholesky, error) {
	size, _ := a.Dims()
	l := New(size)
	for i := 0; i < size; i++ {
		for j, v := range a.NonzeroCols(i) {
			if j <= i {
				l.Set(i, j, v)
			}
		}
	}

	for k := 0; k < size; k++ {
		akk := l.At(k, k)
		if akk <= 0 {
			return nil, fmt.Errorf("%w: pivot %d is %g", ErrNotPositiveDefinite, k, akk)
		}
		akk = math.Sqrt(akk)
		l.Set(k, k, akk)

		// scale column k below the diagonal, snapshotting first: Set mutates
		// the map being swept
		col := snapshotCol(l, k)
		for _, e := range col {
			if e.row > k {
				l.Set(e.row, k, e.val/akk)
			}
		}

		// rank-1 update of the trailing submatrix from the scaled column
		col = snapshotCol(l, k)
		for _, ej := range col {
			if ej.row <= k {
				continue
			}
			for _, ei := range col {
				if ei.row >= ej.row {
					l.Set(ei.row, ej.row, l.At(ei.row, ej.row)-ei.val*ej.val)
				}
			}
		}
	}
	return &Cholesky{L: l}, nil
}

type colEntry struct {
	row int
	val float64
}

func snapshotCol(m *Matrix, j int) []colEntry {
	col := m.NonzeroRows(j)
	out := make([]colEntry, 0, len(col))
	for i, v := range col {
		out = append(out, colEntry{i, v})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].row < out[b].row })
	return out
}

// Solve solves A·x = b using the factorization, by forward substitution on L
// and backward substitution on Lᵗ.
func (c *Cholesky) Solve(b []float64) ([]float64, error) {
	size, _ := c.L.Dims()
	if len(b) != size {
		return nil, fmt.Errorf("sparse: rhs has %d entries for a %d factor", len(b), size)
	}

	y := make([]float64, size)
	for i := 0; i < size; i++ {
		tot, div := 0.0, 0.0
		for j, v := range c.L.NonzeroCols(i) {
			if j == i {
				div = v
			} else if j < i {
				tot += y[j] * v
			}
		}
		if div == 0 {
			return nil, fmt.Errorf("%w: zero diagonal at %d", ErrNotPositiveDefinite, i)
		}
		y[i] = (b[i] - tot) / div
	}

	x := make([]float64, size)
	for i := size - 1; i >= 0; i-- {
		// sweeping the column simulates the L -> Lᵗ transpose
		tot, div := 0.0, 0.0
		for j, v := range c.L.NonzeroRows(i) {
			if j == i {
				div = v
			} else if j > i {
				tot += x[j] * v
			}
		}
		x[i] = (y[i] - tot) / div
	}
	return x, nil
}

// Solver is the capability a sparse least-squares backend must provide.
type Solver interface {
	Solve(a *CSC, b []float64) (x []float64, err error)
	Status() string
}

// NormalCholesky solves min ‖Ax−b‖₂ by forming the normal equations and
// factoring AᵗA.  A failed factorization is returned as an error with no
// solution vector.
type NormalCholesky struct {
	nnz      int
	residual float64
}

// Status describes the most recent solve.
func (s *NormalCholesky) Status() string {
	return fmt.Sprintf("normal matrix with %d nonzeros, residual %.6g", s.nnz, s.residual)
}

// Solve implements Solver.
func (s *NormalCholesky) Solve(a *CSC, b []float64) ([]float64, error) {
	ata, atb := Normal(a, b)
	s.nnz = ata.NumNonZero()

	chol, err := Factorize(ata)
	if err != nil {
		return nil, err
	}
	x, err := chol.Solve(atb)
	if err != nil {
		return nil, err
	}

	r := a.MulVec(x)
	res := 0.0
	for i := range r {
		d := r[i] - b[i]
		res += d * d
	}
	s.residual = math.Sqrt(res)
	return x, nil
}
