package sparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matrixFrom(size int, rowMajor []float64) *Matrix {
	m := New(size)
	for i := 0; i < size; i++ {
		for j := 0; j < size; j++ {
			if v := rowMajor[i*size+j]; v != 0 {
				m.Set(i, j, v)
			}
		}
	}
	return m
}

func TestFactorize(t *testing.T) {
	a := matrixFrom(3, []float64{
		4, 12, -16,
		12, 37, -43,
		-16, -43, 98,
	})
	chol, err := Factorize(a)
	require.NoError(t, err)

	want := [][]float64{
		{2, 0, 0},
		{6, 1, 0},
		{-8, 5, 3},
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, want[i][j], chol.L.At(i, j), 1e-12, "L(%d,%d)", i, j)
		}
	}

	// the input is untouched
	assert.Equal(t, 37.0, a.At(1, 1))
}

func TestCholeskySolve(t *testing.T) {
	a := matrixFrom(3, []float64{
		4, 12, -16,
		12, 37, -43,
		-16, -43, 98,
	})
	chol, err := Factorize(a)
	require.NoError(t, err)

	// b = A * (1, 2, 3)
	x, err := chol.Solve([]float64{-20, -43, 192})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2, 3}, x, 1e-10)

	_, err = chol.Solve([]float64{1, 2})
	assert.Error(t, err)
}

func TestFactorizeNotPositiveDefinite(t *testing.T) {
	a := matrixFrom(2, []float64{
		1, 2,
		2, 1,
	})
	_, err := Factorize(a)
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
}

func TestNormalCholesky(t *testing.T) {
	// least squares for A = [1 0; 0 1; 1 1], b = [1 2 3]: x = (1, 2)
	a := NewCSC(3, 2, []Triplet{
		{0, 0, 1}, {1, 1, 1}, {2, 0, 1}, {2, 1, 1},
	})
	s := &NormalCholesky{}
	x, err := s.Solve(a, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2}, x, 1e-10)
	assert.InDelta(t, 0.0, s.residual, 1e-10)
	assert.NotEmpty(t, s.Status())
}

func TestNormalCholeskySingular(t *testing.T) {
	// duplicated column makes the normal matrix singular
	a := NewCSC(2, 2, []Triplet{
		{0, 0, 1}, {0, 1, 1}, {1, 0, 1}, {1, 1, 1},
	})
	_, err := (&NormalCholesky{}).Solve(a, []float64{1, 1})
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
}
