package sparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCSC(t *testing.T) {
	// out-of-order entries and one duplicate
	trips := []Triplet{
		{Row: 2, Col: 1, Val: 5},
		{Row: 0, Col: 0, Val: 1},
		{Row: 1, Col: 0, Val: 2},
		{Row: 0, Col: 0, Val: 3},
	}
	m := NewCSC(3, 2, trips)

	r, c := m.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 3, m.NumNonZero())
	assert.Equal(t, 4.0, m.At(0, 0))
	assert.Equal(t, 2.0, m.At(1, 0))
	assert.Equal(t, 5.0, m.At(2, 1))
	assert.Equal(t, 0.0, m.At(2, 0))
	assert.Equal(t, 0.0, m.At(0, 1))
}

func TestNewCSCEmpty(t *testing.T) {
	m := NewCSC(2, 2, nil)
	assert.Equal(t, 0, m.NumNonZero())
	assert.Equal(t, 0.0, m.At(1, 1))
}

func TestCSCMulVec(t *testing.T) {
	// A = [1 0; 2 3; 0 4]
	m := NewCSC(3, 2, []Triplet{
		{0, 0, 1}, {1, 0, 2}, {1, 1, 3}, {2, 1, 4},
	})

	y := m.MulVec([]float64{2, -1})
	assert.InDeltaSlice(t, []float64{2, 1, -4}, y, 1e-15)

	x := m.MulTVec([]float64{1, 1, 1})
	assert.InDeltaSlice(t, []float64{3, 7}, x, 1e-15)
}

func TestNormal(t *testing.T) {
	// A = [1 0; 2 3; 0 4], b = [1 1 1]
	a := NewCSC(3, 2, []Triplet{
		{0, 0, 1}, {1, 0, 2}, {1, 1, 3}, {2, 1, 4},
	})
	ata, atb := Normal(a, []float64{1, 1, 1})

	// AtA = [5 6; 6 25]
	assert.InDelta(t, 5.0, ata.At(0, 0), 1e-15)
	assert.InDelta(t, 6.0, ata.At(0, 1), 1e-15)
	assert.InDelta(t, 6.0, ata.At(1, 0), 1e-15)
	assert.InDelta(t, 25.0, ata.At(1, 1), 1e-15)
	assert.InDeltaSlice(t, []float64{3, 7}, atb, 1e-15)
}

func TestMatrixSet(t *testing.T) {
	m := New(3)
	m.Set(0, 1, 2.5)
	m.Set(2, 1, -1)
	assert.Equal(t, 2.5, m.At(0, 1))
	assert.Equal(t, 2, m.NumNonZero())

	// values below the drop threshold delete the entry
	m.Set(0, 1, 1e-20)
	assert.Equal(t, 0.0, m.At(0, 1))
	assert.Equal(t, 1, m.NumNonZero())

	assert.Len(t, m.NonzeroRows(1), 1)
	assert.Len(t, m.NonzeroCols(2), 1)
}

func TestMatrixMulVec(t *testing.T) {
	m := New(2)
	m.Set(0, 0, 1)
	m.Set(0, 1, 2)
	m.Set(1, 1, 3)
	assert.InDeltaSlice(t, []float64{5, 6}, m.MulVec([]float64{1, 2}), 1e-15)
}

func TestCSCRoundTripThroughAt(t *testing.T) {
	trips := []Triplet{
		{0, 0, 1.5}, {2, 0, -2}, {1, 2, 4}, {3, 3, 0.5},
	}
	m := NewCSC(4, 4, trips)
	require.Equal(t, 4, m.NumNonZero())
	for _, tr := range trips {
		assert.Equal(t, tr.Val, m.At(tr.Row, tr.Col))
	}
}
