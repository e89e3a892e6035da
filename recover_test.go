package alm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverIdentity(t *testing.T) {
	cat := pairCatalog(
		[]Component{{Elems: []int{0, 0}, Sign: 1}},
		[]Component{{Elems: []int{1, 1}, Sign: 1}},
	)
	in := []float64{1.5, -2.5}

	for _, cons := range []*Constraints{nil, {}} {
		full, err := Recover(in, cat, cons)
		require.NoError(t, err)
		assert.Equal(t, in, full)
	}

	// the result is a copy
	full, err := Recover(in, cat, nil)
	require.NoError(t, err)
	full[0] = 99
	assert.Equal(t, 1.5, in[0])
}

func TestRecoverOrdering(t *testing.T) {
	// class 0 fixed, class 2 free, class 1 depends on both:
	// value(1) = -(1.0*value(0) + 2.0*value(2))
	cat := pairCatalog(
		[]Component{{Elems: []int{0, 0}, Sign: 1}},
		[]Component{{Elems: []int{1, 1}, Sign: 1}},
		[]Component{{Elems: []int{2, 2}, Sign: 1}},
	)
	cons := &Constraints{
		Exist: true, Algebraic: true,
		Orders: []OrderConstraint{{
			Free:    []IndexPair{{Free: 0, Class: 2}},
			Fixed:   []FixedClass{{Class: 0, Value: 2.0}},
			Related: []Relation{{Class: 1, Refs: []int{0, 2}, Coef: []float64{1.0, 2.0}}},
		}},
	}
	require.NoError(t, cons.Check(cat))

	full, err := Recover([]float64{5}, cat, cons)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, -12, 5}, full, 1e-15)
}

func TestRecoverFixedZeroOrdering(t *testing.T) {
	cat := pairCatalog(
		[]Component{{Elems: []int{0, 0}, Sign: 1}},
		[]Component{{Elems: []int{1, 1}, Sign: 1}},
	)

	// the class storage order must not matter: fix class 0 or class 1 to
	// zero and the free value always lands on the other slot
	for _, tc := range []struct {
		name  string
		fixed int
		free  int
		want  []float64
	}{
		{"fixed first", 0, 1, []float64{0, 7}},
		{"fixed last", 1, 0, []float64{7, 0}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cons := &Constraints{
				Exist: true, Algebraic: true,
				Orders: []OrderConstraint{{
					Free:  []IndexPair{{Free: 0, Class: tc.free}},
					Fixed: []FixedClass{{Class: tc.fixed, Value: 0}},
				}},
			}
			require.NoError(t, cons.Check(cat))
			full, err := Recover([]float64{7}, cat, cons)
			require.NoError(t, err)
			assert.Equal(t, tc.want, full)
		})
	}
}

func TestRecoverTouchesEveryIndex(t *testing.T) {
	// distinct inputs everywhere: a gap or double-write would show up as a
	// wrong or repeated value
	cat := &Catalog{Orders: []OrderTable{
		{ClassSizes: []int{1, 1, 1}, Table: []Component{
			{Elems: []int{0, 0}, Sign: 1},
			{Elems: []int{1, 1}, Sign: 1},
			{Elems: []int{2, 2}, Sign: 1},
		}},
		{ClassSizes: []int{1, 1}, Table: []Component{
			{Elems: []int{0, 0, 0}, Sign: 1},
			{Elems: []int{0, 0, 1}, Sign: 1},
		}},
	}}
	cons := &Constraints{
		Exist: true, Algebraic: true,
		Orders: []OrderConstraint{
			{
				Free:    []IndexPair{{Free: 0, Class: 1}},
				Fixed:   []FixedClass{{Class: 0, Value: 11}},
				Related: []Relation{{Class: 2, Refs: []int{0, 1}, Coef: []float64{1, 1}}},
			},
			{
				Free:  []IndexPair{{Free: 0, Class: 0}},
				Fixed: []FixedClass{{Class: 1, Value: 31}},
			},
		},
	}
	require.NoError(t, cons.Check(cat))

	full, err := Recover([]float64{13, 17}, cat, cons)
	require.NoError(t, err)
	require.Len(t, full, cat.NumParams())
	assert.InDeltaSlice(t, []float64{11, 13, -24, 17, 31}, full, 1e-15)
}

func TestRecoverMultiOrder(t *testing.T) {
	cat := &Catalog{Orders: []OrderTable{
		{ClassSizes: []int{1}, Table: []Component{{Elems: []int{0, 0}, Sign: 1}}},
		{ClassSizes: []int{1, 1}, Table: []Component{
			{Elems: []int{0, 0, 0}, Sign: 1},
			{Elems: []int{0, 0, 1}, Sign: 1},
		}},
	}}
	cons := &Constraints{
		Exist: true, Algebraic: true,
		Orders: []OrderConstraint{
			{Free: []IndexPair{{Free: 0, Class: 0}}},
			{
				Free:    []IndexPair{{Free: 0, Class: 1}},
				Related: []Relation{{Class: 0, Refs: []int{1}, Coef: []float64{1}}},
			},
		},
	}
	require.NoError(t, cons.Check(cat))

	full, err := Recover([]float64{3, 7}, cat, cons)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, -7, 7}, full, 1e-15)
}

func TestRecoverDimensionErrors(t *testing.T) {
	cat := pairCatalog([]Component{{Elems: []int{0, 0}, Sign: 1}})

	_, err := Recover([]float64{1, 2}, cat, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	cons := &Constraints{
		Exist: true, Algebraic: true,
		Orders: []OrderConstraint{{Free: []IndexPair{{Free: 0, Class: 0}}}},
	}
	_, err = Recover([]float64{1, 2}, cat, cons)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
