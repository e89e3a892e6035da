package alm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/atztogo/ALM/sparse"
)

func diagCatalog() *Catalog {
	return pairCatalog(
		[]Component{{Elems: []int{0, 0}, Sign: 1}},
		[]Component{{Elems: []int{1, 1}, Sign: 1}},
	)
}

func allFreeCons() *Constraints {
	return &Constraints{
		Exist: true, Algebraic: true,
		Orders: []OrderConstraint{{
			Free: []IndexPair{{Free: 0, Class: 0}, {Free: 1, Class: 1}},
		}},
	}
}

// springData samples F = -phi*u for the two diagonal couplings.
func springData(phiXX, phiYY float64) (disp, force [][]float64) {
	disp = [][]float64{{0.5, 0.3, 0}, {0.2, 0.4, 0}}
	force = make([][]float64, len(disp))
	for i, u := range disp {
		force[i] = []float64{-phiXX * u[0], -phiYY * u[1], 0}
	}
	return disp, force
}

func TestFitPlain(t *testing.T) {
	cat := pairCatalog([]Component{{Elems: []int{0, 0}, Sign: 1}})
	f, err := NewFitter(oneAtom(), cat, nil, FitOptions{})
	require.NoError(t, err)

	disp := [][]float64{{0.5, 0, 0}, {1, 0, 0}}
	force := [][]float64{{-1.5, 0, 0}, {-3, 0, 0}}
	res, err := f.Fit(disp, force)
	require.NoError(t, err)

	assert.InDeltaSlice(t, []float64{3}, res.Params, 1e-12)
	assert.Equal(t, 1, res.Rank)
	assert.False(t, res.RankDeficient)
	assert.InDelta(t, 0, res.FitError, 1e-12)
	assert.Equal(t, 2, res.NumData)
}

func TestFitReduced(t *testing.T) {
	t.Run("all free", func(t *testing.T) {
		f, err := NewFitter(oneAtom(), diagCatalog(), allFreeCons(), FitOptions{})
		require.NoError(t, err)

		disp, force := springData(2, 4)
		res, err := f.Fit(disp, force)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{2, 4}, res.Params, 1e-12)
		assert.False(t, res.RankDeficient)
	})

	t.Run("fixed and free", func(t *testing.T) {
		cons := &Constraints{
			Exist: true, Algebraic: true,
			Orders: []OrderConstraint{{
				Free:  []IndexPair{{Free: 0, Class: 1}},
				Fixed: []FixedClass{{Class: 0, Value: 2}},
			}},
		}
		f, err := NewFitter(oneAtom(), diagCatalog(), cons, FitOptions{})
		require.NoError(t, err)

		disp, force := springData(2, 4)
		res, err := f.Fit(disp, force)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{2, 4}, res.Params, 1e-12)
		assert.InDelta(t, 0, res.FitError, 1e-12)
	})
}

func TestFitConstrained(t *testing.T) {
	// equal couplings enforced through the explicit constraint x0 - x1 = 0
	cons := &Constraints{
		Exist: true,
		C:     mat.NewDense(1, 2, []float64{1, -1}),
		D:     []float64{0},
	}
	f, err := NewFitter(oneAtom(), diagCatalog(), cons, FitOptions{})
	require.NoError(t, err)

	disp, force := springData(3, 3)
	res, err := f.Fit(disp, force)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3, 3}, res.Params, 1e-10)
	assert.InDelta(t, res.Params[0], res.Params[1], 1e-12)
}

func TestFitSparse(t *testing.T) {
	disp, force := springData(2, 4)

	dense, err := NewFitter(oneAtom(), diagCatalog(), allFreeCons(), FitOptions{})
	require.NoError(t, err)
	dres, err := dense.Fit(disp, force)
	require.NoError(t, err)

	sp, err := NewFitter(oneAtom(), diagCatalog(), allFreeCons(), DefaultFitOptions())
	require.NoError(t, err)
	sp.opts.Sparse = true
	sres, err := sp.Fit(disp, force)
	require.NoError(t, err)

	assert.InDeltaSlice(t, dres.Params, sres.Params, 1e-10)
	assert.InDelta(t, dres.FitError, sres.FitError, 1e-10)
}

func TestFitSparseNeedsBackend(t *testing.T) {
	f, err := NewFitter(oneAtom(), diagCatalog(), allFreeCons(), FitOptions{Sparse: true})
	require.NoError(t, err)
	disp, force := springData(2, 4)
	_, err = f.Fit(disp, force)
	assert.ErrorIs(t, err, ErrNoSparseSolver)
}

func TestFitSparseFallsBackWithoutAlgebraic(t *testing.T) {
	cat := pairCatalog([]Component{{Elems: []int{0, 0}, Sign: 1}})
	opts := DefaultFitOptions()
	opts.Sparse = true
	f, err := NewFitter(oneAtom(), cat, nil, opts)
	require.NoError(t, err)

	disp := [][]float64{{0.5, 0, 0}, {1, 0, 0}}
	force := [][]float64{{-1.5, 0, 0}, {-3, 0, 0}}
	res, err := f.Fit(disp, force)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{3}, res.Params, 1e-12)
}

func TestSetFCValues(t *testing.T) {
	cons := &Constraints{
		Exist: true, Algebraic: true,
		Orders: []OrderConstraint{{
			Free:  []IndexPair{{Free: 0, Class: 1}},
			Fixed: []FixedClass{{Class: 0, Value: 2}},
		}},
	}
	f, err := NewFitter(oneAtom(), diagCatalog(), cons, FitOptions{})
	require.NoError(t, err)

	full, err := f.SetFCValues([]float64{7})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 7}, full, 1e-15)
}

func TestNewFitterValidates(t *testing.T) {
	badSym := &Symmetry{NumPrim: 0, NumTrans: 1}
	_, err := NewFitter(badSym, diagCatalog(), nil, FitOptions{})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	badCat := pairCatalog([]Component{{Elems: []int{0}, Sign: 1}})
	_, err = NewFitter(oneAtom(), badCat, nil, FitOptions{})
	assert.ErrorIs(t, err, ErrBadCatalog)
}

func TestDefaultFitOptions(t *testing.T) {
	opts := DefaultFitOptions()
	_, ok := opts.SparseSolver.(*sparse.NormalCholesky)
	assert.True(t, ok)
}
