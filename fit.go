package alm

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/atztogo/ALM/sparse"
)

// FitOptions selects the solving path for a fit.  The zero value fits the
// densest path available for the constraint set; DefaultFitOptions wires the
// standard sparse backend as well.
type FitOptions struct {
	// Sparse selects the sparse normal-equation path.  It is honored only
	// when the constraints are applied algebraically; otherwise the dense
	// path is used and a warning is logged.
	Sparse bool

	// SparseSolver is the backend for the sparse path.  Requesting Sparse
	// with a nil SparseSolver is a configuration error reported before any
	// computation.
	SparseSolver sparse.Solver

	// RankTol is the pivot tolerance of the equality-constrained rank check;
	// zero means the package default.
	RankTol float64

	// Log receives progress and warnings; nil means slog.Default().
	Log *slog.Logger
}

// DefaultFitOptions returns options with the normal-equation Cholesky
// backend wired for the sparse path.
func DefaultFitOptions() FitOptions {
	return FitOptions{SparseSolver: &sparse.NormalCholesky{}}
}

// Fitter fits force constants for one symmetry/catalogue/constraint triple.
// It is immutable once constructed; every fit takes its sample data as
// arguments and returns its outcome in a Result, so a Fitter is safe to
// reuse across fits.
type Fitter struct {
	sym  *Symmetry
	cat  *Catalog
	cons *Constraints
	opts FitOptions
}

// NewFitter validates the inputs and returns a ready Fitter.  cons may be
// nil when no constraints apply.
func NewFitter(sym *Symmetry, cat *Catalog, cons *Constraints, opts FitOptions) (*Fitter, error) {
	if err := sym.Check(); err != nil {
		return nil, err
	}
	if err := cat.Check(); err != nil {
		return nil, err
	}
	if cons != nil && len(cons.Orders) > 0 {
		if err := cons.Check(cat); err != nil {
			return nil, err
		}
	}
	return &Fitter{sym: sym, cat: cat, cons: cons, opts: opts}, nil
}

// Result is the outcome of one fit.
type Result struct {
	// Params holds the full irreducible force-constant vector.
	Params []float64
	// Rank is the numerical rank reported by the solve.
	Rank int
	// RankDeficient is set when the solve warned that the solution is not
	// unique; the Params are still the minimum-norm answer.
	RankDeficient bool
	// Residual is ‖A·x−b‖₂ of the solved system.
	Residual float64
	// FitError is Residual divided by the norm of the unreduced force
	// vector, so the error is reported in physical units on every path.
	FitError float64
	// NumData is the number of samples used by the fit.
	NumData int
}

// algebraic reports whether constraints are eliminated during assembly.
func (f *Fitter) algebraic() bool {
	return f.cons != nil && f.cons.Algebraic && len(f.cons.Orders) > 0
}

// Fit runs the main fit: it assembles the design matrix from the samples and
// solves it on the path selected by the constraints and options, returning
// the full force-constant vector.
func (f *Fitter) Fit(disp, force [][]float64) (*Result, error) {
	log := logOr(f.opts.Log)

	useSparse := f.opts.Sparse
	if useSparse && !f.algebraic() {
		log.Warn("sparse path works only with algebraic constraints; using the dense solver")
		useSparse = false
	}
	if useSparse && f.opts.SparseSolver == nil {
		return nil, ErrNoSparseSolver
	}

	bld, err := NewBuilder(f.sym, f.cat, f.cons)
	if err != nil {
		return nil, err
	}
	if err := bld.SetData(disp, force); err != nil {
		return nil, err
	}

	log.Info("fitting", "samples", bld.NumData(), "parameters", f.cat.NumParams())

	switch {
	case useSparse:
		return f.fitSparse(bld)
	case f.algebraic():
		return f.fitReduced(bld)
	case f.cons != nil && f.cons.Exist:
		return f.fitConstrained(bld)
	default:
		return f.fitPlain(bld)
	}
}

// fitPlain solves the unreduced system by SVD.
func (f *Fitter) fitPlain(bld *Builder) (*Result, error) {
	a, b, fnorm, err := bld.Build()
	if err != nil {
		return nil, err
	}
	sv := &SVDSolver{Log: f.opts.Log}
	x, err := sv.Solve(a, b)
	if err != nil {
		return nil, err
	}
	_, n := a.Dims()
	res := f.result(bld, x, sv.Rank, sv.Residual, fnorm)
	res.RankDeficient = sv.Rank < n
	return res, nil
}

// fitConstrained solves the unreduced system subject to the explicit
// constraint matrix.
func (f *Fitter) fitConstrained(bld *Builder) (*Result, error) {
	if f.cons.C == nil {
		return nil, fmt.Errorf("%w: explicit constraints without a constraint matrix", ErrBadCatalog)
	}
	a, b, fnorm, err := bld.Build()
	if err != nil {
		return nil, err
	}
	lse := &LSESolver{C: f.cons.C, D: f.cons.D, RankTol: f.opts.RankTol, Log: f.opts.Log}
	x, err := lse.Solve(a, b)
	if err != nil {
		return nil, err
	}
	_, n := a.Dims()
	res := f.result(bld, x, lse.rank, lse.residual, fnorm)
	res.RankDeficient = lse.rank < n
	return res, nil
}

// fitReduced solves the algebraically reduced system by SVD and expands the
// solution back to the full space.
func (f *Fitter) fitReduced(bld *Builder) (*Result, error) {
	a, b, fnorm, err := bld.BuildReduced()
	if err != nil {
		return nil, err
	}
	sv := &SVDSolver{Log: f.opts.Log}
	x, err := sv.Solve(a, b)
	if err != nil {
		return nil, err
	}
	full, err := Recover(x, f.cat, f.cons)
	if err != nil {
		return nil, err
	}
	res := f.result(bld, full, sv.Rank, sv.Residual, fnorm)
	_, n := a.Dims()
	res.RankDeficient = sv.Rank < n
	return res, nil
}

// fitSparse assembles triplets, solves the normal equations with the
// configured sparse backend, and expands the solution.  A failed
// factorization is fatal for the call: no parameter vector is produced.
func (f *Fitter) fitSparse(bld *Builder) (*Result, error) {
	a, b, fnorm, err := bld.BuildSparse()
	if err != nil {
		return nil, err
	}
	log := logOr(f.opts.Log)
	log.Info("solving least-squares problem with the sparse backend",
		"nonzeros", a.NumNonZero())

	x, err := f.opts.SparseSolver.Solve(a, b)
	if err != nil {
		return nil, fmt.Errorf("sparse fit failed: %w", err)
	}
	log.Info("sparse solve finished", "status", f.opts.SparseSolver.Status())

	full, err := Recover(x, f.cat, f.cons)
	if err != nil {
		return nil, err
	}

	r := a.MulVec(x)
	res2 := 0.0
	for i := range r {
		d := r[i] - b[i]
		res2 += d * d
	}
	_, n := a.Dims()
	return f.result(bld, full, n, math.Sqrt(res2), fnorm), nil
}

func (f *Fitter) result(bld *Builder, params []float64, rank int, residual, fnorm float64) *Result {
	res := &Result{
		Params:   params,
		Rank:     rank,
		Residual: residual,
		NumData:  bld.NumData(),
	}
	if fnorm > 0 {
		res.FitError = residual / fnorm
	}
	return res
}

// SetFCValues expands a caller-supplied reduced parameter vector into the
// full irreducible space without running a fit.
func (f *Fitter) SetFCValues(reduced []float64) ([]float64, error) {
	return Recover(reduced, f.cat, f.cons)
}
