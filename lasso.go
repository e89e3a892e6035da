package alm

import (
	"fmt"
	"io"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
)

// zeroTol is the magnitude below which a lasso coefficient counts as zero.
const zeroTol = 1e-15

// LassoOptions controls the L1-regularized fit.  The zero value is usable;
// unset numeric fields fall back to the defaults documented per field.
type LassoOptions struct {
	// Alpha is the regularization strength of a single fit.  Ignored when
	// CV is set.
	Alpha float64

	// CV sweeps a geometric grid of alphas from MaxAlpha down to MinAlpha
	// and records fitting and validation errors for each.
	CV bool

	// MinAlpha and MaxAlpha bound the grid.  MaxAlpha <= 0 means the
	// smallest alpha that zeroes every coefficient; MinAlpha <= 0 means
	// 1e-6 times MaxAlpha.
	MinAlpha, MaxAlpha float64

	// NumAlpha is the number of grid intervals; the sweep visits
	// NumAlpha+1 points.  Zero means 100.
	NumAlpha int

	// Tol is the RMS coefficient change below which coordinate descent
	// stops.  Zero means 1e-7.
	Tol float64

	// MaxIter caps coordinate-descent sweeps per alpha.  Zero means 100000.
	MaxIter int

	// DispNorm rescales displacements to order unity before fitting so the
	// penalty treats all orders comparably.  Zero means 1 (no scaling).
	DispNorm float64

	// Standardize centers and scales design-matrix columns before descent.
	Standardize bool

	// Debias refits the surviving coefficients by unpenalized least
	// squares after a single fit.
	Debias bool

	// OutputEvery logs descent progress every that many sweeps.  Zero
	// means 1000; negative disables progress logging.
	OutputEvery int

	// CVWriter, when non-nil, receives one line per alpha with the errors
	// and per-order zero counts.
	CVWriter io.Writer

	// PathWriter, when non-nil, receives the solution path: one line per
	// alpha with the physical reduced coefficients.
	PathWriter io.Writer

	// Log receives progress and warnings; nil means slog.Default().
	Log *slog.Logger
}

// DefaultLassoOptions returns the standard single-fit configuration.
func DefaultLassoOptions() LassoOptions {
	return LassoOptions{
		Alpha:       1.0,
		MinAlpha:    1e-3,
		MaxAlpha:    1.0,
		NumAlpha:    100,
		Tol:         1e-7,
		MaxIter:     100000,
		DispNorm:    1.0,
		Standardize: true,
		OutputEvery: 1000,
	}
}

// CVRecord is the outcome at one alpha of a cross-validation sweep.
type CVRecord struct {
	Alpha      float64
	FitError   float64
	ValidError float64
	// NumZero counts the zeroed free coefficients per order.
	NumZero []int
}

// LassoResult is the outcome of a lasso fit.
type LassoResult struct {
	// Params is the full irreducible force-constant vector.  In CV mode it
	// comes from the alpha with the smallest validation error.
	Params []float64
	// Records holds one entry per visited alpha; a single fit produces one.
	Records []CVRecord
	// Converged reports whether every descent met the tolerance within
	// MaxIter sweeps.
	Converged bool
	// LambdaMax is the smallest alpha at which all coefficients vanish.
	LambdaMax float64
}

// Lasso fits the reduced system with an L1 penalty by cyclic coordinate
// descent.  Constraints must be applied algebraically.  dispValid and
// forceValid supply the held-out set for CV mode and may be nil otherwise.
func (f *Fitter) Lasso(disp, force, dispValid, forceValid [][]float64, opts LassoOptions) (*LassoResult, error) {
	if !f.algebraic() {
		return nil, fmt.Errorf("%w: lasso needs algebraically applied constraints", ErrBadCatalog)
	}
	log := logOr(opts.Log)
	if opts.Tol <= 0 {
		opts.Tol = 1e-7
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 100000
	}
	if opts.NumAlpha <= 0 {
		opts.NumAlpha = 100
	}
	if opts.DispNorm <= 0 {
		opts.DispNorm = 1
	}
	if opts.OutputEvery == 0 {
		opts.OutputEvery = 1000
	}

	scaledCons := scaledConstraints(f.cons, opts.DispNorm)
	bld, err := NewBuilder(f.sym, f.cat, scaledCons)
	if err != nil {
		return nil, err
	}
	if err := bld.SetData(scaleRecords(disp, 1/opts.DispNorm), force); err != nil {
		return nil, err
	}
	a, bvec, fnorm, err := bld.BuildReduced()
	if err != nil {
		return nil, err
	}

	var av *ColMajor
	var bv []float64
	var fnormValid float64
	if opts.CV {
		if dispValid == nil || forceValid == nil {
			return nil, fmt.Errorf("%w: cross validation needs a held-out data set", ErrDimensionMismatch)
		}
		if err := bld.SetData(scaleRecords(dispValid, 1/opts.DispNorm), forceValid); err != nil {
			return nil, err
		}
		av, bv, fnormValid, err = bld.BuildReduced()
		if err != nil {
			return nil, err
		}
	}

	_, n := a.Dims()
	st := newCDState(a, bvec, opts.Standardize, log, opts.OutputEvery)
	if av != nil {
		st.std.apply(av)
	}

	lambdaMax := 0.0
	for i := 0; i < n; i++ {
		if v := math.Abs(st.c[i]); v > lambdaMax {
			lambdaMax = v
		}
	}
	lambdaMax *= st.minv
	log.Info("largest meaningful regularization strength", "lambda_max", lambdaMax)

	res := &LassoResult{Converged: true, LambdaMax: lambdaMax}
	beta := make([]float64, n)
	orderOf, perOrder := f.freeOrderMap()

	if opts.CV {
		if opts.MaxAlpha <= 0 {
			opts.MaxAlpha = lambdaMax
		}
		if opts.MinAlpha <= 0 {
			opts.MinAlpha = 1e-6 * opts.MaxAlpha
		}
		best := math.Inf(1)
		bestBeta := make([]float64, n)
		num := opts.NumAlpha
		for i := 0; i <= num; i++ {
			alpha := opts.MinAlpha * math.Pow(opts.MaxAlpha/opts.MinAlpha, float64(num-i)/float64(num))
			iters, ok := st.descend(beta, alpha, opts.Tol, opts.MaxIter)
			if !ok {
				res.Converged = false
				log.Warn("coordinate descent did not converge", "alpha", alpha, "sweeps", iters)
			}

			rec := CVRecord{
				Alpha:    alpha,
				FitError: residualNorm(a, beta, bvec) / fnorm,
				NumZero:  zeroCounts(beta, orderOf, perOrder),
			}
			if fnormValid > 0 {
				rec.ValidError = residualNorm(av, beta, bv) / fnormValid
			}
			res.Records = append(res.Records, rec)
			if rec.ValidError < best {
				best = rec.ValidError
				copy(bestBeta, beta)
			}
			log.Info("cross validation step", "alpha", alpha,
				"fit_error", rec.FitError, "valid_error", rec.ValidError, "sweeps", iters)

			if opts.CVWriter != nil {
				fmt.Fprintf(opts.CVWriter, "%15.7e %15.7e %15.7e", alpha, rec.FitError, rec.ValidError)
				for _, z := range rec.NumZero {
					fmt.Fprintf(opts.CVWriter, " %5d", z)
				}
				fmt.Fprintln(opts.CVWriter)
			}
			if opts.PathWriter != nil {
				writePath(opts.PathWriter, alpha, st.physical(beta, orderOf, opts.DispNorm))
			}
		}
		copy(beta, bestBeta)
	} else {
		iters, ok := st.descend(beta, opts.Alpha, opts.Tol, opts.MaxIter)
		res.Converged = ok
		if !ok {
			log.Warn("coordinate descent did not converge", "alpha", opts.Alpha, "sweeps", iters)
		}
		if opts.Debias {
			st.debias(beta, log)
		}
		rec := CVRecord{
			Alpha:    opts.Alpha,
			FitError: residualNorm(a, beta, bvec) / fnorm,
			NumZero:  zeroCounts(beta, orderOf, perOrder),
		}
		res.Records = append(res.Records, rec)
		log.Info("lasso fit finished", "alpha", opts.Alpha,
			"fit_error", rec.FitError, "sweeps", iters)
		if opts.PathWriter != nil {
			writePath(opts.PathWriter, opts.Alpha, st.physical(beta, orderOf, opts.DispNorm))
		}
	}

	phys := st.physical(beta, orderOf, opts.DispNorm)
	full, err := Recover(phys, f.cat, f.cons)
	if err != nil {
		return nil, err
	}
	res.Params = full
	return res, nil
}

// freeOrderMap returns, for every reduced parameter, the order it belongs to,
// plus the per-order free counts.
func (f *Fitter) freeOrderMap() (orderOf []int, perOrder []int) {
	perOrder = make([]int, len(f.cons.Orders))
	for oi := range f.cons.Orders {
		nf := len(f.cons.Orders[oi].Free)
		perOrder[oi] = nf
		for k := 0; k < nf; k++ {
			orderOf = append(orderOf, oi)
		}
	}
	return orderOf, perOrder
}

// zeroCounts counts the coefficients per order whose magnitude falls below
// zeroTol.
func zeroCounts(beta []float64, orderOf, perOrder []int) []int {
	out := make([]int, len(perOrder))
	for j, v := range beta {
		if math.Abs(v) < zeroTol {
			out[orderOf[j]]++
		}
	}
	return out
}

func writePath(w io.Writer, alpha float64, params []float64) {
	fmt.Fprintf(w, "%15.7e", alpha)
	for _, v := range params {
		fmt.Fprintf(w, " %15.7e", v)
	}
	fmt.Fprintln(w)
}

// scaleRecords returns a copy of the records with every value multiplied by s.
func scaleRecords(data [][]float64, s float64) [][]float64 {
	if s == 1 {
		return data
	}
	out := make([][]float64, len(data))
	for i, rec := range data {
		row := make([]float64, len(rec))
		for j, v := range rec {
			row[j] = v * s
		}
		out[i] = row
	}
	return out
}

// scaledConstraints rescales the fixed force-constant values into the unit
// system of displacements divided by s, so reduced assembly stays consistent
// with the rescaled design matrix.
func scaledConstraints(cons *Constraints, s float64) *Constraints {
	if s == 1 {
		return cons
	}
	cp := *cons
	cp.Orders = append([]OrderConstraint(nil), cons.Orders...)
	for oi := range cp.Orders {
		fac := math.Pow(s, float64(oi+1))
		fixed := append([]FixedClass(nil), cp.Orders[oi].Fixed...)
		for k := range fixed {
			fixed[k].Value *= fac
		}
		cp.Orders[oi].Fixed = fixed
	}
	return &cp
}

// standardizer holds per-column statistics of the fitting design matrix.  The
// factor is the reciprocal standard deviation, forced to 1 for columns with
// no spread so they pass through untouched.
type standardizer struct {
	enabled bool
	mean    []float64
	factor  []float64
}

func newStandardizer(a *ColMajor, enabled bool) *standardizer {
	m, n := a.Dims()
	s := &standardizer{
		enabled: enabled,
		mean:    make([]float64, n),
		factor:  make([]float64, n),
	}
	for j := 0; j < n; j++ {
		s.factor[j] = 1
	}
	if !enabled {
		return s
	}
	minv := 1 / float64(m)
	for j := 0; j < n; j++ {
		col := a.Col(j)
		mean := floats.Sum(col) * minv
		dev := 0.0
		for _, v := range col {
			d := v - mean
			dev += d * d
		}
		dev = math.Sqrt(dev * minv)
		s.mean[j] = mean
		if dev > 1e-8 {
			s.factor[j] = 1 / dev
		}
	}
	return s
}

// apply transforms a matrix in place with the stored statistics.
func (s *standardizer) apply(a *ColMajor) {
	if !s.enabled {
		return
	}
	_, n := a.Dims()
	for j := 0; j < n; j++ {
		col := a.Col(j)
		for i := range col {
			col[i] = (col[i] - s.mean[j]) * s.factor[j]
		}
	}
}

// cdState is the persistent state of cyclic coordinate descent on
// min ½‖Aβ−b‖² + αM‖β‖₁.  The gradient invariant grad = Aᵗb − AᵗA·β is
// maintained incrementally, and the columns of AᵗA are computed lazily the
// first time their coefficient moves, so a sparse solution touches only a
// fraction of the Gram matrix.
type cdState struct {
	a *ColMajor
	b []float64

	m, n int
	minv float64

	c    []float64 // Aᵗb
	grad []float64

	prod    *ColMajor
	hasProd []bool

	std       *standardizer
	scaleBeta []float64 // nil when standardized

	log         *slog.Logger
	outputEvery int
}

func newCDState(a *ColMajor, b []float64, standardize bool, log *slog.Logger, outputEvery int) *cdState {
	m, n := a.Dims()
	st := &cdState{
		a:           a,
		b:           b,
		m:           m,
		n:           n,
		minv:        1 / float64(m),
		prod:        NewColMajor(n, n),
		hasProd:     make([]bool, n),
		log:         log,
		outputEvery: outputEvery,
	}
	st.std = newStandardizer(a, standardize)
	st.std.apply(a)
	if !standardize {
		st.scaleBeta = make([]float64, n)
		for j := 0; j < n; j++ {
			col := a.Col(j)
			d := floats.Dot(col, col) * st.minv
			if d > 0 {
				st.scaleBeta[j] = 1 / d
			} else {
				st.scaleBeta[j] = 1
			}
		}
	}
	st.c = make([]float64, n)
	for j := 0; j < n; j++ {
		st.c[j] = floats.Dot(a.Col(j), b)
	}
	st.grad = append([]float64(nil), st.c...)
	return st
}

// fillProd computes column i of the Gram matrix AᵗA.
func (s *cdState) fillProd(i int) {
	ci := s.a.Col(i)
	out := s.prod.Col(i)
	for j := 0; j < s.n; j++ {
		out[j] = floats.Dot(s.a.Col(j), ci)
	}
	s.hasProd[i] = true
}

// descend runs coordinate descent from the warm start in x until the RMS
// coefficient change of a sweep falls below tol.  It reports the sweep count
// and whether the tolerance was met.
func (s *cdState) descend(x []float64, alpha, tol float64, maxIter int) (int, bool) {
	for iter := 1; iter <= maxIter; iter++ {
		diff2 := 0.0
		for i := 0; i < s.n; i++ {
			old := x[i]
			var xi float64
			if s.scaleBeta == nil {
				xi = shrink(s.minv*s.grad[i]+old, alpha)
			} else {
				sb := s.scaleBeta[i]
				xi = sb * shrink(s.minv*s.grad[i]+old/sb, alpha)
			}
			x[i] = xi
			if delta := old - xi; delta != 0 {
				if !s.hasProd[i] {
					s.fillProd(i)
				}
				floats.AddScaled(s.grad, delta, s.prod.Col(i))
				diff2 += delta * delta
			}
		}
		if math.Sqrt(diff2/float64(s.n)) < tol {
			return iter, true
		}
		if s.outputEvery > 0 && iter%s.outputEvery == 0 {
			s.log.Info("coordinate descent running",
				"sweep", iter, "rms_change", math.Sqrt(diff2/float64(s.n)))
		}
	}
	return maxIter, false
}

// debias refits the surviving coefficients by unpenalized least squares on
// the columns they select.  A failed refit keeps the penalized estimate.
func (s *cdState) debias(x []float64, log *slog.Logger) {
	var idx []int
	for j, v := range x {
		if math.Abs(v) >= zeroTol {
			idx = append(idx, j)
		}
	}
	if len(idx) == 0 {
		return
	}
	sub := NewColMajor(s.m, len(idx))
	for k, j := range idx {
		copy(sub.Col(k), s.a.Col(j))
	}
	sv := &SVDSolver{Log: log}
	w, err := sv.Solve(sub, s.b)
	if err != nil {
		log.Warn("debiasing refit failed; keeping the penalized estimate", "err", err)
		return
	}
	for j := range x {
		x[j] = 0
	}
	for k, j := range idx {
		x[j] = w[k]
	}
	log.Info("debiased surviving coefficients", "kept", len(idx), "rank", sv.Rank)
}

// physical converts a coefficient vector from the internal standardized and
// displacement-rescaled space back to physical force-constant units.
func (s *cdState) physical(beta []float64, orderOf []int, dispNorm float64) []float64 {
	out := make([]float64, len(beta))
	for j, v := range beta {
		v *= s.std.factor[j]
		if dispNorm != 1 {
			v /= math.Pow(dispNorm, float64(orderOf[j]+1))
		}
		out[j] = v
	}
	return out
}

// shrink is the soft-thresholding operator.
func shrink(x, a float64) float64 {
	ax := math.Abs(x)
	if ax <= a {
		return 0
	}
	return math.Copysign(ax-a, x)
}
