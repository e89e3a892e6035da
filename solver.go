package alm

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/lapack/lapack64"
	"gonum.org/v1/gonum/mat"
)

// machEps is the double-precision machine epsilon used for default rank
// tolerances.
const machEps = 2.220446049250313e-16

// rankTolDefault is the pivot tolerance of the stacked-system rank estimate.
const rankTolDefault = 1e-12

// Solver is the dense linear-algebra capability a fitting path needs: solve
// a least-squares system and describe what happened.  Implementations are
// stateless with respect to inputs; the small amount of state they keep
// (rank, residual) records the most recent solve for Status.
type Solver interface {
	Solve(a mat.Matrix, b []float64) (x []float64, err error)
	Status() string
}

// SVDSolver minimizes ‖Ax−b‖₂ by singular value decomposition.  When A is
// rank-deficient it logs a warning and returns the minimum-norm solution;
// rank deficiency is reported, not fatal.
type SVDSolver struct {
	// Log receives progress and warnings; nil means slog.Default().
	Log *slog.Logger

	// Rank and Residual describe the most recent solve.
	Rank     int
	Residual float64
}

// Status describes the most recent solve.
func (s *SVDSolver) Status() string {
	return fmt.Sprintf("SVD rank %d, residual %.6g", s.Rank, s.Residual)
}

// Solve implements Solver.
func (s *SVDSolver) Solve(a mat.Matrix, b []float64) ([]float64, error) {
	m, n := a.Dims()
	if len(b) != m {
		return nil, fmt.Errorf("%w: %d rows, %d rhs entries", ErrDimensionMismatch, m, len(b))
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return nil, fmt.Errorf("alm: SVD failed to converge")
	}
	sv := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// singular values below max(M,N)*eps*s_max count as zero
	tol := float64(max(m, n)) * machEps * sv[0]
	rank := 0
	for _, s := range sv {
		if s > tol {
			rank++
		}
	}
	s.Rank = rank

	// minimum-norm solution x = V·S⁺·Uᵗ·b
	x := make([]float64, n)
	for i := 0; i < rank; i++ {
		ci := 0.0
		for r := 0; r < m; r++ {
			ci += u.At(r, i) * b[r]
		}
		ci /= sv[i]
		for r := 0; r < n; r++ {
			x[r] += ci * v.At(r, i)
		}
	}

	log := logOr(s.Log)
	log.Info("SVD finished", "rank", rank, "parameters", n)
	if rank < n {
		log.Warn("matrix is rank-deficient; force constants are not determined uniquely",
			"rank", rank, "parameters", n)
	}

	r := mulVec(a, x)
	floats.Sub(r, b)
	s.Residual = floats.Norm(r, 2)
	if rank == n {
		bnorm := floats.Norm(b, 2)
		if bnorm > 0 {
			log.Info("residual sum of squares for the solution",
				"residual", s.Residual, "fit error %", 100*s.Residual/bnorm)
		}
	}
	return x, nil
}

// LSESolver minimizes ‖Ax−b‖₂ subject to the equality constraints C·x = D.
// Before solving it estimates the rank of the stacked [A; C] system by
// column-pivoted QR; a deficient rank is logged as a warning and the solve
// proceeds anyway, mirroring the documented limitation of the method.
type LSESolver struct {
	C mat.Matrix
	D []float64

	// RankTol scales the leading pivot to form the rank threshold; zero
	// means rankTolDefault.
	RankTol float64

	// Log receives progress and warnings; nil means slog.Default().
	Log *slog.Logger

	rank     int
	residual float64
}

// Status describes the most recent solve.
func (s *LSESolver) Status() string {
	return fmt.Sprintf("stacked rank %d, residual %.6g", s.rank, s.residual)
}

// Solve implements Solver.
func (s *LSESolver) Solve(a mat.Matrix, b []float64) ([]float64, error) {
	m, n := a.Dims()
	p, nc := s.C.Dims()
	if nc != n || len(s.D) != p || len(b) != m {
		return nil, fmt.Errorf("%w: A is %dx%d, C is %dx%d, |b|=%d, |d|=%d",
			ErrDimensionMismatch, m, n, p, nc, len(b), len(s.D))
	}
	if p > n {
		return nil, fmt.Errorf("%w: %d constraints on %d parameters", ErrDimensionMismatch, p, n)
	}

	log := logOr(s.Log)
	tol := s.RankTol
	if tol == 0 {
		tol = rankTolDefault
	}
	s.rank = stackedRank(a, s.C, tol)
	if s.rank != n {
		log.Warn("stacked fitting+constraint system is rank-deficient; the solution may be unreliable",
			"rank", s.rank, "parameters", n)
	}

	// QR of Cᵗ splits parameter space into the constraint range and its
	// null space.
	ct := mat.DenseCopyOf(s.C.T())
	var qr mat.QR
	qr.Factorize(ct)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	// particular solution: solve R₁ᵗ·y = d, x0 = Q₁·y
	y := make([]float64, p)
	for i := 0; i < p; i++ {
		sum := s.D[i]
		for k := 0; k < i; k++ {
			sum -= r.At(k, i) * y[k]
		}
		rii := r.At(i, i)
		if rii == 0 {
			return nil, fmt.Errorf("alm: constraint matrix is rank-deficient at row %d", i)
		}
		y[i] = sum / rii
	}
	x0 := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := 0.0
		for k := 0; k < p; k++ {
			sum += q.At(i, k) * y[k]
		}
		x0[i] = sum
	}

	if p == n {
		// fully determined by the constraints
		s.residual = residualNorm(a, x0, b)
		return x0, nil
	}

	// reduced problem in the null space: min ‖(A·Z)w − (b − A·x0)‖
	z := q.Slice(0, n, p, n).(*mat.Dense)
	var az mat.Dense
	az.Mul(a, z)
	rhs := mulVec(a, x0)
	for i := range rhs {
		rhs[i] = b[i] - rhs[i]
	}
	inner := &SVDSolver{Log: s.Log}
	w, err := inner.Solve(&az, rhs)
	if err != nil {
		return nil, err
	}

	x := make([]float64, n)
	copy(x, x0)
	for i := 0; i < n; i++ {
		for k := 0; k < n-p; k++ {
			x[i] += z.At(i, k) * w[k]
		}
	}
	s.residual = residualNorm(a, x, b)
	log.Info("constrained fit finished", "residual", s.residual)
	return x, nil
}

// stackedRank returns the numerical rank of [A; C] revealed by column-pivoted
// QR: the count of diagonal pivots whose magnitude exceeds tol times the
// leading pivot.
func stackedRank(a, c mat.Matrix, tol float64) int {
	m, n := a.Dims()
	p, _ := c.Dims()
	rows := m + p

	g := blas64.General{Rows: rows, Cols: n, Stride: n, Data: make([]float64, rows*n)}
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			g.Data[i*n+j] = a.At(i, j)
		}
	}
	for i := 0; i < p; i++ {
		for j := 0; j < n; j++ {
			g.Data[(m+i)*n+j] = c.At(i, j)
		}
	}

	jpvt := make([]int, n)
	for i := range jpvt {
		jpvt[i] = -1
	}
	nmin := min(rows, n)
	tau := make([]float64, nmin)
	work := make([]float64, 1)
	lapack64.Geqp3(g, jpvt, tau, work, -1)
	work = make([]float64, int(work[0]))
	lapack64.Geqp3(g, jpvt, tau, work, len(work))

	lead := math.Abs(g.Data[0])
	if lead < machEps {
		return 0
	}
	rank := 0
	for i := 0; i < nmin; i++ {
		if math.Abs(g.Data[i*n+i]) > tol*lead {
			rank++
		}
	}
	return rank
}

// mulVec returns A·x for any mat.Matrix.
func mulVec(a mat.Matrix, x []float64) []float64 {
	if cm, ok := a.(*ColMajor); ok {
		return cm.MulVec(x)
	}
	m, n := a.Dims()
	y := make([]float64, m)
	for i := 0; i < m; i++ {
		s := 0.0
		for j := 0; j < n; j++ {
			s += a.At(i, j) * x[j]
		}
		y[i] = s
	}
	return y
}

func residualNorm(a mat.Matrix, x, b []float64) float64 {
	r := mulVec(a, x)
	floats.Sub(r, b)
	return floats.Norm(r, 2)
}

func logOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
