package alm

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/atztogo/ALM/sparse"
)

// sparseEps is the magnitude below which assembled matrix elements are not
// emitted as triplets on the sparse path.
const sparseEps = 1e-15

// Builder assembles the fitting design matrix and force vector from
// displacement/force samples.  The symmetry, catalogue, and constraints are
// fixed at construction; the sample set is replaced per fit with SetData.
type Builder struct {
	sym  *Symmetry
	cat  *Catalog
	cons *Constraints

	disp  [][]float64
	force [][]float64

	// per-order projection tables derived from cons, used on the reduced
	// paths
	freeIdx  []map[int]int
	fixedVal []map[int]float64
}

// NewBuilder validates the inputs and prepares the constraint projection
// tables.  cons may be nil when no constraints apply.
func NewBuilder(sym *Symmetry, cat *Catalog, cons *Constraints) (*Builder, error) {
	if err := sym.Check(); err != nil {
		return nil, err
	}
	if err := cat.Check(); err != nil {
		return nil, err
	}
	b := &Builder{sym: sym, cat: cat, cons: cons}
	if cons != nil && len(cons.Orders) > 0 {
		if err := cons.Check(cat); err != nil {
			return nil, err
		}
		b.freeIdx = make([]map[int]int, len(cons.Orders))
		b.fixedVal = make([]map[int]float64, len(cons.Orders))
		for oi := range cons.Orders {
			oc := &cons.Orders[oi]
			b.freeIdx[oi] = make(map[int]int, len(oc.Free))
			for _, p := range oc.Free {
				b.freeIdx[oi][p.Class] = p.Free
			}
			b.fixedVal[oi] = make(map[int]float64, len(oc.Fixed))
			for _, f := range oc.Fixed {
				b.fixedVal[oi][f.Class] = f.Value
			}
		}
	}
	return b, nil
}

// SetData replaces the sample set.  Each record must hold 3 values per
// supercell atom; displacements and forces are copied.
func (b *Builder) SetData(disp, force [][]float64) error {
	if len(disp) != len(force) {
		return fmt.Errorf("%w: %d displacement records, %d force records",
			ErrDimensionMismatch, len(disp), len(force))
	}
	want := 3 * b.sym.NumAtoms()
	b.disp = make([][]float64, len(disp))
	b.force = make([][]float64, len(force))
	for i := range disp {
		if len(disp[i]) != want || len(force[i]) != want {
			return fmt.Errorf("%w: record %d has %d/%d values, want %d",
				ErrDimensionMismatch, i, len(disp[i]), len(force[i]), want)
		}
		b.disp[i] = append([]float64(nil), disp[i]...)
		b.force[i] = append([]float64(nil), force[i]...)
	}
	return nil
}

// NumData returns the number of samples currently held.
func (b *Builder) NumData() int { return len(b.disp) }

// orbitExpand replicates every sample across the translation group.  For
// each translation the per-atom 3-vectors are scattered to their image
// atoms; values are moved, never altered.
func (b *Builder) orbitExpand(data [][]float64) [][]float64 {
	nat := b.sym.NumAtoms()
	out := make([][]float64, 0, len(data)*b.sym.NumTrans)
	for _, rec := range data {
		for t := 0; t < b.sym.NumTrans; t++ {
			row := make([]float64, 3*nat)
			for a := 0; a < nat; a++ {
				img := b.sym.AtomImage[t][a]
				copy(row[3*img:3*img+3], rec[3*a:3*a+3])
			}
			out = append(out, row)
		}
	}
	return out
}

// Build assembles the unreduced system: one column per equivalence class.
// The returned fnorm is the Euclidean norm of the force vector.
func (b *Builder) Build() (*ColMajor, []float64, float64, error) {
	res, err := b.assemble(false, false)
	if err != nil {
		return nil, nil, 0, err
	}
	return res.a, res.b, res.fnorm, nil
}

// BuildReduced assembles the system with the algebraic constraints
// eliminated: one column per free parameter.  Fixed-class contributions are
// folded into the right-hand side; fnorm is the norm of the unreduced force
// vector, for residual reporting in physical units.
func (b *Builder) BuildReduced() (*ColMajor, []float64, float64, error) {
	if b.cons == nil || !b.cons.Algebraic {
		return nil, nil, 0, fmt.Errorf("%w: reduced assembly needs algebraic constraints", ErrBadCatalog)
	}
	res, err := b.assemble(true, false)
	if err != nil {
		return nil, nil, 0, err
	}
	return res.a, res.b, res.fnorm, nil
}

// BuildSparse assembles the reduced system in sparse triplet form, dropping
// entries of magnitude below sparseEps.
func (b *Builder) BuildSparse() (*sparse.CSC, []float64, float64, error) {
	if b.cons == nil || !b.cons.Algebraic {
		return nil, nil, 0, fmt.Errorf("%w: sparse assembly needs algebraic constraints", ErrBadCatalog)
	}
	res, err := b.assemble(true, true)
	if err != nil {
		return nil, nil, 0, err
	}
	nrows := len(res.b)
	return sparse.NewCSC(nrows, b.cons.NumFree(), res.trips), res.b, res.fnorm, nil
}

type assembled struct {
	a     *ColMajor
	trips []sparse.Triplet
	b     []float64
	fnorm float64
}

// assemble runs the shared parallel row loop.  Every orbit-sample
// contributes 3*NumPrim rows; workers own private scratch blocks and write
// disjoint row ranges, so the dense path needs no locking.  The sparse path
// merges per-worker triplet lists under a mutex at the end of each chunk.
func (b *Builder) assemble(reduce, emitSparse bool) (*assembled, error) {
	uorb := b.orbitExpand(b.disp)
	forb := b.orbitExpand(b.force)

	natmin3 := 3 * b.sym.NumPrim
	ncycle := len(uorb)
	ncols := b.cat.NumParams()
	ncolsOut := ncols
	if reduce {
		ncolsOut = b.cons.NumFree()
	}

	out := &assembled{b: make([]float64, natmin3*ncycle)}
	if !emitSparse {
		out.a = NewColMajor(natmin3*ncycle, ncolsOut)
	}
	borig := make([]float64, natmin3*ncycle)

	var mu sync.Mutex
	var g errgroup.Group
	nworkers := min(runtime.GOMAXPROCS(0), max(ncycle, 1))
	chunk := (ncycle + nworkers - 1) / nworkers

	for w := 0; w < nworkers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, ncycle)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			scratch := make([]float64, natmin3*ncols)
			var mod []float64
			if reduce {
				mod = make([]float64, natmin3*ncolsOut)
			}
			var local []sparse.Triplet

			for irow := lo; irow < hi; irow++ {
				base := natmin3 * irow
				for i := 0; i < b.sym.NumPrim; i++ {
					iat := b.sym.PrimToSuper[i]
					for j := 0; j < 3; j++ {
						out.b[base+3*i+j] = forb[irow][3*iat+j]
						borig[base+3*i+j] = forb[irow][3*iat+j]
					}
				}

				zero(scratch)
				if err := b.scatterRow(uorb[irow], scratch, ncols); err != nil {
					return err
				}

				block := scratch
				if reduce {
					zero(mod)
					b.projectRow(scratch, ncols, mod, ncolsOut, out.b[base:base+natmin3])
					block = mod
				}

				if emitSparse {
					for i := 0; i < natmin3; i++ {
						for j := 0; j < ncolsOut; j++ {
							if v := block[i*ncolsOut+j]; v > sparseEps || v < -sparseEps {
								local = append(local, sparse.Triplet{Row: base + i, Col: j, Val: v})
							}
						}
					}
				} else {
					for i := 0; i < natmin3; i++ {
						for j := 0; j < ncolsOut; j++ {
							out.a.Set(base+i, j, block[i*ncolsOut+j])
						}
					}
				}
			}

			if emitSparse {
				mu.Lock()
				out.trips = append(out.trips, local...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out.fnorm = floats.Norm(borig, 2)
	return out, nil
}

// scatterRow accumulates the class-space contributions of one orbit sample
// into scratch, a 3*NumPrim-by-ncols row-major block.  Each raw component
// adds -gamma*sign*(product of displacements at its non-leading indices) at
// [leading primitive row, class column].
func (b *Builder) scatterRow(u []float64, scratch []float64, ncols int) error {
	iparam := 0
	for oi := range b.cat.Orders {
		ord := &b.cat.Orders[oi]
		mm := 0
		for _, size := range ord.ClassSizes {
			for i := 0; i < size; i++ {
				comp := &ord.Table[mm]
				k := b.sym.inPrim(comp.Elems[0])
				if k < 0 {
					return fmt.Errorf("%w: component leads on atom %d, not a primitive representative",
						ErrBadCatalog, comp.Elems[0]/3)
				}
				prod := 1.0
				for _, e := range comp.Elems[1:] {
					prod *= u[e]
				}
				scratch[k*ncols+iparam] -= gamma(comp.Elems) * comp.Sign * prod
				mm++
			}
			iparam++
		}
	}
	return nil
}

// projectRow converts one scratch block from class-column space into
// free-parameter-column space: fixed classes move to the right-hand side,
// free classes copy through the bijection, and dependent classes fold their
// signed combinations into the columns they depend on.
func (b *Builder) projectRow(scratch []float64, ncols int, mod []float64, ncolsNew int, bseg []float64) {
	natmin3 := len(bseg)
	ishift, iparam := 0, 0
	for oi := range b.cat.Orders {
		oc := &b.cons.Orders[oi]

		for _, f := range oc.Fixed {
			col := ishift + f.Class
			for j := 0; j < natmin3; j++ {
				bseg[j] -= f.Value * scratch[j*ncols+col]
			}
		}

		for _, p := range oc.Free {
			newc := iparam + p.Free
			oldc := ishift + p.Class
			for j := 0; j < natmin3; j++ {
				mod[j*ncolsNew+newc] = scratch[j*ncols+oldc]
			}
		}

		for _, r := range oc.Related {
			oldc := ishift + r.Class
			for k, ref := range r.Refs {
				if free, ok := b.freeIdx[oi][ref]; ok {
					newc := iparam + free
					for j := 0; j < natmin3; j++ {
						mod[j*ncolsNew+newc] -= scratch[j*ncols+oldc] * r.Coef[k]
					}
					continue
				}
				// reference to a fixed class: the dependent value contributes
				// a known constant, so it belongs on the right-hand side
				fv := b.fixedVal[oi][ref]
				for j := 0; j < natmin3; j++ {
					bseg[j] += r.Coef[k] * fv * scratch[j*ncols+oldc]
				}
			}
		}

		ishift += b.cat.Orders[oi].NumClasses()
		iparam += len(oc.Free)
	}
}

func zero(s []float64) {
	for i := range s {
		s[i] = 0
	}
}
