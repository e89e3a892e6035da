package alm

import "fmt"

// Recover expands a reduced (free-space) parameter vector into the full
// irreducible space described by cat.  Within each order, fixed classes are
// assigned their prescribed values first, then free classes receive their
// solved values through the bijection, and only then are dependent classes
// resolved from the already-assigned values.  That ordering is what makes the
// relations well defined; Check enforces that dependent classes never
// reference each other.
//
// A nil or empty constraint set makes Recover the identity on the class
// space.
func Recover(reduced []float64, cat *Catalog, cons *Constraints) ([]float64, error) {
	if err := cat.Check(); err != nil {
		return nil, err
	}
	nparams := cat.NumParams()

	if cons == nil || len(cons.Orders) == 0 {
		if len(reduced) != nparams {
			return nil, fmt.Errorf("%w: %d reduced parameters for %d classes",
				ErrDimensionMismatch, len(reduced), nparams)
		}
		full := make([]float64, nparams)
		copy(full, reduced)
		return full, nil
	}

	if err := cons.Check(cat); err != nil {
		return nil, err
	}
	if nfree := cons.NumFree(); len(reduced) != nfree {
		return nil, fmt.Errorf("%w: %d reduced parameters for %d free classes",
			ErrDimensionMismatch, len(reduced), nfree)
	}

	full := make([]float64, nparams)
	shift, ip := 0, 0
	for oi := range cat.Orders {
		oc := &cons.Orders[oi]
		for _, f := range oc.Fixed {
			full[shift+f.Class] = f.Value
		}
		for _, p := range oc.Free {
			full[shift+p.Class] = reduced[ip+p.Free]
		}
		for _, r := range oc.Related {
			tmp := 0.0
			for k, ref := range r.Refs {
				tmp += r.Coef[k] * full[shift+ref]
			}
			full[shift+r.Class] = -tmp
		}
		shift += cat.Orders[oi].NumClasses()
		ip += len(oc.Free)
	}
	return full, nil
}
