package alm

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Component is one raw force-constant component belonging to an equivalence
// class.  Elems holds the coordinate multi-index, one entry per interacting
// body, encoded as 3*atom+axis in supercell numbering.  Elems[0] is the
// leading index: the row of the design matrix the component contributes to.
type Component struct {
	Elems []int
	Sign  float64
}

// OrderTable is the equivalence-class catalogue for one interaction order
// (pairwise, three-body, ...).
type OrderTable struct {
	// ClassSizes[c] is the number of raw components that share the
	// irreducible value of class c.
	ClassSizes []int
	// Table lists all components class by class; its length is the sum of
	// ClassSizes.
	Table []Component
}

// NumClasses returns the number of equivalence classes in the order.
func (o *OrderTable) NumClasses() int { return len(o.ClassSizes) }

// Catalog is the full per-order equivalence-class catalogue produced by the
// symmetry analysis.
type Catalog struct {
	Orders []OrderTable
}

// NumParams returns the total number of irreducible force constants.
func (c *Catalog) NumParams() int {
	n := 0
	for i := range c.Orders {
		n += c.Orders[i].NumClasses()
	}
	return n
}

// Check validates class sizes against the component table and multi-index
// arities against the order.
func (c *Catalog) Check() error {
	for oi := range c.Orders {
		ord := &c.Orders[oi]
		total := 0
		for ci, sz := range ord.ClassSizes {
			if sz < 1 {
				return fmt.Errorf("%w: order %d class %d has size %d", ErrBadCatalog, oi, ci, sz)
			}
			total += sz
		}
		if total != len(ord.Table) {
			return fmt.Errorf("%w: order %d lists %d components for %d class slots",
				ErrBadCatalog, oi, len(ord.Table), total)
		}
		for mi := range ord.Table {
			if len(ord.Table[mi].Elems) != oi+2 {
				return fmt.Errorf("%w: order %d component %d has arity %d, want %d",
					ErrBadCatalog, oi, mi, len(ord.Table[mi].Elems), oi+2)
			}
		}
	}
	return nil
}

// IndexPair links a compacted free-parameter index to the equivalence class
// it stands for, both counted within one order.
type IndexPair struct {
	Free  int
	Class int
}

// FixedClass prescribes a numeric value for one equivalence class; fixed
// classes are excluded from the fit.
type FixedClass struct {
	Class int
	Value float64
}

// Relation expresses a dependent class as a signed combination of other
// classes in the same order:
//
//	value(Class) = -sum_k Coef[k] * value(Refs[k])
//
// Refs may name only free or fixed classes.
type Relation struct {
	Class int
	Refs  []int
	Coef  []float64
}

// OrderConstraint is the constraint bookkeeping for one order: the bijection
// between free-parameter indices and class indices, the externally fixed
// classes, and the dependent classes.
type OrderConstraint struct {
	Free    []IndexPair
	Fixed   []FixedClass
	Related []Relation
}

// Constraints describes the linear dependencies among irreducible force
// constants.  When Algebraic is set the dependencies are eliminated during
// matrix assembly and the fit runs in the free-parameter space; otherwise the
// explicit system C·x = D is imposed on the unreduced fit.
type Constraints struct {
	Exist     bool
	Algebraic bool
	Orders    []OrderConstraint

	// C and D give the explicit equality constraints for the non-algebraic
	// path.
	C *mat.Dense
	D []float64
}

// NumFree returns the dimension of the reduced parameter space.
func (cs *Constraints) NumFree() int {
	n := 0
	for i := range cs.Orders {
		n += len(cs.Orders[i].Free)
	}
	return n
}

// classState tags what role a class plays in the reduced parameterization.
type classState uint8

const (
	classUnset classState = iota
	classFree
	classFixed
	classDependent
)

// Check validates the constraint set against cat: within each order every
// class must be exactly one of free, fixed, or dependent, and dependent
// classes may reference only free or fixed classes.
func (cs *Constraints) Check(cat *Catalog) error {
	if len(cs.Orders) != len(cat.Orders) {
		return fmt.Errorf("%w: constraints cover %d orders, catalogue has %d",
			ErrBadCatalog, len(cs.Orders), len(cat.Orders))
	}
	for oi := range cs.Orders {
		oc := &cs.Orders[oi]
		nclass := cat.Orders[oi].NumClasses()
		state := make([]classState, nclass)

		assign := func(class int, st classState) error {
			if class < 0 || class >= nclass {
				return fmt.Errorf("%w: order %d references class %d of %d", ErrBadCatalog, oi, class, nclass)
			}
			if state[class] != classUnset {
				return fmt.Errorf("%w: order %d class %d assigned twice", ErrBadCatalog, oi, class)
			}
			state[class] = st
			return nil
		}

		freeSeen := make([]bool, len(oc.Free))
		for _, p := range oc.Free {
			if p.Free < 0 || p.Free >= len(oc.Free) || freeSeen[p.Free] {
				return fmt.Errorf("%w: order %d free index %d is not a bijection", ErrBadCatalog, oi, p.Free)
			}
			freeSeen[p.Free] = true
			if err := assign(p.Class, classFree); err != nil {
				return err
			}
		}
		for _, f := range oc.Fixed {
			if err := assign(f.Class, classFixed); err != nil {
				return err
			}
		}
		for _, r := range oc.Related {
			if err := assign(r.Class, classDependent); err != nil {
				return err
			}
			if len(r.Refs) != len(r.Coef) {
				return fmt.Errorf("%w: order %d class %d relation has %d refs, %d coefficients",
					ErrBadCatalog, oi, r.Class, len(r.Refs), len(r.Coef))
			}
		}
		for c := range state {
			if state[c] == classUnset {
				return fmt.Errorf("%w: order %d class %d is neither free, fixed, nor dependent",
					ErrBadCatalog, oi, c)
			}
		}
		// Dependencies are checked after the full partition is known so that
		// forward references to fixed classes are accepted.
		for _, r := range oc.Related {
			for _, ref := range r.Refs {
				if ref < 0 || ref >= nclass {
					return fmt.Errorf("%w: order %d class %d references class %d of %d",
						ErrBadCatalog, oi, r.Class, ref, nclass)
				}
				if state[ref] == classDependent {
					return fmt.Errorf("%w: order %d dependent class %d references dependent class %d",
						ErrBadCatalog, oi, r.Class, ref)
				}
			}
		}
	}
	return nil
}

// gamma returns the multiplicity weight of a force-constant multi-index: the
// number of times the leading index value recurs anywhere in the multi-index,
// divided by the product of factorials of the multiplicities of every
// distinct value.  It is invariant under permutation of the non-leading
// entries.
func gamma(ind []int) float64 {
	counts := make(map[int]int, len(ind))
	for _, v := range ind {
		counts[v]++
	}
	denom := 1
	for _, c := range counts {
		denom *= factorial(c)
	}
	return float64(counts[ind[0]]) / float64(denom)
}

func factorial(n int) int {
	f := 1
	for i := 2; i <= n; i++ {
		f *= i
	}
	return f
}
