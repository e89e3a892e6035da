package alm

import "fmt"

// Symmetry carries the translational part of the crystal symmetry needed for
// fitting.  The supercell contains NumPrim*NumTrans atoms; every supercell
// atom is the image of a primitive-cell atom under one of the NumTrans pure
// translations.
type Symmetry struct {
	// NumPrim is the number of atoms in the primitive cell.
	NumPrim int
	// NumTrans is the order of the translation group.
	NumTrans int
	// PrimToSuper maps each primitive-cell atom to its representative atom
	// index in the supercell.
	PrimToSuper []int
	// AtomImage[t][a] is the supercell atom that atom a maps onto under
	// translation t.  Each AtomImage[t] is a permutation of the supercell
	// atoms.
	AtomImage [][]int
}

// NumAtoms returns the number of atoms in the supercell.
func (s *Symmetry) NumAtoms() int { return s.NumPrim * s.NumTrans }

// Check validates the internal consistency of the maps.
func (s *Symmetry) Check() error {
	nat := s.NumAtoms()
	if s.NumPrim < 1 || s.NumTrans < 1 {
		return fmt.Errorf("%w: symmetry with %d primitive atoms, %d translations",
			ErrDimensionMismatch, s.NumPrim, s.NumTrans)
	}
	if len(s.PrimToSuper) != s.NumPrim {
		return fmt.Errorf("%w: PrimToSuper has %d entries, want %d",
			ErrDimensionMismatch, len(s.PrimToSuper), s.NumPrim)
	}
	for i, a := range s.PrimToSuper {
		if a < 0 || a >= nat {
			return fmt.Errorf("%w: PrimToSuper[%d] = %d out of range", ErrDimensionMismatch, i, a)
		}
	}
	if len(s.AtomImage) != s.NumTrans {
		return fmt.Errorf("%w: AtomImage has %d translations, want %d",
			ErrDimensionMismatch, len(s.AtomImage), s.NumTrans)
	}
	for t, perm := range s.AtomImage {
		if len(perm) != nat {
			return fmt.Errorf("%w: AtomImage[%d] has %d atoms, want %d",
				ErrDimensionMismatch, t, len(perm), nat)
		}
		seen := make([]bool, nat)
		for a, img := range perm {
			if img < 0 || img >= nat || seen[img] {
				return fmt.Errorf("%w: AtomImage[%d] is not a permutation (atom %d -> %d)",
					ErrDimensionMismatch, t, a, img)
			}
			seen[img] = true
		}
	}
	return nil
}

// inPrim maps a supercell coordinate index (3*atom+axis) to the matching
// primitive-cell coordinate index, or -1 if the atom is not a primitive
// representative.
func (s *Symmetry) inPrim(n int) int {
	atom, axis := n/3, n%3
	for i, a := range s.PrimToSuper {
		if a == atom {
			return 3*i + axis
		}
	}
	return -1
}
