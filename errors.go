package alm

import "errors"

var (
	// ErrBadCatalog reports a force-constant catalogue or constraint set that
	// violates its preconditions: a class assigned to more than one of
	// {free, fixed, dependent}, a class left unassigned, an out-of-range
	// index, or a dependent class referencing anything but a free or fixed
	// class.
	ErrBadCatalog = errors.New("alm: malformed catalogue")

	// ErrNoSparseSolver reports that the sparse fitting path was requested
	// without a sparse solver configured.
	ErrNoSparseSolver = errors.New("alm: sparse path requested but no sparse solver configured")

	// ErrDimensionMismatch reports inputs whose sizes disagree with the
	// symmetry or catalogue they are used with.
	ErrDimensionMismatch = errors.New("alm: dimension mismatch")
)
