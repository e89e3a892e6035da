// Package alm recovers interatomic force constants from sampled atomic
// displacement/force configurations by inverse linear regression.
//
// The fit is posed as A·x = b where b holds the forces observed on the
// primitive-cell atoms of every (translation-expanded) configuration, the
// columns of A are the displacement products belonging to each
// symmetry-irreducible force-constant class, and x is the vector of
// irreducible force-constant values.  Linear equality constraints among the
// classes (translational invariance and the like) can be eliminated
// algebraically before solving, shrinking the system to its free parameters.
//
// Four solving strategies are available: plain least squares by singular
// value decomposition, equality-constrained least squares, sparse
// normal-equation solving (package sparse), and L1-regularized coordinate
// descent with optional cross-validation and debiasing.
//
// The package does not discover symmetry or generate the equivalence-class
// catalogue; both are consumed as precomputed inputs (Symmetry, Catalog,
// Constraints).
package alm
