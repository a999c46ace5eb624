// Package transform provides 2D affine transforms between named coordinate
// systems. Transforms are stored in (x, y) axis order, matching how spatial
// elements declare their geometry; the viewer works in (row, col) order, so
// callers display-side should convert with ToRowCol.
package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Affine is a 2D affine transform in homogeneous form,
//
//	| A B TX |
//	| C D TY |
//
// applied as x' = A*x + B*y + TX, y' = C*x + D*y + TY.
type Affine struct {
	A, B, TX float64
	C, D, TY float64
}

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{A: 1, D: 1}
}

// Scale returns a transform scaling x by sx and y by sy.
func Scale(sx, sy float64) Affine {
	return Affine{A: sx, D: sy}
}

// Translation returns a pure translation.
func Translation(tx, ty float64) Affine {
	return Affine{A: 1, D: 1, TX: tx, TY: ty}
}

// Apply maps the point (x, y) through the transform.
func (a Affine) Apply(x, y float64) (float64, float64) {
	return a.A*x + a.B*y + a.TX, a.C*x + a.D*y + a.TY
}

// Mul returns the composition a∘b, i.e. the transform that applies b first
// and then a.
func (a Affine) Mul(b Affine) Affine {
	return Affine{
		A: a.A*b.A + a.B*b.C, B: a.A*b.B + a.B*b.D, TX: a.A*b.TX + a.B*b.TY + a.TX,
		C: a.C*b.A + a.D*b.C, D: a.C*b.B + a.D*b.D, TY: a.C*b.TX + a.D*b.TY + a.TY,
	}
}

// Inverse returns the inverse transform. It fails when the linear part is
// singular.
func (a Affine) Inverse() (Affine, error) {
	m := mat.NewDense(3, 3, []float64{
		a.A, a.B, a.TX,
		a.C, a.D, a.TY,
		0, 0, 1,
	})
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Affine{}, fmt.Errorf("affine not invertible: %w", err)
	}
	return Affine{
		A: inv.At(0, 0), B: inv.At(0, 1), TX: inv.At(0, 2),
		C: inv.At(1, 0), D: inv.At(1, 1), TY: inv.At(1, 2),
	}, nil
}

// ToRowCol re-expresses an (x, y) transform in (row, col) axis order, which
// is what the viewer consumes. Rows map to y and columns to x, so both the
// input and output axes are swapped.
func (a Affine) ToRowCol() Affine {
	return Affine{
		A: a.D, B: a.C, TX: a.TY,
		C: a.B, D: a.A, TY: a.TX,
	}
}

// IsIdentity reports whether the transform is exactly the identity.
func (a Affine) IsIdentity() bool {
	return a == Identity()
}
