package transform

import (
	"math"
	"testing"
)

func TestAffineApply(t *testing.T) {
	a := Scale(2, 3).Mul(Translation(1, 1))
	x, y := a.Apply(2, 2)
	if x != 6 || y != 9 {
		t.Errorf("expected (6, 9), got (%v, %v)", x, y)
	}
}

func TestAffineInverse(t *testing.T) {
	a := Affine{A: 2, B: 1, TX: 5, C: 0, D: 3, TY: -2}
	inv, err := a.Inverse()
	if err != nil {
		t.Fatalf("inverse failed: %v", err)
	}
	x, y := a.Apply(1.5, -4)
	rx, ry := inv.Apply(x, y)
	if math.Abs(rx-1.5) > 1e-9 || math.Abs(ry+4) > 1e-9 {
		t.Errorf("round trip mismatch: got (%v, %v)", rx, ry)
	}
}

func TestAffineInverseSingular(t *testing.T) {
	a := Affine{} // zero linear part
	if _, err := a.Inverse(); err == nil {
		t.Error("expected error for singular transform")
	}
}

func TestToRowCol(t *testing.T) {
	// Scale x by 2 and y by 3 with translation (5, 7) in xy order.
	a := Affine{A: 2, D: 3, TX: 5, TY: 7}
	rc := a.ToRowCol()

	// In row/col order rows correspond to y: scale 3, offset 7.
	row, col := rc.Apply(1, 1)
	if row != 10 || col != 7 {
		t.Errorf("expected (10, 7), got (%v, %v)", row, col)
	}
}

func TestTableOrderAndDefault(t *testing.T) {
	tab := NewTable()
	tab.Set("global", Identity())
	tab.Set("space", Scale(2, 2))
	tab.Set("global", Translation(1, 1)) // replace keeps position

	systems := tab.Systems()
	if len(systems) != 2 || systems[0] != "global" || systems[1] != "space" {
		t.Fatalf("unexpected system order: %v", systems)
	}

	def, err := tab.DefaultSystem()
	if err != nil {
		t.Fatalf("default system: %v", err)
	}
	if def != "global" {
		t.Errorf("expected default 'global', got %q", def)
	}

	a, ok := tab.Get("global")
	if !ok || a != Translation(1, 1) {
		t.Errorf("replace did not take effect: %+v", a)
	}
}

func TestTableDefaultEmpty(t *testing.T) {
	tab := NewTable()
	if _, err := tab.DefaultSystem(); err == nil {
		t.Error("expected error on empty table")
	}
}
