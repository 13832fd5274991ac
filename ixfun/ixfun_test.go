package ixfun

import (
	"testing"

	"farc/ir"
	"farc/namesrc"
)

func dims(vals ...int64) []*Expr {
	out := make([]*Expr, len(vals))
	for i, v := range vals {
		out[i] = ConstE(v)
	}
	return out
}

func TestIotaIsDirect(t *testing.T) {
	f := Iota(dims(3, 4))
	if !f.IsDirect() {
		t.Fatalf("a freshly built Iota must be direct")
	}
	if f.Rank() != 2 {
		t.Fatalf("Rank() = %d, want 2", f.Rank())
	}
}

func TestIotaIndexMatchesRowMajor(t *testing.T) {
	f := Iota(dims(3, 4))
	// row-major offset for (i, j) in a 3x4 array is i*4 + j.
	off, err := f.Index([]*Expr{ConstE(2), ConstE(1)})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	got, ok := off.Eval()
	if !ok {
		t.Fatalf("expected a constant offset")
	}
	if want := int64(2*4 + 1); got != want {
		t.Fatalf("Index((2,1)) = %d, want %d", got, want)
	}
}

func TestPermuteThenInverseRoundTrips(t *testing.T) {
	f := Iota(dims(2, 3))
	perm := []int{1, 0}
	transposed, err := f.Permute(perm)
	if err != nil {
		t.Fatalf("Permute: %v", err)
	}
	if transposed.IsDirect() {
		t.Fatalf("a transposed index function must not read as direct")
	}
	back, err := transposed.Permute(Inverse(perm))
	if err != nil {
		t.Fatalf("Permute (undo): %v", err)
	}
	if !back.IsDirect() {
		t.Fatalf("permuting by perm then its inverse should restore directness")
	}
}

func TestSliceDropsFixedAxisAndRestrictsRange(t *testing.T) {
	f := Iota(dims(4, 4))
	sliced, err := f.Slice([]ir.DimIndex{
		ir.Fix(ir.Const(ir.IntConst(ir.W64, 1))),
		ir.Slice(ir.Const(ir.IntConst(ir.W64, 0)), ir.Const(ir.IntConst(ir.W64, 2)), ir.Const(ir.IntConst(ir.W64, 1))),
	})
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	if sliced.Rank() != 1 {
		t.Fatalf("fixing one axis should drop the rank by one, got rank %d", sliced.Rank())
	}
	shape, ok := sliced.Shape[0].Eval()
	if !ok || shape != 2 {
		t.Fatalf("sliced shape = %v, want 2", sliced.Shape[0])
	}
}

func TestOffsetIndexShiftsLinearOffset(t *testing.T) {
	f := Iota(dims(4))
	shifted := f.OffsetIndex(ConstE(10))
	off, err := shifted.Index([]*Expr{ConstE(0)})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	got, _ := off.Eval()
	if got != 10 {
		t.Fatalf("OffsetIndex should shift the base offset, got %d want 10", got)
	}
}

func TestLinearWithOffsetRejectsNonDirect(t *testing.T) {
	f := Iota(dims(2, 3))
	transposed, _ := f.Permute([]int{1, 0})
	if _, ok := transposed.LinearWithOffset(4); ok {
		t.Fatalf("a transposed index function must not report as linear-with-offset")
	}
	if _, ok := f.LinearWithOffset(4); !ok {
		t.Fatalf("a direct Iota must report as linear-with-offset")
	}
}

func TestNormalizeFoldsConstants(t *testing.T) {
	e := AddE(MulE(ConstE(2), ConstE(3)), ConstE(1))
	n := Normalize(e)
	if n.Kind != EConst || n.C != 7 {
		t.Fatalf("Normalize(2*3+1) = %v, want constant 7", n)
	}
}

func TestEqualIsStructuralNotSyntactic(t *testing.T) {
	var src namesrc.Source
	x := src.Fresh("x")
	a := AddE(VarE(x), ConstE(0))
	b := VarE(x)
	if !Equal(a, b) {
		t.Fatalf("x+0 should be structurally equal to x after normalization")
	}
}

func TestSubstituteReplacesFreeVariable(t *testing.T) {
	var src namesrc.Source
	x := src.Fresh("x")
	e := AddE(VarE(x), ConstE(1))
	replaced := Substitute(e, x, ConstE(41))
	got, ok := Normalize(replaced).Eval()
	if !ok || got != 42 {
		t.Fatalf("Substitute(x+1, x->41) = %v, want constant 42", replaced)
	}
}

func TestVarsReturnsDistinctFreeNamesInOrder(t *testing.T) {
	var src namesrc.Source
	x := src.Fresh("x")
	y := src.Fresh("y")
	e := AddE(VarE(x), MulE(VarE(y), VarE(x)))
	vs := e.Vars()
	if len(vs) != 2 || !vs[0].Equal(x) || !vs[1].Equal(y) {
		t.Fatalf("Vars() = %v, want [x y] in first-encountered order", vs)
	}
}
