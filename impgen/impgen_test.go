package impgen

import (
	"testing"

	"farc/explicitmem"
	"farc/ir"
	"farc/ixfun"
	"farc/namesrc"
)

func newTestGenFun(names *namesrc.Source) *genFun {
	return &genFun{names: names, dec: map[ir.Name]explicitmem.MemDec{}}
}

func TestLowerExprConstantNeedsNoCode(t *testing.T) {
	var names namesrc.Source
	g := newTestGenFun(&names)
	se, code := g.lowerExpr(ixfun.ConstE(7))
	if len(code) != 0 {
		t.Fatalf("a constant expression should lower with no supporting Code, got %d statements", len(code))
	}
	if !se.IsConst() || se.Const.IntVal != 7 {
		t.Fatalf("lowerExpr(7) = %+v, want constant 7", se)
	}
}

func TestLowerExprVariableNeedsNoCode(t *testing.T) {
	var names namesrc.Source
	g := newTestGenFun(&names)
	n := names.Fresh("x")
	se, code := g.lowerExpr(ixfun.VarE(n))
	if len(code) != 0 {
		t.Fatalf("a bare variable should lower with no supporting Code, got %d statements", len(code))
	}
	if se.IsConst() || !se.Var.Equal(n) {
		t.Fatalf("lowerExpr(x) = %+v, want variable %v", se, n)
	}
}

func TestLowerExprCompoundEmitsScalarTemporaries(t *testing.T) {
	var names namesrc.Source
	g := newTestGenFun(&names)
	x := names.Fresh("x")
	e := ixfun.AddE(ixfun.VarE(x), ixfun.MulE(ixfun.ConstE(2), ixfun.ConstE(3)))
	se, code := g.lowerExpr(e)
	if se.IsConst() {
		t.Fatalf("a compound expression mentioning a free variable must not fold to a constant")
	}
	if len(code) == 0 {
		t.Fatalf("expected at least one SDeclareScalar/SSetScalar pair for the compound expression")
	}
	last := code[len(code)-1]
	if last.Kind != SSetScalar || last.Target != se.Var {
		t.Fatalf("expected the final Code to set the returned temporary, got %+v", last)
	}
}

func TestElemCountScalarShapeIsOne(t *testing.T) {
	var names namesrc.Source
	g := newTestGenFun(&names)
	se, code := g.elemCount(nil)
	if len(code) != 0 {
		t.Fatalf("a rank-0 shape needs no supporting Code, got %d", len(code))
	}
	if !se.IsConst() || se.Const.IntVal != 1 {
		t.Fatalf("elemCount(nil) = %+v, want constant 1", se)
	}
}

func TestElemCountMultipliesDims(t *testing.T) {
	var names namesrc.Source
	g := newTestGenFun(&names)
	se, code := g.elemCount([]ir.DimSize{ir.ConstDim(3), ir.ConstDim(4)})
	if se.IsConst() {
		t.Fatalf("a multi-dim constant shape still lowers through a fresh temporary, not a folded constant")
	}
	if len(code) == 0 {
		t.Fatalf("expected at least one multiplication Code for a rank-2 shape")
	}
}

func TestGenScalarArithDeclaresAndSetsTarget(t *testing.T) {
	var names namesrc.Source
	g := newTestGenFun(&names)
	resN := names.Fresh("res")
	pat := ir.Pattern[explicitmem.MemDec]{Elems: []ir.PatElem[explicitmem.MemDec]{
		{Name: resN, Dec: explicitmem.ScalarDec(ir.PrimT(ir.I32))},
	}}
	basic := ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Add, X: ir.Const(ir.IntConst(ir.W32, 1)), Y: ir.Const(ir.IntConst(ir.W32, 2))}

	code, err := g.genScalarArith(pat, basic)
	if err != nil {
		t.Fatalf("genScalarArith: %v", err)
	}
	if len(code) != 2 || code[0].Kind != SDeclareScalar || code[1].Kind != SSetScalar {
		t.Fatalf("expected [SDeclareScalar, SSetScalar], got %+v", code)
	}
	if code[1].Target != resN {
		t.Fatalf("expected SSetScalar to target %v, got %v", resN, code[1].Target)
	}
}

func TestGenPartitionEmitsCountAndWritePasses(t *testing.T) {
	var names namesrc.Source
	g := newTestGenFun(&names)

	arrDec := func(elem ir.PrimType) explicitmem.MemDec {
		mem := names.Fresh("mem")
		return explicitmem.ValueDec(
			ir.ArrayT(elem, []ir.DimSize{ir.ConstDim(4)}, ir.Nonunique),
			mem,
			ixfun.Iota([]*ixfun.Expr{ixfun.ConstE(4)}),
		)
	}
	flags := names.Fresh("flags")
	g.dec[flags] = arrDec(ir.I64)
	input := names.Fresh("xs")
	g.dec[input] = arrDec(ir.I32)
	outN := names.Fresh("parted")
	outDec := arrDec(ir.I32)
	g.dec[outN] = outDec
	sizeN := names.Fresh("class_sizes")

	pat := ir.Pattern[explicitmem.MemDec]{
		Elems:   []ir.PatElem[explicitmem.MemDec]{{Name: outN, Dec: outDec}},
		Context: []ir.PatElem[explicitmem.MemDec]{{Name: sizeN, Dec: explicitmem.ScalarDec(ir.PrimT(ir.I64))}},
	}
	basic := ir.BasicOp{Kind: ir.OpPartition, Classes: 2, Flags: flags, PartArrs: []ir.Name{input}}

	code, err := g.genPartition(pat, basic)
	if err != nil {
		t.Fatalf("genPartition: %v", err)
	}

	var topLoops int
	for _, c := range code {
		if c.Kind == SFor {
			topLoops++
		}
	}
	if topLoops != 2 {
		t.Fatalf("expected a count pass and a write pass (2 top-level For loops), got %d", topLoops)
	}
	var sawSizeBind bool
	for _, c := range code {
		if c.Kind == SSetScalar && c.Target == sizeN {
			sawSizeBind = true
		}
	}
	if !sawSizeBind {
		t.Fatalf("expected the first class's size bound to the pattern's context element")
	}
}

func TestGenOpSubExpScalarIsARename(t *testing.T) {
	var names namesrc.Source
	g := newTestGenFun(&names)
	resN := names.Fresh("res")
	pat := ir.Pattern[explicitmem.MemDec]{Elems: []ir.PatElem[explicitmem.MemDec]{
		{Name: resN, Dec: explicitmem.ScalarDec(ir.PrimT(ir.I32))},
	}}
	basic := ir.BasicOp{Kind: ir.OpSubExp, SubExp: ir.Const(ir.IntConst(ir.W32, 9))}

	code, err := g.genOpSubExp(pat, basic)
	if err != nil {
		t.Fatalf("genOpSubExp: %v", err)
	}
	if len(code) != 2 || code[1].Rhs.SubExp.Const.IntVal != 9 {
		t.Fatalf("expected a scalar rename carrying the constant through, got %+v", code)
	}
}
