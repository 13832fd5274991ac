package kernels

import (
	"testing"

	"farc/ir"
	"farc/namesrc"
	"farc/soacs"
)

func i32() ir.Type { return ir.PrimT(ir.I32) }

func TestIsBalancedAcceptsPlainLambda(t *testing.T) {
	var names namesrc.Source
	xN := names.Fresh("x")
	l := &ir.Lambda[soacs.Dec, soacs.SOAC]{
		Params: []ir.Param[soacs.Dec]{{Name: xN, Dec: i32()}},
		Body:   soacs.Body{Result: []ir.SubExp{ir.Var(xN)}},
	}
	if !IsBalanced(l) {
		t.Fatalf("a lambda with no nested SOAC or loop must be balanced")
	}
}

func TestIsBalancedRejectsWhileLoop(t *testing.T) {
	var names namesrc.Source
	xN := names.Fresh("x")
	condN := names.Fresh("cond")
	l := &ir.Lambda[soacs.Dec, soacs.SOAC]{
		Params: []ir.Param[soacs.Dec]{{Name: xN, Dec: i32()}},
		Body: soacs.Body{
			Stms: []soacs.Stm{{
				Exp: ir.Exp[soacs.Dec, soacs.SOAC]{
					Kind: ir.EDoLoop,
					Form: ir.LoopForm[soacs.Dec]{IsWhile: true, Cond: condN},
				},
			}},
			Result: []ir.SubExp{ir.Var(xN)},
		},
	}
	if IsBalanced(l) {
		t.Fatalf("a lambda containing a while loop must be unbalanced")
	}
}

func TestIsBalancedRejectsBoundDependentWidth(t *testing.T) {
	var names namesrc.Source
	xN := names.Fresh("x")
	nN := names.Fresh("n")
	innerArr := names.Fresh("inner")
	resN := names.Fresh("res")

	nested := soacs.SOAC{
		Kind:   soacs.KMap,
		Width:  ir.Var(nN), // bound inside the outer lambda -> unbalanced
		Inputs: []ir.Name{innerArr},
		Lambda: &ir.Lambda[soacs.Dec, soacs.SOAC]{
			Params: []ir.Param[soacs.Dec]{{Name: xN, Dec: i32()}},
			Body:   soacs.Body{Result: []ir.SubExp{ir.Var(xN)}},
		},
	}
	l := &ir.Lambda[soacs.Dec, soacs.SOAC]{
		Params: []ir.Param[soacs.Dec]{{Name: nN, Dec: i32()}},
		Body: soacs.Body{
			Stms: []soacs.Stm{{
				Pattern: ir.Singleton(resN, i32()),
				Exp:     ir.OpExp[soacs.Dec, soacs.SOAC](nested),
			}},
			Result: []ir.SubExp{ir.Var(resN)},
		},
	}
	if IsBalanced(l) {
		t.Fatalf("a nested map whose width depends on a name bound by the outer lambda must be unbalanced")
	}
}

func TestIsBalancedAcceptsBoundIndependentNestedMap(t *testing.T) {
	var names namesrc.Source
	xN := names.Fresh("x")
	innerArr := names.Fresh("inner")
	innerX := names.Fresh("innerx")
	resN := names.Fresh("res")

	nested := soacs.SOAC{
		Kind:   soacs.KMap,
		Width:  ir.Const(ir.IntConst(ir.W64, 4)), // constant, not bound-dependent
		Inputs: []ir.Name{innerArr},
		Lambda: &ir.Lambda[soacs.Dec, soacs.SOAC]{
			Params: []ir.Param[soacs.Dec]{{Name: innerX, Dec: i32()}},
			Body:   soacs.Body{Result: []ir.SubExp{ir.Var(innerX)}},
		},
	}
	l := &ir.Lambda[soacs.Dec, soacs.SOAC]{
		Params: []ir.Param[soacs.Dec]{{Name: xN, Dec: i32()}},
		Body: soacs.Body{
			Stms: []soacs.Stm{{
				Pattern: ir.Singleton(resN, i32()),
				Exp:     ir.OpExp[soacs.Dec, soacs.SOAC](nested),
			}},
			Result: []ir.SubExp{ir.Var(resN)},
		},
	}
	if !IsBalanced(l) {
		t.Fatalf("a nested map whose width is constant must remain balanced")
	}
}
