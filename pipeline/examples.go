package pipeline

import (
	"fmt"

	"farc/ir"
	"farc/namesrc"
	"farc/soacs"
)

// ExampleProgram builds one of the built-in end-to-end scenarios as a
// standalone SOACS program taking no arguments (its input
// array is built in-line via an array literal, since the surface parser
// that would otherwise read it from a source file lives outside this
// library). It returns the namesrc.Source used to allocate
// the program's names alongside the program itself — every later pass
// must keep allocating from that same Source, never a fresh one, or the
// global-uniqueness invariant breaks the
// moment two independently-started counters produce the same id. Used by
// cmd/farc as a stand-in for "parse this file" and by pipeline_test.go to
// drive the full pipeline end to end.
func ExampleProgram(name string) (soacs.Program, *namesrc.Source, error) {
	names := &namesrc.Source{}
	b := &fixtureNames{src: names}
	switch name {
	case "map-id":
		return mapIDExample(b), names, nil
	case "map-inc":
		return mapIncExample(b), names, nil
	case "reduce-sum":
		return reduceSumExample(b), names, nil
	case "scan-plus":
		return scanPlusExample(b), names, nil
	case "filter-even":
		return filterEvenExample(b), names, nil
	default:
		return soacs.Program{}, nil, fmt.Errorf("pipeline: unknown example program %q", name)
	}
}

// Names returns every example program this core ships, for CLI usage text.
func Names() []string {
	return []string{"map-id", "map-inc", "reduce-sum", "scan-plus", "filter-even"}
}

// fixtureNames wraps the shared namesrc.Source an example's builder
// function allocates names from.
type fixtureNames struct {
	src *namesrc.Source
}

func (f *fixtureNames) fresh(tag string) ir.Name { return f.src.Fresh(tag) }

func i32T() ir.Type { return ir.PrimT(ir.I32) }
func arr4i32() ir.Type {
	return ir.ArrayT(ir.I32, []ir.DimSize{ir.ConstDim(4)}, ir.Nonunique)
}

// mapIDExample: map (\x -> x) [1i32, 2i32, 3i32, 4i32]
func mapIDExample(b *fixtureNames) soacs.Program {
	const four = 4
	arrLit := ir.BasicOp{Kind: ir.OpArrayLit, ElemType: ir.I32, Elems: []ir.SubExp{
		ir.Const(ir.IntConst(ir.W32, 1)),
		ir.Const(ir.IntConst(ir.W32, 2)),
		ir.Const(ir.IntConst(ir.W32, 3)),
		ir.Const(ir.IntConst(ir.W32, 4)),
	}}
	// Names are allocated by a shared counter so the fixture stays
	// globally unique, the same invariant farc/pipeline enforces on real
	// compiler output.
	arrN := b.fresh("arr")
	xN := b.fresh("x")
	resN := b.fresh("res")

	lambda := &ir.Lambda[ir.Type, soacs.SOAC]{
		Params: []ir.Param[ir.Type]{{Name: xN, Dec: i32T()}},
		Body: soacs.Body{
			Result: []ir.SubExp{ir.Var(xN)},
		},
		ReturnType: []ir.Type{i32T()},
	}

	soac := soacs.SOAC{
		Kind:   soacs.KMap,
		Width:  ir.Const(ir.IntConst(ir.W64, four)),
		Inputs: []ir.Name{arrN},
		Lambda: lambda,
	}

	body := soacs.Body{
		Stms: []soacs.Stm{
			{Pattern: ir.Singleton(arrN, arr4i32()), Exp: ir.BasicExp[ir.Type, soacs.SOAC](arrLit)},
			{Pattern: ir.Singleton(resN, arr4i32()), Exp: ir.OpExp[ir.Type, soacs.SOAC](soac)},
		},
		Result: []ir.SubExp{ir.Var(resN)},
	}

	return soacs.Program{Funs: []soacs.FunDef{{
		Name:       "main",
		ReturnType: []ir.RetType{{Type: arr4i32()}},
		Body:       body,
	}}}
}

// mapIncExample: map (\x -> x + 1i32) [1i32, 2i32, 3i32, 4i32]
//
// Unlike map-id, the lambda does real per-element work, so the simplifier
// leaves it intact and kernel extraction distributes it into a flat Kernel.
func mapIncExample(b *fixtureNames) soacs.Program {
	arrN := b.fresh("arr")
	xN := b.fresh("x")
	yN := b.fresh("y")
	resN := b.fresh("res")

	arrLit := ir.BasicOp{Kind: ir.OpArrayLit, ElemType: ir.I32, Elems: []ir.SubExp{
		ir.Const(ir.IntConst(ir.W32, 1)),
		ir.Const(ir.IntConst(ir.W32, 2)),
		ir.Const(ir.IntConst(ir.W32, 3)),
		ir.Const(ir.IntConst(ir.W32, 4)),
	}}

	lambda := &ir.Lambda[ir.Type, soacs.SOAC]{
		Params: []ir.Param[ir.Type]{{Name: xN, Dec: i32T()}},
		Body: soacs.Body{
			Stms: []soacs.Stm{{
				Pattern: ir.Singleton(yN, i32T()),
				Exp: ir.BasicExp[ir.Type, soacs.SOAC](ir.BasicOp{
					Kind: ir.OpBinOp, BinOp: ir.Add, X: ir.Var(xN), Y: ir.Const(ir.IntConst(ir.W32, 1)),
				}),
			}},
			Result: []ir.SubExp{ir.Var(yN)},
		},
		ReturnType: []ir.Type{i32T()},
	}

	soac := soacs.SOAC{
		Kind:   soacs.KMap,
		Width:  ir.Const(ir.IntConst(ir.W64, 4)),
		Inputs: []ir.Name{arrN},
		Lambda: lambda,
	}

	body := soacs.Body{
		Stms: []soacs.Stm{
			{Pattern: ir.Singleton(arrN, arr4i32()), Exp: ir.BasicExp[ir.Type, soacs.SOAC](arrLit)},
			{Pattern: ir.Singleton(resN, arr4i32()), Exp: ir.OpExp[ir.Type, soacs.SOAC](soac)},
		},
		Result: []ir.SubExp{ir.Var(resN)},
	}

	return soacs.Program{Funs: []soacs.FunDef{{
		Name:       "main",
		ReturnType: []ir.RetType{{Type: arr4i32()}},
		Body:       body,
	}}}
}

// reduceSumExample: reduce (+) 0i32 [1i32, 2i32, 3i32, 4i32]
func reduceSumExample(b *fixtureNames) soacs.Program {
	arrN := b.fresh("arr")
	accN := b.fresh("acc")
	xN := b.fresh("x")
	sumN := b.fresh("sum")
	resN := b.fresh("res")

	arrLit := ir.BasicOp{Kind: ir.OpArrayLit, ElemType: ir.I32, Elems: []ir.SubExp{
		ir.Const(ir.IntConst(ir.W32, 1)),
		ir.Const(ir.IntConst(ir.W32, 2)),
		ir.Const(ir.IntConst(ir.W32, 3)),
		ir.Const(ir.IntConst(ir.W32, 4)),
	}}

	foldLambda := &ir.Lambda[ir.Type, soacs.SOAC]{
		Params: []ir.Param[ir.Type]{{Name: accN, Dec: i32T()}, {Name: xN, Dec: i32T()}},
		Body: soacs.Body{
			Stms: []soacs.Stm{{
				Pattern: ir.Singleton(sumN, i32T()),
				Exp: ir.BasicExp[ir.Type, soacs.SOAC](ir.BasicOp{
					Kind: ir.OpBinOp, BinOp: ir.Add, X: ir.Var(accN), Y: ir.Var(xN),
				}),
			}},
			Result: []ir.SubExp{ir.Var(sumN)},
		},
		ReturnType: []ir.Type{i32T()},
	}

	soac := soacs.SOAC{
		Kind:       soacs.KReduce,
		Width:      ir.Const(ir.IntConst(ir.W64, 4)),
		Inputs:     []ir.Name{arrN},
		FoldLambda: foldLambda,
		Neutral:    []ir.SubExp{ir.Const(ir.IntConst(ir.W32, 0))},
	}

	body := soacs.Body{
		Stms: []soacs.Stm{
			{Pattern: ir.Singleton(arrN, arr4i32()), Exp: ir.BasicExp[ir.Type, soacs.SOAC](arrLit)},
			{Pattern: ir.Singleton(resN, i32T()), Exp: ir.OpExp[ir.Type, soacs.SOAC](soac)},
		},
		Result: []ir.SubExp{ir.Var(resN)},
	}

	return soacs.Program{Funs: []soacs.FunDef{{
		Name:       "main",
		ReturnType: []ir.RetType{{Type: i32T()}},
		Body:       body,
	}}}
}

// scanPlusExample: scan (+) 0i32 [1i32, 2i32, 3i32]
func scanPlusExample(b *fixtureNames) soacs.Program {
	arrN := b.fresh("arr")
	accN := b.fresh("acc")
	xN := b.fresh("x")
	sumN := b.fresh("sum")
	resN := b.fresh("res")

	elemT := ir.PrimT(ir.I32)
	arr3 := ir.ArrayT(ir.I32, []ir.DimSize{ir.ConstDim(3)}, ir.Nonunique)

	arrLit := ir.BasicOp{Kind: ir.OpArrayLit, ElemType: ir.I32, Elems: []ir.SubExp{
		ir.Const(ir.IntConst(ir.W32, 1)),
		ir.Const(ir.IntConst(ir.W32, 2)),
		ir.Const(ir.IntConst(ir.W32, 3)),
	}}

	foldLambda := &ir.Lambda[ir.Type, soacs.SOAC]{
		Params: []ir.Param[ir.Type]{{Name: accN, Dec: elemT}, {Name: xN, Dec: elemT}},
		Body: soacs.Body{
			Stms: []soacs.Stm{{
				Pattern: ir.Singleton(sumN, elemT),
				Exp: ir.BasicExp[ir.Type, soacs.SOAC](ir.BasicOp{
					Kind: ir.OpBinOp, BinOp: ir.Add, X: ir.Var(accN), Y: ir.Var(xN),
				}),
			}},
			Result: []ir.SubExp{ir.Var(sumN)},
		},
		ReturnType: []ir.Type{elemT},
	}

	soac := soacs.SOAC{
		Kind:       soacs.KScan,
		Width:      ir.Const(ir.IntConst(ir.W64, 3)),
		Inputs:     []ir.Name{arrN},
		FoldLambda: foldLambda,
		Neutral:    []ir.SubExp{ir.Const(ir.IntConst(ir.W32, 0))},
	}

	body := soacs.Body{
		Stms: []soacs.Stm{
			{Pattern: ir.Singleton(arrN, arr3), Exp: ir.BasicExp[ir.Type, soacs.SOAC](arrLit)},
			{Pattern: ir.Singleton(resN, arr3), Exp: ir.OpExp[ir.Type, soacs.SOAC](soac)},
		},
		Result: []ir.SubExp{ir.Var(resN)},
	}

	return soacs.Program{Funs: []soacs.FunDef{{
		Name:       "main",
		ReturnType: []ir.RetType{{Type: arr3}},
		Body:       body,
	}}}
}

// filterEvenExample: filter (\x -> x % 2i32 == 0i32) [1i32, 2i32, 3i32, 4i32]
func filterEvenExample(b *fixtureNames) soacs.Program {
	arrN := b.fresh("arr")
	xN := b.fresh("x")
	modN := b.fresh("mod")
	predN := b.fresh("pred")
	resN := b.fresh("res")

	elemT := ir.PrimT(ir.I32)
	arr4 := ir.ArrayT(ir.I32, []ir.DimSize{ir.ConstDim(4)}, ir.Nonunique)

	arrLit := ir.BasicOp{Kind: ir.OpArrayLit, ElemType: ir.I32, Elems: []ir.SubExp{
		ir.Const(ir.IntConst(ir.W32, 1)),
		ir.Const(ir.IntConst(ir.W32, 2)),
		ir.Const(ir.IntConst(ir.W32, 3)),
		ir.Const(ir.IntConst(ir.W32, 4)),
	}}

	lambda := &ir.Lambda[ir.Type, soacs.SOAC]{
		Params: []ir.Param[ir.Type]{{Name: xN, Dec: elemT}},
		Body: soacs.Body{
			Stms: []soacs.Stm{
				{
					Pattern: ir.Singleton(modN, elemT),
					Exp: ir.BasicExp[ir.Type, soacs.SOAC](ir.BasicOp{
						Kind: ir.OpBinOp, BinOp: ir.Mod, X: ir.Var(xN), Y: ir.Const(ir.IntConst(ir.W32, 2)),
					}),
				},
				{
					Pattern: ir.Singleton(predN, ir.PrimT(ir.Bool)),
					Exp: ir.BasicExp[ir.Type, soacs.SOAC](ir.BasicOp{
						Kind: ir.OpBinOp, BinOp: ir.Eq, X: ir.Var(modN), Y: ir.Const(ir.IntConst(ir.W32, 0)),
					}),
				},
			},
			Result: []ir.SubExp{ir.Var(predN)},
		},
		ReturnType: []ir.Type{ir.PrimT(ir.Bool)},
	}

	soac := soacs.SOAC{
		Kind:   soacs.KFilter,
		Width:  ir.Const(ir.IntConst(ir.W64, 4)),
		Inputs: []ir.Name{arrN},
		Lambda: lambda,
	}

	body := soacs.Body{
		Stms: []soacs.Stm{
			{Pattern: ir.Singleton(arrN, arr4), Exp: ir.BasicExp[ir.Type, soacs.SOAC](arrLit)},
			{Pattern: ir.Singleton(resN, arr4), Exp: ir.OpExp[ir.Type, soacs.SOAC](soac)},
		},
		Result: []ir.SubExp{ir.Var(resN)},
	}

	return soacs.Program{Funs: []soacs.FunDef{{
		Name:       "main",
		ReturnType: []ir.RetType{{Type: arr4}},
		Body:       body,
	}}}
}
