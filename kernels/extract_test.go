package kernels

import (
	"testing"

	"farc/config"
	"farc/ir"
	"farc/namesrc"
	"farc/soacs"
)

// TestExtractInterchangesMapOverLoop feeds the extractor
// map (\x -> loop (acc = x) for j < 3 do acc*2) arr and checks the nest is
// turned inside out: a sequential outer loop carrying an accumulator
// array, whose body launches a kernel per iteration, instead of a kernel
// with the loop trapped inside each thread.
func TestExtractInterchangesMapOverLoop(t *testing.T) {
	var names namesrc.Source
	arrN := names.Fresh("arr")
	xN := names.Fresh("x")
	accN := names.Fresh("acc")
	jN := names.Fresh("j")
	dblN := names.Fresh("dbl")
	loopResN := names.Fresh("loopres")
	resN := names.Fresh("res")

	i32 := ir.PrimT(ir.I32)
	arr4 := ir.ArrayT(ir.I32, []ir.DimSize{ir.ConstDim(4)}, ir.Nonunique)

	loopBody := soacs.Body{
		Stms: []soacs.Stm{{
			Pattern: ir.Singleton(dblN, i32),
			Exp: ir.BasicExp[soacs.Dec, soacs.SOAC](ir.BasicOp{
				Kind: ir.OpBinOp, BinOp: ir.Mul, X: ir.Var(accN), Y: ir.Const(ir.IntConst(ir.W32, 2)),
			}),
		}},
		Result: []ir.SubExp{ir.Var(dblN)},
	}
	loopExp := soacs.Exp{
		Kind:        ir.EDoLoop,
		MergeParams: []ir.Param[soacs.Dec]{{Name: accN, Dec: i32}},
		MergeInit:   []ir.SubExp{ir.Var(xN)},
		Form: ir.LoopForm[soacs.Dec]{
			Index: ir.Param[soacs.Dec]{Name: jN, Dec: ir.PrimT(ir.I64)},
			Bound: ir.Const(ir.IntConst(ir.W64, 3)),
		},
		LoopBody: &loopBody,
	}
	lambda := &ir.Lambda[soacs.Dec, soacs.SOAC]{
		Params: []ir.Param[soacs.Dec]{{Name: xN, Dec: i32}},
		Body: soacs.Body{
			Stms:   []soacs.Stm{{Pattern: ir.Singleton(loopResN, i32), Exp: loopExp}},
			Result: []ir.SubExp{ir.Var(loopResN)},
		},
		ReturnType: []ir.Type{i32},
	}

	arrLit := ir.BasicOp{Kind: ir.OpArrayLit, ElemType: ir.I32, Elems: []ir.SubExp{
		ir.Const(ir.IntConst(ir.W32, 1)),
		ir.Const(ir.IntConst(ir.W32, 2)),
		ir.Const(ir.IntConst(ir.W32, 3)),
		ir.Const(ir.IntConst(ir.W32, 4)),
	}}
	prog := soacs.Program{Funs: []soacs.FunDef{{
		Name:       "main",
		ReturnType: []ir.RetType{{Type: arr4}},
		Body: soacs.Body{
			Stms: []soacs.Stm{
				{Pattern: ir.Singleton(arrN, arr4), Exp: ir.BasicExp[soacs.Dec, soacs.SOAC](arrLit)},
				{Pattern: ir.Singleton(resN, arr4), Exp: ir.OpExp[soacs.Dec, soacs.SOAC](soacs.SOAC{
					Kind: soacs.KMap, Width: ir.Const(ir.IntConst(ir.W64, 4)), Inputs: []ir.Name{arrN}, Lambda: lambda,
				})},
			},
			Result: []ir.SubExp{ir.Var(resN)},
		},
	}}}

	out, err := ExtractProgram(config.New(), &names, prog)
	if err != nil {
		t.Fatalf("ExtractProgram: %v", err)
	}

	body := out.Funs[0].Body
	var loopStm *Stm
	for i := range body.Stms {
		if body.Stms[i].Exp.Kind == ir.EDoLoop {
			loopStm = &body.Stms[i]
		}
		if body.Stms[i].Exp.Kind == ir.EOp && body.Stms[i].Exp.Op != nil && body.Stms[i].Exp.Op.Kind == OKernel {
			t.Fatalf("the map-over-loop nest must not surface as a top-level kernel")
		}
	}
	if loopStm == nil {
		t.Fatalf("expected a sequential outer loop after interchange")
	}
	if !loopStm.Pattern.Elems[0].Name.Equal(resN) {
		t.Fatalf("the interchanged loop must bind the original result name %v, got %v", resN, loopStm.Pattern.Elems[0].Name)
	}
	if len(loopStm.Exp.MergeParams) != 1 || !loopStm.Exp.MergeParams[0].Dec.IsArray() {
		t.Fatalf("the interchanged loop must carry one accumulator array, got %+v", loopStm.Exp.MergeParams)
	}

	var sawKernel bool
	for _, s := range loopStm.Exp.LoopBody.Stms {
		if s.Exp.Kind == ir.EOp && s.Exp.Op != nil && s.Exp.Op.Kind == OKernel {
			sawKernel = true
		}
	}
	if !sawKernel {
		t.Fatalf("the interchanged loop's body must launch a kernel per iteration")
	}
}
