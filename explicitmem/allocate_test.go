package explicitmem

import (
	"testing"

	"farc/ir"
	"farc/kernels"
	"farc/namesrc"
)

func arr4i32() ir.Type {
	return ir.ArrayT(ir.I32, []ir.DimSize{ir.ConstDim(4)}, ir.Nonunique)
}

// mapIDProgram builds a one-function Kernels program: an array parameter
// passed straight through an identity Kernel, returned as-is. Exercises
// the common case AllocateProgram must handle: an array function
// parameter and an array-typed statement result.
func mapIDProgram(names *namesrc.Source) kernels.Program {
	arrParam := names.Fresh("arr")
	threadIdx := names.Fresh("tid")
	elemParam := names.Fresh("elem")
	resN := names.Fresh("res")

	k := kernels.Kernel{
		ThreadIndex: ir.Param[kernels.Dec]{Name: threadIdx, Dec: ir.PrimT(ir.I64)},
		NumThreads:  ir.Const(ir.IntConst(ir.W64, 4)),
		Inputs:      []kernels.KernelInput{{Param: ir.Param[kernels.Dec]{Name: elemParam, Dec: ir.PrimT(ir.I32)}, Array: arrParam}},
		Body:        kernels.Body{Result: []ir.SubExp{ir.Var(elemParam)}},
		ReturnType:  []ir.Type{ir.PrimT(ir.I32)},
	}

	body := kernels.Body{
		Stms: []kernels.Stm{{
			Pattern: ir.Singleton(resN, arr4i32()),
			Exp:     ir.OpExp[kernels.Dec, kernels.KernelOp](kernels.KernelOp{Kind: kernels.OKernel, Kernel: &k}),
		}},
		Result: []ir.SubExp{ir.Var(resN)},
	}

	return kernels.Program{Funs: []kernels.FunDef{{
		Name:       "main",
		Params:     []ir.Param[kernels.Dec]{{Name: arrParam, Dec: arr4i32()}},
		ReturnType: []ir.RetType{{Type: arr4i32()}},
		Body:       body,
	}}}
}

func TestAllocateProgramGivesArrayParamAMemContext(t *testing.T) {
	var names namesrc.Source
	prog := mapIDProgram(&names)

	out, err := AllocateProgram(&names, ir.DefaultSpace, prog)
	if err != nil {
		t.Fatalf("AllocateProgram: %v", err)
	}
	fn := out.Funs[0]
	if len(fn.Params) != 2 {
		t.Fatalf("expected the array param to gain a leading _mem context param, got %d params", len(fn.Params))
	}
	if fn.Params[0].Dec.Kind != DecMem {
		t.Fatalf("expected the first param to be a DecMem context param, got %+v", fn.Params[0].Dec)
	}
	if fn.Params[1].Dec.Kind != DecValue || fn.Params[1].Dec.Mem.ID() == 0 {
		t.Fatalf("expected the array param's DecValue to carry a non-zero backing memory name, got %+v", fn.Params[1].Dec)
	}
}

func TestAllocateProgramAnnotatesArrayResultWithFreshBlock(t *testing.T) {
	var names namesrc.Source
	prog := mapIDProgram(&names)

	out, err := AllocateProgram(&names, ir.DefaultSpace, prog)
	if err != nil {
		t.Fatalf("AllocateProgram: %v", err)
	}
	body := out.Funs[0].Body
	last := body.Stms[len(body.Stms)-1]
	el := last.Pattern.Elems[0]
	if el.Dec.Kind != DecValue || el.Dec.Type.Kind != ir.TArray {
		t.Fatalf("expected the kernel result binding to carry an array DecValue, got %+v", el.Dec)
	}
	if el.Dec.Mem.ID() == 0 {
		t.Fatalf("expected the kernel result to have a non-zero backing memory block")
	}
	if el.Dec.IxFun == nil || !el.Dec.IxFun.IsDirect() {
		t.Fatalf("expected a freshly allocated array result to carry a direct (row-major) index function")
	}
}

func TestAllocateProgramPrecedesArrayBindingWithAllocStm(t *testing.T) {
	var names namesrc.Source
	prog := mapIDProgram(&names)

	out, err := AllocateProgram(&names, ir.DefaultSpace, prog)
	if err != nil {
		t.Fatalf("AllocateProgram: %v", err)
	}
	body := out.Funs[0].Body
	if len(body.Stms) < 2 {
		t.Fatalf("expected a size computation + Alloc prelude ahead of the kernel-result binding, got %d statements", len(body.Stms))
	}
	var sawAlloc bool
	for _, s := range body.Stms {
		if s.Exp.Kind == ir.EBasicOp && s.Exp.Basic.Kind == ir.OpAlloc {
			sawAlloc = true
		}
	}
	if !sawAlloc {
		t.Fatalf("expected an OpAlloc statement in the prelude")
	}
}
