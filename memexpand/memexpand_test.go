package memexpand

import (
	"testing"

	"farc/config"
	"farc/explicitmem"
	"farc/ir"
	"farc/ixfun"
	"farc/kernels"
	"farc/namesrc"
)

func i64T() ir.Type { return ir.PrimT(ir.I64) }

func arrT(n int64) ir.Type {
	return ir.ArrayT(ir.I64, []ir.DimSize{ir.ConstDim(n)}, ir.Nonunique)
}

func matT(outer, inner int64) ir.Type {
	return ir.ArrayT(ir.I64, []ir.DimSize{ir.ConstDim(outer), ir.ConstDim(inner)}, ir.Nonunique)
}

// wrap builds a single-statement function binding one kernel launch, the
// shape every coalesce/expand test exercises.
func wrapKernel(names *namesrc.Source, resultName ir.Name, resultDec explicitmem.MemDec, op kernels.KernelOp) explicitmem.Program {
	fn := explicitmem.FunDef{
		Name: "main",
		Body: explicitmem.Body{
			Stms: []explicitmem.Stm{{
				Pattern: ir.Pattern[explicitmem.MemDec]{Elems: []ir.PatElem[explicitmem.MemDec]{{Name: resultName, Dec: resultDec}}},
				Exp:     ir.OpExp[explicitmem.MemDec, kernels.KernelOp](op),
			}},
			Result: []ir.SubExp{ir.Var(resultName)},
		},
	}
	return explicitmem.Program{Funs: []explicitmem.FunDef{fn}}
}

func TestCoalesceProgramTransposesRank2Result(t *testing.T) {
	names := &namesrc.Source{}
	cfg := config.New()

	thread := ir.Param[kernels.Dec]{Name: names.Fresh("tid"), Dec: i64T()}
	mem := names.Fresh("out_mem")
	resultName := names.Fresh("out")
	resultDec := explicitmem.ValueDec(matT(8, 4), mem, ixfun.Iota([]*ixfun.Expr{ixfun.ConstE(8), ixfun.ConstE(4)}))

	kernel := kernels.Kernel{
		ThreadIndex: thread,
		NumThreads:  ir.Const(ir.IntConst(ir.W64, 8)),
		ReturnType:  []ir.Type{matT(8, 4)},
	}
	op := kernels.KernelOp{Kind: kernels.OKernel, Kernel: &kernel}

	prog := wrapKernel(names, resultName, resultDec, op)

	out, err := CoalesceProgram(cfg, names, prog)
	if err != nil {
		t.Fatalf("CoalesceProgram: %v", err)
	}

	body := out.Funs[0].Body
	if len(body.Stms) != 5 {
		t.Fatalf("expected two size statements + alloc + kernel-launch + copy-back, got %d statements", len(body.Stms))
	}

	allocStm := body.Stms[2]
	if allocStm.Exp.Kind != ir.EBasicOp || allocStm.Exp.Basic.Kind != ir.OpAlloc {
		t.Fatalf("expected third statement to allocate the transposed block, got %+v", allocStm.Exp)
	}

	launch := body.Stms[3]
	if launch.Exp.Kind != ir.EOp {
		t.Fatalf("expected fourth statement to still be the kernel launch")
	}
	launchDec := launch.Pattern.Elems[0].Dec
	if launchDec.Mem == mem {
		t.Fatalf("kernel should now write into a fresh transposed block, not the original %v", mem)
	}
	if launchDec.IxFun.IsDirect() {
		t.Fatalf("the transposed pat-element should carry a non-direct (permuted) index function")
	}

	copyStm := body.Stms[4]
	if copyStm.Exp.Kind != ir.EBasicOp || copyStm.Exp.Basic.Kind != ir.OpCopy {
		t.Fatalf("expected a trailing Copy restoring the original binding, got %+v", copyStm.Exp)
	}
	if copyStm.Pattern.Elems[0].Name != resultName {
		t.Fatalf("copy-back should rebind the original result name")
	}
	if copyStm.Pattern.Elems[0].Dec.Mem != mem {
		t.Fatalf("copy-back should restore the original memory block")
	}
}

func TestCoalesceProgramLeavesRank1ResultsAlone(t *testing.T) {
	names := &namesrc.Source{}
	cfg := config.New()

	thread := ir.Param[kernels.Dec]{Name: names.Fresh("tid"), Dec: i64T()}
	mem := names.Fresh("out_mem")
	resultName := names.Fresh("out")
	resultDec := explicitmem.ValueDec(arrT(8), mem, ixfun.Iota([]*ixfun.Expr{ixfun.ConstE(8)}))

	kernel := kernels.Kernel{ThreadIndex: thread, NumThreads: ir.Const(ir.IntConst(ir.W64, 8)), ReturnType: []ir.Type{arrT(8)}}
	op := kernels.KernelOp{Kind: kernels.OKernel, Kernel: &kernel}
	prog := wrapKernel(names, resultName, resultDec, op)

	out, err := CoalesceProgram(cfg, names, prog)
	if err != nil {
		t.Fatalf("CoalesceProgram: %v", err)
	}
	if len(out.Funs[0].Body.Stms) != 1 {
		t.Fatalf("a rank-1 result needs no transposition, expected the kernel launch untouched")
	}
}

func TestExpandProgramHoistsThreadInvariantAlloc(t *testing.T) {
	names := &namesrc.Source{}
	cfg := config.New()

	thread := ir.Param[kernels.Dec]{Name: names.Fresh("tid"), Dec: i64T()}
	scratchMem := names.Fresh("scratch_mem")
	scratchAllocStm := kernels.Stm{
		Pattern: ir.Singleton[kernels.Dec](scratchMem, i64T()),
		Exp: ir.BasicExp[kernels.Dec, kernels.KernelOp](ir.BasicOp{
			Kind: ir.OpAlloc, AllocSize: ir.Const(ir.IntConst(ir.W64, 64)), AllocSpace: ir.DefaultSpace,
		}),
	}
	resultScalar := names.Fresh("partial")
	kernelBody := kernels.Body{
		Stms:   []kernels.Stm{scratchAllocStm},
		Result: []ir.SubExp{ir.Var(resultScalar)},
	}
	kernel := kernels.Kernel{
		ThreadIndex: thread,
		NumThreads:  ir.Const(ir.IntConst(ir.W64, 32)),
		Body:        kernelBody,
		ReturnType:  []ir.Type{i64T()},
	}
	op := kernels.KernelOp{Kind: kernels.OKernel, Kernel: &kernel}

	resultName := names.Fresh("out")
	resultDec := explicitmem.ScalarDec(arrT(32))
	prog := wrapKernel(names, resultName, resultDec, op)

	out, rebase, err := ExpandProgram(cfg, names, prog)
	if err != nil {
		t.Fatalf("ExpandProgram: %v", err)
	}

	body := out.Funs[0].Body
	if len(body.Stms) != 3 {
		t.Fatalf("expected hoisted-size, hoisted-alloc, and the kernel launch, got %d", len(body.Stms))
	}
	if body.Stms[1].Exp.Basic.Kind != ir.OpAlloc {
		t.Fatalf("expected the second outer statement to be the hoisted allocation")
	}

	launch := body.Stms[2]
	newKernel := launch.Exp.Op.Kernel
	for _, stm := range newKernel.Body.Stms {
		if stm.Exp.Kind == ir.EBasicOp && stm.Exp.Basic.Kind == ir.OpAlloc {
			t.Fatalf("no Alloc statement may remain inside a kernel body after expansion")
		}
	}

	entry, ok := rebase[scratchMem]
	if !ok {
		t.Fatalf("expected a RebaseMap entry for the hoisted block %v", scratchMem)
	}
	if entry.ThreadIndex != thread.Name {
		t.Fatalf("rebase entry should record the kernel's own thread index")
	}
}

func TestExpandProgramRejectsThreadBoundAllocSize(t *testing.T) {
	names := &namesrc.Source{}
	cfg := config.New()

	thread := ir.Param[kernels.Dec]{Name: names.Fresh("tid"), Dec: i64T()}
	badMem := names.Fresh("bad_mem")
	badAllocStm := kernels.Stm{
		Pattern: ir.Singleton[kernels.Dec](badMem, i64T()),
		Exp: ir.BasicExp[kernels.Dec, kernels.KernelOp](ir.BasicOp{
			Kind: ir.OpAlloc, AllocSize: ir.Var(thread.Name), AllocSpace: ir.DefaultSpace,
		}),
	}
	kernelBody := kernels.Body{Stms: []kernels.Stm{badAllocStm}, Result: []ir.SubExp{ir.Var(thread.Name)}}
	kernel := kernels.Kernel{
		ThreadIndex: thread,
		NumThreads:  ir.Const(ir.IntConst(ir.W64, 32)),
		Body:        kernelBody,
		ReturnType:  []ir.Type{i64T()},
	}
	op := kernels.KernelOp{Kind: kernels.OKernel, Kernel: &kernel}

	resultName := names.Fresh("out")
	resultDec := explicitmem.ScalarDec(arrT(32))
	prog := wrapKernel(names, resultName, resultDec, op)

	if _, _, err := ExpandProgram(cfg, names, prog); err == nil {
		t.Fatalf("expected a shape error for an allocation sized from the thread index")
	}
}
