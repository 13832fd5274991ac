package memexpand

import (
	"farc/config"
	"farc/explicitmem"
	"farc/ferrors"
	"farc/ir"
	"farc/kernels"
	"farc/namesrc"
)

const expandPass = "memexpand.expand"

// expander hoists per-thread kernel allocations out to the enclosing
// function body, multiplying their size by the kernel's thread count.
type expander struct {
	cfg    *config.Config
	names  *namesrc.Source
	rebase RebaseMap
}

// ExpandProgram walks every kernel body looking for Alloc statements whose
// size does not mention the thread index or one of the kernel's own
// inputs — that is, a size chosen once for all threads rather than
// recomputed per thread. Each such Alloc is replaced by a single outer
// allocation of num_threads * size, and a RebaseMap entry is recorded so a
// later stage can re-derive the per-thread view into it. An Alloc whose
// size does mention a kernel-bound name cannot be hoisted and is reported
// as a shape error, matching testable property 5: after this pass, no
// Alloc statement remains inside a kernel body.
func ExpandProgram(cfg *config.Config, names *namesrc.Source, prog explicitmem.Program) (explicitmem.Program, RebaseMap, error) {
	ex := &expander{cfg: cfg, names: names, rebase: RebaseMap{}}
	out := explicitmem.Program{}
	for _, fn := range prog.Funs {
		body, err := ex.expandBody(fn.Body)
		if err != nil {
			return explicitmem.Program{}, nil, err
		}
		out.Funs = append(out.Funs, explicitmem.FunDef{
			Name: fn.Name, Params: fn.Params, ReturnType: fn.ReturnType, Body: body,
		})
	}
	return out, ex.rebase, nil
}

func (ex *expander) expandBody(b explicitmem.Body) (explicitmem.Body, error) {
	var out []explicitmem.Stm
	for _, stm := range b.Stms {
		stms, err := ex.expandStm(stm)
		if err != nil {
			return explicitmem.Body{}, err
		}
		out = append(out, stms...)
	}
	return explicitmem.Body{Stms: out, Result: b.Result}, nil
}

func (ex *expander) expandStm(stm explicitmem.Stm) ([]explicitmem.Stm, error) {
	if stm.Exp.Kind != ir.EOp || stm.Exp.Op == nil {
		return []explicitmem.Stm{stm}, nil
	}
	op := *stm.Exp.Op
	switch op.Kind {
	case kernels.OKernel:
		hoisted, newKernel, err := ex.expandKernel(*op.Kernel)
		if err != nil {
			return nil, err
		}
		newOp := kernels.KernelOp{Kind: kernels.OKernel, Kernel: &newKernel}
		launch := explicitmem.Stm{Pattern: stm.Pattern, Aux: stm.Aux, Exp: ir.OpExp[explicitmem.MemDec, kernels.KernelOp](newOp)}
		return append(hoisted, launch), nil

	case kernels.OReduceKernel:
		rk := *op.ReduceKernel
		hoistedPer, newPer, err := ex.expandKernel(rk.PerThread)
		if err != nil {
			return nil, err
		}
		hoistedCross, newCross, err := ex.expandKernel(rk.Cross)
		if err != nil {
			return nil, err
		}
		rk.PerThread, rk.Cross = newPer, newCross
		newOp := kernels.KernelOp{Kind: kernels.OReduceKernel, ReduceKernel: &rk}
		launch := explicitmem.Stm{Pattern: stm.Pattern, Aux: stm.Aux, Exp: ir.OpExp[explicitmem.MemDec, kernels.KernelOp](newOp)}
		out := append(hoistedPer, hoistedCross...)
		return append(out, launch), nil

	default:
		return []explicitmem.Stm{stm}, nil
	}
}

// expandKernel hoists every thread-invariant Alloc out of k's body,
// returning the outer statements the hoist produced plus k with those
// Alloc statements removed.
func (ex *expander) expandKernel(k kernels.Kernel) ([]explicitmem.Stm, kernels.Kernel, error) {
	kernelBound := map[ir.Name]bool{k.ThreadIndex.Name: true}
	for _, in := range k.Inputs {
		kernelBound[in.Param.Name] = true
	}

	var hoisted []explicitmem.Stm
	var kept []kernels.Stm
	for _, stm := range k.Body.Stms {
		if stm.Exp.Kind == ir.EBasicOp && stm.Exp.Basic.Kind == ir.OpAlloc {
			alloc := stm.Exp.Basic
			if mentionsAny(alloc.AllocSize, kernelBound) {
				name := stm.Pattern.Names()[0]
				return nil, kernels.Kernel{}, ferrors.Shape(expandPass, name.Tag,
					"allocation size depends on a kernel-bound name and cannot be hoisted")
			}
			memName := stm.Pattern.Names()[0]
			hoistStms := ex.hoistAlloc(memName, alloc, k)
			hoisted = append(hoisted, hoistStms...)
			continue
		}
		kept = append(kept, stm)
		for _, n := range stm.Pattern.Names() {
			kernelBound[n] = true
		}
		for _, n := range stm.Pattern.ContextNames() {
			kernelBound[n] = true
		}
	}

	newKernel := k
	newKernel.Body = ir.Body[kernels.Dec, kernels.KernelOp]{Stms: kept, Result: k.Body.Result}
	return hoisted, newKernel, nil
}

// hoistAlloc replaces a single in-kernel Alloc with an outer allocation
// sized for every thread at once, and records the RebaseMap entry a later
// stage needs to re-derive the per-thread slice of it.
func (ex *expander) hoistAlloc(memName ir.Name, alloc ir.BasicOp, k kernels.Kernel) []explicitmem.Stm {
	sizeName := ex.names.Fresh(memName.Tag + "_hoisted_bytes")
	sizeStm := explicitmem.Stm{
		Pattern: ir.Singleton[explicitmem.MemDec](sizeName, explicitmem.ScalarDec(ir.PrimT(ir.I64))),
		Exp: ir.BasicExp[explicitmem.MemDec, kernels.KernelOp](ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Mul, X: alloc.AllocSize, Y: k.NumThreads,
		}),
	}

	hoistedMem := ex.names.Fresh(memName.Tag + "_hoisted")
	allocStm := explicitmem.Stm{
		Pattern: ir.Singleton[explicitmem.MemDec](hoistedMem, explicitmem.MemBlockDec(alloc.AllocSpace)),
		Exp: ir.BasicExp[explicitmem.MemDec, kernels.KernelOp](ir.BasicOp{
			Kind: ir.OpAlloc, AllocSize: ir.Var(sizeName), AllocSpace: alloc.AllocSpace,
		}),
	}

	ex.rebase[memName] = RebaseEntry{ThreadIndex: k.ThreadIndex.Name, NumThreads: k.NumThreads}
	return []explicitmem.Stm{sizeStm, allocStm}
}

func mentionsAny(s ir.SubExp, names map[ir.Name]bool) bool {
	return !s.IsConst() && names[s.Var]
}
