package memexpand

import (
	"farc/config"
	"farc/explicitmem"
	"farc/ferrors"
	"farc/ir"
	"farc/ixfun"
	"farc/kernels"
	"farc/namesrc"
)

const coalescePass = "memexpand.coalesce"

type coalescer struct {
	cfg   *config.Config
	names *namesrc.Source
}

// CoalesceProgram rewrites every kernel-result array of rank >= 2 so the
// kernel writes into a transposed (innermost-axis-first) layout — the
// natural per-thread write pattern for a `[outer, inner...]` result strides
// ∏inner elements apart, which does not coalesce on a GPU — then appends a
// Copy back to the original row-major layout so nothing downstream
// observes the transposition. Rank 0/1 results are already coalesced and
// left untouched; only ChunkedMapKernel/ReduceKernel shapes are rewritten,
// matching the source's own "embryonic" scope for this pass — correct but
// not necessarily optimal output is accepted for any kernel shape this
// pass does not specifically recognise.
func CoalesceProgram(cfg *config.Config, names *namesrc.Source, prog explicitmem.Program) (explicitmem.Program, error) {
	co := &coalescer{cfg: cfg, names: names}
	out := explicitmem.Program{}
	for _, fn := range prog.Funs {
		body, err := co.coalesceBody(fn.Body)
		if err != nil {
			return explicitmem.Program{}, err
		}
		out.Funs = append(out.Funs, explicitmem.FunDef{
			Name: fn.Name, Params: fn.Params, ReturnType: fn.ReturnType, Body: body,
		})
	}
	return out, nil
}

func (co *coalescer) coalesceBody(b explicitmem.Body) (explicitmem.Body, error) {
	var out []explicitmem.Stm
	for _, stm := range b.Stms {
		stms, err := co.coalesceStm(stm)
		if err != nil {
			return explicitmem.Body{}, err
		}
		out = append(out, stms...)
	}
	return explicitmem.Body{Stms: out, Result: b.Result}, nil
}

func (co *coalescer) coalesceStm(stm explicitmem.Stm) ([]explicitmem.Stm, error) {
	if stm.Exp.Kind != ir.EOp || stm.Exp.Op == nil {
		return []explicitmem.Stm{stm}, nil
	}
	op := *stm.Exp.Op
	if op.Kind != kernels.OKernel && op.Kind != kernels.OReduceKernel {
		return []explicitmem.Stm{stm}, nil
	}

	newElems := make([]ir.PatElem[explicitmem.MemDec], len(stm.Pattern.Elems))
	var prelude, copies []explicitmem.Stm
	for i, el := range stm.Pattern.Elems {
		if el.Dec.Kind != explicitmem.DecValue || el.Dec.Type.Rank() < 2 {
			newElems[i] = el
			continue
		}
		transposed, allocStms, copyStm, err := co.transposeResult(el)
		if err != nil {
			return nil, err
		}
		newElems[i] = transposed
		prelude = append(prelude, allocStms...)
		copies = append(copies, copyStm)
	}

	launch := explicitmem.Stm{
		Pattern: ir.Pattern[explicitmem.MemDec]{Elems: newElems, Context: stm.Pattern.Context},
		Aux:     stm.Aux,
		Exp:     stm.Exp,
	}
	out := append(prelude, launch)
	return append(out, copies...), nil
}

// transposeResult builds the fresh, transposed-layout pat-element the
// kernel writes into in place of el, plus the prelude allocating its
// backing block and the Copy statement that restores el's original name
// and (row-major) layout once the kernel has run.
func (co *coalescer) transposeResult(el ir.PatElem[explicitmem.MemDec]) (ir.PatElem[explicitmem.MemDec], []explicitmem.Stm, explicitmem.Stm, error) {
	t := el.Dec.Type
	rank := t.Rank()

	perm := make([]int, rank)
	for i := 0; i < rank-1; i++ {
		perm[i] = i + 1
	}
	perm[rank-1] = 0
	invPerm := ixfun.Inverse(perm)

	shape := make([]*ixfun.Expr, rank)
	for i, d := range t.Array.Shape {
		shape[i] = ixfun.FromSubExp(dimSubExp(d))
	}
	permutedShape := make([]*ixfun.Expr, rank)
	for i, p := range perm {
		permutedShape[i] = shape[p]
	}
	transposedIx, err := ixfun.Iota(permutedShape).Permute(invPerm)
	if err != nil {
		return ir.PatElem[explicitmem.MemDec]{}, nil, explicitmem.Stm{}, err
	}

	freshName := co.names.Fresh(el.Name.Tag + "_t")
	freshMem := co.names.Fresh(el.Name.Tag + "_t_mem")

	sizeExp, sizeStms, err := elemCountBytes(co.names, t)
	if err != nil {
		return ir.PatElem[explicitmem.MemDec]{}, nil, explicitmem.Stm{}, err
	}
	space := ir.Space(co.cfg.DefaultSpace)
	allocStm := explicitmem.Stm{
		Pattern: ir.Singleton[explicitmem.MemDec](freshMem, explicitmem.MemBlockDec(space)),
		Exp: ir.BasicExp[explicitmem.MemDec, kernels.KernelOp](ir.BasicOp{
			Kind: ir.OpAlloc, AllocSize: sizeExp, AllocSpace: space,
		}),
	}

	transposed := ir.PatElem[explicitmem.MemDec]{
		Name: freshName,
		Dec:  explicitmem.ValueDec(t, freshMem, transposedIx),
	}
	copyStm := explicitmem.Stm{
		Pattern: ir.Singleton[explicitmem.MemDec](el.Name, el.Dec),
		Exp: ir.BasicExp[explicitmem.MemDec, kernels.KernelOp](ir.BasicOp{
			Kind: ir.OpCopy, Arr: freshName,
		}),
	}
	return transposed, append(sizeStms, allocStm), copyStm, nil
}

// elemCountBytes computes an array type's total byte size as a SubExp,
// emitting whatever scalar arithmetic is needed to multiply its dimensions
// together; mirrors farc/explicitmem's allocation-size computation since
// this pass allocates the same way explicitAllocations does.
func elemCountBytes(names *namesrc.Source, t ir.Type) (ir.SubExp, []explicitmem.Stm, error) {
	shape := t.Array.Shape
	if len(shape) == 0 {
		return ir.Const(ir.IntConst(ir.W64, int64(t.Array.Elem.Size()))), nil, nil
	}
	acc, err := dimOrError(shape[0])
	if err != nil {
		return ir.SubExp{}, nil, err
	}
	var stms []explicitmem.Stm
	for _, d := range shape[1:] {
		next, err := dimOrError(d)
		if err != nil {
			return ir.SubExp{}, nil, err
		}
		n := names.Fresh("dimprod")
		stms = append(stms, explicitmem.Stm{
			Pattern: ir.Singleton[explicitmem.MemDec](n, explicitmem.ScalarDec(ir.PrimT(ir.I64))),
			Exp: ir.BasicExp[explicitmem.MemDec, kernels.KernelOp](ir.BasicOp{
				Kind: ir.OpBinOp, BinOp: ir.Mul, X: acc, Y: next,
			}),
		})
		acc = ir.Var(n)
	}
	bytesName := names.Fresh("tbytes")
	stms = append(stms, explicitmem.Stm{
		Pattern: ir.Singleton[explicitmem.MemDec](bytesName, explicitmem.ScalarDec(ir.PrimT(ir.I64))),
		Exp: ir.BasicExp[explicitmem.MemDec, kernels.KernelOp](ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Mul, X: acc, Y: ir.Const(ir.IntConst(ir.W64, int64(t.Array.Elem.Size()))),
		}),
	})
	return ir.Var(bytesName), stms, nil
}

func dimOrError(d ir.DimSize) (ir.SubExp, error) {
	switch d.Kind {
	case ir.DimConst:
		return ir.Const(ir.IntConst(ir.W64, d.Const)), nil
	case ir.DimVar:
		return ir.Var(d.Var), nil
	default:
		return ir.SubExp{}, ferrors.Shape(coalescePass, "", "existential dimension size has no concrete value to allocate against")
	}
}

func dimSubExp(d ir.DimSize) ir.SubExp {
	switch d.Kind {
	case ir.DimConst:
		return ir.Const(ir.IntConst(ir.W64, d.Const))
	case ir.DimVar:
		return ir.Var(d.Var)
	default:
		return ir.Const(ir.IntConst(ir.W64, 0))
	}
}
