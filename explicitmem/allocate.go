package explicitmem

import (
	"farc/ferrors"
	"farc/ir"
	"farc/ixfun"
	"farc/kernels"
	"farc/namesrc"
)

const passName = "explicitmem.allocate"

// allocator threads the name supply and the accumulated Dec of every name
// bound so far through a single AllocateProgram run (mirrors
// farc/soacs.Simplify's env-as-you-go walk).
type allocator struct {
	names *namesrc.Source
	space ir.Space
	dec   map[ir.Name]MemDec
}

// AllocateProgram lowers a Kernels program into KernelsMem, annotating
// every array binding with its backing memory block and index function.
// Allocations internal to a Kernel's own body are left untouched here —
// farc/memexpand's hoisting pass is the one that lifts those out.
func AllocateProgram(names *namesrc.Source, space ir.Space, prog kernels.Program) (Program, error) {
	al := &allocator{names: names, space: space, dec: map[ir.Name]MemDec{}}
	out := Program{}
	for _, fn := range prog.Funs {
		mf, err := al.allocFun(fn)
		if err != nil {
			return Program{}, err
		}
		out.Funs = append(out.Funs, mf)
	}
	return out, nil
}

func (al *allocator) allocFun(fn kernels.FunDef) (FunDef, error) {
	params := make([]ir.Param[MemDec], 0, len(fn.Params)*2)
	for _, p := range fn.Params {
		if p.Dec.IsArray() {
			memName := al.names.Fresh(p.Name.Tag + "_mem")
			al.dec[memName] = MemBlockDec(al.space)
			params = append(params, ir.Param[MemDec]{Name: memName, Dec: MemBlockDec(al.space)})
			ix := ixfun.Iota(shapeExprs(p.Dec))
			d := ValueDec(p.Dec, memName, ix)
			al.dec[p.Name] = d
			params = append(params, ir.Param[MemDec]{Name: p.Name, Dec: d})
		} else {
			d := ScalarDec(p.Dec)
			al.dec[p.Name] = d
			params = append(params, ir.Param[MemDec]{Name: p.Name, Dec: d})
		}
	}

	body, err := al.allocBody(fn.Body)
	if err != nil {
		return FunDef{}, err
	}
	return FunDef{Name: fn.Name, Params: params, ReturnType: fn.ReturnType, Body: body}, nil
}

// allocBody walks a Kernels body top-to-bottom, giving every produced name
// a MemDec: scalars get ScalarDec, arrays get a fresh allocation sized
// from their shape, including the overall result of an If/DoLoop (whose
// arms still compute into their own separately-allocated blocks).
func (al *allocator) allocBody(b kernels.Body) (Body, error) {
	var out []Stm
	for _, stm := range b.Stms {
		stms, err := al.allocStm(stm)
		if err != nil {
			return Body{}, err
		}
		out = append(out, stms...)
	}
	return Body{Stms: out, Result: b.Result}, nil
}

func (al *allocator) allocStm(stm kernels.Stm) ([]Stm, error) {
	var prelude []Stm
	newPat, err := al.allocPattern(stm.Pattern, stm.Exp, &prelude)
	if err != nil {
		return nil, err
	}
	exp, err := al.allocExp(stm.Exp)
	if err != nil {
		return nil, err
	}
	return append(prelude, Stm{Pattern: newPat, Aux: stm.Aux, Exp: exp}), nil
}

// allocPattern assigns a MemDec to every element of a pattern, emitting the
// Alloc statements array elements need into *prelude, which the caller
// splices in immediately before the statement itself.
func (al *allocator) allocPattern(pat ir.Pattern[ir.Type], e kernels.Exp, prelude *[]Stm) (ir.Pattern[MemDec], error) {
	elems := make([]ir.PatElem[MemDec], len(pat.Elems))
	for i, el := range pat.Elems {
		if !el.Dec.IsArray() {
			d := ScalarDec(el.Dec)
			al.dec[el.Name] = d
			elems[i] = ir.PatElem[MemDec]{Name: el.Name, Dec: d}
			continue
		}
		block, ix, err := al.blockFor(el.Name, el.Dec, e, prelude)
		if err != nil {
			return ir.Pattern[MemDec]{}, err
		}
		d := ValueDec(el.Dec, block, ix)
		al.dec[el.Name] = d
		elems[i] = ir.PatElem[MemDec]{Name: el.Name, Dec: d}
	}
	return ir.Pattern[MemDec]{Elems: elems}, nil
}

// blockFor decides which memory block an array-producing binding writes
// into. Every array result — whether from a BasicOp, an Apply, or the
// overall result of an If/DoLoop — gets its own fresh allocation sized
// from its shape; reconciling that block with the ones each arm of an
// If/DoLoop computed internally is left to farc/impgen, which
// has the fuller picture of which arm actually executed needed to decide
// between an in-place write and a copy.
func (al *allocator) blockFor(name ir.Name, t ir.Type, e kernels.Exp, prelude *[]Stm) (ir.Name, *ixfun.IxFun, error) {
	mem, err := al.freshAlloc(name, t, prelude)
	if err != nil {
		return ir.Name{}, nil, err
	}
	return mem, ixfun.Iota(shapeExprs(t)), nil
}

// freshAlloc emits the scalar arithmetic computing an array's byte size and
// the Alloc statement itself, returning the freshly bound memory name.
func (al *allocator) freshAlloc(forName ir.Name, t ir.Type, prelude *[]Stm) (ir.Name, error) {
	if t.Kind != ir.TArray {
		return ir.Name{}, ferrors.Internal(passName, nil, "freshAlloc on non-array type for %s", forName)
	}
	sizeExp, sizeStms, err := elemCount(al.names, t.Array.Shape)
	if err != nil {
		return ir.Name{}, err
	}
	*prelude = append(*prelude, sizeStms...)

	byteSize := t.Array.Elem.Size()
	sizeName := al.names.Fresh(forName.Tag + "_bytes")
	*prelude = append(*prelude, Stm{
		Pattern: ir.Singleton[MemDec](sizeName, ScalarDec(ir.PrimT(ir.I64))),
		Exp: ir.BasicExp[MemDec, kernels.KernelOp](ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Mul, X: sizeExp, Y: ir.Const(ir.IntConst(ir.W64, int64(byteSize))),
		}),
	})

	memName := al.names.Fresh(forName.Tag + "_mem")
	al.dec[memName] = MemBlockDec(al.space)
	*prelude = append(*prelude, Stm{
		Pattern: ir.Singleton[MemDec](memName, MemBlockDec(al.space)),
		Exp: ir.BasicExp[MemDec, kernels.KernelOp](ir.BasicOp{
			Kind: ir.OpAlloc, AllocSize: ir.Var(sizeName), AllocSpace: al.space,
		}),
	})
	return memName, nil
}

// elemCount emits the statements computing the product of an array type's
// dimensions (the element count, before multiplying by element byte size).
func elemCount(names *namesrc.Source, shape []ir.DimSize) (ir.SubExp, []Stm, error) {
	if len(shape) == 0 {
		return ir.Const(ir.IntConst(ir.W64, 1)), nil, nil
	}
	dimSubExp := func(d ir.DimSize) (ir.SubExp, error) {
		switch d.Kind {
		case ir.DimConst:
			return ir.Const(ir.IntConst(ir.W64, d.Const)), nil
		case ir.DimVar:
			return ir.Var(d.Var), nil
		default:
			return ir.SubExp{}, ferrors.Shape(passName, "", "existential dimension size has no concrete value to allocate against")
		}
	}
	acc, err := dimSubExp(shape[0])
	if err != nil {
		return ir.SubExp{}, nil, err
	}
	var stms []Stm
	for _, d := range shape[1:] {
		next, err := dimSubExp(d)
		if err != nil {
			return ir.SubExp{}, nil, err
		}
		n := names.Fresh("dimprod")
		stms = append(stms, Stm{
			Pattern: ir.Singleton[MemDec](n, ScalarDec(ir.PrimT(ir.I64))),
			Exp: ir.BasicExp[MemDec, kernels.KernelOp](ir.BasicOp{
				Kind: ir.OpBinOp, BinOp: ir.Mul, X: acc, Y: next,
			}),
		})
		acc = ir.Var(n)
	}
	return acc, stms, nil
}

func shapeExprs(t ir.Type) []*ixfun.Expr {
	if t.Kind != ir.TArray {
		return nil
	}
	out := make([]*ixfun.Expr, len(t.Array.Shape))
	for i, d := range t.Array.Shape {
		out[i] = ixfun.FromSubExp(dimToSubExp(d))
	}
	return out
}

func dimToSubExp(d ir.DimSize) ir.SubExp {
	switch d.Kind {
	case ir.DimConst:
		return ir.Const(ir.IntConst(ir.W64, d.Const))
	case ir.DimVar:
		return ir.Var(d.Var)
	default:
		return ir.Const(ir.IntConst(ir.W64, 0))
	}
}

// allocExp recurses into If/DoLoop's nested bodies, reusing the allocator's
// running dec map. Array-producing bindings inside a branch get their own
// fresh blocks; they are not retargeted at the block chosen for the
// statement as a whole.
func (al *allocator) allocExp(e kernels.Exp) (Exp, error) {
	switch e.Kind {
	case ir.EBasicOp:
		return ir.BasicExp[MemDec, kernels.KernelOp](e.Basic), nil
	case ir.EApply:
		return Exp{Kind: ir.EApply, FuncName: e.FuncName, Args: e.Args}, nil
	case ir.EIf:
		t, err := al.allocBody(*e.True)
		if err != nil {
			return Exp{}, err
		}
		f, err := al.allocBody(*e.False)
		if err != nil {
			return Exp{}, err
		}
		return Exp{Kind: ir.EIf, Cond: e.Cond, True: &t, False: &f, IfSort: ir.IfSort(e.IfSort)}, nil
	case ir.EDoLoop:
		params := make([]ir.Param[MemDec], len(e.MergeParams))
		for i, p := range e.MergeParams {
			if p.Dec.IsArray() {
				mem := al.names.Fresh(p.Name.Tag + "_mem")
				al.dec[mem] = MemBlockDec(al.space)
				d := ValueDec(p.Dec, mem, ixfun.Iota(shapeExprs(p.Dec)))
				al.dec[p.Name] = d
				params[i] = ir.Param[MemDec]{Name: p.Name, Dec: d}
			} else {
				d := ScalarDec(p.Dec)
				al.dec[p.Name] = d
				params[i] = ir.Param[MemDec]{Name: p.Name, Dec: d}
			}
		}
		lb, err := al.allocBody(*e.LoopBody)
		if err != nil {
			return Exp{}, err
		}
		return Exp{
			Kind: ir.EDoLoop, MergeParams: params, MergeInit: e.MergeInit,
			Form:     ir.LoopForm[MemDec]{IsWhile: e.Form.IsWhile, Index: ir.Param[MemDec]{Name: e.Form.Index.Name, Dec: ScalarDec(e.Form.Index.Dec)}, Bound: e.Form.Bound, Cond: e.Form.Cond},
			LoopBody: &lb,
		}, nil
	case ir.EOp:
		if e.Op == nil {
			return Exp{Kind: ir.EOp}, nil
		}
		op := *e.Op
		return Exp{Kind: ir.EOp, Op: &op}, nil
	}
	return Exp{}, ferrors.Internal(passName, nil, "unhandled expression kind %d", e.Kind)
}
