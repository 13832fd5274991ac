package impgen

import (
	"fmt"

	"farc/explicitmem"
	"farc/ir"
	"farc/ixfun"
)

// lowerExpr reduces a symbolic ixfun.Expr to a concrete ir.SubExp, emitting
// whatever scalar arithmetic Code is needed to compute it. Constants and
// bare variables need none; a compound expression gets one fresh i64
// temporary per internal node, mirroring how farc/explicitmem.elemCount
// builds up a dimension product one Stm at a time.
func (g *genFun) lowerExpr(e *ixfun.Expr) (ir.SubExp, []Code) {
	e = ixfun.Normalize(e)
	switch e.Kind {
	case ixfun.EConst:
		return ir.Const(ir.IntConst(ir.W64, e.C)), nil
	case ixfun.EVar:
		return ir.Var(e.V), nil
	case ixfun.EExt:
		// An unresolved existential reaching ImpGen means an earlier pass
		// left a branch/loop memory return ungeneralised; explicitmem's
		// current simplification (independent fresh allocation per
		// pattern element) never introduces one, so this is reached only
		// by a future pass that does. Documented as a zero fallback
		// rather than a hard error so ImpGen stays total over today's
		// inputs.
		return ir.Const(ir.IntConst(ir.W64, 0)), nil
	}

	l, lc := g.lowerExpr(e.L)
	r, rc := g.lowerExpr(e.R)
	var op ir.BinOpKind
	switch e.Kind {
	case ixfun.EAdd:
		op = ir.Add
	case ixfun.ESub:
		op = ir.Sub
	case ixfun.EMul:
		op = ir.Mul
	}
	name := g.names.Fresh("ix")
	code := append(append(lc, rc...),
		Code{Kind: SDeclareScalar, Name: name, Type: ir.I64},
		Code{Kind: SSetScalar, Target: name, Rhs: ir.BasicOp{Kind: ir.OpBinOp, BinOp: op, X: l, Y: r}},
	)
	return ir.Var(name), code
}

// dimSubExp converts a DimSize to a SubExp, the same three-way case
// farc/explicitmem.dimToSubExp handles, duplicated locally since ImpGen
// has no dependency on explicitmem's unexported helpers.
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

// elemCount emits the Code computing the product of shape's dimensions
// (the element count of an array of this shape).
func (g *genFun) elemCount(shape []ir.DimSize) (ir.SubExp, []Code) {
	if len(shape) == 0 {
		return ir.Const(ir.IntConst(ir.W64, 1)), nil
	}
	acc := dimSubExp(shape[0])
	var code []Code
	for _, d := range shape[1:] {
		next := dimSubExp(d)
		n := g.names.Fresh("dimprod")
		code = append(code,
			Code{Kind: SDeclareScalar, Name: n, Type: ir.I64},
			Code{Kind: SSetScalar, Target: n, Rhs: ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Mul, X: acc, Y: next}},
		)
		acc = ir.Var(n)
	}
	return acc, code
}

// spaceOf looks up the memory space of a mem-block name via the running
// decoration map; unknown blocks default to DefaultSpace rather than
// failing, since a block introduced by a pass this core doesn't model
// (there are none today) should still get inline, host-side code.
func (g *genFun) spaceOf(mem ir.Name) ir.Space {
	if d, ok := g.dec[mem]; ok && d.Kind == explicitmem.DecMem {
		return d.Space
	}
	return ir.DefaultSpace
}

// emitIndex reads one scalar element, dispatching through the backend's
// operations table when mem's space isn't the default.
func (g *genFun) emitIndex(dst ir.Name, mem ir.Name, offset ir.SubExp, elem ir.PrimType) []Code {
	if code, ok := g.ops.readScalar(g.spaceOf(mem), dst, mem, offset, elem); ok {
		return code
	}
	return []Code{
		{Kind: SDeclareScalar, Name: dst, Type: elem},
		{Kind: SIndex, Dst: dst, Mem: mem, Offset: offset, ElemType: elem},
	}
}

// emitWrite writes one scalar element, dispatching through the backend's
// operations table when mem's space isn't the default.
func (g *genFun) emitWrite(mem ir.Name, offset ir.SubExp, val ir.SubExp, elem ir.PrimType) []Code {
	if code, ok := g.ops.writeScalar(g.spaceOf(mem), mem, offset, elem, val); ok {
		return code
	}
	return []Code{{Kind: SWrite, Mem: mem, Offset: offset, Value: val, ElemType: elem}}
}

// emitAllocate declares and allocates a memory block, dispatching through
// the backend's operations table for non-default spaces.
func (g *genFun) emitAllocate(name ir.Name, size ir.SubExp, space ir.Space) []Code {
	decl := Code{Kind: SDeclareMem, Name: name, Space: space}
	if code, ok := g.ops.allocate(space, name, size); ok {
		return append([]Code{decl}, code...)
	}
	return []Code{decl, {Kind: SAllocate, Name: name, Space: space, Size: size}}
}

// emitBulkCopy issues a single element-range Copy, dispatching through the
// operations table keyed on the destination's space (the natural side for
// an upload/download copy to declare an override on). Offsets and counts
// are in elements; ElemType carries the size a backend needs to turn that
// into a byte range.
func (g *genFun) emitBulkCopy(dstMem ir.Name, dstOff ir.SubExp, srcMem ir.Name, srcOff ir.SubExp, nElems ir.SubExp, elem ir.PrimType) []Code {
	if code, ok := g.ops.copy(g.spaceOf(dstMem), dstMem, dstOff, srcMem, srcOff, nElems, elem); ok {
		return code
	}
	return []Code{{Kind: SCopy, SrcMem: srcMem, DstMem: dstMem, SrcOffset: srcOff, DstOffset: dstOff, NumElems: nElems, ElemType: elem}}
}

// emitArrayCopy copies every element of an array from (srcMem, srcIx) to
// (dstMem, dstIx). When both index functions are linear-with-offset this
// is a single bulk Copy (the common case: every block explicitmem
// allocates is row-major); otherwise it falls back to a per-element
// nested loop, which is always correct whatever the layouts are.
func (g *genFun) emitArrayCopy(dstMem ir.Name, dstIx *ixfun.IxFun, srcMem ir.Name, srcIx *ixfun.IxFun, shape []ir.DimSize, elem ir.PrimType) []Code {
	// elemSize 1 asks LinearWithOffset for the offset in elements rather
	// than bytes, matching Code's element-denominated Offset/NumElems.
	if dOff, ok := dstIx.LinearWithOffset(1); ok {
		if sOff, ok2 := srcIx.LinearWithOffset(1); ok2 {
			nelems, code := g.elemCount(shape)
			code = append(code, g.emitBulkCopy(
				dstMem, ir.Const(ir.IntConst(ir.W64, dOff)),
				srcMem, ir.Const(ir.IntConst(ir.W64, sOff)),
				nelems, elem)...)
			return code
		}
	}
	return g.copyLoopNest(dstMem, dstIx, srcMem, srcIx, shape, elem, nil)
}

// copyLoopNest builds one nested For loop per remaining dimension of
// shape, and at the innermost level reads one element from src and writes
// it to the corresponding position in dst.
func (g *genFun) copyLoopNest(dstMem ir.Name, dstIx *ixfun.IxFun, srcMem ir.Name, srcIx *ixfun.IxFun, shape []ir.DimSize, elem ir.PrimType, idxNames []ir.Name) []Code {
	if len(idxNames) == len(shape) {
		idxExprs := make([]*ixfun.Expr, len(idxNames))
		for i, n := range idxNames {
			idxExprs[i] = ixfun.VarE(n)
		}
		dOffE, errD := dstIx.Index(idxExprs)
		sOffE, errS := srcIx.Index(idxExprs)
		if errD != nil || errS != nil {
			return nil
		}
		dOff, c1 := g.lowerExpr(dOffE)
		sOff, c2 := g.lowerExpr(sOffE)
		tmp := g.names.Fresh("celem")
		out := append(append(c1, c2...), g.emitIndex(tmp, srcMem, sOff, elem)...)
		out = append(out, g.emitWrite(dstMem, dOff, ir.Var(tmp), elem)...)
		return out
	}
	i := len(idxNames)
	loopVar := g.names.Fresh(fmt.Sprintf("ci%d", i))
	body := g.copyLoopNest(dstMem, dstIx, srcMem, srcIx, shape, elem, append(append([]ir.Name{}, idxNames...), loopVar))
	return []Code{{Kind: SFor, Index: loopVar, Bound: dimSubExp(shape[i]), Body: body}}
}

// scalarOffset computes the linear element offset of a single scalar
// access described by slice (every DimFix/DimSlice component contributes
// its index times that axis's stride), used for OpIndex's all-fixed case
// and OpUpdate's single-element write.
func scalarOffset(ix *ixfun.IxFun, slice []ir.DimIndex) (*ixfun.Expr, error) {
	if ix.Kind != ixfun.KindLMAD {
		return nil, fmt.Errorf("scalarOffset: index function has lost linearity")
	}
	off := ix.Offset
	for i, di := range slice {
		var idxE *ixfun.Expr
		switch di.Kind {
		case ir.DimFix:
			idxE = ixfun.FromSubExp(di.Fix)
		case ir.DimSlice:
			idxE = ixfun.FromSubExp(di.Offset)
		}
		off = ixfun.AddE(off, ixfun.MulE(idxE, ix.Dims[i].Stride))
	}
	return ixfun.Normalize(off), nil
}

func elemPrimType(t ir.Type) ir.PrimType {
	if t.Kind == ir.TArray {
		return t.Array.Elem
	}
	return t.Prim
}

// elemCountExpr is elemCount's purely symbolic counterpart: no Code is
// emitted, so it composes freely into a larger Expr (e.g. an accumulating
// concat offset) before any of it is lowered.
func elemCountExpr(shape []ir.DimSize) *ixfun.Expr {
	if len(shape) == 0 {
		return ixfun.ConstE(1)
	}
	acc := ixfun.FromSubExp(dimSubExp(shape[0]))
	for _, d := range shape[1:] {
		acc = ixfun.MulE(acc, ixfun.FromSubExp(dimSubExp(d)))
	}
	return acc
}

// byteSize emits the Code computing shape's total byte size for an array
// of elements of type elem.
func (g *genFun) byteSize(shape []ir.DimSize, elem ir.PrimType) (ir.SubExp, []Code) {
	n, code := g.elemCount(shape)
	name := g.names.Fresh("bytes")
	code = append(code,
		Code{Kind: SDeclareScalar, Name: name, Type: ir.I64},
		Code{Kind: SSetScalar, Target: name, Rhs: ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Mul, X: n, Y: ir.Const(ir.IntConst(ir.W64, int64(elem.Size()))),
		}},
	)
	return ir.Var(name), code
}

// sliceShape extracts the shape of the sub-array a DimIndex slice
// describes: one DimSize per DimSlice component, fixed axes contributing
// none (they drop from the result's rank, matching ixfun.Slice).
func sliceShape(slice []ir.DimIndex) []ir.DimSize {
	var out []ir.DimSize
	for _, di := range slice {
		if di.Kind != ir.DimSlice {
			continue
		}
		if di.Length.IsConst() {
			out = append(out, ir.ConstDim(di.Length.Const.IntVal))
		} else {
			out = append(out, ir.VarDim(di.Length.Var))
		}
	}
	return out
}
