package impgen

import (
	"farc/explicitmem"
	"farc/ferrors"
	"farc/ir"
	"farc/ixfun"

	"github.com/llir/llvm/ir/value"
)

// genBasicOp lowers a single BasicOp, the construct unchanged in shape
// from SOACS all the way to here (farc/ir.expr.go's doc comment). Every
// array-typed pattern element already has its own fresh memory block
// (farc/explicitmem.blockFor's documented simplification), so a BasicOp
// producing an array never writes into its operand's storage in place —
// it always materialises into its own destination via emitArrayCopy, a
// per-element write loop, or a single index write, depending on kind.
func (g *genFun) genBasicOp(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	switch basic.Kind {
	case ir.OpSubExp:
		return g.genOpSubExp(pat, basic)
	case ir.OpBinOp, ir.OpUnOp, ir.OpConvOp:
		return g.genScalarArith(pat, basic)
	case ir.OpAssert:
		return g.genAssert(pat, basic)
	case ir.OpIndex:
		return g.genIndex(pat, basic)
	case ir.OpUpdate:
		return g.genUpdate(pat, basic)
	case ir.OpArrayLit:
		return g.genArrayLit(pat, basic)
	case ir.OpReplicate:
		return g.genReplicate(pat, basic)
	case ir.OpIota:
		return g.genIota(pat, basic)
	case ir.OpReshape:
		return g.genReshape(pat, basic)
	case ir.OpRearrange:
		return g.genRearrange(pat, basic)
	case ir.OpConcat:
		return g.genConcat(pat, basic)
	case ir.OpCopy:
		return g.genCopy(pat, basic)
	case ir.OpAlloc:
		return g.genAlloc(pat, basic)
	case ir.OpPartition:
		return g.genPartition(pat, basic)
	}
	return nil, ferrors.Internal(passName, nil, "unhandled basic op kind %d", basic.Kind)
}

func firstArrayDec(pat ir.Pattern[explicitmem.MemDec]) (explicitmem.MemDec, bool) {
	if len(pat.Elems) == 0 {
		return explicitmem.MemDec{}, false
	}
	return pat.Elems[0].Dec, pat.Elems[0].Dec.Kind == explicitmem.DecValue
}

// genOpSubExp forwards a SubExp: a plain rename for scalars, a full array
// copy for arrays (since the destination's block is never the source's).
func (g *genFun) genOpSubExp(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	dest, ok := firstArrayDec(pat)
	if !ok {
		return nil, nil
	}
	if !dest.Type.IsArray() {
		return []Code{
			{Kind: SDeclareScalar, Name: pat.Elems[0].Name, Type: dest.Type.Prim},
			{Kind: SSetScalar, Target: pat.Elems[0].Name, Rhs: basic},
		}, nil
	}
	if basic.SubExp.IsConst() {
		return nil, ferrors.Internal(passName, nil, "array OpSubExp forwarding a constant")
	}
	src, ok := g.dec[basic.SubExp.Var]
	if !ok || src.Kind != explicitmem.DecValue {
		return nil, ferrors.Internal(passName, nil, "OpSubExp operand %s has no array decoration", basic.SubExp.Var)
	}
	return g.emitArrayCopy(dest.Mem, dest.IxFun, src.Mem, src.IxFun, dest.Type.Array.Shape, dest.Type.Array.Elem), nil
}

// genScalarArith lowers OpBinOp/OpUnOp/OpConvOp, which only ever produce a
// scalar (arrays are mapped over via a SOAC, never a bare BasicOp).
func (g *genFun) genScalarArith(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	if len(pat.Elems) == 0 {
		return nil, nil
	}
	el := pat.Elems[0]
	return []Code{
		{Kind: SDeclareScalar, Name: el.Name, Type: el.Dec.Type.Prim},
		{Kind: SSetScalar, Target: el.Name, Rhs: basic},
	}, nil
}

// genAssert lowers a runtime check to an opaque backend-dispatched
// assertion plus the zero-byte Cert token the pattern expects, continuing
// to carry the checked value and message for a backend's benefit.
func (g *genFun) genAssert(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	var out []Code
	out = append(out, Code{Kind: SOp, OpName: "assert:" + basic.AssertMsg, OpArgs: []value.Value{llvmOperand(basic.SubExp, g.typeOfSubExp(basic.SubExp))}})
	for _, el := range pat.Elems {
		out = append(out,
			Code{Kind: SDeclareScalar, Name: el.Name, Type: ir.Cert},
			Code{Kind: SSetScalar, Target: el.Name, Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: ir.Const(ir.PrimValue{Type: ir.Cert})}},
		)
	}
	return out, nil
}

// genIndex lowers OpIndex. An all-fixed slice reads a single scalar; a
// slice with at least one range component produces a sub-array view,
// materialised by copying that view into the destination's own block.
func (g *genFun) genIndex(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	src, ok := g.dec[basic.Arr]
	if !ok || src.Kind != explicitmem.DecValue {
		return nil, ferrors.Internal(passName, nil, "OpIndex on %s with no array decoration", basic.Arr)
	}
	if allFixed(basic.Slice) {
		offE, err := scalarOffset(src.IxFun, basic.Slice)
		if err != nil {
			return nil, ferrors.Wrap(passName, ferrors.ShapeErr, err, "indexing %s", basic.Arr)
		}
		off, code := g.lowerExpr(offE)
		dst := pat.Elems[0].Name
		code = append(code, g.emitIndex(dst, src.Mem, off, src.Type.Array.Elem)...)
		return code, nil
	}

	view, err := src.IxFun.Slice(basic.Slice)
	if err != nil {
		return nil, ferrors.Wrap(passName, ferrors.ShapeErr, err, "slicing %s", basic.Arr)
	}
	dest, ok := firstArrayDec(pat)
	if !ok {
		return nil, ferrors.Internal(passName, nil, "OpIndex slice result has no array decoration")
	}
	return g.emitArrayCopy(dest.Mem, dest.IxFun, src.Mem, view, dest.Type.Array.Shape, dest.Type.Array.Elem), nil
}

func allFixed(slice []ir.DimIndex) bool {
	for _, di := range slice {
		if di.Kind != ir.DimFix {
			return false
		}
	}
	return true
}

// genUpdate lowers OpUpdate: the destination starts as a full copy of the
// original array (explicitmem never aliases the two blocks), after which
// the updated slice is overwritten — a single scalar write for an
// all-fixed slice, or a nested copy from Value's own array for a ranged
// one.
func (g *genFun) genUpdate(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	src, ok := g.dec[basic.Arr]
	if !ok || src.Kind != explicitmem.DecValue {
		return nil, ferrors.Internal(passName, nil, "OpUpdate on %s with no array decoration", basic.Arr)
	}
	dest, ok := firstArrayDec(pat)
	if !ok {
		return nil, ferrors.Internal(passName, nil, "OpUpdate result has no array decoration")
	}
	code := g.emitArrayCopy(dest.Mem, dest.IxFun, src.Mem, src.IxFun, dest.Type.Array.Shape, dest.Type.Array.Elem)

	if allFixed(basic.Slice) {
		offE, err := scalarOffset(dest.IxFun, basic.Slice)
		if err != nil {
			return nil, ferrors.Wrap(passName, ferrors.ShapeErr, err, "updating %s", basic.Arr)
		}
		off, offCode := g.lowerExpr(offE)
		code = append(code, offCode...)
		code = append(code, g.emitWrite(dest.Mem, off, basic.Value, dest.Type.Array.Elem)...)
		return code, nil
	}

	view, err := dest.IxFun.Slice(basic.Slice)
	if err != nil {
		return nil, ferrors.Wrap(passName, ferrors.ShapeErr, err, "updating %s", basic.Arr)
	}
	if basic.Value.IsConst() {
		return nil, ferrors.Internal(passName, nil, "ranged OpUpdate with a constant value operand")
	}
	valSrc, ok := g.dec[basic.Value.Var]
	if !ok || valSrc.Kind != explicitmem.DecValue {
		return nil, ferrors.Internal(passName, nil, "OpUpdate value %s has no array decoration", basic.Value.Var)
	}
	code = append(code, g.emitArrayCopy(dest.Mem, view, valSrc.Mem, valSrc.IxFun, sliceShape(basic.Slice), dest.Type.Array.Elem)...)
	return code, nil
}

// genArrayLit lowers a literal [e0, e1, ...] by writing each element to
// its position in the (always rank-1, per the source language's literal
// syntax) destination array.
func (g *genFun) genArrayLit(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	dest, ok := firstArrayDec(pat)
	if !ok {
		return nil, ferrors.Internal(passName, nil, "OpArrayLit result has no array decoration")
	}
	var code []Code
	for i, e := range basic.Elems {
		offE, err := dest.IxFun.Index([]*ixfun.Expr{ixfun.ConstE(int64(i))})
		if err != nil {
			return nil, ferrors.Wrap(passName, ferrors.ShapeErr, err, "building array literal")
		}
		off, offCode := g.lowerExpr(offE)
		code = append(code, offCode...)
		code = append(code, g.emitWrite(dest.Mem, off, e, basic.ElemType)...)
	}
	return code, nil
}

// genReplicate lowers `replicate shape v` by filling every position of the
// destination with the same scalar value, via a nested loop one dimension
// per axis of shape.
func (g *genFun) genReplicate(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	dest, ok := firstArrayDec(pat)
	if !ok {
		return nil, ferrors.Internal(passName, nil, "OpReplicate result has no array decoration")
	}
	return g.fillLoopNest(dest.Mem, dest.IxFun, dest.Type.Array.Shape, dest.Type.Array.Elem, basic.Repl, nil), nil
}

// fillLoopNest writes val to every position of an array described by
// (mem, ix, shape), one nested For loop per remaining dimension.
func (g *genFun) fillLoopNest(mem ir.Name, ix *ixfun.IxFun, shape []ir.DimSize, elem ir.PrimType, val ir.SubExp, idxNames []ir.Name) []Code {
	if len(idxNames) == len(shape) {
		idxExprs := make([]*ixfun.Expr, len(idxNames))
		for i, n := range idxNames {
			idxExprs[i] = ixfun.VarE(n)
		}
		offE, err := ix.Index(idxExprs)
		if err != nil {
			return nil
		}
		off, code := g.lowerExpr(offE)
		return append(code, g.emitWrite(mem, off, val, elem)...)
	}
	i := len(idxNames)
	loopVar := g.names.Fresh("fi")
	body := g.fillLoopNest(mem, ix, shape, elem, val, append(append([]ir.Name{}, idxNames...), loopVar))
	return []Code{{Kind: SFor, Index: loopVar, Bound: dimSubExp(shape[i]), Body: body}}
}

// genIota lowers `iota n start stride` with a single loop writing
// start + i*stride at each position.
func (g *genFun) genIota(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	dest, ok := firstArrayDec(pat)
	if !ok {
		return nil, ferrors.Internal(passName, nil, "OpIota result has no array decoration")
	}
	idx := g.names.Fresh("iota_i")
	step := g.names.Fresh("iota_v")
	body := []Code{
		{Kind: SDeclareScalar, Name: step, Type: basic.IotaType},
		{Kind: SSetScalar, Target: step, Rhs: ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Mul, X: ir.Var(idx), Y: basic.Stride,
		}},
	}
	body = append(body, Code{Kind: SSetScalar, Target: step, Rhs: ir.BasicOp{
		Kind: ir.OpBinOp, BinOp: ir.Add, X: ir.Var(step), Y: basic.Start,
	}})
	offE, err := dest.IxFun.Index([]*ixfun.Expr{ixfun.VarE(idx)})
	if err != nil {
		return nil, ferrors.Wrap(passName, ferrors.ShapeErr, err, "building iota")
	}
	off, offCode := g.lowerExpr(offE)
	body = append(body, offCode...)
	body = append(body, g.emitWrite(dest.Mem, off, ir.Var(step), basic.IotaType)...)
	return []Code{{Kind: SFor, Index: idx, Bound: basic.N, Body: body}}, nil
}

// genReshape lowers a reshape to a bulk copy over the source's existing
// linear layout. A source that has lost linearity (ixfun.KindAffineReshape)
// cannot be reshaped without knowing its logical index order, which is
// exactly the case ixfun.Index itself already refuses (farc/ixfun.ixfun.go),
// so that failure is surfaced as a ShapeError here too rather than silently
// copying the wrong elements.
func (g *genFun) genReshape(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	src, ok := g.dec[basic.Arr]
	if !ok || src.Kind != explicitmem.DecValue {
		return nil, ferrors.Internal(passName, nil, "OpReshape on %s with no array decoration", basic.Arr)
	}
	if src.IxFun.Kind != ixfun.KindLMAD {
		return nil, ferrors.Shape(passName, "", "cannot reshape %s: its index function has lost linearity", basic.Arr)
	}
	dest, ok := firstArrayDec(pat)
	if !ok {
		return nil, ferrors.Internal(passName, nil, "OpReshape result has no array decoration")
	}
	if _, ok := src.IxFun.LinearWithOffset(1); !ok {
		return nil, ferrors.Shape(passName, "", "cannot reshape %s: not contiguous", basic.Arr)
	}
	return g.emitArrayCopy(dest.Mem, dest.IxFun, src.Mem, src.IxFun, dest.Type.Array.Shape, dest.Type.Array.Elem), nil
}

// genRearrange lowers a permute to a copy through a permuted view of the
// source's index function (ixfun.Permute reorders axes symbolically; no
// new IxFun needs constructing by hand).
func (g *genFun) genRearrange(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	src, ok := g.dec[basic.Arr]
	if !ok || src.Kind != explicitmem.DecValue {
		return nil, ferrors.Internal(passName, nil, "OpRearrange on %s with no array decoration", basic.Arr)
	}
	view, err := src.IxFun.Permute(basic.Perm)
	if err != nil {
		return nil, ferrors.Wrap(passName, ferrors.ShapeErr, err, "permuting %s", basic.Arr)
	}
	dest, ok := firstArrayDec(pat)
	if !ok {
		return nil, ferrors.Internal(passName, nil, "OpRearrange result has no array decoration")
	}
	return g.emitArrayCopy(dest.Mem, dest.IxFun, src.Mem, view, dest.Type.Array.Shape, dest.Type.Array.Elem), nil
}

// genConcat lowers concatenation along the outer dimension only: each
// input is copied whole into the destination at a running element offset.
// A non-outer concat dimension would need an interleaved per-row copy this
// fallback does not implement, so it is reported rather than mishandled.
func (g *genFun) genConcat(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	if basic.ConcatDim != 0 {
		return nil, ferrors.Shape(passName, "", "ImpGen only lowers concatenation along the outer dimension")
	}
	dest, ok := firstArrayDec(pat)
	if !ok {
		return nil, ferrors.Internal(passName, nil, "OpConcat result has no array decoration")
	}
	var code []Code
	cumOff := ixfun.ConstE(0)
	for _, arrName := range basic.ConcatArrs {
		src, ok := g.dec[arrName]
		if !ok || src.Kind != explicitmem.DecValue {
			return nil, ferrors.Internal(passName, nil, "concat operand %s has no array decoration", arrName)
		}
		destView := dest.IxFun.OffsetIndex(cumOff)
		code = append(code, g.emitArrayCopy(dest.Mem, destView, src.Mem, src.IxFun, src.Type.Array.Shape, dest.Type.Array.Elem)...)
		cumOff = ixfun.AddE(cumOff, elemCountExpr(src.Type.Array.Shape))
	}
	return code, nil
}

// genCopy lowers an explicit `copy arr` to a plain full-array copy into
// the destination's own block.
func (g *genFun) genCopy(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	src, ok := g.dec[basic.Arr]
	if !ok || src.Kind != explicitmem.DecValue {
		return nil, ferrors.Internal(passName, nil, "OpCopy on %s with no array decoration", basic.Arr)
	}
	dest, ok := firstArrayDec(pat)
	if !ok {
		return nil, ferrors.Internal(passName, nil, "OpCopy result has no array decoration")
	}
	return g.emitArrayCopy(dest.Mem, dest.IxFun, src.Mem, src.IxFun, dest.Type.Array.Shape, dest.Type.Array.Elem), nil
}

// genPartition lowers `partition classes flags arrs` in two passes over
// flags: the first counts each class's population, prefix sums turn the
// counts into per-class write offsets, and the second writes every element
// of each input to its class's next free slot, advancing that class's
// cursor as it goes. Per-class sizes are bound to the pattern's context
// elements when present, the same way genSeqFilter surfaces its surviving
// count.
func (g *genFun) genPartition(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	flagsDec, ok := g.dec[basic.Flags]
	if !ok || flagsDec.Kind != explicitmem.DecValue || !flagsDec.Type.IsArray() {
		return nil, ferrors.Internal(passName, nil, "OpPartition flags %s has no array decoration", basic.Flags)
	}
	flagType := flagsDec.Type.Array.Elem
	n := dimSubExp(flagsDec.Type.Array.Shape[0])
	classConst := func(c int) ir.SubExp {
		return ir.Const(ir.IntConst(flagType.Width, int64(c)))
	}

	var out []Code
	sizes := make([]ir.Name, basic.Classes)
	for c := range sizes {
		sizes[c] = g.names.Fresh("part_n")
		out = append(out,
			Code{Kind: SDeclareScalar, Name: sizes[c], Type: ir.I64},
			Code{Kind: SSetScalar, Target: sizes[c], Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: ir.Const(ir.IntConst(ir.W64, 0))}},
		)
	}

	countIdx := g.names.Fresh("part_i")
	flagElem, countBody, err := g.readInputElem(basic.Flags, ixfun.VarE(countIdx))
	if err != nil {
		return nil, err
	}
	for c := range sizes {
		cmp := g.names.Fresh("part_is")
		countBody = append(countBody,
			Code{Kind: SDeclareScalar, Name: cmp, Type: ir.Bool},
			Code{Kind: SSetScalar, Target: cmp, Rhs: ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Eq, X: ir.Var(flagElem), Y: classConst(c)}},
			Code{Kind: SIf, IfCond: ir.Var(cmp), True: []Code{
				{Kind: SSetScalar, Target: sizes[c], Rhs: ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Add, X: ir.Var(sizes[c]), Y: ir.Const(ir.IntConst(ir.W64, 1))}},
			}},
		)
	}
	out = append(out, Code{Kind: SFor, Index: countIdx, Bound: n, Body: countBody})

	// Prefix offsets double as the second pass's running write cursors.
	offs := make([]ir.Name, basic.Classes)
	for c := range offs {
		offs[c] = g.names.Fresh("part_off")
		out = append(out, Code{Kind: SDeclareScalar, Name: offs[c], Type: ir.I64})
		if c == 0 {
			out = append(out, Code{Kind: SSetScalar, Target: offs[c], Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: ir.Const(ir.IntConst(ir.W64, 0))}})
		} else {
			out = append(out, Code{Kind: SSetScalar, Target: offs[c], Rhs: ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Add, X: ir.Var(offs[c-1]), Y: ir.Var(sizes[c-1])}})
		}
	}

	writeIdx := g.names.Fresh("part_j")
	flagElem2, writeBody, err := g.readInputElem(basic.Flags, ixfun.VarE(writeIdx))
	if err != nil {
		return nil, err
	}
	elems := make([]ir.SubExp, len(basic.PartArrs))
	for k, arr := range basic.PartArrs {
		e, code, err := g.readInputElem(arr, ixfun.VarE(writeIdx))
		if err != nil {
			return nil, err
		}
		writeBody = append(writeBody, code...)
		elems[k] = ir.Var(e)
	}
	for c := range offs {
		var thenCode []Code
		for k, el := range pat.Elems {
			if k >= len(elems) {
				break
			}
			wc, err := g.writeOutputElem(el.Name, ixfun.VarE(offs[c]), elems[k])
			if err != nil {
				return nil, err
			}
			thenCode = append(thenCode, wc...)
		}
		thenCode = append(thenCode, Code{Kind: SSetScalar, Target: offs[c], Rhs: ir.BasicOp{
			Kind: ir.OpBinOp, BinOp: ir.Add, X: ir.Var(offs[c]), Y: ir.Const(ir.IntConst(ir.W64, 1)),
		}})
		cmp := g.names.Fresh("part_is")
		writeBody = append(writeBody,
			Code{Kind: SDeclareScalar, Name: cmp, Type: ir.Bool},
			Code{Kind: SSetScalar, Target: cmp, Rhs: ir.BasicOp{Kind: ir.OpBinOp, BinOp: ir.Eq, X: ir.Var(flagElem2), Y: classConst(c)}},
			Code{Kind: SIf, IfCond: ir.Var(cmp), True: thenCode},
		)
	}
	out = append(out, Code{Kind: SFor, Index: writeIdx, Bound: n, Body: writeBody})

	for c, el := range pat.Context {
		if c >= len(sizes) {
			break
		}
		out = append(out,
			Code{Kind: SDeclareScalar, Name: el.Name, Type: ir.I64},
			Code{Kind: SSetScalar, Target: el.Name, Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: ir.Var(sizes[c])}},
		)
	}
	return out, nil
}

// genAlloc lowers the explicit Alloc statement farc/explicitmem.freshAlloc
// already pre-computed the size for: declare the block and allocate it,
// dispatching through the operations table for non-default spaces.
func (g *genFun) genAlloc(pat ir.Pattern[explicitmem.MemDec], basic ir.BasicOp) ([]Code, error) {
	if len(pat.Elems) == 0 {
		return nil, ferrors.Internal(passName, nil, "OpAlloc with an empty pattern")
	}
	return g.emitAllocate(pat.Elems[0].Name, basic.AllocSize, basic.AllocSpace), nil
}
