package impgen

import (
	"farc/explicitmem"
	"farc/ferrors"
	"farc/ir"
	"farc/ixfun"
	"farc/soacs"
)

// genUndistributedSOAC sequentialises a SOAC that kernel extraction
// declined to distribute — farc/kernels.extract's own documented fallback
// is to keep an unbalanced lambda around as an OSOAC op rather than drop
// it (see farc/kernels.FromSOAC). ImpGen is the last stage that can still
// give it meaning: a single host-side For loop running the combinator's
// lambda once per element, correct for any SOAC, just without the
// parallelism a Kernel extraction would have given it.
//
// Scope: operands are assumed rank-1 (flat arrays, read/written by a
// single loop index) and every lambda a straight-line sequence of scalar
// BasicOps — true of every reduce/map/filter lambda farc/soacs.Simplify
// produces. A lambda that branches or loops internally, or an operand of
// higher rank, is a shape this fallback was not meant to receive and
// surfaces as a DistributionError rather than being silently mis-lowered.
func (g *genFun) genUndistributedSOAC(pat ir.Pattern[explicitmem.MemDec], soac soacs.SOAC) ([]Code, error) {
	switch soac.Kind {
	case soacs.KMap:
		return g.genSeqMap(pat, soac)
	case soacs.KReduce, soacs.KStream:
		return g.genSeqReduce(pat, soac)
	case soacs.KScan:
		return g.genSeqScan(pat, soac)
	case soacs.KRedomap:
		return g.genSeqRedomap(pat, soac)
	case soacs.KFilter:
		return g.genSeqFilter(pat, soac)
	}
	return nil, ferrors.Distribution(passName, "", "unhandled SOAC kind %d in sequential fallback", soac.Kind)
}

// inlineScalarLambda substitutes l's formal parameters with args throughout
// its body and emits one Code pair (SDeclareScalar, SSetScalar) per
// statement, returning the body's result SubExps with the same
// substitution applied. Every statement must be a plain scalar BasicOp;
// anything else is the "not a straight-line scalar lambda" case this
// fallback declines to handle.
func (g *genFun) inlineScalarLambda(l *ir.Lambda[ir.Type, soacs.SOAC], args []ir.SubExp) ([]Code, []ir.SubExp, error) {
	subst := map[ir.Name]ir.SubExp{}
	for i, p := range l.Params {
		if i < len(args) {
			subst[p.Name] = args[i]
		}
	}
	var code []Code
	for _, stm := range l.Body.Stms {
		if stm.Exp.Kind != ir.EBasicOp {
			return nil, nil, ferrors.Distribution(passName, "", "sequential SOAC fallback only handles straight-line scalar lambdas")
		}
		basic := substBasicOp(stm.Exp.Basic, subst)
		for _, el := range stm.Pattern.Elems {
			code = append(code, Code{Kind: SDeclareScalar, Name: el.Name, Type: elemPrimType(el.Dec)})
			code = append(code, Code{Kind: SSetScalar, Target: el.Name, Rhs: basic})
			subst[el.Name] = ir.Var(el.Name)
		}
	}
	results := make([]ir.SubExp, len(l.Body.Result))
	for i, r := range l.Body.Result {
		results[i] = substSubExp(r, subst)
	}
	return code, results, nil
}

func substSubExp(s ir.SubExp, subst map[ir.Name]ir.SubExp) ir.SubExp {
	if s.IsConst() {
		return s
	}
	if v, ok := subst[s.Var]; ok {
		return v
	}
	return s
}

func substBasicOp(b ir.BasicOp, subst map[ir.Name]ir.SubExp) ir.BasicOp {
	b.SubExp = substSubExp(b.SubExp, subst)
	b.X = substSubExp(b.X, subst)
	b.Y = substSubExp(b.Y, subst)
	b.Value = substSubExp(b.Value, subst)
	return b
}

// readInputElem emits the code reading arr[idx] for a rank-1 array arr
// already carrying a MemDec, returning the fresh scalar name it was read
// into.
func (g *genFun) readInputElem(arr ir.Name, idxE *ixfun.Expr) (ir.Name, []Code, error) {
	d, ok := g.dec[arr]
	if !ok || d.Kind != explicitmem.DecValue || !d.Type.IsArray() {
		return ir.Name{}, nil, ferrors.Internal(passName, nil, "sequential SOAC: %s is not a decorated array", arr)
	}
	offE, err := d.IxFun.Index([]*ixfun.Expr{idxE})
	if err != nil {
		return ir.Name{}, nil, ferrors.Wrap(passName, ferrors.DistributionErr, err, "sequential SOAC indexing %s", arr)
	}
	off, code := g.lowerExpr(offE)
	tmp := g.names.Fresh(arr.Tag + "_elem")
	code = append(code, g.emitIndex(tmp, d.Mem, off, d.Type.Array.Elem)...)
	return tmp, code, nil
}

// writeOutputElem emits the code writing val to arr[idx] for a rank-1
// array arr already carrying a MemDec.
func (g *genFun) writeOutputElem(arr ir.Name, idxE *ixfun.Expr, val ir.SubExp) ([]Code, error) {
	d, ok := g.dec[arr]
	if !ok || d.Kind != explicitmem.DecValue || !d.Type.IsArray() {
		return nil, ferrors.Internal(passName, nil, "sequential SOAC: %s is not a decorated array", arr)
	}
	offE, err := d.IxFun.Index([]*ixfun.Expr{idxE})
	if err != nil {
		return nil, ferrors.Wrap(passName, ferrors.DistributionErr, err, "sequential SOAC indexing %s", arr)
	}
	off, code := g.lowerExpr(offE)
	code = append(code, g.emitWrite(d.Mem, off, val, d.Type.Array.Elem)...)
	return code, nil
}

// genSeqMap lowers Map to: for i in [0, Width) { read each input[i];
// run the lambda; write each output[i] }.
func (g *genFun) genSeqMap(pat ir.Pattern[explicitmem.MemDec], soac soacs.SOAC) ([]Code, error) {
	idx := g.names.Fresh("map_i")
	idxE := ixfun.VarE(idx)

	var body []Code
	args := make([]ir.SubExp, len(soac.Inputs))
	for k, in := range soac.Inputs {
		elem, code, err := g.readInputElem(in, idxE)
		if err != nil {
			return nil, err
		}
		body = append(body, code...)
		args[k] = ir.Var(elem)
	}

	lamCode, results, err := g.inlineScalarLambda(soac.Lambda, args)
	if err != nil {
		return nil, err
	}
	body = append(body, lamCode...)

	for j, el := range pat.Elems {
		if j >= len(results) {
			break
		}
		wc, err := g.writeOutputElem(el.Name, idxE, results[j])
		if err != nil {
			return nil, err
		}
		body = append(body, wc...)
	}

	return []Code{{Kind: SFor, Index: idx, Bound: soac.Width, Body: body}}, nil
}

// genSeqReduce lowers Reduce (and, as a simplification, Stream — treated
// as an ordinary fold over its input rather than modelling chunking) to an
// accumulator initialised from Neutral, folded across Width with
// FoldLambda.
func (g *genFun) genSeqReduce(pat ir.Pattern[explicitmem.MemDec], soac soacs.SOAC) ([]Code, error) {
	var pre []Code
	accNames := make([]ir.Name, len(soac.Neutral))
	for i, n := range soac.Neutral {
		accNames[i] = g.names.Fresh("acc")
		pre = append(pre,
			Code{Kind: SDeclareScalar, Name: accNames[i], Type: g.typeOfSubExp(n)},
			Code{Kind: SSetScalar, Target: accNames[i], Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: n}},
		)
	}

	idx := g.names.Fresh("red_i")
	idxE := ixfun.VarE(idx)
	var body []Code
	foldArgs := make([]ir.SubExp, 0, len(accNames)+len(soac.Inputs))
	for _, a := range accNames {
		foldArgs = append(foldArgs, ir.Var(a))
	}
	for _, in := range soac.Inputs {
		elem, code, err := g.readInputElem(in, idxE)
		if err != nil {
			return nil, err
		}
		body = append(body, code...)
		foldArgs = append(foldArgs, ir.Var(elem))
	}
	lamCode, results, err := g.inlineScalarLambda(soac.FoldLambda, foldArgs)
	if err != nil {
		return nil, err
	}
	body = append(body, lamCode...)
	for i, acc := range accNames {
		if i >= len(results) {
			break
		}
		body = append(body, Code{Kind: SSetScalar, Target: acc, Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: results[i]}})
	}

	out := append(pre, Code{Kind: SFor, Index: idx, Bound: soac.Width, Body: body})
	accResults := make([]ir.SubExp, len(accNames))
	for i, a := range accNames {
		accResults[i] = ir.Var(a)
	}
	out = append(out, g.bindResults(pat, accResults)...)
	return out, nil
}

// genSeqScan lowers Scan (inclusive unless ScanExclusive) to the same
// running accumulator as genSeqReduce, additionally writing the
// accumulator (pre- or post-update) to the matching output array at each
// step.
func (g *genFun) genSeqScan(pat ir.Pattern[explicitmem.MemDec], soac soacs.SOAC) ([]Code, error) {
	var pre []Code
	accNames := make([]ir.Name, len(soac.Neutral))
	for i, n := range soac.Neutral {
		accNames[i] = g.names.Fresh("sacc")
		pre = append(pre,
			Code{Kind: SDeclareScalar, Name: accNames[i], Type: g.typeOfSubExp(n)},
			Code{Kind: SSetScalar, Target: accNames[i], Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: n}},
		)
	}

	idx := g.names.Fresh("scan_i")
	idxE := ixfun.VarE(idx)
	var body []Code

	if soac.ScanExclusive {
		for i, el := range pat.Elems {
			if i >= len(accNames) {
				break
			}
			wc, err := g.writeOutputElem(el.Name, idxE, ir.Var(accNames[i]))
			if err != nil {
				return nil, err
			}
			body = append(body, wc...)
		}
	}

	foldArgs := make([]ir.SubExp, 0, len(accNames)+len(soac.Inputs))
	for _, a := range accNames {
		foldArgs = append(foldArgs, ir.Var(a))
	}
	for _, in := range soac.Inputs {
		elem, code, err := g.readInputElem(in, idxE)
		if err != nil {
			return nil, err
		}
		body = append(body, code...)
		foldArgs = append(foldArgs, ir.Var(elem))
	}
	lamCode, results, err := g.inlineScalarLambda(soac.FoldLambda, foldArgs)
	if err != nil {
		return nil, err
	}
	body = append(body, lamCode...)
	for i, acc := range accNames {
		if i >= len(results) {
			break
		}
		body = append(body, Code{Kind: SSetScalar, Target: acc, Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: results[i]}})
	}

	if !soac.ScanExclusive {
		for i, el := range pat.Elems {
			if i >= len(accNames) {
				break
			}
			wc, err := g.writeOutputElem(el.Name, idxE, ir.Var(accNames[i]))
			if err != nil {
				return nil, err
			}
			body = append(body, wc...)
		}
	}

	out := append(pre, Code{Kind: SFor, Index: idx, Bound: soac.Width, Body: body})
	return out, nil
}

// genSeqRedomap lowers Redomap: per element, MapLambda runs first and its
// results feed FoldLambda alongside the running accumulator. Only the
// fold's final accumulator is bound to pat — a redomap that also exposes
// per-element map output arrays is outside this fallback's scope, the same
// "rank/shape this path wasn't meant to receive" limit genUndistributedSOAC
// documents at the top of this file.
func (g *genFun) genSeqRedomap(pat ir.Pattern[explicitmem.MemDec], soac soacs.SOAC) ([]Code, error) {
	var pre []Code
	accNames := make([]ir.Name, len(soac.Neutral))
	for i, n := range soac.Neutral {
		accNames[i] = g.names.Fresh("racc")
		pre = append(pre,
			Code{Kind: SDeclareScalar, Name: accNames[i], Type: g.typeOfSubExp(n)},
			Code{Kind: SSetScalar, Target: accNames[i], Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: n}},
		)
	}

	idx := g.names.Fresh("redomap_i")
	idxE := ixfun.VarE(idx)
	var body []Code
	mapArgs := make([]ir.SubExp, len(soac.Inputs))
	for k, in := range soac.Inputs {
		elem, code, err := g.readInputElem(in, idxE)
		if err != nil {
			return nil, err
		}
		body = append(body, code...)
		mapArgs[k] = ir.Var(elem)
	}
	mapCode, mapResults, err := g.inlineScalarLambda(soac.MapLambda, mapArgs)
	if err != nil {
		return nil, err
	}
	body = append(body, mapCode...)

	foldArgs := make([]ir.SubExp, 0, len(accNames)+len(mapResults))
	for _, a := range accNames {
		foldArgs = append(foldArgs, ir.Var(a))
	}
	foldArgs = append(foldArgs, mapResults...)
	foldCode, foldResults, err := g.inlineScalarLambda(soac.FoldLambda, foldArgs)
	if err != nil {
		return nil, err
	}
	body = append(body, foldCode...)
	for i, acc := range accNames {
		if i >= len(foldResults) {
			break
		}
		body = append(body, Code{Kind: SSetScalar, Target: acc, Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: foldResults[i]}})
	}

	out := append(pre, Code{Kind: SFor, Index: idx, Bound: soac.Width, Body: body})
	accResults := make([]ir.SubExp, len(accNames))
	for i, a := range accNames {
		accResults[i] = ir.Var(a)
	}
	out = append(out, g.bindResults(pat, accResults)...)
	return out, nil
}

// genSeqFilter lowers Filter to a loop carrying a running write cursor: an
// element surviving Lambda's predicate is written at the cursor's current
// position and the cursor advances. The surviving count is bound into the
// pattern's trailing context element, mirroring how the rest of this level
// represents a result whose shape is itself a computed value.
func (g *genFun) genSeqFilter(pat ir.Pattern[explicitmem.MemDec], soac soacs.SOAC) ([]Code, error) {
	if len(pat.Elems) == 0 {
		return nil, ferrors.Internal(passName, nil, "filter pattern has no array element")
	}
	cursor := g.names.Fresh("filter_cursor")
	pre := []Code{
		{Kind: SDeclareScalar, Name: cursor, Type: ir.I64},
		{Kind: SSetScalar, Target: cursor, Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: ir.Const(ir.IntConst(ir.W64, 0))}},
	}

	idx := g.names.Fresh("filter_i")
	idxE := ixfun.VarE(idx)
	var body []Code
	predArgs := make([]ir.SubExp, len(soac.Inputs))
	elemVals := make([]ir.SubExp, len(soac.Inputs))
	for k, in := range soac.Inputs {
		elem, code, err := g.readInputElem(in, idxE)
		if err != nil {
			return nil, err
		}
		body = append(body, code...)
		predArgs[k] = ir.Var(elem)
		elemVals[k] = ir.Var(elem)
	}
	predCode, predResults, err := g.inlineScalarLambda(soac.Lambda, predArgs)
	if err != nil {
		return nil, err
	}
	body = append(body, predCode...)
	if len(predResults) == 0 {
		return nil, ferrors.Internal(passName, nil, "filter predicate produced no result")
	}

	var thenCode []Code
	for j, el := range pat.Elems {
		if j >= len(elemVals) {
			break
		}
		wc, err := g.writeOutputElem(el.Name, ixfun.VarE(cursor), elemVals[j])
		if err != nil {
			return nil, err
		}
		thenCode = append(thenCode, wc...)
	}
	thenCode = append(thenCode, Code{Kind: SSetScalar, Target: cursor, Rhs: ir.BasicOp{
		Kind: ir.OpBinOp, BinOp: ir.Add, X: ir.Var(cursor), Y: ir.Const(ir.IntConst(ir.W64, 1)),
	}})

	body = append(body, Code{Kind: SIf, IfCond: predResults[0], True: thenCode})

	out := append(pre, Code{Kind: SFor, Index: idx, Bound: soac.Width, Body: body})
	if len(pat.Context) > 0 {
		out = append(out,
			Code{Kind: SDeclareScalar, Name: pat.Context[0].Name, Type: ir.I64},
			Code{Kind: SSetScalar, Target: pat.Context[0].Name, Rhs: ir.BasicOp{Kind: ir.OpSubExp, SubExp: ir.Var(cursor)}},
		)
	}
	return out, nil
}
