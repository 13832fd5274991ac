package kernels

import (
	"farc/config"
	"farc/ferrors"
	"farc/ir"
	"farc/namesrc"
	"farc/soacs"
)

const passName = "kernels.extract"

// extractor holds the state threaded through a single ExtractProgram run:
// the shared name source (so kernel extraction and blocked reduction never
// collide on names) and the pass configuration.
type extractor struct {
	cfg   *config.Config
	names *namesrc.Source
}

// ExtractProgram lowers every function of a SOACS program into the Kernels
// IR.
func ExtractProgram(cfg *config.Config, names *namesrc.Source, prog soacs.Program) (Program, error) {
	ex := &extractor{cfg: cfg, names: names}
	out := Program{}
	for _, fn := range prog.Funs {
		kf, err := ex.extractFun(fn)
		if err != nil {
			return Program{}, err
		}
		out.Funs = append(out.Funs, kf)
	}
	return out, nil
}

func (ex *extractor) extractFun(fn soacs.FunDef) (FunDef, error) {
	body, err := ex.walkBody(fn.Body)
	if err != nil {
		return FunDef{}, err
	}
	params := make([]ir.Param[Dec], len(fn.Params))
	for i, p := range fn.Params {
		params[i] = ir.Param[Dec]{Name: p.Name, Dec: p.Dec}
	}
	return FunDef{Name: fn.Name, Params: params, ReturnType: fn.ReturnType, Body: body}, nil
}

// walkBody distributes every statement of a SOACS body, preserving
// emission order.
func (ex *extractor) walkBody(body soacs.Body) (Body, error) {
	var out []Stm
	for _, stm := range body.Stms {
		converted, err := ex.walkStm(stm)
		if err != nil {
			return Body{}, err
		}
		out = append(out, converted...)
	}
	return Body{Stms: out, Result: body.Result}, nil
}

func (ex *extractor) walkStm(stm soacs.Stm) ([]Stm, error) {
	switch stm.Exp.Kind {
	case ir.EOp:
		if stm.Exp.Op == nil {
			return ex.fallback(stm)
		}
		op := *stm.Exp.Op
		switch op.Kind {
		case soacs.KMap:
			return ex.distributeMap(stm, op)
		case soacs.KReduce, soacs.KRedomap:
			return ex.lowerReduceStm(stm, op)
		case soacs.KStream:
			return ex.unfoldStream(stm, op)
		default:
			// KScan, KFilter: not distributed by this core; kept as a
			// further target.
			return ex.fallback(stm)
		}
	case ir.EDoLoop:
		return ex.walkDoLoop(stm)
	default:
		return ex.convertSimple(stm)
	}
}

// distributeMap implements the core of step 1: a balanced
// map's lambda becomes a kernel body, with any further balanced nested map
// inside it recursively distributed — producing a kernel-nest of Kernel
// ops, one nested inside another's body, rather than always folding every
// level into one maximally-flat combined-index kernel. Correctness, not
// optimal coalescing of the thread-index space, is preserved regardless
// of nest depth.
func (ex *extractor) distributeMap(stm soacs.Stm, op soacs.SOAC) ([]Stm, error) {
	if op.Lambda == nil {
		return ex.fallback(stm)
	}
	if !IsBalanced(op.Lambda) {
		// Sequentialise: keep as an undistributed SOAC for the sequential
		// CPU path / a later pass to first-order-transform explicitly.
		return ex.fallback(stm)
	}

	if out, ok, err := ex.interchangeMapLoop(stm, op); ok || err != nil {
		return out, err
	}

	innerBody, err := ex.walkBody(op.Lambda.Body)
	if err != nil {
		return nil, err
	}

	tid := ir.Param[Dec]{Name: ex.names.Fresh("tid"), Dec: ir.PrimT(ir.I64)}
	var inputs []KernelInput
	for i, p := range op.Lambda.Params {
		inputs = append(inputs, KernelInput{
			Param: ir.Param[Dec]{Name: p.Name, Dec: p.Dec},
			Array: op.Inputs[i],
		})
	}

	k := &Kernel{
		ThreadIndex: tid,
		NumThreads:  op.Width,
		Inputs:      inputs,
		Body:        innerBody,
		ReturnType:  op.Lambda.ReturnType,
	}
	kop := KernelOp{Kind: OKernel, Kernel: k}
	return []Stm{{Pattern: stm.Pattern, Aux: stm.Aux, Exp: ir.OpExp[Dec, KernelOp](kop)}}, nil
}

// fallback emits the offending binding verbatim (converted 1:1 to the
// Kernels level, keeping any SOAC as OSOAC), marking distribution closed
// for this statement — documented failure path. A checkpoint taken on
// entry is restored only if the conversion fails, dropping names that
// conversion allocated; names allocated before fallback is called are
// kept.
func (ex *extractor) fallback(stm soacs.Stm) ([]Stm, error) {
	cp := ex.names.Save()
	conv, err := ex.convertExp(stm.Exp)
	if err != nil {
		ex.names.Restore(cp)
		return nil, err
	}
	return []Stm{{Pattern: stm.Pattern, Aux: stm.Aux, Exp: conv}}, nil
}

func (ex *extractor) convertSimple(stm soacs.Stm) ([]Stm, error) {
	conv, err := ex.convertExp(stm.Exp)
	if err != nil {
		return nil, err
	}
	return []Stm{{Pattern: stm.Pattern, Aux: stm.Aux, Exp: conv}}, nil
}

// convertExp re-types a SOACS-level expression's non-SOAC-specific shape
// (BasicOp/Apply/If/DoLoop) onto the Kernels level, recursing into nested
// bodies via walkBody so any maps they themselves contain still get a
// chance at distribution.
func (ex *extractor) convertExp(e soacs.Exp) (Exp, error) {
	switch e.Kind {
	case ir.EBasicOp:
		return ir.BasicExp[Dec, KernelOp](e.Basic), nil
	case ir.EApply:
		return ir.Exp[Dec, KernelOp]{Kind: ir.EApply, FuncName: e.FuncName, Args: e.Args}, nil
	case ir.EIf:
		t, err := ex.walkBody(*e.True)
		if err != nil {
			return Exp{}, err
		}
		f, err := ex.walkBody(*e.False)
		if err != nil {
			return Exp{}, err
		}
		return Exp{Kind: ir.EIf, Cond: e.Cond, True: &t, False: &f, IfSort: ir.IfSort(e.IfSort)}, nil
	case ir.EDoLoop:
		lb, err := ex.walkBody(*e.LoopBody)
		if err != nil {
			return Exp{}, err
		}
		params := make([]ir.Param[Dec], len(e.MergeParams))
		copy(params, e.MergeParams)
		return Exp{
			Kind: ir.EDoLoop, MergeParams: params, MergeInit: e.MergeInit,
			Form:     ir.LoopForm[Dec]{IsWhile: e.Form.IsWhile, Index: e.Form.Index, Bound: e.Form.Bound, Cond: e.Form.Cond},
			LoopBody: &lb,
		}, nil
	case ir.EOp:
		if e.Op == nil {
			return Exp{}, ferrors.Internal(passName, nil, "EOp with nil Op payload")
		}
		return ir.OpExp[Dec, KernelOp](FromSOAC(*e.Op)), nil
	}
	return Exp{}, ferrors.Internal(passName, nil, "unhandled expression kind %d", e.Kind)
}

// walkDoLoop handles a loop met outside any map nest: the loop itself
// stays sequential (there is no enclosing parallel level to pull through
// it — that case is interchangeMapLoop's), and its body is recursively
// distributed so any map nested inside it still becomes its own kernel.
func (ex *extractor) walkDoLoop(stm soacs.Stm) ([]Stm, error) {
	return ex.convertSimple(stm)
}

// interchangeMapLoop implements loop interchange: a map whose lambda is
// exactly one sequential For loop over scalar accumulators is turned
// inside out — the loop moves to the outer level carrying one accumulator
// array per merge parameter, and the loop's body becomes a fresh map over
// those arrays, which the normal distribution path then turns into a
// kernel per iteration. Preconditions, each falling back to the
// kernel-with-internal-loop shape when unmet:
//   - the lambda body is a single non-while DoLoop whose results are the
//     lambda's results, in order;
//   - the loop bound does not depend on a lambda-bound name (the balance
//     predicate has already rejected that shape anyway);
//   - every merge parameter is scalar, so the loop-variant data's shape
//     ([width] per accumulator) is invariant to the map being pulled
//     through;
//   - every merge init is a lambda parameter (seeded from the matching
//     input array), a constant, or an outer name (seeded by replicate).
func (ex *extractor) interchangeMapLoop(stm soacs.Stm, op soacs.SOAC) ([]Stm, bool, error) {
	l := op.Lambda
	if len(l.Body.Stms) != 1 {
		return nil, false, nil
	}
	ls := l.Body.Stms[0]
	if ls.Exp.Kind != ir.EDoLoop || ls.Exp.Form.IsWhile {
		return nil, false, nil
	}
	loop := ls.Exp

	paramIdx := map[ir.Name]int{}
	for i, p := range l.Params {
		paramIdx[p.Name] = i
	}
	if !loop.Form.Bound.IsConst() {
		if _, isParam := paramIdx[loop.Form.Bound.Var]; isParam {
			return nil, false, nil
		}
	}
	if len(l.Body.Result) != len(ls.Pattern.Elems) || len(stm.Pattern.Elems) != len(loop.MergeParams) {
		return nil, false, nil
	}
	for i, r := range l.Body.Result {
		if r.IsConst() || !r.Var.Equal(ls.Pattern.Elems[i].Name) {
			return nil, false, nil
		}
	}
	for _, mp := range loop.MergeParams {
		if mp.Dec.Kind != ir.TPrim {
			return nil, false, nil
		}
	}
	if len(op.Inputs) != len(l.Params) {
		return nil, false, nil
	}

	wDim := dimFromSubExp(op.Width)

	// One accumulator array per merge parameter, seeded from the matching
	// input (per-element init) or by replicating an invariant init.
	var pre []soacs.Stm
	mergeArrs := make([]ir.Param[soacs.Dec], len(loop.MergeParams))
	mergeInits := make([]ir.SubExp, len(loop.MergeParams))
	for i, mp := range loop.MergeParams {
		arrT := ir.ArrayT(mp.Dec.Prim, []ir.DimSize{wDim}, ir.Nonunique)
		init := loop.MergeInit[i]
		var seed ir.BasicOp
		if !init.IsConst() {
			if j, isParam := paramIdx[init.Var]; isParam {
				seed = ir.BasicOp{Kind: ir.OpCopy, Arr: op.Inputs[j]}
			} else {
				seed = ir.BasicOp{Kind: ir.OpReplicate, Shape: []ir.SubExp{op.Width}, Repl: init}
			}
		} else {
			seed = ir.BasicOp{Kind: ir.OpReplicate, Shape: []ir.SubExp{op.Width}, Repl: init}
		}
		seedName := ex.names.Fresh(mp.Name.Tag + "_init")
		pre = append(pre, soacs.Stm{
			Pattern: ir.Singleton(seedName, arrT),
			Exp:     ir.BasicExp[soacs.Dec, soacs.SOAC](seed),
		})
		mergeArrs[i] = ir.Param[soacs.Dec]{Name: ex.names.Fresh(mp.Name.Tag + "s"), Dec: arrT}
		mergeInits[i] = ir.Var(seedName)
	}

	// The loop's body becomes the new inner lambda, its parameters the
	// original lambda's plus the scalar accumulators, fed per-element from
	// the original inputs plus the carried accumulator arrays.
	innerParams := append(append([]ir.Param[soacs.Dec]{}, l.Params...), loop.MergeParams...)
	innerInputs := append([]ir.Name{}, op.Inputs...)
	for _, ma := range mergeArrs {
		innerInputs = append(innerInputs, ma.Name)
	}
	retTypes := make([]ir.Type, len(loop.MergeParams))
	for i, mp := range loop.MergeParams {
		retTypes[i] = mp.Dec
	}
	innerLambda := &ir.Lambda[soacs.Dec, soacs.SOAC]{
		Params:     innerParams,
		Body:       *loop.LoopBody,
		ReturnType: retTypes,
	}
	innerMap := soacs.SOAC{Kind: soacs.KMap, Width: op.Width, Inputs: innerInputs, Lambda: innerLambda}

	mapElems := make([]ir.PatElem[soacs.Dec], len(loop.MergeParams))
	loopResults := make([]ir.SubExp, len(loop.MergeParams))
	for i := range loop.MergeParams {
		n := ex.names.Fresh(loop.MergeParams[i].Name.Tag + "_step")
		mapElems[i] = ir.PatElem[soacs.Dec]{Name: n, Dec: mergeArrs[i].Dec}
		loopResults[i] = ir.Var(n)
	}
	loopBody := soacs.Body{
		Stms: []soacs.Stm{{
			Pattern: ir.Pattern[soacs.Dec]{Elems: mapElems},
			Exp:     ir.OpExp[soacs.Dec, soacs.SOAC](innerMap),
		}},
		Result: loopResults,
	}
	loopStm := soacs.Stm{
		Pattern: stm.Pattern,
		Aux:     stm.Aux,
		Exp: soacs.Exp{
			Kind:        ir.EDoLoop,
			MergeParams: mergeArrs,
			MergeInit:   mergeInits,
			Form:        loop.Form,
			LoopBody:    &loopBody,
		},
	}

	// Re-walk the rebuilt statements so the inner map distributes into a
	// kernel launched once per loop iteration.
	var out []Stm
	for _, s := range append(pre, loopStm) {
		ks, err := ex.walkStm(s)
		if err != nil {
			return nil, false, err
		}
		out = append(out, ks...)
	}
	return out, true, nil
}

func dimFromSubExp(s ir.SubExp) ir.DimSize {
	if s.IsConst() {
		return ir.ConstDim(s.Const.IntVal)
	}
	return ir.VarDim(s.Var)
}

// unfoldStream implements step 4: a sequential Stream with
// scalar accumulators is unfolded into a DoLoop iterating once per
// element of the full array width, after which the (now plain) sequence
// of bindings is re-walked so any maps it exposes can still distribute.
func (ex *extractor) unfoldStream(stm soacs.Stm, op soacs.SOAC) ([]Stm, error) {
	if op.Lambda == nil || len(op.Inputs) == 0 {
		return ex.fallback(stm)
	}
	idxName := ex.names.Fresh("stream_i")
	idxParam := ir.Param[Dec]{Name: idxName, Dec: ir.PrimT(ir.I64)}

	// The chunk lambda's parameters are (accumulators..., chunk elements...);
	// with a per-element unfold each chunk has width 1, so the element
	// parameters become direct Index reads of the input arrays at idxName.
	nAcc := len(op.Lambda.Params) - len(op.Inputs)
	if nAcc < 0 {
		return ex.fallback(stm)
	}
	var prelude []soacs.Stm
	for i, input := range op.Inputs {
		p := op.Lambda.Params[nAcc+i]
		prelude = append(prelude, soacs.Stm{
			Pattern: ir.Singleton(p.Name, p.Dec),
			Exp: ir.BasicExp[Dec, soacs.SOAC](ir.BasicOp{
				Kind: ir.OpIndex, Arr: input, Slice: []ir.DimIndex{ir.Fix(ir.Var(idxName))},
			}),
		})
	}
	unfoldedBody := soacs.Body{
		Stms:   append(prelude, op.Lambda.Body.Stms...),
		Result: op.Lambda.Body.Result,
	}

	mergeParams := make([]ir.Param[Dec], nAcc)
	copy(mergeParams, op.Lambda.Params[:nAcc])

	loopBody, err := ex.walkBody(unfoldedBody)
	if err != nil {
		return nil, err
	}
	loopExp := Exp{
		Kind:        ir.EDoLoop,
		MergeParams: mergeParams,
		MergeInit:   op.Neutral,
		Form:        ir.LoopForm[Dec]{Index: idxParam, Bound: op.Width},
		LoopBody:    &loopBody,
	}
	return []Stm{{Pattern: stm.Pattern, Aux: stm.Aux, Exp: loopExp}}, nil
}
